// Package memory provides in-memory implementations of the repository
// interfaces for tests and early development. The call store enforces
// the same status lifecycle as the production store and hands out
// snapshot copies so readers never observe a torn write.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/acme/autodialer/internal/domain"
	"github.com/acme/autodialer/internal/repository"
)

// CallStore is an in-memory repository.CallStore.
type CallStore struct {
	mu      sync.Mutex
	records map[uuid.UUID]*domain.CallRecord
	order   []uuid.UUID
}

// NewCallStore constructs an empty store.
func NewCallStore() *CallStore {
	return &CallStore{records: make(map[uuid.UUID]*domain.CallRecord)}
}

// CreateCall stores a copy of the record.
func (s *CallStore) CreateCall(ctx context.Context, record *domain.CallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[record.ID]; exists {
		return fmt.Errorf("memory store: call %s already exists", record.ID)
	}

	cp := cloneRecord(record)
	s.records[record.ID] = &cp
	s.order = append(s.order, record.ID)
	return nil
}

// UpdateStatus validates and applies a lifecycle transition.
func (s *CallStore) UpdateStatus(ctx context.Context, callID uuid.UUID, status domain.CallStatus, errorDetail *string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.records[callID]
	if !ok {
		return fmt.Errorf("memory store: call %s: %w", callID, repository.ErrNotFound)
	}

	if !current.Status.CanTransition(status) {
		return fmt.Errorf("%w: %s -> %s for call %s", repository.ErrInvalidTransition, current.Status, status, callID)
	}

	next := cloneRecord(current)
	next.Status = status
	if status == domain.CallStatusDialing {
		t := at
		next.StartedAt = &t
	}
	if status.IsTerminal() {
		t := at
		next.FinishedAt = &t
	}
	if errorDetail != nil {
		d := *errorDetail
		next.ErrorDetail = &d
	}

	// Swap the pointer so concurrent readers holding copies stay consistent.
	s.records[callID] = &next
	return nil
}

// GetCall returns a snapshot of the record.
func (s *CallStore) GetCall(ctx context.Context, callID uuid.UUID) (*domain.CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[callID]
	if !ok {
		return nil, fmt.Errorf("memory store: call %s: %w", callID, repository.ErrNotFound)
	}
	cp := cloneRecord(record)
	return &cp, nil
}

// ListByCampaign returns the campaign's records in seq order.
func (s *CallStore) ListByCampaign(ctx context.Context, campaignID uuid.UUID) ([]domain.CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.CallRecord, 0)
	for _, id := range s.order {
		record := s.records[id]
		if record.CampaignID != campaignID {
			continue
		}
		out = append(out, cloneRecord(record))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// ListByStatus returns records currently in the given status.
func (s *CallStore) ListByStatus(ctx context.Context, status domain.CallStatus) ([]domain.CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.CallRecord, 0)
	for _, id := range s.order {
		record := s.records[id]
		if record.Status != status {
			continue
		}
		out = append(out, cloneRecord(record))
	}
	return out, nil
}

// ListAll returns every record in creation order.
func (s *CallStore) ListAll(ctx context.Context) ([]domain.CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.CallRecord, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, cloneRecord(s.records[id]))
	}
	return out, nil
}

func cloneRecord(record *domain.CallRecord) domain.CallRecord {
	cp := *record
	if record.StartedAt != nil {
		t := *record.StartedAt
		cp.StartedAt = &t
	}
	if record.FinishedAt != nil {
		t := *record.FinishedAt
		cp.FinishedAt = &t
	}
	if record.ErrorDetail != nil {
		d := *record.ErrorDetail
		cp.ErrorDetail = &d
	}
	return cp
}

// CampaignRepository is an in-memory repository.CampaignRepository.
type CampaignRepository struct {
	mu         sync.Mutex
	campaigns  map[uuid.UUID]*domain.Campaign
	rejections map[uuid.UUID][]domain.Rejection
	order      []uuid.UUID
}

// NewCampaignRepository constructs an empty repository.
func NewCampaignRepository() *CampaignRepository {
	return &CampaignRepository{
		campaigns:  make(map[uuid.UUID]*domain.Campaign),
		rejections: make(map[uuid.UUID][]domain.Rejection),
	}
}

// Create stores a campaign and its rejections.
func (r *CampaignRepository) Create(ctx context.Context, campaign *domain.Campaign, rejected []domain.Rejection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.campaigns[campaign.ID]; exists {
		return fmt.Errorf("memory store: campaign %s already exists", campaign.ID)
	}

	cp := *campaign
	r.campaigns[campaign.ID] = &cp
	r.rejections[campaign.ID] = append([]domain.Rejection(nil), rejected...)
	r.order = append(r.order, campaign.ID)
	return nil
}

// Get fetches a campaign by id.
func (r *CampaignRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	campaign, ok := r.campaigns[id]
	if !ok {
		return nil, fmt.Errorf("memory store: campaign %s: %w", id, repository.ErrNotFound)
	}
	cp := *campaign
	return &cp, nil
}

// List returns campaigns newest first.
func (r *CampaignRepository) List(ctx context.Context, limit int) ([]*domain.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}

	out := make([]*domain.Campaign, 0, len(r.order))
	for i := len(r.order) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *r.campaigns[r.order[i]]
		out = append(out, &cp)
	}
	return out, nil
}
