package scylla

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/acme/autodialer/internal/domain"
	"github.com/acme/autodialer/internal/repository"
)

// CallStore persists call records in Scylla. Records live in
// calls_by_campaign, clustered by seq so a campaign reads back in
// submission order. calls_by_status indexes records for recovery scans
// and call_transitions keeps an append-only log of every status change.
type CallStore struct {
	session *gocql.Session
}

// NewCallStore creates a new call store.
func NewCallStore(session *gocql.Session) *CallStore {
	return &CallStore{session: session}
}

// CreateCall inserts a queued call record.
func (s *CallStore) CreateCall(ctx context.Context, record *domain.CallRecord) error {
	if err := s.session.Query(`INSERT INTO calls_by_campaign (campaign_id, seq, call_id, destination, message, status, created_at, started_at, finished_at, error_detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.CampaignID.String(), record.Seq, record.ID.String(), record.Destination, record.Message,
		string(record.Status), record.CreatedAt, record.StartedAt, record.FinishedAt, record.ErrorDetail,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("call store: insert calls_by_campaign: %w", err)
	}

	if err := s.session.Query(`INSERT INTO calls_by_status (status, campaign_id, call_id, seq, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		string(record.Status), record.CampaignID.String(), record.ID.String(), record.Seq, record.CreatedAt,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("call store: insert calls_by_status: %w", err)
	}

	if err := s.appendTransition(ctx, record.ID, "", record.Status, record.CreatedAt, nil); err != nil {
		return err
	}

	return nil
}

// UpdateStatus applies a validated status transition to a record.
func (s *CallStore) UpdateStatus(ctx context.Context, callID uuid.UUID, status domain.CallStatus, errorDetail *string, at time.Time) error {
	current, err := s.GetCall(ctx, callID)
	if err != nil {
		return err
	}

	if !current.Status.CanTransition(status) {
		return fmt.Errorf("%w: %s -> %s for call %s", repository.ErrInvalidTransition, current.Status, status, callID)
	}

	startedAt := current.StartedAt
	finishedAt := current.FinishedAt
	if status == domain.CallStatusDialing {
		startedAt = &at
	}
	if status.IsTerminal() {
		finishedAt = &at
	}

	// Single-row write: status, timestamps and error land together.
	if err := s.session.Query(`UPDATE calls_by_campaign SET status = ?, started_at = ?, finished_at = ?, error_detail = ?
		WHERE campaign_id = ? AND seq = ?`,
		string(status), startedAt, finishedAt, errorDetail,
		current.CampaignID.String(), current.Seq,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("call store: update calls_by_campaign: %w", err)
	}

	if err := s.session.Query(`DELETE FROM calls_by_status WHERE status = ? AND campaign_id = ? AND call_id = ?`,
		string(current.Status), current.CampaignID.String(), callID.String(),
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("call store: delete old status index: %w", err)
	}
	if err := s.session.Query(`INSERT INTO calls_by_status (status, campaign_id, call_id, seq, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		string(status), current.CampaignID.String(), callID.String(), current.Seq, at,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("call store: insert new status index: %w", err)
	}

	return s.appendTransition(ctx, callID, current.Status, status, at, errorDetail)
}

// GetCall retrieves a call by ID.
func (s *CallStore) GetCall(ctx context.Context, callID uuid.UUID) (*domain.CallRecord, error) {
	iter := s.session.Query(`SELECT campaign_id, seq, call_id, destination, message, status, created_at, started_at, finished_at, error_detail
		FROM calls_by_campaign WHERE call_id = ? ALLOW FILTERING`, callID.String()).WithContext(ctx).Iter()

	record, ok, err := scanRecord(iter)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("call store: call %s: %w", callID, repository.ErrNotFound)
	}
	return &record, nil
}

// ListByCampaign lists a campaign's records in submission order.
func (s *CallStore) ListByCampaign(ctx context.Context, campaignID uuid.UUID) ([]domain.CallRecord, error) {
	iter := s.session.Query(`SELECT campaign_id, seq, call_id, destination, message, status, created_at, started_at, finished_at, error_detail
		FROM calls_by_campaign WHERE campaign_id = ? ORDER BY seq ASC`, campaignID.String()).WithContext(ctx).Iter()

	return drainRecords(iter)
}

// ListByStatus scans the status index and resolves each entry to the
// full record. Recovery uses it to locate stale dialing records.
func (s *CallStore) ListByStatus(ctx context.Context, status domain.CallStatus) ([]domain.CallRecord, error) {
	iter := s.session.Query(`SELECT campaign_id, call_id, seq FROM calls_by_status WHERE status = ?`,
		string(status)).WithContext(ctx).Iter()

	type indexEntry struct {
		campaignID string
		seq        int
	}
	entries := make([]indexEntry, 0)

	var campaignIDStr, callIDStr string
	var seq int
	for iter.Scan(&campaignIDStr, &callIDStr, &seq) {
		entries = append(entries, indexEntry{campaignID: campaignIDStr, seq: seq})
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("call store: status index close: %w", err)
	}

	records := make([]domain.CallRecord, 0, len(entries))
	for _, entry := range entries {
		rowIter := s.session.Query(`SELECT campaign_id, seq, call_id, destination, message, status, created_at, started_at, finished_at, error_detail
			FROM calls_by_campaign WHERE campaign_id = ? AND seq = ?`, entry.campaignID, entry.seq).WithContext(ctx).Iter()
		record, ok, err := scanRecord(rowIter)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		// Index rows can lag the primary table; trust the record.
		if record.Status != status {
			continue
		}
		records = append(records, record)
	}

	return records, nil
}

// ListAll returns every record ordered by creation time then seq.
func (s *CallStore) ListAll(ctx context.Context) ([]domain.CallRecord, error) {
	iter := s.session.Query(`SELECT campaign_id, seq, call_id, destination, message, status, created_at, started_at, finished_at, error_detail
		FROM calls_by_campaign`).WithContext(ctx).Iter()

	records, err := drainRecords(iter)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.Before(records[j].CreatedAt)
		}
		return records[i].Seq < records[j].Seq
	})

	return records, nil
}

func (s *CallStore) appendTransition(ctx context.Context, callID uuid.UUID, from, to domain.CallStatus, at time.Time, detail *string) error {
	if err := s.session.Query(`INSERT INTO call_transitions (call_id, occurred_at, from_status, to_status, detail)
		VALUES (?, ?, ?, ?, ?)`,
		callID.String(), at, string(from), string(to), detail,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("call store: append transition: %w", err)
	}
	return nil
}

func scanRecord(iter *gocql.Iter) (domain.CallRecord, bool, error) {
	var (
		campaignIDStr string
		seq           int
		callIDStr     string
		destination   string
		message       string
		status        string
		createdAt     time.Time
		startedAt     *time.Time
		finishedAt    *time.Time
		errorDetail   *string
	)

	if !iter.Scan(&campaignIDStr, &seq, &callIDStr, &destination, &message, &status, &createdAt, &startedAt, &finishedAt, &errorDetail) {
		if err := iter.Close(); err != nil {
			return domain.CallRecord{}, false, fmt.Errorf("call store: scan close: %w", err)
		}
		return domain.CallRecord{}, false, nil
	}
	if err := iter.Close(); err != nil {
		return domain.CallRecord{}, false, fmt.Errorf("call store: scan close: %w", err)
	}

	campaignID, err := uuid.Parse(campaignIDStr)
	if err != nil {
		return domain.CallRecord{}, false, fmt.Errorf("call store: parse campaign_id: %w", err)
	}
	callID, err := uuid.Parse(callIDStr)
	if err != nil {
		return domain.CallRecord{}, false, fmt.Errorf("call store: parse call_id: %w", err)
	}

	return domain.CallRecord{
		ID:          callID,
		CampaignID:  campaignID,
		Seq:         seq,
		Destination: destination,
		Message:     message,
		Status:      domain.CallStatus(status),
		CreatedAt:   createdAt,
		StartedAt:   startedAt,
		FinishedAt:  finishedAt,
		ErrorDetail: errorDetail,
	}, true, nil
}

func drainRecords(iter *gocql.Iter) ([]domain.CallRecord, error) {
	records := make([]domain.CallRecord, 0)

	var (
		campaignIDStr string
		seq           int
		callIDStr     string
		destination   string
		message       string
		status        string
		createdAt     time.Time
		startedAt     *time.Time
		finishedAt    *time.Time
		errorDetail   *string
	)

	for iter.Scan(&campaignIDStr, &seq, &callIDStr, &destination, &message, &status, &createdAt, &startedAt, &finishedAt, &errorDetail) {
		campaignID, err := uuid.Parse(campaignIDStr)
		if err != nil {
			continue
		}
		callID, err := uuid.Parse(callIDStr)
		if err != nil {
			continue
		}

		record := domain.CallRecord{
			ID:          callID,
			CampaignID:  campaignID,
			Seq:         seq,
			Destination: destination,
			Message:     message,
			Status:      domain.CallStatus(status),
			CreatedAt:   createdAt,
		}
		if startedAt != nil {
			t := *startedAt
			record.StartedAt = &t
		}
		if finishedAt != nil {
			t := *finishedAt
			record.FinishedAt = &t
		}
		if errorDetail != nil {
			d := *errorDetail
			record.ErrorDetail = &d
		}
		records = append(records, record)

		startedAt, finishedAt, errorDetail = nil, nil, nil
	}

	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("call store: iter close: %w", err)
	}

	return records, nil
}
