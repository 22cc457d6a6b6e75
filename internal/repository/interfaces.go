package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/acme/autodialer/internal/domain"
	apperrors "github.com/acme/autodialer/pkg/errors"
)

var (
	// ErrNotFound indicates the entity was not located.
	ErrNotFound = apperrors.ErrNotFound
	// ErrInvalidTransition indicates a status update that violates the
	// call lifecycle. It is never silently ignored: it means a
	// scheduler bug.
	ErrInvalidTransition = apperrors.ErrInvalidTransition
)

// CampaignRepository manages campaign metadata and the rejected
// candidates reported alongside each submission.
type CampaignRepository interface {
	Create(ctx context.Context, campaign *domain.Campaign, rejected []domain.Rejection) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error)
	List(ctx context.Context, limit int) ([]*domain.Campaign, error)
}

// CallStore persists call records and enforces the status lifecycle.
// Every mutation is atomic per record: status, timestamps and error
// detail land together or not at all.
type CallStore interface {
	CreateCall(ctx context.Context, record *domain.CallRecord) error
	// UpdateStatus validates the transition against the current status
	// and stamps started_at (on dialing) or finished_at (on terminal
	// states) from at. errorDetail is stored only for failed/skipped.
	UpdateStatus(ctx context.Context, callID uuid.UUID, status domain.CallStatus, errorDetail *string, at time.Time) error
	GetCall(ctx context.Context, callID uuid.UUID) (*domain.CallRecord, error)
	// ListByCampaign returns records in submission (seq) order.
	ListByCampaign(ctx context.Context, campaignID uuid.UUID) ([]domain.CallRecord, error)
	// ListByStatus scans records in a given status; used by crash
	// recovery to find stale dialing records.
	ListByStatus(ctx context.Context, status domain.CallStatus) ([]domain.CallRecord, error)
	// ListAll returns every record ordered by campaign then seq; feeds
	// the overview and CSV export surfaces.
	ListAll(ctx context.Context) ([]domain.CallRecord, error)
}
