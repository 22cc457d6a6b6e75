package domain

import (
	"time"

	"github.com/google/uuid"
)

// CallStatus enumerates lifecycle stages for an individual call record.
type CallStatus string

const (
	CallStatusQueued  CallStatus = "queued"
	CallStatusDialing CallStatus = "dialing"
	CallStatusSuccess CallStatus = "success"
	CallStatusFailed  CallStatus = "failed"
	CallStatusSkipped CallStatus = "skipped"
)

// Detail strings recorded on skipped or failed records.
const (
	SkipReasonCancelled          = "cancelled"
	SkipReasonMissingCredentials = "missing_credentials"
	SkipReasonStoreError         = "store_error"
	FailReasonInterrupted        = "interrupted"
)

// IsTerminal reports whether no further transition may occur from s.
func (s CallStatus) IsTerminal() bool {
	switch s {
	case CallStatusSuccess, CallStatusFailed, CallStatusSkipped:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next follows the
// call lifecycle: queued -> dialing -> {success, failed}, and
// queued -> skipped for records that never dial.
func (s CallStatus) CanTransition(next CallStatus) bool {
	switch s {
	case CallStatusQueued:
		return next == CallStatusDialing || next == CallStatusSkipped
	case CallStatusDialing:
		return next == CallStatusSuccess || next == CallStatusFailed
	}
	return false
}

// CallRecord is one dial attempt entry within a campaign.
type CallRecord struct {
	ID          uuid.UUID
	CampaignID  uuid.UUID
	Seq         int
	Destination string
	Message     string
	Status      CallStatus
	CreatedAt   time.Time
	StartedAt   *time.Time
	FinishedAt  *time.Time
	ErrorDetail *string
}

// Duration reports the dial duration, zero until both timestamps are set.
func (r *CallRecord) Duration() time.Duration {
	if r.StartedAt == nil || r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(*r.StartedAt)
}

// Campaign groups the call records created by one submission.
type Campaign struct {
	ID        uuid.UUID
	Message   string
	Total     int
	CreatedAt time.Time
}

// Rejection describes a candidate refused at validation time.
type Rejection struct {
	Input  string
	Reason string
}

// Rejection reasons reported by the number validator.
const (
	RejectReasonBatchTooLarge    = "batch_too_large"
	RejectReasonNotSandboxNumber = "not_sandbox_number"
	RejectReasonInvalidFormat    = "invalid_format"
)
