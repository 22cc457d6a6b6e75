package queue

import (
	"time"

	"github.com/google/uuid"

	"github.com/acme/autodialer/internal/domain"
)

// StatusMessage records a single call status transition. The feed
// worker folds these into per-status counters.
type StatusMessage struct {
	CallID      uuid.UUID         `json:"call_id"`
	CampaignID  uuid.UUID         `json:"campaign_id"`
	Seq         int               `json:"seq"`
	Destination string            `json:"destination"`
	Status      domain.CallStatus `json:"status"`
	ErrorDetail string            `json:"error_detail,omitempty"`
	DurationMs  int64             `json:"duration_ms,omitempty"`
	OccurredAt  time.Time         `json:"occurred_at"`
}
