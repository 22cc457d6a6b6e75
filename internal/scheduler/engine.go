// Package scheduler runs call campaigns: it screens submissions,
// persists the queue and dials each record strictly in order.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/autodialer/internal/config"
	"github.com/acme/autodialer/internal/domain"
	"github.com/acme/autodialer/internal/queue"
	"github.com/acme/autodialer/internal/repository"
	"github.com/acme/autodialer/internal/telephony"
	"github.com/acme/autodialer/internal/validate"
	apperrors "github.com/acme/autodialer/pkg/errors"
	"github.com/acme/autodialer/pkg/logger"
)

// StatusSink receives every status transition the engine records.
type StatusSink interface {
	Publish(ctx context.Context, msg queue.StatusMessage) error
}

// Locker serializes dialing per campaign across engine replicas.
type Locker interface {
	Acquire(ctx context.Context, campaignID uuid.UUID, holder string) (bool, error)
	Release(ctx context.Context, campaignID uuid.UUID, holder string) error
}

// noopLocker is used when no Redis is wired, e.g. in tests.
type noopLocker struct{}

func (noopLocker) Acquire(context.Context, uuid.UUID, string) (bool, error) { return true, nil }
func (noopLocker) Release(context.Context, uuid.UUID, string) error         { return nil }

// NoopLocker returns a Locker that always grants the lock.
func NoopLocker() Locker { return noopLocker{} }

// Receipt is returned to the submitter: the campaign id, the records
// created in order, and the candidates refused at validation time.
type Receipt struct {
	CampaignID uuid.UUID
	CallIDs    []uuid.UUID
	Rejected   []domain.Rejection
}

// Engine owns the campaign lifecycle. One goroutine per campaign works
// through its records sequentially; campaigns from separate
// submissions run independently.
type Engine struct {
	calls     repository.CallStore
	campaigns repository.CampaignRepository
	provider  telephony.Provider
	sink      StatusSink
	lock      Locker
	log       *logger.Logger
	cfg       config.DialerConfig
	from      string
	policy    validate.Policy
	holder    string

	mu      sync.Mutex
	active  map[uuid.UUID]*campaignRun
	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

type campaignRun struct {
	cancelled bool
}

// NewEngine wires an engine. The dialer config supplies the pacing and
// the sandbox policy; from is the caller id presented on every call.
func NewEngine(
	calls repository.CallStore,
	campaigns repository.CampaignRepository,
	provider telephony.Provider,
	sink StatusSink,
	lock Locker,
	cfg config.DialerConfig,
	from string,
	log *logger.Logger,
) *Engine {
	if lock == nil {
		lock = noopLocker{}
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Engine{
		calls:     calls,
		campaigns: campaigns,
		provider:  provider,
		sink:      sink,
		lock:      lock,
		log:       log,
		cfg:       cfg,
		from:      from,
		policy:    validate.Policy{SandboxPrefix: cfg.SandboxPrefix, MaxBatchSize: cfg.MaxBatchSize},
		holder:    uuid.NewString(),
		active:    make(map[uuid.UUID]*campaignRun),
		baseCtx:   ctx,
		stop:      stop,
	}
}

// Submit screens candidates, persists the campaign with its queued
// records, then starts dialing in the background. Nothing is persisted
// when validation refuses the whole batch.
func (e *Engine) Submit(ctx context.Context, candidates []string, message string) (*Receipt, error) {
	screened, err := validate.Screen(candidates, e.policy)
	if err != nil {
		return &Receipt{Rejected: screened.Rejected}, err
	}
	if len(screened.Accepted) == 0 {
		return &Receipt{Rejected: screened.Rejected},
			fmt.Errorf("%w: no dialable numbers in submission", apperrors.ErrValidation)
	}

	if message == "" {
		message = e.cfg.DefaultMessage
	}

	now := time.Now().UTC()
	campaign := &domain.Campaign{
		ID:        uuid.New(),
		Message:   message,
		Total:     len(screened.Accepted),
		CreatedAt: now,
	}
	if err := e.campaigns.Create(ctx, campaign, screened.Rejected); err != nil {
		return nil, fmt.Errorf("scheduler: create campaign: %w", err)
	}

	records := make([]domain.CallRecord, 0, len(screened.Accepted))
	receipt := &Receipt{CampaignID: campaign.ID, Rejected: screened.Rejected}
	for seq, destination := range screened.Accepted {
		record := domain.CallRecord{
			ID:          uuid.New(),
			CampaignID:  campaign.ID,
			Seq:         seq,
			Destination: destination,
			Message:     message,
			Status:      domain.CallStatusQueued,
			CreatedAt:   now,
		}
		if err := e.calls.CreateCall(ctx, &record); err != nil {
			return nil, fmt.Errorf("scheduler: create call %d: %w", seq, err)
		}
		e.publish(ctx, record, 0)
		records = append(records, record)
		receipt.CallIDs = append(receipt.CallIDs, record.ID)
	}

	run := &campaignRun{}
	e.mu.Lock()
	e.active[campaign.ID] = run
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runCampaign(run, campaign, records)
	}()

	return receipt, nil
}

// SubmitSingle queues a one-record campaign for a single destination.
func (e *Engine) SubmitSingle(ctx context.Context, destination, message string) (*Receipt, error) {
	return e.Submit(ctx, []string{destination}, message)
}

// Cancel asks a running campaign to stop after the in-flight record.
// Remaining queued records are marked skipped, by the worker when the
// campaign is still running, directly otherwise.
func (e *Engine) Cancel(ctx context.Context, campaignID uuid.UUID) error {
	if _, err := e.campaigns.Get(ctx, campaignID); err != nil {
		return err
	}

	e.mu.Lock()
	run, running := e.active[campaignID]
	if running {
		run.cancelled = true
	}
	e.mu.Unlock()
	if running {
		return nil
	}

	// The campaign has no live worker, e.g. after a restart. Retire the
	// leftover queued records here.
	records, err := e.calls.ListByCampaign(ctx, campaignID)
	if err != nil {
		return err
	}
	for _, record := range records {
		if record.Status != domain.CallStatusQueued {
			continue
		}
		if err := e.transition(ctx, &record, domain.CallStatusSkipped, domain.SkipReasonCancelled, 0); err != nil {
			return fmt.Errorf("scheduler: cancel: %w", err)
		}
	}
	return nil
}

// Status returns the campaign and a submission-ordered snapshot of its
// records.
func (e *Engine) Status(ctx context.Context, campaignID uuid.UUID) (*domain.Campaign, []domain.CallRecord, error) {
	campaign, err := e.campaigns.Get(ctx, campaignID)
	if err != nil {
		return nil, nil, err
	}
	records, err := e.calls.ListByCampaign(ctx, campaignID)
	if err != nil {
		return nil, nil, err
	}
	return campaign, records, nil
}

// Recover fails any record left in dialing by a previous run. Called
// once at startup, before the engine accepts submissions.
func (e *Engine) Recover(ctx context.Context) error {
	stale, err := e.calls.ListByStatus(ctx, domain.CallStatusDialing)
	if err != nil {
		return fmt.Errorf("scheduler: recover: %w", err)
	}
	for _, record := range stale {
		if err := e.transition(ctx, &record, domain.CallStatusFailed, domain.FailReasonInterrupted, 0); err != nil {
			return fmt.Errorf("scheduler: recover: %w", err)
		}
		e.log.Warn("recovered interrupted call",
			zap.String("call_id", record.ID.String()),
			zap.String("campaign_id", record.CampaignID.String()),
		)
	}
	if len(stale) > 0 {
		e.log.Info("startup recovery complete", zap.Int("failed", len(stale)))
	}
	return nil
}

// Shutdown stops accepting work and waits for in-flight campaigns to
// reach a safe point or the context to expire.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.stop()
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) runCampaign(run *campaignRun, campaign *domain.Campaign, records []domain.CallRecord) {
	ctx := e.baseCtx
	tracer := otel.Tracer("autodialer.scheduler")

	defer func() {
		e.mu.Lock()
		delete(e.active, campaign.ID)
		e.mu.Unlock()
	}()

	skipRemaining := ""
	for i := range records {
		record := &records[i]

		if ctx.Err() != nil {
			// Shutting down. Queued records stay queued; a dialing record
			// never exists here because each attempt completes below.
			return
		}

		e.mu.Lock()
		cancelled := run.cancelled
		e.mu.Unlock()
		if cancelled {
			skipRemaining = domain.SkipReasonCancelled
		}
		if skipRemaining == "" && !e.provider.Ready() {
			skipRemaining = domain.SkipReasonMissingCredentials
		}
		if skipRemaining != "" {
			if err := e.transition(ctx, record, domain.CallStatusSkipped, skipRemaining, 0); err != nil {
				return
			}
			continue
		}

		if !e.acquireLock(ctx, run, campaign.ID) {
			if ctx.Err() != nil {
				return
			}
			// Lock wait ended because the campaign was cancelled.
			skipRemaining = domain.SkipReasonCancelled
			if err := e.transition(ctx, record, domain.CallStatusSkipped, skipRemaining, 0); err != nil {
				return
			}
			continue
		}

		sctx, span := tracer.Start(ctx, "campaign.dial", trace.WithAttributes(
			attribute.String("call.id", record.ID.String()),
			attribute.String("campaign.id", campaign.ID.String()),
			attribute.Int("seq", record.Seq),
		))

		// The dialing transition must be committed before the gateway sees
		// the call so a crash between the two is recoverable. A refused
		// commit aborts the campaign without placing the call.
		if err := e.transition(sctx, record, domain.CallStatusDialing, "", 0); err != nil {
			span.RecordError(err)
			span.End()
			e.releaseLock(ctx, campaign.ID)
			e.abortCampaign(ctx, campaign.ID, records[i:])
			return
		}

		callCtx, cancel := context.WithTimeout(sctx, e.cfg.CallTimeout)
		outcome := e.provider.PlaceCall(callCtx, telephony.Request{
			Destination: record.Destination,
			Message:     record.Message,
			From:        e.from,
		})
		cancel()

		var commitErr error
		if outcome.OK() {
			commitErr = e.transition(sctx, record, domain.CallStatusSuccess, "", outcome.Duration)
		} else {
			commitErr = e.transition(sctx, record, domain.CallStatusFailed, outcome.Detail, outcome.Duration)
		}
		span.End()
		e.releaseLock(ctx, campaign.ID)

		if commitErr != nil {
			// The call was placed but its outcome could not be recorded.
			// The record sits in dialing for startup recovery; dialing
			// further records against a refusing store would repeat this.
			e.abortCampaign(ctx, campaign.ID, records[i+1:])
			return
		}

		if i < len(records)-1 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(e.cfg.InterCallDelay):
			}
		}
	}
}

func (e *Engine) releaseLock(ctx context.Context, campaignID uuid.UUID) {
	if err := e.lock.Release(ctx, campaignID, e.holder); err != nil {
		e.log.Warn("dial lock release", zap.Error(err))
	}
}

// abortCampaign retires the records a campaign can no longer dial
// after the store refused a write. Best effort: records the store
// still refuses to update stay queued and are reported.
func (e *Engine) abortCampaign(ctx context.Context, campaignID uuid.UUID, remaining []domain.CallRecord) {
	e.log.Error("campaign aborted, store refused a status write",
		zap.String("campaign_id", campaignID.String()),
		zap.Int("remaining", len(remaining)),
	)
	stranded := 0
	for i := range remaining {
		record := &remaining[i]
		if record.Status != domain.CallStatusQueued {
			continue
		}
		if err := e.transition(ctx, record, domain.CallStatusSkipped, domain.SkipReasonStoreError, 0); err != nil {
			stranded++
		}
	}
	if stranded > 0 {
		e.log.Error("records left queued after abort",
			zap.String("campaign_id", campaignID.String()),
			zap.Int("stranded", stranded),
		)
	}
}

// acquireLock blocks until the campaign lock is granted, the run is
// cancelled or the engine shuts down. False means give up on this
// record for now; the outer loop re-evaluates cancellation.
func (e *Engine) acquireLock(ctx context.Context, run *campaignRun, campaignID uuid.UUID) bool {
	for {
		ok, err := e.lock.Acquire(ctx, campaignID, e.holder)
		if err != nil {
			e.log.Warn("dial lock acquire", zap.Error(err))
		}
		if ok {
			return true
		}
		e.mu.Lock()
		cancelled := run.cancelled
		e.mu.Unlock()
		if cancelled || ctx.Err() != nil {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(250 * time.Millisecond):
		}
	}
}

// transition applies one lifecycle step, logs it and notifies the sink.
// A store refusal is logged loudly and returned to the caller: the
// scheduler must never proceed as if the write had been committed.
func (e *Engine) transition(ctx context.Context, record *domain.CallRecord, status domain.CallStatus, detail string, duration time.Duration) error {
	now := time.Now().UTC()
	var errorDetail *string
	if detail != "" {
		errorDetail = &detail
	}
	if err := e.calls.UpdateStatus(ctx, record.ID, status, errorDetail, now); err != nil {
		e.log.Error("status transition refused",
			zap.String("call_id", record.ID.String()),
			zap.String("from", string(record.Status)),
			zap.String("to", string(status)),
			zap.Error(err),
		)
		return err
	}

	record.Status = status
	switch status {
	case domain.CallStatusDialing:
		record.StartedAt = &now
	case domain.CallStatusSuccess, domain.CallStatusFailed, domain.CallStatusSkipped:
		record.FinishedAt = &now
	}
	record.ErrorDetail = errorDetail

	e.log.Info("call status",
		zap.String("call_id", record.ID.String()),
		zap.String("campaign_id", record.CampaignID.String()),
		zap.Int("seq", record.Seq),
		zap.String("status", string(status)),
		zap.String("detail", detail),
	)
	e.publish(ctx, *record, duration)
	return nil
}

func (e *Engine) publish(ctx context.Context, record domain.CallRecord, duration time.Duration) {
	if e.sink == nil {
		return
	}
	msg := queue.StatusMessage{
		CallID:      record.ID,
		CampaignID:  record.CampaignID,
		Seq:         record.Seq,
		Destination: record.Destination,
		Status:      record.Status,
		DurationMs:  duration.Milliseconds(),
		OccurredAt:  time.Now().UTC(),
	}
	if record.ErrorDetail != nil {
		msg.ErrorDetail = *record.ErrorDetail
	}
	if err := e.sink.Publish(ctx, msg); err != nil {
		e.log.Warn("status publish", zap.Error(err))
	}
}
