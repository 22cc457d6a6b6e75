package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/acme/autodialer/internal/config"
	"github.com/acme/autodialer/internal/domain"
	"github.com/acme/autodialer/internal/queue"
	"github.com/acme/autodialer/internal/repository/memory"
	"github.com/acme/autodialer/internal/telephony"
	apperrors "github.com/acme/autodialer/pkg/errors"
	"github.com/acme/autodialer/pkg/logger"
)

type fakeProvider struct {
	mu       sync.Mutex
	ready    bool
	latency  time.Duration
	failFor  map[string]string
	attempts []attempt
}

type attempt struct {
	destination string
	at          time.Time
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{ready: true, failFor: map[string]string{}}
}

func (p *fakeProvider) Ready() bool { return p.ready }

func (p *fakeProvider) PlaceCall(ctx context.Context, req telephony.Request) telephony.Outcome {
	p.mu.Lock()
	p.attempts = append(p.attempts, attempt{destination: req.Destination, at: time.Now()})
	detail, fail := p.failFor[req.Destination]
	p.mu.Unlock()

	if p.latency > 0 {
		select {
		case <-ctx.Done():
			return telephony.Outcome{Kind: telephony.OutcomeTransportError, Detail: ctx.Err().Error()}
		case <-time.After(p.latency):
		}
	}
	if fail {
		return telephony.Outcome{Kind: telephony.OutcomeProviderError, Detail: detail}
	}
	return telephony.Outcome{Kind: telephony.OutcomeSuccess, ProviderID: "FAKE1"}
}

func (p *fakeProvider) snapshot() []attempt {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]attempt, len(p.attempts))
	copy(out, p.attempts)
	return out
}

type captureSink struct {
	mu       sync.Mutex
	messages []queue.StatusMessage
}

func (s *captureSink) Publish(ctx context.Context, msg queue.StatusMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	return nil
}

func (s *captureSink) snapshot() []queue.StatusMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]queue.StatusMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

type harness struct {
	engine   *Engine
	calls    *memory.CallStore
	provider *fakeProvider
	sink     *captureSink
}

func newHarness(t *testing.T, cfg config.DialerConfig) *harness {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	if cfg.SandboxPrefix == "" {
		cfg.SandboxPrefix = "+1500"
	}
	if cfg.MaxBatchSize == 0 {
		cfg.MaxBatchSize = 100
	}
	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = time.Second
	}
	if cfg.DefaultMessage == "" {
		cfg.DefaultMessage = "test message"
	}

	provider := newFakeProvider()
	sink := &captureSink{}
	calls := memory.NewCallStore()
	engine := NewEngine(calls, memory.NewCampaignRepository(), provider, sink, nil, cfg, "+15005550006", log)
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = engine.Shutdown(shutdownCtx)
	})
	return &harness{engine: engine, calls: calls, provider: provider, sink: sink}
}

// waitSettled polls until every record of the campaign is terminal.
func (h *harness) waitSettled(t *testing.T, campaignID uuid.UUID) []domain.CallRecord {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		_, records, err := h.engine.Status(context.Background(), campaignID)
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		settled := true
		for _, r := range records {
			if !r.Status.IsTerminal() {
				settled = false
				break
			}
		}
		if settled {
			return records
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("campaign did not settle in time")
	return nil
}

func TestSubmitDialsInOrderWithDelay(t *testing.T) {
	delay := 60 * time.Millisecond
	h := newHarness(t, config.DialerConfig{InterCallDelay: delay})

	numbers := []string{"+15005550001", "+15005550002", "+15005550003"}
	receipt, err := h.engine.Submit(context.Background(), numbers, "hello")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(receipt.CallIDs) != 3 || len(receipt.Rejected) != 0 {
		t.Fatalf("receipt = %d calls, %d rejected", len(receipt.CallIDs), len(receipt.Rejected))
	}

	records := h.waitSettled(t, receipt.CampaignID)
	for i, r := range records {
		if r.Seq != i {
			t.Errorf("record %d has seq %d", i, r.Seq)
		}
		if r.Status != domain.CallStatusSuccess {
			t.Errorf("record %d status = %s", i, r.Status)
		}
		if r.StartedAt == nil || r.FinishedAt == nil {
			t.Errorf("record %d missing timestamps", i)
		}
	}

	attempts := h.provider.snapshot()
	if len(attempts) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(attempts))
	}
	for i, a := range attempts {
		if a.destination != numbers[i] {
			t.Errorf("attempt %d dialed %s, want %s", i, a.destination, numbers[i])
		}
	}
	for i := 1; i < len(attempts); i++ {
		if gap := attempts[i].at.Sub(attempts[i-1].at); gap < delay {
			t.Errorf("gap between attempts %d and %d = %v, want >= %v", i-1, i, gap, delay)
		}
	}
}

func TestSubmitRefusesOversizedBatch(t *testing.T) {
	h := newHarness(t, config.DialerConfig{MaxBatchSize: 2})

	numbers := []string{"+15005550001", "+15005550002", "+15005550003"}
	receipt, err := h.engine.Submit(context.Background(), numbers, "hello")
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if len(receipt.Rejected) != 3 {
		t.Fatalf("expected all candidates rejected, got %d", len(receipt.Rejected))
	}
	for _, r := range receipt.Rejected {
		if r.Reason != domain.RejectReasonBatchTooLarge {
			t.Errorf("rejection reason = %s", r.Reason)
		}
	}

	all, err := h.calls.ListAll(context.Background())
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("refused batch must persist nothing, found %d records", len(all))
	}
}

func TestSubmitWithNoDialableNumbers(t *testing.T) {
	h := newHarness(t, config.DialerConfig{})

	receipt, err := h.engine.Submit(context.Background(), []string{"+442079460000", "nonsense"}, "hi")
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if len(receipt.Rejected) != 2 {
		t.Fatalf("expected 2 rejections, got %d", len(receipt.Rejected))
	}
}

func TestMixedBatchKeepsSandboxNumbersOnly(t *testing.T) {
	h := newHarness(t, config.DialerConfig{})

	receipt, err := h.engine.Submit(context.Background(),
		[]string{"+15005550001", "+442079460000", "+15005550002"}, "hi")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(receipt.CallIDs) != 2 {
		t.Fatalf("expected 2 accepted calls, got %d", len(receipt.CallIDs))
	}
	if len(receipt.Rejected) != 1 || receipt.Rejected[0].Reason != domain.RejectReasonNotSandboxNumber {
		t.Fatalf("unexpected rejections: %+v", receipt.Rejected)
	}
	h.waitSettled(t, receipt.CampaignID)
}

func TestMissingCredentialsSkipsEverything(t *testing.T) {
	h := newHarness(t, config.DialerConfig{})
	h.provider.ready = false

	receipt, err := h.engine.Submit(context.Background(),
		[]string{"+15005550001", "+15005550002"}, "hi")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	records := h.waitSettled(t, receipt.CampaignID)
	for i, r := range records {
		if r.Status != domain.CallStatusSkipped {
			t.Errorf("record %d status = %s, want skipped", i, r.Status)
		}
		if r.ErrorDetail == nil || *r.ErrorDetail != domain.SkipReasonMissingCredentials {
			t.Errorf("record %d detail = %v", i, r.ErrorDetail)
		}
	}
	if attempts := h.provider.snapshot(); len(attempts) != 0 {
		t.Fatalf("no attempt may reach the provider, got %d", len(attempts))
	}
}

func TestFailedCallDoesNotStopTheCampaign(t *testing.T) {
	h := newHarness(t, config.DialerConfig{InterCallDelay: time.Millisecond})
	h.provider.failFor["+15005550002"] = "the destination number cannot be routed"

	receipt, err := h.engine.Submit(context.Background(),
		[]string{"+15005550001", "+15005550002", "+15005550003"}, "hi")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	records := h.waitSettled(t, receipt.CampaignID)
	want := []domain.CallStatus{domain.CallStatusSuccess, domain.CallStatusFailed, domain.CallStatusSuccess}
	for i, r := range records {
		if r.Status != want[i] {
			t.Errorf("record %d status = %s, want %s", i, r.Status, want[i])
		}
	}
	if records[1].ErrorDetail == nil || !strings.Contains(*records[1].ErrorDetail, "cannot be routed") {
		t.Errorf("failed record detail = %v", records[1].ErrorDetail)
	}
}

func TestCancelSkipsRemainingRecords(t *testing.T) {
	h := newHarness(t, config.DialerConfig{InterCallDelay: 300 * time.Millisecond})
	h.provider.latency = 20 * time.Millisecond

	receipt, err := h.engine.Submit(context.Background(),
		[]string{"+15005550001", "+15005550002", "+15005550003", "+15005550004"}, "hi")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	// Let the first record complete, then cancel during the delay.
	time.Sleep(100 * time.Millisecond)
	if err := h.engine.Cancel(context.Background(), receipt.CampaignID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	records := h.waitSettled(t, receipt.CampaignID)
	var skipped int
	for _, r := range records {
		if r.Status == domain.CallStatusDialing || r.Status == domain.CallStatusQueued {
			t.Errorf("record %d left non-terminal: %s", r.Seq, r.Status)
		}
		if r.Status == domain.CallStatusSkipped {
			skipped++
			if r.ErrorDetail == nil || *r.ErrorDetail != domain.SkipReasonCancelled {
				t.Errorf("skipped record %d detail = %v", r.Seq, r.ErrorDetail)
			}
		}
	}
	if skipped == 0 {
		t.Fatal("expected at least one record skipped after cancel")
	}
	if records[0].Status != domain.CallStatusSuccess {
		t.Errorf("first record should have completed, got %s", records[0].Status)
	}
}

// refusingStore wraps the in-memory store and refuses status writes
// matched by refuse, simulating a store outage.
type refusingStore struct {
	*memory.CallStore
	refuse func(status domain.CallStatus) bool
}

func (s *refusingStore) UpdateStatus(ctx context.Context, callID uuid.UUID, status domain.CallStatus, errorDetail *string, at time.Time) error {
	if s.refuse(status) {
		return fmt.Errorf("call store: update calls_by_campaign: connection refused")
	}
	return s.CallStore.UpdateStatus(ctx, callID, status, errorDetail, at)
}

func TestRefusedDialingCommitNeverReachesGateway(t *testing.T) {
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	store := &refusingStore{
		CallStore: memory.NewCallStore(),
		refuse: func(status domain.CallStatus) bool {
			return status == domain.CallStatusDialing
		},
	}
	provider := newFakeProvider()
	cfg := config.DialerConfig{
		SandboxPrefix:  "+1500",
		MaxBatchSize:   100,
		CallTimeout:    time.Second,
		DefaultMessage: "test message",
	}
	engine := NewEngine(store, memory.NewCampaignRepository(), provider, &captureSink{}, nil, cfg, "+15005550006", log)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = engine.Shutdown(shutdownCtx)
	}()

	receipt, err := engine.Submit(context.Background(), []string{"+15005550001", "+15005550002"}, "hi")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	var records []domain.CallRecord
	for time.Now().Before(deadline) {
		_, records, err = engine.Status(context.Background(), receipt.CampaignID)
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		settled := true
		for _, r := range records {
			if !r.Status.IsTerminal() {
				settled = false
				break
			}
		}
		if settled {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if attempts := provider.snapshot(); len(attempts) != 0 {
		t.Fatalf("gateway must not be invoked without a committed dialing state, got %d attempts", len(attempts))
	}
	for _, r := range records {
		if r.Status != domain.CallStatusSkipped {
			t.Errorf("record %d status = %s, want skipped", r.Seq, r.Status)
		}
		if r.ErrorDetail == nil || *r.ErrorDetail != domain.SkipReasonStoreError {
			t.Errorf("record %d detail = %v, want %s", r.Seq, r.ErrorDetail, domain.SkipReasonStoreError)
		}
	}
}

func TestCancelUnknownCampaign(t *testing.T) {
	h := newHarness(t, config.DialerConfig{})
	err := h.engine.Cancel(context.Background(), uuid.New())
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRecoverFailsStaleDialingRecords(t *testing.T) {
	h := newHarness(t, config.DialerConfig{})
	ctx := context.Background()

	record := domain.CallRecord{
		ID:          uuid.New(),
		CampaignID:  uuid.New(),
		Seq:         0,
		Destination: "+15005550001",
		Message:     "hi",
		Status:      domain.CallStatusQueued,
		CreatedAt:   time.Now().UTC(),
	}
	if err := h.calls.CreateCall(ctx, &record); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := h.calls.UpdateStatus(ctx, record.ID, domain.CallStatusDialing, nil, time.Now().UTC()); err != nil {
		t.Fatalf("to dialing: %v", err)
	}

	if err := h.engine.Recover(ctx); err != nil {
		t.Fatalf("recover: %v", err)
	}

	got, err := h.calls.GetCall(ctx, record.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.CallStatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.ErrorDetail == nil || *got.ErrorDetail != domain.FailReasonInterrupted {
		t.Fatalf("detail = %v", got.ErrorDetail)
	}
}

func TestEveryTransitionIsPublished(t *testing.T) {
	h := newHarness(t, config.DialerConfig{InterCallDelay: time.Millisecond})

	receipt, err := h.engine.Submit(context.Background(), []string{"+15005550001"}, "hi")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	h.waitSettled(t, receipt.CampaignID)

	var statuses []domain.CallStatus
	for _, msg := range h.sink.snapshot() {
		if msg.CallID == receipt.CallIDs[0] {
			statuses = append(statuses, msg.Status)
		}
	}
	want := []domain.CallStatus{domain.CallStatusQueued, domain.CallStatusDialing, domain.CallStatusSuccess}
	if len(statuses) != len(want) {
		t.Fatalf("got %d events, want %d: %v", len(statuses), len(want), statuses)
	}
	for i := range want {
		if statuses[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, statuses[i], want[i])
		}
	}
}

func TestSubmitSingleUsesDefaultMessage(t *testing.T) {
	h := newHarness(t, config.DialerConfig{DefaultMessage: "fallback text"})

	receipt, err := h.engine.SubmitSingle(context.Background(), "+15005550001", "")
	if err != nil {
		t.Fatalf("submit single: %v", err)
	}
	records := h.waitSettled(t, receipt.CampaignID)
	if records[0].Message != "fallback text" {
		t.Fatalf("message = %q", records[0].Message)
	}
}
