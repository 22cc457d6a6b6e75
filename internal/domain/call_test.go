package domain

import (
	"testing"
	"time"
)

func TestCanTransitionForwardEdges(t *testing.T) {
	allowed := []struct{ from, to CallStatus }{
		{CallStatusQueued, CallStatusDialing},
		{CallStatusQueued, CallStatusSkipped},
		{CallStatusDialing, CallStatusSuccess},
		{CallStatusDialing, CallStatusFailed},
	}
	for _, tc := range allowed {
		if !tc.from.CanTransition(tc.to) {
			t.Errorf("expected %s -> %s to be allowed", tc.from, tc.to)
		}
	}
}

func TestCanTransitionRejectsReverseAndSkippingEdges(t *testing.T) {
	forbidden := []struct{ from, to CallStatus }{
		{CallStatusDialing, CallStatusQueued},
		{CallStatusDialing, CallStatusSkipped},
		{CallStatusQueued, CallStatusSuccess},
		{CallStatusQueued, CallStatusFailed},
		{CallStatusSuccess, CallStatusFailed},
		{CallStatusFailed, CallStatusQueued},
		{CallStatusSkipped, CallStatusDialing},
		{CallStatusSuccess, CallStatusSuccess},
	}
	for _, tc := range forbidden {
		if tc.from.CanTransition(tc.to) {
			t.Errorf("expected %s -> %s to be rejected", tc.from, tc.to)
		}
	}
}

func TestTerminalStatuses(t *testing.T) {
	for _, s := range []CallStatus{CallStatusSuccess, CallStatusFailed, CallStatusSkipped} {
		if !s.IsTerminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	for _, s := range []CallStatus{CallStatusQueued, CallStatusDialing} {
		if s.IsTerminal() {
			t.Errorf("expected %s not to be terminal", s)
		}
	}
}

func TestCallRecordDuration(t *testing.T) {
	record := CallRecord{}
	if record.Duration() != 0 {
		t.Fatalf("expected zero duration before timestamps are set")
	}

	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(4 * time.Second)
	record.StartedAt = &start
	if record.Duration() != 0 {
		t.Fatalf("expected zero duration with only started_at set")
	}
	record.FinishedAt = &end
	if got := record.Duration(); got != 4*time.Second {
		t.Fatalf("expected 4s duration, got %v", got)
	}
}
