package telephony

import (
	"context"
	"time"
)

// OutcomeKind classifies the terminal result of a dial attempt.
type OutcomeKind string

const (
	OutcomeSuccess        OutcomeKind = "success"
	OutcomeProviderError  OutcomeKind = "provider_error"
	OutcomeTransportError OutcomeKind = "transport_error"
)

// Request describes one outbound call.
type Request struct {
	Destination string
	Message     string
	From        string
}

// Outcome captures the result of a telephony attempt. Any kind other
// than OutcomeSuccess carries a human-readable Detail.
type Outcome struct {
	Kind       OutcomeKind
	Detail     string
	ProviderID string
	Duration   time.Duration
}

// OK reports whether the call was placed without error.
func (o Outcome) OK() bool {
	return o.Kind == OutcomeSuccess
}

// Provider abstracts the telephony integration. PlaceCall must be safe
// to call repeatedly; each invocation is an independent attempt, and
// implementations must refuse non-sandbox destinations before touching
// the real transport.
type Provider interface {
	PlaceCall(ctx context.Context, req Request) Outcome
	// Ready reports whether the provider has the credentials it needs.
	// The scheduler checks it before each record; a not-ready provider
	// skips the remaining queue instead of dialing.
	Ready() bool
}
