// Package mock simulates outbound call behaviour for development and
// tests. Outcomes are deterministic per destination so scenarios can be
// replayed.
package mock

import (
	"context"
	"strings"
	"time"

	"github.com/acme/autodialer/internal/telephony"
)

// Provider simulates a telephony bridge.
type Provider struct {
	latency time.Duration
	// failSuffixes maps destination suffixes to a simulated provider
	// error, mirroring the provider's magic test numbers.
	failSuffixes map[string]string
}

// NewProvider constructs a mock provider with a small fixed latency.
func NewProvider(latency time.Duration) *Provider {
	if latency <= 0 {
		latency = 25 * time.Millisecond
	}
	return &Provider{
		latency: latency,
		failSuffixes: map[string]string{
			"5550001": "the destination number is invalid",
			"5550002": "the destination number cannot be routed",
		},
	}
}

// Ready always holds for the mock.
func (p *Provider) Ready() bool { return true }

// PlaceCall simulates a call attempt. Calling the from-number itself
// fails the way the real provider refuses self-calls.
func (p *Provider) PlaceCall(ctx context.Context, req telephony.Request) telephony.Outcome {
	select {
	case <-ctx.Done():
		return telephony.Outcome{Kind: telephony.OutcomeTransportError, Detail: ctx.Err().Error()}
	case <-time.After(p.latency):
	}

	if req.Destination == req.From {
		return telephony.Outcome{
			Kind:     telephony.OutcomeProviderError,
			Detail:   "cannot call own number",
			Duration: p.latency,
		}
	}

	for suffix, detail := range p.failSuffixes {
		if strings.HasSuffix(req.Destination, suffix) {
			return telephony.Outcome{
				Kind:     telephony.OutcomeProviderError,
				Detail:   detail,
				Duration: p.latency,
			}
		}
	}

	return telephony.Outcome{
		Kind:       telephony.OutcomeSuccess,
		ProviderID: "MOCK" + req.Destination[1:],
		Duration:   p.latency,
	}
}
