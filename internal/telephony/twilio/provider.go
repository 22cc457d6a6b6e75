// Package twilio places voice calls through Twilio's REST API. The
// provider double-checks the sandbox number policy before any network
// I/O so a bad record can never reach a real phone even if validation
// upstream regresses.
package twilio

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/acme/autodialer/internal/config"
	"github.com/acme/autodialer/internal/telephony"
	"github.com/acme/autodialer/internal/validate"
)

// Provider implements telephony.Provider against the Twilio Voice API.
type Provider struct {
	accountSID string
	authToken  string
	baseURL    string
	policy     validate.Policy
	http       *http.Client
}

// NewProvider constructs a Twilio-backed provider.
func NewProvider(cfg config.TwilioConfig, policy validate.Policy) *Provider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.twilio.com"
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Provider{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		baseURL:    baseURL,
		policy:     policy,
		http:       &http.Client{Timeout: timeout},
	}
}

// Ready reports whether the Twilio credentials are configured.
func (p *Provider) Ready() bool {
	return p.accountSID != "" && p.authToken != ""
}

type apiResponse struct {
	Sid     string `json:"sid"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Code    *int   `json:"code"`
}

// PlaceCall issues the Calls.json request and maps the response to an
// outcome. Non-2xx responses become provider errors, network failures
// and deadline expiry become transport errors.
func (p *Provider) PlaceCall(ctx context.Context, req telephony.Request) telephony.Outcome {
	if !validate.Satisfies(req.Destination, p.policy) {
		return telephony.Outcome{
			Kind:   telephony.OutcomeProviderError,
			Detail: fmt.Sprintf("destination %s outside sandbox range %s", req.Destination, p.policy.SandboxPrefix),
		}
	}
	if !p.Ready() {
		return telephony.Outcome{Kind: telephony.OutcomeProviderError, Detail: "twilio credentials missing"}
	}

	form := url.Values{}
	form.Set("To", req.Destination)
	form.Set("From", req.From)
	form.Set("Twiml", sayTwiML(req.Message))

	endpoint := p.baseURL + "/2010-04-01/Accounts/" + p.accountSID + "/Calls.json"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return telephony.Outcome{Kind: telephony.OutcomeTransportError, Detail: err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.SetBasicAuth(p.accountSID, p.authToken)

	started := time.Now()
	resp, err := p.http.Do(httpReq)
	if err != nil {
		return telephony.Outcome{
			Kind:     telephony.OutcomeTransportError,
			Detail:   transportDetail(err),
			Duration: time.Since(started),
		}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	var out apiResponse
	_ = json.Unmarshal(body, &out)

	elapsed := time.Since(started)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail := out.Message
		if detail == "" {
			detail = fmt.Sprintf("twilio returned status %d", resp.StatusCode)
		}
		return telephony.Outcome{
			Kind:       telephony.OutcomeProviderError,
			Detail:     validate.StripANSI(detail),
			ProviderID: out.Sid,
			Duration:   elapsed,
		}
	}

	return telephony.Outcome{
		Kind:       telephony.OutcomeSuccess,
		ProviderID: out.Sid,
		Duration:   elapsed,
	}
}

func transportDetail(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "request timed out"
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return "request timed out"
	}
	return validate.StripANSI(err.Error())
}

func sayTwiML(message string) string {
	var escaped strings.Builder
	_ = xml.EscapeText(&escaped, []byte(message))
	return "<Response><Say voice='Polly.Joanna'>" + escaped.String() + "</Say></Response>"
}
