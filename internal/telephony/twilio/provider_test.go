package twilio

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/acme/autodialer/internal/config"
	"github.com/acme/autodialer/internal/telephony"
	"github.com/acme/autodialer/internal/validate"
)

var testPolicy = validate.Policy{SandboxPrefix: "+1500"}

func newTestProvider(baseURL string) *Provider {
	return NewProvider(config.TwilioConfig{
		AccountSID:     "AC123",
		AuthToken:      "secret",
		BaseURL:        baseURL,
		RequestTimeout: 2 * time.Second,
	}, testPolicy)
}

func TestPlaceCallRejectsNonSandboxWithoutNetworkCall(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	provider := newTestProvider(srv.URL)
	outcome := provider.PlaceCall(context.Background(), telephony.Request{
		Destination: "+442079460000",
		Message:     "hello",
		From:        "+15005550006",
	})

	if outcome.Kind != telephony.OutcomeProviderError {
		t.Fatalf("expected provider_error, got %s", outcome.Kind)
	}
	if called {
		t.Fatal("non-sandbox destination must never reach the transport")
	}
	if !strings.Contains(outcome.Detail, "sandbox") {
		t.Fatalf("detail should name the sandbox policy, got %q", outcome.Detail)
	}
}

func TestPlaceCallSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if got := r.PostFormValue("To"); got != "+15005550009" {
			t.Errorf("To = %q", got)
		}
		if got := r.PostFormValue("From"); got != "+15005550006" {
			t.Errorf("From = %q", got)
		}
		if twiml := r.PostFormValue("Twiml"); !strings.Contains(twiml, "<Say") {
			t.Errorf("expected Say verb in twiml, got %q", twiml)
		}
		user, _, _ := r.BasicAuth()
		if user != "AC123" {
			t.Errorf("basic auth user = %q", user)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"CA0001","status":"queued"}`))
	}))
	defer srv.Close()

	provider := newTestProvider(srv.URL)
	outcome := provider.PlaceCall(context.Background(), telephony.Request{
		Destination: "+15005550009",
		Message:     "hello there",
		From:        "+15005550006",
	})

	if !outcome.OK() {
		t.Fatalf("expected success, got %s (%s)", outcome.Kind, outcome.Detail)
	}
	if outcome.ProviderID != "CA0001" {
		t.Fatalf("expected provider id CA0001, got %q", outcome.ProviderID)
	}
}

func TestPlaceCallProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":21212,"message":"The 'To' number is not a valid phone number."}`))
	}))
	defer srv.Close()

	provider := newTestProvider(srv.URL)
	outcome := provider.PlaceCall(context.Background(), telephony.Request{
		Destination: "+15005550001",
		Message:     "hello",
		From:        "+15005550006",
	})

	if outcome.Kind != telephony.OutcomeProviderError {
		t.Fatalf("expected provider_error, got %s", outcome.Kind)
	}
	if !strings.Contains(outcome.Detail, "not a valid phone number") {
		t.Fatalf("expected twilio message in detail, got %q", outcome.Detail)
	}
}

func TestPlaceCallTransportTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	provider := newTestProvider(srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	outcome := provider.PlaceCall(ctx, telephony.Request{
		Destination: "+15005550006",
		Message:     "hello",
		From:        "+15005550006",
	})

	if outcome.Kind != telephony.OutcomeTransportError {
		t.Fatalf("expected transport_error, got %s", outcome.Kind)
	}
}

func TestReady(t *testing.T) {
	provider := NewProvider(config.TwilioConfig{}, testPolicy)
	if provider.Ready() {
		t.Fatal("provider without credentials must not report ready")
	}

	outcome := provider.PlaceCall(context.Background(), telephony.Request{
		Destination: "+15005550006",
		Message:     "hello",
		From:        "+15005550006",
	})
	if outcome.Kind != telephony.OutcomeProviderError {
		t.Fatalf("expected provider_error without credentials, got %s", outcome.Kind)
	}
}

func TestSayTwiMLEscapesMessage(t *testing.T) {
	twiml := sayTwiML(`launch <soon> & "loud"`)
	if strings.Contains(twiml, "<soon>") {
		t.Fatalf("message must be XML-escaped: %q", twiml)
	}
	if !strings.Contains(twiml, "&lt;soon&gt;") {
		t.Fatalf("expected escaped angle brackets: %q", twiml)
	}
}
