// Package interpreter turns free-text instructions into call requests:
// an optional destination number plus the message to speak.
package interpreter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/acme/autodialer/internal/config"
	"github.com/acme/autodialer/internal/validate"
	apperrors "github.com/acme/autodialer/pkg/errors"
)

const instruction = "Extract the destination phone number and the message to deliver via a phone call. " +
	"Return JSON with keys 'number' and 'message'. Only include digits and '+' in the number. " +
	"If the number is missing, leave it empty. Keep the message short and friendly. " +
	"Respond with JSON only."

// Result is the structured reading of a prompt.
type Result struct {
	Destination string
	Message     string
}

// Interpreter extracts call instructions from natural language.
type Interpreter struct {
	model          string
	defaultMessage string
	// generate invokes the model; swapped out in tests.
	generate func(ctx context.Context, prompt string) (string, error)

	client *genai.Client
}

// New builds a Gemini-backed interpreter. The client connects lazily on
// first use so a missing API key surfaces as an interpretation error,
// not a bootstrap failure.
func New(cfg config.AIConfig, defaultMessage string) *Interpreter {
	it := &Interpreter{
		model:          cfg.Model,
		defaultMessage: defaultMessage,
	}
	it.generate = func(ctx context.Context, prompt string) (string, error) {
		if it.client == nil {
			if cfg.APIKey == "" {
				return "", fmt.Errorf("interpreter: api key missing")
			}
			client, err := genai.NewClient(ctx, &genai.ClientConfig{
				APIKey:  cfg.APIKey,
				Backend: genai.BackendGeminiAPI,
			})
			if err != nil {
				return "", fmt.Errorf("interpreter: new client: %w", err)
			}
			it.client = client
		}

		resp, err := it.client.Models.GenerateContent(ctx, it.model, genai.Text(prompt), nil)
		if err != nil {
			return "", fmt.Errorf("interpreter: generate: %w", err)
		}
		return resp.Text(), nil
	}
	return it
}

// Interpret extracts a destination and message from text. A prompt that
// yields no destination at all fails with ErrInterpretation so the
// caller can refuse it before any record exists.
func (it *Interpreter) Interpret(ctx context.Context, text string) (Result, error) {
	if strings.TrimSpace(text) == "" {
		return Result{}, fmt.Errorf("%w: empty prompt", apperrors.ErrInterpretation)
	}

	var parsed struct {
		Number  string `json:"number"`
		Message string `json:"message"`
	}

	raw, err := it.generate(ctx, instruction+"\n\nPrompt:\n"+text+"\n\nJSON:")
	if err == nil {
		_ = json.Unmarshal([]byte(stripFences(raw)), &parsed)
	}

	destination := ""
	if parsed.Number != "" {
		destination = validate.Normalize(parsed.Number)
	}
	if destination == "" {
		destination = validate.ExtractNumber(text)
	}
	if destination == "" {
		if err != nil {
			return Result{}, fmt.Errorf("%w: %v", apperrors.ErrInterpretation, err)
		}
		return Result{}, fmt.Errorf("%w: no destination number found in prompt", apperrors.ErrInterpretation)
	}

	message := strings.TrimSpace(parsed.Message)
	if message == "" {
		message = it.defaultMessage
	}

	return Result{Destination: destination, Message: message}, nil
}

// stripFences removes markdown code fences models like to wrap JSON in.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
