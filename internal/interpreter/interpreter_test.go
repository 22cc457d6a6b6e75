package interpreter

import (
	"context"
	"errors"
	"fmt"
	"testing"

	apperrors "github.com/acme/autodialer/pkg/errors"
)

func fakeInterpreter(generate func(ctx context.Context, prompt string) (string, error)) *Interpreter {
	return &Interpreter{
		model:          "test-model",
		defaultMessage: "default greeting",
		generate:       generate,
	}
}

func TestInterpretParsesModelJSON(t *testing.T) {
	it := fakeInterpreter(func(ctx context.Context, prompt string) (string, error) {
		return `{"number":"+15005550006","message":"Your order shipped."}`, nil
	})

	got, err := it.Interpret(context.Background(), "call the test line about the order")
	if err != nil {
		t.Fatalf("interpret: %v", err)
	}
	if got.Destination != "+15005550006" {
		t.Errorf("destination = %q", got.Destination)
	}
	if got.Message != "Your order shipped." {
		t.Errorf("message = %q", got.Message)
	}
}

func TestInterpretStripsCodeFences(t *testing.T) {
	it := fakeInterpreter(func(ctx context.Context, prompt string) (string, error) {
		return "```json\n{\"number\":\"+15005550009\",\"message\":\"hi\"}\n```", nil
	})

	got, err := it.Interpret(context.Background(), "whatever")
	if err != nil {
		t.Fatalf("interpret: %v", err)
	}
	if got.Destination != "+15005550009" {
		t.Errorf("destination = %q", got.Destination)
	}
}

func TestInterpretFallsBackToTextExtraction(t *testing.T) {
	it := fakeInterpreter(func(ctx context.Context, prompt string) (string, error) {
		return "", fmt.Errorf("model unavailable")
	})

	got, err := it.Interpret(context.Background(), "please ring +15005550100 right away")
	if err != nil {
		t.Fatalf("interpret: %v", err)
	}
	if got.Destination != "+15005550100" {
		t.Errorf("destination = %q", got.Destination)
	}
	if got.Message != "default greeting" {
		t.Errorf("message should fall back to default, got %q", got.Message)
	}
}

func TestInterpretNoNumberAnywhere(t *testing.T) {
	it := fakeInterpreter(func(ctx context.Context, prompt string) (string, error) {
		return `{"number":"","message":"hello"}`, nil
	})

	_, err := it.Interpret(context.Background(), "call my mom and say hi")
	if !errors.Is(err, apperrors.ErrInterpretation) {
		t.Fatalf("expected ErrInterpretation, got %v", err)
	}
}

func TestInterpretEmptyPrompt(t *testing.T) {
	it := fakeInterpreter(func(ctx context.Context, prompt string) (string, error) {
		t.Fatal("generate must not be called for an empty prompt")
		return "", nil
	})

	_, err := it.Interpret(context.Background(), "   ")
	if !errors.Is(err, apperrors.ErrInterpretation) {
		t.Fatalf("expected ErrInterpretation, got %v", err)
	}
}
