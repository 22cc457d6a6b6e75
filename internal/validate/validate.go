// Package validate parses and screens candidate destination numbers.
// It is pure: the sandbox policy is passed in, and nothing here touches
// storage or the network.
package validate

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/acme/autodialer/internal/domain"
	apperrors "github.com/acme/autodialer/pkg/errors"
)

var (
	splitRe    = regexp.MustCompile(`[,\n; ]+`)
	nonDialRe  = regexp.MustCompile(`[^\d+]`)
	indianRe   = regexp.MustCompile(`^(?:\+91|0)?([6-9]\d{9})$`)
	ansiRe     = regexp.MustCompile("\x1b\\[[0-?]*[ -/]*[@-~]")
	fallbackRe = regexp.MustCompile(`\+?\d{7,15}`)
)

// Policy holds the sandbox number rules applied to every candidate.
type Policy struct {
	SandboxPrefix string
	MaxBatchSize  int
}

// Result is the outcome of screening one submission.
type Result struct {
	Accepted []string
	Rejected []domain.Rejection
}

// ParseText splits free text (comma, semicolon, space or newline
// separated) into normalized candidates.
func ParseText(value string) []string {
	var out []string
	for _, token := range splitRe.Split(strings.TrimSpace(value), -1) {
		if strings.TrimSpace(token) == "" {
			continue
		}
		if n := Normalize(token); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// ParseCSV extracts candidates from the first column of each CSV row.
func ParseCSV(content []byte) ([]string, error) {
	if len(content) == 0 {
		return nil, nil
	}

	reader := csv.NewReader(strings.NewReader(string(content)))
	reader.FieldsPerRecord = -1

	var out []string
	for {
		row, err := reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("validate: read csv: %w", err)
		}
		if len(row) == 0 {
			continue
		}
		if n := Normalize(row[0]); n != "" {
			out = append(out, n)
		}
	}
	return out, nil
}

// Normalize strips separators and standardizes prefixes: international
// 00 becomes +, a single leading 0 is dropped, and bare national Indian
// numbers gain a +91 country code.
func Normalize(raw string) string {
	number := nonDialRe.ReplaceAllString(strings.TrimSpace(raw), "")
	if strings.HasPrefix(number, "00") {
		number = "+" + number[2:]
	}
	if strings.HasPrefix(number, "0") && !strings.HasPrefix(number, "+") {
		number = number[1:]
	}
	if strings.HasPrefix(number, "91") && len(number) == 12 {
		number = "+" + number
	}
	if strings.HasPrefix(number, "+") && len(number) > 1 {
		return number
	}
	if len(number) == 10 {
		return "+91" + number
	}
	return number
}

// Screen applies the sandbox policy to an ordered candidate list.
// Submissions over the batch cap are refused outright: every candidate
// is reported as batch_too_large and an ErrValidation is returned, so
// the caller never dials a silently truncated batch.
func Screen(candidates []string, policy Policy) (Result, error) {
	if policy.MaxBatchSize > 0 && len(candidates) > policy.MaxBatchSize {
		res := Result{Rejected: make([]domain.Rejection, 0, len(candidates))}
		for _, c := range candidates {
			res.Rejected = append(res.Rejected, domain.Rejection{Input: c, Reason: domain.RejectReasonBatchTooLarge})
		}
		return res, fmt.Errorf("%w: batch of %d exceeds limit of %d", apperrors.ErrValidation, len(candidates), policy.MaxBatchSize)
	}

	res := Result{}
	for _, candidate := range candidates {
		number := Normalize(candidate)
		switch {
		case number == "" || !hasDigits(number):
			res.Rejected = append(res.Rejected, domain.Rejection{Input: candidate, Reason: domain.RejectReasonInvalidFormat})
		case strings.HasPrefix(number, policy.SandboxPrefix):
			res.Accepted = append(res.Accepted, number)
		case indianRe.MatchString(number):
			// Recognizable real number: refuse rather than bill someone.
			res.Rejected = append(res.Rejected, domain.Rejection{Input: candidate, Reason: domain.RejectReasonNotSandboxNumber})
		case strings.HasPrefix(number, "+") && len(number) >= 8 && len(number) <= 16:
			res.Rejected = append(res.Rejected, domain.Rejection{Input: candidate, Reason: domain.RejectReasonNotSandboxNumber})
		default:
			res.Rejected = append(res.Rejected, domain.Rejection{Input: candidate, Reason: domain.RejectReasonInvalidFormat})
		}
	}

	return res, nil
}

// Satisfies reports whether an already-normalized number passes the
// sandbox policy. Used as the pre-dial re-check.
func Satisfies(number string, policy Policy) bool {
	return strings.HasPrefix(number, policy.SandboxPrefix)
}

// ExtractNumber finds the first phone-number-looking token in free
// text. The prompt interpreter uses it as a fallback when the model
// returns no destination.
func ExtractNumber(text string) string {
	match := fallbackRe.FindString(text)
	if match == "" {
		return ""
	}
	return Normalize(match)
}

// StripANSI removes terminal escape sequences from provider error text
// before it is persisted.
func StripANSI(value string) string {
	return ansiRe.ReplaceAllString(value, "")
}

// UniquePreserveOrder deduplicates numbers keeping first occurrence
// order. The batch path deliberately does not use it (duplicates dial
// once per occurrence); it is exposed for callers that want dedup.
func UniquePreserveOrder(numbers []string) []string {
	seen := make(map[string]struct{}, len(numbers))
	out := make([]string, 0, len(numbers))
	for _, n := range numbers {
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

func hasDigits(s string) bool {
	for _, r := range s {
		if r >= '0' && r <= '9' {
			return true
		}
	}
	return false
}
