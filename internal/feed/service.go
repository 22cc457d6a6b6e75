// Package feed exposes read-only views over the call history: the
// status overview and the CSV export.
package feed

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"github.com/acme/autodialer/internal/domain"
	"github.com/acme/autodialer/internal/repository"
)

// CounterKey is the Redis hash holding per-status call counters,
// maintained by the feed worker.
const CounterKey = "autodialer:feed:status_counts"

// Overview summarizes the call history by status.
type Overview struct {
	Total    int                       `json:"total"`
	ByStatus map[domain.CallStatus]int `json:"by_status"`
}

// Service serves overview and export queries.
type Service struct {
	calls     repository.CallStore
	campaigns repository.CampaignRepository
	counters  *redis.Client
}

// NewService wires the feed service. counters may be nil; the overview
// then recomputes from the call store.
func NewService(calls repository.CallStore, campaigns repository.CampaignRepository, counters *redis.Client) *Service {
	return &Service{calls: calls, campaigns: campaigns, counters: counters}
}

// CampaignStatus returns the campaign and its records in submission
// order.
func (s *Service) CampaignStatus(ctx context.Context, campaignID uuid.UUID) (*domain.Campaign, []domain.CallRecord, error) {
	campaign, err := s.campaigns.Get(ctx, campaignID)
	if err != nil {
		return nil, nil, err
	}
	records, err := s.calls.ListByCampaign(ctx, campaignID)
	if err != nil {
		return nil, nil, err
	}
	return campaign, records, nil
}

// Records returns the full call history, ordered by campaign then seq.
func (s *Service) Records(ctx context.Context) ([]domain.CallRecord, error) {
	records, err := s.calls.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("feed: records: %w", err)
	}
	return records, nil
}

// Overview reads the per-status counters. The Redis hash kept by the
// feed worker answers cheaply; when it is absent or empty the counts
// are recomputed from the store.
func (s *Service) Overview(ctx context.Context) (Overview, error) {
	if s.counters != nil {
		raw, err := s.counters.HGetAll(ctx, CounterKey).Result()
		if err == nil && len(raw) > 0 {
			out := Overview{ByStatus: make(map[domain.CallStatus]int, len(raw))}
			for status, count := range raw {
				n, convErr := strconv.Atoi(count)
				if convErr != nil {
					continue
				}
				out.ByStatus[domain.CallStatus(status)] = n
				out.Total += n
			}
			return out, nil
		}
	}
	return s.recompute(ctx)
}

func (s *Service) recompute(ctx context.Context) (Overview, error) {
	records, err := s.calls.ListAll(ctx)
	if err != nil {
		return Overview{}, fmt.Errorf("feed: overview: %w", err)
	}
	out := Overview{ByStatus: make(map[domain.CallStatus]int)}
	for _, r := range records {
		out.ByStatus[r.Status]++
		out.Total++
	}
	return out, nil
}

// ExportCSV streams the full call history as CSV. Timestamps are
// RFC 3339, duration is in seconds with millisecond precision, and
// unfinished records leave the corresponding cells empty.
func (s *Service) ExportCSV(ctx context.Context, w io.Writer) error {
	records, err := s.calls.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("feed: export: %w", err)
	}

	writer := csv.NewWriter(w)
	header := []string{"id", "destination", "message", "status", "created_at", "started_at", "finished_at", "duration", "error_detail"}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("feed: write header: %w", err)
	}

	for i := range records {
		r := &records[i]
		row := []string{
			r.ID.String(),
			r.Destination,
			r.Message,
			string(r.Status),
			r.CreatedAt.Format(time.RFC3339),
			formatTime(r.StartedAt),
			formatTime(r.FinishedAt),
			formatDuration(r.Duration()),
			stringOrEmpty(r.ErrorDetail),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("feed: write row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("feed: flush: %w", err)
	}
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
