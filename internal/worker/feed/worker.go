// Package feed hosts the worker that folds call status events into the
// Redis counters behind the overview endpoint.
package feed

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/autodialer/internal/app"
	"github.com/acme/autodialer/internal/domain"
	"github.com/acme/autodialer/internal/feed"
	"github.com/acme/autodialer/internal/queue"
)

// Worker consumes call status events and maintains per-status counters.
type Worker struct {
	container *app.Container
}

// New creates a new feed worker.
func New(container *app.Container) *Worker {
	return &Worker{container: container}
}

// Run processes status events until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	cfg := w.container.Config
	groupID := cfg.Kafka.ConsumerGroupID + "-feed"
	reader := w.container.Kafka.NewReader(cfg.Kafka.StatusTopic, groupID)
	defer reader.Close()

	counters := w.container.Redis.Inner()
	log := w.container.Logger
	tracer := otel.Tracer("autodialer.feedworker")

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error("feed worker: fetch", zap.Error(err))
			continue
		}

		var status queue.StatusMessage
		if err := json.Unmarshal(msg.Value, &status); err != nil {
			log.Error("feed worker: unmarshal", zap.Error(err))
			_ = reader.CommitMessages(ctx, msg)
			continue
		}

		sctx, span := tracer.Start(ctx, "feed.count", trace.WithAttributes(
			attribute.String("call.id", status.CallID.String()),
			attribute.String("status", string(status.Status)),
		))

		pipe := counters.Pipeline()
		pipe.HIncrBy(sctx, feed.CounterKey, string(status.Status), 1)
		if prev, ok := previousStatus(status.Status); ok {
			pipe.HIncrBy(sctx, feed.CounterKey, string(prev), -1)
		}
		if _, err := pipe.Exec(sctx); err != nil {
			span.RecordError(err)
			// Uncommitted, but the reader keeps advancing within this
			// session: the increment is only replayed once the group
			// resumes from the last committed offset. Counters drift
			// until then.
			log.Error("feed worker: apply counters, message left uncommitted and counters may drift until replay",
				zap.String("call_id", status.CallID.String()),
				zap.Error(err))
			span.End()
			continue
		}
		span.End()

		if err := reader.CommitMessages(ctx, msg); err != nil {
			log.Error("feed worker: commit", zap.Error(err))
		}
	}
}

// previousStatus derives the state a call left when it entered status.
// The lifecycle admits exactly one predecessor per non-initial state.
func previousStatus(status domain.CallStatus) (domain.CallStatus, bool) {
	switch status {
	case domain.CallStatusDialing, domain.CallStatusSkipped:
		return domain.CallStatusQueued, true
	case domain.CallStatusSuccess, domain.CallStatusFailed:
		return domain.CallStatusDialing, true
	}
	return "", false
}
