// SPDX-License-Identifier: MIT

// Package correlator joins the two independently-arriving halves of an
// analytics interaction into one durable record. It tolerates duplicate
// delivery, arbitrary arrival order, and transient store failures: every
// write is an idempotent upsert keyed by correlation ID, and every
// failure is scoped to the single message that caused it.
package correlator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/skillsift/matchtrail/internal/events"
	xlog "github.com/skillsift/matchtrail/internal/log"
	"github.com/skillsift/matchtrail/internal/metrics"
	"github.com/skillsift/matchtrail/internal/queue"
	"github.com/skillsift/matchtrail/internal/store"
)

// errMalformed marks permanent per-message failures. The message is
// still reported failed so the queue's redrive policy eventually routes
// it to the dead-letter queue; redelivery cannot fix a broken body.
var errMalformed = errors.New("malformed message")

// Config tunes the correlation window.
type Config struct {
	// Window is how long a query waits for its response before the
	// interim record expires. Expiry is enforced by the interim store's
	// native TTL, not by polling.
	Window time.Duration
}

// Correlator is a stateless batch processor; any number of instances may
// run concurrently against the same stores.
type Correlator struct {
	interim store.InterimStore
	final   store.FinalStore
	window  time.Duration
	logger  zerolog.Logger
	now     func() time.Time
}

// New builds a correlator over the two stores.
func New(interim store.InterimStore, final store.FinalStore, cfg Config, logger zerolog.Logger) *Correlator {
	window := cfg.Window
	if window <= 0 {
		window = 15 * time.Minute
	}
	return &Correlator{
		interim: interim,
		final:   final,
		window:  window,
		logger:  logger,
		now:     time.Now,
	}
}

// ProcessBatch implements queue.Processor. Messages are independent: a
// failure of message N is reported for N alone, so the queue redelivers
// N without touching its batch-mates.
func (c *Correlator) ProcessBatch(ctx context.Context, msgs []queue.Message) queue.BatchResult {
	tracer := otel.Tracer("matchtrail/correlator")
	ctx, span := tracer.Start(ctx, "correlator.batch", trace.WithAttributes(
		attribute.Int("batch.size", len(msgs)),
	))
	defer span.End()

	result := queue.BatchResult{Failed: make(map[string]bool)}
	for _, msg := range msgs {
		if err := c.processMessage(ctx, msg); err != nil {
			result.Failed[msg.ID] = true
			if errors.Is(err, errMalformed) {
				metrics.IncBatchMessage("malformed")
				c.logger.Error().Err(err).
					Str(xlog.FieldMessageID, msg.ID).
					Int(xlog.FieldAttempts, msg.ReceiveCount).
					Msg("malformed message, awaiting dead-letter redrive")
				continue
			}
			metrics.IncBatchMessage("failed")
			c.logger.Warn().Err(err).
				Str(xlog.FieldMessageID, msg.ID).
				Msg("message processing failed, queue will redeliver")
		}
	}
	return result
}

func (c *Correlator) processMessage(ctx context.Context, msg queue.Message) error {
	ev, err := events.Decode(msg.Body)
	if err != nil {
		return fmt.Errorf("%w: %w", errMalformed, err)
	}
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("%w: %w", errMalformed, err)
	}

	switch ev := ev.(type) {
	case events.QueryEvent:
		return c.onQuery(ctx, ev)
	case events.ResponseEvent:
		return c.onResponse(ctx, ev)
	default:
		return fmt.Errorf("%w: unhandled event type %T", errMalformed, ev)
	}
}

// onQuery upserts the interim record. Redelivery of the same query
// overwrites the same key and refreshes its window; there is no
// duplication to guard against.
func (c *Correlator) onQuery(ctx context.Context, ev events.QueryEvent) error {
	rec := store.InterimRecord{
		CorrelationID: ev.CorrelationID,
		Snapshot:      ev,
		ExpiresAt:     c.now().Add(c.window),
	}
	if err := c.interim.Upsert(ctx, rec); err != nil {
		return fmt.Errorf("query %s: %w", ev.CorrelationID, err)
	}

	metrics.IncInterimUpsert()
	metrics.IncBatchMessage("interim")
	c.logger.Debug().
		Str(xlog.FieldCorrelationID, ev.CorrelationID).
		Time("expires_at", rec.ExpiresAt).
		Msg("awaiting response")
	return nil
}

// onResponse looks up the query half and completes the join. A response
// with no interim record is an orphan: an expected steady-state outcome
// of eventual consistency (expired window, already-completed join, or
// arrival before its query), counted and logged, never fabricated into a
// partial record.
func (c *Correlator) onResponse(ctx context.Context, ev events.ResponseEvent) error {
	interim, found, err := c.interim.Get(ctx, ev.CorrelationID)
	if err != nil {
		return fmt.Errorf("response %s: %w", ev.CorrelationID, err)
	}
	if !found {
		metrics.IncOrphanedResponse("missing_interim")
		metrics.IncBatchMessage("orphan")
		c.logger.Info().
			Str(xlog.FieldCorrelationID, ev.CorrelationID).
			Str(xlog.FieldEvent, "orphaned_response").
			Msg("response with no awaiting query, dropped")
		return nil
	}

	query := interim.Snapshot
	if ev.OccurredAt < query.OccurredAt {
		// The transport does not enforce the timestamp invariant; a
		// response predating its query means a skewed emitter clock.
		// Still joinable, but worth seeing.
		c.logger.Warn().
			Str(xlog.FieldCorrelationID, ev.CorrelationID).
			Int64("query_occurred_at", query.OccurredAt).
			Int64("response_occurred_at", ev.OccurredAt).
			Msg("response predates its query")
	}

	rec := merge(query, ev)
	if err := c.final.Upsert(ctx, rec); err != nil {
		return fmt.Errorf("response %s: %w", ev.CorrelationID, err)
	}

	// The join is durable from here on. If the interim delete fails the
	// record simply rides out its TTL; a redelivered response would then
	// rewrite the identical final row.
	if err := c.interim.Delete(ctx, ev.CorrelationID); err != nil {
		c.logger.Warn().Err(err).
			Str(xlog.FieldCorrelationID, ev.CorrelationID).
			Msg("interim cleanup failed, leaving to TTL")
	}

	metrics.IncCorrelationCompleted()
	metrics.IncBatchMessage("completed")
	metrics.ObserveJoinLatency(c.now().Sub(time.UnixMilli(query.OccurredAt)).Seconds())
	c.logger.Info().
		Str(xlog.FieldCorrelationID, ev.CorrelationID).
		Str(xlog.FieldPeriodBucket, rec.PeriodBucket).
		Str("match_type", string(ev.MatchType)).
		Int("match_score", ev.MatchScore).
		Msg("correlation completed")
	return nil
}

// merge builds the final record as the union of both halves plus the
// derived aggregation bucket.
func merge(query events.QueryEvent, resp events.ResponseEvent) store.CorrelatedRecord {
	return store.CorrelatedRecord{
		CorrelationID:      query.CorrelationID,
		Query:              query.Query,
		QueryOccurredAt:    query.OccurredAt,
		MatchType:          resp.MatchType,
		MatchScore:         resp.MatchScore,
		Reasoning:          resp.Reasoning,
		MatchCount:         resp.MatchCount,
		ResponseOccurredAt: resp.OccurredAt,
		PeriodBucket:       store.PeriodBucket(resp.OccurredAt),
	}
}
