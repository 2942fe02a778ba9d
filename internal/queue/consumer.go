// SPDX-License-Identifier: MIT

package queue

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	xlog "github.com/skillsift/matchtrail/internal/log"
	"github.com/skillsift/matchtrail/internal/metrics"
)

// BatchResult reports the outcome of one processed batch. Only the
// listed message IDs are redelivered; everything else is acknowledged.
type BatchResult struct {
	Failed map[string]bool
}

// FailedMessage reports whether the message with the given ID failed.
func (r BatchResult) FailedMessage(id string) bool {
	return r.Failed[id]
}

// Processor consumes one delivered batch. Each message is processed
// independently; a failure of one must not fail the rest.
type Processor interface {
	ProcessBatch(ctx context.Context, msgs []Message) BatchResult
}

// Receiver is the queue surface the consumer needs; satisfied by Client
// and by test fakes.
type Receiver interface {
	Receive(ctx context.Context, max int, wait time.Duration) ([]Message, error)
	Delete(ctx context.Context, receiptHandle string) error
	Release(ctx context.Context, receiptHandle string) error
	DeadLetter(ctx context.Context, msg Message) error
}

// Archiver keeps a local copy of dead-lettered messages for operator
// inspection. Optional; a nil archiver disables archiving.
type Archiver interface {
	Archive(ctx context.Context, msg Message) error
}

// ConsumerConfig bounds the polling loop.
type ConsumerConfig struct {
	MaxBatch            int           // max messages per receive, capped at 10
	WaitTime            time.Duration // long-poll duration
	MaxDeliveryAttempts int           // redrive threshold before dead-lettering
	PollsPerSecond      float64       // receive-call pacing across the worker pool
}

// Consumer drives the poll → process → ack loop for one stateless worker.
// Multiple consumers may run in parallel; the queue scopes ordering per
// message group, so one correlation ID is never split across workers
// mid-flight.
type Consumer struct {
	cfg     ConsumerConfig
	queue   Receiver
	proc    Processor
	archive Archiver
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// NewConsumer wires a consumer to a queue and a batch processor.
func NewConsumer(cfg ConsumerConfig, queue Receiver, proc Processor, logger zerolog.Logger) *Consumer {
	if cfg.MaxBatch <= 0 || cfg.MaxBatch > 10 {
		cfg.MaxBatch = 10
	}
	if cfg.WaitTime <= 0 {
		cfg.WaitTime = 20 * time.Second
	}
	if cfg.MaxDeliveryAttempts <= 0 {
		cfg.MaxDeliveryAttempts = 5
	}
	if cfg.PollsPerSecond <= 0 {
		cfg.PollsPerSecond = 2
	}
	return &Consumer{
		cfg:     cfg,
		queue:   queue,
		proc:    proc,
		limiter: rate.NewLimiter(rate.Limit(cfg.PollsPerSecond), 1),
		logger:  logger,
	}
}

// WithArchive attaches a dead-letter archive to the consumer.
func (c *Consumer) WithArchive(a Archiver) *Consumer {
	c.archive = a
	return c
}

// Run polls until the context is cancelled. Receive errors are logged
// and retried on the next tick; they never terminate the loop.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return ctx.Err()
		}

		msgs, err := c.queue.Receive(ctx, c.cfg.MaxBatch, c.cfg.WaitTime)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn().Err(err).Msg("receive failed")
			continue
		}
		if len(msgs) == 0 {
			continue
		}

		c.handleBatch(ctx, msgs)
	}
}

func (c *Consumer) handleBatch(ctx context.Context, msgs []Message) {
	tracer := otel.Tracer("matchtrail/queue")
	ctx, span := tracer.Start(ctx, "consumer.batch", trace.WithAttributes(
		attribute.Int("batch.size", len(msgs)),
	))
	defer span.End()

	// Poison messages are split off before processing: once a message has
	// exhausted its delivery attempts, the only remaining move is the
	// dead-letter queue.
	live := msgs[:0:0]
	for _, msg := range msgs {
		if msg.ReceiveCount > c.cfg.MaxDeliveryAttempts {
			c.deadLetter(ctx, msg)
			continue
		}
		live = append(live, msg)
	}
	if len(live) == 0 {
		return
	}

	result := c.proc.ProcessBatch(ctx, live)

	for _, msg := range live {
		if result.FailedMessage(msg.ID) {
			// Leave the message for redelivery, but release it so the
			// retry does not wait out the full visibility timeout.
			if err := c.queue.Release(ctx, msg.ReceiptHandle); err != nil {
				c.logger.Debug().Err(err).
					Str(xlog.FieldMessageID, msg.ID).
					Msg("visibility release failed")
			}
			continue
		}
		if err := c.queue.Delete(ctx, msg.ReceiptHandle); err != nil {
			// The message will be redelivered and reprocessed; every write
			// downstream is idempotent, so this costs a duplicate attempt,
			// not a duplicate record.
			c.logger.Warn().Err(err).
				Str(xlog.FieldMessageID, msg.ID).
				Msg("ack failed")
		}
	}
}

func (c *Consumer) deadLetter(ctx context.Context, msg Message) {
	logger := c.logger.With().
		Str(xlog.FieldMessageID, msg.ID).
		Int(xlog.FieldAttempts, msg.ReceiveCount).
		Logger()

	if err := c.queue.DeadLetter(ctx, msg); err != nil {
		// Redrive failed; the message stays on the main queue and will be
		// offered again.
		logger.Error().Err(err).Msg("dead-letter redrive failed")
		return
	}
	metrics.IncBatchMessage("dead_lettered")
	logger.Warn().Msg("message dead-lettered after max delivery attempts")

	if c.archive != nil {
		if err := c.archive.Archive(ctx, msg); err != nil {
			// The authoritative copy already sits on the dead-letter queue;
			// a failed local archive write only loses convenience access.
			logger.Warn().Err(err).Msg("dead-letter archive write failed")
		}
	}
}
