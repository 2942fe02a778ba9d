// SPDX-License-Identifier: MIT

// Package emitter publishes analytics events to the queue without ever
// blocking or erroring into the caller's control flow. Delivery is
// best-effort: one attempt per event, every failure logged and counted
// locally, none propagated.
package emitter

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/skillsift/matchtrail/internal/events"
	xlog "github.com/skillsift/matchtrail/internal/log"
	"github.com/skillsift/matchtrail/internal/metrics"
	"github.com/skillsift/matchtrail/internal/sigv4"
)

// Sender is the queue surface the emitter needs; satisfied by
// queue.Client and by test fakes.
type Sender interface {
	Send(ctx context.Context, body []byte, groupID, dedupID string) error
}

// Config bounds the emitter's background work.
type Config struct {
	// Timeout caps each delivery attempt so background work always
	// finishes inside the invocation's teardown window.
	Timeout time.Duration
	// MaxInFlight bounds concurrent background deliveries; emissions
	// beyond the budget are dropped, not queued.
	MaxInFlight int
}

// Emitter hands events to the queue in detached units of work.
type Emitter struct {
	sender  Sender
	logger  zerolog.Logger
	timeout time.Duration
	slots   chan struct{}
	wg      sync.WaitGroup

	logSkipOnce sync.Once
}

// New builds an emitter around the given sender. The logger is injected
// so tests can assert on emitted log events.
func New(sender Sender, cfg Config, logger zerolog.Logger) *Emitter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 64
	}
	return &Emitter{
		sender:  sender,
		logger:  logger,
		timeout: cfg.Timeout,
		slots:   make(chan struct{}, cfg.MaxInFlight),
	}
}

// Emit schedules one best-effort delivery of the event. It never blocks,
// never panics, and never returns an error to the caller: the original
// request/response cycle must be unaffected by anything that happens
// here.
func (e *Emitter) Emit(event events.Event) {
	kind := string(event.Kind())

	if err := event.Validate(); err != nil {
		e.logger.Warn().Err(err).
			Str(xlog.FieldEventKind, kind).
			Msg("dropping invalid event")
		metrics.IncEmit(kind, "rejected")
		return
	}

	body, err := events.Encode(event)
	if err != nil {
		e.logger.Error().Err(err).
			Str(xlog.FieldEventKind, kind).
			Msg("event encode failed")
		metrics.IncEmit(kind, "rejected")
		return
	}

	select {
	case e.slots <- struct{}{}:
	default:
		metrics.IncEmitDropped()
		e.logger.Warn().
			Str(xlog.FieldEventKind, kind).
			Str(xlog.FieldCorrelationID, event.Correlation()).
			Msg("emission dropped, in-flight budget exhausted")
		return
	}

	groupID := event.Correlation()
	dedupID := events.DedupID(event.Correlation(), event.Kind(), event.Timestamp())

	e.wg.Add(1)
	go e.deliver(event, kind, body, groupID, dedupID)
}

// deliver runs detached from the caller. All failure paths terminate
// here.
func (e *Emitter) deliver(event events.Event, kind string, body []byte, groupID, dedupID string) {
	metrics.EmitStarted()
	defer func() {
		metrics.EmitFinished()
		<-e.slots
		e.wg.Done()
		if r := recover(); r != nil {
			e.logger.Error().
				Interface("panic", r).
				Str(xlog.FieldEventKind, kind).
				Msg("emission panicked")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	err := e.sender.Send(ctx, body, groupID, dedupID)
	switch {
	case err == nil:
		metrics.IncEmit(kind, "sent")
		e.logger.Debug().
			Str(xlog.FieldEventKind, kind).
			Str(xlog.FieldCorrelationID, event.Correlation()).
			Str(xlog.FieldDedupID, dedupID).
			Msg("event emitted")
	case errors.Is(err, sigv4.ErrNoCredentials):
		// Unconfigured environment. Expected in local development; log it
		// once, skip delivery quietly afterwards.
		metrics.IncEmit(kind, "skipped")
		e.logSkipOnce.Do(func() {
			e.logger.Info().Msg("no signing credentials, analytics emission disabled")
		})
	default:
		// Transient transport failure. No retry at this layer: losing a
		// best-effort telemetry event is acceptable, blocking a caller is
		// not.
		metrics.IncEmit(kind, "transport_error")
		e.logger.Warn().Err(err).
			Str(xlog.FieldEventKind, kind).
			Str(xlog.FieldCorrelationID, event.Correlation()).
			Msg("event delivery failed")
	}
}

// Close waits for in-flight deliveries to finish, bounded by ctx. It is
// called inside the invocation's teardown window, after the caller's
// response has already been returned.
func (e *Emitter) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
