// SPDX-License-Identifier: MIT

package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeReceiver scripts receive batches and records queue operations.
type fakeReceiver struct {
	mu          sync.Mutex
	batches     [][]Message
	deleted     []string
	released    []string
	deadLetters []string
	recvErr     error
}

func (f *fakeReceiver) Receive(ctx context.Context, _ int, _ time.Duration) ([]Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recvErr != nil {
		return nil, f.recvErr
	}
	if len(f.batches) == 0 {
		return nil, nil
	}
	batch := f.batches[0]
	f.batches = f.batches[1:]
	return batch, nil
}

func (f *fakeReceiver) Delete(_ context.Context, receiptHandle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, receiptHandle)
	return nil
}

func (f *fakeReceiver) Release(_ context.Context, receiptHandle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, receiptHandle)
	return nil
}

func (f *fakeReceiver) DeadLetter(_ context.Context, msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deadLetters = append(f.deadLetters, msg.ID)
	return nil
}

// fakeProcessor fails the configured message IDs and records batches.
type fakeProcessor struct {
	mu      sync.Mutex
	fail    map[string]bool
	batches [][]Message
}

func (p *fakeProcessor) ProcessBatch(_ context.Context, msgs []Message) BatchResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, msgs)
	failed := make(map[string]bool)
	for _, m := range msgs {
		if p.fail[m.ID] {
			failed[m.ID] = true
		}
	}
	return BatchResult{Failed: failed}
}

func newTestConsumer(queue Receiver, proc Processor) *Consumer {
	return NewConsumer(ConsumerConfig{
		MaxBatch:            10,
		WaitTime:            time.Millisecond,
		MaxDeliveryAttempts: 3,
		PollsPerSecond:      1000,
	}, queue, proc, zerolog.Nop())
}

func TestHandleBatch_AcksSucceededReleasesFailed(t *testing.T) {
	fr := &fakeReceiver{}
	fp := &fakeProcessor{fail: map[string]bool{"m2": true}}
	c := newTestConsumer(fr, fp)

	c.handleBatch(context.Background(), []Message{
		{ID: "m1", ReceiptHandle: "rh1", ReceiveCount: 1},
		{ID: "m2", ReceiptHandle: "rh2", ReceiveCount: 1},
		{ID: "m3", ReceiptHandle: "rh3", ReceiveCount: 2},
	})

	assert.ElementsMatch(t, []string{"rh1", "rh3"}, fr.deleted)
	assert.Equal(t, []string{"rh2"}, fr.released, "failed message is released for prompt redelivery, never deleted")
	assert.Empty(t, fr.deadLetters)
}

func TestHandleBatch_DeadLettersExhaustedMessages(t *testing.T) {
	fr := &fakeReceiver{}
	fp := &fakeProcessor{}
	c := newTestConsumer(fr, fp)

	c.handleBatch(context.Background(), []Message{
		{ID: "poison", ReceiptHandle: "rh1", ReceiveCount: 4}, // > MaxDeliveryAttempts
		{ID: "fresh", ReceiptHandle: "rh2", ReceiveCount: 1},
	})

	assert.Equal(t, []string{"poison"}, fr.deadLetters)

	// The poison message must never reach the processor.
	require.Len(t, fp.batches, 1)
	require.Len(t, fp.batches[0], 1)
	assert.Equal(t, "fresh", fp.batches[0][0].ID)
	assert.Equal(t, []string{"rh2"}, fr.deleted)
}

// fakeArchiver records archived messages and optionally fails.
type fakeArchiver struct {
	mu       sync.Mutex
	archived []Message
	err      error
}

func (a *fakeArchiver) Archive(_ context.Context, msg Message) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.archived = append(a.archived, msg)
	return nil
}

func TestHandleBatch_ArchivesDeadLetteredMessages(t *testing.T) {
	fr := &fakeReceiver{}
	fa := &fakeArchiver{}
	c := newTestConsumer(fr, &fakeProcessor{}).WithArchive(fa)

	c.handleBatch(context.Background(), []Message{
		{ID: "poison", ReceiptHandle: "rh1", GroupID: "corr-1", Body: []byte(`{"broken":true}`), ReceiveCount: 4},
	})

	require.Len(t, fa.archived, 1)
	assert.Equal(t, "poison", fa.archived[0].ID)
	assert.Equal(t, "corr-1", fa.archived[0].GroupID)
}

func TestHandleBatch_ArchiveFailureDoesNotBlockRedrive(t *testing.T) {
	fr := &fakeReceiver{}
	fa := &fakeArchiver{err: errors.New("disk full")}
	c := newTestConsumer(fr, &fakeProcessor{}).WithArchive(fa)

	c.handleBatch(context.Background(), []Message{
		{ID: "poison", ReceiptHandle: "rh1", ReceiveCount: 4},
	})

	// Redrive still happened; the archive is convenience only.
	assert.Equal(t, []string{"poison"}, fr.deadLetters)
}

func TestHandleBatch_AllPoisonSkipsProcessor(t *testing.T) {
	fr := &fakeReceiver{}
	fp := &fakeProcessor{}
	c := newTestConsumer(fr, fp)

	c.handleBatch(context.Background(), []Message{
		{ID: "p1", ReceiptHandle: "rh1", ReceiveCount: 10},
	})

	assert.Empty(t, fp.batches)
	assert.Equal(t, []string{"p1"}, fr.deadLetters)
}

func TestRun_ProcessesUntilCancelled(t *testing.T) {
	fr := &fakeReceiver{batches: [][]Message{
		{{ID: "m1", ReceiptHandle: "rh1", ReceiveCount: 1}},
		{{ID: "m2", ReceiptHandle: "rh2", ReceiveCount: 1}},
	}}
	fp := &fakeProcessor{}
	c := newTestConsumer(fr, fp)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		fr.mu.Lock()
		defer fr.mu.Unlock()
		return len(fr.deleted) == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop on cancellation")
	}
}

func TestRun_SurvivesReceiveErrors(t *testing.T) {
	fr := &fakeReceiver{recvErr: errors.New("throttled")}
	fp := &fakeProcessor{}
	c := newTestConsumer(fr, fp)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := c.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, fp.batches, "no batch may reach the processor on receive failure")
}
