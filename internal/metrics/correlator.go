// SPDX-License-Identifier: MIT

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	batchMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchtrail_batch_messages_total",
		Help: "Messages processed from queue batches by outcome",
	}, []string{"outcome"}) // outcome=completed|interim|orphan|failed|malformed

	correlationsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matchtrail_correlations_completed_total",
		Help: "Query/response pairs joined into a final record",
	})

	interimUpserts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matchtrail_interim_upserts_total",
		Help: "Interim records written while awaiting a response",
	})

	// Orphans are an expected steady-state outcome of eventual consistency,
	// counted for observability, never alerted on.
	orphanedResponses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchtrail_orphaned_responses_total",
		Help: "Responses with no matching interim record, by reason",
	}, []string{"reason"}) // reason=missing_interim|invalid_event

	joinLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "matchtrail_join_latency_seconds",
		Help:    "Time between query emission and completed join",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 14), // 50ms .. ~7m
	})
)

// IncBatchMessage records one processed batch message by outcome.
func IncBatchMessage(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	batchMessagesTotal.WithLabelValues(outcome).Inc()
}

// IncCorrelationCompleted records one successful query/response join.
func IncCorrelationCompleted() { correlationsCompleted.Inc() }

// IncInterimUpsert records one interim record write.
func IncInterimUpsert() { interimUpserts.Inc() }

// IncOrphanedResponse records an orphaned response with a concrete reason.
func IncOrphanedResponse(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	orphanedResponses.WithLabelValues(reason).Inc()
}

// ObserveJoinLatency records the query-to-join delay in seconds.
func ObserveJoinLatency(seconds float64) {
	if seconds < 0 {
		return
	}
	joinLatency.Observe(seconds)
}
