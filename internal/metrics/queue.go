// SPDX-License-Identifier: MIT

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queueRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchtrail_queue_requests_total",
		Help: "Queue API requests by action and outcome",
	}, []string{"action", "outcome"}) // outcome=ok|http_error|status_error

	deadLetteredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matchtrail_dead_lettered_total",
		Help: "Messages redirected to the dead-letter queue after exhausting delivery attempts",
	})

	receiveBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "matchtrail_receive_batch_size",
		Help:    "Number of messages returned per receive call",
		Buckets: prometheus.LinearBuckets(0, 1, 11),
	})
)

// IncQueueRequest records one queue API call outcome.
func IncQueueRequest(action, outcome string) {
	queueRequestsTotal.WithLabelValues(action, outcome).Inc()
}

// IncDeadLettered records one message moved to the dead-letter queue.
func IncDeadLettered() { deadLetteredTotal.Inc() }

// ObserveReceiveBatchSize records the size of a received batch.
func ObserveReceiveBatchSize(n int) { receiveBatchSize.Observe(float64(n)) }
