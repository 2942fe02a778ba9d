// SPDX-License-Identifier: MIT

// Package metrics exposes Prometheus instrumentation for the analytics
// pipeline. Counters are package-level promauto vars with small helper
// functions so call sites never touch label plumbing directly.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	emitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchtrail_emit_total",
		Help: "Event emission attempts by event kind and outcome",
	}, []string{"kind", "outcome"}) // outcome=sent|skipped|sign_error|transport_error|rejected

	emitInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "matchtrail_emit_in_flight",
		Help: "Background emission attempts currently in flight",
	})

	emitDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matchtrail_emit_dropped_total",
		Help: "Emissions dropped because the in-flight budget was exhausted",
	})
)

// IncEmit records one emission attempt outcome for the given event kind.
func IncEmit(kind, outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	emitTotal.WithLabelValues(kind, outcome).Inc()
}

// EmitStarted marks one background emission as in flight.
func EmitStarted() { emitInFlight.Inc() }

// EmitFinished marks one background emission as done.
func EmitFinished() { emitInFlight.Dec() }

// IncEmitDropped records an emission dropped for backpressure.
func IncEmitDropped() { emitDropped.Inc() }
