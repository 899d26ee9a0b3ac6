// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package metrics carries the engine's observability: Prometheus metrics
// for scrape, the OpenTelemetry tracer/meter wiring, and an optional
// InfluxDB mirror for dashboards that live next to the time-series data.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Batch outcome labels. One expansion trigger produces exactly one of these.
const (
	OutcomeCommitted = "committed"
	OutcomePartial   = "partial"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"

	// OutcomeDiscarded labels a reconnection candidate that failed the
	// duration or consistency gate. Expansion batches never use it.
	OutcomeDiscarded = "discarded"
)

var (
	// expansionBatches counts expansion batch attempts.
	// Labels: outcome (committed, partial, rejected, failed)
	expansionBatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "worldloom",
		Subsystem: "topology",
		Name:      "expansion_batches_total",
		Help:      "Expansion batch attempts by outcome",
	}, []string{"outcome"})

	// expansionLatency measures end-to-end batch latency, trigger to commit.
	// Labels: outcome
	expansionLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "worldloom",
		Subsystem: "topology",
		Name:      "expansion_latency_seconds",
		Help:      "Expansion batch latency in seconds",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
	}, []string{"outcome"})

	// expansionStubs counts per-stub dispositions across all batches.
	// Labels: disposition (accepted, rejected)
	expansionStubs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "worldloom",
		Subsystem: "topology",
		Name:      "expansion_stubs_total",
		Help:      "Stub dispositions across expansion batches",
	}, []string{"disposition"})

	// gateRejections counts rejections per gate.
	// Labels: gate (schema, safety, exit-sanity, duplication)
	gateRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "worldloom",
		Subsystem: "topology",
		Name:      "gate_rejections_total",
		Help:      "Stub rejections by validation gate",
	}, []string{"gate"})

	// oracleCalls counts narrative oracle calls.
	// Labels: kind (generate, judge), status (success, timeout, error)
	oracleCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "worldloom",
		Subsystem: "topology",
		Name:      "oracle_calls_total",
		Help:      "Narrative oracle calls by kind and status",
	}, []string{"kind", "status"})

	// oracleLatency measures oracle round-trip time.
	// Labels: kind
	oracleLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "worldloom",
		Subsystem: "topology",
		Name:      "oracle_latency_seconds",
		Help:      "Narrative oracle latency in seconds",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
	}, []string{"kind"})

	// reconnectionSearches counts reconnection search outcomes.
	// Labels: outcome (committed, discarded, empty, failed)
	reconnectionSearches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "worldloom",
		Subsystem: "topology",
		Name:      "reconnection_searches_total",
		Help:      "Reconnection search attempts by outcome",
	}, []string{"outcome"})

	// reconnectionHops tracks the hop count of committed reconnections.
	reconnectionHops = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "worldloom",
		Subsystem: "topology",
		Name:      "reconnection_hops",
		Help:      "Hop distance of committed reconnections",
		Buckets:   []float64{1, 2, 3, 4, 5, 6, 8},
	})

	// reconnectionDurationRatio tracks candidate vs original travel duration.
	reconnectionDurationRatio = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "worldloom",
		Subsystem: "topology",
		Name:      "reconnection_duration_ratio",
		Help:      "Candidate over original travel duration for committed reconnections",
		Buckets:   []float64{0.25, 0.5, 0.75, 1, 1.25, 1.5, 1.75, 2},
	})

	// stagedBatches gauges batches sitting in staging, undecided.
	stagedBatches = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "worldloom",
		Subsystem: "topology",
		Name:      "staged_batches",
		Help:      "Batches currently staged and awaiting a commit decision",
	})

	// integrityViolations counts detected structural defects.
	integrityViolations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "worldloom",
		Subsystem: "topology",
		Name:      "integrity_violations_total",
		Help:      "Detected graph integrity violations",
	})
)

// RecordBatch records one expansion batch attempt.
//
// Inputs:
//
//	outcome - One of the Outcome* constants.
//	accepted - Stubs that survived the gate chain and committed.
//	rejected - Stubs removed by gates.
//	seconds - End-to-end batch latency.
func RecordBatch(outcome string, accepted, rejected int, seconds float64) {
	expansionBatches.WithLabelValues(outcome).Inc()
	expansionLatency.WithLabelValues(outcome).Observe(seconds)
	expansionStubs.WithLabelValues("accepted").Add(float64(accepted))
	expansionStubs.WithLabelValues("rejected").Add(float64(rejected))
}

// RecordGateRejection counts one stub rejection at the named gate.
func RecordGateRejection(gate string) {
	gateRejections.WithLabelValues(gate).Inc()
}

// RecordOracleCall records one oracle round trip.
//
// Inputs:
//
//	kind - "generate" or "judge".
//	status - "success", "timeout", or "error".
//	seconds - Round-trip latency.
func RecordOracleCall(kind, status string, seconds float64) {
	oracleCalls.WithLabelValues(kind, status).Inc()
	oracleLatency.WithLabelValues(kind).Observe(seconds)
}

// RecordReconnection records one reconnection search. Hops and ratio are
// only observed for committed reconnections, where they are meaningful.
func RecordReconnection(outcome string, hops int, ratio float64) {
	reconnectionSearches.WithLabelValues(outcome).Inc()
	if outcome == OutcomeCommitted {
		reconnectionHops.Observe(float64(hops))
		reconnectionDurationRatio.Observe(ratio)
	}
}

// SetStagedBatches publishes the current staging backlog.
func SetStagedBatches(n int) {
	stagedBatches.Set(float64(n))
}

// RecordIntegrityViolation counts one detected structural defect.
func RecordIntegrityViolation() {
	integrityViolations.Inc()
}
