// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability exposes Prometheus metrics for the
// query-processing pipeline, grounded on observability/metrics.go's
// promauto-registered CounterVec/HistogramVec/GaugeVec struct, one
// metric per pipeline-stage concern instead of per streaming endpoint.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "graphrag"
const pipelineSubsystem = "pipeline"

// Metrics holds every counter and histogram the pipeline emits.
// Initialize once via New() at startup.
type Metrics struct {
	// GuardrailBlocksTotal counts questions rejected before planning.
	// Labels: reason (the matched rule name).
	GuardrailBlocksTotal *prometheus.CounterVec

	// DBQueryTotal counts executor queries against the graph store.
	// Labels: status (ok, timeout, write_blocked, upstream_unavailable).
	DBQueryTotal *prometheus.CounterVec

	// LLMCallsTotal counts LLM invocations.
	// Labels: kind (extraction, generation, summarisation), status (ok, error).
	LLMCallsTotal *prometheus.CounterVec

	// ExecutorTimeoutsTotal counts executor queries that hit the
	// configured timeout.
	ExecutorTimeoutsTotal prometheus.Counter

	// StageLatencySeconds measures wall-clock latency per pipeline
	// stage. Labels: stage.
	StageLatencySeconds *prometheus.HistogramVec

	// RateLimitDeniedTotal counts requests rejected by the rate limiter.
	RateLimitDeniedTotal prometheus.Counter

	// CitationsUnverifiedTotal counts summaries whose citations failed
	// cross-reference against the retrieved chunks.
	CitationsUnverifiedTotal prometheus.Counter
}

// New creates and registers every metric against the default
// Prometheus registry. Calling it twice panics on duplicate
// registration, matching observability.InitMetrics's contract.
func New() *Metrics {
	return &Metrics{
		GuardrailBlocksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "guardrail_blocks_total",
				Help:      "Total questions rejected by the guardrail before planning",
			},
			[]string{"reason"},
		),
		DBQueryTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "db_query_total",
				Help:      "Total graph store queries by outcome",
			},
			[]string{"status"},
		),
		LLMCallsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "llm_calls_total",
				Help:      "Total LLM invocations by kind and outcome",
			},
			[]string{"kind", "status"},
		),
		ExecutorTimeoutsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "executor_timeouts_total",
				Help:      "Total executor queries that exceeded the configured timeout",
			},
		),
		StageLatencySeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "stage_latency_seconds",
				Help:      "Latency per pipeline stage in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"stage"},
		),
		RateLimitDeniedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "rate_limit_denied_total",
				Help:      "Total requests rejected by the rate limiter",
			},
		),
		CitationsUnverifiedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "citations_unverified_total",
				Help:      "Total summaries with at least one citation absent from the retrieved chunks",
			},
		),
	}
}

// ObserveStage records the latency of one pipeline stage.
func (m *Metrics) ObserveStage(stage string, seconds float64) {
	if m == nil {
		return
	}
	m.StageLatencySeconds.WithLabelValues(stage).Observe(seconds)
}
