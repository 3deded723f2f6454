// Copyright (C) 2025 Plotforge (dev@plotforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the studio
// service: run lifecycle counters, generation latency histograms, and
// live gauges for active runs and WebSocket observers.
//
// All metric operations are thread-safe via Prometheus's internal
// locking. Metrics are exposed on /metrics.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "gridstudio"

const experimentSubsystem = "experiment"

// ExperimentMetrics holds all Prometheus metrics for experiment execution.
type ExperimentMetrics struct {
	// RunsTotal counts finished runs by terminal status
	// (completed, failed, cancelled).
	RunsTotal *prometheus.CounterVec

	// ImagesGeneratedTotal counts artifacts produced across all runs.
	ImagesGeneratedTotal prometheus.Counter

	// GenerationDurationSeconds measures per-image backend latency.
	GenerationDurationSeconds prometheus.Histogram

	// ActiveRuns tracks execution loops currently holding a lock.
	ActiveRuns prometheus.Gauge

	// QueuedRuns tracks starts waiting for a worker-pool slot.
	QueuedRuns prometheus.Gauge

	// BackendRetriesTotal counts transient-error retries against the
	// generation backend.
	BackendRetriesTotal prometheus.Counter

	// EventsPublishedTotal counts progress events by type.
	EventsPublishedTotal *prometheus.CounterVec

	// Observers tracks live WebSocket subscribers.
	Observers prometheus.Gauge
}

// DefaultMetrics is the singleton instance, set by InitMetrics. Callers
// must nil-check it: metrics are optional in tests.
var DefaultMetrics *ExperimentMetrics

// InitMetrics registers all experiment metrics with the default registry.
// Call once at startup; a second call panics on duplicate registration.
func InitMetrics() *ExperimentMetrics {
	DefaultMetrics = &ExperimentMetrics{
		RunsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: experimentSubsystem,
				Name:      "runs_total",
				Help:      "Finished experiment runs by terminal status",
			},
			[]string{"status"},
		),

		ImagesGeneratedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: experimentSubsystem,
				Name:      "images_generated_total",
				Help:      "Artifacts produced across all runs",
			},
		),

		GenerationDurationSeconds: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: experimentSubsystem,
				Name:      "generation_duration_seconds",
				Help:      "Per-image backend generation latency",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
		),

		ActiveRuns: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: experimentSubsystem,
				Name:      "active_runs",
				Help:      "Execution loops currently holding a lock",
			},
		),

		QueuedRuns: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: experimentSubsystem,
				Name:      "queued_runs",
				Help:      "Starts waiting for a worker-pool slot",
			},
		),

		BackendRetriesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: experimentSubsystem,
				Name:      "backend_retries_total",
				Help:      "Transient-error retries against the generation backend",
			},
		),

		EventsPublishedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: experimentSubsystem,
				Name:      "events_published_total",
				Help:      "Progress events published by type",
			},
			[]string{"type"},
		),

		Observers: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: experimentSubsystem,
				Name:      "observers",
				Help:      "Live WebSocket subscribers",
			},
		),
	}
	return DefaultMetrics
}
