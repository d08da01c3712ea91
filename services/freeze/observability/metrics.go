// Copyright (C) 2025 LatticeForge (oss@latticeforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability exposes the controller's Prometheus metrics.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics for Stage Operations
// =============================================================================

var (
	// stageRuns counts stage invocations.
	// Labels: stage (train, split, disagreement, select, label, append,
	// preview), status (success, client_error, worker_error, timeout).
	stageRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "freeze",
		Subsystem: "stage",
		Name:      "runs_total",
		Help:      "Total stage invocations by outcome",
	}, []string{"stage", "status"})

	// stageDuration measures wall-clock time per stage invocation,
	// worker lifetime included. Labels: stage
	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "freeze",
		Subsystem: "stage",
		Name:      "duration_seconds",
		Help:      "Stage invocation duration in seconds",
		Buckets:   []float64{0.05, 0.25, 1, 5, 15, 60, 300, 1800, 7200},
	}, []string{"stage"})

	// activeStreams gauges currently open training event streams.
	activeStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "freeze",
		Subsystem: "stage",
		Name:      "active_streams",
		Help:      "Open NDJSON training streams",
	})
)

// ObserveStage records one finished stage invocation.
func ObserveStage(stage, status string, seconds float64) {
	stageRuns.WithLabelValues(stage, status).Inc()
	stageDuration.WithLabelValues(stage).Observe(seconds)
}

// StreamOpened marks a training stream as active until the returned
// function is called.
func StreamOpened() func() {
	activeStreams.Inc()
	return activeStreams.Dec
}
