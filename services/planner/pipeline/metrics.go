// Copyright (C) 2025 Draftforge Labs (eng@draftforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// -----------------------------------------------------------------------------
// Metrics
// -----------------------------------------------------------------------------

const metricsNamespace = "draftforge"

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "pipeline",
		Name:      "runs_total",
		Help:      "Pipeline runs by workflow and terminal disposition",
	}, []string{"workflow", "disposition"})

	phaseDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: "pipeline",
		Name:      "phase_duration_seconds",
		Help:      "Wall time of one pipeline phase",
		Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"workflow", "phase", "status"})

	admissionInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "admission",
		Name:      "in_flight",
		Help:      "Currently held admission slots",
	})

	admissionWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: "admission",
		Name:      "wait_seconds",
		Help:      "Time spent waiting for an admission slot",
		Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 60},
	})

	fanoutItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "fanout",
		Name:      "items_total",
		Help:      "Fan-out items by outcome",
	}, []string{"outcome"})

	refineRounds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: "refine",
		Name:      "rounds",
		Help:      "Refinement rounds used per quality loop",
		Buckets:   []float64{0, 1, 2, 3, 4, 5, 8},
	})

	eventsEmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "pipeline",
		Name:      "events_emitted_total",
		Help:      "Progress events emitted by type",
	}, []string{"type"})
)
