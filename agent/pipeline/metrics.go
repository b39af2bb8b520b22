package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	turnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ada_pipeline_turns_total",
			Help: "Number of finished turns by intent and status",
		},
		[]string{"intent", "status"},
	)

	stepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ada_pipeline_step_duration_seconds",
			Help:    "Duration of pipeline steps",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		},
		[]string{"step"},
	)

	correctionRounds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ada_pipeline_correction_rounds",
			Help:    "Correction rounds used per data turn",
			Buckets: []float64{0, 1, 2},
		},
	)

	coalescedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ada_pipeline_coalesced_total",
			Help: "Data turns answered by another in-flight or cached computation",
		},
		[]string{"via"},
	)
)
