package bootstrap

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pointsUpserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ada_bootstrap_points_upserted_total",
			Help: "Number of example points written to the index by tenant",
		},
		[]string{"tenant"},
	)

	deploysTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ada_bootstrap_deploys_total",
			Help: "Number of example deploys by outcome",
		},
		[]string{"status"},
	)

	deployDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ada_bootstrap_deploy_duration_seconds",
			Help:    "Duration of example deploys in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
	)
)
