package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ada_cache_hits_total",
			Help: "Number of cache hits by component",
		},
		[]string{"component"},
	)

	cacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ada_cache_misses_total",
			Help: "Number of cache misses by component",
		},
		[]string{"component"},
	)

	cacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ada_cache_errors_total",
			Help: "Number of failed cache operations by operation",
		},
		[]string{"op"},
	)
)
