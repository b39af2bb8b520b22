package llm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	llmCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ada_llm_calls_total",
			Help: "Number of LLM completions by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	llmTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ada_llm_tokens_total",
			Help: "Number of LLM tokens by provider, model and direction",
		},
		[]string{"provider", "model", "direction"},
	)

	llmDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ada_llm_call_duration_seconds",
			Help:    "Duration of LLM completions including retries",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		},
		[]string{"provider"},
	)
)
