package embed

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var embedTokens = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ada_embed_tokens_total",
		Help: "Number of tokens sent to the embeddings endpoint",
	},
	[]string{"model"},
)
