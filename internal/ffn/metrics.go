package ffn

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	forwardTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "glu_ffn_forward_total",
		Help: "Total number of FFN forward calls by pipeline state",
	}, []string{"state"})

	forwardTokens = promauto.NewCounter(prometheus.CounterOpts{
		Name: "glu_ffn_tokens_total",
		Help: "Total number of tokens pushed through the FFN",
	})

	forwardDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "glu_ffn_forward_duration_seconds",
		Help:    "Time spent in one FFN forward call",
		Buckets: prometheus.DefBuckets,
	})

	anomaliesFound = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "glu_ffn_anomalies_total",
		Help: "Numeric anomalies detected per inspection tag and kind",
	}, []string{"tag", "kind"})
)
