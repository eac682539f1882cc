package device

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	arenaGrows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "glu_scratch_grows_total",
		Help: "Total number of scratch region growth allocations",
	}, []string{"arena"})

	arenaReuses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "glu_scratch_reuses_total",
		Help: "Total number of scratch acquisitions served from the existing allocation",
	}, []string{"arena"})

	arenaBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "glu_scratch_bytes",
		Help: "Current backing allocation size per scratch arena in bytes",
	}, []string{"arena"})
)
