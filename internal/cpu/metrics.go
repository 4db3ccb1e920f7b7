package cpu

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	partialsOps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "yew_partials_operations_total",
		Help: "Total number of partial-likelihood update operations executed",
	})

	matricesBuilt = promauto.NewCounter(prometheus.CounterOpts{
		Name: "yew_transition_matrices_built_total",
		Help: "Total number of transition matrices built from eigen models",
	})

	rescales = promauto.NewCounter(prometheus.CounterOpts{
		Name: "yew_rescales_total",
		Help: "Total number of per-node rescaling passes",
	})

	rootReductions = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "yew_root_reduction_duration_seconds",
		Help:    "Time spent integrating root partials into log likelihoods",
		Buckets: prometheus.DefBuckets,
	})
)
