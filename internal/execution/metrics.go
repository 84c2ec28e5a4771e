package execution

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PairEntriesTotal counts two-leg entry attempts by outcome.
	PairEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polystrat_execution_pair_entries_total",
			Help: "Two-leg entry attempts by outcome (filled, partial, rejected)",
		},
		[]string{"outcome"},
	)

	// RollbacksTotal counts orphan-leg rollbacks by result.
	RollbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polystrat_execution_rollbacks_total",
			Help: "Orphan leg rollback attempts by result (ok, failed)",
		},
		[]string{"result"},
	)

	// OrderLatencySeconds observes wall time per posted order.
	OrderLatencySeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "polystrat_execution_order_latency_seconds",
		Help:    "Latency of order submission round trips",
		Buckets: prometheus.DefBuckets,
	})
)
