package strategy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OpportunitiesTotal counts detected opportunities per strategy.
	OpportunitiesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polystrat_strategy_opportunities_total",
			Help: "Opportunities detected per strategy",
		},
		[]string{"strategy"},
	)

	// EntriesTotal counts executed entries per strategy.
	EntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polystrat_strategy_entries_total",
			Help: "Positions entered per strategy",
		},
		[]string{"strategy"},
	)

	// ExitsTotal counts exits per strategy and reason.
	ExitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polystrat_strategy_exits_total",
			Help: "Positions exited per strategy and reason",
		},
		[]string{"strategy", "reason"},
	)
)
