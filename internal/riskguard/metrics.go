package riskguard

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GuardEnabled is 1 while entries are allowed.
	GuardEnabled = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "polystrat_riskguard_enabled",
		Help: "Whether the risk guard allows new entries (1=enabled, 0=paused)",
	})

	// GuardBalance is the last checked balance.
	GuardBalance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "polystrat_riskguard_balance_usd",
		Help: "Last checked account balance in USD",
	})

	// DisableThreshold is the balance below which entries pause.
	DisableThreshold = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "polystrat_riskguard_disable_threshold_usd",
		Help: "Balance threshold below which entries pause",
	})

	// EnableThreshold is the balance above which entries resume.
	EnableThreshold = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "polystrat_riskguard_enable_threshold_usd",
		Help: "Balance threshold above which entries resume",
	})

	// StateChangesTotal counts pause/resume transitions.
	StateChangesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polystrat_riskguard_state_changes_total",
		Help: "Total pause/resume transitions",
	})
)
