package runtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ScansTotal counts completed scan passes per strategy.
	ScansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polystrat_runtime_scans_total",
			Help: "Completed scan passes per strategy",
		},
		[]string{"strategy"},
	)

	// ErrorsTotal counts loop errors per strategy.
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polystrat_runtime_errors_total",
			Help: "Errors encountered by runtime loops per strategy",
		},
		[]string{"strategy"},
	)
)
