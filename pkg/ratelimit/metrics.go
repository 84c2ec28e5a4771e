package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AcquiresTotal counts admitted calls per limiter.
	AcquiresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polystrat_ratelimit_acquires_total",
			Help: "Total number of calls admitted by the rate limiter",
		},
		[]string{"limiter"},
	)

	// LimiterWaitsTotal counts calls that had to wait for a window slot.
	LimiterWaitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polystrat_ratelimit_waits_total",
			Help: "Total number of rate-limited waits",
		},
		[]string{"limiter"},
	)

	// LimiterWaitSeconds tracks how long callers waited for admission.
	LimiterWaitSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "polystrat_ratelimit_wait_seconds",
			Help:    "Time spent waiting for rate limiter admission",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"limiter"},
	)
)
