package polymarket

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OrdersPostedTotal counts accepted orders by side.
	OrdersPostedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polystrat_polymarket_orders_posted_total",
			Help: "Total number of orders accepted by the CLOB",
		},
		[]string{"side"},
	)

	// OrdersRejectedTotal counts venue rejections.
	OrdersRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polystrat_polymarket_orders_rejected_total",
		Help: "Total number of orders rejected by the CLOB",
	})

	// BalanceUSD is the last observed wallet balance.
	BalanceUSD = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "polystrat_polymarket_balance_usd",
		Help: "Last observed USDC balance in USD",
	})
)
