package positions

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PositionsOpen tracks the number of positions currently held.
var PositionsOpen = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "polystrat_positions_open",
	Help: "Number of positions currently tracked in the store",
})
