package catalog

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MarketsFetchedTotal counts markets returned by the Gamma API.
var MarketsFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "polystrat_catalog_markets_fetched_total",
	Help: "Total number of markets fetched from the catalog API",
})
