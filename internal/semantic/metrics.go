package semantic

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts LLM API calls by result.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polystrat_semantic_llm_requests_total",
			Help: "LLM clustering requests by result (ok, error)",
		},
		[]string{"result"},
	)

	// CacheHitsTotal counts clustering results served from cache.
	CacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polystrat_semantic_cache_hits_total",
		Help: "Clustering results served from cache",
	})
)
