package cache

import (
	"time"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"
)

// RistrettoCache backs Cache with an admission-controlled in-process store.
// Cost accounting counts items, not bytes: every entry costs 1, so MaxCost
// is the entry capacity.
type RistrettoCache struct {
	cache  *ristretto.Cache
	logger *zap.Logger
}

// RistrettoConfig sizes the cache. NumCounters should be roughly ten times
// the expected entry count so the admission policy has frequency data.
type RistrettoConfig struct {
	NumCounters int64
	MaxCost     int64
	BufferItems int64
	Logger      *zap.Logger
}

// NewRistrettoCache builds a Ristretto-backed cache with metrics enabled.
func NewRistrettoCache(cfg *RistrettoConfig) (Cache, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	inner, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
		Metrics:     true,
	})
	if err != nil {
		return nil, err
	}

	return &RistrettoCache{cache: inner, logger: logger}, nil
}

// Get implements Cache.
func (r *RistrettoCache) Get(key string) (interface{}, bool) {
	value, found := r.cache.Get(key)
	if found {
		CacheHitsTotal.Inc()
	} else {
		CacheMissesTotal.Inc()
	}
	r.logger.Debug("cache-lookup", zap.String("key", key), zap.Bool("hit", found))
	return value, found
}

// Set implements Cache. Ristretto may reject the write under pressure.
func (r *RistrettoCache) Set(key string, value interface{}, ttl time.Duration) bool {
	accepted := r.cache.SetWithTTL(key, value, 1, ttl)
	if accepted {
		CacheSetsTotal.Inc()
		r.logger.Debug("cache-set", zap.String("key", key), zap.Duration("ttl", ttl))
	}
	return accepted
}

// Delete implements Cache.
func (r *RistrettoCache) Delete(key string) {
	r.cache.Del(key)
	CacheDeletesTotal.Inc()
}

// Clear implements Cache.
func (r *RistrettoCache) Clear() {
	r.cache.Clear()
	r.logger.Info("cache-cleared")
}

// Close implements Cache.
func (r *RistrettoCache) Close() {
	r.cache.Close()
}

// Metrics exposes Ristretto's internal counters.
func (r *RistrettoCache) Metrics() *ristretto.Metrics {
	return r.cache.Metrics
}

// Wait blocks until buffered writes have been applied. Tests use it to make
// a Set observable before the following Get.
func (r *RistrettoCache) Wait() {
	r.cache.Wait()
}
