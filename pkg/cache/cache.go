// Package cache provides the TTL cache the engine puts in front of its
// expensive lookups: LLM pairing verdicts and per-account balance reads.
package cache

import "time"

// Cache is a TTL key-value store. Values are opaque; callers own the type
// assertion on the way out.
type Cache interface {
	// Get returns the cached value and whether it was present.
	Get(key string) (interface{}, bool)

	// Set stores value under key for ttl. The write may be applied
	// asynchronously; the return value reports whether it was accepted.
	Set(key string, value interface{}, ttl time.Duration) bool

	// Delete drops key if present.
	Delete(key string)

	// Clear drops every entry.
	Clear()

	// Close releases the cache's resources. The cache is unusable after.
	Close()
}
