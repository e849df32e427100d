package rules

import "time"

// DecisionSetCache caches the active decision set list so hot paths do not
// hit the store. Implementations may be in-memory, Redis, etc.
type DecisionSetCache interface {
	// Get retrieves cached decision sets, returns nil if cache miss or expired
	Get() []*DecisionSet

	// Set stores decision sets in cache
	Set(sets []*DecisionSet)

	// Invalidate clears the cache, forcing a refresh on next Get
	Invalidate()

	// IsValid returns true if cache has valid data
	IsValid() bool
}

// CacheConfig holds configuration for cache behavior
type CacheConfig struct {
	// TTL is the time-to-live for cached entries
	// Set to 0 for no expiration (manual invalidation only)
	TTL time.Duration
}

// DefaultCacheConfig only invalidates on mutations
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{TTL: 0}
}
