package rules

import (
	"sync"
	"time"
)

// InMemoryDecisionSetCache is a simple in-memory implementation of DecisionSetCache.
// Thread-safe for concurrent access.
type InMemoryDecisionSetCache struct {
	sets     []*DecisionSet
	cachedAt time.Time
	config   CacheConfig
	mu       sync.RWMutex
	isValid  bool
}

// NewInMemoryDecisionSetCache creates a new in-memory decision set cache
func NewInMemoryDecisionSetCache(config CacheConfig) *InMemoryDecisionSetCache {
	return &InMemoryDecisionSetCache{
		config: config,
	}
}

// Get returns nil if the cache is invalid or expired
func (c *InMemoryDecisionSetCache) Get() []*DecisionSet {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.fresh() {
		return nil
	}

	// copy so callers cannot reorder the cached slice
	out := make([]*DecisionSet, len(c.sets))
	copy(out, c.sets)
	return out
}

// Set stores decision sets in cache
func (c *InMemoryDecisionSetCache) Set(sets []*DecisionSet) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sets = make([]*DecisionSet, len(sets))
	copy(c.sets, sets)
	c.cachedAt = time.Now()
	c.isValid = true
}

// Invalidate clears the cache
func (c *InMemoryDecisionSetCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.isValid = false
	c.sets = nil
}

// IsValid returns true if cache contains valid data
func (c *InMemoryDecisionSetCache) IsValid() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.fresh()
}

func (c *InMemoryDecisionSetCache) fresh() bool {
	if !c.isValid {
		return false
	}
	if c.config.TTL > 0 {
		return time.Since(c.cachedAt) <= c.config.TTL
	}
	return true
}
