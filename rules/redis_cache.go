package rules

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDecisionSetCache shares the active decision set list between server
// replicas through Redis. Redis failures are logged and read as a cache miss.
type RedisDecisionSetCache struct {
	client  *redis.Client
	key     string
	config  CacheConfig
	timeout time.Duration
	logger  *slog.Logger
}

// RedisCacheOption configures a RedisDecisionSetCache
type RedisCacheOption func(*RedisDecisionSetCache)

// WithRedisKey sets the key holding the cached list
func WithRedisKey(key string) RedisCacheOption {
	return func(c *RedisDecisionSetCache) { c.key = key }
}

// WithRedisTimeout bounds every Redis round trip
func WithRedisTimeout(d time.Duration) RedisCacheOption {
	return func(c *RedisDecisionSetCache) { c.timeout = d }
}

func WithRedisLogger(l *slog.Logger) RedisCacheOption {
	return func(c *RedisDecisionSetCache) { c.logger = l }
}

// NewRedisDecisionSetCache creates a cache over an existing client. A zero
// TTL keeps entries until invalidated.
func NewRedisDecisionSetCache(client *redis.Client, config CacheConfig, opts ...RedisCacheOption) *RedisDecisionSetCache {
	c := &RedisDecisionSetCache{
		client:  client,
		key:     "decisions:active_sets",
		config:  config,
		timeout: 2 * time.Second,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns nil on a miss, an expired entry or a Redis error
func (c *RedisDecisionSetCache) Get() []*DecisionSet {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	data, err := c.client.Get(ctx, c.key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("decision set cache read failed", "key", c.key, "error", err)
		}
		return nil
	}

	sets := []*DecisionSet{}
	if err := json.Unmarshal(data, &sets); err != nil {
		c.logger.Warn("decision set cache entry is corrupt", "key", c.key, "error", err)
		return nil
	}
	return sets
}

// Set stores decision sets with the configured TTL
func (c *RedisDecisionSetCache) Set(sets []*DecisionSet) {
	if sets == nil {
		sets = []*DecisionSet{}
	}
	data, err := json.Marshal(sets)
	if err != nil {
		c.logger.Warn("failed to encode decision sets for cache", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	if err := c.client.Set(ctx, c.key, data, c.config.TTL).Err(); err != nil {
		c.logger.Warn("decision set cache write failed", "key", c.key, "error", err)
	}
}

// Invalidate deletes the cached list
func (c *RedisDecisionSetCache) Invalidate() {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	if err := c.client.Del(ctx, c.key).Err(); err != nil {
		c.logger.Warn("decision set cache invalidation failed", "key", c.key, "error", err)
	}
}

// IsValid returns true if the cached list exists
func (c *RedisDecisionSetCache) IsValid() bool {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	n, err := c.client.Exists(ctx, c.key).Result()
	return err == nil && n == 1
}
