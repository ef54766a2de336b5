package verification

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/evidentia/platform/internal/shared/logger"
	"github.com/redis/go-redis/v9"
)

// Cache stores verification results for a short TTL. Both successes and
// failures are cached; a result computed without the cache must be
// identical to a cached one. Cache errors are never surfaced: a broken
// cache degrades to computing every lookup.
type Cache interface {
	Get(ctx context.Context, key string) (*Result, bool)
	Set(ctx context.Context, key string, result *Result, ttl time.Duration)
}

// RedisCache backs the cache with Redis.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache creates a Redis-backed result cache.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client, prefix: "verify:"}
}

var _ Cache = (*RedisCache)(nil)

func (c *RedisCache) Get(ctx context.Context, key string) (*Result, bool) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		logger.L().Warnw("verification cache read failed", "error", err)
		return nil, false
	}

	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, false
	}
	return &result, true
}

func (c *RedisCache) Set(ctx context.Context, key string, result *Result, ttl time.Duration) {
	data, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.prefix+key, data, ttl).Err(); err != nil {
		logger.L().Warnw("verification cache write failed", "error", err)
	}
}

type cachedResult struct {
	result    *Result
	expiresAt time.Time
}

// MemoryCache is an in-process result cache used in development and tests.
type MemoryCache struct {
	mu      sync.Mutex
	results map[string]cachedResult
}

// NewMemoryCache creates an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{results: make(map[string]cachedResult)}
}

var _ Cache = (*MemoryCache)(nil)

func (c *MemoryCache) Get(ctx context.Context, key string) (*Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cached, ok := c.results[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(cached.expiresAt) {
		delete(c.results, key)
		return nil, false
	}
	copied := *cached.result
	return &copied, true
}

func (c *MemoryCache) Set(ctx context.Context, key string, result *Result, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	copied := *result
	c.results[key] = cachedResult{result: &copied, expiresAt: time.Now().Add(ttl)}
}

// NopCache disables caching. Correctness must not depend on the cache, so
// the nop implementation is also the reference behavior.
type NopCache struct{}

var _ Cache = NopCache{}

func (NopCache) Get(ctx context.Context, key string) (*Result, bool)             { return nil, false }
func (NopCache) Set(ctx context.Context, key string, r *Result, t time.Duration) {}
