package batchaction

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/DhavalThkkar/langfuse/pkg/cache"
)

// ModeEventBased is the negative-cache mode for event and experiment evaluators.
const ModeEventBased = "eventBased"

// NegativeConfigCache remembers, for a short time, that a project has no
// eligible evaluator configs in a given mode.
type NegativeConfigCache interface {
	Has(ctx context.Context, projectID, mode string) (bool, error)
	Set(ctx context.Context, projectID, mode string) error
}

// MemoryNegativeCache is an in-process NegativeConfigCache.
type MemoryNegativeCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]time.Time // key -> expiry
}

// NewMemoryNegativeCache creates a cache whose markers expire after ttl.
func NewMemoryNegativeCache(ttl time.Duration) *MemoryNegativeCache {
	return &MemoryNegativeCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]time.Time),
	}
}

func negativeCacheKey(projectID, mode string) string {
	return cache.JoinKey("no-eval-configs", mode, projectID)
}

// Has reports whether an unexpired marker exists.
func (c *MemoryNegativeCache) Has(_ context.Context, projectID, mode string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := negativeCacheKey(projectID, mode)
	expiry, ok := c.entries[key]
	if !ok {
		return false, nil
	}
	if !c.now().Before(expiry) {
		delete(c.entries, key)
		return false, nil
	}
	return true, nil
}

// Set writes a marker for ttl.
func (c *MemoryNegativeCache) Set(_ context.Context, projectID, mode string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[negativeCacheKey(projectID, mode)] = c.now().Add(c.ttl)
	return nil
}

// RedisNegativeCache stores markers as expiring Redis keys.
type RedisNegativeCache struct {
	client *cache.Client
	ttl    time.Duration
}

// NewRedisNegativeCache creates a Redis-backed NegativeConfigCache.
func NewRedisNegativeCache(client *cache.Client, ttl time.Duration) *RedisNegativeCache {
	return &RedisNegativeCache{client: client, ttl: ttl}
}

// Has reports whether the marker key exists.
func (c *RedisNegativeCache) Has(ctx context.Context, projectID, mode string) (bool, error) {
	ok, err := c.client.Exists(ctx, negativeCacheKey(projectID, mode))
	if err != nil {
		return false, fmt.Errorf("failed to read no-eval-configs marker: %w", err)
	}
	return ok, nil
}

// Set writes the marker key with the configured TTL.
func (c *RedisNegativeCache) Set(ctx context.Context, projectID, mode string) error {
	if err := c.client.Set(ctx, negativeCacheKey(projectID, mode), "1", c.ttl); err != nil {
		return fmt.Errorf("failed to write no-eval-configs marker: %w", err)
	}
	return nil
}
