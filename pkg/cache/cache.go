package cache

import (
	"context"
	"sync"
	"time"

	"github.com/flowyield-hq/flowyield-rebalancer/pkg/metrics"
)

// Cache is a TTL-keyed store used to avoid redundant calls to slow or
// rate-limited data sources. Each namespace (positions, executions, ...)
// owns its own Cache instance, so keys never collide across namespaces.
type Cache[T any] struct {
	mu      sync.RWMutex
	entries map[string]entry[T]
}

type entry[T any] struct {
	value    T
	storedAt time.Time
	ttl      time.Duration
}

// New creates an empty cache.
func New[T any]() *Cache[T] {
	return &Cache[T]{
		entries: make(map[string]entry[T]),
	}
}

// Get returns the cached value for key if present and not expired.
// Expired entries are pruned lazily on read.
func (c *Cache[T]) Get(key string) (T, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	var zero T
	if !ok {
		metrics.CacheMisses.Inc()
		return zero, false
	}
	if time.Since(e.storedAt) > e.ttl {
		c.mu.Lock()
		// Re-check under the write lock: another writer may have refreshed it.
		if cur, ok := c.entries[key]; ok && cur.storedAt.Equal(e.storedAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		metrics.CacheMisses.Inc()
		return zero, false
	}
	metrics.CacheHits.Inc()
	return e.value, true
}

// Set stores a value under key with the given TTL.
func (c *Cache[T]) Set(key string, value T, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = entry[T]{
		value:    value,
		storedAt: time.Now(),
		ttl:      ttl,
	}
}

// Delete removes a key from the cache.
func (c *Cache[T]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len returns the number of entries currently stored, including entries
// that expired but have not been pruned yet.
func (c *Cache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// GetOrCompute returns the cached value for key, or invokes producer and
// caches its result. Concurrent callers racing on the same missing key may
// each invoke producer, but every caller observes a value computed no
// earlier than its own call, so nobody can be handed a value that was
// already stale when they asked.
func (c *Cache[T]) GetOrCompute(key string, ttl time.Duration, producer func() (T, error)) (T, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	v, err := producer()
	if err != nil {
		var zero T
		return zero, err
	}
	c.Set(key, v, ttl)
	return v, nil
}

// StartSweeper runs a background goroutine that prunes expired entries every
// interval until ctx is cancelled. Lazy pruning on Get keeps the cache
// correct without it; the sweep only bounds memory for keys never read again.
func (c *Cache[T]) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.sweep()
			}
		}
	}()
}

func (c *Cache[T]) sweep() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, e := range c.entries {
		if now.Sub(e.storedAt) > e.ttl {
			delete(c.entries, key)
		}
	}
}
