// Package cache provides a process-wide get-or-compute cache with TTL
// eviction. Lifecycle is tied to application startup; TTL expiry is the only
// invalidation mechanism unless a caller invalidates explicitly.
package cache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// TTL caches computed values under string keys for a fixed duration.
type TTL[V any] struct {
	mu  sync.Mutex
	lru *lru.LRU[string, V]
}

// NewTTL creates a cache holding up to size entries, each expiring ttl after
// it was stored.
func NewTTL[V any](size int, ttl time.Duration) *TTL[V] {
	return &TTL[V]{lru: lru.NewLRU[string, V](size, nil, ttl)}
}

// GetOrCompute returns the cached value for key, or runs fn and caches its
// result. Errors are never cached. The lock is held across fn so concurrent
// callers for the same key compute once.
func (c *TTL[V]) GetOrCompute(key string, fn func() (V, error)) (V, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.lru.Get(key); ok {
		return v, nil
	}

	v, err := fn()
	if err != nil {
		var zero V
		return zero, err
	}
	c.lru.Add(key, v)
	return v, nil
}

// Invalidate drops a key, if present.
func (c *TTL[V]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(key)
}
