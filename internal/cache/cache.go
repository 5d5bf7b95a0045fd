package cache

import (
	"context"
	"sync"
	"time"

	"github.com/Impulse-Zero/python.github.io/internal/logger"
)

// Cache defines the interface for a generic cache
// that can store and retrieve values with a TTL
type Cache[K comparable, V any] interface {
	// Set stores a value in the cache with the specified TTL
	Set(key K, value V, ttl time.Duration)
	// Get retrieves a value from the cache and a boolean indicating if it was found
	Get(key K) (V, bool)
	// Delete removes a value from the cache, running the eviction callback
	Delete(key K) bool
	// Clear removes all values from the cache, running the eviction callback
	Clear()
	// Len returns the number of stored values, expired or not
	Len() int
	// Sweep evicts every expired value and returns how many were evicted
	Sweep() int
}

// EvictFunc is called with every value leaving the cache, outside the lock
type EvictFunc[K comparable, V any] func(key K, value V)

// Options tune a memory cache
type Options[K comparable, V any] struct {
	// OnEvict runs when a value is deleted, cleared or expires
	OnEvict EvictFunc[K, V]
	// Sliding extends an entry's TTL on every Get
	Sliding bool
	// Now replaces the clock, for tests
	Now func() time.Time
}

// entry represents a cache entry with its expiration time
type entry[V any] struct {
	value     V
	ttl       time.Duration
	expiresAt time.Time
}

func (e entry[V]) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// memoryCache is an in-memory implementation of the Cache interface
type memoryCache[K comparable, V any] struct {
	items map[K]entry[V]
	mu    sync.Mutex
	log   *logger.Logger
	opts  Options[K, V]
}

// NewMemoryCache creates a new in-memory cache with the provided logger
func NewMemoryCache[K comparable, V any](log *logger.Logger, opts Options[K, V]) Cache[K, V] {
	if log == nil {
		log = logger.Get()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &memoryCache[K, V]{
		items: make(map[K]entry[V]),
		log:   log.Component("cache"),
		opts:  opts,
	}
}

// Set stores a value in the cache with the specified TTL. A zero TTL never
// expires.
func (c *memoryCache[K, V]) Set(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	e := entry[V]{value: value, ttl: ttl}
	if ttl > 0 {
		e.expiresAt = c.opts.Now().Add(ttl)
	}
	old, replaced := c.items[key]
	c.items[key] = e
	size := len(c.items)
	c.mu.Unlock()

	if replaced {
		c.evict(key, old.value)
	}

	c.log.Debug("Item added to cache", map[string]interface{}{
		"key":        key,
		"cache_size": size,
	})
}

// Get retrieves a value from the cache and a boolean indicating if it was found
func (c *memoryCache[K, V]) Get(key K) (V, bool) {
	var zero V

	c.mu.Lock()
	item, found := c.items[key]
	if !found {
		c.mu.Unlock()
		return zero, false
	}

	now := c.opts.Now()
	if item.expired(now) {
		delete(c.items, key)
		c.mu.Unlock()

		c.log.Debug("Cache item expired", map[string]interface{}{"key": key})
		c.evict(key, item.value)
		return zero, false
	}

	if c.opts.Sliding && item.ttl > 0 {
		item.expiresAt = now.Add(item.ttl)
		c.items[key] = item
	}
	c.mu.Unlock()

	return item.value, true
}

// Delete removes a value from the cache
func (c *memoryCache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	item, found := c.items[key]
	delete(c.items, key)
	remaining := len(c.items)
	c.mu.Unlock()

	if !found {
		return false
	}

	c.log.Debug("Item removed from cache", map[string]interface{}{
		"key":             key,
		"remaining_items": remaining,
	})
	c.evict(key, item.value)
	return true
}

// Clear removes all values from the cache
func (c *memoryCache[K, V]) Clear() {
	c.mu.Lock()
	items := c.items
	c.items = make(map[K]entry[V])
	c.mu.Unlock()

	for k, e := range items {
		c.evict(k, e.value)
	}

	c.log.Info("Cache cleared", map[string]interface{}{"evicted": len(items)})
}

func (c *memoryCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *memoryCache[K, V]) Sweep() int {
	now := c.opts.Now()

	c.mu.Lock()
	expired := make(map[K]V)
	for k, e := range c.items {
		if e.expired(now) {
			expired[k] = e.value
			delete(c.items, k)
		}
	}
	c.mu.Unlock()

	for k, v := range expired {
		c.evict(k, v)
	}
	if len(expired) > 0 {
		c.log.Debug("Expired items swept", map[string]interface{}{"evicted": len(expired)})
	}
	return len(expired)
}

func (c *memoryCache[K, V]) evict(key K, value V) {
	if c.opts.OnEvict != nil {
		c.opts.OnEvict(key, value)
	}
}

// RunJanitor sweeps c every interval until ctx is done
func RunJanitor[K comparable, V any](ctx context.Context, c Cache[K, V], interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

// WithTTL returns a wrapper that automatically applies a TTL to all Set operations
func WithTTL[K comparable, V any](cache Cache[K, V], ttl time.Duration) Cache[K, V] {
	return &ttlWrapper[K, V]{
		Cache: cache,
		ttl:   ttl,
	}
}

type ttlWrapper[K comparable, V any] struct {
	Cache[K, V]
	ttl time.Duration
}

func (w *ttlWrapper[K, V]) Set(key K, value V, _ time.Duration) {
	w.Cache.Set(key, value, w.ttl)
}
