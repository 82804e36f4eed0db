// Package cache implements the bounded read-through cache that fronts the
// collection store. Entries are derived, disposable copies keyed by
// (collection, operation signature); the store is always the source of truth.
package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	// DefaultTTL applies when a caller passes a zero TTL.
	DefaultTTL = 5 * time.Minute
	// DefaultMaxEntries bounds the table when no capacity is configured.
	DefaultMaxEntries = 100
)

// Stats receives hit/miss notifications. *observability.Metrics satisfies it.
type Stats interface {
	CacheHit()
	CacheMiss()
}

type entry struct {
	value    interface{}
	storedAt time.Time
}

// Cache is a TTL+capacity bounded read cache. When an insert would exceed the
// capacity, the entry with the smallest storedAt is evicted first.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	// gens tracks keys with a loader in flight. An invalidation bumps the
	// generation so a loader that started before the invalidating write
	// cannot store its pre-write result.
	gens       map[string]uint64
	maxEntries int
	ttl        time.Duration
	now        func() time.Time
	group      singleflight.Group
	stats      Stats
}

// Option configures a Cache.
type Option func(*Cache)

// WithMaxEntries overrides the capacity bound.
func WithMaxEntries(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.maxEntries = n
		}
	}
}

// WithTTL overrides the default TTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock injects the time source. Tests use this to age entries.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithStats wires hit/miss counters.
func WithStats(stats Stats) Option {
	return func(c *Cache) {
		c.stats = stats
	}
}

// New returns an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries:    make(map[string]entry),
		gens:       make(map[string]uint64),
		maxEntries: DefaultMaxEntries,
		ttl:        DefaultTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Loader fetches the value on a cache miss.
type Loader func(ctx context.Context) (interface{}, error)

// GetOrFetch returns the cached value for key when it is younger than ttl,
// otherwise invokes the loader, stores the result and returns it. Loader
// failures propagate unchanged and nothing is stored. Concurrent misses for
// the same key share one loader call.
func (c *Cache) GetOrFetch(ctx context.Context, key string, ttl time.Duration, loader Loader) (interface{}, error) {
	if ttl <= 0 {
		ttl = c.ttl
	}

	if value, ok := c.lookup(key, ttl); ok {
		if c.stats != nil {
			c.stats.CacheHit()
		}
		return value, nil
	}
	if c.stats != nil {
		c.stats.CacheMiss()
	}

	result := c.group.DoChan(key, func() (interface{}, error) {
		// A concurrent flight may have populated the entry between the
		// lookup above and this call.
		if value, ok := c.lookup(key, ttl); ok {
			return value, nil
		}
		gen := c.beginFlight(key)
		value, err := loader(ctx)
		if err != nil {
			c.abortFlight(key)
			return nil, err
		}
		c.put(key, value, gen)
		return value, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-result:
		return res.Val, res.Err
	}
}

func (c *Cache) lookup(key string, ttl time.Duration) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.storedAt) >= ttl {
		return nil, false
	}
	return e.value, true
}

// beginFlight registers the key so invalidations during the loader call are
// observable, and returns the generation the flight started at.
func (c *Cache) beginFlight(key string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	gen, ok := c.gens[key]
	if !ok {
		c.gens[key] = 0
	}
	return gen
}

func (c *Cache) abortFlight(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.gens, key)
}

func (c *Cache) put(key string, value interface{}, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	current := c.gens[key]
	delete(c.gens, key)
	if current != gen {
		// The key was invalidated while the loader ran; the loaded value
		// predates the write and must not be stored.
		return
	}
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOldestLocked()
	}
	c.entries[key] = entry{value: value, storedAt: c.now()}
}

// evictOldestLocked drops the entry with the smallest storedAt. Ties are
// broken arbitrarily.
func (c *Cache) evictOldestLocked() {
	var oldestKey string
	var oldestAt time.Time
	first := true
	for key, e := range c.entries {
		if first || e.storedAt.Before(oldestAt) {
			oldestKey = key
			oldestAt = e.storedAt
			first = false
		}
	}
	if !first {
		delete(c.entries, oldestKey)
	}
}

// Invalidate removes a single entry.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	if _, ok := c.gens[key]; ok {
		c.gens[key]++
	}
}

// InvalidatePattern removes every entry whose key contains the substring.
// Writers call this with the collection name before returning.
func (c *Cache) InvalidatePattern(substring string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if strings.Contains(key, substring) {
			delete(c.entries, key)
		}
	}
	for key := range c.gens {
		if strings.Contains(key, substring) {
			c.gens[key]++
		}
	}
}

// Clear empties the cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
	for key := range c.gens {
		c.gens[key]++
	}
}

// Len reports the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Keys returns a snapshot of the stored keys, unordered.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	return keys
}
