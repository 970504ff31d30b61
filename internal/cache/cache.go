// Package cache implements a generic in-memory TTL cache with hit/miss
// statistics. Eviction runs on a periodic sweep; reads additionally check
// expiry lazily, so an expired entry is never returned even before the next
// sweep.
package cache

import (
	"context"
	"path"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultTTL applies when a call passes a non-positive TTL.
const DefaultTTL = 600 * time.Second

// Stats counts cache operations since construction.
type Stats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Sets    int64 `json:"sets"`
	Deletes int64 `json:"deletes"`
}

type entry[V any] struct {
	value    V
	expireAt time.Time
}

func (e entry[V]) expired(now time.Time) bool {
	return now.After(e.expireAt)
}

// Cache is a string-keyed TTL cache of V values. All methods are safe for
// concurrent use.
type Cache[V any] struct {
	mu      sync.Mutex
	entries map[string]entry[V]
	stats   Stats
	group   singleflight.Group

	sweepStop chan struct{}
	stopOnce  sync.Once
}

// New constructs a Cache and starts its sweep goroutine. A non-positive
// sweepInterval disables sweeping; lazy expiry on read still applies.
// Call Close to stop the sweeper.
func New[V any](sweepInterval time.Duration) *Cache[V] {
	c := &Cache[V]{
		entries:   make(map[string]entry[V]),
		sweepStop: make(chan struct{}),
	}
	if sweepInterval > 0 {
		go c.sweepLoop(sweepInterval)
	}
	return c
}

func (c *Cache[V]) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweep(time.Now())
		case <-c.sweepStop:
			return
		}
	}
}

func (c *Cache[V]) sweep(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, k)
		}
	}
}

// Close stops the sweep goroutine. The cache remains usable afterwards.
func (c *Cache[V]) Close() {
	c.stopOnce.Do(func() { close(c.sweepStop) })
}

// Get returns the value for key if present and not expired.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || e.expired(time.Now()) {
		if ok {
			delete(c.entries, key)
		}
		c.stats.Misses++
		var zero V
		return zero, false
	}
	c.stats.Hits++
	return e.value, true
}

// Has reports whether key is present and not expired, without counting a
// hit or a miss.
func (c *Cache[V]) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return ok && !e.expired(time.Now())
}

// Set stores value under key for ttl. Non-positive ttl means DefaultTTL.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry[V]{value: value, expireAt: time.Now().Add(ttl)}
	c.stats.Sets++
}

// Delete removes key. Deleting an absent key is a no-op that still counts.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	c.stats.Deletes++
}

// MGet returns the present, unexpired values for keys, keyed by input key.
func (c *Cache[V]) MGet(keys ...string) map[string]V {
	result := make(map[string]V, len(keys))
	for _, k := range keys {
		if v, ok := c.Get(k); ok {
			result[k] = v
		}
	}
	return result
}

// MSet stores every entry of values with the same ttl.
func (c *Cache[V]) MSet(values map[string]V, ttl time.Duration) {
	for k, v := range values {
		c.Set(k, v, ttl)
	}
}

// DeletePattern removes every key matching pattern (path.Match syntax,
// e.g. "refs:*") and returns how many were removed.
func (c *Cache[V]) DeletePattern(pattern string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k := range c.entries {
		if ok, err := path.Match(pattern, k); err == nil && ok {
			delete(c.entries, k)
			c.stats.Deletes++
			n++
		}
	}
	return n
}

// GetOrSet returns the cached value for key, or calls refresh to produce it.
// Concurrent calls for the same cold key share a single refresh call.
// If refresh succeeds, its result is returned even when the subsequent cache
// write cannot happen; a refresh error is returned as-is and nothing is
// cached.
func (c *Cache[V]) GetOrSet(ctx context.Context, key string, refresh func(ctx context.Context) (V, error), ttl time.Duration) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// Re-check: another flight may have populated the key.
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		fresh, err := refresh(ctx)
		if err != nil {
			return nil, err
		}
		c.Set(key, fresh, ttl)
		return fresh, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return v.(V), nil
}

// Stats returns a snapshot of the operation counters.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Len returns the number of entries currently held, including any expired
// entries the sweeper has not visited yet.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
