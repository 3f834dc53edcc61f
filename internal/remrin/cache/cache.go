// Package cache is a bounded TTL cache with an injected clock.
//
// Entries live in a golang-lru cache; expiry is checked on read against the
// clock supplied at construction, so tests control time directly.
package cache

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock is the wall clock.
var SystemClock Clock = ClockFunc(time.Now)

// DefaultSize bounds a cache constructed with size <= 0.
const DefaultSize = 1024

type item[V any] struct {
	value   V
	expires time.Time
}

// TTL is a concurrency-safe cache whose entries expire ttl after Set.
type TTL[K comparable, V any] struct {
	ttl   time.Duration
	clock Clock
	lru   *lru.Cache[K, item[V]]
	group singleflight.Group
	mu    sync.Mutex
	stats Stats
}

// Stats counts cache outcomes since construction.
type Stats struct {
	Hits   uint64
	Misses uint64
}

// New returns a cache holding at most size entries for ttl each. A nil clock
// uses SystemClock.
func New[K comparable, V any](size int, ttl time.Duration, clock Clock) (*TTL[K, V], error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("cache: ttl must be positive, got %s", ttl)
	}
	if size <= 0 {
		size = DefaultSize
	}
	if clock == nil {
		clock = SystemClock
	}
	l, err := lru.New[K, item[V]](size)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	return &TTL[K, V]{ttl: ttl, clock: clock, lru: l}, nil
}

// Get returns the live value for key. Expired entries are evicted.
func (c *TTL[K, V]) Get(key K) (V, bool) {
	it, ok := c.lru.Get(key)
	if ok && c.clock.Now().Before(it.expires) {
		c.count(true)
		return it.value, true
	}
	if ok {
		c.lru.Remove(key)
	}
	c.count(false)
	var zero V
	return zero, false
}

// Set stores value under key.
func (c *TTL[K, V]) Set(key K, value V) {
	c.lru.Add(key, item[V]{value: value, expires: c.clock.Now().Add(c.ttl)})
}

// Invalidate drops key and reports whether it was present.
func (c *TTL[K, V]) Invalidate(key K) bool {
	return c.lru.Remove(key)
}

// Purge drops every entry.
func (c *TTL[K, V]) Purge() { c.lru.Purge() }

// Len counts stored entries, including expired ones not yet evicted.
func (c *TTL[K, V]) Len() int { return c.lru.Len() }

// Stats returns hit and miss counters.
func (c *TTL[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// GetOrLoad returns the cached value or calls load once per key across
// concurrent callers and caches a successful result.
func (c *TTL[K, V]) GetOrLoad(key K, load func() (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err, _ := c.group.Do(fmt.Sprint(key), func() (any, error) {
		v, err := load()
		if err != nil {
			return v, err
		}
		c.Set(key, v)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return v.(V), nil
}

func (c *TTL[K, V]) count(hit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if hit {
		c.stats.Hits++
	} else {
		c.stats.Misses++
	}
}
