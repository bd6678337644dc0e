package cache

import (
	"sort"
	"sync"
	"time"
)

// evictFraction is the share of entries dropped, oldest expiry first, when a
// cache is still over its soft cap after expired entries have been removed.
const evictFraction = 0.3

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Cache is a concurrency-safe, bounded TTL cache. The zero value is not
// usable; construct with [New]. All methods may be called from multiple
// goroutines.
type Cache[V any] struct {
	mu         sync.RWMutex
	entries    map[string]entry[V]
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

// New returns a cache whose entries live for ttl and whose size is soft-capped
// at maxEntries. now is the clock used for expiry decisions; nil means
// time.Now.
func New[V any](ttl time.Duration, maxEntries int, now func() time.Time) *Cache[V] {
	if now == nil {
		now = time.Now
	}
	return &Cache[V]{
		entries:    make(map[string]entry[V]),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        now,
	}
}

// Get returns the live value for key. An expired entry is treated as a miss
// and removed.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	var zero V
	if !ok {
		return zero, false
	}
	if !c.now().Before(e.expiresAt) {
		c.mu.Lock()
		// Re-check under the write lock: the entry may have been replaced
		// by a fresh Set since the read above.
		if cur, still := c.entries[key]; still && !c.now().Before(cur.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return zero, false
	}
	return e.value, true
}

// Set stores value under key with the cache's TTL, replacing any previous
// entry. If the write pushes the cache past its soft cap, eviction runs
// inline on this call.
func (c *Cache[V]) Set(key string, value V) {
	c.store(key, value, time.Time{})
}

// SetUntil stores value under key with a deadline of now+TTL or notAfter,
// whichever comes first. Used for values that carry their own expiry, where
// caching must never outlive the value itself.
func (c *Cache[V]) SetUntil(key string, value V, notAfter time.Time) {
	c.store(key, value, notAfter)
}

func (c *Cache[V]) store(key string, value V, notAfter time.Time) {
	now := c.now()
	deadline := now.Add(c.ttl)
	if !notAfter.IsZero() && notAfter.Before(deadline) {
		deadline = notAfter
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = entry[V]{value: value, expiresAt: deadline}
	if c.maxEntries > 0 && len(c.entries) > c.maxEntries {
		c.evictLocked(now)
	}
}

// Invalidate removes key if present.
func (c *Cache[V]) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// InvalidateMatching removes every entry for which match returns true and
// reports how many were removed. Used to purge token-cache entries belonging
// to a principal, where the principal appears in the value rather than the
// key.
func (c *Cache[V]) InvalidateMatching(match func(key string, value V) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, e := range c.entries {
		if match(key, e.value) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Clear drops every entry. Exposed for full revocation and test isolation.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]entry[V])
	c.mu.Unlock()
}

// Len reports the current entry count, expired entries included until they
// are read or evicted.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache[V]) evictLocked(now time.Time) {
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, key)
		}
	}
	if len(c.entries) <= c.maxEntries {
		return
	}

	type aged struct {
		key       string
		expiresAt time.Time
	}
	byExpiry := make([]aged, 0, len(c.entries))
	for key, e := range c.entries {
		byExpiry = append(byExpiry, aged{key: key, expiresAt: e.expiresAt})
	}
	sort.Slice(byExpiry, func(i, j int) bool {
		return byExpiry[i].expiresAt.Before(byExpiry[j].expiresAt)
	})

	drop := int(float64(len(byExpiry)) * evictFraction)
	if drop < 1 {
		drop = 1
	}
	for _, a := range byExpiry[:drop] {
		delete(c.entries, a.key)
	}
}
