// Package cache is the in-process TTL cache shared by request handlers,
// the fetch engines and the background refresher.
package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/ppiankov/surfwatch/internal/metrics"
	"github.com/ppiankov/surfwatch/internal/source"
)

const DefaultTTL = 10 * time.Minute

type entry struct {
	stored time.Time
	posts  []source.Post
}

// Cache maps keys to ranked post lists. One mutex serializes every
// operation. Expired entries read as absent but stay in memory until Sweep.
type Cache struct {
	name    string
	ttl     time.Duration
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

// New creates a cache. name labels its metrics.
func New(name string, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		name:    name,
		ttl:     ttl,
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// TTL returns the entry lifetime.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Get returns the posts stored under key when the entry is still valid.
func (c *Cache) Get(key string) ([]source.Post, bool) {
	c.mu.Lock()
	e, ok := c.entries[key]
	valid := ok && c.now().Sub(e.stored) < c.ttl
	c.mu.Unlock()

	metrics.RecordCacheLookup(c.name, valid)
	if !valid {
		return nil, false
	}
	return e.posts, true
}

// Age returns how long ago key was written, and false when key is absent
// or expired.
func (c *Cache) Age(key string) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return 0, false
	}
	age := c.now().Sub(e.stored)
	if age >= c.ttl {
		return 0, false
	}
	return age, true
}

// Put stores posts under key, replacing any previous entry.
func (c *Cache) Put(key string, posts []source.Post) {
	c.mu.Lock()
	c.entries[key] = entry{stored: c.now(), posts: posts}
	n := len(c.entries)
	c.mu.Unlock()
	metrics.CacheEntries.WithLabelValues(c.name).Set(float64(n))
}

// Delete removes key.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	n := len(c.entries)
	c.mu.Unlock()
	metrics.CacheEntries.WithLabelValues(c.name).Set(float64(n))
}

// Sweep evicts expired entries and returns how many were removed.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	now := c.now()
	removed := 0
	for k, e := range c.entries {
		if now.Sub(e.stored) >= c.ttl {
			delete(c.entries, k)
			removed++
		}
	}
	n := len(c.entries)
	c.mu.Unlock()
	metrics.CacheEntries.WithLabelValues(c.name).Set(float64(n))
	return removed
}

// Clear removes every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]entry)
	c.mu.Unlock()
	metrics.CacheEntries.WithLabelValues(c.name).Set(0)
}

// Keys returns a sorted snapshot of all keys, expired ones included.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	c.mu.Unlock()
	sort.Strings(keys)
	return keys
}

// Len returns the number of entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
