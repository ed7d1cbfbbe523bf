package provider

import (
	"sync"
	"time"

	"kanon/internal/globaltime"
)

// Cache is a small TTL cache of provider lookups keyed by provider id. It
// only smooths bursts of duplicate calls during a resolution run: losing it
// is always safe, and expired entries are evicted on read.
type Cache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]cacheEntry
}

type cacheEntry struct {
	value     Candidate
	expiresAt time.Time
}

func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Cache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
	}
}

func (c *Cache) Get(providerID string) (Candidate, bool) {
	if c == nil {
		return Candidate{}, false
	}

	c.mu.RLock()
	entry, ok := c.entries[providerID]
	c.mu.RUnlock()
	if !ok {
		return Candidate{}, false
	}

	if globaltime.UTC().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, providerID)
		c.mu.Unlock()
		return Candidate{}, false
	}
	return entry.value, true
}

func (c *Cache) Put(providerID string, value Candidate) {
	if c == nil || providerID == "" {
		return
	}
	c.mu.Lock()
	c.entries[providerID] = cacheEntry{
		value:     value,
		expiresAt: globaltime.UTC().Add(c.ttl),
	}
	c.mu.Unlock()
}

func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
