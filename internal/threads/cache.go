package threads

import (
	"sync"
	"time"
)

// ResultCache is the process-local TTL cache of attribution results. An
// entry older than the TTL is treated as absent. Losing the cache on
// restart is fine; staleness is bounded by the TTL.
type ResultCache struct {
	ttl time.Duration

	mu      sync.RWMutex
	entries map[string]cacheEntry

	now func() time.Time
}

type cacheEntry struct {
	capturedAt time.Time
	payload    []ThreadSummary
}

// NewResultCache creates a cache with the given TTL.
func NewResultCache(ttl time.Duration) *ResultCache {
	return &ResultCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// Get returns the cached payload for key, or false when absent or
// expired.
func (c *ResultCache) Get(key string) ([]ThreadSummary, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || c.now().Sub(entry.capturedAt) >= c.ttl {
		return nil, false
	}
	return entry.payload, true
}

// Set stores the payload for key, replacing any previous entry.
func (c *ResultCache) Set(key string, payload []ThreadSummary) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{capturedAt: c.now(), payload: payload}
}
