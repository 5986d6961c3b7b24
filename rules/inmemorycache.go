package rules

import (
	"sync"
	"time"
)

type cacheEntry struct {
	plan     []RuleQueries
	cachedAt time.Time
}

// InMemoryQueryListCache is a simple in-memory implementation of
// QueryListCache. Thread-safe for concurrent access.
type InMemoryQueryListCache struct {
	entries map[string]cacheEntry
	config  CacheConfig
	now     func() time.Time
	mu      sync.RWMutex
}

// NewInMemoryQueryListCache creates a new in-memory preview cache
func NewInMemoryQueryListCache(config CacheConfig) *InMemoryQueryListCache {
	return &InMemoryQueryListCache{
		entries: make(map[string]cacheEntry),
		config:  config,
		now:     time.Now,
	}
}

// Get retrieves a cached plan.
// Returns nil if the key is absent or expired
func (c *InMemoryQueryListCache) Get(key string) []RuleQueries {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || c.expired(entry) {
		return nil
	}

	// Return copy to prevent external modifications
	planCopy := make([]RuleQueries, len(entry.plan))
	copy(planCopy, entry.plan)
	return planCopy
}

// Set stores a plan, evicting the oldest entry when full
func (c *InMemoryQueryListCache) Set(key string, plan []RuleQueries) {
	if key == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && c.config.MaxEntries > 0 && len(c.entries) >= c.config.MaxEntries {
		c.evictOldest()
	}

	stored := make([]RuleQueries, len(plan))
	copy(stored, plan)
	c.entries[key] = cacheEntry{plan: stored, cachedAt: c.now()}
}

// Invalidate clears the cache
func (c *InMemoryQueryListCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]cacheEntry)
}

// Len returns the number of unexpired entries
func (c *InMemoryQueryListCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := 0
	for _, entry := range c.entries {
		if !c.expired(entry) {
			n++
		}
	}
	return n
}

func (c *InMemoryQueryListCache) expired(entry cacheEntry) bool {
	return c.config.TTL > 0 && c.now().Sub(entry.cachedAt) > c.config.TTL
}

// evictOldest must be called with the write lock held.
func (c *InMemoryQueryListCache) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for k, entry := range c.entries {
		if oldestKey == "" || entry.cachedAt.Before(oldest) {
			oldestKey, oldest = k, entry.cachedAt
		}
	}
	delete(c.entries, oldestKey)
}
