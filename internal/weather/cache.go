package weather

import (
	"sync"
	"time"

	"solar-pump-rl/internal/rl"
)

// CacheStats reports cache effectiveness
type CacheStats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Updates int64 `json:"updates"`
}

// Cache holds the last successful lookup for a fixed time-to-live
type Cache struct {
	mu        sync.RWMutex
	ttl       time.Duration
	now       func() time.Time
	entry     rl.WeatherContext
	fetchedAt time.Time
	valid     bool
	stats     CacheStats
}

// NewCache creates a cache. A non-positive ttl disables caching.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{ttl: ttl, now: time.Now}
}

// Get returns the cached context while it is fresh
func (c *Cache) Get() (rl.WeatherContext, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ttl <= 0 || !c.valid || c.now().Sub(c.fetchedAt) >= c.ttl {
		c.stats.Misses++
		return rl.WeatherContext{}, false
	}
	c.stats.Hits++
	return c.entry, true
}

// Put stores a fresh lookup
func (c *Cache) Put(w rl.WeatherContext) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entry = w
	c.fetchedAt = c.now()
	c.valid = true
	c.stats.Updates++
}

// Stats returns a copy of the counters
func (c *Cache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}
