package cache

import (
	"time"

	"media-relay/work/logger"

	"github.com/maypok86/otter/v2"
)

// Cache keeps resolved upstream lookups (stream URLs, poster URLs, serialized lyrics)
// for a bounded time. Entries expire a fixed duration after they were written.
type Cache struct {
	store    *otter.Cache[string, string]
	duration time.Duration
}

// NewCache creates a cache holding at most size entries, each valid for duration.
//
// Parameters:
//   - size: maximum number of entries before eviction kicks in
//   - duration: how long entries are considered valid after being written
//
// Returns:
//   - *Cache: pointer to a new Cache object
func NewCache(size int, duration time.Duration) *Cache {
	store := otter.Must(&otter.Options[string, string]{
		MaximumSize:      size,
		ExpiryCalculator: otter.ExpiryWriting[string, string](duration),
	})

	logger.Debug("{cache/cache - NewCache} Created resolution cache: size=%d, ttl=%v", size, duration)
	return &Cache{store: store, duration: duration}
}

// Get returns the cached value for key, if present and not expired.
func (c *Cache) Get(key string) (string, bool) {
	if c == nil {
		return "", false
	}
	return c.store.GetIfPresent(key)
}

// Set stores value under key. Empty values are not cached so that failed resolutions
// are retried on the next request.
func (c *Cache) Set(key, value string) {
	if c == nil || value == "" {
		return
	}
	c.store.Set(key, value)
}

// Invalidate drops key from the cache.
func (c *Cache) Invalidate(key string) {
	if c == nil {
		return
	}
	c.store.Invalidate(key)
}

// Len reports the approximate number of live entries.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return c.store.EstimatedSize()
}

// Key joins the parts of a cache key.
func Key(kind, source, id string) string {
	return kind + ":" + source + ":" + id
}
