// Package cache implements the bounded, expiry-aware key/value store backing
// the fetch strategies, together with deterministic cache key construction.
package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// entry is a single cached record. An entry is valid iff
// now - storedAt < ttl; invalid entries are logically absent and are purged
// on the next access or during a capacity sweep.
type entry struct {
	key      string
	value    any
	storedAt time.Time
	ttl      time.Duration
}

func (e *entry) expired(now time.Time) bool {
	return now.Sub(e.storedAt) >= e.ttl
}

// TTLCache is a thread-safe in-memory cache with per-entry TTL, lazy expiry,
// capacity-bounded insertion, and substring pattern invalidation.
//
// Capacity handling on Set: expired entries are swept first; if the cache is
// still over the bound, the oldest entries (by storedAt) are evicted until it
// fits. Set always succeeds.
type TTLCache struct {
	mu         sync.Mutex
	entries    map[string]*entry
	maxSize    int
	defaultTTL time.Duration

	evictions int64

	logger *zap.Logger
}

// Stats holds observability counts for the cache. Valid and Expired are
// computed by sweeping without mutating the cache.
type Stats struct {
	Total     int
	Valid     int
	Expired   int
	Evictions int64
}

// NewTTLCache creates a cache bounded to maxSize entries, applying defaultTTL
// to entries stored without an explicit TTL.
func NewTTLCache(maxSize int, defaultTTL time.Duration, logger *zap.Logger) *TTLCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxSize <= 0 {
		maxSize = 100
	}
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	return &TTLCache{
		entries:    make(map[string]*entry),
		maxSize:    maxSize,
		defaultTTL: defaultTTL,
		logger:     logger.Named("ttl_cache"),
	}
}

// SetDefaults replaces the capacity bound and the default TTL at runtime.
// Existing entries keep the TTL they were stored with; a reduced bound takes
// effect on the next insertion.
func (c *TTLCache) SetDefaults(maxSize int, defaultTTL time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if maxSize > 0 {
		c.maxSize = maxSize
	}
	if defaultTTL > 0 {
		c.defaultTTL = defaultTTL
	}
}

// Set stores value under key with the default TTL.
func (c *TTLCache) Set(key string, value any) {
	c.SetWithTTL(key, value, 0)
}

// SetWithTTL stores value under key with an explicit TTL; a non-positive ttl
// selects the default.
func (c *TTLCache) SetWithTTL(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	now := time.Now()

	// Replacing an existing key never grows the set, so the bound check only
	// applies to new keys.
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.sweepExpiredLocked(now)
		for len(c.entries) >= c.maxSize {
			c.evictOldestLocked()
		}
	}

	c.entries[key] = &entry{
		key:      key,
		value:    value,
		storedAt: now,
		ttl:      ttl,
	}
}

// Get returns the cached value for key only if it is present and not expired.
// Expired entries are deleted as a side effect of the read. A miss is the
// steady-state expected case, not an error.
func (c *TTLCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, exists := c.entries[key]
	if !exists {
		return nil, false
	}

	if e.expired(time.Now()) {
		delete(c.entries, key)
		return nil, false
	}

	return e.value, true
}

// Invalidate removes every key containing pattern as a substring and returns
// the number of entries removed. Used for cache-tag style invalidation after
// writes to a resource.
//
// Substring matching can over-invalidate when unrelated resources share a
// substring; callers choose sufficiently distinct resource names.
func (c *TTLCache) Invalidate(pattern string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.entries {
		if strings.Contains(key, pattern) {
			delete(c.entries, key)
			removed++
		}
	}

	if removed > 0 {
		c.logger.Debug("invalidated cache entries",
			zap.String("pattern", pattern),
			zap.Int("count", removed),
		)
	}

	return removed
}

// Clear removes everything.
func (c *TTLCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
}

// Len returns the current number of entries, expired ones included.
func (c *TTLCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns counts of total, valid, and expired entries without mutating
// the cache.
func (c *TTLCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	stats := Stats{Total: len(c.entries), Evictions: c.evictions}
	for _, e := range c.entries {
		if e.expired(now) {
			stats.Expired++
		} else {
			stats.Valid++
		}
	}
	return stats
}

// StartCleanup starts a background goroutine that periodically sweeps expired
// entries. The goroutine exits when ctx is cancelled.
func (c *TTLCache) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.mu.Lock()
				swept := c.sweepExpiredLocked(time.Now())
				c.mu.Unlock()
				if swept > 0 {
					c.logger.Debug("swept expired cache entries", zap.Int("count", swept))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// sweepExpiredLocked removes expired entries. Caller holds the lock.
func (c *TTLCache) sweepExpiredLocked(now time.Time) int {
	swept := 0
	for key, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, key)
			swept++
		}
	}
	return swept
}

// evictOldestLocked removes the entry with the earliest storedAt. Caller
// holds the lock.
func (c *TTLCache) evictOldestLocked() {
	var oldest *entry
	for _, e := range c.entries {
		if oldest == nil || e.storedAt.Before(oldest.storedAt) {
			oldest = e
		}
	}
	if oldest != nil {
		delete(c.entries, oldest.key)
		c.evictions++
	}
}
