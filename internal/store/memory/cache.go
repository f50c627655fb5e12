package memory

import (
	"context"
	"sync"
	"time"

	"covera.io/internal/auth"
)

// Cache is an in-process auth.CapabilityCache with a fixed TTL.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]cacheEntry
}

type cacheEntry struct {
	caps      auth.Capabilities
	expiresAt time.Time
}

var _ auth.CapabilityCache = (*Cache)(nil)

// NewCache returns a cache whose entries live for ttl. A non-positive ttl keeps entries forever.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{ttl: ttl, now: time.Now, entries: make(map[string]cacheEntry)}
}

func (c *Cache) Get(_ context.Context, userID string) (auth.Capabilities, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[userID]
	if !ok {
		return auth.Capabilities{}, false, nil
	}
	if !entry.expiresAt.IsZero() && !c.now().Before(entry.expiresAt) {
		delete(c.entries, userID)
		return auth.Capabilities{}, false, nil
	}
	return entry.caps, true, nil
}

func (c *Cache) Set(_ context.Context, userID string, caps auth.Capabilities) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry := cacheEntry{caps: caps}
	if c.ttl > 0 {
		entry.expiresAt = c.now().Add(c.ttl)
	}
	c.entries[userID] = entry
	return nil
}

func (c *Cache) Invalidate(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userID)
	return nil
}

// Len reports the number of cached entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
