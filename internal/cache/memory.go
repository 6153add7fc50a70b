package cache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	storedAt time.Time
	data     []byte
}

// MemoryCache is the in-process fallback tier. Entries past TTL are dropped
// lazily on read.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), ttl: ttl}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, time.Duration, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, 0, false
	}

	age := time.Since(entry.storedAt)
	if age > c.ttl {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, 0, false
	}
	return entry.data, age, true
}

func (c *MemoryCache) Put(_ context.Context, key string, data []byte) error {
	c.mu.Lock()
	c.entries[key] = memoryEntry{storedAt: time.Now(), data: data}
	c.mu.Unlock()
	return nil
}
