package core

import (
	"strings"
	"sync"
	"time"

	"github.com/ebogdum/bundlefs/metadata"
)

type cacheEntry struct {
	md        metadata.Metadata
	expiresAt time.Time
}

// MetadataCache keeps recently read index records for a bounded time.
// Records are copied in and out so callers cannot mutate cached state.
type MetadataCache struct {
	mu       sync.RWMutex
	entries  map[string]*cacheEntry
	ttl      time.Duration
	maxSize  int
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewMetadataCache creates a cache and starts its cleanup loop. Call Stop
// to end the loop.
func NewMetadataCache(ttl time.Duration, maxSize int) *MetadataCache {
	c := &MetadataCache{
		entries:  make(map[string]*cacheEntry),
		ttl:      ttl,
		maxSize:  maxSize,
		stopChan: make(chan struct{}),
	}

	go c.cleanupLoop()

	return c
}

// Get returns a copy of the cached record for path
func (c *MetadataCache) Get(path string) (*metadata.Metadata, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[path]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}

	md := entry.md
	return &md, true
}

// Set caches a copy of md under path
func (c *MetadataCache) Set(path string, md *metadata.Metadata) {
	if md == nil || c.maxSize <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[path]; !ok && len(c.entries) >= c.maxSize {
		c.evictOne()
	}

	c.entries[path] = &cacheEntry{
		md:        *md,
		expiresAt: time.Now().Add(c.ttl),
	}
}

// Invalidate drops the entries for the given paths
func (c *MetadataCache) Invalidate(paths ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, p := range paths {
		delete(c.entries, p)
	}
}

// InvalidatePrefix drops every entry at or below prefix
func (c *MetadataCache) InvalidatePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for p := range c.entries {
		if strings.HasPrefix(p, prefix) {
			delete(c.entries, p)
		}
	}
}

// Len returns the number of cached entries, expired or not
func (c *MetadataCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stop ends the cleanup loop
func (c *MetadataCache) Stop() {
	c.stopOnce.Do(func() { close(c.stopChan) })
}

// evictOne removes an expired entry if there is one, otherwise the entry
// closest to expiry. Caller holds the lock.
func (c *MetadataCache) evictOne() {
	now := time.Now()
	var victim string
	var earliest time.Time

	for p, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, p)
			return
		}
		if victim == "" || entry.expiresAt.Before(earliest) {
			victim, earliest = p, entry.expiresAt
		}
	}
	delete(c.entries, victim)
}

func (c *MetadataCache) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.stopChan:
			return
		}
	}
}

func (c *MetadataCache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for p, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, p)
		}
	}
}
