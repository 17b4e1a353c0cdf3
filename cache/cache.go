// Package cache is a content-addressed, short-TTL store of previously
// extracted document text. Keys are hashes of the stable source identifier
// (plus parse-variant flags), so unchanged sources are never re-parsed
// within the TTL window.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

const (
	defaultTTL             = 20 * time.Minute
	defaultCleanupInterval = time.Minute
)

// Entry is one cached extraction result.
type Entry struct {
	Text         string
	FilenameHint string
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

func (e *Entry) expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// Cache is a mutex-guarded TTL map with a janitor goroutine sweeping
// expired entries. Entries are opportunistically overwritten by Set, never
// updated in place.
type Cache struct {
	mu    sync.RWMutex
	items map[string]*Entry

	ttl  time.Duration
	stop chan struct{}
	once sync.Once
}

// New creates a cache. ttl <= 0 selects the 20 minute default;
// cleanupInterval <= 0 selects one minute.
func New(ttl, cleanupInterval time.Duration) *Cache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if cleanupInterval <= 0 {
		cleanupInterval = defaultCleanupInterval
	}

	c := &Cache{
		items: make(map[string]*Entry),
		ttl:   ttl,
		stop:  make(chan struct{}),
	}
	go c.janitor(cleanupInterval)
	return c
}

// Key computes the cache key for a source and parse variant. The variant
// distinguishes e.g. custom-OCR parses of the same source.
func Key(sourceID, variant string) string {
	h := sha256.New()
	h.Write([]byte(sourceID))
	if variant != "" {
		h.Write([]byte{0})
		h.Write([]byte(variant))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the entry for key if present and unexpired.
func (c *Cache) Get(key string) (*Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.items[key]
	if !ok || e.expired(time.Now()) {
		return nil, false
	}
	return e, true
}

// Set stores text under key with the cache's TTL, overwriting any prior
// entry.
func (c *Cache) Set(key, text, filenameHint string) {
	now := time.Now()
	c.mu.Lock()
	c.items[key] = &Entry{
		Text:         text,
		FilenameHint: filenameHint,
		CreatedAt:    now,
		ExpiresAt:    now.Add(c.ttl),
	}
	c.mu.Unlock()
}

// Len returns the number of entries, including any not yet swept.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *Cache) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for k, e := range c.items {
				if e.expired(now) {
					delete(c.items, k)
				}
			}
			c.mu.Unlock()
		case <-c.stop:
			return
		}
	}
}

// Close stops the janitor goroutine.
func (c *Cache) Close() {
	c.once.Do(func() { close(c.stop) })
}
