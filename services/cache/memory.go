package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/upb/tavern-oracle/models"
)

// DefaultMaxSize bounds the in-memory cache
const DefaultMaxSize = 1000

type memoryEntry struct {
	Entry
	element *list.Element // For LRU tracking
}

// MemoryCache is an in-memory LRU cache with TTL for completion results
// Thread-safe implementation using sync.Mutex
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	lruList *list.List    // Doubly linked list for LRU tracking
	maxSize int           // Maximum number of entries
	ttl     time.Duration // Time-to-live for entries
	hits    uint64
	misses  uint64
	now     func() time.Time
}

// MemoryOption configures a MemoryCache
type MemoryOption func(*MemoryCache)

// WithMemoryClock overrides the clock used for TTL checks
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(c *MemoryCache) {
		c.now = now
	}
}

// NewMemoryCache creates a new MemoryCache with specified max size and TTL
func NewMemoryCache(maxSize int, ttl time.Duration, opts ...MemoryOption) *MemoryCache {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	c := &MemoryCache{
		entries: make(map[string]*memoryEntry),
		lruList: list.New(),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get retrieves a result. Expired entries are removed and reported as a miss.
func (c *MemoryCache) Get(ctx context.Context, key string) (models.CompletionResult, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[key]
	if !exists || entry.isExpired(c.now(), c.ttl) {
		c.misses++
		if exists {
			c.removeEntry(key)
		}
		return models.CompletionResult{}, false, nil
	}

	// Move to front (most recently used)
	c.lruList.MoveToFront(entry.element)
	c.hits++

	return entry.Result, true, nil
}

// Put stores a result in cache
func (c *MemoryCache) Put(ctx context.Context, key string, result models.CompletionResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, exists := c.entries[key]; exists {
		entry.Result = result
		entry.CreatedAt = c.now()
		c.lruList.MoveToFront(entry.element)
		return nil
	}

	// Evict least recently used entry if cache is full
	if c.lruList.Len() >= c.maxSize {
		c.evictLRU()
	}

	entry := &memoryEntry{
		Entry: Entry{
			Key:       key,
			Result:    result,
			CreatedAt: c.now(),
		},
	}
	entry.element = c.lruList.PushFront(key)
	c.entries[key] = entry

	return nil
}

// Clear removes all entries from the cache
func (c *MemoryCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*memoryEntry)
	c.lruList.Init()
	return nil
}

// Stats returns cache statistics
func (c *MemoryCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Size:    c.lruList.Len(),
		MaxSize: c.maxSize,
		Hits:    c.hits,
		Misses:  c.misses,
		HitRate: hitRate(c.hits, c.misses),
	}
}

// removeEntry removes an entry from the cache (must be called with lock held)
func (c *MemoryCache) removeEntry(key string) {
	if entry, exists := c.entries[key]; exists {
		c.lruList.Remove(entry.element)
		delete(c.entries, key)
	}
}

// evictLRU evicts the least recently used entry (must be called with lock held)
func (c *MemoryCache) evictLRU() {
	back := c.lruList.Back()
	if back == nil {
		return
	}
	c.removeEntry(back.Value.(string))
}

// CleanupExpired removes all expired entries
func (c *MemoryCache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	expired := make([]string, 0)
	for key, entry := range c.entries {
		if entry.isExpired(now, c.ttl) {
			expired = append(expired, key)
		}
	}

	for _, key := range expired {
		c.removeEntry(key)
	}

	return len(expired)
}

// StartCleanupWorker starts a background worker to periodically clean up expired entries
func (c *MemoryCache) StartCleanupWorker(interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.CleanupExpired()
		case <-stopCh:
			return
		}
	}
}

var _ ResponseCache = (*MemoryCache)(nil)
