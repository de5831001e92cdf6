// Package cache stores completion results by request fingerprint.
//
// Two backends are provided: MemoryCache, an in-process LRU with TTL, and
// RedisCache, which lets several server processes share one cache. Both treat
// an entry older than the TTL as absent.
package cache

import (
	"context"
	"time"

	"github.com/upb/tavern-oracle/models"
)

// DefaultTTL is how long a completion stays fresh
const DefaultTTL = 5 * time.Minute

// ResponseCache is implemented by every cache backend
type ResponseCache interface {
	// Get returns a fresh entry. Backend failures are reported as misses with an error.
	Get(ctx context.Context, key string) (models.CompletionResult, bool, error)

	// Put stores result under key, overwriting any previous entry
	Put(ctx context.Context, key string, result models.CompletionResult) error

	// Clear drops every entry
	Clear(ctx context.Context) error
}

// Entry is a cached completion with its creation time
type Entry struct {
	Key       string                  `json:"key"`
	Result    models.CompletionResult `json:"result"`
	CreatedAt time.Time               `json:"created_at"`
}

func (e *Entry) isExpired(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.CreatedAt) >= ttl
}

// Stats represents cache statistics
type Stats struct {
	Size    int     `json:"size"`
	MaxSize int     `json:"max_size"`
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

func hitRate(hits, misses uint64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}
