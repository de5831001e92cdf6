package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/upb/tavern-oracle/models"
	"go.uber.org/zap"
)

// DefaultKeyPrefix namespaces completion entries in a shared Redis database
const DefaultKeyPrefix = "tavern-oracle:completion:"

const clearBatchSize = 500

// RedisCache stores completion results in Redis. Expiry is delegated to Redis
// key TTLs; the stored creation time is checked again on read.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger
	hits   atomic.Uint64
	misses atomic.Uint64
}

// RedisOption configures a RedisCache
type RedisOption func(*RedisCache)

// WithKeyPrefix overrides the key prefix
func WithKeyPrefix(prefix string) RedisOption {
	return func(c *RedisCache) {
		c.prefix = prefix
	}
}

// WithRedisClock overrides the clock used to stamp and check entries
func WithRedisClock(now func() time.Time) RedisOption {
	return func(c *RedisCache) {
		c.now = now
	}
}

// NewRedisCache creates a cache backed by an existing client
func NewRedisCache(client *redis.Client, ttl time.Duration, logger *zap.Logger, opts ...RedisOption) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &RedisCache{
		client: client,
		prefix: DefaultKeyPrefix,
		ttl:    ttl,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get retrieves a result from Redis
func (c *RedisCache) Get(ctx context.Context, key string) (models.CompletionResult, bool, error) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		c.misses.Add(1)
		return models.CompletionResult{}, false, nil
	}
	if err != nil {
		c.misses.Add(1)
		return models.CompletionResult{}, false, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		c.misses.Add(1)
		c.logger.Warn("dropping unreadable cache entry", zap.String("fingerprint", key), zap.Error(err))
		_ = c.client.Del(ctx, c.prefix+key).Err()
		return models.CompletionResult{}, false, nil
	}

	if entry.isExpired(c.now(), c.ttl) {
		c.misses.Add(1)
		return models.CompletionResult{}, false, nil
	}

	c.hits.Add(1)
	return entry.Result, true, nil
}

// Put stores a result with the cache TTL
func (c *RedisCache) Put(ctx context.Context, key string, result models.CompletionResult) error {
	data, err := json.Marshal(Entry{
		Key:       key,
		Result:    result,
		CreatedAt: c.now(),
	})
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := c.client.Set(ctx, c.prefix+key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Clear deletes every key under the cache prefix
func (c *RedisCache) Clear(ctx context.Context) error {
	var cursor uint64
	deleted := 0

	for {
		keys, next, err := c.client.Scan(ctx, cursor, c.prefix+"*", clearBatchSize).Result()
		if err != nil {
			return fmt.Errorf("redis scan: %w", err)
		}

		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("redis del: %w", err)
			}
			deleted += len(keys)
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	c.logger.Info("cleared response cache", zap.Int("deleted", deleted))
	return nil
}

// Stats returns hit and miss counters. Size is not tracked for Redis.
func (c *RedisCache) Stats() Stats {
	hits, misses := c.hits.Load(), c.misses.Load()
	return Stats{
		Hits:    hits,
		Misses:  misses,
		HitRate: hitRate(hits, misses),
	}
}

// Ping checks if Redis is reachable
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

var _ ResponseCache = (*RedisCache)(nil)
