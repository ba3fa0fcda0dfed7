// Package cache provides a Redis-backed cache for detection results, so a
// document analyzed twice does not hit the detection service twice. Cache
// failures degrade to a miss; the caller always has the direct path.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/raaihank/doc-sentinel/internal/config"
	"github.com/raaihank/doc-sentinel/internal/logger"
	"github.com/raaihank/doc-sentinel/internal/pii"
)

// AnalysisCache caches detection results keyed by a hash of the analyzed
// text. It implements pii.ResultCache.
type AnalysisCache struct {
	client *redis.Client
	cfg    config.CacheConfig
	log    *logger.Logger
	hits   int64
	misses int64
}

// NewAnalysisCache connects to Redis and verifies the connection.
func NewAnalysisCache(cfg config.CacheConfig, log *logger.Logger) (*AnalysisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log = log.WithComponent("cache")
	log.Info("Analysis cache initialized",
		zap.String("addr", cfg.Addr),
		zap.Duration("ttl", cfg.TTL))

	return &AnalysisCache{
		client: client,
		cfg:    cfg,
		log:    log,
	}, nil
}

// Get implements pii.ResultCache. Lookup failures count as misses.
func (c *AnalysisCache) Get(ctx context.Context, text string) (*pii.Result, bool) {
	key := c.textKey(text)

	data, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	} else if err != nil {
		atomic.AddInt64(&c.misses, 1)
		c.log.Warn("Cache lookup failed", zap.Error(err))
		return nil, false
	}

	var result pii.Result
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		c.log.Warn("Corrupted cache entry, deleting", zap.String("key", key), zap.Error(err))
		c.client.Del(ctx, key)
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}

	atomic.AddInt64(&c.hits, 1)
	c.log.Debug("Cache hit", zap.String("key", key))
	return &result, true
}

// Set implements pii.ResultCache. Best effort: storage failures are
// logged, not returned.
func (c *AnalysisCache) Set(ctx context.Context, text string, r *pii.Result) {
	key := c.textKey(text)

	data, err := json.Marshal(r)
	if err != nil {
		c.log.Warn("Failed to marshal result for caching", zap.Error(err))
		return
	}

	if err := c.client.Set(ctx, key, data, c.cfg.TTL).Err(); err != nil {
		c.log.Warn("Failed to cache result", zap.String("key", key), zap.Error(err))
		return
	}

	c.log.Debug("Result cached",
		zap.String("key", key),
		zap.Int("entities", len(r.Entities)))
}

// GetStats returns cache performance statistics.
func (c *AnalysisCache) GetStats(ctx context.Context) (*CacheStats, error) {
	info, err := c.client.Info(ctx, "memory").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get Redis info: %w", err)
	}

	stats := &CacheStats{
		Hits:   atomic.LoadInt64(&c.hits),
		Misses: atomic.LoadInt64(&c.misses),
	}

	total := stats.Hits + stats.Misses
	if total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total) * 100
	}

	for _, line := range strings.Split(info, "\r\n") {
		if strings.HasPrefix(line, "used_memory:") {
			if mem, err := strconv.ParseInt(strings.TrimPrefix(line, "used_memory:"), 10, 64); err == nil {
				stats.MemoryUsage = mem
			}
		}
	}

	if keys, err := c.client.DBSize(ctx).Result(); err == nil {
		stats.TotalKeys = keys
	}

	return stats, nil
}

// Clear removes all cached results under this cache's key prefix.
func (c *AnalysisCache) Clear(ctx context.Context) error {
	pattern := c.cfg.KeyPrefix + "*"

	iter := c.client.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan cache keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}

	batchSize := 100
	for i := 0; i < len(keys); i += batchSize {
		end := i + batchSize
		if end > len(keys) {
			end = len(keys)
		}
		if err := c.client.Del(ctx, keys[i:end]...).Err(); err != nil {
			return fmt.Errorf("failed to delete cache keys: %w", err)
		}
	}

	c.log.Info("Cache cleared", zap.Int("deleted_keys", len(keys)))
	return nil
}

// Close closes the Redis connection.
func (c *AnalysisCache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// textKey hashes the analyzed text into a stable cache key.
func (c *AnalysisCache) textKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return c.cfg.KeyPrefix + hex.EncodeToString(sum[:])[:16]
}
