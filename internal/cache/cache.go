// Package cache provides an optional Redis-backed cache for detection
// results. Only the merged, session-independent span list is cached, keyed
// by a hash of text, language, and confidence floor; mappings are
// session-scoped and never enter the cache. All cache failures degrade to a
// miss so detection correctness never depends on Redis.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/veilware/textveil/internal/config"
	"github.com/veilware/textveil/internal/entity"
)

// cachedDetection is the stored value for one detection key.
type cachedDetection struct {
	Spans    []entity.Span `json:"spans"`
	Sources  []string      `json:"sources"`
	CachedAt time.Time     `json:"cached_at"`
}

// Stats tracks cache performance.
type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// DetectionCache caches merged detection spans in Redis.
type DetectionCache struct {
	client *redis.Client
	config config.CacheConfig
	logger *zap.Logger

	hits   int64
	misses int64
}

// New connects to Redis and returns a detection cache.
func New(cfg config.CacheConfig, logger *zap.Logger) (*DetectionCache, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	opts.PoolSize = cfg.MaxConnections
	opts.MinIdleConns = cfg.MinIdleConns

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Detection cache initialized",
		zap.Duration("default_ttl", cfg.DefaultTTL),
		zap.String("key_prefix", cfg.KeyPrefix),
	)

	return &DetectionCache{
		client: client,
		config: cfg,
		logger: logger,
	}, nil
}

// DetectionKey derives the cache key for one detection request. The raw
// text never appears in the key.
func (c *DetectionCache) DetectionKey(text, language string, minConfidence float64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%.3f|%s", language, minConfidence, text)))
	return c.config.KeyPrefix + hex.EncodeToString(sum[:])
}

// Get returns the cached span list for key, with ok=false on miss or any
// Redis error.
func (c *DetectionCache) Get(ctx context.Context, key string) ([]entity.Span, bool) {
	data, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		c.misses++
		return nil, false
	} else if err != nil {
		c.logger.Debug("Cache lookup failed", zap.Error(err))
		c.misses++
		return nil, false
	}

	var cached cachedDetection
	if err := json.Unmarshal([]byte(data), &cached); err != nil {
		c.logger.Warn("Corrupted cache entry dropped", zap.Error(err))
		c.client.Del(ctx, key)
		c.misses++
		return nil, false
	}
	for i := range cached.Spans {
		if i < len(cached.Sources) {
			cached.Spans[i].Source = cached.Sources[i]
		}
	}
	c.hits++
	return cached.Spans, true
}

// Set stores a span list under key with the configured TTL. Errors are
// logged and swallowed.
func (c *DetectionCache) Set(ctx context.Context, key string, spans []entity.Span) {
	sources := make([]string, len(spans))
	for i, s := range spans {
		sources[i] = s.Source
	}
	data, err := json.Marshal(cachedDetection{
		Spans:    spans,
		Sources:  sources,
		CachedAt: time.Now(),
	})
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, data, c.config.DefaultTTL).Err(); err != nil {
		c.logger.Debug("Cache write failed", zap.Error(err))
	}
}

// Stats returns hit/miss counts since startup.
func (c *DetectionCache) Stats() Stats {
	return Stats{Hits: c.hits, Misses: c.misses}
}

// Close releases the Redis connection.
func (c *DetectionCache) Close() error {
	return c.client.Close()
}
