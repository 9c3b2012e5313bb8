package tariff

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of the Redis client used for caching.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// CachedSource caches successful lookups of another Source in Redis.
// Redis failures fall through to the wrapped source.
type CachedSource struct {
	next   Source
	redis  RedisClient
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedSource wraps next with a Redis cache.
func NewCachedSource(next Source, client RedisClient, ttl time.Duration, logger *slog.Logger) *CachedSource {
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &CachedSource{
		next:   next,
		redis:  client,
		ttl:    ttl,
		logger: logger.With("component", "tariff_cache"),
	}
}

func cacheKey(hsn string) string {
	return "tariff:" + hsn
}

// Lookup returns cached rates for hsn or asks the wrapped source.
func (c *CachedSource) Lookup(ctx context.Context, hsn string) (RawRates, error) {
	key := cacheKey(hsn)

	data, err := c.redis.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var rates RawRates
		if err := json.Unmarshal(data, &rates); err == nil {
			return rates, nil
		}
		c.logger.Warn("discarding unreadable cache entry", "key", key)
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("tariff cache read failed", "key", key, "error", err)
	}

	rates, err := c.next.Lookup(ctx, hsn)
	if err != nil {
		return RawRates{}, err
	}

	if data, err := json.Marshal(rates); err == nil {
		if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.logger.Warn("tariff cache write failed", "key", key, "error", err)
		}
	}

	return rates, nil
}
