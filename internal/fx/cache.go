package fx

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheKey = "fx:usd_inr"

// RedisClient is the subset of the Redis client used for caching.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// CachedProvider keeps the last fetched rate in Redis for ttl so that
// metered providers are not hit on every calculation.
type CachedProvider struct {
	next   Provider
	redis  RedisClient
	ttl    time.Duration
	logger *slog.Logger
}

func NewCachedProvider(next Provider, client RedisClient, ttl time.Duration, logger *slog.Logger) *CachedProvider {
	if ttl == 0 {
		ttl = time.Hour
	}
	return &CachedProvider{
		next:   next,
		redis:  client,
		ttl:    ttl,
		logger: logger.With("component", "fx_cache"),
	}
}

func (c *CachedProvider) USDToINR(ctx context.Context) (Rate, error) {
	data, err := c.redis.Get(ctx, cacheKey).Bytes()
	switch {
	case err == nil:
		var rate Rate
		if err := json.Unmarshal(data, &rate); err == nil && rate.Value.IsPositive() {
			return rate, nil
		}
		c.logger.Warn("discarding unreadable cached rate")
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("rate cache read failed", "error", err)
	}

	rate, err := c.next.USDToINR(ctx)
	if err != nil {
		return Rate{}, err
	}

	if data, err := json.Marshal(rate); err == nil {
		if err := c.redis.Set(ctx, cacheKey, data, c.ttl).Err(); err != nil {
			c.logger.Warn("rate cache write failed", "error", err)
		}
	}

	return rate, nil
}
