package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter counts windows in Redis so replicas share one budget.
// INCR and EXPIRE NX run in a single pipeline: the first request of a
// window both creates the counter and arms its expiry atomically enough
// for our purposes (the NX expiry makes a lost EXPIRE race harmless).
type RedisLimiter struct {
	client    redis.UniversalClient
	keyPrefix string
	limit     int
	window    time.Duration
}

// NewRedisLimiter creates a Redis-backed Limiter.
func NewRedisLimiter(client redis.UniversalClient, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		client:    client,
		keyPrefix: "otphub:rl:",
		limit:     limit,
		window:    window,
	}
}

// Allow increments the window counter and admits while it is at or below
// the limit. On Redis errors the request is denied; failing open would
// void the limiter exactly when it is under pressure.
func (l *RedisLimiter) Allow(ctx context.Context, userID, productID int) (bool, error) {
	key := fmt.Sprintf("%s%d:%d", l.keyPrefix, userID, productID)

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit incr: %w", err)
	}
	return incr.Val() <= int64(l.limit), nil
}
