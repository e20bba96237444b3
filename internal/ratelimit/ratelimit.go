package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// FailureLimiter tracks failed authentication attempts per key in Redis so
// counters are shared across server instances. A key moves from clear to
// blocked once the failure count reaches the threshold inside the window;
// the window starts at the first failure and is not extended by later ones.
type FailureLimiter struct {
	rdb       *redis.Client
	threshold int
	window    time.Duration
	prefix    string
}

func NewFailureLimiter(rdb *redis.Client, threshold int, window time.Duration) *FailureLimiter {
	return &FailureLimiter{
		rdb:       rdb,
		threshold: threshold,
		window:    window,
		prefix:    "login:failures",
	}
}

func (l *FailureLimiter) key(key string) string {
	return fmt.Sprintf("%s:%s", l.prefix, key)
}

// Blocked reports whether the key has exhausted its attempts. It never
// increments the counter: requests arriving while blocked are rejected
// without extending the block.
func (l *FailureLimiter) Blocked(ctx context.Context, key string) (bool, error) {
	count, err := l.rdb.Get(ctx, l.key(key)).Int()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("rate limiter read: %w", err)
	}
	return count >= l.threshold, nil
}

// RecordFailure atomically increments the key's counter and arms the window
// expiry on the first failure. Returns the post-increment count.
func (l *FailureLimiter) RecordFailure(ctx context.Context, key string) (int64, error) {
	redisKey := l.key(key)

	pipe := l.rdb.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.ExpireNX(ctx, redisKey, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("rate limiter increment: %w", err)
	}
	return incr.Val(), nil
}

// Reset clears the counter, called after a successful authentication so the
// next window starts clean.
func (l *FailureLimiter) Reset(ctx context.Context, key string) error {
	return l.rdb.Del(ctx, l.key(key)).Err()
}

// RetryAfter returns the time until the key's window expires, for the
// Retry-After response header. Zero when the key has no active window.
func (l *FailureLimiter) RetryAfter(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := l.rdb.TTL(ctx, l.key(key)).Result()
	if err != nil {
		return 0, err
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}
