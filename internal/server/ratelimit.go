package server

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Decision struct {
	Allowed    bool
	Count      int64
	RetryAfter time.Duration
}

type RateLimiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// RedisLimiter is a fixed-window counter shared by every daemon replica.
type RedisLimiter struct {
	rdb    redis.UniversalClient
	limit  int64
	window time.Duration
	prefix string
	now    func() time.Time
}

func NewRedisLimiter(rdb redis.UniversalClient, perMinute int) *RedisLimiter {
	return &RedisLimiter{
		rdb:    rdb,
		limit:  int64(perMinute),
		window: time.Minute,
		prefix: "intake:ratelimit:",
		now:    time.Now,
	}
}

func (l *RedisLimiter) windowKey(key string, now time.Time) (string, time.Duration) {
	start := now.Truncate(l.window)
	return fmt.Sprintf("%s%s:%d", l.prefix, key, start.Unix()), start.Add(l.window).Sub(now)
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	k, remaining := l.windowKey(key, l.now())

	var incr *redis.IntCmd
	_, err := l.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, k)
		p.Expire(ctx, k, l.window+time.Second)
		return nil
	})
	if err != nil {
		return Decision{Allowed: true}, fmt.Errorf("rate limit incr: %w", err)
	}
	n := incr.Val()
	if n > l.limit {
		return Decision{Allowed: false, Count: n, RetryAfter: remaining}, nil
	}
	return Decision{Allowed: true, Count: n}, nil
}
