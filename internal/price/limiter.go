package price

import (
	"context"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Limiter throttles upstream price API calls.
type Limiter interface {
	Wait(ctx context.Context) error
}

// LocalLimiter is an in-process token bucket.
type LocalLimiter struct {
	l *rate.Limiter
}

// NewLocalLimiter allows perSecond requests with the given burst.
func NewLocalLimiter(perSecond float64, burst int) *LocalLimiter {
	if burst < 1 {
		burst = 1
	}
	return &LocalLimiter{l: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (l *LocalLimiter) Wait(ctx context.Context) error {
	return l.l.Wait(ctx)
}

// RedisLimiter shares one GCRA budget across every process using the same key.
type RedisLimiter struct {
	l     *redis_rate.Limiter
	key   string
	limit redis_rate.Limit
}

// NewRedisLimiter allows perSecond requests per key across all instances.
func NewRedisLimiter(rdb *redis.Client, key string, perSecond int) *RedisLimiter {
	if perSecond < 1 {
		perSecond = 1
	}
	return &RedisLimiter{
		l:     redis_rate.NewLimiter(rdb),
		key:   key,
		limit: redis_rate.PerSecond(perSecond),
	}
}

func (r *RedisLimiter) Wait(ctx context.Context) error {
	for {
		res, err := r.l.Allow(ctx, r.key, r.limit)
		if err != nil {
			return err
		}
		if res.Allowed > 0 {
			return nil
		}

		wait := res.RetryAfter
		if wait <= 0 {
			wait = 50 * time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
