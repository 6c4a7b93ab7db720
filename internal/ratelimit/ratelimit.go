// Package ratelimit caps the rate of outgoing sends across all workers.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Limiter blocks until one more send is allowed or ctx is done
type Limiter interface {
	Wait(ctx context.Context) error
}

// Local is a token bucket shared by the workers of one process
type Local struct {
	limiter *rate.Limiter
}

// NewLocal allows perSecond sends per second with the given burst
func NewLocal(perSecond float64, burst int) *Local {
	if burst < 1 {
		burst = 1
	}
	return &Local{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Wait blocks until a token is available
func (l *Local) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

// RedisWindow is a fixed-window counter in Redis, shared by every worker
// process that uses the same key prefix. When Redis is unreachable it
// degrades to the local fallback limiter.
type RedisWindow struct {
	client   *redis.Client
	prefix   string
	limit    int64
	window   time.Duration
	fallback Limiter
	now      func() time.Time
}

// NewRedisWindow allows perSecond sends per second across processes
func NewRedisWindow(client *redis.Client, prefix string, perSecond float64, fallback Limiter) *RedisWindow {
	limit, window := windowFor(perSecond)
	return &RedisWindow{
		client:   client,
		prefix:   prefix,
		limit:    limit,
		window:   window,
		fallback: fallback,
		now:      time.Now,
	}
}

// windowFor turns a rate into a count per window: rates of at least one per
// second use one-second windows, slower rates one send per longer window.
func windowFor(perSecond float64) (int64, time.Duration) {
	if perSecond >= 1 {
		return int64(math.Floor(perSecond)), time.Second
	}
	if perSecond <= 0 {
		return 1, time.Hour
	}
	return 1, time.Duration(float64(time.Second) / perSecond)
}

func bucketKey(prefix string, t time.Time, window time.Duration) (string, time.Time) {
	bucket := t.UnixNano() / int64(window)
	next := time.Unix(0, (bucket+1)*int64(window))
	return fmt.Sprintf("%s:send-rate:%d", prefix, bucket), next
}

// Wait takes a slot in the current window, sleeping into later windows
// while the current one is full.
func (r *RedisWindow) Wait(ctx context.Context) error {
	for {
		key, next := bucketKey(r.prefix, r.now(), r.window)

		pipe := r.client.Pipeline()
		incr := pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, 2*r.window)

		if _, err := pipe.Exec(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if r.fallback != nil {
				return r.fallback.Wait(ctx)
			}
			return fmt.Errorf("redis pipeline: %w", err)
		}

		if incr.Val() <= r.limit {
			return nil
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
