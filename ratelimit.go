package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// limiter decides whether a caller may start another turn.
type limiter interface {
	allow(key string) bool
}

// rateLimiter counts turns per client in fixed windows, the same scheme
// redisLimiter uses, but kept in process memory.
type rateLimiter struct {
	mu       sync.Mutex
	windows  map[string]*window
	rate     int
	interval time.Duration
}

type window struct {
	start time.Time
	count int
}

func newRateLimiter(rate int, interval time.Duration) *rateLimiter {
	return &rateLimiter{
		windows:  make(map[string]*window),
		rate:     rate,
		interval: interval,
	}
}

func (rl *rateLimiter) allow(key string) bool {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, ok := rl.windows[key]
	if !ok || now.Sub(w.start) >= rl.interval {
		w = &window{start: now}
		rl.windows[key] = w
	}
	if w.count >= rl.rate {
		return false
	}
	w.count++
	return true
}

// prune drops windows that ended before now and returns how many went.
func (rl *rateLimiter) prune(now time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	n := 0
	for key, w := range rl.windows {
		if now.Sub(w.start) >= rl.interval {
			delete(rl.windows, key)
			n++
		}
	}
	return n
}

// sweep prunes expired windows every interval until ctx is cancelled.
func (rl *rateLimiter) sweep(ctx context.Context) {
	ticker := time.NewTicker(rl.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			rl.prune(now)
		}
	}
}

const redisLimiterPrefix = "twentyq:ratelimit"

// redisLimiter is a fixed-window counter shared by every server instance
// pointing at the same Redis.
type redisLimiter struct {
	client   *redis.Client
	rate     int
	interval time.Duration
}

func newRedisLimiter(ctx context.Context, opts *redis.Options, rate int, interval time.Duration) (*redisLimiter, error) {
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
	}
	return &redisLimiter{client: client, rate: rate, interval: interval}, nil
}

func (rl *redisLimiter) allow(key string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	window := time.Now().UnixNano() / int64(rl.interval)
	k := fmt.Sprintf("%s:%s:%d", redisLimiterPrefix, key, window)

	pipe := rl.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, rl.interval)
	if _, err := pipe.Exec(ctx); err != nil {
		// Fail open: a Redis outage should not stop the game.
		errorf("redis rate limit: %v", err)
		return true
	}
	return incr.Val() <= int64(rl.rate)
}

func (rl *redisLimiter) Close() error {
	return rl.client.Close()
}
