package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/exitwatch/internal/domain"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

// RateLimiter is a sliding-window limiter over a Redis sorted set. The window
// check and the insert run in one Lua script so concurrent API replicas share
// a single budget per key.
type RateLimiter struct {
	c      *Client
	rdb    *redis.Client
	script *redis.Script
}

// NewRateLimiter creates a RateLimiter backed by the given Client.
func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{
		c:      c,
		rdb:    c.Underlying(),
		script: redis.NewScript(slidingWindowLua),
	}
}

// Usage is the outcome of one window check.
type Usage struct {
	Allowed bool
	// Count is the number of requests in the window including this one when
	// it was allowed.
	Count int
}

// Check counts a request for key against limit per window.
func (rl *RateLimiter) Check(ctx context.Context, key string, limit int, window time.Duration) (Usage, error) {
	if limit <= 0 || window <= 0 {
		return Usage{}, nil
	}
	res, err := rl.script.Run(ctx, rl.rdb,
		[]string{rl.c.Key("ratelimit", key)},
		time.Now().UnixMicro(), window.Microseconds(), limit,
	).Int64Slice()
	if err != nil {
		return Usage{}, fmt.Errorf("redis: rate limit %s: %w", key, err)
	}
	if len(res) != 2 {
		return Usage{}, fmt.Errorf("redis: rate limit %s: unexpected result length %d", key, len(res))
	}
	return Usage{Allowed: res[0] == 1, Count: int(res[1])}, nil
}

// Allow implements domain.RateLimiter.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	u, err := rl.Check(ctx, key, limit, window)
	return u.Allowed, err
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
