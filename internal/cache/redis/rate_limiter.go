package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

var _ domain.RateLimiter = (*RateLimiter)(nil)

// RateLimiter keeps one sorted set of request timestamps per API client so
// every replica shares the same window.
type RateLimiter struct {
	c      *Client
	script *redis.Script
	now    func() time.Time
}

func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{c: c, script: redis.NewScript(slidingWindowLua), now: time.Now}
}

// Allow records the request if the client still has quota in the trailing
// window. Denied requests are not recorded.
func (rl *RateLimiter) Allow(ctx context.Context, client string, limit int, window time.Duration) (domain.RateDecision, error) {
	keys := []string{rl.c.key("ratelimit", client)}
	res, err := rl.script.Run(ctx, rl.c.rdb, keys,
		rl.now().UnixMicro(), window.Microseconds(), limit).Int64Slice()
	if err != nil {
		return domain.RateDecision{}, fmt.Errorf("redis: rate limit %s: %w", client, err)
	}
	if len(res) != 2 {
		return domain.RateDecision{}, fmt.Errorf("redis: rate limit %s: script returned %d values", client, len(res))
	}
	return domain.RateDecision{Allowed: res[0] == 1, Remaining: int(res[1])}, nil
}
