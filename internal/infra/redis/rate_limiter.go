package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter is a fixed-window limiter shared by every replica:
//
//	INCR ratelimit:{key}:{windowStartUnix}
//	EXPIRE ratelimit:{key}:{windowStartUnix} window
type RateLimiter struct {
	client *redis.Client
	clock  func() time.Time
}

func NewRateLimiter(client *redis.Client) *RateLimiter {
	return &RateLimiter{client: client, clock: time.Now}
}

// Allow implements app.Limiter.
func (l *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error) {
	now := l.clock()
	start := now.Truncate(window)
	k := "ratelimit:" + key + ":" + strconv.FormatInt(start.Unix(), 10)

	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		pipe.Expire(ctx, k, window)
		return nil
	})
	if err != nil {
		return false, 0, fmt.Errorf("rate limit %s: %w", key, err)
	}
	if incr.Val() > int64(limit) {
		return false, start.Add(window).Sub(now), nil
	}
	return true, 0, nil
}
