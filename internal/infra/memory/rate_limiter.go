package memory

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a process-local fixed-window limiter. Construct one per
// process and share it; it is safe for concurrent use.
type RateLimiter struct {
	clock func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	windowStart time.Time
	count       int
}

func NewRateLimiter() *RateLimiter {
	return NewRateLimiterWithClock(time.Now)
}

// NewRateLimiterWithClock is test-only for deterministic windows.
func NewRateLimiterWithClock(now func() time.Time) *RateLimiter {
	return &RateLimiter{clock: now, buckets: make(map[string]*bucket)}
}

// Allow implements app.Limiter.
func (l *RateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error) {
	now := l.clock()
	start := now.Truncate(window)

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok || now.Sub(b.windowStart) >= window {
		b = &bucket{windowStart: start}
		l.buckets[key] = b
	}
	if b.count < limit {
		b.count++
		return true, 0, nil
	}
	return false, b.windowStart.Add(window).Sub(now), nil
}

// Sweep drops buckets whose window has ended.
func (l *RateLimiter) Sweep(window time.Duration) {
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, b := range l.buckets {
		if now.Sub(b.windowStart) >= window {
			delete(l.buckets, key)
		}
	}
}
