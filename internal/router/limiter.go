package router

import (
	"sync"
	"time"
)

// Token-bucket limiter defaults: burst of 10, one token back every 3s.
const (
	bucketCapacity = 10
	refillInterval = 3 * time.Second
)

type bucket struct {
	tokens float64
	last   time.Time
}

// rateLimiter tracks one token bucket per user.
type rateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

func newRateLimiter() *rateLimiter {
	return &rateLimiter{
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow spends one token for the user, refilling by elapsed time first.
func (l *rateLimiter) Allow(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[userID]
	if !ok {
		b = &bucket{tokens: bucketCapacity, last: now}
		l.buckets[userID] = b
	}

	refill := now.Sub(b.last).Seconds() / refillInterval.Seconds()
	b.tokens += refill
	if b.tokens > bucketCapacity {
		b.tokens = bucketCapacity
	}
	b.last = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}
