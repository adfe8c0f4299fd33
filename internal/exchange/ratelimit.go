// ratelimit.go implements token-bucket rate limiting for venue REST APIs.
//
// Venues publish per-category limits over fixed windows; the buckets here
// refill continuously instead of in window-sized bursts, which keeps
// request pacing smooth and clear of the hard limits.
package exchange

import (
	"context"
	"sync"
	"time"
)

// TokenBucket implements a token-bucket rate limiter with continuous
// refill. Callers block in Wait() until a token is available or the
// context is cancelled.
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	rate     float64 // tokens refilled per second
	lastTime time.Time
}

// NewTokenBucket creates a rate limiter with the given burst capacity and
// refill rate.
func NewTokenBucket(capacity, ratePerSecond float64) *TokenBucket {
	return &TokenBucket{
		tokens:   capacity,
		capacity: capacity,
		rate:     ratePerSecond,
		lastTime: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is cancelled.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(tb.lastTime).Seconds()
		tb.tokens += elapsed * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastTime = now

		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}

		wait := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// RateLimiter groups token buckets by endpoint category. Each call must
// Wait() on the matching bucket before issuing the HTTP request.
type RateLimiter struct {
	Order      *TokenBucket // order placement
	Cancel     *TokenBucket // cancellations
	MarketData *TokenBucket // kline/ticker reads
}

// NewRateLimiter creates buckets with conservative defaults suitable for
// the exchanges this connector targets.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		Order:      NewTokenBucket(100, 10),
		Cancel:     NewTokenBucket(100, 10),
		MarketData: NewTokenBucket(60, 6),
	}
}
