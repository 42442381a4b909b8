// Package ratelimit throttles outbound deliveries per registration with a
// token bucket. The inbound gateway uses the KV-backed fixed window in the
// security package instead; this limiter is purely in-process.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter hands out delivery slots per registration. Each registration gets
// its own bucket sized to its configured per-second rate, which also acts as
// the burst ceiling.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	tokens float64
	rate   float64 // refill rate, tokens per second
	last   time.Time
}

// New creates a new rate limiter.
func New() *Limiter {
	return &Limiter{buckets: make(map[string]*bucket)}
}

// Allow reports whether a delivery for the registration may proceed now,
// consuming one token if so. A rateLimit of 0 or less means unlimited.
func (l *Limiter) Allow(regID string, rateLimit int) bool {
	if rateLimit <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.bucketFor(regID, rateLimit)

	now := time.Now()
	b.tokens += now.Sub(b.last).Seconds() * b.rate
	if b.tokens > b.rate {
		b.tokens = b.rate
	}
	b.last = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Wait blocks until a token is available or the context is cancelled.
// A rateLimit of 0 or less returns immediately.
func (l *Limiter) Wait(ctx context.Context, regID string, rateLimit int) error {
	if rateLimit <= 0 {
		return nil
	}

	// One token becomes available roughly every 1/rate seconds.
	interval := time.Duration(float64(time.Second) / float64(rateLimit))

	for !l.Allow(regID, rateLimit) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
	return nil
}

// Reset drops the bucket for a registration, so its next delivery starts
// with a full bucket again.
func (l *Limiter) Reset(regID string) {
	l.mu.Lock()
	delete(l.buckets, regID)
	l.mu.Unlock()
}

// bucketFor must be called with l.mu held. A rate change on an existing
// registration takes effect on its next bucket, after Reset.
func (l *Limiter) bucketFor(regID string, rateLimit int) *bucket {
	b, ok := l.buckets[regID]
	if !ok {
		b = &bucket{
			tokens: float64(rateLimit),
			rate:   float64(rateLimit),
			last:   time.Now(),
		}
		l.buckets[regID] = b
	}
	return b
}
