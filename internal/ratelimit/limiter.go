// Package ratelimit paces navigations and answers robots.txt questions.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter caps the navigation rate with a token bucket. A nil *Limiter
// never blocks.
type Limiter struct {
	mu      sync.RWMutex
	limiter *rate.Limiter
	rate    float64
	burst   int
	waits   int64
}

// NewLimiter creates a limiter allowing requestsPerSecond with the given
// burst. It returns nil when requestsPerSecond is not positive.
func NewLimiter(requestsPerSecond float64, burst int) *Limiter {
	if requestsPerSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
		rate:    requestsPerSecond,
		burst:   burst,
	}
}

// Wait blocks until a request is allowed or context is cancelled.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return ctx.Err()
	}
	l.mu.Lock()
	l.waits++
	l.mu.Unlock()
	return l.limiter.Wait(ctx)
}

// Allow checks if a request is allowed without blocking.
func (l *Limiter) Allow() bool {
	if l == nil {
		return true
	}
	return l.limiter.Allow()
}

// Stats returns rate limiter statistics.
func (l *Limiter) Stats() LimiterStats {
	if l == nil {
		return LimiterStats{}
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	return LimiterStats{
		Rate:  l.rate,
		Burst: l.burst,
		Waits: l.waits,
	}
}

// LimiterStats contains rate limiter statistics.
type LimiterStats struct {
	Rate  float64 `json:"rate"`
	Burst int     `json:"burst"`
	Waits int64   `json:"waits"`
}
