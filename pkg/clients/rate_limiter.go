// Package clients provides the HTTP client stack for the Opendatasoft
// Explore v2 API: page fetching, retry with exponential backoff, and
// request rate limiting.
package clients

import (
	"context"
	"sync/atomic"
	"time"
)

// RateLimiter spaces outbound requests to a single source.
type RateLimiter interface {
	// Wait blocks for the configured pacing delay
	Wait(ctx context.Context) error

	// GetStats returns rate limiter statistics
	GetStats() RateLimiterStats
}

// RateLimiterStats provides statistics for monitoring long paginated runs.
type RateLimiterStats struct {
	Delay       time.Duration `json:"delay"`
	Waits       int64         `json:"waits"`
	TotalWaited time.Duration `json:"total_waited"`
}

// FixedDelayLimiter enforces a fixed minimum delay after every successful
// page fetch. The delay is deliberately not applied to failed attempts
// inside a retry sequence; the caller invokes Wait only on success, so
// backoff and pacing never stack.
type FixedDelayLimiter struct {
	delay time.Duration

	waits       int64
	totalWaited int64
}

// NewFixedDelayLimiter creates a limiter with the given pacing delay.
// A non-positive delay disables pacing.
func NewFixedDelayLimiter(delay time.Duration) *FixedDelayLimiter {
	return &FixedDelayLimiter{delay: delay}
}

// Wait blocks for the pacing delay or until the context is cancelled.
func (l *FixedDelayLimiter) Wait(ctx context.Context) error {
	if l.delay <= 0 {
		return nil
	}

	start := time.Now()
	timer := time.NewTimer(l.delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	atomic.AddInt64(&l.waits, 1)
	atomic.AddInt64(&l.totalWaited, int64(time.Since(start)))
	return nil
}

// GetStats returns current limiter statistics.
func (l *FixedDelayLimiter) GetStats() RateLimiterStats {
	return RateLimiterStats{
		Delay:       l.delay,
		Waits:       atomic.LoadInt64(&l.waits),
		TotalWaited: time.Duration(atomic.LoadInt64(&l.totalWaited)),
	}
}
