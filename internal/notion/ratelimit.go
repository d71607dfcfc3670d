package notion

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Notion allows about three requests per second per integration.
const (
	DefaultRequestsPerSecond = 3.0
	DefaultBurst             = 10
)

// RateLimiter spaces out API calls with a token bucket. A 429 pauses every
// caller for a fixed window. It is safe for concurrent use.
type RateLimiter struct {
	bucket *rate.Limiter

	mu          sync.Mutex
	pausedUntil time.Time
}

// NewRateLimiter allows requestsPerSecond on average with bursts of burst.
func NewRateLimiter(requestsPerSecond float64, burst int) *RateLimiter {
	if requestsPerSecond <= 0 {
		requestsPerSecond = DefaultRequestsPerSecond
	}
	if burst <= 0 {
		burst = DefaultBurst
	}
	return &RateLimiter{
		bucket: rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
	}
}

// DefaultRateLimiter uses Notion's published limit. The burst lets one
// walker batch go out at once.
func DefaultRateLimiter() *RateLimiter {
	return NewRateLimiter(DefaultRequestsPerSecond, DefaultBurst)
}

// Wait blocks until the pause window is over and a token is available.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if d := r.remainingPause(); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return r.bucket.Wait(ctx)
}

// Pause holds back every caller for d. Overlapping pauses never shorten
// an open window.
func (r *RateLimiter) Pause(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if until := time.Now().Add(d); until.After(r.pausedUntil) {
		r.pausedUntil = until
	}
}

func (r *RateLimiter) remainingPause() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return time.Until(r.pausedUntil)
}
