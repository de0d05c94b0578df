package pacing

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Rate lets at most one item start per interval. Time spent generating counts
// toward the interval, unlike Fixed.
type Rate struct {
	interval time.Duration

	mu      sync.Mutex
	limiter *rate.Limiter
}

func NewRate(interval time.Duration) *Rate {
	r := &Rate{interval: interval}
	r.Reset()
	return r
}

func (r *Rate) Wait(ctx context.Context, _ Outcome) error {
	r.mu.Lock()
	limiter := r.limiter
	r.mu.Unlock()
	return limiter.Wait(ctx)
}

// Reset refills the bucket and spends the token for the first item, so the
// first Wait of a run lasts one interval from now.
func (r *Rate) Reset() {
	limit := rate.Inf
	if r.interval > 0 {
		limit = rate.Every(r.interval)
	}
	limiter := rate.NewLimiter(limit, 1)
	limiter.Allow()

	r.mu.Lock()
	r.limiter = limiter
	r.mu.Unlock()
}
