package pacing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Backoff waits the base delay after a success. Consecutive failures grow the
// wait exponentially up to max; the next success resets it.
type Backoff struct {
	base time.Duration
	max  time.Duration

	mu  sync.Mutex
	exp *backoff.ExponentialBackOff
}

func NewBackoff(base, max time.Duration) *Backoff {
	if max <= 0 {
		max = DefaultMaxDelay
	}
	if max < base {
		max = base
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = base
	if exp.InitialInterval <= 0 {
		exp.InitialInterval = time.Second
	}
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxInterval = max

	return &Backoff{base: base, max: max, exp: exp}
}

// Next returns the delay that Wait would use for the given outcome and
// advances the failure streak.
func (b *Backoff) Next(last Outcome) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	if last == Success {
		b.exp.Reset()
		return b.base
	}

	d := b.exp.NextBackOff()
	if d == backoff.Stop || d > b.max {
		d = b.max
	}
	if d < b.base {
		d = b.base
	}
	return d
}

func (b *Backoff) Wait(ctx context.Context, last Outcome) error {
	d := b.Next(last)
	if last == Failure {
		slog.Debug("Backing off after failed item", "delay", d)
	}
	return sleep(ctx, d)
}

func (b *Backoff) Reset() {
	b.mu.Lock()
	b.exp.Reset()
	b.mu.Unlock()
}
