// Package pacing decides how long the batch runner pauses between items.
package pacing

import (
	"context"
	"fmt"
	"time"
)

const (
	// DefaultDelay is the pause between items when nothing else is configured
	DefaultDelay = 1800 * time.Millisecond
	// DefaultMaxDelay caps the backoff policy
	DefaultMaxDelay = 30 * time.Second
)

// Outcome is the result of the item that just finished
type Outcome int

const (
	Success Outcome = iota
	Failure
)

func (o Outcome) String() string {
	if o == Failure {
		return "failure"
	}
	return "success"
}

// Pacer blocks between two items. Reset is called once at the start of every run.
type Pacer interface {
	Wait(ctx context.Context, last Outcome) error
	Reset()
}

// New builds a pacer from its policy name: fixed, backoff or rate
func New(policy string, delay, maxDelay time.Duration) (Pacer, error) {
	if delay < 0 {
		return nil, fmt.Errorf("delay must not be negative, got %s", delay)
	}
	switch policy {
	case "", "fixed":
		return NewFixed(delay), nil
	case "backoff":
		return NewBackoff(delay, maxDelay), nil
	case "rate":
		return NewRate(delay), nil
	default:
		return nil, fmt.Errorf("unknown pacing policy: %s", policy)
	}
}

// sleep waits for d or until ctx is done
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
