package pacing

import (
	"context"
	"time"
)

// Fixed waits the same delay after every item regardless of outcome
type Fixed struct {
	Delay time.Duration
}

func NewFixed(delay time.Duration) *Fixed {
	return &Fixed{Delay: delay}
}

func (f *Fixed) Wait(ctx context.Context, _ Outcome) error {
	return sleep(ctx, f.Delay)
}

func (f *Fixed) Reset() {}
