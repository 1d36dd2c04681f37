package engine

import (
	"context"
	"time"

	"github.com/tradewire/agentcore/pkg/schema"
)

// Backoff computes the delay before the attempt following `attempt`.
// Backoff is linear: BackoffMs * attempt.
func Backoff(p schema.RetryPolicy, attempt int) time.Duration {
	if p.BackoffMs <= 0 || attempt <= 0 {
		return 0
	}
	return time.Duration(p.BackoffMs) * time.Millisecond * time.Duration(attempt)
}

// WaitForBackoff sleeps for the backoff duration or returns early if the
// context is cancelled.
func WaitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
