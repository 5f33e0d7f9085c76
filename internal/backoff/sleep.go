package backoff

import (
	"context"
	"time"
)

// Sleeper abstracts waiting so retry loops can be tested without real delays.
type Sleeper interface {
	// Sleep blocks for the duration or until the context is cancelled,
	// returning ctx.Err() in the latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc adapts a function to the Sleeper interface.
type SleeperFunc func(ctx context.Context, d time.Duration) error

// Sleep calls the wrapped function.
func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error {
	return f(ctx, d)
}

// Sleep waits for d, respecting context cancellation.
func Sleep(ctx context.Context, d time.Duration) error {
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

// RealSleeper returns a Sleeper backed by the wall clock.
func RealSleeper() Sleeper {
	return SleeperFunc(Sleep)
}

// NopSleeper returns a Sleeper that never waits. Used in tests.
func NopSleeper() Sleeper {
	return SleeperFunc(func(ctx context.Context, _ time.Duration) error {
		return ctx.Err()
	})
}
