// internal/engine/clock.go
package engine

import (
	"context"
	"time"
)

// Clock abstracts wall-clock reads and cooperative waits so that every polling
// loop in the engine can be driven by synthetic time in tests.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, whichever comes first.
	Sleep(ctx context.Context, d time.Duration) error
}

// RealClock is the production Clock backed by the time package.
type RealClock struct{}

// Now returns the current local time.
func (RealClock) Now() time.Time { return time.Now() }

// Sleep pauses execution for d, respecting ctx.
func (RealClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sleepUntil sleeps at most `interval`, never past `deadline`.
func sleepUntil(ctx context.Context, c Clock, interval time.Duration, deadline time.Time) error {
	remaining := deadline.Sub(c.Now())
	if remaining <= 0 {
		return ctx.Err()
	}
	if interval > remaining {
		interval = remaining
	}
	return c.Sleep(ctx, interval)
}
