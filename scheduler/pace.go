package scheduler

import (
	"context"

	"golang.org/x/time/rate"
)

// DefaultScanRate paces how often Scheduler.Tick is allowed to scan the
// store for due work when the caller drives it in a tight loop (e.g. Run),
// rather than on its own external cadence.
const DefaultScanRate = 20 // ticks/second

// NewPaceLimiter returns a token-bucket limiter admitting ticksPerSecond
// store scans per second, with a burst of one — the due-work scan should
// never need to burst, since each tick does at most a handful of bounded
// reads per workflow.
func NewPaceLimiter(ticksPerSecond float64) *rate.Limiter {
	if ticksPerSecond <= 0 {
		ticksPerSecond = DefaultScanRate
	}
	return rate.NewLimiter(rate.Limit(ticksPerSecond), 1)
}

// wait blocks until the limiter admits one tick or ctx is done.
func wait(ctx context.Context, limiter *rate.Limiter) error {
	if limiter == nil {
		return nil
	}
	return limiter.Wait(ctx)
}
