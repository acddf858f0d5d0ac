// Package mutationpolicy computes the reconciliation back-off schedule for
// needs_reconcile mutations, grounded on runtime/a2a/retry's exponential
// backoff with jitter, adapted from call-retry timing to reconciliation-poll
// scheduling (spec.md §4.2, §7: "retried automatically with exponential
// back-off capped at 1 hour").
package mutationpolicy

import (
	"math"
	"math/rand"
	"time"
)

// BackoffConfig configures the reconciliation poll schedule.
type BackoffConfig struct {
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	Jitter            float64
	// MaxAttempts is the reconcile_attempts count beyond which a mutation
	// transitions to indeterminate rather than being scheduled again.
	MaxAttempts int
}

// DefaultBackoffConfig matches spec.md §7's "capped at 1 hour" transient
// retry policy, reused here for reconciliation polling.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialBackoff:    5 * time.Second,
		MaxBackoff:        time.Hour,
		BackoffMultiplier: 2.0,
		Jitter:            0.2,
		MaxAttempts:       12,
	}
}

// NextDelay returns the delay before the next reconciliation attempt given
// the number of attempts made so far (reconcile_attempts, pre-increment).
// attemptsSoFar=0 is the delay before the first reconciliation poll.
func NextDelay(cfg BackoffConfig, attemptsSoFar int) time.Duration {
	backoff := float64(cfg.InitialBackoff) * math.Pow(cfg.BackoffMultiplier, float64(attemptsSoFar))
	if backoff > float64(cfg.MaxBackoff) {
		backoff = float64(cfg.MaxBackoff)
	}
	if cfg.Jitter > 0 {
		backoff += backoff * cfg.Jitter * (rand.Float64()*2 - 1) //nolint:gosec // jitter, not security sensitive
	}
	if backoff < 0 {
		backoff = 0
	}
	return time.Duration(backoff)
}

// Exhausted reports whether attemptsSoFar has reached the configured cap,
// meaning the mutation should move to indeterminate instead of being
// scheduled for another reconciliation attempt.
func Exhausted(cfg BackoffConfig, attemptsSoFar int) bool {
	return cfg.MaxAttempts > 0 && attemptsSoFar >= cfg.MaxAttempts
}
