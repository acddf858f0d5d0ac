package scheduler

import (
	"context"
	"encoding/json"
	"time"
)

// DefaultSoftTimeout is used when InmemEngine.Timeout is zero (spec.md
// §4.4 "implementation-chosen soft timeout").
const DefaultSoftTimeout = 2 * time.Minute

// InmemEngine executes a handler-body step directly in the scheduler's own
// goroutine under a context timeout, the default backend matching spec.md
// §9's "cursor + runnable queue, both reconstructable from the store" — no
// external engine is required to run the execution model.
type InmemEngine struct {
	Timeout time.Duration
}

func (e InmemEngine) Execute(ctx context.Context, d Dispatcher, inv HandlerInvocation) (json.RawMessage, error) {
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = DefaultSoftTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return d.Dispatch(ctx, inv)
}
