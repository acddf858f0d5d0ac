package scheduler

import (
	"context"
	"encoding/json"
)

// Engine abstracts how a handler-body step is actually executed, grounded
// on runtime/agent/engine.Engine's pluggable-backend shape but collapsed to
// the single operation this package needs: run one HandlerInvocation
// through Dispatcher and return its encoded result. InmemEngine runs it
// directly under a soft timeout; TemporalEngine runs it as a Temporal
// activity so a crash mid-call is retried by Temporal in addition to (not
// instead of) execmodel.Manager's own phase-based recovery.
type Engine interface {
	Execute(ctx context.Context, d Dispatcher, inv HandlerInvocation) (json.RawMessage, error)
}
