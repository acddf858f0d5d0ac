// Package maintenance defines the seam between the Execution Model Manager
// and the external maintainer/planner collaborator that actually rewrites a
// failing handler script (spec.md §1 places that collaborator out of scope).
// Agent's method signatures use only primitive types, the same discipline
// connector.Caller/Reconciler use, so this package never needs to import
// execmodel and the import edge stays one-way (execmodel -> maintenance).
package maintenance

import (
	"context"
	"encoding/json"

	"github.com/signalmesh/core/notify"
)

// Agent is asked to create a fix task once a handler run's logic failure has
// put its workflow into maintenance mode (spec.md §6's "createTask"
// semantics). entering/exiting maintenance mode itself stays a Manager
// responsibility (Manager.EnterMaintenance/ExitMaintenance already own that
// state transition and are exercised directly elsewhere); Agent only covers
// the part that hands off to the external collaborator.
type Agent interface {
	CreateTask(ctx context.Context, workflowID, workflowTitle, handlerName, errMsg string) error
}

// NotifyAgent is the shipped Agent: a thin adapter that does nothing beyond
// publish a script_ask notification, exactly as SPEC_FULL.md describes it.
// The actual script authoring happens downstream, outside this repo, by
// whatever collaborator subscribes to the sink.
type NotifyAgent struct {
	Sink notify.Sink
}

// NewNotifyAgent returns a NotifyAgent publishing through sink.
func NewNotifyAgent(sink notify.Sink) NotifyAgent {
	return NotifyAgent{Sink: sink}
}

// CreateTask publishes a script_ask notification carrying the failing
// handler and its error, swallowing a nil sink the same way Manager.notify
// does (tests and single-binary setups may not wire one).
func (a NotifyAgent) CreateTask(ctx context.Context, workflowID, workflowTitle, handlerName, errMsg string) error {
	if a.Sink == nil {
		return nil
	}
	return a.Sink.Notify(notify.Notification{
		WorkflowID:    workflowID,
		WorkflowTitle: workflowTitle,
		Type:          notify.TypeScriptAsk,
		Payload:       jsonPayload(map[string]string{"handler_name": handlerName, "error": errMsg}),
	})
}

// jsonPayload marshals v to JSON, swallowing errors (only called with
// trivially-serializable values), mirroring execmodel's helper of the same
// name.
func jsonPayload(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
