// Package notify defines the notification sink the Execution Model Manager
// and scheduler emit to, and an in-memory fan-out implementation, grounded
// on runtime/agent/hooks.Bus's synchronous, stop-on-first-error fan-out
// (Bus does not keep registration order) (spec.md §6 "A notifications sink receives
// {workflow_id, type, payload, timestamp, workflow_title}").
package notify

import "time"

// Type enumerates the notification kinds spec.md §6 names.
type Type string

const (
	TypeError            Type = "error"
	TypeEscalated        Type = "escalated"
	TypeMaintenanceFailed Type = "maintenance_failed"
	TypeScriptMessage    Type = "script_message"
	TypeScriptAsk        Type = "script_ask"
)

// Notification is one event delivered to a Sink.
type Notification struct {
	WorkflowID    string
	WorkflowTitle string
	Type          Type
	Payload       []byte
	Timestamp     time.Time
}

// Sink receives notifications emitted by the execution model. Implementations
// must be safe for concurrent use; the scheduler may call Notify from its
// single tick goroutine only, but recovery and manual-resolution paths may
// call it from request-handling goroutines.
type Sink interface {
	Notify(n Notification) error
}

// SinkFunc adapts a plain function to Sink.
type SinkFunc func(n Notification) error

func (f SinkFunc) Notify(n Notification) error { return f(n) }
