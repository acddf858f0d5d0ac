package execmodel

import "time"

// ScriptRunTrigger records which selection-order step (spec.md §4.4) started
// this session.
type ScriptRunTrigger string

const (
	TriggerRetry           ScriptRunTrigger = "retry"
	TriggerReconcile       ScriptRunTrigger = "reconcile"
	TriggerProducerSchedule ScriptRunTrigger = "producer_schedule"
	TriggerConsumerWake    ScriptRunTrigger = "consumer_wake"
	TriggerPendingEvent    ScriptRunTrigger = "pending_event"
)

// ScriptRunStatus is the lifecycle of a session.
type ScriptRunStatus string

const (
	ScriptRunActive ScriptRunStatus = "active"
	ScriptRunClosed ScriptRunStatus = "closed"
)

// ScriptRun is the umbrella record for one scheduler tick's activity on one
// workflow (spec.md §4.4, §9; named "session" / "script run" in the GLOSSARY).
type ScriptRun struct {
	ID            string
	WorkflowID    string
	Trigger       ScriptRunTrigger
	Status        ScriptRunStatus
	HandlerRunIDs []string
	StartedAt     time.Time
	EndedAt       time.Time
}
