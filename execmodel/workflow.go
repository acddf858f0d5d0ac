// Package execmodel implements the execution model at the heart of the
// automation engine: workflows, scripts, topics, events, inputs, mutations,
// and handler runs, plus the Manager that enforces their lifecycle
// invariants. Each Manager call applies its changes as a sequence of
// individual store operations; no transaction spans them.
package execmodel

import "time"

type (
	// WorkflowStatus is the coarse lifecycle state of a Workflow.
	WorkflowStatus string

	// Workflow represents one user automation. Only one script is active at a
	// time. The scheduler runs a workflow only when Status is WorkflowActive,
	// Error is empty, Maintenance is false, and the workflow is not user-paused
	// (modeled here as WorkflowPaused, per Open Question (iii) — see DESIGN.md).
	Workflow struct {
		ID                 string
		Title              string
		Status             WorkflowStatus
		Maintenance        bool
		MaintenanceFixCount int
		Error              string
		ActiveScriptID     string
		HandlerConfig      []byte // opaque JSON: declared producer/consumer set + schedules
		IntentSpec         []byte // opaque JSON: structured user intent
		PendingRetryRunID  string // set by the scheduler, cleared transactionally on pickup
		CreatedAt          time.Time
		UpdatedAt          time.Time
	}
)

const (
	WorkflowDraft  WorkflowStatus = "draft"
	WorkflowReady  WorkflowStatus = "ready"
	WorkflowActive WorkflowStatus = "active"
	WorkflowPaused WorkflowStatus = "paused"
	WorkflowError  WorkflowStatus = "error"
)

// Runnable reports whether the scheduler is allowed to consider this
// workflow for any selection-order step (spec.md §4.4).
func (w Workflow) Runnable() bool {
	return w.Status == WorkflowActive && w.Error == "" && !w.Maintenance
}
