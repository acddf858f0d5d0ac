package execmodel

import "time"

// Topic is a named per-workflow event stream, created lazily on first
// publish and never deleted for the lifetime of the workflow.
type Topic struct {
	ID         string
	WorkflowID string
	Name       string
	CreatedAt  time.Time
}
