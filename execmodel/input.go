package execmodel

import "time"

// Input is a user-visible external signal. Unique by (WorkflowID, Source,
// Type, ExternalID); referenced by Event.CausedBy.
type Input struct {
	ID         string
	WorkflowID string
	Source     string
	Type       string
	ExternalID string
	Title      string
	CreatedAt  time.Time
}

// InputKey identifies an Input's uniqueness tuple.
type InputKey struct {
	WorkflowID string
	Source     string
	Type       string
	ExternalID string
}
