package execmodel

import (
	"fmt"
	"time"
)

// MutationStatus is the lifecycle state of a Mutation (spec.md §4.2).
type MutationStatus string

const (
	MutationPending        MutationStatus = "pending"
	MutationInFlight       MutationStatus = "in_flight"
	MutationApplied        MutationStatus = "applied"
	MutationFailed         MutationStatus = "failed"
	MutationNeedsReconcile MutationStatus = "needs_reconcile"
	MutationIndeterminate  MutationStatus = "indeterminate"
)

// MutationOutcome is the denormalised outcome recorded on HandlerRun.
// Per Open Question (i), the Mutation record is authoritative; the startup
// recovery pass (Manager.ClassifyAndRecoverRun) rebuilds this value from it
// rather than trusting it standalone. Ordinary store loads return the
// stored value as is.
type MutationOutcome string

const (
	OutcomeNone    MutationOutcome = ""
	OutcomeSuccess MutationOutcome = "success"
	OutcomeFailure MutationOutcome = "failure"
	OutcomeSkipped MutationOutcome = "skipped"
)

// Resolution names how a terminal/uncertain mutation was resolved.
type Resolution string

const (
	ResolutionNone              Resolution = ""
	ResolutionUserAssertApplied Resolution = "user_assert_applied"
	ResolutionUserAssertFailed  Resolution = "user_assert_failed"
	ResolutionUserSkip          Resolution = "user_skip"
	ResolutionUserRetry         Resolution = "user_retry"
	ResolutionReconciliation    Resolution = "reconciliation"
)

// Mutation is one external side effect recorded by a consumer handler run.
// At most one Mutation exists per HandlerRunID (spec.md §8 invariant 2).
type Mutation struct {
	ID                string
	HandlerRunID      string
	WorkflowID        string
	ToolNamespace     string
	ToolMethod        string
	Params            []byte
	IdempotencyKey    string
	Status            MutationStatus
	Result            []byte
	Error             string
	ReconcileAttempts int
	LastReconcileAt   time.Time
	NextReconcileAt   time.Time
	ResolvedBy        Resolution
	ResolvedAt        time.Time
	UITitle           string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// validTransitions enumerates the only status edges allowed by the state
// machine in spec.md §4.2. Terminal-with-resolution states (applied,
// failed, indeterminate) never transition back to pending/in_flight.
var validTransitions = map[MutationStatus]map[MutationStatus]bool{
	MutationPending:        {MutationInFlight: true},
	MutationInFlight:       {MutationApplied: true, MutationFailed: true, MutationNeedsReconcile: true, MutationIndeterminate: true},
	MutationNeedsReconcile: {MutationApplied: true, MutationFailed: true, MutationIndeterminate: true},
}

// CanTransition reports whether moving from "from" to "to" is a legal edge of
// the mutation state machine.
func CanTransition(from, to MutationStatus) bool {
	edges, ok := validTransitions[from]
	if !ok {
		return false
	}
	return edges[to]
}

// ErrInvalidMutationTransition is returned by Manager methods that attempt an
// illegal status edge.
type ErrInvalidMutationTransition struct {
	From, To MutationStatus
}

func (e *ErrInvalidMutationTransition) Error() string {
	return fmt.Sprintf("mutation: illegal transition %s -> %s", e.From, e.To)
}
