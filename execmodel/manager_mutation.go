package execmodel

import (
	"context"

	"github.com/signalmesh/core/connector"
	"github.com/signalmesh/core/mutationpolicy"
)

// DueMutations returns up to limit needs_reconcile mutations whose
// next_reconcile_at has elapsed, for the scheduler's reconciliation
// selection step (spec.md §4.4 step 2).
func (m *Manager) DueMutations(ctx context.Context, limit int) ([]Mutation, error) {
	return m.Stores.Mutations.DueForReconciliation(ctx, nowMs(), limit)
}

// Reconcile polls the connector registered for mutation.ToolNamespace and
// applies its verdict (spec.md §4.2 "The scheduler turns applied into
// markApplied+commit, failed into markFailed+retry-from-mutating, and retry
// into scheduleNextReconcile with exponential back-off until a configured
// cap, after which the mutation becomes indeterminate").
//
// Reconcile does not itself create retry runs or commit anything — it only
// advances the mutation's own state. Callers (the scheduler) inspect the
// returned Mutation.Status to decide what HandlerRun action follows.
func (m *Manager) Reconcile(ctx context.Context, mutationID string) (Mutation, error) {
	mutation, err := m.Stores.Mutations.Load(ctx, mutationID)
	if err != nil {
		return Mutation{}, err
	}
	conn, err := m.Connectors.Lookup(mutation.ToolNamespace)
	if err != nil {
		return Mutation{}, err
	}
	if conn.Reconciler == nil {
		return m.Stores.Mutations.UpdateStatus(ctx, mutation.ID, MutationIndeterminate, nil, "connector does not support reconciliation")
	}
	result, err := conn.Reconciler.Reconcile(ctx, mutation.ToolMethod, mutation.Params, mutation.IdempotencyKey)
	if err != nil {
		return m.scheduleReconcileRetry(ctx, mutation, err.Error())
	}
	switch result.Outcome {
	case connector.ReconcileApplied:
		return m.Stores.Mutations.UpdateStatus(ctx, mutation.ID, MutationApplied, result.Result, "")
	case connector.ReconcileFailed:
		return m.Stores.Mutations.UpdateStatus(ctx, mutation.ID, MutationFailed, result.Result, "")
	default: // connector.ReconcileRetry
		return m.scheduleReconcileRetry(ctx, mutation, "")
	}
}

// scheduleReconcileRetry either books the next reconciliation attempt with
// exponential back-off, or, once mutationpolicy.Exhausted, moves the
// mutation to indeterminate (spec.md §8 "Reconciliation attempts exceeding
// the cap transition the mutation to indeterminate").
func (m *Manager) scheduleReconcileRetry(ctx context.Context, mutation Mutation, errMsg string) (Mutation, error) {
	if mutationpolicy.Exhausted(m.Backoff, mutation.ReconcileAttempts) {
		return m.Stores.Mutations.UpdateStatus(ctx, mutation.ID, MutationIndeterminate, nil, errMsg)
	}
	delay := mutationpolicy.NextDelay(m.Backoff, mutation.ReconcileAttempts)
	return m.Stores.Mutations.ScheduleNextReconcile(ctx, mutation.ID, nowMs(), delay.Milliseconds())
}

// ResolveAction is the HandlerRun action the caller must take next after
// ResolveMutation records a user resolution against an indeterminate (or
// otherwise stuck) mutation, per spec.md §4.2's "User resolutions" table.
type ResolveAction string

const (
	// ResolveActionContinueEmitting means the caller should create a retry
	// run starting at 'emitting' (mutation treated as applied).
	ResolveActionContinueEmitting ResolveAction = "continue_emitting"
	// ResolveActionRetryMutating means the caller should create a retry run
	// starting at 'mutating' (mutation treated as failed, to be reattempted).
	ResolveActionRetryMutating ResolveAction = "retry_mutating"
	// ResolveActionConsumeNoRetry means the caller should consume the
	// originally reserved events without any further run.
	ResolveActionConsumeNoRetry ResolveAction = "consume_no_retry"
)

// ResolveMutation applies by to the mutation identified by mutationID and
// returns the follow-up action the scheduler must perform.
func (m *Manager) ResolveMutation(ctx context.Context, mutationID string, by Resolution) (Mutation, ResolveAction, error) {
	var status MutationStatus
	var action ResolveAction
	switch by {
	case ResolutionUserAssertApplied:
		status, action = MutationApplied, ResolveActionContinueEmitting
	case ResolutionUserAssertFailed, ResolutionUserRetry:
		status, action = MutationFailed, ResolveActionRetryMutating
	case ResolutionUserSkip:
		// No "skipped" MutationStatus exists (spec.md §3); the outcome is
		// recorded as MutationOutcome="skipped" on the continuation
		// HandlerRun instead, so the mutation itself is closed as failed
		// (no retry, no assertion that it took effect).
		status, action = MutationFailed, ResolveActionConsumeNoRetry
	default:
		return Mutation{}, "", &ErrInvalidMutationTransition{From: "", To: MutationStatus(by)}
	}
	mutation, err := m.Stores.Mutations.Resolve(ctx, mutationID, by, status)
	if err != nil {
		return Mutation{}, "", err
	}
	return mutation, action, nil
}
