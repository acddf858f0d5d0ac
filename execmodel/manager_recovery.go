package execmodel

import (
	"context"
	"errors"
	"time"
)

// ListActiveRuns returns every HandlerRun with status=active, the startup
// recovery work-list for spec.md §4.5 step 2.
func (m *Manager) ListActiveRuns(ctx context.Context) ([]HandlerRun, error) {
	return m.Stores.HandlerRuns.ListActive(ctx)
}

// ListOpenSessions returns every ScriptRun still status=active, the
// candidate list for spec.md §4.5 step 3 (sessions a crash may have left
// open even though every run they started is now terminal).
func (m *Manager) ListOpenSessions(ctx context.Context) ([]ScriptRun, error) {
	return m.Stores.ScriptRuns.ListOpen(ctx)
}

// ReleaseOrphanedReservations releases reservations whose owning run is not
// status=active (spec.md §4.5 step 1). isActive reports, for a run ID,
// whether that run is still status=active; Recovery supplies it backed by
// the set of runs about to be (or already) reclassified.
func (m *Manager) ReleaseOrphanedReservations(ctx context.Context, isActive func(runID string) bool) (int, error) {
	return m.Stores.Events.ReleaseOrphaned(ctx, isActive)
}

// RecoveryAction is what the caller (the recovery package) must do
// following ClassifyAndRecoverRun's crash-pairing decision.
type RecoveryAction string

const (
	// RecoveryActionRetryRun means a new HandlerRun was created
	// (run.RetryOf == the crashed run's ID) and should be scheduled.
	RecoveryActionRetryRun RecoveryAction = "retry_run"
	// RecoveryActionAwaitReconciliation means the run was parked at
	// paused:reconciliation; no new run was created.
	RecoveryActionAwaitReconciliation RecoveryAction = "await_reconciliation"
	// RecoveryActionAwaitUser means the mutation is already indeterminate
	// and needs a human resolution; no new run was created.
	RecoveryActionAwaitUser RecoveryAction = "await_user"
)

// ClassifyAndRecoverRun applies the crash-pairing rule of spec.md §4.2 to
// one incomplete (status=active) HandlerRun found at startup. It never
// inspects HandlerRun.MutationOutcome — the denormalised field is rebuilt
// from the authoritative Mutation record, per Open Question (i).
func (m *Manager) ClassifyAndRecoverRun(ctx context.Context, run HandlerRun) (crashed HandlerRun, retry *HandlerRun, action RecoveryAction, err error) {
	if run.HandlerType == HandlerProducer {
		return m.recoverProducerRun(ctx, run)
	}

	mutation, merr := m.Stores.Mutations.LoadByHandlerRun(ctx, run.ID)
	switch {
	case errors.Is(merr, ErrNotFound):
		return m.retryFrom(ctx, run, PhasePreparing, true)
	case merr != nil:
		return HandlerRun{}, nil, "", merr
	}

	run.MutationOutcome = OutcomeNone
	switch mutation.Status {
	case MutationPending:
		return m.retryFrom(ctx, run, PhasePreparing, true)

	case MutationInFlight:
		return m.parkForReconciliation(ctx, run, mutation)

	case MutationApplied:
		run.MutationOutcome = OutcomeSuccess
		return m.retryFrom(ctx, run, PhaseEmitting, false)

	case MutationFailed:
		run.MutationOutcome = OutcomeFailure
		return m.retryFrom(ctx, run, PhaseMutating, false)

	case MutationNeedsReconcile:
		run.Status = StatusPausedReconcile
		if err := m.Stores.HandlerRuns.Update(ctx, run); err != nil {
			return HandlerRun{}, nil, "", err
		}
		return run, nil, RecoveryActionAwaitReconciliation, nil

	default: // MutationIndeterminate
		run.Status = StatusPausedReconcile
		if err := m.Stores.HandlerRuns.Update(ctx, run); err != nil {
			return HandlerRun{}, nil, "", err
		}
		return run, nil, RecoveryActionAwaitUser, nil
	}
}

func (m *Manager) recoverProducerRun(ctx context.Context, run HandlerRun) (HandlerRun, *HandlerRun, RecoveryAction, error) {
	run.Status = StatusCrashed
	run.EndedAt = time.Now()
	if err := m.Stores.HandlerRuns.Update(ctx, run); err != nil {
		return HandlerRun{}, nil, "", err
	}
	retry, err := m.CreateHandlerRun(ctx, run.ScriptRunID, run.WorkflowID, HandlerProducer, run.HandlerName, run.ID, PhasePending)
	if err != nil {
		return HandlerRun{}, nil, "", err
	}
	if err := m.setPendingRetry(ctx, run.WorkflowID, retry.ID); err != nil {
		return HandlerRun{}, nil, "", err
	}
	return run, &retry, RecoveryActionRetryRun, nil
}

// setPendingRetry records retryRunID on the workflow so the scheduler's
// selection-order step 1 (spec.md §4.4) picks it up on the next tick.
func (m *Manager) setPendingRetry(ctx context.Context, workflowID, retryRunID string) error {
	w, err := m.Stores.Workflows.Load(ctx, workflowID)
	if err != nil {
		return err
	}
	w.PendingRetryRunID = retryRunID
	w.UpdatedAt = time.Now()
	return m.Stores.Workflows.Update(ctx, w)
}

// ClaimPendingRetry clears and returns workflowID's pending_retry_run_id,
// atomically from the scheduler's perspective (the pointer is read and
// cleared within this single call). Returns an empty runID if no retry is
// pending.
func (m *Manager) ClaimPendingRetry(ctx context.Context, workflowID string) (runID string, err error) {
	w, err := m.Stores.Workflows.Load(ctx, workflowID)
	if err != nil {
		return "", err
	}
	runID = w.PendingRetryRunID
	if runID == "" {
		return "", nil
	}
	w.PendingRetryRunID = ""
	w.UpdatedAt = time.Now()
	if err := m.Stores.Workflows.Update(ctx, w); err != nil {
		return "", err
	}
	return runID, nil
}

// retryFrom marks run crashed and creates a new retry run starting at
// startPhase. When release is true the crashed run's event reservations go
// back to pending and the retry re-derives its own reservations from a
// fresh prepare() (the no-mutation/pending case); when false they are
// reassigned directly to the retry run, which resumes past preparing
// without reserving again (the applied case, resuming at emitting, and the
// failed case, resuming at mutating and recreating the mutation against the
// same reservations — scenario S4 is explicit that "the original events
// remain reserved to the new run" for this case, which is why failed uses
// reassign here despite §4.2's summary table saying "release events").
func (m *Manager) retryFrom(ctx context.Context, run HandlerRun, startPhase Phase, release bool) (HandlerRun, *HandlerRun, RecoveryAction, error) {
	run.Status = StatusCrashed
	run.EndedAt = time.Now()
	if err := m.Stores.HandlerRuns.Update(ctx, run); err != nil {
		return HandlerRun{}, nil, "", err
	}
	retry, err := m.CreateHandlerRun(ctx, run.ScriptRunID, run.WorkflowID, HandlerConsumer, run.HandlerName, run.ID, startPhase)
	if err != nil {
		return HandlerRun{}, nil, "", err
	}
	if err := m.setPendingRetry(ctx, run.WorkflowID, retry.ID); err != nil {
		return HandlerRun{}, nil, "", err
	}
	if release {
		if err := m.Stores.Events.Release(ctx, run.ID); err != nil {
			return HandlerRun{}, nil, "", err
		}
	} else {
		if err := m.Stores.Events.Reassign(ctx, run.ID, retry.ID); err != nil {
			return HandlerRun{}, nil, "", err
		}
	}
	return run, &retry, RecoveryActionRetryRun, nil
}

// parkForReconciliation handles the in_flight-at-crash case: the mutation's
// outcome is unknown, so the run is parked (reservations kept) rather than
// retried, and the mutation moves to needs_reconcile (if the connector
// supports reconciliation) or indeterminate.
func (m *Manager) parkForReconciliation(ctx context.Context, run HandlerRun, mutation Mutation) (HandlerRun, *HandlerRun, RecoveryAction, error) {
	action := RecoveryActionAwaitReconciliation
	conn, err := m.Connectors.Lookup(mutation.ToolNamespace)
	if err != nil || conn.Reconciler == nil {
		if _, err := m.Stores.Mutations.UpdateStatus(ctx, mutation.ID, MutationIndeterminate, nil, "no reconciler available at recovery"); err != nil {
			return HandlerRun{}, nil, "", err
		}
		action = RecoveryActionAwaitUser
	} else {
		if _, err := m.Stores.Mutations.UpdateStatus(ctx, mutation.ID, MutationNeedsReconcile, nil, ""); err != nil {
			return HandlerRun{}, nil, "", err
		}
		if _, err := m.Stores.Mutations.ScheduleNextReconcile(ctx, mutation.ID, nowMs(), 0); err != nil {
			return HandlerRun{}, nil, "", err
		}
	}
	run.Status = StatusPausedReconcile
	if err := m.Stores.HandlerRuns.Update(ctx, run); err != nil {
		return HandlerRun{}, nil, "", err
	}
	return run, nil, action, nil
}
