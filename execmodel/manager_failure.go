package execmodel

import (
	"context"
	"time"

	"github.com/signalmesh/core/mutationpolicy"
	"github.com/signalmesh/core/notify"
)

// FailRun records a failure on runID per the failure taxonomy table
// (spec.md §4.3): it sets error/error_type, moves status per
// FailureTaxonomy, releases reserved events when the taxonomy calls for it,
// books an exponential-backoff retry for a Retryable disposition
// (spec.md §7's "retried automatically with exponential back-off capped at
// 1 hour"), and — for errType=ErrorLogic — drives the maintenance-mode /
// error-escalation path.
func (m *Manager) FailRun(ctx context.Context, runID string, errType ErrorType, errMsg string) (HandlerRun, error) {
	disposition, ok := FailureTaxonomy[errType]
	if !ok {
		disposition = FailureTaxonomy[ErrorUnknown]
	}
	run, err := m.Stores.HandlerRuns.Load(ctx, runID)
	if err != nil {
		return HandlerRun{}, err
	}
	run.Error = errMsg
	run.ErrorType = errType
	run.EndedAt = time.Now()
	run.Status = disposition.Status

	switch {
	case disposition.Retryable && mutationpolicy.Exhausted(m.Backoff, run.RetryAttempts):
		// Same back-off cap mutationpolicy enforces on reconciliation
		// (mutationpolicy.Exhausted): a connector still down after the
		// configured number of attempts stops auto-retrying and escalates
		// like any other host-classified failure instead of waiting
		// forever at paused:transient.
		run.Status = StatusFailedInternal
	case disposition.Retryable:
		delay := mutationpolicy.NextDelay(m.Backoff, run.RetryAttempts)
		run.RetryAttempts++
		run.NextRetryAt = nowMs() + delay.Milliseconds()
	}

	if err := m.Stores.HandlerRuns.Update(ctx, run); err != nil {
		return HandlerRun{}, err
	}
	if disposition.ReleaseEvents {
		if err := m.Stores.Events.Release(ctx, runID); err != nil {
			return HandlerRun{}, err
		}
	}
	if errType == ErrorLogic {
		if err := m.handleLogicFailure(ctx, run); err != nil {
			return HandlerRun{}, err
		}
	} else {
		m.notify(ctx, notify.Notification{
			WorkflowID: run.WorkflowID,
			Type:       notify.TypeError,
			Payload:    jsonPayload(map[string]string{"handler_name": run.HandlerName, "error": errMsg, "error_type": string(errType)}),
		})
	}
	return run, nil
}

// DueTransientRetries returns up to limit paused:transient runs whose
// back-off has elapsed, for the scheduler's retry selection step (mirrors
// DueMutations).
func (m *Manager) DueTransientRetries(ctx context.Context, limit int) ([]HandlerRun, error) {
	return m.Stores.HandlerRuns.DueForRetry(ctx, nowMs(), limit)
}

// PromoteDueRetry closes out a paused:transient run whose back-off has
// elapsed and creates its continuation, the same crashed/continuation
// relationship retryFrom and recoverProducerRun establish for a crash-paired
// retry — here triggered by an elapsed timer instead of a restart. Producers
// resume at pending (no preparing phase); consumers resume at preparing,
// since FailRun already released their reservations.
func (m *Manager) PromoteDueRetry(ctx context.Context, run HandlerRun) (HandlerRun, error) {
	run.Status = StatusCrashed
	run.EndedAt = time.Now()
	if err := m.Stores.HandlerRuns.Update(ctx, run); err != nil {
		return HandlerRun{}, err
	}
	startPhase := PhasePreparing
	if run.HandlerType == HandlerProducer {
		startPhase = PhasePending
	}
	return m.CreateHandlerRun(ctx, run.ScriptRunID, run.WorkflowID, run.HandlerType, run.HandlerName, run.ID, startPhase)
}

// handleLogicFailure implements spec.md §7's "Logic failures invoke the
// maintainer path up to maintenance_fix_count times per workflow; beyond
// the cap the workflow transitions to status='error'" and §8 scenario S5.
func (m *Manager) handleLogicFailure(ctx context.Context, run HandlerRun) error {
	w, err := m.Stores.Workflows.Load(ctx, run.WorkflowID)
	if err != nil {
		return err
	}
	if w.MaintenanceFixCount >= m.MaintenanceFixCap {
		if err := m.SetError(ctx, w.ID, "maintenance fix cap exceeded"); err != nil {
			return err
		}
		m.notify(ctx, notify.Notification{
			WorkflowID:    w.ID,
			WorkflowTitle: w.Title,
			Type:          notify.TypeEscalated,
			Payload:       jsonPayload(map[string]string{"handler_name": run.HandlerName}),
		})
		return nil
	}
	if err := m.EnterMaintenance(ctx, w.ID); err != nil {
		return err
	}
	if err := m.Maintenance.CreateTask(ctx, w.ID, w.Title, run.HandlerName, run.Error); err != nil {
		m.logger.Warn(ctx, "maintenance task creation failed", "workflow_id", w.ID, "handler_name", run.HandlerName, "error", err.Error())
	}
	return nil
}
