package execmodel

import (
	"context"
	"errors"
	"time"

	"github.com/signalmesh/core/connector"
	"github.com/signalmesh/core/mutationpolicy"
)

// ErrMutationUncertain is returned by ExecuteMutation when the connector
// call's outcome cannot be determined (e.g. a timeout after send). The run
// is parked at paused:reconciliation rather than advanced to 'mutated';
// callers must stop processing the run for this tick and let the
// reconciliation scheduler (or a crash-recovery pass) resolve it.
var ErrMutationUncertain = errors.New("execmodel: mutation outcome uncertain, awaiting reconciliation")

// BeginPreparing advances a consumer run from pending to preparing, the
// point at which the scheduler invokes the handler's Prepare method.
func (m *Manager) BeginPreparing(ctx context.Context, runID string) (HandlerRun, error) {
	return m.AdvancePhase(ctx, runID, PhasePreparing)
}

// CompletePrepare reserves the events a consumer's prepare() requested,
// persists the prepare result and handler state, and advances the run to
// 'prepared' (spec.md §4.3 "Preparing"). Events already non-pending are
// silently skipped by Reserve; callers should check the returned events
// against reservations if the handler requires every event to be granted.
func (m *Manager) CompletePrepare(ctx context.Context, runID, workflowID, handlerName string, reservations []Reservation, uiTitle string, wakeAt int64, state []byte) (HandlerRun, []Event, error) {
	reserved, err := m.Stores.Events.Reserve(ctx, runID, reservations)
	if err != nil {
		return HandlerRun{}, nil, err
	}
	run, err := m.Stores.HandlerRuns.Load(ctx, runID)
	if err != nil {
		return HandlerRun{}, nil, err
	}
	run.PrepareResult = EncodePreparedMeta(PreparedMeta{Reservations: reservations, UITitle: uiTitle})
	if !CanAdvance(run.Phase, PhasePrepared) {
		return HandlerRun{}, nil, errInvalidPhase(run.Phase, PhasePrepared)
	}
	run.Phase = PhasePrepared
	if err := m.Stores.HandlerRuns.Update(ctx, run); err != nil {
		return HandlerRun{}, nil, err
	}
	if err := m.SaveHandlerState(ctx, workflowID, handlerName, state, wakeAt); err != nil {
		return HandlerRun{}, nil, err
	}
	return run, reserved, nil
}

// NoMutation advances a run that implements only Consumer (no Mutator) from
// prepared straight to mutated with an empty mutation_outcome, per
// handler.go's documented contract for pure consumers.
func (m *Manager) NoMutation(ctx context.Context, runID string) (HandlerRun, error) {
	run, err := m.Stores.HandlerRuns.Load(ctx, runID)
	if err != nil {
		return HandlerRun{}, err
	}
	if !CanAdvance(run.Phase, PhaseMutated) {
		return HandlerRun{}, errInvalidPhase(run.Phase, PhaseMutated)
	}
	run.Phase = PhaseMutated
	run.MutationOutcome = OutcomeNone
	if err := m.Stores.HandlerRuns.Update(ctx, run); err != nil {
		return HandlerRun{}, err
	}
	return run, nil
}

// ExecuteMutation creates the mutation record in_flight, advances the run to
// 'mutating', and performs the external call through the connector
// registered for toolNamespace (spec.md §4.2, §4.3 "Mutating"). On a
// definite outcome (success or failure) the run advances to 'mutated' with
// mutation_outcome denormalised from the mutation's terminal status. On an
// uncertain outcome the mutation moves to needs_reconcile (with its first
// reconciliation poll booked) when the connector has a Reconciler, or to
// indeterminate when it has none; either way the run is parked at
// paused:reconciliation and ErrMutationUncertain is returned.
func (m *Manager) ExecuteMutation(ctx context.Context, runID, toolNamespace, toolMethod string, params []byte, idempotencyKey, uiTitle string) (Mutation, HandlerRun, error) {
	run, err := m.Stores.HandlerRuns.Load(ctx, runID)
	if err != nil {
		return Mutation{}, HandlerRun{}, err
	}
	mutation, err := m.Stores.Mutations.CreateInFlight(ctx, Mutation{
		ID:             newID(),
		HandlerRunID:   runID,
		WorkflowID:     run.WorkflowID,
		ToolNamespace:  toolNamespace,
		ToolMethod:     toolMethod,
		Params:         params,
		IdempotencyKey: idempotencyKey,
		UITitle:        uiTitle,
	})
	if err != nil {
		return Mutation{}, HandlerRun{}, err
	}
	if !CanAdvance(run.Phase, PhaseMutating) {
		return Mutation{}, HandlerRun{}, errInvalidPhase(run.Phase, PhaseMutating)
	}
	run.Phase = PhaseMutating
	if err := m.Stores.HandlerRuns.Update(ctx, run); err != nil {
		return Mutation{}, HandlerRun{}, err
	}

	conn, err := m.Connectors.Lookup(toolNamespace)
	if err != nil {
		return Mutation{}, HandlerRun{}, err
	}
	result, callErr := conn.Caller.Call(ctx, toolMethod, params, idempotencyKey)

	switch {
	case callErr == nil:
		mutation, err = m.Stores.Mutations.UpdateStatus(ctx, mutation.ID, MutationApplied, result, "")
		if err != nil {
			return Mutation{}, HandlerRun{}, err
		}
		run.MutationOutcome = OutcomeSuccess
		run.Phase = PhaseMutated
		if err := m.Stores.HandlerRuns.Update(ctx, run); err != nil {
			return Mutation{}, HandlerRun{}, err
		}
		return mutation, run, nil

	case connector.IsUncertain(callErr):
		if conn.Reconciler != nil {
			mutation, err = m.Stores.Mutations.UpdateStatus(ctx, mutation.ID, MutationNeedsReconcile, nil, callErr.Error())
			if err != nil {
				return Mutation{}, HandlerRun{}, err
			}
			delay := mutationpolicy.NextDelay(m.Backoff, 0)
			mutation, err = m.Stores.Mutations.ScheduleNextReconcile(ctx, mutation.ID, nowMs(), delay.Milliseconds())
			if err != nil {
				return Mutation{}, HandlerRun{}, err
			}
		} else {
			mutation, err = m.Stores.Mutations.UpdateStatus(ctx, mutation.ID, MutationIndeterminate, nil, callErr.Error())
			if err != nil {
				return Mutation{}, HandlerRun{}, err
			}
		}
		run.Status = StatusPausedReconcile
		if err := m.Stores.HandlerRuns.Update(ctx, run); err != nil {
			return Mutation{}, HandlerRun{}, err
		}
		return mutation, run, ErrMutationUncertain

	default:
		mutation, err = m.Stores.Mutations.UpdateStatus(ctx, mutation.ID, MutationFailed, nil, callErr.Error())
		if err != nil {
			return Mutation{}, HandlerRun{}, err
		}
		run.MutationOutcome = OutcomeFailure
		run.Phase = PhaseMutated
		if err := m.Stores.HandlerRuns.Update(ctx, run); err != nil {
			return Mutation{}, HandlerRun{}, err
		}
		return mutation, run, nil
	}
}

// BeginEmitting advances a run from mutated to emitting, the point at which
// the scheduler invokes the handler's Emit method.
func (m *Manager) BeginEmitting(ctx context.Context, runID string) (HandlerRun, error) {
	return m.AdvancePhase(ctx, runID, PhaseEmitting)
}

// CommitConsumerRun finalises a consumer run: finalises all events reserved
// by runID to consumed (or skipped), persists output_state, and ends the
// run committed. Each of these steps is its own store call; no transaction
// spans them. Returns ErrAlreadyTerminal if the run is already terminal.
func (m *Manager) CommitConsumerRun(ctx context.Context, runID string, outputState []byte, cost int64, skip bool) (HandlerRun, error) {
	run, err := m.Stores.HandlerRuns.Load(ctx, runID)
	if err != nil {
		return HandlerRun{}, err
	}
	if run.Status.Terminal() {
		return HandlerRun{}, ErrAlreadyTerminal
	}
	if skip {
		if err := m.Stores.Events.Skip(ctx, runID); err != nil {
			return HandlerRun{}, err
		}
		// user_skip (or any other no-retry consume) commits without ever
		// applying a mutation, per spec.md §4.2's 'user_skip -> mutation_
		// outcome=skipped'.
		run.MutationOutcome = OutcomeSkipped
	} else {
		if err := m.Stores.Events.Consume(ctx, runID); err != nil {
			return HandlerRun{}, err
		}
	}
	run.OutputState = outputState
	run.Phase = PhaseCommitted
	run.Status = StatusCommitted
	run.EndedAt = time.Now()
	run.Cost = cost
	if err := m.Stores.HandlerRuns.Update(ctx, run); err != nil {
		return HandlerRun{}, err
	}
	return run, nil
}

func errInvalidPhase(from, to Phase) error {
	return &ErrInvalidPhaseTransition{From: from, To: to}
}

// ErrInvalidPhaseTransition is returned when a Manager method would move a
// HandlerRun's phase backward.
type ErrInvalidPhaseTransition struct {
	From, To Phase
}

func (e *ErrInvalidPhaseTransition) Error() string {
	return "execmodel: illegal phase transition " + string(e.From) + " -> " + string(e.To)
}
