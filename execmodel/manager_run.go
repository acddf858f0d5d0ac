package execmodel

import (
	"context"
	"fmt"
	"time"
)

// CreateHandlerRun starts a new HandlerRun of handlerType for handlerName,
// attached to scriptRunID, beginning at startPhase with status active.
// retryOf is empty for a fresh attempt, or the previous run's ID when this
// is a retry (spec.md §4.3 "resumption creates a new handler run with
// retry_of pointing to the previous attempt").
func (m *Manager) CreateHandlerRun(ctx context.Context, scriptRunID, workflowID string, handlerType HandlerType, handlerName string, retryOf string, startPhase Phase) (HandlerRun, error) {
	run := HandlerRun{
		ID:          newID(),
		ScriptRunID: scriptRunID,
		WorkflowID:  workflowID,
		HandlerType: handlerType,
		HandlerName: handlerName,
		Phase:       startPhase,
		Status:      StatusActive,
		RetryOf:     retryOf,
		StartedAt:   time.Now(),
	}
	created, err := m.Stores.HandlerRuns.Create(ctx, run)
	if err != nil {
		return HandlerRun{}, err
	}
	if scriptRunID != "" {
		if err := m.AttachRun(ctx, scriptRunID, created.ID); err != nil {
			return HandlerRun{}, err
		}
	}
	return created, nil
}

// AdvancePhase moves run from its current phase to "to", rejecting any edge
// that is not forward per CanAdvance (spec.md §3 "phase only advances").
func (m *Manager) AdvancePhase(ctx context.Context, runID string, to Phase) (HandlerRun, error) {
	run, err := m.Stores.HandlerRuns.Load(ctx, runID)
	if err != nil {
		return HandlerRun{}, err
	}
	if !CanAdvance(run.Phase, to) {
		return HandlerRun{}, fmt.Errorf("%w: phase %s -> %s", ErrInvalidTransition, run.Phase, to)
	}
	run.Phase = to
	if err := m.Stores.HandlerRuns.Update(ctx, run); err != nil {
		return HandlerRun{}, err
	}
	return run, nil
}

// RegisterInput upserts an Input for workflowID, idempotent on its
// (source, type, externalId) key (spec.md §4.1 "register(input)").
func (m *Manager) RegisterInput(ctx context.Context, workflowID, source, inputType, externalID, title string) (Input, error) {
	key := InputKey{WorkflowID: workflowID, Source: source, Type: inputType, ExternalID: externalID}
	return m.Stores.Inputs.Upsert(ctx, key, title)
}

// PublishEvent publishes one event to topic on behalf of createdByRunID,
// idempotent on (topic, req.MessageID) per spec.md §4.1.
func (m *Manager) PublishEvent(ctx context.Context, workflowID, topic string, req PublishRequest, createdByRunID string) (Event, error) {
	if req.CausedBy == nil {
		req.CausedBy = []string{}
	}
	return m.Stores.Events.Publish(ctx, workflowID, topic, req, createdByRunID)
}

// EmitEvent publishes a downstream event on behalf of a consumer's emit()
// step. When req.CausedBy is empty, it defaults to the deduplicated union
// of CausedBy across every event currently reserved by runID (spec.md §4.1
// "getCausedByForRun", used here "to propagate causal tracking to emitted
// events").
func (m *Manager) EmitEvent(ctx context.Context, runID, workflowID, topic string, req PublishRequest) (Event, error) {
	if len(req.CausedBy) == 0 {
		union, err := m.Stores.Events.CausedByForRun(ctx, runID)
		if err != nil {
			return Event{}, err
		}
		req.CausedBy = union
	}
	return m.Stores.Events.Publish(ctx, workflowID, topic, req, runID)
}

// SaveHandlerState persists a handler's opaque state blob and wake_at,
// clamping wakeAt (absolute epoch ms, 0 = no wake) to
// [now+m.WakeClampMin, now+m.WakeClampMax] per spec.md §4.4 (30s and 24h
// unless configured otherwise).
func (m *Manager) SaveHandlerState(ctx context.Context, workflowID, handlerName string, state []byte, wakeAt int64) error {
	return m.Stores.HandlerStates.Save(ctx, HandlerState{
		WorkflowID:  workflowID,
		HandlerName: handlerName,
		State:       state,
		WakeAt:      ClampWakeAt(nowMs(), wakeAt, m.WakeClampMin, m.WakeClampMax),
	})
}
