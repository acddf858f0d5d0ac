package execmodel

import (
	"context"
	"time"
)

// StartSession opens a new ScriptRun (the umbrella "session" record of
// spec.md §4.4, named in the GLOSSARY) for one scheduler tick on workflowID.
func (m *Manager) StartSession(ctx context.Context, workflowID string, trigger ScriptRunTrigger) (ScriptRun, error) {
	sr := ScriptRun{
		ID:         newID(),
		WorkflowID: workflowID,
		Trigger:    trigger,
		Status:     ScriptRunActive,
		StartedAt:  time.Now(),
	}
	return m.Stores.ScriptRuns.Create(ctx, sr)
}

// AttachRun records runID against a ScriptRun's HandlerRunIDs, called once
// per handler run started within the session.
func (m *Manager) AttachRun(ctx context.Context, scriptRunID, runID string) error {
	sr, err := m.Stores.ScriptRuns.Load(ctx, scriptRunID)
	if err != nil {
		return err
	}
	sr.HandlerRunIDs = append(sr.HandlerRunIDs, runID)
	return m.Stores.ScriptRuns.Update(ctx, sr)
}

// CloseSession finalises a session once every handler run it started is
// terminal (spec.md §4.5 step 3). It is a no-op (returns nil, false) if any
// attached run is still active.
func (m *Manager) CloseSession(ctx context.Context, scriptRunID string) (closed bool, err error) {
	sr, err := m.Stores.ScriptRuns.Load(ctx, scriptRunID)
	if err != nil {
		return false, err
	}
	if sr.Status == ScriptRunClosed {
		return true, nil
	}
	for _, runID := range sr.HandlerRunIDs {
		run, err := m.Stores.HandlerRuns.Load(ctx, runID)
		if err != nil {
			return false, err
		}
		if !run.Status.Terminal() {
			return false, nil
		}
	}
	sr.Status = ScriptRunClosed
	sr.EndedAt = time.Now()
	if err := m.Stores.ScriptRuns.Update(ctx, sr); err != nil {
		return false, err
	}
	return true, nil
}
