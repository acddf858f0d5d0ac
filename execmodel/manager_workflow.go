package execmodel

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/signalmesh/core/notify"
	"github.com/signalmesh/core/execmodel/validate"
)

// CreateWorkflow inserts a new draft Workflow.
func (m *Manager) CreateWorkflow(ctx context.Context, title string, intentSpec []byte) (Workflow, error) {
	if err := validate.IntentSpec(intentSpec); err != nil {
		return Workflow{}, fmt.Errorf("%w: %s", ErrInvalidIntentSpec, err)
	}
	now := time.Now()
	w := Workflow{
		ID:         newID(),
		Title:      title,
		Status:     WorkflowDraft,
		IntentSpec: intentSpec,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := m.Stores.Workflows.Create(ctx, w); err != nil {
		return Workflow{}, err
	}
	return w, nil
}

// LoadWorkflow returns the Workflow by id.
func (m *Manager) LoadWorkflow(ctx context.Context, id string) (Workflow, error) {
	return m.Stores.Workflows.Load(ctx, id)
}

// SaveScript records a new Script version for workflowID, bumping
// major/minor per NextVersion, activates it, and advances the workflow out
// of 'draft' on its first save (spec.md §3 "becomes 'ready' on first script
// save").
func (m *Manager) SaveScript(ctx context.Context, workflowID string, t ScriptType, code string, handlerConfig []byte, summary, diagram, changeComment string) (Script, error) {
	if err := validate.HandlerConfig(handlerConfig); err != nil {
		return Script{}, fmt.Errorf("%w: %s", ErrInvalidHandlerConfig, err)
	}
	w, err := m.Stores.Workflows.Load(ctx, workflowID)
	if err != nil {
		return Script{}, err
	}
	var prev Script
	if w.ActiveScriptID != "" {
		prev, err = m.Stores.Scripts.Load(ctx, w.ActiveScriptID)
		if err != nil {
			return Script{}, err
		}
	}
	major, minor := NextVersion(prev, t)
	s := Script{
		ID:            newID(),
		WorkflowID:    workflowID,
		MajorVersion:  major,
		MinorVersion:  minor,
		Code:          code,
		HandlerConfig: handlerConfig,
		Summary:       summary,
		Diagram:       diagram,
		ChangeComment: changeComment,
		Type:          t,
	}
	if err := m.Stores.Scripts.Create(ctx, s); err != nil {
		return Script{}, err
	}
	w.ActiveScriptID = s.ID
	w.HandlerConfig = handlerConfig
	if w.Status == WorkflowDraft {
		w.Status = WorkflowReady
	}
	w.UpdatedAt = time.Now()
	if err := m.Stores.Workflows.Update(ctx, w); err != nil {
		return Script{}, err
	}
	return s, nil
}

// Activate moves a workflow from 'ready' or 'paused' into 'active', making
// it eligible for scheduling (spec.md §3 Workflow lifecycle).
func (m *Manager) Activate(ctx context.Context, workflowID string) error {
	w, err := m.Stores.Workflows.Load(ctx, workflowID)
	if err != nil {
		return err
	}
	w.Status = WorkflowActive
	w.UpdatedAt = time.Now()
	return m.Stores.Workflows.Update(ctx, w)
}

// Pause moves a workflow into 'paused', excluding it from scheduling until
// Activate is called again (Open Question (iii): Status is the sole source
// of pause truth).
func (m *Manager) Pause(ctx context.Context, workflowID string) error {
	w, err := m.Stores.Workflows.Load(ctx, workflowID)
	if err != nil {
		return err
	}
	w.Status = WorkflowPaused
	w.UpdatedAt = time.Now()
	return m.Stores.Workflows.Update(ctx, w)
}

// SetError moves a workflow into 'error' with a user-facing description,
// excluding it from scheduling until ClearError resets the description and
// Activate returns it to 'active' (spec.md §7 "beyond the cap the workflow
// transitions to status='error'").
func (m *Manager) SetError(ctx context.Context, workflowID, description string) error {
	w, err := m.Stores.Workflows.Load(ctx, workflowID)
	if err != nil {
		return err
	}
	w.Status = WorkflowError
	w.Error = description
	w.UpdatedAt = time.Now()
	if err := m.Stores.Workflows.Update(ctx, w); err != nil {
		return err
	}
	m.notify(ctx, notify.Notification{
		WorkflowID:    w.ID,
		WorkflowTitle: w.Title,
		Type:          notify.TypeError,
		Payload:       jsonPayload(map[string]string{"description": description}),
	})
	return nil
}

// ClearError resets Workflow.Error, e.g. after a user fixes a connector and
// explicitly resumes the workflow.
func (m *Manager) ClearError(ctx context.Context, workflowID string) error {
	w, err := m.Stores.Workflows.Load(ctx, workflowID)
	if err != nil {
		return err
	}
	w.Error = ""
	w.UpdatedAt = time.Now()
	return m.Stores.Workflows.Update(ctx, w)
}

// EnterMaintenance flips Workflow.Maintenance on and increments
// MaintenanceFixCount, invoked when a consumer run reaches failed:logic and
// the fix cap has not been exhausted (spec.md §4.3, §6
// "enterMaintenanceMode"). The count is incremented here, not on exit, so
// that spec.md §8's round-trip law — "enter then exit then enter, with no
// fix, increments fix_count by 2" — holds: that sequence contains two
// enters and one exit.
func (m *Manager) EnterMaintenance(ctx context.Context, workflowID string) error {
	w, err := m.Stores.Workflows.Load(ctx, workflowID)
	if err != nil {
		return err
	}
	w.Maintenance = true
	w.MaintenanceFixCount++
	w.UpdatedAt = time.Now()
	return m.Stores.Workflows.Update(ctx, w)
}

// ExitMaintenance flips Workflow.Maintenance off, called once the
// maintainer has authored and saved a fix script (spec.md §6).
func (m *Manager) ExitMaintenance(ctx context.Context, workflowID string) error {
	w, err := m.Stores.Workflows.Load(ctx, workflowID)
	if err != nil {
		return err
	}
	w.Maintenance = false
	w.UpdatedAt = time.Now()
	return m.Stores.Workflows.Update(ctx, w)
}

// jsonPayload marshals v to JSON, swallowing errors (only called with
// trivially-serializable values) so callers can write Payload: jsonPayload(v)
// without a second error return.
func jsonPayload(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
