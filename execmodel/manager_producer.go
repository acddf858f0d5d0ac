package execmodel

import (
	"context"
	"time"
)

// BeginProducerExecution advances a producer run from pending to executing,
// the point at which the scheduler invokes the handler's Run method.
func (m *Manager) BeginProducerExecution(ctx context.Context, runID string) (HandlerRun, error) {
	return m.AdvancePhase(ctx, runID, PhaseExecuting)
}

// CommitProducerRun finalises a producer run: persists cost and ends the
// run committed. Producers never reserve or consume events, so commit has
// no event-store side effects (spec.md §4.3 "Producer phases: pending ->
// executing -> committed").
func (m *Manager) CommitProducerRun(ctx context.Context, runID string, cost int64) (HandlerRun, error) {
	run, err := m.Stores.HandlerRuns.Load(ctx, runID)
	if err != nil {
		return HandlerRun{}, err
	}
	run.Phase = PhaseCommitted
	run.Status = StatusCommitted
	run.EndedAt = time.Now()
	run.Cost = cost
	if err := m.Stores.HandlerRuns.Update(ctx, run); err != nil {
		return HandlerRun{}, err
	}
	return run, nil
}
