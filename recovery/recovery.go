// Package recovery implements the startup recovery pass of spec.md §4.5:
// release orphaned event reservations, reclassify every incomplete handler
// run by the crash-pairing rule, and finalise any session a crash left open
// after all its runs went terminal. It is idempotent and safe to run on
// every process start, and never touches the store directly — every
// operation goes through execmodel.Manager, "the only entry point for state
// transitions" (spec.md §2).
package recovery

import (
	"context"
	"fmt"

	"github.com/signalmesh/core/execmodel"
	"github.com/signalmesh/core/telemetry"
)

// Result summarises one Run pass, for startup logging.
type Result struct {
	ReleasedOrphans int
	RunsReclassified int
	RetriesScheduled int
	SessionsClosed  int
}

// Run performs the three-step recovery pass of spec.md §4.5 against m.
func Run(ctx context.Context, m *execmodel.Manager, logger telemetry.Logger) (Result, error) {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	var res Result

	// The status=active snapshot that step 2 works through is taken before
	// step 1, so isActive below answers from the before-recovery set: step
	// 1 releases reservations belonging to runs that are NOT in that
	// snapshot, i.e. already-orphaned regardless of what step 2 is about to
	// do to the snapshot's own members.
	activeRuns, err := m.ListActiveRuns(ctx)
	if err != nil {
		return res, fmt.Errorf("recovery: listing active runs: %w", err)
	}
	activeSet := make(map[string]bool, len(activeRuns))
	for _, r := range activeRuns {
		activeSet[r.ID] = true
	}

	// Step 1: release orphan reservations.
	released, err := m.ReleaseOrphanedReservations(ctx, func(runID string) bool { return activeSet[runID] })
	if err != nil {
		return res, fmt.Errorf("recovery: releasing orphaned reservations: %w", err)
	}
	res.ReleasedOrphans = released
	logger.Info(ctx, "recovery: released orphaned reservations", "count", released)

	// Step 2: crash-pairing every status=active run.
	for _, run := range activeRuns {
		crashed, retry, action, err := m.ClassifyAndRecoverRun(ctx, run)
		if err != nil {
			return res, fmt.Errorf("recovery: classifying run %s: %w", run.ID, err)
		}
		res.RunsReclassified++
		logger.Info(ctx, "recovery: reclassified handler run",
			"run_id", crashed.ID, "workflow_id", crashed.WorkflowID,
			"handler_name", crashed.HandlerName, "action", string(action))
		if retry != nil {
			res.RetriesScheduled++
		}
	}

	// Step 3: finalise sessions a crash left open after all their runs went
	// terminal (e.g. the process died between a run's commit and its own
	// CloseSession call).
	openSessions, err := m.ListOpenSessions(ctx)
	if err != nil {
		return res, fmt.Errorf("recovery: listing open sessions: %w", err)
	}
	for _, sr := range openSessions {
		closed, err := m.CloseSession(ctx, sr.ID)
		if err != nil {
			return res, fmt.Errorf("recovery: closing session %s: %w", sr.ID, err)
		}
		if closed {
			res.SessionsClosed++
		}
	}
	logger.Info(ctx, "recovery: finalised sessions", "count", res.SessionsClosed)

	return res, nil
}
