package execmodel_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/signalmesh/core/connector"
	"github.com/signalmesh/core/execmodel"
	"github.com/signalmesh/core/execmodel/store/inmem"
)

func newManager(t *testing.T) (*execmodel.Manager, *connector.Registry) {
	t.Helper()
	db := inmem.New()
	connectors := connector.NewRegistry()
	mgr := execmodel.New(execmodel.Options{
		Stores:     db.Stores(),
		Connectors: connectors,
	})
	return mgr, connectors
}

func TestCreateWorkflowRejectsInvalidIntentSpec(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()

	_, err := mgr.CreateWorkflow(ctx, "bad", []byte(`{"constraints": ["x"]}`))
	require.ErrorIs(t, err, execmodel.ErrInvalidIntentSpec, "goal is required")

	w, err := mgr.CreateWorkflow(ctx, "good", []byte(`{"goal": "say hi on a schedule"}`))
	require.NoError(t, err)
	require.Equal(t, execmodel.WorkflowDraft, w.Status)
}

func TestSaveScriptRejectsInvalidHandlerConfig(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()
	w, err := mgr.CreateWorkflow(ctx, "w", nil)
	require.NoError(t, err)

	_, err = mgr.SaveScript(ctx, w.ID, execmodel.ScriptPlanner, "code", []byte(`{"producers":[{"name":"p"}]}`), "s", "", "c")
	require.ErrorIs(t, err, execmodel.ErrInvalidHandlerConfig, "missing schedule_type/schedule_value")

	validConfig, err := execmodel.EncodeHandlerConfig(execmodel.HandlerConfig{
		Producers: []execmodel.ProducerDecl{{Name: "p", ScheduleType: execmodel.ScheduleInterval, ScheduleValue: "5m"}},
	})
	require.NoError(t, err)
	s, err := mgr.SaveScript(ctx, w.ID, execmodel.ScriptPlanner, "code", validConfig, "s", "", "c")
	require.NoError(t, err)
	require.Equal(t, 1, s.MajorVersion)

	reloaded, err := mgr.LoadWorkflow(ctx, w.ID)
	require.NoError(t, err)
	require.Equal(t, execmodel.WorkflowReady, reloaded.Status, "first script save moves draft -> ready")
}

func TestEventReservationIsExclusive(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()
	w, err := mgr.CreateWorkflow(ctx, "w", nil)
	require.NoError(t, err)

	ev, err := mgr.PublishEvent(ctx, w.ID, "topic-a", execmodel.PublishRequest{MessageID: "m1", Payload: []byte("1")}, "")
	require.NoError(t, err)
	require.Equal(t, execmodel.EventPending, ev.Status)
	require.NotNil(t, ev.CausedBy, "publishEvent with empty causedBy persists an empty array, not null")
	require.Empty(t, ev.CausedBy)

	run, err := mgr.CreateHandlerRun(ctx, "", w.ID, execmodel.HandlerConsumer, "c1", "", execmodel.PhasePending)
	require.NoError(t, err)

	_, reserved, err := mgr.CompletePrepare(ctx, run.ID, w.ID, "c1", []execmodel.Reservation{{Topic: "topic-a", IDs: []string{ev.ID}}}, "", 0, nil)
	require.NoError(t, err)
	require.Len(t, reserved, 1)

	otherRun, err := mgr.CreateHandlerRun(ctx, "", w.ID, execmodel.HandlerConsumer, "c2", "", execmodel.PhasePending)
	require.NoError(t, err)
	_, reservedAgain, err := mgr.CompletePrepare(ctx, otherRun.ID, w.ID, "c2", []execmodel.Reservation{{Topic: "topic-a", IDs: []string{ev.ID}}}, "", 0, nil)
	require.NoError(t, err)
	require.Empty(t, reservedAgain, "an already-reserved event must not be granted to a second run")
}

type fakeCaller struct {
	result []byte
	err    error
}

func (f fakeCaller) Call(ctx context.Context, method string, params []byte, idempotencyKey string) ([]byte, error) {
	return f.result, f.err
}

type uncertainErr struct{ msg string }

func (u uncertainErr) Error() string  { return u.msg }
func (u uncertainErr) Uncertain() bool { return true }

func TestExecuteMutationDefiniteSuccess(t *testing.T) {
	mgr, connectors := newManager(t)
	ctx := context.Background()
	connectors.Register("crm", connector.Connector{Caller: fakeCaller{result: []byte(`{"ok":true}`)}})

	w, err := mgr.CreateWorkflow(ctx, "w", nil)
	require.NoError(t, err)
	run, err := mgr.CreateHandlerRun(ctx, "", w.ID, execmodel.HandlerConsumer, "c1", "", execmodel.PhasePrepared)
	require.NoError(t, err)

	mutation, updated, err := mgr.ExecuteMutation(ctx, run.ID, "crm", "updateContact", []byte(`{}`), "key-1", "update contact")
	require.NoError(t, err)
	require.Equal(t, execmodel.MutationApplied, mutation.Status)
	require.Equal(t, execmodel.OutcomeSuccess, updated.MutationOutcome)
	require.Equal(t, execmodel.PhaseMutated, updated.Phase)
}

func TestExecuteMutationUncertainParksRunForReconciliation(t *testing.T) {
	mgr, connectors := newManager(t)
	ctx := context.Background()
	connectors.Register("crm", connector.Connector{
		Caller:     fakeCaller{err: uncertainErr{"timeout after send"}},
		Reconciler: nil,
	})

	w, err := mgr.CreateWorkflow(ctx, "w", nil)
	require.NoError(t, err)
	run, err := mgr.CreateHandlerRun(ctx, "", w.ID, execmodel.HandlerConsumer, "c1", "", execmodel.PhasePrepared)
	require.NoError(t, err)

	mutation, updated, err := mgr.ExecuteMutation(ctx, run.ID, "crm", "updateContact", []byte(`{}`), "key-1", "update contact")
	require.ErrorIs(t, err, execmodel.ErrMutationUncertain)
	require.Equal(t, execmodel.MutationIndeterminate, mutation.Status, "no reconciler means an uncertain outcome is indeterminate, not needs_reconcile")
	require.Equal(t, execmodel.StatusPausedReconcile, updated.Status)
}

func TestExecuteMutationDefiniteFailureIsNotAnError(t *testing.T) {
	mgr, connectors := newManager(t)
	ctx := context.Background()
	connectors.Register("crm", connector.Connector{Caller: fakeCaller{err: errors.New("validation rejected")}})

	w, err := mgr.CreateWorkflow(ctx, "w", nil)
	require.NoError(t, err)
	run, err := mgr.CreateHandlerRun(ctx, "", w.ID, execmodel.HandlerConsumer, "c1", "", execmodel.PhasePrepared)
	require.NoError(t, err)

	mutation, updated, err := mgr.ExecuteMutation(ctx, run.ID, "crm", "updateContact", []byte(`{}`), "key-1", "update contact")
	require.NoError(t, err, "a definite failure is a successful ExecuteMutation call, not an error")
	require.Equal(t, execmodel.MutationFailed, mutation.Status)
	require.Equal(t, execmodel.OutcomeFailure, updated.MutationOutcome)
	require.Equal(t, execmodel.PhaseMutated, updated.Phase)
}

func TestCommitConsumerRunIsNotReentrant(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()
	w, err := mgr.CreateWorkflow(ctx, "w", nil)
	require.NoError(t, err)
	run, err := mgr.CreateHandlerRun(ctx, "", w.ID, execmodel.HandlerConsumer, "c1", "", execmodel.PhaseEmitting)
	require.NoError(t, err)

	_, err = mgr.CommitConsumerRun(ctx, run.ID, nil, 0, true)
	require.NoError(t, err)

	_, err = mgr.CommitConsumerRun(ctx, run.ID, nil, 0, true)
	require.ErrorIs(t, err, execmodel.ErrAlreadyTerminal)
}

func TestMaintenanceRoundTripIncrementsFixCountOnEnterOnly(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()
	w, err := mgr.CreateWorkflow(ctx, "w", nil)
	require.NoError(t, err)

	require.NoError(t, mgr.EnterMaintenance(ctx, w.ID))
	require.NoError(t, mgr.ExitMaintenance(ctx, w.ID))
	require.NoError(t, mgr.EnterMaintenance(ctx, w.ID))

	reloaded, err := mgr.LoadWorkflow(ctx, w.ID)
	require.NoError(t, err)
	require.Equal(t, 2, reloaded.MaintenanceFixCount, "enter, exit, enter with no fix increments fix_count by 2")
	require.True(t, reloaded.Maintenance)

	require.NoError(t, mgr.ExitMaintenance(ctx, w.ID))
	reloaded, err = mgr.LoadWorkflow(ctx, w.ID)
	require.NoError(t, err)
	require.Equal(t, 2, reloaded.MaintenanceFixCount, "exit alone never increments the count")
	require.False(t, reloaded.Maintenance)
}

func TestFailRunSchedulesTransientBackoffThenEscalatesOnceExhausted(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()
	w, err := mgr.CreateWorkflow(ctx, "w", nil)
	require.NoError(t, err)
	run, err := mgr.CreateHandlerRun(ctx, "", w.ID, execmodel.HandlerConsumer, "c1", "", execmodel.PhasePrepared)
	require.NoError(t, err)

	before := time.Now().UnixMilli()
	failed, err := mgr.FailRun(ctx, run.ID, execmodel.ErrorNetwork, "dial tcp: connection refused")
	require.NoError(t, err)
	require.Equal(t, execmodel.StatusPausedTransient, failed.Status)
	require.Equal(t, 1, failed.RetryAttempts)
	require.Greater(t, failed.NextRetryAt, before, "a network failure books a future retry, not an immediate one")

	due, err := mgr.DueTransientRetries(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, due, "the back-off has not elapsed yet")

	// Drive RetryAttempts past the configured cap without ever letting the
	// back-off elapse, simulating a connector that stays down across every
	// retry window.
	for i := 0; i < 20 && failed.Status != execmodel.StatusFailedInternal; i++ {
		failed, err = mgr.FailRun(ctx, run.ID, execmodel.ErrorNetwork, "still down")
		require.NoError(t, err)
	}
	require.Equal(t, execmodel.StatusFailedInternal, failed.Status, "exhausting the back-off cap escalates instead of retrying forever")
}

func TestCloseSessionWaitsForEveryAttachedRun(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()
	w, err := mgr.CreateWorkflow(ctx, "w", nil)
	require.NoError(t, err)

	sr, err := mgr.StartSession(ctx, w.ID, execmodel.TriggerPendingEvent)
	require.NoError(t, err)

	run, err := mgr.CreateHandlerRun(ctx, sr.ID, w.ID, execmodel.HandlerConsumer, "c1", "", execmodel.PhaseEmitting)
	require.NoError(t, err)

	closed, err := mgr.CloseSession(ctx, sr.ID)
	require.NoError(t, err)
	require.False(t, closed, "the session must stay open while its run is non-terminal")

	_, err = mgr.CommitConsumerRun(ctx, run.ID, nil, 0, true)
	require.NoError(t, err)

	closed, err = mgr.CloseSession(ctx, sr.ID)
	require.NoError(t, err)
	require.True(t, closed)
}
