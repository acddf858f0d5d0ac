package scheduler_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/signalmesh/core/connector"
	"github.com/signalmesh/core/execmodel"
	"github.com/signalmesh/core/execmodel/store/inmem"
	"github.com/signalmesh/core/handler"
	"github.com/signalmesh/core/scheduler"
)

// newTestScheduler builds a Scheduler over fresh inmem storage, paced fast
// enough that a handful of Tick calls in a test never block on the limiter.
func newTestScheduler(t *testing.T, handlers *handler.Registry, connectors *connector.Registry) (*scheduler.Scheduler, *execmodel.Manager) {
	t.Helper()
	db := inmem.New()
	mgr := execmodel.New(execmodel.Options{Stores: db.Stores(), Connectors: connectors})
	sched := scheduler.New(scheduler.Options{
		Manager:   mgr,
		Handlers:  handlers,
		Limiter:   scheduler.NewPaceLimiter(10_000),
		PeekLimit: 10,
	})
	return sched, mgr
}

func createActiveWorkflow(t *testing.T, ctx context.Context, mgr *execmodel.Manager, cfg execmodel.HandlerConfig) execmodel.Workflow {
	t.Helper()
	w, err := mgr.CreateWorkflow(ctx, "scenario", []byte(`{"goal":"test"}`))
	require.NoError(t, err)
	raw, err := execmodel.EncodeHandlerConfig(cfg)
	require.NoError(t, err)
	_, err = mgr.SaveScript(ctx, w.ID, execmodel.ScriptPlanner, "// gen", raw, "s", "", "c")
	require.NoError(t, err)
	require.NoError(t, mgr.Activate(ctx, w.ID))
	w, err = mgr.LoadWorkflow(ctx, w.ID)
	require.NoError(t, err)
	return w
}

type fakeCaller struct {
	result []byte
	err    error
}

func (f fakeCaller) Call(ctx context.Context, method string, params []byte, idempotencyKey string) ([]byte, error) {
	return f.result, f.err
}

type uncertainErr struct{ msg string }

func (u uncertainErr) Error() string   { return u.msg }
func (u uncertainErr) Uncertain() bool { return true }

// echoConsumer reserves every input event. Registering it alone gives a
// Consumer with neither Mutator nor Emitter attached; the echoMutator and
// echoMutatorEmitter variants below embed it and add those optional
// interfaces, so handler.Registry.ConsumerCapabilities reports exactly the
// combination each scenario needs.
type echoConsumer struct{}

// Prepare reserves every offered input under the fixed "in" topic name
// every scenario in this file declares its consumer against.
func (c echoConsumer) Prepare(rc *handler.RunContext) (handler.PrepareResult, error) {
	ids := make([]string, len(rc.Inputs))
	for i, ev := range rc.Inputs {
		ids[i] = ev.ID
	}
	var reservations []execmodel.Reservation
	if len(ids) > 0 {
		reservations = []execmodel.Reservation{{Topic: "in", IDs: ids}}
	}
	return handler.PrepareResult{Reservations: reservations, UI: handler.UIHint{Title: "echo"}, State: []byte("state")}, nil
}

type echoMutator struct{ echoConsumer }

func (c echoMutator) Mutate(rc *handler.RunContext) (handler.MutateResult, error) {
	return handler.MutateResult{ToolNamespace: "svc", ToolMethod: "act", Params: []byte("{}"), IdempotencyKey: "k1"}, nil
}

type echoMutatorEmitter struct{ echoMutator }

func (c echoMutatorEmitter) Emit(rc *handler.RunContext) (handler.EmitResult, error) {
	return handler.EmitResult{Events: []handler.ProducedEvent{{Topic: "out", MessageID: "m-out", Payload: []byte("1")}}}, nil
}

// TestFreshConsumerRunDrivesPendingEventToCommit exercises selection-order
// step 5 (pending events) end-to-end: prepare -> mutate (success) ->
// commit, with no Emitter attached.
func TestFreshConsumerRunDrivesPendingEventToCommit(t *testing.T) {
	ctx := context.Background()
	connectors := connector.NewRegistry()
	connectors.Register("svc", connector.Connector{Caller: fakeCaller{result: []byte(`{"ok":true}`)}})
	handlers := handler.NewRegistry()
	handlers.RegisterConsumer("echo", echoMutator{})

	sched, mgr := newTestScheduler(t, handlers, connectors)
	cfg := execmodel.HandlerConfig{Consumers: []execmodel.ConsumerDecl{{Name: "echo", Topics: []string{"in"}}}}
	w := createActiveWorkflow(t, ctx, mgr, cfg)

	_, err := mgr.PublishEvent(ctx, w.ID, "in", execmodel.PublishRequest{MessageID: "m1", Payload: []byte("1")}, "")
	require.NoError(t, err)

	ran, err := sched.Tick(ctx)
	require.NoError(t, err)
	require.True(t, ran)

	evs, err := mgr.Stores.Events.Peek(ctx, w.ID, "in", execmodel.EventPending, 10)
	require.NoError(t, err)
	require.Empty(t, evs, "the event must no longer be pending once the consumer commits")
}

// TestCrashPairingResumesFromPreparing covers resumeRetryRun's
// PhasePreparing branch: a run that crashed before ever reserving anything
// is retried from scratch via a fresh driveFromPreparing pass.
func TestCrashPairingResumesFromPreparing(t *testing.T) {
	ctx := context.Background()
	connectors := connector.NewRegistry()
	handlers := handler.NewRegistry()
	handlers.RegisterConsumer("echo", echoConsumer{})

	sched, mgr := newTestScheduler(t, handlers, connectors)
	cfg := execmodel.HandlerConfig{Consumers: []execmodel.ConsumerDecl{{Name: "echo", Topics: []string{"in"}}}}
	w := createActiveWorkflow(t, ctx, mgr, cfg)

	crashed, err := mgr.CreateHandlerRun(ctx, "", w.ID, execmodel.HandlerConsumer, "echo", "", execmodel.PhasePreparing)
	require.NoError(t, err)

	_, retry, action, err := mgr.ClassifyAndRecoverRun(ctx, crashed)
	require.NoError(t, err)
	require.Equal(t, execmodel.RecoveryActionRetryRun, action)
	require.Equal(t, execmodel.PhasePreparing, retry.Phase)

	ran, err := sched.Tick(ctx)
	require.NoError(t, err)
	require.True(t, ran)

	final, err := mgr.Stores.HandlerRuns.Load(ctx, retry.ID)
	require.NoError(t, err)
	require.Equal(t, execmodel.StatusCommitted, final.Status)
	require.Equal(t, execmodel.PhaseCommitted, final.Phase)
}

// TestCrashPairingResumesFromMutating covers resumeRetryRun's PhaseMutating
// branch: a run whose mutation was definitely MutationFailed at crash time
// is retried straight into invokeMutate, skipping prepare().
func TestCrashPairingResumesFromMutating(t *testing.T) {
	ctx := context.Background()
	connectors := connector.NewRegistry()
	connectors.Register("svc", connector.Connector{Caller: fakeCaller{err: errors.New("rejected")}})
	handlers := handler.NewRegistry()
	handlers.RegisterConsumer("echo", echoMutator{})

	sched, mgr := newTestScheduler(t, handlers, connectors)
	cfg := execmodel.HandlerConfig{Consumers: []execmodel.ConsumerDecl{{Name: "echo", Topics: []string{"in"}}}}
	w := createActiveWorkflow(t, ctx, mgr, cfg)

	run, err := mgr.CreateHandlerRun(ctx, "", w.ID, execmodel.HandlerConsumer, "echo", "", execmodel.PhasePending)
	require.NoError(t, err)
	run, err = mgr.BeginPreparing(ctx, run.ID)
	require.NoError(t, err)
	run, _, err = mgr.CompletePrepare(ctx, run.ID, w.ID, "echo", nil, "echo", 0, []byte("state"))
	require.NoError(t, err)
	_, run, err = mgr.ExecuteMutation(ctx, run.ID, "svc", "act", []byte("{}"), "k0", "echo")
	require.NoError(t, err, "a definite failure is not an ExecuteMutation error")
	require.Equal(t, execmodel.PhaseMutated, run.Phase)
	require.Equal(t, execmodel.OutcomeFailure, run.MutationOutcome)

	_, retry, action, err := mgr.ClassifyAndRecoverRun(ctx, run)
	require.NoError(t, err)
	require.Equal(t, execmodel.RecoveryActionRetryRun, action)
	require.Equal(t, execmodel.PhaseMutating, retry.Phase)

	// Swap the connector for one that now succeeds, as if the outage that
	// caused the original failure had cleared.
	connectors.Register("svc", connector.Connector{Caller: fakeCaller{result: []byte(`{"ok":true}`)}})

	ran, err := sched.Tick(ctx)
	require.NoError(t, err)
	require.True(t, ran)

	final, err := mgr.Stores.HandlerRuns.Load(ctx, retry.ID)
	require.NoError(t, err)
	require.Equal(t, execmodel.StatusCommitted, final.Status)
	require.Equal(t, execmodel.OutcomeSuccess, final.MutationOutcome)
}

// TestCrashPairingResumesFromEmitting covers resumeRetryRun's PhaseEmitting
// branch: a run whose mutation was already MutationApplied at crash time
// resumes straight to finishConsumer, with no further mutation attempt.
func TestCrashPairingResumesFromEmitting(t *testing.T) {
	ctx := context.Background()
	connectors := connector.NewRegistry()
	connectors.Register("svc", connector.Connector{Caller: fakeCaller{result: []byte(`{"ok":true}`)}})
	handlers := handler.NewRegistry()
	handlers.RegisterConsumer("echo", echoMutatorEmitter{})

	sched, mgr := newTestScheduler(t, handlers, connectors)
	cfg := execmodel.HandlerConfig{Consumers: []execmodel.ConsumerDecl{{Name: "echo", Topics: []string{"in"}}}}
	w := createActiveWorkflow(t, ctx, mgr, cfg)

	run, err := mgr.CreateHandlerRun(ctx, "", w.ID, execmodel.HandlerConsumer, "echo", "", execmodel.PhasePending)
	require.NoError(t, err)
	run, err = mgr.BeginPreparing(ctx, run.ID)
	require.NoError(t, err)
	run, _, err = mgr.CompletePrepare(ctx, run.ID, w.ID, "echo", nil, "echo", 0, []byte("state"))
	require.NoError(t, err)
	_, run, err = mgr.ExecuteMutation(ctx, run.ID, "svc", "act", []byte("{}"), "k0", "echo")
	require.NoError(t, err)
	require.Equal(t, execmodel.OutcomeSuccess, run.MutationOutcome)

	_, retry, action, err := mgr.ClassifyAndRecoverRun(ctx, run)
	require.NoError(t, err)
	require.Equal(t, execmodel.RecoveryActionRetryRun, action)
	require.Equal(t, execmodel.PhaseEmitting, retry.Phase)

	ran, err := sched.Tick(ctx)
	require.NoError(t, err)
	require.True(t, ran)

	final, err := mgr.Stores.HandlerRuns.Load(ctx, retry.ID)
	require.NoError(t, err)
	require.Equal(t, execmodel.StatusCommitted, final.Status)

	out, err := mgr.Stores.Events.Peek(ctx, w.ID, "out", execmodel.EventPending, 10)
	require.NoError(t, err)
	require.Len(t, out, 1, "finishConsumer's Emit step must still publish the downstream event")
}

// TestUserResolutionConsumeNoRetry covers continueAfterResolution's
// ResolveActionConsumeNoRetry branch: a user skipping an indeterminate
// mutation commits the original run directly, with no retry HandlerRun.
func TestUserResolutionConsumeNoRetry(t *testing.T) {
	ctx := context.Background()
	connectors := connector.NewRegistry()
	connectors.Register("svc", connector.Connector{Caller: fakeCaller{err: uncertainErr{"timeout"}}})
	handlers := handler.NewRegistry()
	handlers.RegisterConsumer("echo", echoMutator{})

	sched, mgr := newTestScheduler(t, handlers, connectors)
	cfg := execmodel.HandlerConfig{Consumers: []execmodel.ConsumerDecl{{Name: "echo", Topics: []string{"in"}}}}
	w := createActiveWorkflow(t, ctx, mgr, cfg)

	run, err := mgr.CreateHandlerRun(ctx, "", w.ID, execmodel.HandlerConsumer, "echo", "", execmodel.PhasePending)
	require.NoError(t, err)
	run, err = mgr.BeginPreparing(ctx, run.ID)
	require.NoError(t, err)
	run, _, err = mgr.CompletePrepare(ctx, run.ID, w.ID, "echo", nil, "echo", 0, []byte("state"))
	require.NoError(t, err)

	mutation, _, err := mgr.ExecuteMutation(ctx, run.ID, "svc", "act", []byte("{}"), "k0", "echo")
	require.ErrorIs(t, err, execmodel.ErrMutationUncertain)
	require.Equal(t, execmodel.MutationIndeterminate, mutation.Status, "no reconciler registered for svc")

	require.NoError(t, sched.ApplyResolution(ctx, w, mutation.ID, execmodel.ResolutionUserSkip))

	final, err := mgr.Stores.HandlerRuns.Load(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, execmodel.StatusCommitted, final.Status)
	require.Equal(t, execmodel.OutcomeSkipped, final.MutationOutcome, "user_skip commits with mutation_outcome=skipped")
}

// TestTransientFailureRetriesAfterBackoffElapses covers the step-1b due-scan:
// a paused:transient run whose back-off has elapsed is promoted to a
// continuation run and driven to commit, while the original run is left
// superseded (crashed) just like a crash-paired retry.
func TestTransientFailureRetriesAfterBackoffElapses(t *testing.T) {
	ctx := context.Background()
	connectors := connector.NewRegistry()
	handlers := handler.NewRegistry()
	handlers.RegisterConsumer("echo", echoConsumer{})

	sched, mgr := newTestScheduler(t, handlers, connectors)
	cfg := execmodel.HandlerConfig{Consumers: []execmodel.ConsumerDecl{{Name: "echo", Topics: []string{"in"}}}}
	w := createActiveWorkflow(t, ctx, mgr, cfg)

	run, err := mgr.CreateHandlerRun(ctx, "", w.ID, execmodel.HandlerConsumer, "echo", "", execmodel.PhasePreparing)
	require.NoError(t, err)
	failed, err := mgr.FailRun(ctx, run.ID, execmodel.ErrorNetwork, "dial tcp: connection refused")
	require.NoError(t, err)
	require.Equal(t, execmodel.StatusPausedTransient, failed.Status)

	ran, err := sched.Tick(ctx)
	require.NoError(t, err)
	require.False(t, ran, "the back-off has not elapsed yet, so nothing is due")

	// Simulate the back-off window elapsing.
	failed.NextRetryAt = 1
	require.NoError(t, mgr.Stores.HandlerRuns.Update(ctx, failed))

	ran, err = sched.Tick(ctx)
	require.NoError(t, err)
	require.True(t, ran)

	original, err := mgr.Stores.HandlerRuns.Load(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, execmodel.StatusCrashed, original.Status, "the original run is superseded by its continuation")

	continuation, err := mgr.Stores.HandlerRuns.LatestInChain(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, execmodel.StatusCommitted, continuation.Status)
}
