package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
)

// ErrHandlerStepNotFound and ErrHandlerStepCompleted classify the two
// TemporalEngine.Execute failures a caller can reasonably want to branch on,
// grounded on runtime/agent/engine/temporal's mapSignalError: Temporal
// reports both as typed serviceerror values on the wire, which a plain
// errors.Is against the raw gRPC error can never match.
var (
	ErrHandlerStepNotFound  = errors.New("scheduler: handler-step workflow not found")
	ErrHandlerStepCompleted = errors.New("scheduler: handler-step workflow already completed")
)

// mapExecuteError reclassifies a Temporal client error into the engine's own
// sentinels where one applies, and passes everything else through unchanged.
func mapExecuteError(err error) error {
	if err == nil {
		return nil
	}
	var notFound *serviceerror.NotFound
	if errors.As(err, &notFound) {
		return fmt.Errorf("%w: %w", ErrHandlerStepNotFound, err)
	}
	var failedPrecondition *serviceerror.FailedPrecondition
	if errors.As(err, &failedPrecondition) {
		return fmt.Errorf("%w: %w", ErrHandlerStepCompleted, err)
	}
	return err
}

// dispatchActivityName is the registered name of the one generic activity
// TemporalEngine needs: "run whatever HandlerInvocation the workflow was
// started with". Grounded on runtime/agent/engine/temporal's
// Options/WorkerOptions shape, collapsed from that package's full
// workflow/activity registration surface (one queue per agent, dynamic
// per-workflow activities) down to a single passthrough workflow, since
// every call this engine makes has the identical shape.
const dispatchActivityName = "ExecuteHandlerStep"

// TemporalEngine executes each handler-body step as a Temporal activity,
// layering Temporal's retry/timeout/worker-crash recovery on top of (not
// instead of) execmodel.Manager's own phase-based recovery. The activity
// itself calls back into the Dispatcher supplied to Execute, which runs
// in-process in the worker — Temporal only needs HandlerInvocation's plain
// data to cross the wire, never the Dispatcher or handler.Registry
// themselves.
type TemporalEngine struct {
	Client    client.Client
	TaskQueue string

	dispatcher Dispatcher
}

// NewTemporalEngine returns a TemporalEngine bound to c and taskQueue.
func NewTemporalEngine(c client.Client, taskQueue string) *TemporalEngine {
	return &TemporalEngine{Client: c, TaskQueue: taskQueue}
}

// Worker returns a worker.Worker registered with the one passthrough
// workflow and generic activity this engine needs. Callers start it (e.g.
// w.Run(worker.InterruptCh())) once during process wiring, before the
// scheduler begins ticking.
func (e *TemporalEngine) Worker() worker.Worker {
	w := worker.New(e.Client, e.TaskQueue, worker.Options{})
	w.RegisterWorkflow(dispatchWorkflow)
	w.RegisterActivityWithOptions(e.dispatchActivity, activity.RegisterOptions{Name: dispatchActivityName})
	return w
}

// Execute starts (or reuses) a short-lived workflow whose sole purpose is
// to run inv through the registered activity, then waits for its result.
func (e *TemporalEngine) Execute(ctx context.Context, d Dispatcher, inv HandlerInvocation) (json.RawMessage, error) {
	e.dispatcher = d
	wfID := fmt.Sprintf("handler-step/%s/%s/%s", inv.Run.ID, inv.Run.Phase, inv.Step)
	run, err := e.Client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        wfID,
		TaskQueue: e.TaskQueue,
	}, dispatchWorkflow, inv)
	if err != nil {
		return nil, fmt.Errorf("scheduler: starting temporal handler-step workflow: %w", mapExecuteError(err))
	}
	var result json.RawMessage
	if err := run.Get(ctx, &result); err != nil {
		return nil, mapExecuteError(err)
	}
	return result, nil
}

// dispatchWorkflow is the deterministic Temporal workflow function: it
// executes the one activity this engine registers and returns its result.
// It never touches Dispatcher, the store, or the handler.Registry directly
// — those live only in the activity, which runs in the worker process.
func dispatchWorkflow(ctx workflow.Context, inv HandlerInvocation) (json.RawMessage, error) {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
	})
	var result json.RawMessage
	err := workflow.ExecuteActivity(ctx, dispatchActivityName, inv).Get(ctx, &result)
	return result, err
}

// dispatchActivity is the activity implementation, bound to e so it can
// reach the Dispatcher supplied to the most recent Execute call.
func (e *TemporalEngine) dispatchActivity(ctx context.Context, inv HandlerInvocation) (json.RawMessage, error) {
	return e.dispatcher.Dispatch(ctx, inv)
}
