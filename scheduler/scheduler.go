package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/signalmesh/core/execmodel"
	"github.com/signalmesh/core/handler"
	"github.com/signalmesh/core/telemetry"

	"golang.org/x/time/rate"
)

// DefaultPeekLimit bounds how many pending events the scheduler offers a
// consumer's prepare() per tick, and how many due rows it reads per
// selection-order step.
const DefaultPeekLimit = 50

// Options configures a Scheduler. Engine, Limiter, PeekLimit, and Logger
// all have usable zero values; only Manager and Handlers are required.
type Options struct {
	Manager   *execmodel.Manager
	Handlers  *handler.Registry
	Engine    Engine
	Limiter   *rate.Limiter
	PeekLimit int
	Logger    telemetry.Logger
}

// Scheduler is the single-threaded cooperative driver of spec.md §4.4: it
// repeatedly selects one runnable (workflow, handler) tuple, opens a
// session, runs the handler body through Engine, and advances it with
// execmodel.Manager. Scheduler itself implements Dispatcher, resolving
// Engine's HandlerInvocation against Handlers and calling the matching
// handler-body method.
type Scheduler struct {
	manager   *execmodel.Manager
	handlers  *handler.Registry
	engine    Engine
	limiter   *rate.Limiter
	peekLimit int
	logger    telemetry.Logger

	cursor string // opaque WorkflowStore.ListRunnable pagination cursor
}

// New builds a Scheduler from opts, defaulting Engine to InmemEngine,
// Limiter to NewPaceLimiter(DefaultScanRate), PeekLimit to
// DefaultPeekLimit, and Logger to a no-op.
func New(opts Options) *Scheduler {
	s := &Scheduler{
		manager:   opts.Manager,
		handlers:  opts.Handlers,
		engine:    opts.Engine,
		limiter:   opts.Limiter,
		peekLimit: opts.PeekLimit,
		logger:    opts.Logger,
	}
	if s.engine == nil {
		s.engine = InmemEngine{}
	}
	if s.limiter == nil {
		s.limiter = NewPaceLimiter(DefaultScanRate)
	}
	if s.peekLimit <= 0 {
		s.peekLimit = DefaultPeekLimit
	}
	if s.logger == nil {
		s.logger = telemetry.NoopLogger{}
	}
	return s
}

// Run drives Tick in a loop, paced by the Scheduler's limiter, until ctx is
// done. It never returns a non-nil error for "nothing to do" ticks; only a
// store or handler-contract failure stops the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if _, err := s.Tick(ctx); err != nil {
			return err
		}
	}
}

// Tick selects and drives at most one (workflow, handler) tuple, per the
// selection order of spec.md §4.4. ran is false when no eligible workflow
// had runnable work this tick.
func (s *Scheduler) Tick(ctx context.Context) (ran bool, err error) {
	if err := wait(ctx, s.limiter); err != nil {
		return false, err
	}
	wf, found, err := s.nextWorkflow(ctx)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	return s.runWorkflowStep(ctx, wf)
}

// nextWorkflow advances the round-robin cursor one step (spec.md §4.4
// "applied ... in round-robin fashion"), wrapping back to the start of
// WorkflowStore.ListRunnable once exhausted.
func (s *Scheduler) nextWorkflow(ctx context.Context) (execmodel.Workflow, bool, error) {
	wfs, next, err := s.manager.Stores.Workflows.ListRunnable(ctx, s.cursor, 1)
	if err != nil {
		return execmodel.Workflow{}, false, err
	}
	if len(wfs) == 0 {
		if s.cursor == "" {
			return execmodel.Workflow{}, false, nil
		}
		s.cursor = ""
		wfs, next, err = s.manager.Stores.Workflows.ListRunnable(ctx, "", 1)
		if err != nil {
			return execmodel.Workflow{}, false, err
		}
		if len(wfs) == 0 {
			return execmodel.Workflow{}, false, nil
		}
	}
	s.cursor = next
	return wfs[0], true, nil
}

// runWorkflowStep applies spec.md §4.4's 5-step selection order to wf, plus
// a transient-retry due-scan inserted between steps 1 and 2 (an addition
// beyond spec.md, mirroring how mutation reconciliation already occupies
// step 2), stopping at the first applicable step.
func (s *Scheduler) runWorkflowStep(ctx context.Context, wf execmodel.Workflow) (bool, error) {
	// Step 1: pending retry.
	retryRunID, err := s.manager.ClaimPendingRetry(ctx, wf.ID)
	if err != nil {
		return false, err
	}
	if retryRunID != "" {
		return true, s.resumeRetryRun(ctx, wf, retryRunID)
	}

	// Step 1b: transient handler-run retries due (spec.md §7's back-off
	// retry, not part of spec.md's original 5-step order).
	dueRetries, err := s.manager.DueTransientRetries(ctx, s.peekLimit)
	if err != nil {
		return false, err
	}
	if run, ok := earliestRetry(dueRetries, wf.ID); ok {
		return true, s.runTransientRetry(ctx, wf, run)
	}

	// Step 2: mutation reconciliation.
	due, err := s.manager.DueMutations(ctx, s.peekLimit)
	if err != nil {
		return false, err
	}
	for _, mu := range due {
		if mu.WorkflowID == wf.ID {
			return true, s.runReconciliation(ctx, wf, mu)
		}
	}

	cfg, err := execmodel.DecodeHandlerConfig(wf.HandlerConfig)
	if err != nil {
		return false, fmt.Errorf("scheduler: workflow %s has invalid handler_config: %w", wf.ID, err)
	}

	// Step 3: producer schedules due.
	schedules, err := s.manager.Stores.ProducerSchedules.DueSchedules(ctx, nowMs(), s.peekLimit)
	if err != nil {
		return false, err
	}
	if ps, ok := earliestSchedule(schedules, wf.ID); ok {
		if decl, ok := cfg.ProducerByName(ps.ProducerName); ok {
			return true, s.runProducer(ctx, wf, decl, ps)
		}
	}
	// A producer declared in handler_config with no ProducerSchedule row yet
	// (never run before) is due immediately: runProducer's zero-value
	// ProducerSchedule falls through the "ps.ProducerName=="" use decl's
	// schedule" path already relied on by resumeProducer/bookNextSchedule.
	for _, decl := range cfg.Producers {
		if _, err := s.manager.Stores.ProducerSchedules.Load(ctx, wf.ID, decl.Name); errors.Is(err, execmodel.ErrNotFound) {
			return true, s.runProducer(ctx, wf, decl, execmodel.ProducerSchedule{})
		} else if err != nil {
			return false, err
		}
	}

	// Step 4: consumer wake.
	wakes, err := s.manager.Stores.HandlerStates.DueWakes(ctx, nowMs(), s.peekLimit)
	if err != nil {
		return false, err
	}
	if hs, ok := earliestWake(wakes, wf.ID); ok {
		if decl, ok := cfg.ConsumerByName(hs.HandlerName); ok {
			return true, s.runConsumerFresh(ctx, wf, decl, execmodel.TriggerConsumerWake)
		}
	}

	// Step 5: pending events, first matching declared topic in declaration
	// order (a simplification of "any topic ... triggers the consumer(s)" —
	// every pending topic is eventually visited as the round-robin cursor
	// keeps returning to this workflow).
	for _, decl := range cfg.Consumers {
		for _, topic := range decl.Topics {
			evs, err := s.manager.Stores.Events.Peek(ctx, wf.ID, topic, execmodel.EventPending, 1)
			if err != nil {
				return false, err
			}
			if len(evs) > 0 {
				return true, s.runConsumerFresh(ctx, wf, decl, execmodel.TriggerPendingEvent)
			}
		}
	}

	return false, nil
}

func earliestSchedule(schedules []execmodel.ProducerSchedule, workflowID string) (execmodel.ProducerSchedule, bool) {
	var best execmodel.ProducerSchedule
	found := false
	for _, ps := range schedules {
		if ps.WorkflowID != workflowID {
			continue
		}
		if !found || ps.NextRunAt < best.NextRunAt {
			best, found = ps, true
		}
	}
	return best, found
}

func earliestWake(wakes []execmodel.HandlerState, workflowID string) (execmodel.HandlerState, bool) {
	var best execmodel.HandlerState
	found := false
	for _, hs := range wakes {
		if hs.WorkflowID != workflowID {
			continue
		}
		if !found || hs.WakeAt < best.WakeAt {
			best, found = hs, true
		}
	}
	return best, found
}

func earliestRetry(runs []execmodel.HandlerRun, workflowID string) (execmodel.HandlerRun, bool) {
	var best execmodel.HandlerRun
	found := false
	for _, r := range runs {
		if r.WorkflowID != workflowID {
			continue
		}
		if !found || r.NextRetryAt < best.NextRetryAt {
			best, found = r, true
		}
	}
	return best, found
}

// nowMs returns the current time as epoch milliseconds.
func nowMs() int64 { return time.Now().UnixMilli() }

// preparedMetaFor recovers the PreparedMeta (reservations + UI title) for
// run, falling back to the run it retries when run's own prepare_result is
// empty — true for every crash-pairing retry run, since CreateHandlerRun
// starts a retry with a blank prepare_result rather than copying its
// predecessor's.
func (s *Scheduler) preparedMetaFor(ctx context.Context, run execmodel.HandlerRun) (execmodel.PreparedMeta, error) {
	if len(run.PrepareResult) > 0 {
		return execmodel.DecodePreparedMeta(run.PrepareResult)
	}
	if run.RetryOf == "" {
		return execmodel.PreparedMeta{}, nil
	}
	orig, err := s.manager.Stores.HandlerRuns.Load(ctx, run.RetryOf)
	if err != nil {
		return execmodel.PreparedMeta{}, err
	}
	return execmodel.DecodePreparedMeta(orig.PrepareResult)
}

func (s *Scheduler) peekTopics(ctx context.Context, workflowID string, topics []string) ([]execmodel.Event, error) {
	var inputs []execmodel.Event
	for _, topic := range topics {
		evs, err := s.manager.Stores.Events.Peek(ctx, workflowID, topic, execmodel.EventPending, s.peekLimit)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, evs...)
	}
	return inputs, nil
}

// ---- Producer runs ----

func (s *Scheduler) runProducer(ctx context.Context, wf execmodel.Workflow, decl execmodel.ProducerDecl, ps execmodel.ProducerSchedule) error {
	session, err := s.manager.StartSession(ctx, wf.ID, execmodel.TriggerProducerSchedule)
	if err != nil {
		return err
	}
	run, err := s.manager.CreateHandlerRun(ctx, session.ID, wf.ID, execmodel.HandlerProducer, decl.Name, "", execmodel.PhasePending)
	if err != nil {
		return err
	}
	return s.runProducerBody(ctx, session.ID, wf, decl, ps, run)
}

func (s *Scheduler) resumeProducer(ctx context.Context, sessionID string, wf execmodel.Workflow, decl execmodel.ProducerDecl, run execmodel.HandlerRun) error {
	ps, err := s.manager.Stores.ProducerSchedules.Load(ctx, wf.ID, decl.Name)
	if err != nil && !errors.Is(err, execmodel.ErrNotFound) {
		return err
	}
	return s.runProducerBody(ctx, sessionID, wf, decl, ps, run)
}

// runProducerBody drives a producer HandlerRun already created at
// phase=pending through to commit, and books its next schedule tick.
func (s *Scheduler) runProducerBody(ctx context.Context, sessionID string, wf execmodel.Workflow, decl execmodel.ProducerDecl, ps execmodel.ProducerSchedule, run execmodel.HandlerRun) error {
	run, err := s.manager.BeginProducerExecution(ctx, run.ID)
	if err != nil {
		return err
	}
	raw, err := s.engine.Execute(ctx, s, HandlerInvocation{Step: StepProducerRun, WorkflowID: wf.ID, HandlerName: decl.Name, Run: run})
	if err != nil {
		return s.failAndClose(ctx, sessionID, run.ID, err)
	}
	var res handler.ProducerResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return fmt.Errorf("scheduler: decoding ProducerResult for %q: %w", decl.Name, err)
	}
	for _, in := range res.Inputs {
		if _, err := s.manager.RegisterInput(ctx, wf.ID, in.Source, in.Type, in.ExternalID, in.Title); err != nil {
			return err
		}
	}
	for _, ev := range res.Events {
		if _, err := s.manager.PublishEvent(ctx, wf.ID, ev.Topic, execmodel.PublishRequest{MessageID: ev.MessageID, Payload: ev.Payload, CausedBy: ev.CausedBy}, run.ID); err != nil {
			return err
		}
	}
	if err := s.manager.SaveHandlerState(ctx, wf.ID, decl.Name, res.State, 0); err != nil {
		return err
	}
	if _, err := s.manager.CommitProducerRun(ctx, run.ID, 0); err != nil {
		return err
	}
	if err := s.bookNextSchedule(ctx, wf.ID, decl, ps); err != nil {
		return err
	}
	_, err = s.manager.CloseSession(ctx, sessionID)
	return err
}

// bookNextSchedule updates ps.last_run_at/next_run_at (or derives a fresh
// schedule row from decl, when recovery resumed a producer whose schedule
// row hadn't been persisted yet).
func (s *Scheduler) bookNextSchedule(ctx context.Context, workflowID string, decl execmodel.ProducerDecl, ps execmodel.ProducerSchedule) error {
	scheduleType, scheduleValue := decl.ScheduleType, decl.ScheduleValue
	if ps.ProducerName != "" {
		scheduleType, scheduleValue = ps.ScheduleType, ps.ScheduleValue
	}
	next, err := ComputeNext(scheduleType, scheduleValue, nowMs())
	if err != nil {
		return err
	}
	ps.WorkflowID = workflowID
	ps.ProducerName = decl.Name
	ps.ScheduleType = scheduleType
	ps.ScheduleValue = scheduleValue
	ps.LastRunAt = nowMs()
	ps.NextRunAt = next
	return s.manager.Stores.ProducerSchedules.Save(ctx, ps)
}

// ---- Consumer runs: fresh ----

func (s *Scheduler) runConsumerFresh(ctx context.Context, wf execmodel.Workflow, decl execmodel.ConsumerDecl, trigger execmodel.ScriptRunTrigger) error {
	hs, err := s.manager.Stores.HandlerStates.Load(ctx, wf.ID, decl.Name)
	if err != nil && !errors.Is(err, execmodel.ErrNotFound) {
		return err
	}
	inputs, err := s.peekTopics(ctx, wf.ID, decl.Topics)
	if err != nil {
		return err
	}
	session, err := s.manager.StartSession(ctx, wf.ID, trigger)
	if err != nil {
		return err
	}
	run, err := s.manager.CreateHandlerRun(ctx, session.ID, wf.ID, execmodel.HandlerConsumer, decl.Name, "", execmodel.PhasePending)
	if err != nil {
		return err
	}
	return s.driveFromPreparing(ctx, session.ID, wf, decl, run, hs.State, inputs)
}

// driveFromPreparing runs the full pending->preparing->...->committed path
// starting from a fresh (or crash-pairing "no mutation/pending") run.
func (s *Scheduler) driveFromPreparing(ctx context.Context, sessionID string, wf execmodel.Workflow, decl execmodel.ConsumerDecl, run execmodel.HandlerRun, state []byte, inputs []execmodel.Event) error {
	run, err := s.manager.BeginPreparing(ctx, run.ID)
	if err != nil {
		return err
	}
	raw, err := s.engine.Execute(ctx, s, HandlerInvocation{Step: StepPrepare, WorkflowID: wf.ID, HandlerName: decl.Name, Run: run, State: state, Inputs: inputs})
	if err != nil {
		return s.failAndClose(ctx, sessionID, run.ID, err)
	}
	var prep handler.PrepareResult
	if err := json.Unmarshal(raw, &prep); err != nil {
		return fmt.Errorf("scheduler: decoding PrepareResult for %q: %w", decl.Name, err)
	}
	run, _, err = s.manager.CompletePrepare(ctx, run.ID, wf.ID, decl.Name, prep.Reservations, prep.UI.Title, prep.WakeAt, prep.State)
	if err != nil {
		return err
	}

	caps, err := s.handlers.ConsumerCapabilities(decl.Name)
	if err != nil {
		return err
	}
	if caps.Mutator {
		done, err := s.invokeMutate(ctx, sessionID, wf, decl, run, prep.State, prep.UI.Title)
		if err != nil || done {
			return err
		}
		run, err = s.manager.Stores.HandlerRuns.Load(ctx, run.ID)
		if err != nil {
			return err
		}
	} else {
		run, err = s.manager.NoMutation(ctx, run.ID)
		if err != nil {
			return err
		}
	}
	return s.finishConsumer(ctx, sessionID, wf, decl, run, prep.State)
}

// invokeMutate calls Mutate and ExecuteMutation for run, which must already
// be at phase=prepared or phase=mutating. done is true when the run was
// parked for reconciliation (mutation outcome uncertain) and the caller
// must stop driving it this tick.
func (s *Scheduler) invokeMutate(ctx context.Context, sessionID string, wf execmodel.Workflow, decl execmodel.ConsumerDecl, run execmodel.HandlerRun, state []byte, uiTitle string) (done bool, err error) {
	raw, err := s.engine.Execute(ctx, s, HandlerInvocation{Step: StepMutate, WorkflowID: wf.ID, HandlerName: decl.Name, Run: run, State: state})
	if err != nil {
		return true, s.failAndClose(ctx, sessionID, run.ID, err)
	}
	var mut handler.MutateResult
	if err := json.Unmarshal(raw, &mut); err != nil {
		return true, fmt.Errorf("scheduler: decoding MutateResult for %q: %w", decl.Name, err)
	}
	_, _, err = s.manager.ExecuteMutation(ctx, run.ID, mut.ToolNamespace, mut.ToolMethod, mut.Params, mut.IdempotencyKey, uiTitle)
	if err != nil {
		if errors.Is(err, execmodel.ErrMutationUncertain) {
			_, cerr := s.manager.CloseSession(ctx, sessionID)
			return true, cerr
		}
		return true, err
	}
	return false, nil
}

// finishConsumer runs the optional emit step and commits run.
func (s *Scheduler) finishConsumer(ctx context.Context, sessionID string, wf execmodel.Workflow, decl execmodel.ConsumerDecl, run execmodel.HandlerRun, state []byte) error {
	caps, err := s.handlers.ConsumerCapabilities(decl.Name)
	if err != nil {
		return err
	}
	if caps.Emitter {
		run, err = s.manager.BeginEmitting(ctx, run.ID)
		if err != nil {
			return err
		}
		raw, err := s.engine.Execute(ctx, s, HandlerInvocation{Step: StepEmit, WorkflowID: wf.ID, HandlerName: decl.Name, Run: run, State: state})
		if err != nil {
			return s.failAndClose(ctx, sessionID, run.ID, err)
		}
		var emit handler.EmitResult
		if err := json.Unmarshal(raw, &emit); err != nil {
			return fmt.Errorf("scheduler: decoding EmitResult for %q: %w", decl.Name, err)
		}
		for _, ev := range emit.Events {
			if _, err := s.manager.EmitEvent(ctx, run.ID, wf.ID, ev.Topic, execmodel.PublishRequest{MessageID: ev.MessageID, Payload: ev.Payload, CausedBy: ev.CausedBy}); err != nil {
				return err
			}
		}
	}
	if _, err := s.manager.CommitConsumerRun(ctx, run.ID, state, 0, false); err != nil {
		return err
	}
	_, err = s.manager.CloseSession(ctx, sessionID)
	return err
}

func (s *Scheduler) failAndClose(ctx context.Context, sessionID, runID string, handlerErr error) error {
	errType := handler.ClassifyError(handlerErr)
	run, err := s.manager.FailRun(ctx, runID, errType, handlerErr.Error())
	if err != nil {
		return err
	}
	s.logger.Warn(ctx, "handler run failed",
		"workflow_id", run.WorkflowID, "run_id", run.ID, "handler_name", run.HandlerName,
		"error_type", string(run.ErrorType), "status", string(run.Status), "retry_attempts", run.RetryAttempts)
	_, err = s.manager.CloseSession(ctx, sessionID)
	return err
}

// ---- Crash-pairing resume ----

// resumeRetryRun opens a retry session for a HandlerRun already created by
// ClassifyAndRecoverRun and drives it from its recorded starting phase
// (spec.md §4.5 step 1, §4.2's crash-pairing rule).
func (s *Scheduler) resumeRetryRun(ctx context.Context, wf execmodel.Workflow, runID string) error {
	run, err := s.manager.Stores.HandlerRuns.Load(ctx, runID)
	if err != nil {
		return err
	}
	session, err := s.manager.StartSession(ctx, wf.ID, execmodel.TriggerRetry)
	if err != nil {
		return err
	}
	if err := s.manager.AttachRun(ctx, session.ID, run.ID); err != nil {
		return err
	}

	cfg, err := execmodel.DecodeHandlerConfig(wf.HandlerConfig)
	if err != nil {
		return fmt.Errorf("scheduler: workflow %s has invalid handler_config: %w", wf.ID, err)
	}

	if run.HandlerType == execmodel.HandlerProducer {
		decl, ok := cfg.ProducerByName(run.HandlerName)
		if !ok {
			return fmt.Errorf("scheduler: retry run %s references unknown producer %q", run.ID, run.HandlerName)
		}
		return s.resumeProducer(ctx, session.ID, wf, decl, run)
	}

	decl, ok := cfg.ConsumerByName(run.HandlerName)
	if !ok {
		return fmt.Errorf("scheduler: retry run %s references unknown consumer %q", run.ID, run.HandlerName)
	}
	hs, err := s.manager.Stores.HandlerStates.Load(ctx, wf.ID, decl.Name)
	if err != nil && !errors.Is(err, execmodel.ErrNotFound) {
		return err
	}

	switch run.Phase {
	case execmodel.PhasePreparing:
		inputs, err := s.peekTopics(ctx, wf.ID, decl.Topics)
		if err != nil {
			return err
		}
		return s.driveFromPreparing(ctx, session.ID, wf, decl, run, hs.State, inputs)

	case execmodel.PhaseMutating:
		// No prepare() call precedes this resume (Open Question (iv),
		// DESIGN.md): the run already holds its reservations, reassigned by
		// retryFrom, and the handler state persisted at the original
		// prepare is reused to recreate the mutation. CreateHandlerRun
		// never copies prepare_result onto a freshly created retry run, so
		// the UI title is recovered from the crashed run it retries.
		meta, err := s.preparedMetaFor(ctx, run)
		if err != nil {
			return err
		}
		if done, err := s.invokeMutate(ctx, session.ID, wf, decl, run, hs.State, meta.UITitle); err != nil || done {
			return err
		}
		run, err = s.manager.Stores.HandlerRuns.Load(ctx, run.ID)
		if err != nil {
			return err
		}
		return s.finishConsumer(ctx, session.ID, wf, decl, run, hs.State)

	case execmodel.PhaseEmitting:
		// Mutation already applied and its reservations reassigned to this
		// run (spec.md §4.2 "applied -> continue from the emitting phase");
		// no further reservation or mutation call is needed.
		return s.finishConsumer(ctx, session.ID, wf, decl, run, hs.State)

	default:
		return fmt.Errorf("scheduler: retry run %s has unsupported resume phase %q", run.ID, run.Phase)
	}
}

// runTransientRetry promotes a paused:transient run whose back-off has
// elapsed to a fresh continuation run and drives it the same way a
// crash-paired retry is driven, without ever touching the single-slot
// pending-retry pointer (this step already found and is handling the run
// within the current tick, so nothing needs to be claimed on a later one).
func (s *Scheduler) runTransientRetry(ctx context.Context, wf execmodel.Workflow, run execmodel.HandlerRun) error {
	retry, err := s.manager.PromoteDueRetry(ctx, run)
	if err != nil {
		return err
	}
	s.logger.Info(ctx, "retrying transient handler-run failure",
		"workflow_id", wf.ID, "failed_run_id", run.ID, "retry_run_id", retry.ID,
		"handler_name", run.HandlerName, "retry_attempts", run.RetryAttempts)
	return s.resumeRetryRun(ctx, wf, retry.ID)
}

// ---- Mutation reconciliation ----

func (s *Scheduler) runReconciliation(ctx context.Context, wf execmodel.Workflow, mu execmodel.Mutation) error {
	updated, err := s.manager.Reconcile(ctx, mu.ID)
	if err != nil {
		return err
	}
	switch updated.Status {
	case execmodel.MutationApplied:
		return s.continueAfterResolution(ctx, wf, updated, execmodel.ResolveActionContinueEmitting)
	case execmodel.MutationFailed:
		return s.continueAfterResolution(ctx, wf, updated, execmodel.ResolveActionRetryMutating)
	default:
		// Still needs_reconcile (booked for a later attempt) or
		// indeterminate (awaiting the reconciliation queue cap or a user):
		// nothing further to drive this tick.
		return nil
	}
}

// ApplyResolution records a user resolution against mutationID and drives
// whatever HandlerRun follow-up it implies (spec.md §4.2 "User
// resolutions"). Exposed for an admin surface outside this package; the
// scheduler's own reconciliation poll (runReconciliation) reaches the same
// follow-up through continueAfterResolution directly.
func (s *Scheduler) ApplyResolution(ctx context.Context, wf execmodel.Workflow, mutationID string, by execmodel.Resolution) error {
	mutation, action, err := s.manager.ResolveMutation(ctx, mutationID, by)
	if err != nil {
		return err
	}
	return s.continueAfterResolution(ctx, wf, mutation, action)
}

// continueAfterResolution drives the HandlerRun action a mutation
// resolution (automatic reconciliation or user override) implies.
func (s *Scheduler) continueAfterResolution(ctx context.Context, wf execmodel.Workflow, mu execmodel.Mutation, action execmodel.ResolveAction) error {
	run, err := s.manager.Stores.HandlerRuns.Load(ctx, mu.HandlerRunID)
	if err != nil {
		return err
	}
	cfg, err := execmodel.DecodeHandlerConfig(wf.HandlerConfig)
	if err != nil {
		return fmt.Errorf("scheduler: workflow %s has invalid handler_config: %w", wf.ID, err)
	}
	decl, ok := cfg.ConsumerByName(run.HandlerName)
	if !ok {
		return fmt.Errorf("scheduler: mutation %s references unknown consumer %q", mu.ID, run.HandlerName)
	}
	hs, err := s.manager.Stores.HandlerStates.Load(ctx, wf.ID, decl.Name)
	if err != nil && !errors.Is(err, execmodel.ErrNotFound) {
		return err
	}

	session, err := s.manager.StartSession(ctx, wf.ID, execmodel.TriggerReconcile)
	if err != nil {
		return err
	}

	switch action {
	case execmodel.ResolveActionContinueEmitting:
		retry, err := s.manager.CreateHandlerRun(ctx, session.ID, wf.ID, execmodel.HandlerConsumer, decl.Name, run.ID, execmodel.PhaseEmitting)
		if err != nil {
			return err
		}
		if err := s.manager.Stores.Events.Reassign(ctx, run.ID, retry.ID); err != nil {
			return err
		}
		return s.finishConsumer(ctx, session.ID, wf, decl, retry, hs.State)

	case execmodel.ResolveActionRetryMutating:
		retry, err := s.manager.CreateHandlerRun(ctx, session.ID, wf.ID, execmodel.HandlerConsumer, decl.Name, run.ID, execmodel.PhaseMutating)
		if err != nil {
			return err
		}
		if err := s.manager.Stores.Events.Reassign(ctx, run.ID, retry.ID); err != nil {
			return err
		}
		meta, err := s.preparedMetaFor(ctx, run)
		if err != nil {
			return err
		}
		retry.PrepareResult = run.PrepareResult
		if done, err := s.invokeMutate(ctx, session.ID, wf, decl, retry, hs.State, meta.UITitle); err != nil || done {
			return err
		}
		retry, err = s.manager.Stores.HandlerRuns.Load(ctx, retry.ID)
		if err != nil {
			return err
		}
		return s.finishConsumer(ctx, session.ID, wf, decl, retry, hs.State)

	case execmodel.ResolveActionConsumeNoRetry:
		if err := s.manager.AttachRun(ctx, session.ID, run.ID); err != nil {
			return err
		}
		// user_skip never had its mutation applied, so the originally
		// reserved events are finalized as skipped (not consumed) and the
		// run commits with MutationOutcome=skipped, per spec.md §4.2.
		if _, err := s.manager.CommitConsumerRun(ctx, run.ID, run.OutputState, 0, true); err != nil {
			return err
		}
		_, err = s.manager.CloseSession(ctx, session.ID)
		return err

	default:
		return fmt.Errorf("scheduler: unknown resolve action %q", action)
	}
}

// ---- Dispatcher ----

// Dispatch implements Dispatcher, resolving inv.HandlerName against
// Handlers and calling the handler-body method inv.Step names. It is the
// only place a handler body is actually invoked; Engine backends call it
// in-process (InmemEngine directly, TemporalEngine from within a worker
// activity) so neither backend needs to know how handlers are registered.
func (s *Scheduler) Dispatch(ctx context.Context, inv HandlerInvocation) (json.RawMessage, error) {
	rc := &handler.RunContext{
		Context:    ctx,
		WorkflowID: inv.WorkflowID,
		HandlerRun: inv.Run,
		State:      inv.State,
		Inputs:     inv.Inputs,
	}
	switch inv.Step {
	case StepProducerRun:
		p, err := s.handlers.Producer(inv.HandlerName)
		if err != nil {
			return nil, err
		}
		res, err := p.Run(rc)
		if err != nil {
			return nil, err
		}
		return json.Marshal(res)

	case StepPrepare:
		c, err := s.handlers.Consumer(inv.HandlerName)
		if err != nil {
			return nil, err
		}
		res, err := c.Prepare(rc)
		if err != nil {
			return nil, err
		}
		return json.Marshal(res)

	case StepMutate:
		c, err := s.handlers.Consumer(inv.HandlerName)
		if err != nil {
			return nil, err
		}
		mutator, ok := c.(handler.Mutator)
		if !ok {
			return nil, fmt.Errorf("scheduler: handler %q does not implement Mutator", inv.HandlerName)
		}
		res, err := mutator.Mutate(rc)
		if err != nil {
			return nil, err
		}
		return json.Marshal(res)

	case StepEmit:
		c, err := s.handlers.Consumer(inv.HandlerName)
		if err != nil {
			return nil, err
		}
		emitter, ok := c.(handler.Emitter)
		if !ok {
			return nil, fmt.Errorf("scheduler: handler %q does not implement Emitter", inv.HandlerName)
		}
		res, err := emitter.Emit(rc)
		if err != nil {
			return nil, err
		}
		return json.Marshal(res)

	default:
		return nil, fmt.Errorf("scheduler: unknown handler step %q", inv.Step)
	}
}
