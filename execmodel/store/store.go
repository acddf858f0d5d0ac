// Package store defines the narrow, per-table storage contracts consumed by
// execmodel.Manager. Each interface mirrors the shape of the teacher's
// run.Store / session.Store: context-first, error-returning methods with no
// cross-table invariants — those are enforced one layer up, in Manager.
package store

import (
	"context"

	"github.com/signalmesh/core/execmodel"
)

type (
	// WorkflowStore persists Workflow rows.
	WorkflowStore interface {
		Create(ctx context.Context, w execmodel.Workflow) error
		Load(ctx context.Context, id string) (execmodel.Workflow, error)
		Update(ctx context.Context, w execmodel.Workflow) error
		// ListRunnable returns workflows eligible for scheduling (spec.md §4.4),
		// paginated by an opaque cursor; an empty cursor starts from the
		// beginning. Returns the next cursor, empty when exhausted.
		ListRunnable(ctx context.Context, cursor string, limit int) (workflows []execmodel.Workflow, nextCursor string, err error)
	}

	// ScriptStore persists Script versions.
	ScriptStore interface {
		Create(ctx context.Context, s execmodel.Script) error
		Load(ctx context.Context, id string) (execmodel.Script, error)
		LatestForWorkflow(ctx context.Context, workflowID string) (execmodel.Script, error)
	}

	// TopicStore persists Topic rows, created lazily by EventStore.Publish.
	TopicStore interface {
		EnsureTopic(ctx context.Context, workflowID, name string) (execmodel.Topic, error)
		Load(ctx context.Context, workflowID, name string) (execmodel.Topic, error)
	}

	// EventStore is the reservation-based event queue of spec.md §4.1.
	EventStore interface {
		// Publish upserts on (topic, messageId); see execmodel.PublishRequest
		// for the exact conflict semantics.
		Publish(ctx context.Context, workflowID, topic string, req execmodel.PublishRequest, createdByRunID string) (execmodel.Event, error)
		// Peek returns the oldest events matching status in ascending
		// created_at order without changing state. status == "" defaults to
		// pending.
		Peek(ctx context.Context, workflowID, topic string, status execmodel.EventStatus, limit int) ([]execmodel.Event, error)
		// Reserve atomically transitions the listed events from pending to
		// reserved for runID. Events already non-pending are silently
		// skipped. Returns the events that were actually reserved.
		Reserve(ctx context.Context, runID string, reservations []execmodel.Reservation) ([]execmodel.Event, error)
		// Consume finalises all events reserved by runID to consumed.
		Consume(ctx context.Context, runID string) error
		// Skip finalises all events reserved by runID to skipped.
		Skip(ctx context.Context, runID string) error
		// Release returns events reserved by runID to pending, incrementing
		// attempt_number and clearing reserved_by_run_id.
		Release(ctx context.Context, runID string) error
		// Reassign transfers every event reservation held by fromRunID to
		// toRunID without changing status, used by Recovery when a crash
		// continuation run (spec.md §4.3 "resumption creates a new handler
		// run") takes over a crashed run's still-reserved events instead of
		// re-reserving them.
		Reassign(ctx context.Context, fromRunID, toRunID string) error
		// ReleaseOrphaned releases reservations whose owning run is not
		// status=active (terminal or missing), as reported by isActive.
		ReleaseOrphaned(ctx context.Context, isActive func(runID string) bool) (released int, err error)
		// CausedByForRun returns the deduplicated union of CausedBy across
		// all events currently reserved by runID.
		CausedByForRun(ctx context.Context, runID string) ([]string, error)
		HasAnyPendingForWorkflow(ctx context.Context, workflowID string) (bool, error)
		CountPendingByTopic(ctx context.Context, workflowID string, topics []string) (map[string]int, error)
	}

	// InputStore persists the deduplicated Input registry.
	InputStore interface {
		// Upsert returns the existing Input if one already exists for Key,
		// otherwise creates and returns a new one. Idempotent.
		Upsert(ctx context.Context, key execmodel.InputKey, title string) (execmodel.Input, error)
		Load(ctx context.Context, id string) (execmodel.Input, error)
	}

	// MutationStore persists the Mutation ledger.
	MutationStore interface {
		// Create inserts a pending mutation. Returns ErrConflict if one
		// already exists for HandlerRunID.
		Create(ctx context.Context, m execmodel.Mutation) (execmodel.Mutation, error)
		// CreateInFlight inserts a mutation already in the in_flight state,
		// skipping pending, for callers that already know the tool, params
		// and idempotency key; Manager.ExecuteMutation uses it to record the
		// row immediately before making the external call (spec.md §4.2).
		CreateInFlight(ctx context.Context, m execmodel.Mutation) (execmodel.Mutation, error)
		Load(ctx context.Context, id string) (execmodel.Mutation, error)
		LoadByHandlerRun(ctx context.Context, handlerRunID string) (execmodel.Mutation, error)
		// UpdateStatus performs one state-machine edge, validated by
		// execmodel.CanTransition, persisting result/error as provided.
		UpdateStatus(ctx context.Context, id string, to execmodel.MutationStatus, result []byte, errMsg string) (execmodel.Mutation, error)
		// ScheduleNextReconcile atomically increments ReconcileAttempts,
		// sets LastReconcileAt=now, NextReconcileAt=now+delay.
		ScheduleNextReconcile(ctx context.Context, id string, nowMs, delayMs int64) (execmodel.Mutation, error)
		// DueForReconciliation returns needs_reconcile rows with
		// next_reconcile_at <= nowMs, ascending.
		DueForReconciliation(ctx context.Context, nowMs int64, limit int) ([]execmodel.Mutation, error)
		// Resolve records a user resolution, setting ResolvedBy/ResolvedAt and
		// the terminal status implied by it.
		Resolve(ctx context.Context, id string, by execmodel.Resolution, status execmodel.MutationStatus) (execmodel.Mutation, error)
	}

	// HandlerRunStore persists HandlerRun rows.
	HandlerRunStore interface {
		Create(ctx context.Context, r execmodel.HandlerRun) (execmodel.HandlerRun, error)
		Load(ctx context.Context, id string) (execmodel.HandlerRun, error)
		Update(ctx context.Context, r execmodel.HandlerRun) error
		// ListActive returns every HandlerRun with Status==StatusActive,
		// used by Recovery on startup.
		ListActive(ctx context.Context) ([]execmodel.HandlerRun, error)
		// LatestInChain follows RetryOf forward from runID to the newest
		// attempt in the retry chain.
		LatestInChain(ctx context.Context, runID string) (execmodel.HandlerRun, error)
		// DueForRetry returns status=paused:transient runs with
		// 0 < next_retry_at <= nowMs, the backoff-scheduled analogue of
		// HandlerStateStore.DueWakes.
		DueForRetry(ctx context.Context, nowMs int64, limit int) ([]execmodel.HandlerRun, error)
	}

	// HandlerStateStore persists per-(workflow, handler) state blobs and wake
	// timestamps.
	HandlerStateStore interface {
		Load(ctx context.Context, workflowID, handlerName string) (execmodel.HandlerState, error)
		Save(ctx context.Context, s execmodel.HandlerState) error
		// DueWakes returns handler states with 0 < wake_at <= nowMs.
		DueWakes(ctx context.Context, nowMs int64, limit int) ([]execmodel.HandlerState, error)
	}

	// ProducerScheduleStore persists per-(workflow, producer) schedules.
	ProducerScheduleStore interface {
		Load(ctx context.Context, workflowID, producerName string) (execmodel.ProducerSchedule, error)
		Save(ctx context.Context, s execmodel.ProducerSchedule) error
		// DueSchedules returns schedules with next_run_at <= nowMs.
		DueSchedules(ctx context.Context, nowMs int64, limit int) ([]execmodel.ProducerSchedule, error)
	}

	// ScriptRunStore persists session records.
	ScriptRunStore interface {
		Create(ctx context.Context, r execmodel.ScriptRun) (execmodel.ScriptRun, error)
		Load(ctx context.Context, id string) (execmodel.ScriptRun, error)
		Update(ctx context.Context, r execmodel.ScriptRun) error
		// ListOpen returns every ScriptRun with Status==ScriptRunActive, used
		// by Recovery to retry finalising sessions left open by a crash
		// between a run's commit and its own CloseSession call (spec.md §4.5
		// step 3).
		ListOpen(ctx context.Context) ([]execmodel.ScriptRun, error)
	}

	// Stores bundles every per-table store. Manager depends on this instead
	// of the individual interfaces so callers only wire one struct.
	Stores struct {
		Workflows         WorkflowStore
		Scripts           ScriptStore
		Topics            TopicStore
		Events            EventStore
		Inputs            InputStore
		Mutations         MutationStore
		HandlerRuns       HandlerRunStore
		HandlerStates     HandlerStateStore
		ProducerSchedules ProducerScheduleStore
		ScriptRuns        ScriptRunStore
	}
)
