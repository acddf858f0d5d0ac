package execmodel

import "time"

// HandlerType distinguishes a producer from a consumer handler run.
type HandlerType string

const (
	HandlerProducer HandlerType = "producer"
	HandlerConsumer HandlerType = "consumer"
)

// Phase is the monotonically-forward progress marker of a HandlerRun.
// Producers use the subset {pending, executing, committed}; consumers use
// the full set.
type Phase string

const (
	PhasePending    Phase = "pending"
	PhaseExecuting  Phase = "executing" // producers only
	PhasePreparing  Phase = "preparing"
	PhasePrepared   Phase = "prepared"
	PhaseMutating   Phase = "mutating"
	PhaseMutated    Phase = "mutated"
	PhaseEmitting   Phase = "emitting"
	PhaseCommitted  Phase = "committed"
)

// phaseOrder gives each phase a rank so Manager can assert forward-only
// movement. Producer-only and consumer-only phases interleave on the same
// scale; a run only ever visits the phases valid for its HandlerType.
var phaseOrder = map[Phase]int{
	PhasePending:   0,
	PhaseExecuting: 1,
	PhasePreparing: 1,
	PhasePrepared:  2,
	PhaseMutating:  3,
	PhaseMutated:   4,
	PhaseEmitting:  5,
	PhaseCommitted: 6,
}

// Status is the disposition of a HandlerRun, orthogonal to Phase.
type Status string

const (
	StatusActive              Status = "active"
	StatusPausedTransient     Status = "paused:transient"
	StatusPausedApproval      Status = "paused:approval"
	StatusPausedReconcile     Status = "paused:reconciliation"
	StatusFailedLogic         Status = "failed:logic"
	StatusFailedInternal      Status = "failed:internal"
	StatusCommitted           Status = "committed"
	StatusCrashed             Status = "crashed"
)

// Terminal reports whether a run in this status will never execute again.
func (s Status) Terminal() bool {
	switch s {
	case StatusCommitted, StatusFailedLogic, StatusFailedInternal, StatusCrashed:
		return true
	}
	return false
}

// ErrorType classifies why a handler run failed, driving both the failure
// taxonomy table (spec.md §4.3) and the error-handling policy (spec.md §7).
type ErrorType string

const (
	ErrorNone       ErrorType = ""
	ErrorAuth       ErrorType = "auth"
	ErrorPermission ErrorType = "permission"
	ErrorNetwork    ErrorType = "network"
	ErrorLogic      ErrorType = "logic"
	ErrorUnknown    ErrorType = "unknown"
)

// FailureDisposition is one row of the failure taxonomy table in spec.md
// §4.3: given an ErrorType, what Status the run moves to and whether its
// reserved events are released back to pending or kept reserved.
type FailureDisposition struct {
	Status         Status
	ReleaseEvents  bool
	Retryable      bool // scheduler auto-retries (transient) vs waits on a human/maintainer
}

// FailureTaxonomy is the authoritative mapping from ErrorType to disposition.
var FailureTaxonomy = map[ErrorType]FailureDisposition{
	ErrorAuth:       {Status: StatusPausedApproval, ReleaseEvents: true, Retryable: false},
	ErrorPermission: {Status: StatusPausedApproval, ReleaseEvents: true, Retryable: false},
	ErrorNetwork:    {Status: StatusPausedTransient, ReleaseEvents: true, Retryable: true},
	ErrorLogic:      {Status: StatusFailedLogic, ReleaseEvents: true, Retryable: false},
	ErrorUnknown:    {Status: StatusFailedInternal, ReleaseEvents: true, Retryable: false},
}

// HandlerRun is one execution attempt of one producer or consumer.
type HandlerRun struct {
	ID              string
	ScriptRunID     string
	WorkflowID      string
	HandlerType     HandlerType
	HandlerName     string
	Phase           Phase
	Status          Status
	InputState      []byte
	PrepareResult   []byte // serialized PreparedMeta (reservations + ui title)
	OutputState     []byte
	MutationOutcome MutationOutcome
	RetryOf         string
	StartedAt       time.Time
	EndedAt         time.Time
	Cost            int64 // microdollars
	Error           string
	ErrorType       ErrorType
	Logs            []string
	// RetryAttempts counts backoff-scheduled transient retries already
	// booked against this run (spec.md §7's exponential back-off cap).
	RetryAttempts int
	// NextRetryAt is the epoch-ms time a status=paused:transient run becomes
	// due for an automatic retry; 0 means none is scheduled, matching
	// HandlerState.WakeAt's convention.
	NextRetryAt int64
}

// CanAdvance reports whether moving this run from "from" to "to" respects
// the monotonic phase ordering (spec.md §3 "phase only advances").
func CanAdvance(from, to Phase) bool {
	fo, ok := phaseOrder[from]
	if !ok {
		return false
	}
	to2, ok := phaseOrder[to]
	if !ok {
		return false
	}
	return to2 >= fo
}
