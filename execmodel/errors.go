package execmodel

import "errors"

// Sentinel errors returned by store and Manager implementations, following
// the teacher's convention of plain wrapped/sentinel errors rather than a
// custom error-code framework.
var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("execmodel: not found")
	// ErrConflict indicates a uniqueness or single-mutation-per-run violation.
	ErrConflict = errors.New("execmodel: conflict")
	// ErrInvalidTransition indicates an illegal phase, status, or mutation
	// state edge was attempted.
	ErrInvalidTransition = errors.New("execmodel: invalid transition")
	// ErrAlreadyTerminal indicates an operation (e.g. a second commit) was
	// attempted on a run that is already terminal.
	ErrAlreadyTerminal = errors.New("execmodel: run already terminal")
	// ErrInvalidIntentSpec indicates Workflow.IntentSpec failed schema
	// validation (execmodel/validate).
	ErrInvalidIntentSpec = errors.New("execmodel: invalid intent_spec")
	// ErrInvalidHandlerConfig indicates Script.HandlerConfig failed schema
	// validation (execmodel/validate).
	ErrInvalidHandlerConfig = errors.New("execmodel: invalid handler_config")
)
