// Package scheduler drives the cooperative, single-threaded selection loop
// of spec.md §4.4: it picks one runnable (workflow, handler) tuple per
// tick, opens a session, runs handler bodies through the pluggable Engine,
// and advances them with execmodel.Manager.
package scheduler

import (
	"context"
	"encoding/json"

	"github.com/signalmesh/core/execmodel"
)

// HandlerStep names which handler-authored method a HandlerInvocation
// should call (spec.md §6 "Handler-authored API").
type HandlerStep string

const (
	StepProducerRun HandlerStep = "producer_run"
	StepPrepare     HandlerStep = "prepare"
	StepMutate      HandlerStep = "mutate"
	StepEmit        HandlerStep = "emit"
)

// HandlerInvocation is the serializable description of one handler-body
// call. Every field is plain data so an Engine backend (notably
// TemporalEngine) can round-trip it through a durable activity without
// needing to carry a live context.Context or interface value across the
// wire — only Dispatcher, which runs in-process on both ends, resolves the
// named handler and rebuilds a *handler.RunContext around it.
type HandlerInvocation struct {
	Step        HandlerStep
	WorkflowID  string
	HandlerName string
	Run         execmodel.HandlerRun
	State       []byte
	Inputs      []execmodel.Event
}

// Dispatcher performs the actual handler-body call named by a
// HandlerInvocation and returns its result encoded as JSON (one of
// handler.ProducerResult, handler.PrepareResult, handler.MutateResult, or
// handler.EmitResult depending on Step). Scheduler implements this;
// Engine implementations never call handler bodies directly, only through
// Dispatcher, so the call itself can be wrapped in whatever durability
// mechanism the backend provides.
type Dispatcher interface {
	Dispatch(ctx context.Context, inv HandlerInvocation) (json.RawMessage, error)
}
