// Package handler defines the contract user-authored script handlers
// implement, mirroring the turn-based plan/act/respond shape of the
// teacher's agent planner and the pause/resume signal vocabulary of its
// interrupt controller, adapted here to the producer/consumer split of
// spec.md §6.
package handler

import (
	"context"

	"github.com/signalmesh/core/execmodel"
)

// RunContext is the per-invocation context passed to a handler body: the
// persisted handler state blob from the previous run, plus accessors the
// host fills in before invoking prepare/mutate/emit.
type RunContext struct {
	context.Context

	WorkflowID string
	HandlerRun execmodel.HandlerRun

	// State is the handler's own persisted blob from HandlerState, decoded
	// by the handler itself (the host treats it as opaque).
	State []byte

	// Inputs are the events the scheduler peeked on the handler's declared
	// topics, offered to prepare() for inspection before reservation.
	Inputs []execmodel.Event
}

// ProducedEvent is one event a handler wants to publish.
type ProducedEvent struct {
	Topic     string
	MessageID string
	Payload   []byte
	CausedBy  []string
}

// RegisteredInput is one external signal a producer wants registered in the
// Input ledger.
type RegisteredInput struct {
	Source     string
	Type       string
	ExternalID string
	Title      string
}

// ProducerResult is what Producer.Run returns (spec.md §6).
type ProducerResult struct {
	Events []ProducedEvent
	Inputs []RegisteredInput
	State  []byte
}

// Producer fetches external inputs and emits events. Producer phases are
// the subset {pending, executing, committed}.
type Producer interface {
	Run(rc *RunContext) (ProducerResult, error)
}

// UIHint carries a user-facing title for any mutation the run performs.
type UIHint struct {
	Title string
}

// PrepareResult is what Consumer.Prepare returns (spec.md §4.3, §6): the
// events to reserve, an optional mutation UI title, an optional wake_at
// (absolute epoch ms, clamped by execmodel.ClampWakeAt), and the handler's
// own opaque state to persist.
type PrepareResult struct {
	Reservations []execmodel.Reservation
	UI           UIHint
	WakeAt       int64
	State        []byte
}

// MutateResult is what Consumer.Mutate returns: the routing for the single
// permitted external call (spec.md §4.3 "at most one mutation per run"),
// dispatched by the host through connector.Registry rather than called
// directly by the handler body, so the mutation ledger can record it
// in-flight before the call happens.
type MutateResult struct {
	ToolNamespace  string
	ToolMethod     string
	Params         []byte
	IdempotencyKey string
}

// EmitResult is what Consumer.Emit returns: downstream events to publish.
type EmitResult struct {
	Events []ProducedEvent
}

// Consumer reacts to events, optionally performs one external mutation, and
// emits downstream events. Consumer phases are the full set: pending,
// preparing, prepared, mutating, mutated, emitting, committed.
//
// Mutate and Emit are optional — a consumer that never mutates (e.g. a pure
// fan-out/aggregation handler) implements only Prepare, and the Manager
// advances mutating -> mutated with mutation_outcome="" without invoking a
// connector.
type Consumer interface {
	Prepare(rc *RunContext) (PrepareResult, error)
}

// Mutator is the optional extension a Consumer implements when it issues a
// mutation. At most one call is permitted per run (spec.md §4.3).
type Mutator interface {
	Mutate(rc *RunContext) (MutateResult, error)
}

// Emitter is the optional extension a Consumer implements when it publishes
// downstream events.
type Emitter interface {
	Emit(rc *RunContext) (EmitResult, error)
}
