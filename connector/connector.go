// Package connector defines the synchronous call/reconcile contract the
// mutation ledger uses to invoke external side effects, grounded on the
// teacher's runtime/toolregistry/executor.Client shape (route a tool call
// through a named namespace, await a result) but collapsed to a direct
// synchronous call since spec.md §6 defines the connector contract as
// synchronous rather than stream-correlated.
package connector

import "context"

// ReconcileOutcome is the disposition a connector reports for an uncertain
// mutation (spec.md §4.2).
type ReconcileOutcome string

const (
	ReconcileApplied ReconcileOutcome = "applied"
	ReconcileFailed  ReconcileOutcome = "failed"
	ReconcileRetry   ReconcileOutcome = "retry"
)

// ReconcileResult is what Reconciler.Reconcile returns.
type ReconcileResult struct {
	Outcome ReconcileOutcome
	Result  []byte
}

// Caller performs one external side effect. Implementations must be safe to
// call at most once per (method, idempotencyKey) from the caller's
// perspective — the connector itself decides how idempotencyKey maps onto
// the underlying API (e.g. an Idempotency-Key header, a dedup table).
type Caller interface {
	Call(ctx context.Context, method string, params []byte, idempotencyKey string) (result []byte, err error)
}

// Reconciler is the optional extension a connector implements to support
// polling an uncertain (in_flight/needs_reconcile) mutation for its true
// outcome. Connectors that cannot reconcile (most do-not-retry-safe APIs)
// omit this, and the mutation ledger moves straight to indeterminate on any
// in-flight crash.
type Reconciler interface {
	Reconcile(ctx context.Context, method string, params []byte, idempotencyKey string) (ReconcileResult, error)
}

// Connector bundles Caller with an optional Reconciler. Registry.Lookup
// returns this pair so callers can type-assert for Reconciler support
// without a second registry lookup.
type Connector struct {
	Caller     Caller
	Reconciler Reconciler // nil if the connector does not support reconciliation
}

// uncertain is implemented by Call errors that mean "the request may or may
// not have reached the external system" (e.g. a timeout after send), as
// opposed to one that means the call definitely did not take effect. The
// mutation ledger routes the former to needs_reconcile and the latter to
// failed.
type uncertain interface {
	Uncertain() bool
}

// IsUncertain reports whether err indicates an uncertain outcome, by
// type-asserting for an Uncertain() bool method. Callers implementing Caller
// should return an error satisfying this interface when a call's effect
// cannot be ruled out (network timeout mid-request, connection reset after
// send) rather than wrapping it in a generic error.
func IsUncertain(err error) bool {
	u, ok := err.(uncertain)
	return ok && u.Uncertain()
}
