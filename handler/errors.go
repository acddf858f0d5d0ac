package handler

import (
	"context"
	"errors"

	"github.com/signalmesh/core/execmodel"
)

// classified is implemented by errors a handler body returns when it knows
// which row of the failure taxonomy table (spec.md §4.3) applies — e.g. a
// connector wrapper distinguishing auth/permission/network failures from a
// plain script bug. Mirrors connector.uncertain's marker-interface shape.
type classified interface {
	ErrorType() execmodel.ErrorType
}

// ClassifyError reports the execmodel.ErrorType a handler-body error maps
// to. A context.DeadlineExceeded — the soft-timeout expiry
// scheduler.InmemEngine.Execute produces when a handler body overruns its
// budget — is a host-side condition, not a script bug, so it classifies as
// ErrorUnknown (spec.md §4.4) ahead of the generic fallback. Errors that
// don't implement classified and aren't a deadline expiry default to
// ErrorLogic: an unclassified error from a handler body is treated as a
// script/contract violation (spec.md §4.3's "Script throws / contract
// violation" row) rather than ErrorUnknown, which is otherwise reserved for
// bugs in the host itself.
func ClassifyError(err error) execmodel.ErrorType {
	if c, ok := err.(classified); ok {
		return c.ErrorType()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return execmodel.ErrorUnknown
	}
	return execmodel.ErrorLogic
}
