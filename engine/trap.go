package engine

import (
	"context"
	stderrors "errors"
	"strings"

	"github.com/tetratelabs/wazero/sys"

	"github.com/wippyai/wasm-executor/errors"
)

// trapMessages maps engine fault messages to reasons. Order matters only in
// that more specific messages come first.
var trapMessages = []struct {
	text   string
	reason errors.TrapReason
}{
	{"integer divide by zero", errors.TrapIntegerDivideByZero},
	{"integer overflow", errors.TrapIntegerOverflow},
	{"invalid conversion to integer", errors.TrapInvalidConversion},
	{"unreachable", errors.TrapUnreachable},
	{"out of bounds memory access", errors.TrapOutOfBoundsMemoryAccess},
	{"indirect call type mismatch", errors.TrapIndirectCallTypeMismatch},
	{"invalid table access", errors.TrapInvalidTableAccess},
	{"stack overflow", errors.TrapStackOverflow},
}

// classifyTrap converts an error returned by the engine while guest code was
// running into a TrapError. ok is false when err does not look like a fault.
func classifyTrap(ctx context.Context, phase errors.Phase, fn string, err error, slot *trapSlot) (*errors.TrapError, bool) {
	if slot != nil {
		if host := slot.Swap(nil); host != nil {
			t := *host
			t.Phase = phase
			if t.Cause == nil {
				t.Cause = err
			}
			return &t, true
		}
	}

	trap := &errors.TrapError{Phase: phase, Func: fn, Cause: err}

	var exitErr *sys.ExitError
	if stderrors.As(err, &exitErr) {
		switch exitErr.ExitCode() {
		case sys.ExitCodeDeadlineExceeded:
			trap.Reason = errors.TrapDeadlineExceeded
		case sys.ExitCodeContextCanceled:
			trap.Reason = errors.TrapCanceled
		default:
			trap.Reason = errors.TrapExit
			trap.ExitCode = exitErr.ExitCode()
		}
		return trap, true
	}

	var hostErr *errors.TrapError
	if stderrors.As(err, &hostErr) {
		t := *hostErr
		t.Phase = phase
		return &t, true
	}

	msg := err.Error()
	for _, m := range trapMessages {
		if strings.Contains(msg, m.text) {
			trap.Reason = m.reason
			trap.Message = m.text
			return trap, true
		}
	}

	switch ctx.Err() {
	case context.DeadlineExceeded:
		trap.Reason = errors.TrapDeadlineExceeded
		return trap, true
	case context.Canceled:
		trap.Reason = errors.TrapCanceled
		return trap, true
	}

	if strings.Contains(msg, "wasm error") || strings.Contains(msg, "recovered by wazero") {
		trap.Reason = errors.TrapUnknown
		return trap, true
	}
	return nil, false
}

// terminal reports whether the trap left the instance closed.
func terminal(t *errors.TrapError) bool {
	switch t.Reason {
	case errors.TrapDeadlineExceeded, errors.TrapCanceled, errors.TrapExit:
		return true
	}
	return false
}

// classifyInstantiateError maps an engine instantiation failure to a kind.
func classifyInstantiateError(ctx context.Context, err error, slot *trapSlot) *errors.Error {
	if trap, ok := classifyTrap(ctx, errors.PhaseInstantiate, "start", err, slot); ok {
		return errors.Instantiation(errors.KindTrap, "start function trapped", trap)
	}

	msg := err.Error()
	kind := errors.KindInstantiation
	switch {
	case strings.Contains(msg, "over limit"), strings.Contains(msg, "size mismatch"):
		kind = errors.KindLimit
	case strings.Contains(msg, "signature mismatch"), strings.Contains(msg, "type mismatch"):
		kind = errors.KindTypeMismatch
	case strings.Contains(msg, "not instantiated"), strings.Contains(msg, "not exported"):
		kind = errors.KindMissingImport
	}
	return errors.Instantiation(kind, "instantiate module", err)
}
