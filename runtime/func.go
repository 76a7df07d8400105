package runtime

import (
	"context"
	"time"

	"github.com/tetratelabs/wazero/api"

	wasmexec "github.com/wippyai/wasm-executor"
	"github.com/wippyai/wasm-executor/errors"
	"github.com/wippyai/wasm-executor/telemetry"
)

// Func is a resolved exported function. Its signature is fixed at
// validation time.
type Func struct {
	instance *Instance
	fn       api.Function
	name     string
	sig      wasmexec.Signature
}

func (f *Func) Name() string { return f.name }

// Signature returns the declared parameter and result types.
func (f *Func) Signature() wasmexec.Signature {
	return f.sig
}

// Call invokes the function synchronously on the calling goroutine.
//
// Arguments are checked against the signature before any WebAssembly code
// runs; a mismatch returns an ArgumentMismatch error and leaves the instance
// untouched. Faults are returned as *errors.TrapError.
func (f *Func) Call(ctx context.Context, args ...wasmexec.Value) ([]wasmexec.Value, error) {
	r := f.instance.module.runtime
	start := time.Now()
	ctx, span := r.tracer.StartStage(ctx, telemetry.StageInvoke,
		telemetry.AttrModule.String(f.instance.module.name),
		telemetry.AttrExport.String(f.name))

	results, err := f.call(ctx, args)

	r.metrics.RecordStage(telemetry.StageInvoke, start, err)
	var trap *errors.TrapError
	if errors.As(err, &trap) {
		r.metrics.RecordTrap(string(trap.Reason))
		span.SetAttributes(telemetry.AttrReason.String(string(trap.Reason)))
	}
	telemetry.End(span, err)
	return results, err
}

// CallAny converts Go scalars and calls the function. Only int32, uint32,
// int64, uint64, float32, float64 and wasmexec.Value are accepted; there is
// no implicit widening or narrowing.
func (f *Func) CallAny(ctx context.Context, args ...any) ([]wasmexec.Value, error) {
	vals := make([]wasmexec.Value, len(args))
	for i, a := range args {
		v, ok := wasmexec.ValueOf(a)
		if !ok {
			return nil, errors.ArgumentMismatch(f.name, "argument %d: unsupported Go type %T", i, a)
		}
		vals[i] = v
	}
	return f.Call(ctx, vals...)
}

func (f *Func) call(ctx context.Context, args []wasmexec.Value) ([]wasmexec.Value, error) {
	if err := f.check(args); err != nil {
		return nil, err
	}
	if f.instance.Closed() {
		return nil, errors.Closed(errors.PhaseInvoke, "instance")
	}

	raw := make([]uint64, len(args))
	for i, a := range args {
		raw[i] = a.Raw()
	}

	out, err := f.instance.inst.Call(ctx, f.name, f.fn, raw...)
	if err != nil {
		return nil, err
	}

	results := make([]wasmexec.Value, len(f.sig.Results))
	for i, t := range f.sig.Results {
		results[i] = wasmexec.FromRaw(t, out[i])
	}
	return results, nil
}

func (f *Func) check(args []wasmexec.Value) error {
	if len(args) != len(f.sig.Params) {
		return errors.ArgumentMismatch(f.name, "expected %d argument(s) for %s, got %d",
			len(f.sig.Params), f.sig, len(args))
	}
	for i, a := range args {
		if a.Type() != f.sig.Params[i] {
			return errors.ArgumentMismatch(f.name, "argument %d: expected %s, got %s",
				i, f.sig.Params[i], a.Type())
		}
	}
	return nil
}
