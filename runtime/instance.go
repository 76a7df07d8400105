package runtime

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/tetratelabs/wazero/api"

	wasmexec "github.com/wippyai/wasm-executor"
	"github.com/wippyai/wasm-executor/engine"
	"github.com/wippyai/wasm-executor/errors"
	"github.com/wippyai/wasm-executor/telemetry"
)

// Instance is a live module instance. It is NOT thread-safe: one goroutine
// at a time may resolve exports and call functions.
type Instance struct {
	module *Module
	inst   *engine.WazeroInstance
	funcs  map[string]*Func
	closed atomic.Bool
}

func newInstance(m *Module, wi *engine.WazeroInstance) *Instance {
	return &Instance{
		module: m,
		inst:   wi,
		funcs:  make(map[string]*Func),
	}
}

// Module returns the module the instance was created from.
func (i *Instance) Module() *Module {
	return i.module
}

// ExportNames returns the module's declared exports in declaration order.
func (i *Instance) ExportNames() []string {
	return i.module.ExportNames()
}

// Export returns the descriptor of an export. It never executes code.
func (i *Instance) Export(name string) (Export, error) {
	start := time.Now()
	ex, err := i.module.Export(name)
	i.recordResolve(start, err)
	return ex, err
}

// Func resolves an exported function. The handle is cached and may be
// called repeatedly.
func (i *Instance) Func(name string) (*Func, error) {
	start := time.Now()
	fn, err := i.resolveFunc(name)
	i.recordResolve(start, err)
	return fn, err
}

func (i *Instance) resolveFunc(name string) (*Func, error) {
	if i.Closed() {
		return nil, errors.Closed(errors.PhaseResolve, "instance")
	}
	if fn, ok := i.funcs[name]; ok {
		return fn, nil
	}
	ex, err := i.lookup(name, KindFunc)
	if err != nil {
		return nil, err
	}
	raw := i.inst.ExportedFunction(name)
	if raw == nil {
		return nil, errors.ExportNotFound(name)
	}
	fn := &Func{instance: i, name: name, fn: raw, sig: ex.Signature}
	i.funcs[name] = fn
	return fn, nil
}

// Memory resolves an exported linear memory.
func (i *Instance) Memory(name string) (*Memory, error) {
	start := time.Now()
	mem, err := i.resolveMemory(name)
	i.recordResolve(start, err)
	return mem, err
}

func (i *Instance) resolveMemory(name string) (*Memory, error) {
	if _, err := i.lookup(name, KindMemory); err != nil {
		return nil, err
	}
	mem := i.inst.ExportedMemory(name)
	if mem == nil {
		return nil, errors.ExportNotFound(name)
	}
	return &Memory{WazeroMemory: mem, name: name}, nil
}

// Global resolves an exported global.
func (i *Instance) Global(name string) (*Global, error) {
	start := time.Now()
	g, err := i.resolveGlobal(name)
	i.recordResolve(start, err)
	return g, err
}

func (i *Instance) resolveGlobal(name string) (*Global, error) {
	if _, err := i.lookup(name, KindGlobal); err != nil {
		return nil, err
	}
	g := i.inst.ExportedGlobal(name)
	if g == nil {
		return nil, errors.ExportNotFound(name)
	}
	return &Global{name: name, global: g}, nil
}

func (i *Instance) lookup(name string, want ExternKind) (Export, error) {
	if i.Closed() {
		return Export{}, errors.Closed(errors.PhaseResolve, "instance")
	}
	ex, err := i.module.Export(name)
	if err != nil {
		return Export{}, err
	}
	if ex.Kind != want {
		return Export{}, errors.ExportKindMismatch(name, want.String(), ex.Kind.String())
	}
	return ex, nil
}

func (i *Instance) recordResolve(start time.Time, err error) {
	i.module.runtime.metrics.RecordStage(telemetry.StageResolve, start, err)
}

// Closed reports whether the instance is closed, either explicitly or by a
// deadline, cancellation or exit trap.
func (i *Instance) Closed() bool {
	return i.closed.Load() || i.inst.Closed()
}

// Close releases the instance's memory and host bindings.
func (i *Instance) Close(ctx context.Context) error {
	if !i.closed.CompareAndSwap(false, true) {
		return nil
	}
	i.module.runtime.metrics.InstanceClosed()
	i.funcs = nil
	return i.inst.Close(ctx)
}

// Memory is an exported linear memory. Reads return copies.
type Memory struct {
	*engine.WazeroMemory
	name string
}

func (m *Memory) Name() string { return m.name }

var _ wasmexec.Memory = (*Memory)(nil)

// Global is an exported global.
type Global struct {
	global api.Global
	name   string
}

func (g *Global) Name() string { return g.name }

// Type returns the global's value type.
func (g *Global) Type() wasmexec.ValueType {
	return wasmexec.ValueType(g.global.Type())
}

// Mutable reports whether Set is allowed.
func (g *Global) Mutable() bool {
	_, ok := g.global.(api.MutableGlobal)
	return ok
}

// Get returns the current value.
func (g *Global) Get() wasmexec.Value {
	return wasmexec.FromRaw(g.Type(), g.global.Get())
}

// Set stores v. The type must match exactly and the global must be mutable.
func (g *Global) Set(v wasmexec.Value) error {
	mg, ok := g.global.(api.MutableGlobal)
	if !ok {
		return errors.New(errors.PhaseInvoke, errors.KindInvalidInput).
			Path(g.name).
			Detail("global %q is immutable", g.name).
			Build()
	}
	if v.Type() != g.Type() {
		return errors.ArgumentMismatch(g.name, "global is %s, got %s", g.Type(), v.Type())
	}
	mg.Set(v.Raw())
	return nil
}
