package runtime

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	wasmexec "github.com/wippyai/wasm-executor"
	"github.com/wippyai/wasm-executor/engine"
	"github.com/wippyai/wasm-executor/errors"
	"github.com/wippyai/wasm-executor/telemetry"
)

// ExternKind is the kind of an export or import.
type ExternKind = engine.ExternKind

const (
	KindFunc   = engine.KindFunc
	KindTable  = engine.KindTable
	KindMemory = engine.KindMemory
	KindGlobal = engine.KindGlobal
)

// Export describes one module export. Signature is set for functions.
type Export struct {
	Name      string
	Kind      ExternKind
	Signature wasmexec.Signature
}

// Import describes one module import. Signature is set for functions.
type Import struct {
	Module    string
	Name      string
	Kind      ExternKind
	Signature wasmexec.Signature
}

// Module is a compiled module handle. It is immutable and safe for
// concurrent use; Instantiate may be called from several goroutines.
type Module struct {
	runtime *Runtime
	module  *engine.WazeroModule
	name    string
	exports []Export
	byName  map[string]int
	closed  atomic.Bool
}

func newModule(r *Runtime, name string, m *engine.WazeroModule) *Module {
	infos := m.Exports()
	mod := &Module{
		runtime: r,
		module:  m,
		name:    name,
		exports: make([]Export, len(infos)),
		byName:  make(map[string]int, len(infos)),
	}
	for i, ex := range infos {
		mod.exports[i] = Export{
			Name:      ex.Name,
			Kind:      ex.Kind,
			Signature: signatureOf(ex.Params, ex.Results),
		}
		mod.byName[ex.Name] = i
	}
	return mod
}

func signatureOf(params, results []api.ValueType) wasmexec.Signature {
	sig := wasmexec.Signature{
		Params:  make([]wasmexec.ValueType, len(params)),
		Results: make([]wasmexec.ValueType, len(results)),
	}
	for i, p := range params {
		sig.Params[i] = wasmexec.ValueType(p)
	}
	for i, r := range results {
		sig.Results[i] = wasmexec.ValueType(r)
	}
	return sig
}

// Name returns the name the module was loaded under.
func (m *Module) Name() string { return m.name }

// Hash returns the hex SHA-256 of the module bytes.
func (m *Module) Hash() string { return m.module.Hash() }

// Exports returns the export table in declaration order.
func (m *Module) Exports() []Export {
	out := make([]Export, len(m.exports))
	copy(out, m.exports)
	return out
}

// ExportNames returns the declared export names in declaration order.
func (m *Module) ExportNames() []string {
	names := make([]string, len(m.exports))
	for i, ex := range m.exports {
		names[i] = ex.Name
	}
	return names
}

// Export looks up an export descriptor without instantiating.
func (m *Module) Export(name string) (Export, error) {
	i, ok := m.byName[name]
	if !ok {
		return Export{}, errors.ExportNotFound(name)
	}
	return m.exports[i], nil
}

// Imports returns the import table in declaration order.
func (m *Module) Imports() []Import {
	infos := m.module.Imports()
	out := make([]Import, len(infos))
	for i, imp := range infos {
		out[i] = Import{
			Module:    imp.Module,
			Name:      imp.Name,
			Kind:      imp.Kind,
			Signature: signatureOf(imp.Params, imp.Results),
		}
	}
	return out
}

// Instantiate creates an instance with its own memory, globals and tables.
// The module's start function runs before Instantiate returns; a trap there
// is reported as an instantiation error wrapping the trap.
func (m *Module) Instantiate(ctx context.Context, opts ...InstantiateOption) (*Instance, error) {
	r := m.runtime
	o := instanceOptions{timeout: r.callTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	start := time.Now()
	ctx, span := r.tracer.StartStage(ctx, telemetry.StageInstantiate,
		telemetry.AttrModule.String(m.name),
		telemetry.AttrHash.String(m.module.Hash()))

	inst, err := m.instantiate(ctx, &o)

	r.metrics.RecordStage(telemetry.StageInstantiate, start, err)
	if err != nil {
		var trap *errors.TrapError
		if errors.As(err, &trap) {
			r.metrics.RecordTrap(string(trap.Reason))
			span.SetAttributes(telemetry.AttrReason.String(string(trap.Reason)))
		}
		telemetry.End(span, err)
		r.logger.Debug("instantiate failed", zap.String("module", m.name), zap.Error(err))
		return nil, err
	}
	telemetry.End(span, nil)
	r.metrics.InstanceOpened()
	return inst, nil
}

func (m *Module) instantiate(ctx context.Context, o *instanceOptions) (*Instance, error) {
	if m.closed.Load() {
		return nil, errors.Closed(errors.PhaseInstantiate, "module "+m.name)
	}

	imports := m.runtime.hosts.Imports()
	if o.hosts != nil {
		imports = imports.Overlay(o.hosts.Imports())
	}

	wi, err := m.module.Instantiate(ctx, &engine.InstanceConfig{
		Imports:        imports,
		Stdin:          o.stdin,
		Stdout:         o.stdout,
		Stderr:         o.stderr,
		Env:            o.env,
		Name:           o.name,
		Args:           o.args,
		StartFunctions: o.startFunctions,
		CallTimeout:    o.timeout,
	})
	if err != nil {
		return nil, err
	}
	return newInstance(m, wi), nil
}

// Close drops the handle's reference. Live instances keep the compiled code
// alive until they are closed.
func (m *Module) Close(ctx context.Context) error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	return m.module.Release(ctx)
}
