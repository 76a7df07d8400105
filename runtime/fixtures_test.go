package runtime

import (
	"context"
	"testing"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-executor/internal/wasmbin"
)

var (
	i32 = api.ValueTypeI32
	i64 = api.ValueTypeI64
	f64 = api.ValueTypeF64
)

func types(ts ...api.ValueType) []api.ValueType { return ts }

// divWASM exports div(i32, i32) -> i32 using signed division.
func divWASM() []byte {
	b := wasmbin.New()
	div := b.Func(types(i32, i32), types(i32), nil,
		wasmbin.Code{}.LocalGet(0).LocalGet(1).Op(wasmbin.OpI32DivS))
	b.ExportFunc("div", div)
	return b.Build()
}

// stateWASM declares, in order: memory "memory", func "store(addr, v)",
// global "counter" (mutable i32), func "incr() -> i32", global "version"
// (immutable i64), func "load(addr) -> i32", table "table" and
// func "scale(f64, i64) -> f64".
func stateWASM() []byte {
	b := wasmbin.New()
	mem := b.Memory(wasmbin.Limits{Min: 1})
	counter := b.Global(i32, true, 0)
	version := b.Global(i64, false, 3)
	table := b.Table(wasmbin.Limits{Min: 1})

	store := b.Func(types(i32, i32), nil, nil,
		wasmbin.Code{}.LocalGet(0).LocalGet(1).Mem(wasmbin.OpI32Store, 2, 0))
	incr := b.Func(nil, types(i32), nil,
		wasmbin.Code{}.GlobalGet(counter).I32Const(1).Op(wasmbin.OpI32Add).GlobalSet(counter).GlobalGet(counter))
	load := b.Func(types(i32), types(i32), nil,
		wasmbin.Code{}.LocalGet(0).Mem(wasmbin.OpI32Load, 2, 0))
	scale := b.Func(types(f64, i64), types(f64), nil,
		wasmbin.Code{}.LocalGet(0).F64Const(2).Op(wasmbin.OpF64Mul))

	b.Export("memory", wasmbin.ExternMemory, mem)
	b.ExportFunc("store", store)
	b.Export("counter", wasmbin.ExternGlobal, counter)
	b.ExportFunc("incr", incr)
	b.Export("version", wasmbin.ExternGlobal, version)
	b.ExportFunc("load", load)
	b.Export("table", wasmbin.ExternTable, table)
	b.ExportFunc("scale", scale)
	return b.Build()
}

// addImportWASM imports env.add and exports twice(x) = add(x, x).
func addImportWASM() []byte {
	b := wasmbin.New()
	add := b.ImportFunc("env", "add", types(i32, i32), types(i32))
	twice := b.Func(types(i32), types(i32), nil,
		wasmbin.Code{}.LocalGet(0).LocalGet(0).Call(add))
	b.ExportFunc("twice", twice)
	return b.Build()
}

// startTrapWASM has a start function that hits unreachable.
func startTrapWASM() []byte {
	b := wasmbin.New()
	start := b.Func(nil, nil, nil, wasmbin.Code{}.Op(wasmbin.OpUnreachable))
	b.Start(start)
	return b.Build()
}

// loopWASM exports spin() which never returns.
func loopWASM() []byte {
	b := wasmbin.New()
	spin := b.Func(nil, nil, nil, wasmbin.Code{}.Op(
		wasmbin.OpLoop, wasmbin.BlockEmpty,
		wasmbin.OpBr, 0x00,
		wasmbin.OpEnd))
	b.ExportFunc("spin", spin)
	return b.Build()
}

func newTestRuntime(t *testing.T, opts ...Option) *Runtime {
	t.Helper()
	ctx := context.Background()
	rt, err := New(ctx, opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { rt.Close(ctx) })
	return rt
}

func load(t *testing.T, rt *Runtime, name string, bin []byte) *Module {
	t.Helper()
	ctx := context.Background()
	mod, err := rt.LoadBytes(ctx, name, bin)
	if err != nil {
		t.Fatalf("LoadBytes(%s) failed: %v", name, err)
	}
	t.Cleanup(func() { mod.Close(ctx) })
	return mod
}

func instantiate(t *testing.T, mod *Module, opts ...InstantiateOption) *Instance {
	t.Helper()
	ctx := context.Background()
	inst, err := mod.Instantiate(ctx, opts...)
	if err != nil {
		t.Fatalf("Instantiate failed: %v", err)
	}
	t.Cleanup(func() { inst.Close(ctx) })
	return inst
}

func resolve(t *testing.T, inst *Instance, name string) *Func {
	t.Helper()
	fn, err := inst.Func(name)
	if err != nil {
		t.Fatalf("Func(%s) failed: %v", name, err)
	}
	return fn
}
