package engine

import (
	"context"
	"testing"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-executor/internal/wasmbin"
)

var (
	i32 = api.ValueTypeI32
	i64 = api.ValueTypeI64
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

// memoryWASM exports a one page memory with store(addr, v) and load(addr).
func memoryWASM() []byte {
	b := wasmbin.New()
	mem := b.Memory(wasmbin.Limits{Min: 1})
	store := b.Func(types(i32, i32), nil, nil,
		wasmbin.Code{}.LocalGet(0).LocalGet(1).Mem(wasmbin.OpI32Store, 2, 0))
	load := b.Func(types(i32), types(i32), nil,
		wasmbin.Code{}.LocalGet(0).Mem(wasmbin.OpI32Load, 2, 0))
	b.ExportFunc("store", store).ExportFunc("load", load)
	b.Export("memory", wasmbin.ExternMemory, mem)
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

func newTestEngine(t *testing.T, cfg *Config) *WazeroEngine {
	t.Helper()
	ctx := context.Background()
	e, err := NewWazeroEngineWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("NewWazeroEngineWithConfig failed: %v", err)
	}
	t.Cleanup(func() { e.Close(ctx) })
	return e
}

func compile(t *testing.T, e *WazeroEngine, name string, bin []byte) *WazeroModule {
	t.Helper()
	mod, err := e.Compile(context.Background(), name, bin)
	if err != nil {
		t.Fatalf("Compile(%s) failed: %v", name, err)
	}
	return mod
}

func instantiate(t *testing.T, mod *WazeroModule, cfg *InstanceConfig) *WazeroInstance {
	t.Helper()
	ctx := context.Background()
	inst, err := mod.Instantiate(ctx, cfg)
	if err != nil {
		t.Fatalf("Instantiate failed: %v", err)
	}
	t.Cleanup(func() { inst.Close(ctx) })
	return inst
}
