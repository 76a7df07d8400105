package engine

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/wippyai/wasm-executor/errors"
	"github.com/wippyai/wasm-executor/internal/wasmbin"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeAuto, false},
		{"auto", ModeAuto, false},
		{"compiler", ModeCompiler, false},
		{"Interpreter", ModeInterpreter, false},
		{"jit", "", true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseMode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewWazeroEngineWithConfig(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		cfg  *Config
		name string
	}{
		{nil, "nil config"},
		{&Config{}, "default config"},
		{&Config{Mode: ModeInterpreter}, "interpreter"},
		{&Config{MemoryLimitPages: 256}, "16MB limit"},
		{&Config{WASI: true}, "wasi"},
		{&Config{CompilationCacheDir: t.TempDir()}, "cache dir"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			engine, err := NewWazeroEngineWithConfig(ctx, tc.cfg)
			if err != nil {
				t.Fatalf("NewWazeroEngineWithConfig failed: %v", err)
			}
			defer engine.Close(ctx)

			if engine.runtime == nil {
				t.Error("engine runtime should not be nil")
			}
			if tc.cfg != nil && tc.cfg.WASI && !engine.WASIEnabled() {
				t.Error("WASI should be enabled")
			}
		})
	}

	if _, err := NewWazeroEngineWithConfig(ctx, &Config{Mode: "jit"}); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestWazeroEngine_Close(t *testing.T) {
	ctx := context.Background()

	engine, err := NewWazeroEngine(ctx)
	if err != nil {
		t.Fatalf("NewWazeroEngine failed: %v", err)
	}
	if err := engine.Close(ctx); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if err := engine.Close(ctx); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
	if _, err := engine.Compile(ctx, "div", divWASM()); err == nil {
		t.Error("Compile after Close should fail")
	}
}

func TestCompile_Errors(t *testing.T) {
	e := newTestEngine(t, nil)

	// function declared to return i32 with an empty body
	invalid := wasmbin.New()
	invalid.Func(nil, types(i32), nil, nil)

	tests := []struct {
		name string
		bin  []byte
		kind errors.Kind
	}{
		{"garbage", []byte("definitely not wasm"), errors.KindMalformed},
		{"empty", nil, errors.KindMalformed},
		{"truncated", divWASM()[:12], errors.KindMalformed},
		{"invalid body", invalid.Build(), errors.KindValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mod, err := e.Compile(context.Background(), tt.name, tt.bin)
			if err == nil {
				t.Fatal("expected error")
			}
			if mod != nil {
				t.Error("module should be nil on error")
			}
			if !stderrors.Is(err, errors.ErrLoad) {
				t.Errorf("expected load error, got %v", err)
			}
			var e *errors.Error
			if !stderrors.As(err, &e) || e.Kind != tt.kind {
				t.Errorf("kind = %v, want %v", e, tt.kind)
			}
		})
	}
}

func TestCompile_MemoryOverLimit(t *testing.T) {
	e := newTestEngine(t, &Config{MemoryLimitPages: 1})

	b := wasmbin.New()
	b.Memory(wasmbin.Limits{Min: 2})

	_, err := e.Compile(context.Background(), "big", b.Build())
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseLoad, Kind: errors.KindLimit}) {
		t.Errorf("expected limit error, got %v", err)
	}
}

func TestCompile_Tables(t *testing.T) {
	e := newTestEngine(t, nil)

	b := wasmbin.New()
	b.ImportFunc("env", "log", types(i32), nil)
	b.ImportMemory("env", "memory", wasmbin.Limits{Min: 1, Max: wasmbin.Max(4)})
	second := b.Func(nil, nil, nil, nil)
	first := b.Func(types(i64), types(i64), nil, wasmbin.Code{}.LocalGet(0))
	g := b.Global(i32, false, 3)
	tbl := b.Table(wasmbin.Limits{Min: 1})
	b.ExportFunc("second", second)
	b.Export("g", wasmbin.ExternGlobal, g)
	b.ExportFunc("first", first)
	b.Export("tbl", wasmbin.ExternTable, tbl)

	mod := compile(t, e, "tables", b.Build())

	names := mod.ExportNames()
	want := []string{"second", "g", "first", "tbl"}
	if len(names) != len(want) {
		t.Fatalf("ExportNames = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("ExportNames[%d] = %q, want %q", i, names[i], want[i])
		}
	}

	first2, ok := mod.Export("first")
	if !ok || first2.Kind != KindFunc || len(first2.Params) != 1 || first2.Params[0] != i64 {
		t.Errorf("Export(first) = %+v", first2)
	}
	if ex, _ := mod.Export("tbl"); ex.Kind != KindTable {
		t.Errorf("tbl kind = %v", ex.Kind)
	}
	if _, ok := mod.Export("missing"); ok {
		t.Error("missing export should not be found")
	}

	imports := mod.Imports()
	if len(imports) != 2 {
		t.Fatalf("Imports = %+v", imports)
	}
	if imports[0].Kind != KindFunc || imports[0].Name != "log" || len(imports[0].Params) != 1 {
		t.Errorf("imports[0] = %+v", imports[0])
	}
	mem := imports[1]
	if mem.Kind != KindMemory || mem.MinPages != 1 || mem.MaxPages == nil || *mem.MaxPages != 4 {
		t.Errorf("imports[1] = %+v", mem)
	}
}

func TestInstance_Div(t *testing.T) {
	e := newTestEngine(t, nil)
	mod := compile(t, e, "div", divWASM())
	inst := instantiate(t, mod, nil)
	ctx := context.Background()

	div := inst.ExportedFunction("div")
	if div == nil {
		t.Fatal("div not exported")
	}

	res, err := inst.Call(ctx, "div", div, 10, 2)
	if err != nil {
		t.Fatalf("div(10, 2) failed: %v", err)
	}
	if int32(res[0]) != 5 {
		t.Errorf("div(10, 2) = %d, want 5", int32(res[0]))
	}

	_, err = inst.Call(ctx, "div", div, 10, 0)
	var trap *errors.TrapError
	if !stderrors.As(err, &trap) {
		t.Fatalf("expected trap, got %v", err)
	}
	if trap.Reason != errors.TrapIntegerDivideByZero {
		t.Errorf("Reason = %v, want integer_divide_by_zero", trap.Reason)
	}
	if trap.Phase != errors.PhaseInvoke || trap.Func != "div" {
		t.Errorf("trap = %+v", trap)
	}

	// a trap does not poison the instance
	res, err = inst.Call(ctx, "div", div, 9, 3)
	if err != nil || int32(res[0]) != 3 {
		t.Errorf("div(9, 3) after trap = %v, %v", res, err)
	}

	// INT_MIN / -1
	_, err = inst.Call(ctx, "div", div, uint64(uint32(0x80000000)), uint64(uint32(0xffffffff)))
	if !stderrors.As(err, &trap) || trap.Reason != errors.TrapIntegerOverflow {
		t.Errorf("expected integer_overflow, got %v", err)
	}
}

func TestInstance_MemoryIsolation(t *testing.T) {
	e := newTestEngine(t, nil)
	mod := compile(t, e, "memory", memoryWASM())
	ctx := context.Background()

	a := instantiate(t, mod, nil)
	b := instantiate(t, mod, nil)

	if _, err := a.Call(ctx, "store", a.ExportedFunction("store"), 64, 0xabcd); err != nil {
		t.Fatalf("store failed: %v", err)
	}

	res, err := b.Call(ctx, "load", b.ExportedFunction("load"), 64)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if res[0] != 0 {
		t.Errorf("instance b sees %#x written by instance a", res[0])
	}

	v, err := a.ExportedMemory("memory").ReadU32(64)
	if err != nil || v != 0xabcd {
		t.Errorf("a memory = %#x, %v", v, err)
	}

	_, err = a.Call(ctx, "load", a.ExportedFunction("load"), 70000)
	var trap *errors.TrapError
	if !stderrors.As(err, &trap) || trap.Reason != errors.TrapOutOfBoundsMemoryAccess {
		t.Errorf("expected out_of_bounds_memory_access, got %v", err)
	}
}

func TestInstance_StartTrap(t *testing.T) {
	e := newTestEngine(t, nil)
	mod := compile(t, e, "start", startTrapWASM())

	inst, err := mod.Instantiate(context.Background(), nil)
	if inst != nil {
		t.Error("instance should be nil")
	}
	if !stderrors.Is(err, errors.ErrInstantiation) {
		t.Fatalf("expected instantiation error, got %v", err)
	}
	var trap *errors.TrapError
	if !stderrors.As(err, &trap) || trap.Reason != errors.TrapUnreachable {
		t.Errorf("expected unreachable trap, got %v", err)
	}
	if mod.Refs() != 1 {
		t.Errorf("failed instantiation leaked a reference: refs = %d", mod.Refs())
	}
}

func TestInstance_CallTimeout(t *testing.T) {
	e := newTestEngine(t, nil)
	mod := compile(t, e, "loop", loopWASM())
	inst := instantiate(t, mod, &InstanceConfig{CallTimeout: 50 * time.Millisecond})

	_, err := inst.Call(context.Background(), "spin", inst.ExportedFunction("spin"))
	var trap *errors.TrapError
	if !stderrors.As(err, &trap) || trap.Reason != errors.TrapDeadlineExceeded {
		t.Fatalf("expected deadline_exceeded, got %v", err)
	}
	if !inst.Closed() {
		t.Error("deadline should close the instance")
	}
}

func TestInstance_Canceled(t *testing.T) {
	e := newTestEngine(t, nil)
	mod := compile(t, e, "loop", loopWASM())
	inst := instantiate(t, mod, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := inst.Call(ctx, "spin", inst.ExportedFunction("spin"))
	var trap *errors.TrapError
	if !stderrors.As(err, &trap) || trap.Reason != errors.TrapCanceled {
		t.Fatalf("expected canceled, got %v", err)
	}
}

func TestModule_RefCount(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()
	mod := compile(t, e, "div", divWASM())

	inst, err := mod.Instantiate(ctx, nil)
	if err != nil {
		t.Fatalf("Instantiate failed: %v", err)
	}
	if mod.Refs() != 2 {
		t.Errorf("refs = %d, want 2", mod.Refs())
	}

	// the creator lets go; the instance keeps the module alive
	if err := mod.Release(ctx); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	res, err := inst.Call(ctx, "div", inst.ExportedFunction("div"), 8, 4)
	if err != nil || res[0] != 2 {
		t.Errorf("div after module release = %v, %v", res, err)
	}

	if err := inst.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if mod.Refs() != 0 {
		t.Errorf("refs = %d, want 0", mod.Refs())
	}
	if mod.Acquire() {
		t.Error("Acquire should fail on a released module")
	}
	if _, err := mod.Instantiate(ctx, nil); err == nil {
		t.Error("Instantiate on a released module should fail")
	}
	if _, err := inst.Call(ctx, "div", nil); err == nil {
		t.Error("Call on a closed instance should fail")
	}
}
