// Package samples builds the example guest modules shipped with the CLI and
// used by tests: plain exports, scalar shared state and vector shared state.
package samples

import (
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-executor/internal/wasmbin"
)

var (
	i32 = api.ValueTypeI32
	f32 = api.ValueTypeF32
)

func types(ts ...api.ValueType) []api.ValueType { return ts }

// VecBase is where Triple keeps its working buffer.
const VecBase = 1024

// VecMax is the buffer size Triple offers to get_vec.
const VecMax = 100

// Basics exports add_one(i32) -> i32, div(i32, i32) -> i32,
// sum_floats(f32, f32) -> f32 and forty_two() -> i32.
func Basics() []byte {
	b := wasmbin.New()
	addOne := b.Func(types(i32), types(i32), nil,
		wasmbin.Code{}.LocalGet(0).I32Const(1).Op(wasmbin.OpI32Add))
	div := b.Func(types(i32, i32), types(i32), nil,
		wasmbin.Code{}.LocalGet(0).LocalGet(1).Op(wasmbin.OpI32DivS))
	sum := b.Func(types(f32, f32), types(f32), nil,
		wasmbin.Code{}.LocalGet(0).LocalGet(1).Op(wasmbin.OpF32Add))
	fortyTwo := b.Func(nil, types(i32), nil, wasmbin.Code{}.I32Const(42))
	b.ExportFunc("add_one", addOne).
		ExportFunc("div", div).
		ExportFunc("sum_floats", sum).
		ExportFunc("forty_two", fortyTwo)
	return b.Build()
}

// Increment imports env.get and env.set and exports start(), which stores
// get() + 1.
func Increment() []byte {
	b := wasmbin.New()
	get := b.ImportFunc("env", "get", nil, types(i32))
	set := b.ImportFunc("env", "set", types(i32), nil)
	start := b.Func(nil, nil, nil,
		wasmbin.Code{}.Call(get).I32Const(1).Op(wasmbin.OpI32Add).Call(set))
	b.ExportFunc("start", start)
	return b.Build()
}

// Triple imports env.get_vec and env.set_vec, exports its memory and
// start(), which multiplies every byte of the shared vector by 3.
func Triple() []byte {
	b := wasmbin.New()
	getVec := b.ImportFunc("env", "get_vec", types(i32, i32), types(i32))
	setVec := b.ImportFunc("env", "set_vec", types(i32, i32), nil)
	mem := b.Memory(wasmbin.Limits{Min: 1})

	// locals: 0 = n, 1 = i, 2 = addr
	body := wasmbin.Code{}.
		I32Const(VecBase).I32Const(VecMax).Call(getVec).LocalSet(0).
		Op(wasmbin.OpBlock, wasmbin.BlockEmpty).
		Op(wasmbin.OpLoop, wasmbin.BlockEmpty).
		LocalGet(1).LocalGet(0).Op(wasmbin.OpI32Eq).Op(wasmbin.OpBrIf, 1).
		LocalGet(1).I32Const(VecBase).Op(wasmbin.OpI32Add).LocalSet(2).
		LocalGet(2).
		LocalGet(2).Mem(wasmbin.OpI32Load8U, 0, 0).
		I32Const(3).Op(wasmbin.OpI32Mul).
		Mem(wasmbin.OpI32Store8, 0, 0).
		LocalGet(1).I32Const(1).Op(wasmbin.OpI32Add).LocalSet(1).
		Op(wasmbin.OpBr, 0).
		Op(wasmbin.OpEnd).
		Op(wasmbin.OpEnd).
		I32Const(VecBase).LocalGet(0).Call(setVec)

	start := b.Func(nil, nil, types(i32, i32, i32), body)
	b.Export("memory", wasmbin.ExternMemory, mem)
	b.ExportFunc("start", start)
	return b.Build()
}

// Crash imports env.set and exports start(), which sets 0 and then traps.
func Crash() []byte {
	b := wasmbin.New()
	set := b.ImportFunc("env", "set", types(i32), nil)
	start := b.Func(nil, nil, nil,
		wasmbin.Code{}.I32Const(0).Call(set).Op(wasmbin.OpUnreachable))
	b.ExportFunc("start", start)
	return b.Build()
}

// All returns every sample by file name.
func All() map[string][]byte {
	return map[string][]byte{
		"basics.wasm":    Basics(),
		"increment.wasm": Increment(),
		"triple.wasm":    Triple(),
		"crash.wasm":     Crash(),
	}
}
