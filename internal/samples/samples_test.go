package samples_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	wasmexec "github.com/wippyai/wasm-executor"
	"github.com/wippyai/wasm-executor/internal/samples"
	"github.com/wippyai/wasm-executor/runtime"
)

func TestAll_Compile(t *testing.T) {
	ctx := context.Background()
	rt, err := runtime.New(ctx, runtime.WithCacheSize(0))
	require.NoError(t, err)
	defer rt.Close(ctx)

	want := map[string][]string{
		"basics.wasm":    {"add_one", "div", "sum_floats", "forty_two"},
		"increment.wasm": {"start"},
		"triple.wasm":    {"memory", "start"},
		"crash.wasm":     {"start"},
	}
	for name, bin := range samples.All() {
		mod, err := rt.LoadBytes(ctx, name, bin)
		require.NoError(t, err, name)
		assert.Equal(t, want[name], mod.ExportNames(), name)
		require.NoError(t, mod.Close(ctx))
	}
}

func TestBasics(t *testing.T) {
	ctx := context.Background()
	rt, err := runtime.New(ctx)
	require.NoError(t, err)
	defer rt.Close(ctx)

	mod, err := rt.LoadBytes(ctx, "basics", samples.Basics())
	require.NoError(t, err)
	defer mod.Close(ctx)
	inst, err := mod.Instantiate(ctx)
	require.NoError(t, err)
	defer inst.Close(ctx)

	tests := []struct {
		fn   string
		args []wasmexec.Value
		want wasmexec.Value
	}{
		{"add_one", []wasmexec.Value{wasmexec.I32(41)}, wasmexec.I32(42)},
		{"div", []wasmexec.Value{wasmexec.I32(-9), wasmexec.I32(2)}, wasmexec.I32(-4)},
		{"sum_floats", []wasmexec.Value{wasmexec.F32(1.25), wasmexec.F32(2)}, wasmexec.F32(3.25)},
		{"forty_two", nil, wasmexec.I32(42)},
	}
	for _, tt := range tests {
		fn, err := inst.Func(tt.fn)
		require.NoError(t, err, tt.fn)
		res, err := fn.Call(ctx, tt.args...)
		require.NoError(t, err, tt.fn)
		require.Len(t, res, 1)
		assert.Equal(t, tt.want, res[0], tt.fn)
	}
}
