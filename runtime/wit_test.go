package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bytecodealliance.org/wit"

	wasmexec "github.com/wippyai/wasm-executor"
	"github.com/wippyai/wasm-executor/errors"
)

func TestParseHints(t *testing.T) {
	h, err := ParseHints(`
		package test:div;
		world div {
			export div: func(a: s32, b: s32) -> s32;
			export flags: func(x: u32, on: bool) -> (a: u64, b: char);
			export tick: func();
		}
	`)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"div", "flags", "tick"}, h.Names())

	params, results, ok := h.Lookup("flags")
	require.True(t, ok)
	assert.Equal(t, []wit.Type{wit.U32{}, wit.Bool{}}, params)
	assert.Equal(t, []wit.Type{wit.U64{}, wit.Char{}}, results)

	params, results, ok = h.Lookup("tick")
	require.True(t, ok)
	assert.Empty(t, params)
	assert.Empty(t, results)

	_, _, ok = h.Lookup("missing")
	assert.False(t, ok)
}

func TestParseHints_Errors(t *testing.T) {
	_, err := ParseHints("no functions here")
	assert.True(t, errors.Is(err, &errors.Error{Phase: errors.PhaseParse}))

	_, err = ParseHints("greet: func(name: string) -> string")
	assert.Error(t, err, "strings have no scalar core type")
}

func TestHints_Check(t *testing.T) {
	h, err := ParseHints("div: func(a: s32, b: s32) -> s32\nwide: func(a: u64) -> f64")
	require.NoError(t, err)

	i32s := wasmexec.Signature{
		Params:  []wasmexec.ValueType{wasmexec.ValueTypeI32, wasmexec.ValueTypeI32},
		Results: []wasmexec.ValueType{wasmexec.ValueTypeI32},
	}
	assert.NoError(t, h.Check("div", i32s))
	assert.NoError(t, h.Check("unhinted", i32s))

	err = h.Check("wide", i32s)
	assert.True(t, errors.Is(err, &errors.Error{Phase: errors.PhaseParse, Kind: errors.KindTypeMismatch}), "got %v", err)

	var nilHints *Hints
	assert.NoError(t, nilHints.Check("div", i32s))
}

func TestParseArg(t *testing.T) {
	tests := []struct {
		typ     wit.Type
		lit     string
		want    wasmexec.Value
		wantErr bool
	}{
		{wit.S32{}, "-7", wasmexec.I32(-7), false},
		{wit.U32{}, "4294967295", wasmexec.U32(4294967295), false},
		{wit.U32{}, "-1", wasmexec.Value{}, true},
		{wit.S8{}, "128", wasmexec.Value{}, true},
		{wit.U8{}, "255", wasmexec.U32(255), false},
		{wit.S16{}, "-32768", wasmexec.I32(-32768), false},
		{wit.Bool{}, "true", wasmexec.I32(1), false},
		{wit.Bool{}, "yes", wasmexec.Value{}, true},
		{wit.Char{}, "λ", wasmexec.U32('λ'), false},
		{wit.S64{}, "-9000000000", wasmexec.I64(-9000000000), false},
		{wit.U64{}, "0xffffffffffffffff", wasmexec.U64(0xffffffffffffffff), false},
		{wit.F64{}, "2.5", wasmexec.F64(2.5), false},
		{wit.F32{}, "0.5", wasmexec.F32(0.5), false},
	}
	for _, tt := range tests {
		got, err := ParseArg(tt.typ, tt.lit)
		if tt.wantErr {
			assert.Error(t, err, "%T %q", tt.typ, tt.lit)
			continue
		}
		if assert.NoError(t, err, "%T %q", tt.typ, tt.lit) {
			assert.Equal(t, tt.want, got, "%T %q", tt.typ, tt.lit)
		}
	}
}

func TestFormatValue(t *testing.T) {
	v := wasmexec.U32(0xffffffff)
	assert.Equal(t, "-1", FormatValue(wit.S32{}, v))
	assert.Equal(t, "4294967295", FormatValue(wit.U32{}, v))
	assert.Equal(t, "255", FormatValue(wit.U8{}, v))
	assert.Equal(t, "true", FormatValue(wit.Bool{}, wasmexec.I32(1)))
	assert.Equal(t, "'A'", FormatValue(wit.Char{}, wasmexec.U32('A')))
	assert.Equal(t, "18446744073709551615", FormatValue(wit.U64{}, wasmexec.I64(-1)))
	assert.Equal(t, "2.5", FormatValue(wit.F64{}, wasmexec.F64(2.5)))
}

func TestFunc_ParseArgs(t *testing.T) {
	rt := newTestRuntime(t)
	inst := instantiate(t, load(t, rt, "div", divWASM()))
	div := resolve(t, inst, "div")

	args, err := div.ParseArgs(nil, "10", "0x2")
	require.NoError(t, err)
	assert.Equal(t, []wasmexec.Value{wasmexec.I32(10), wasmexec.I32(2)}, args)

	args, err = div.ParseArgs(nil, "i32:-4", "2")
	require.NoError(t, err)
	assert.Equal(t, wasmexec.I32(-4), args[0])

	_, err = div.ParseArgs(nil, "10")
	assert.True(t, errors.Is(err, errors.ErrArgumentMismatch))

	_, err = div.ParseArgs(nil, "ten", "2")
	assert.True(t, errors.Is(err, &errors.Error{Phase: errors.PhaseParse, Kind: errors.KindInvalidInput}))

	unsigned, err := ParseHints("div: func(a: u32, b: u32) -> u32")
	require.NoError(t, err)
	_, err = div.ParseArgs(unsigned, "-1", "2")
	require.Error(t, err, "u32 hint rejects negative literals")
	assert.Contains(t, err.Error(), "argument 0 (a)")

	_, err = div.ParseArgs(unsigned, "1", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "argument 1 (b)")

	_, err = div.ParseArgs(nil, "1", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "argument 1")
	assert.NotContains(t, err.Error(), "(b)")

	args, err = div.ParseArgs(unsigned, "4294967295", "1")
	require.NoError(t, err)
	assert.Equal(t, wasmexec.U32(4294967295), args[0])

	bad, err := ParseHints("div: func(a: s64, b: s64) -> s64")
	require.NoError(t, err)
	_, err = div.ParseArgs(bad, "1", "2")
	assert.True(t, errors.Is(err, &errors.Error{Kind: errors.KindTypeMismatch}))
}

func TestFunc_FormatResults(t *testing.T) {
	rt := newTestRuntime(t)
	inst := instantiate(t, load(t, rt, "div", divWASM()))
	div := resolve(t, inst, "div")

	res := []wasmexec.Value{wasmexec.I32(-1)}
	assert.Equal(t, []string{"i32:-1"}, div.FormatResults(nil, res))

	h, err := ParseHints("div: func(a: u32, b: u32) -> u32")
	require.NoError(t, err)
	assert.Equal(t, []string{"4294967295"}, div.FormatResults(h, res))
}
