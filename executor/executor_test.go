package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasm-executor/errors"
	"github.com/wippyai/wasm-executor/hostenv"
	"github.com/wippyai/wasm-executor/internal/samples"
	"github.com/wippyai/wasm-executor/runtime"
)

func newExecutor(t *testing.T, initial hostenv.State) *Executor {
	t.Helper()
	ctx := context.Background()

	dir := t.TempDir()
	for name, bin := range samples.All() {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), bin, 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("not a code"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.wasm"), 0o755))

	rt, err := runtime.New(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { rt.Close(ctx) })

	return New(rt, Config{Dir: dir, Initial: initial})
}

func TestList(t *testing.T) {
	e := newExecutor(t, hostenv.State{})
	names, err := e.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"basics.wasm", "crash.wasm", "increment.wasm", "triple.wasm"}, names)
}

func TestList_MissingDir(t *testing.T) {
	ctx := context.Background()
	rt, err := runtime.New(ctx)
	require.NoError(t, err)
	defer rt.Close(ctx)

	e := New(rt, Config{Dir: filepath.Join(t.TempDir(), "nope")})
	_, err = e.List()
	assert.True(t, errors.Is(err, &errors.Error{Phase: errors.PhaseExecute, Kind: errors.KindNotFound}), "got %v", err)
}

func TestDefaults(t *testing.T) {
	ctx := context.Background()
	rt, err := runtime.New(ctx)
	require.NoError(t, err)
	defer rt.Close(ctx)

	e := New(rt, Config{})
	assert.Equal(t, DefaultDir, e.Dir())
	assert.Equal(t, filepath.Join(DefaultDir, "triple.wasm"), e.Path("triple"))
	assert.Equal(t, filepath.Join(DefaultDir, "triple.wasm"), e.Path("triple.wasm"))
}

func TestExecute_UpdatesState(t *testing.T) {
	e := newExecutor(t, hostenv.State{Val: 1, Vec: []byte{1, 2, 3}})
	ctx := context.Background()

	s, err := e.Execute(ctx, "increment")
	require.NoError(t, err)
	assert.Equal(t, uint32(2), s.Val)

	s, err = e.Execute(ctx, "triple.wasm")
	require.NoError(t, err)
	assert.Equal(t, []byte{3, 6, 9}, s.Vec)
	assert.Equal(t, uint32(2), s.Val)

	assert.Equal(t, hostenv.State{Val: 2, Vec: []byte{3, 6, 9}}, e.State())
	assert.Equal(t, "triple.wasm", e.Previous())
}

func TestExecute_FailureKeepsState(t *testing.T) {
	e := newExecutor(t, hostenv.State{Val: 7, Vec: []byte{1}})
	ctx := context.Background()

	_, err := e.Execute(ctx, "increment")
	require.NoError(t, err)

	tests := []struct {
		name  string
		code  string
		match error
	}{
		{"trap after set", "crash", errors.ErrTrap},
		{"missing code", "ghost", &errors.Error{Phase: errors.PhaseLoad, Kind: errors.KindNotFound}},
		{"no entry", "basics", errors.ErrExportNotFound},
		{"path escape", "../increment", &errors.Error{Phase: errors.PhaseExecute, Kind: errors.KindInvalidInput}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := e.Execute(ctx, tt.code)
			assert.True(t, errors.Is(err, tt.match), "got %v", err)
			assert.Equal(t, uint32(8), s.Val)
			assert.Equal(t, uint32(8), e.State().Val)
			assert.Equal(t, "increment", e.Previous())
		})
	}
}

func TestExecute_EntrySignature(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "basics.wasm"), samples.Basics(), 0o644))

	rt, err := runtime.New(ctx)
	require.NoError(t, err)
	defer rt.Close(ctx)

	e := New(rt, Config{Dir: dir, Entry: "add_one"})
	_, err = e.Execute(ctx, "basics")
	assert.True(t, errors.Is(err, &errors.Error{Phase: errors.PhaseExecute, Kind: errors.KindTypeMismatch}), "got %v", err)
}

func TestExecutePrevious(t *testing.T) {
	e := newExecutor(t, hostenv.State{Vec: []byte{1}})
	ctx := context.Background()

	_, err := e.ExecutePrevious(ctx)
	assert.True(t, errors.Is(err, &errors.Error{Phase: errors.PhaseExecute, Kind: errors.KindInvalidInput}))

	_, err = e.Execute(ctx, "triple")
	require.NoError(t, err)
	s, err := e.ExecutePrevious(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte{9}, s.Vec)
}

func TestState_IsCopy(t *testing.T) {
	e := newExecutor(t, hostenv.State{Vec: []byte{1}})
	s := e.State()
	s.Vec[0] = 100
	assert.Equal(t, []byte{1}, e.State().Vec)

	e.SetState(hostenv.State{Val: 5})
	assert.Equal(t, uint32(5), e.State().Val)
}
