// Package executor runs named guest codes from a directory against a shared
// state, replacing the state only when a run succeeds.
package executor

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-executor/errors"
	"github.com/wippyai/wasm-executor/hostenv"
	"github.com/wippyai/wasm-executor/runtime"
	"github.com/wippyai/wasm-executor/telemetry"
)

const (
	DefaultDir   = "wasm_codes"
	DefaultEntry = "start"
	extension    = ".wasm"
)

// Config configures an Executor.
type Config struct {
	// Dir holds the guest codes. Defaults to DefaultDir.
	Dir string
	// Entry is the exported () -> () function to run. Defaults to DefaultEntry.
	Entry string
	// Initial is the starting shared state.
	Initial hostenv.State
}

// Executor owns the shared state. Executions are serialized.
type Executor struct {
	rt       *runtime.Runtime
	logger   *zap.Logger
	dir      string
	entry    string
	previous string
	state    hostenv.State
	mu       sync.Mutex
}

// New creates an executor running codes on rt.
func New(rt *runtime.Runtime, cfg Config) *Executor {
	if cfg.Dir == "" {
		cfg.Dir = DefaultDir
	}
	if cfg.Entry == "" {
		cfg.Entry = DefaultEntry
	}
	return &Executor{
		rt:     rt,
		logger: rt.Logger().Named("executor"),
		dir:    cfg.Dir,
		entry:  cfg.Entry,
		state:  cfg.Initial.Clone(),
	}
}

// Dir returns the code directory.
func (e *Executor) Dir() string { return e.dir }

// Path returns the file a code name refers to, appending .wasm when missing.
func (e *Executor) Path(name string) string {
	if !strings.HasSuffix(name, extension) {
		name += extension
	}
	return filepath.Join(e.dir, name)
}

// List returns the code file names in the directory, sorted.
func (e *Executor) List() ([]string, error) {
	entries, err := os.ReadDir(e.dir)
	if err != nil {
		kind := errors.KindIO
		if os.IsNotExist(err) {
			kind = errors.KindNotFound
		}
		return nil, errors.New(errors.PhaseExecute, kind).
			Path(e.dir).
			Detail("list codes").
			Cause(err).
			Build()
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), extension) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

// State returns a copy of the shared state.
func (e *Executor) State() hostenv.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone()
}

// SetState replaces the shared state.
func (e *Executor) SetState(s hostenv.State) {
	e.mu.Lock()
	e.state = s.Clone()
	e.mu.Unlock()
}

// Previous returns the last successfully executed code name, or "".
func (e *Executor) Previous() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.previous
}

// Execute runs the entry function of the named code against a copy of the
// shared state. On success the copy becomes the new state; on any failure
// the state is unchanged.
func (e *Executor) Execute(ctx context.Context, name string) (hostenv.State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.execute(ctx, name)
}

// ExecutePrevious re-runs the last successfully executed code.
func (e *Executor) ExecutePrevious(ctx context.Context) (hostenv.State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.previous == "" {
		return e.state.Clone(), errors.InvalidInput(errors.PhaseExecute, "no previous code")
	}
	return e.execute(ctx, e.previous)
}

func (e *Executor) execute(ctx context.Context, name string) (hostenv.State, error) {
	start := time.Now()
	ctx, span := e.rt.Tracer().StartStage(ctx, telemetry.StageExecute, telemetry.AttrModule.String(name))

	next, err := e.run(ctx, name)

	e.rt.Metrics().RecordStage(telemetry.StageExecute, start, err)
	telemetry.End(span, err)

	if err != nil {
		e.logger.Info("execution failed, state kept", zap.String("code", name), zap.Error(err))
		return e.state.Clone(), err
	}

	e.state = next
	e.previous = name
	e.logger.Info("executed", zap.String("code", name), zap.Stringer("state", next))
	return next.Clone(), nil
}

func (e *Executor) run(ctx context.Context, name string) (hostenv.State, error) {
	if name == "" || filepath.Base(name) != name {
		return hostenv.State{}, errors.New(errors.PhaseExecute, errors.KindInvalidInput).
			Value(name).
			Detail("code name must be a plain file name").
			Build()
	}

	mod, err := e.rt.Load(ctx, e.Path(name))
	if err != nil {
		return hostenv.State{}, err
	}
	defer mod.Close(ctx)

	env := hostenv.New(e.state)
	hosts := runtime.NewHostRegistry()
	if err := hosts.RegisterHost(env); err != nil {
		return hostenv.State{}, err
	}

	inst, err := mod.Instantiate(ctx, runtime.WithHosts(hosts), runtime.WithName(name))
	if err != nil {
		return hostenv.State{}, err
	}
	defer inst.Close(ctx)

	fn, err := inst.Func(e.entry)
	if err != nil {
		return hostenv.State{}, err
	}
	if sig := fn.Signature(); len(sig.Params) != 0 || len(sig.Results) != 0 {
		return hostenv.State{}, errors.New(errors.PhaseExecute, errors.KindTypeMismatch).
			Path(name, e.entry).
			Detail("entry must be func(), got %s", sig).
			Build()
	}

	if _, err := fn.Call(ctx); err != nil {
		return hostenv.State{}, err
	}
	return env.State(), nil
}
