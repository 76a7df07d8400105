package engine

import (
	"context"
	"io"
	"sort"
	"sync/atomic"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-executor/errors"
)

// InstanceConfig holds configuration for module instantiation
type InstanceConfig struct {
	// Imports satisfies the module's imports. Nil means no host imports.
	Imports *Imports

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Env    map[string]string

	// Name is the instance name seen by WASI and in errors. Instances are
	// always anonymous in the engine namespace.
	Name string
	Args []string

	// StartFunctions are exported functions run after the start section,
	// e.g. "_start" for WASI commands. None run by default.
	StartFunctions []string

	// CallTimeout bounds every call made through the instance. Zero means
	// no limit beyond the caller's context.
	CallTimeout time.Duration
}

// WazeroInstance is a live instance. NOT thread-safe: each goroutine should
// use its own instance.
type WazeroInstance struct {
	module    *WazeroModule
	instance  api.Module
	binding   *binding
	funcCache map[string]api.Function
	name      string
	timeout   time.Duration
	closed    atomic.Bool
}

// Instantiate creates an instance with private memory, globals and tables.
// The start section runs before Instantiate returns.
func (m *WazeroModule) Instantiate(ctx context.Context, cfg *InstanceConfig) (*WazeroInstance, error) {
	if cfg == nil {
		cfg = &InstanceConfig{}
	}
	if !m.Acquire() {
		return nil, errors.Closed(errors.PhaseInstantiate, "module "+m.name)
	}

	imports := cfg.Imports
	if imports == nil {
		imports = NewImports()
	}

	e := m.engine
	if err := imports.check(m, e.WASIEnabled(), e.cfg.MemoryLimitPages); err != nil {
		_ = m.Release(ctx)
		return nil, err
	}

	b, err := imports.bind(ctx, e.runtime, m)
	if err != nil {
		_ = m.Release(ctx)
		return nil, err
	}

	instance, err := e.runtime.InstantiateModule(b.context(ctx), m.compiled, moduleConfig(cfg, e.WASIEnabled()))
	if err != nil {
		ierr := classifyInstantiateError(ctx, err, b.trap)
		_ = b.close(ctx)
		_ = m.Release(ctx)
		Logger().Debug("instantiate failed", zap.String("module", m.name), zap.Error(ierr))
		return nil, ierr
	}

	return &WazeroInstance{
		module:    m,
		instance:  instance,
		binding:   b,
		funcCache: make(map[string]api.Function),
		name:      cfg.Name,
		timeout:   cfg.CallTimeout,
	}, nil
}

func moduleConfig(cfg *InstanceConfig, wasi bool) wazero.ModuleConfig {
	modConfig := wazero.NewModuleConfig().
		WithName(""). // anonymous for parallel instantiation
		WithStartFunctions(cfg.StartFunctions...)

	if cfg.Stdin != nil {
		modConfig = modConfig.WithStdin(cfg.Stdin)
	}
	if cfg.Stdout != nil {
		modConfig = modConfig.WithStdout(cfg.Stdout)
	}
	if cfg.Stderr != nil {
		modConfig = modConfig.WithStderr(cfg.Stderr)
	}
	if len(cfg.Args) > 0 {
		modConfig = modConfig.WithArgs(cfg.Args...)
	} else if cfg.Name != "" {
		modConfig = modConfig.WithArgs(cfg.Name)
	}
	if len(cfg.Env) > 0 {
		keys := make([]string, 0, len(cfg.Env))
		for k := range cfg.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			modConfig = modConfig.WithEnv(k, cfg.Env[k])
		}
	}
	if wasi {
		modConfig = modConfig.WithSysWalltime().WithSysNanotime()
	}
	return modConfig
}

// Module returns the compiled module the instance was created from.
func (i *WazeroInstance) Module() *WazeroModule {
	return i.module
}

// Name returns the configured instance name.
func (i *WazeroInstance) Name() string {
	return i.name
}

// ExportedFunction returns the exported function or nil.
func (i *WazeroInstance) ExportedFunction(name string) api.Function {
	if i.closed.Load() {
		return nil
	}
	if fn, ok := i.funcCache[name]; ok {
		return fn
	}
	fn := i.instance.ExportedFunction(name)
	if fn != nil {
		i.funcCache[name] = fn
	}
	return fn
}

// ExportedMemory returns the exported memory or nil.
func (i *WazeroInstance) ExportedMemory(name string) *WazeroMemory {
	if i.closed.Load() {
		return nil
	}
	mem := i.instance.ExportedMemory(name)
	if mem == nil {
		return nil
	}
	return &WazeroMemory{mem: mem}
}

// ExportedGlobal returns the exported global or nil.
func (i *WazeroInstance) ExportedGlobal(name string) api.Global {
	if i.closed.Load() {
		return nil
	}
	return i.instance.ExportedGlobal(name)
}

// ImportedMemory returns the memory the instance received for a host memory
// import, or nil.
func (i *WazeroInstance) ImportedMemory(module, name string) *WazeroMemory {
	if i.closed.Load() || i.binding == nil {
		return nil
	}
	mod := i.binding.modules[module]
	if mod == nil {
		return nil
	}
	mem := mod.ExportedMemory(name)
	if mem == nil {
		return nil
	}
	return &WazeroMemory{mem: mem}
}

// Call invokes fn synchronously. Engine faults are returned as
// *errors.TrapError; a deadline, cancellation or exit trap closes the
// instance.
func (i *WazeroInstance) Call(ctx context.Context, name string, fn api.Function, args ...uint64) ([]uint64, error) {
	if i.closed.Load() {
		return nil, errors.Closed(errors.PhaseInvoke, "instance")
	}
	if i.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.timeout)
		defer cancel()
	}

	i.binding.trap.Store(nil)
	results, err := fn.Call(ctx, args...)
	if err == nil {
		return results, nil
	}

	trap, ok := classifyTrap(ctx, errors.PhaseInvoke, name, err, i.binding.trap)
	if !ok {
		return nil, errors.Wrap(errors.PhaseInvoke, errors.KindInstantiation, err, "call "+name)
	}
	if terminal(trap) {
		debugf("instance terminated by %s in %s", trap.Reason, name)
		_ = i.Close(context.Background())
	}
	return nil, trap
}

// Closed reports whether the instance has been closed.
func (i *WazeroInstance) Closed() bool {
	return i.closed.Load()
}

// Close releases the instance, its import bindings and its module reference.
func (i *WazeroInstance) Close(ctx context.Context) error {
	if !i.closed.CompareAndSwap(false, true) {
		return nil
	}
	var firstErr error
	if i.instance != nil {
		if err := i.instance.Close(ctx); err != nil {
			firstErr = err
		}
	}
	if i.binding != nil {
		if err := i.binding.close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := i.module.Release(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	i.funcCache = nil
	return firstErr
}
