package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-executor/errors"
)

// Mode selects the wazero execution engine.
type Mode string

const (
	ModeAuto        Mode = ""            // compiler where supported, else interpreter
	ModeCompiler    Mode = "compiler"    // ahead-of-time native code
	ModeInterpreter Mode = "interpreter" // portable, no code generation
)

// ParseMode parses a mode name. The empty string and "auto" select ModeAuto.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeAuto, "auto":
		return ModeAuto, nil
	case ModeCompiler, "compiled":
		return ModeCompiler, nil
	case ModeInterpreter:
		return ModeInterpreter, nil
	}
	return "", fmt.Errorf("unknown engine mode %q", s)
}

// Config holds configuration for engine creation
type Config struct {
	// Mode selects compiler or interpreter. Zero value picks the best
	// engine for the platform.
	Mode Mode

	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// 0 means default (65536 pages = 4GB).
	// 256 = 16MB, 1024 = 64MB, 4096 = 256MB
	MemoryLimitPages uint32

	// CompilationCacheDir persists compiled native code across processes.
	// Empty keeps the cache in memory for the engine's lifetime.
	CompilationCacheDir string

	// WASI makes wasi_snapshot_preview1 available to every instance.
	WASI bool
}

// WazeroEngine owns a wazero runtime and compiles modules into it.
// Safe for concurrent use.
type WazeroEngine struct {
	runtime      wazero.Runtime
	cache        wazero.CompilationCache
	cfg          Config
	wasiInitMu   sync.Mutex
	wasiInitDone atomic.Bool
	closed       atomic.Bool
}

// NewWazeroEngine creates a new wazero-based engine
func NewWazeroEngine(ctx context.Context) (*WazeroEngine, error) {
	return NewWazeroEngineWithConfig(ctx, nil)
}

// NewWazeroEngineWithConfig creates a new engine with custom configuration
func NewWazeroEngineWithConfig(ctx context.Context, cfg *Config) (*WazeroEngine, error) {
	var c Config
	if cfg != nil {
		c = *cfg
	}

	var runtimeCfg wazero.RuntimeConfig
	switch c.Mode {
	case ModeAuto:
		runtimeCfg = wazero.NewRuntimeConfig()
	case ModeCompiler:
		runtimeCfg = wazero.NewRuntimeConfigCompiler()
	case ModeInterpreter:
		runtimeCfg = wazero.NewRuntimeConfigInterpreter()
	default:
		return nil, errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("unknown engine mode %q", c.Mode))
	}

	// Required for per-call deadlines to interrupt running guest code.
	runtimeCfg = runtimeCfg.WithCloseOnContextDone(true)

	if c.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(c.MemoryLimitPages)
	}

	var cache wazero.CompilationCache
	if c.CompilationCacheDir != "" {
		var err error
		cache, err = wazero.NewCompilationCacheWithDir(c.CompilationCacheDir)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseConfig, errors.KindIO, err, "open compilation cache "+c.CompilationCacheDir)
		}
		runtimeCfg = runtimeCfg.WithCompilationCache(cache)
	}

	e := &WazeroEngine{
		runtime: wazero.NewRuntimeWithConfig(ctx, runtimeCfg),
		cache:   cache,
		cfg:     c,
	}

	if c.WASI {
		if err := e.InitWASI(ctx); err != nil {
			_ = e.Close(ctx)
			return nil, err
		}
	}

	Logger().Debug("engine created",
		zap.String("mode", string(c.Mode)),
		zap.Uint32("memory_limit_pages", c.MemoryLimitPages),
		zap.Bool("wasi", c.WASI))

	return e, nil
}

// Config returns the configuration the engine was created with.
func (e *WazeroEngine) Config() Config {
	return e.cfg
}

// Compile decodes, validates and compiles a core module. The bytes are not
// retained. name is informational and appears in errors and logs.
func (e *WazeroEngine) Compile(ctx context.Context, name string, wasmBytes []byte) (*WazeroModule, error) {
	if e.closed.Load() {
		return nil, errors.Closed(errors.PhaseLoad, "engine")
	}

	sum := sha256.Sum256(wasmBytes)
	hash := hex.EncodeToString(sum[:])

	compiled, err := e.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, classifyCompileError(name, wasmBytes, err)
	}

	exports, imports, err := inspect(wasmBytes, compiled)
	if err != nil {
		_ = compiled.Close(ctx)
		return nil, errors.Load(errors.KindMalformed, fmt.Sprintf("inspect %s", name), err)
	}

	debugf("compiled %s (%s): %d exports, %d imports", name, hash[:12], len(exports), len(imports))

	return newModule(e, name, hash, compiled, exports, imports), nil
}

// classifyCompileError distinguishes binaries that do not decode from
// binaries that decode but fail validation or limits.
func classifyCompileError(name string, wasmBytes []byte, err error) error {
	detail := fmt.Sprintf("compile %s", name)
	msg := err.Error()
	switch {
	case strings.Contains(msg, "over limit"):
		return errors.Load(errors.KindLimit, detail, err)
	case !decodes(wasmBytes):
		return errors.Load(errors.KindMalformed, detail, err)
	default:
		return errors.Load(errors.KindValidation, detail, err)
	}
}

// Runtime exposes the underlying wazero runtime.
func (e *WazeroEngine) Runtime() wazero.Runtime {
	return e.runtime
}

// InitWASI instantiates the WASI singleton for this engine's runtime.
// Safe for concurrent calls.
func (e *WazeroEngine) InitWASI(ctx context.Context) error {
	if e.wasiInitDone.Load() {
		return nil
	}

	e.wasiInitMu.Lock()
	defer e.wasiInitMu.Unlock()

	if e.wasiInitDone.Load() {
		return nil
	}

	if e.runtime.Module(wasiModuleName) == nil {
		if _, err := instantiateWASI(ctx, e.runtime); err != nil && e.runtime.Module(wasiModuleName) == nil {
			return errors.Wrap(errors.PhaseInstantiate, errors.KindInstantiation, err, "instantiate WASI")
		}
	}

	e.wasiInitDone.Store(true)
	return nil
}

// WASIEnabled reports whether wasi_snapshot_preview1 is available.
func (e *WazeroEngine) WASIEnabled() bool {
	return e.wasiInitDone.Load()
}

// Close releases the runtime and every module and instance created from it.
func (e *WazeroEngine) Close(ctx context.Context) error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := e.runtime.Close(ctx)
	if e.cache != nil {
		if cerr := e.cache.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
