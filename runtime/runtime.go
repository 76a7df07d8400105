package runtime

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/wippyai/wasm-executor/engine"
	"github.com/wippyai/wasm-executor/errors"
	"github.com/wippyai/wasm-executor/telemetry"
)

// Runtime loads modules and owns the engine they run on. It is safe for
// concurrent use.
type Runtime struct {
	engine      *engine.WazeroEngine
	hosts       *HostRegistry
	cache       *lru.Cache[string, *engine.WazeroModule]
	loads       singleflight.Group
	logger      *zap.Logger
	metrics     *telemetry.Metrics
	tracer      *telemetry.Tracer
	callTimeout time.Duration
	closed      atomic.Bool
}

// New creates a runtime.
func New(ctx context.Context, opts ...Option) (*Runtime, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.customLogger {
		engine.SetLogger(o.logger)
	}

	eng, err := engine.NewWazeroEngineWithConfig(ctx, &o.engine)
	if err != nil {
		return nil, err
	}

	r := &Runtime{
		engine:      eng,
		hosts:       NewHostRegistry(),
		logger:      o.logger.Named("runtime"),
		tracer:      telemetry.NewTracer(o.tracerProvider),
		callTimeout: o.callTimeout,
	}
	if o.metrics {
		r.metrics = telemetry.NewMetrics(o.registerer)
	}

	if o.cacheSize > 0 {
		// The cache holds one reference per entry, dropped on eviction.
		r.cache, err = lru.NewWithEvict[string, *engine.WazeroModule](o.cacheSize,
			func(_ string, m *engine.WazeroModule) {
				_ = m.Release(context.Background())
			})
		if err != nil {
			_ = eng.Close(ctx)
			return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "create module cache")
		}
	}

	return r, nil
}

// Close releases all runtime resources, including modules and instances
// still open. Close instances and modules first.
func (r *Runtime) Close(ctx context.Context) error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	if r.cache != nil {
		r.cache.Purge()
	}
	return r.engine.Close(ctx)
}

// Engine exposes the underlying engine.
func (r *Runtime) Engine() *engine.WazeroEngine {
	return r.engine
}

// Metrics returns the runtime collectors, or nil when metrics are disabled.
func (r *Runtime) Metrics() *telemetry.Metrics {
	return r.metrics
}

// Tracer returns the tracer used for stage spans.
func (r *Runtime) Tracer() *telemetry.Tracer {
	return r.tracer
}

// Logger returns the runtime logger.
func (r *Runtime) Logger() *zap.Logger {
	return r.logger
}

// RegisterHost registers all exported methods of h under h.Namespace().
// Method names are converted from PascalCase to snake_case
// (GetVec -> get_vec). Hosts apply to instances created afterwards.
func (r *Runtime) RegisterHost(h Host) error {
	return r.hosts.RegisterHost(h)
}

// RegisterFunc registers a single host function.
func (r *Runtime) RegisterFunc(namespace, name string, fn any) error {
	return r.hosts.RegisterFunc(namespace, name, fn)
}

// Hosts returns the runtime-wide host registry.
func (r *Runtime) Hosts() *HostRegistry {
	return r.hosts
}

// Load reads and compiles the module at path.
func (r *Runtime) Load(ctx context.Context, path string) (*Module, error) {
	start := time.Now()
	ctx, span := r.tracer.StartStage(ctx, telemetry.StageLoad, telemetry.AttrModule.String(path))

	wasmBytes, err := os.ReadFile(path)
	if err != nil {
		kind := errors.KindIO
		if os.IsNotExist(err) {
			kind = errors.KindNotFound
		}
		lerr := errors.New(errors.PhaseLoad, kind).
			Path(path).
			Detail("read module").
			Cause(err).
			Build()
		r.metrics.RecordStage(telemetry.StageLoad, start, lerr)
		telemetry.End(span, lerr)
		r.logger.Debug("load failed", zap.String("module", path), zap.Error(lerr))
		return nil, lerr
	}
	return r.compile(ctx, span, start, path, wasmBytes)
}

// LoadBytes compiles a module from memory. name is informational. Loading
// is all-or-nothing: on error no module exists. A module whose declared
// minimum memory exceeds the engine's page limit is rejected here as a
// load limit error, since the engine refuses to compile it.
func (r *Runtime) LoadBytes(ctx context.Context, name string, wasmBytes []byte) (*Module, error) {
	start := time.Now()
	ctx, span := r.tracer.StartStage(ctx, telemetry.StageLoad, telemetry.AttrModule.String(name))
	return r.compile(ctx, span, start, name, wasmBytes)
}

func (r *Runtime) compile(ctx context.Context, span trace.Span, start time.Time, name string, wasmBytes []byte) (*Module, error) {
	mod, hit, err := r.load(ctx, name, wasmBytes)

	r.metrics.RecordStage(telemetry.StageLoad, start, err)
	if err != nil {
		telemetry.End(span, err)
		r.logger.Debug("load failed", zap.String("module", name), zap.Error(err))
		return nil, err
	}
	span.SetAttributes(telemetry.AttrHash.String(mod.Hash()), telemetry.AttrCached.Bool(hit))
	telemetry.End(span, nil)

	r.logger.Debug("loaded module",
		zap.String("module", name),
		zap.String("hash", mod.Hash()),
		zap.Bool("cached", hit),
		zap.Int("exports", len(mod.Exports())))

	return newModule(r, name, mod), nil
}

// load returns a module holding one reference for the caller.
func (r *Runtime) load(ctx context.Context, name string, wasmBytes []byte) (*engine.WazeroModule, bool, error) {
	if r.closed.Load() {
		return nil, false, errors.Closed(errors.PhaseLoad, "runtime")
	}
	if r.cache == nil {
		mod, err := r.engine.Compile(ctx, name, wasmBytes)
		return mod, false, err
	}

	sum := sha256.Sum256(wasmBytes)
	key := hex.EncodeToString(sum[:])

	if mod, ok := r.cache.Get(key); ok && mod.Acquire() {
		r.metrics.RecordCache(true)
		return mod, true, nil
	}
	r.metrics.RecordCache(false)

	v, err, _ := r.loads.Do(key, func() (any, error) {
		if mod, ok := r.cache.Get(key); ok {
			return mod, nil
		}
		mod, err := r.engine.Compile(ctx, name, wasmBytes)
		if err != nil {
			return nil, err
		}
		r.cache.Add(key, mod)
		return mod, nil
	})
	if err != nil {
		return nil, false, err
	}

	mod := v.(*engine.WazeroModule)
	if mod.Acquire() {
		return mod, false, nil
	}
	// Evicted and released between compile and acquire.
	mod, err = r.engine.Compile(ctx, name, wasmBytes)
	return mod, false, err
}
