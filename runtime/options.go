package runtime

import (
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-executor/engine"
)

// DefaultCacheSize is the number of compiled modules kept by default.
const DefaultCacheSize = 64

// Option configures a Runtime.
type Option func(*options)

type options struct {
	logger         *zap.Logger
	registerer     prometheus.Registerer
	tracerProvider trace.TracerProvider
	engine         engine.Config
	cacheSize      int
	callTimeout    time.Duration
	metrics        bool
	customLogger   bool
}

func defaultOptions() options {
	return options{
		logger:    zap.NewNop(),
		cacheSize: DefaultCacheSize,
	}
}

// WithLogger sets the runtime logger. The engine logger is derived from it
// and is process-wide: the most recently created Runtime with a custom
// logger sets it for every engine in the process.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
			o.customLogger = true
		}
	}
}

// WithMetrics registers the pipeline collectors with reg. A nil registerer
// still collects but registers nothing.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
		o.metrics = true
	}
}

// WithTracerProvider sets the provider for stage spans. The global provider is
// used by default.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tracerProvider = tp
	}
}

// WithEngineConfig configures the underlying engine.
func WithEngineConfig(cfg engine.Config) Option {
	return func(o *options) {
		o.engine = cfg
	}
}

// WithCacheSize bounds the compiled module cache. Zero disables caching.
func WithCacheSize(n int) Option {
	return func(o *options) {
		if n < 0 {
			n = 0
		}
		o.cacheSize = n
	}
}

// WithCallTimeout sets the default per-call timeout of new instances.
func WithCallTimeout(d time.Duration) Option {
	return func(o *options) {
		o.callTimeout = d
	}
}

// InstantiateOption configures a single instance.
type InstantiateOption func(*instanceOptions)

type instanceOptions struct {
	hosts          *HostRegistry
	stdin          io.Reader
	stdout         io.Writer
	stderr         io.Writer
	env            map[string]string
	name           string
	args           []string
	startFunctions []string
	timeout        time.Duration
}

// WithHosts adds per-instance host imports. They take precedence over the
// runtime's registered hosts for the same module and field.
func WithHosts(h *HostRegistry) InstantiateOption {
	return func(o *instanceOptions) {
		o.hosts = h
	}
}

// WithName names the instance for WASI argv[0] and error messages.
func WithName(name string) InstantiateOption {
	return func(o *instanceOptions) {
		o.name = name
	}
}

func WithStdin(r io.Reader) InstantiateOption {
	return func(o *instanceOptions) {
		o.stdin = r
	}
}

func WithStdout(w io.Writer) InstantiateOption {
	return func(o *instanceOptions) {
		o.stdout = w
	}
}

func WithStderr(w io.Writer) InstantiateOption {
	return func(o *instanceOptions) {
		o.stderr = w
	}
}

// WithArgs sets the WASI arguments, including argv[0].
func WithArgs(args ...string) InstantiateOption {
	return func(o *instanceOptions) {
		o.args = args
	}
}

// WithEnv sets WASI environment variables.
func WithEnv(env map[string]string) InstantiateOption {
	return func(o *instanceOptions) {
		o.env = env
	}
}

// WithStartFunctions lists exported functions to run after the start
// section, e.g. "_start". None run by default.
func WithStartFunctions(names ...string) InstantiateOption {
	return func(o *instanceOptions) {
		o.startFunctions = names
	}
}

// WithInstanceTimeout overrides the runtime's per-call timeout. Zero
// disables it for this instance.
func WithInstanceTimeout(d time.Duration) InstantiateOption {
	return func(o *instanceOptions) {
		o.timeout = d
	}
}
