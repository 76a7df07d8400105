package main

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-executor/config"
	"github.com/wippyai/wasm-executor/runtime"
	"github.com/wippyai/wasm-executor/telemetry"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// app carries the state shared by all commands of one invocation.
type app struct {
	out    io.Writer
	errOut io.Writer

	configPath string
	flags      flagOverrides

	cfg      *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	tracing  *sdktrace.TracerProvider
	rt       *runtime.Runtime
	server   *http.Server
}

type flagOverrides struct {
	logLevel         string
	logFormat        string
	mode             string
	timeout          time.Duration
	memoryLimitPages uint32
	wasi             bool
	cacheSize        int
	codesDir         string
	metricsAddr      string
	jaegerEndpoint   string
}

// execute runs one command line. The runtime is torn down even when the
// command fails.
func execute(ctx context.Context, args []string, out, errOut io.Writer) error {
	root, a := newRootCmd(out, errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if terr := a.teardown(context.Background()); err == nil {
		err = terr
	}
	return err
}

func newRootCmd(out, errOut io.Writer) (*cobra.Command, *app) {
	a := &app{out: out, errOut: errOut}

	root := &cobra.Command{
		Use:           "wasmexec",
		Version:       version,
		Short:         "Load, inspect and run WebAssembly modules",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)

	pf := root.PersistentFlags()
	pf.StringVarP(&a.configPath, "config", "c", "", "YAML configuration file")
	pf.StringVar(&a.flags.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.StringVar(&a.flags.logFormat, "log-format", "", "log format (json, console)")
	pf.StringVar(&a.flags.mode, "mode", "", "engine mode (auto, compiler, interpreter)")
	pf.DurationVar(&a.flags.timeout, "timeout", 0, "per-call timeout, 0 for none")
	pf.Uint32Var(&a.flags.memoryLimitPages, "memory-limit-pages", 0, "maximum memory per instance in 64KiB pages")
	pf.BoolVar(&a.flags.wasi, "wasi", false, "provide wasi_snapshot_preview1 to every instance")
	pf.IntVar(&a.flags.cacheSize, "cache-size", 0, "compiled module cache entries, 0 disables")
	pf.StringVar(&a.flags.codesDir, "dir", "", "directory holding guest codes")
	pf.StringVar(&a.flags.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	pf.StringVar(&a.flags.jaegerEndpoint, "jaeger-endpoint", "", "export stage spans to this Jaeger collector")

	root.AddCommand(
		newCallCmd(a),
		newExportsCmd(a),
		newExecCmd(a),
		newListCmd(a),
		newSamplesCmd(a),
		newShellCmd(a),
	)
	return root, a
}

// setup loads the configuration, applies changed flags over it and creates
// the runtime.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	logger, err := cfg.Log.NewLogger()
	if err != nil {
		return err
	}
	a.logger = logger

	ecfg, err := cfg.EngineConfig()
	if err != nil {
		return err
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	opts := []runtime.Option{
		runtime.WithLogger(logger),
		runtime.WithMetrics(a.registry),
		runtime.WithEngineConfig(ecfg),
		runtime.WithCacheSize(cfg.Cache.Size),
		runtime.WithCallTimeout(cfg.Limits.CallTimeout),
	}
	if cfg.Tracing.JaegerEndpoint != "" {
		tp, err := telemetry.NewJaegerProvider(cmd.Context(), telemetry.ProviderConfig{
			ServiceName:    "wasmexec",
			ServiceVersion: version,
			JaegerEndpoint: cfg.Tracing.JaegerEndpoint,
		})
		if err != nil {
			return err
		}
		a.tracing = tp
		opts = append(opts, runtime.WithTracerProvider(tp))
	}

	rt, err := runtime.New(cmd.Context(), opts...)
	if err != nil {
		return err
	}
	a.rt = rt

	if cfg.Metrics.Addr != "" {
		if err := a.serveMetrics(cfg.Metrics.Addr); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) applyFlags(cmd *cobra.Command, cfg *config.Config) {
	changed := cmd.Flags().Changed
	if changed("log-level") {
		cfg.Log.Level = a.flags.logLevel
	}
	if changed("log-format") {
		cfg.Log.Format = a.flags.logFormat
	}
	if changed("mode") {
		cfg.Engine.Mode = a.flags.mode
	}
	if changed("timeout") {
		cfg.Limits.CallTimeout = a.flags.timeout
	}
	if changed("memory-limit-pages") {
		cfg.Engine.MemoryLimitPages = a.flags.memoryLimitPages
	}
	if changed("wasi") {
		cfg.Engine.WASI = a.flags.wasi
	}
	if changed("cache-size") {
		cfg.Cache.Size = a.flags.cacheSize
	}
	if changed("dir") {
		cfg.CodesDir = a.flags.codesDir
	}
	if changed("metrics-addr") {
		cfg.Metrics.Addr = a.flags.metricsAddr
	}
	if changed("jaeger-endpoint") {
		cfg.Tracing.JaegerEndpoint = a.flags.jaegerEndpoint
	}
}

func (a *app) serveMetrics(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	a.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
	a.logger.Info("serving metrics", zap.String("addr", ln.Addr().String()))
	return nil
}

func (a *app) teardown(ctx context.Context) error {
	var firstErr error
	if a.server != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			firstErr = err
		}
		cancel()
	}
	if a.rt != nil {
		if err := a.rt.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.tracing != nil {
		flushCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := a.tracing.Shutdown(flushCtx); err != nil {
			a.logger.Warn("flush spans", zap.Error(err))
		}
		cancel()
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	return firstErr
}
