// Package config loads the executor configuration from a YAML file with
// WASMEXEC_* environment overrides.
package config

import (
	"bytes"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wippyai/wasm-executor/engine"
	"github.com/wippyai/wasm-executor/errors"
	"github.com/wippyai/wasm-executor/hostenv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "WASMEXEC_"

// Config is the complete configuration.
type Config struct {
	Engine   EngineConfig  `yaml:"engine"`
	Limits   LimitsConfig  `yaml:"limits"`
	Cache    CacheConfig   `yaml:"cache"`
	CodesDir string        `yaml:"codes_dir"`
	Entry    string        `yaml:"entry"`
	State    hostenv.State `yaml:"state"`
	Log      LogConfig     `yaml:"log"`
	Metrics  MetricsConfig `yaml:"metrics"`
	Tracing  TracingConfig `yaml:"tracing"`
}

// EngineConfig selects and bounds the engine.
type EngineConfig struct {
	Mode                string `yaml:"mode"`
	CompilationCacheDir string `yaml:"compilation_cache_dir"`
	MemoryLimitPages    uint32 `yaml:"memory_limit_pages"`
	WASI                bool   `yaml:"wasi"`
}

// LimitsConfig bounds execution.
type LimitsConfig struct {
	CallTimeout time.Duration `yaml:"call_timeout"`
}

// CacheConfig sizes the compiled module cache. Zero disables it.
type CacheConfig struct {
	Size int `yaml:"size"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures the Prometheus endpoint. Empty Addr disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// TracingConfig configures span export. Empty JaegerEndpoint leaves spans
// to the global tracer provider.
type TracingConfig struct {
	JaegerEndpoint string `yaml:"jaeger_endpoint"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Cache:    CacheConfig{Size: 64},
		CodesDir: "wasm_codes",
		Entry:    "start",
		State:    hostenv.State{Vec: []byte{1, 2, 3}},
		Log:      LogConfig{Level: "info", Format: "console"},
	}
}

// Load reads path over the defaults and applies environment overrides. An
// empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			kind := errors.KindIO
			if os.IsNotExist(err) {
				kind = errors.KindNotFound
			}
			return nil, errors.New(errors.PhaseConfig, kind).
				Path(path).
				Detail("read config").
				Cause(err).
				Build()
		}
		if err := cfg.decode(data); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults without consulting the environment.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := cfg.decode(data); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return errors.Wrap(errors.PhaseConfig, errors.KindMalformed, err, "parse YAML config")
	}
	return nil
}

// ApplyEnv overrides fields from WASMEXEC_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var firstErr error
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}
	parse := func(key string, set func(string) error) {
		v, ok := lookup(EnvPrefix + key)
		if !ok || firstErr != nil {
			return
		}
		if err := set(strings.TrimSpace(v)); err != nil {
			firstErr = errors.New(errors.PhaseConfig, errors.KindInvalidInput).
				Path(EnvPrefix + key).
				Value(v).
				Cause(err).
				Build()
		}
	}

	str("ENGINE_MODE", &c.Engine.Mode)
	str("COMPILATION_CACHE_DIR", &c.Engine.CompilationCacheDir)
	parse("MEMORY_LIMIT_PAGES", func(v string) error {
		n, err := strconv.ParseUint(v, 10, 32)
		c.Engine.MemoryLimitPages = uint32(n)
		return err
	})
	parse("WASI", func(v string) error {
		b, err := strconv.ParseBool(v)
		c.Engine.WASI = b
		return err
	})
	parse("CALL_TIMEOUT", func(v string) error {
		d, err := time.ParseDuration(v)
		c.Limits.CallTimeout = d
		return err
	})
	parse("CACHE_SIZE", func(v string) error {
		n, err := strconv.Atoi(v)
		c.Cache.Size = n
		return err
	})
	str("CODES_DIR", &c.CodesDir)
	str("ENTRY", &c.Entry)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("METRICS_ADDR", &c.Metrics.Addr)
	str("JAEGER_ENDPOINT", &c.Tracing.JaegerEndpoint)

	return firstErr
}

// Validate checks field ranges and enumerations.
func (c *Config) Validate() error {
	if _, err := engine.ParseMode(c.Engine.Mode); err != nil {
		return invalid("engine.mode", "%v", err)
	}
	if c.Engine.MemoryLimitPages > 65536 {
		return invalid("engine.memory_limit_pages", "must be at most 65536, got %d", c.Engine.MemoryLimitPages)
	}
	if c.Limits.CallTimeout < 0 {
		return invalid("limits.call_timeout", "must not be negative")
	}
	if c.Cache.Size < 0 {
		return invalid("cache.size", "must not be negative")
	}
	if c.Entry == "" {
		return invalid("entry", "must not be empty")
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return invalid("log.level", "%v", err)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return invalid("log.format", "must be json or console, got %q", c.Log.Format)
	}
	return nil
}

func invalid(field, format string, args ...any) error {
	return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
		Path(field).
		Detail(format, args...).
		Build()
}

// EngineConfig converts the engine section.
func (c *Config) EngineConfig() (engine.Config, error) {
	mode, err := engine.ParseMode(c.Engine.Mode)
	if err != nil {
		return engine.Config{}, invalid("engine.mode", "%v", err)
	}
	return engine.Config{
		Mode:                mode,
		MemoryLimitPages:    c.Engine.MemoryLimitPages,
		CompilationCacheDir: c.Engine.CompilationCacheDir,
		WASI:                c.Engine.WASI,
	}, nil
}
