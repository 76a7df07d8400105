package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Stage names used as metric labels and span suffixes.
const (
	StageLoad        = "load"
	StageInstantiate = "instantiate"
	StageResolve     = "resolve"
	StageInvoke      = "invoke"
	StageExecute     = "execute"
)

// Metrics holds the Prometheus collectors for the pipeline.
type Metrics struct {
	// Stage metrics
	StageTotal   *prometheus.CounterVec
	StageLatency *prometheus.HistogramVec

	// Trap metrics
	TrapsTotal *prometheus.CounterVec

	// Module cache metrics
	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter

	// Live instances
	Instances prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg. A nil
// registerer leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		StageTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wasmexec_stage_total",
				Help: "Total number of pipeline stage executions",
			},
			[]string{"stage", "status"},
		),

		StageLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wasmexec_stage_duration_seconds",
				Help:    "Pipeline stage latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stage"},
		),

		TrapsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wasmexec_traps_total",
				Help: "Total number of traps by reason",
			},
			[]string{"reason"},
		),

		CacheHitsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "wasmexec_module_cache_hits_total",
				Help: "Total number of compiled module cache hits",
			},
		),

		CacheMissesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "wasmexec_module_cache_misses_total",
				Help: "Total number of compiled module cache misses",
			},
		),

		Instances: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "wasmexec_instances",
				Help: "Number of live instances",
			},
		),
	}
}

// RecordStage records the outcome and latency of a stage. Nil-safe.
func (m *Metrics) RecordStage(stage string, start time.Time, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.StageTotal.WithLabelValues(stage, status).Inc()
	m.StageLatency.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// RecordTrap counts a trap. Nil-safe.
func (m *Metrics) RecordTrap(reason string) {
	if m == nil {
		return
	}
	m.TrapsTotal.WithLabelValues(reason).Inc()
}

// RecordCache counts a module cache lookup. Nil-safe.
func (m *Metrics) RecordCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHitsTotal.Inc()
	} else {
		m.CacheMissesTotal.Inc()
	}
}

// InstanceOpened and InstanceClosed track live instances. Nil-safe.
func (m *Metrics) InstanceOpened() {
	if m != nil {
		m.Instances.Inc()
	}
}

func (m *Metrics) InstanceClosed() {
	if m != nil {
		m.Instances.Dec()
	}
}
