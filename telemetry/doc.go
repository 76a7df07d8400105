// Package telemetry provides the Prometheus metrics and OpenTelemetry spans
// recorded for each pipeline stage (load, instantiate, resolve, invoke), and
// an optional Jaeger-exporting tracer provider.
package telemetry
