package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation name of the pipeline spans.
const TracerName = "github.com/wippyai/wasm-executor"

// Tracer wraps an OpenTelemetry tracer with one span per stage.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a tracer from tp, or from the global provider when tp is nil.
func NewTracer(tp trace.TracerProvider) *Tracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Tracer{tracer: tp.Tracer(TracerName)}
}

// StartStage starts the span "wasmexec.<stage>".
func (t *Tracer) StartStage(ctx context.Context, stage string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "wasmexec."+stage, trace.WithAttributes(attrs...))
}

// End records err on the span, if any, and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Attribute keys.
const (
	AttrModule = attribute.Key("wasm.module")
	AttrHash   = attribute.Key("wasm.module.hash")
	AttrExport = attribute.Key("wasm.export")
	AttrCached = attribute.Key("wasm.cache.hit")
	AttrReason = attribute.Key("wasm.trap.reason")
)
