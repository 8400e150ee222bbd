// Package telemetry provides OpenTelemetry-backed implementations of the
// postgresengine observability seams (TracingCollector, MetricsCollector,
// ContextualLogger), so a caller who already runs an OTel SDK can wire
// the store's spans, metrics and logs straight into it instead of
// implementing those narrow interfaces themselves.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dynamicstreams/dcb-eventstore-go/eventstore/postgresengine"
)

// TracingCollector implements postgresengine.TracingCollector on top of
// an OpenTelemetry trace.Tracer.
type TracingCollector struct {
	tracer trace.Tracer
}

// NewTracingCollector builds a TracingCollector from a tracer obtained
// from the caller's TracerProvider.
func NewTracingCollector(tracer trace.Tracer) *TracingCollector {
	return &TracingCollector{tracer: tracer}
}

// StartSpan opens a span named name with attrs attached.
func (t *TracingCollector) StartSpan(
	ctx context.Context,
	name string,
	attrs map[string]string,
) (context.Context, postgresengine.SpanContext) {
	opts := make([]trace.SpanStartOption, 0, len(attrs))
	for k, v := range attrs {
		opts = append(opts, trace.WithAttributes(attribute.String(k, v)))
	}

	spanCtx, span := t.tracer.Start(ctx, name, opts...)

	return spanCtx, &spanContext{span: span}
}

// FinishSpan sets attrs and status on spanCtx's span and ends it.
func (t *TracingCollector) FinishSpan(spanCtx postgresengine.SpanContext, status string, attrs map[string]string) {
	sc, ok := spanCtx.(*spanContext)
	if !ok {
		return
	}

	for k, v := range attrs {
		sc.span.SetAttributes(attribute.String(k, v))
	}

	sc.SetStatus(status)
	sc.span.End()
}

var _ postgresengine.TracingCollector = (*TracingCollector)(nil)

// spanContext adapts an OpenTelemetry trace.Span to postgresengine.SpanContext.
type spanContext struct {
	span trace.Span
}

// SetStatus maps the store's small status vocabulary onto OTel status codes.
func (s *spanContext) SetStatus(status string) {
	switch status {
	case "ok":
		s.span.SetStatus(codes.Ok, "")
	case "conflict":
		s.span.SetStatus(codes.Error, "concurrency conflict")
	case "error":
		s.span.SetStatus(codes.Error, "operation failed")
	default:
		s.span.SetAttributes(attribute.String("status", status))
	}
}

// AddAttribute adds a single string attribute to the span.
func (s *spanContext) AddAttribute(key, value string) {
	s.span.SetAttributes(attribute.String(key, value))
}

var _ postgresengine.SpanContext = (*spanContext)(nil)
