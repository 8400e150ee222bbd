package telemetry

import (
	"context"
	"fmt"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/google/uuid"

	"github.com/dynamicstreams/dcb-eventstore-go/events"
	"github.com/dynamicstreams/dcb-eventstore-go/eventstore"
)

var textMapPropagator = propagation.TraceContext{}

// Facade wraps any eventstore.Backend with the telemetry contract: one
// span named "Stream" per Stream call and one named "Append" per Append
// call, per-event append attributes, and trace-context propagation into
// and out of stored event metadata.
type Facade struct {
	backend eventstore.Backend
	tracer  trace.Tracer
}

// NewFacade wraps backend, opening spans with tracer.
func NewFacade(backend eventstore.Backend, tracer trace.Tracer) *Facade {
	return &Facade{backend: backend, tracer: tracer}
}

var _ eventstore.Backend = (*Facade)(nil)

// Stream delegates to the wrapped backend inside a "Stream ..." span,
// and flags each returned envelope's metadata with
// events.TraceContextMetadataKey when it carries a parseable trace
// context.
func (f *Facade) Stream(
	ctx context.Context,
	tenant events.Tenant,
	query eventstore.StreamQuery,
	maxCount int,
) ([]events.EventEnvelope, error) {
	ctx, span := f.tracer.Start(ctx, fmt.Sprintf("Stream %s", query.String()))
	defer span.End()

	span.SetAttributes(attribute.String("events.max", strconv.Itoa(maxCount)))

	envelopes, err := f.backend.Stream(ctx, tenant, query, maxCount)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	for i := range envelopes {
		flagTraceContext(envelopes[i].Metadata)
	}

	return envelopes, nil
}

// Append delegates to the wrapped backend inside an "Append" span,
// attaching event.id/event.type/event.tags per event and serializing the
// span's trace context into each event's metadata before it is
// persisted.
func (f *Facade) Append(
	ctx context.Context,
	tenant events.Tenant,
	toPersist []events.EventToPersist,
	boundary *eventstore.StreamQuery,
	expectedLastEventID *uuid.UUID,
) ([]events.EventEnvelope, error) {
	ctx, span := f.tracer.Start(ctx, "Append")
	defer span.End()

	for i, e := range toPersist {
		span.SetAttributes(
			attribute.String(fmt.Sprintf("event.id.%d", i), e.ID.String()),
			attribute.String(fmt.Sprintf("event.type.%d", i), e.Type.String()),
			attribute.String(fmt.Sprintf("event.tags.%d", i), tagsString(e.Tags)),
		)

		injectTraceContext(ctx, toPersist[i].Metadata)
	}

	envelopes, err := f.backend.Append(ctx, tenant, toPersist, boundary, expectedLastEventID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	return envelopes, nil
}

func tagsString(tags []events.EventTag) string {
	out := ""
	for i, t := range tags {
		if i > 0 {
			out += ","
		}
		out += t.String()
	}
	return out
}

// metadataCarrier adapts a map[string]string to propagation.TextMapCarrier.
type metadataCarrier map[string]string

func (c metadataCarrier) Get(key string) string { return c[key] }
func (c metadataCarrier) Set(key, value string) { c[key] = value }
func (c metadataCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// injectTraceContext serializes ctx's active span, if any, into metadata
// under events.TraceParentMetadataKey / events.TraceStateMetadataKey.
func injectTraceContext(ctx context.Context, metadata map[string]string) {
	if !trace.SpanContextFromContext(ctx).IsValid() {
		return
	}

	textMapPropagator.Inject(ctx, metadataCarrier(metadata))
}

// flagTraceContext sets events.TraceContextMetadataKey to "available" in
// metadata if it carries a parseable trace context.
func flagTraceContext(metadata map[string]string) {
	if metadata == nil {
		return
	}

	if _, ok := metadata[events.TraceParentMetadataKey]; !ok {
		return
	}

	extracted := textMapPropagator.Extract(context.Background(), metadataCarrier(metadata))
	if trace.SpanContextFromContext(extracted).IsValid() {
		metadata[events.TraceContextMetadataKey] = "available"
	}
}
