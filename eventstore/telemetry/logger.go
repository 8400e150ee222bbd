package telemetry

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/dynamicstreams/dcb-eventstore-go/eventstore/postgresengine"
)

// SlogLogger implements postgresengine.ContextualLogger over log/slog,
// adding trace_id/span_id attributes from the active OpenTelemetry span
// in ctx, the way the oteladapters slog bridge correlates logs with
// traces without requiring the separate OTel logs SDK.
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger wraps an existing *slog.Logger.
func NewSlogLogger(logger *slog.Logger) *SlogLogger {
	return &SlogLogger{logger: logger}
}

func (l *SlogLogger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.logger.DebugContext(ctx, msg, withTraceAttrs(ctx, args)...)
}

func (l *SlogLogger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.logger.InfoContext(ctx, msg, withTraceAttrs(ctx, args)...)
}

func (l *SlogLogger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.logger.WarnContext(ctx, msg, withTraceAttrs(ctx, args)...)
}

func (l *SlogLogger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.logger.ErrorContext(ctx, msg, withTraceAttrs(ctx, args)...)
}

func withTraceAttrs(ctx context.Context, args []any) []any {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return args
	}

	return append(args, "trace_id", sc.TraceID().String(), "span_id", sc.SpanID().String())
}

var _ postgresengine.ContextualLogger = (*SlogLogger)(nil)
