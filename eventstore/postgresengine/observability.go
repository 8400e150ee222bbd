package postgresengine

import (
	"context"
	"time"
)

const (
	metricStreamDuration       = "eventstore.stream.duration"
	metricAppendDuration       = "eventstore.append.duration"
	metricConcurrencyConflicts = "eventstore.concurrency_conflicts"
	metricBackendErrors        = "eventstore.backend_errors"
)

// logDebug logs at debug level if a logger is configured.
func (es EventStore) logDebug(msg string, args ...any) {
	if es.logger != nil {
		es.logger.Debug(msg, args...)
	}
}

// logInfo logs at info level if a logger is configured.
func (es EventStore) logInfo(msg string, args ...any) {
	if es.logger != nil {
		es.logger.Info(msg, args...)
	}
}

// logWarn logs at warn level if a logger is configured.
func (es EventStore) logWarn(msg string, args ...any) {
	if es.logger != nil {
		es.logger.Warn(msg, args...)
	}
}

// logError logs at error level if a logger is configured, folding err
// into the arg list the way postgres.go's logError does.
func (es EventStore) logError(msg string, err error, args ...any) {
	if es.logger != nil {
		allArgs := append([]any{logAttrError, err.Error()}, args...)
		es.logger.Error(msg, allArgs...)
	}
}

// recordDuration records an operation duration if a metrics collector is
// configured.
func (es EventStore) recordDuration(metric string, d time.Duration, status string) {
	if es.metricsCollector != nil {
		es.metricsCollector.RecordDuration(metric, d, map[string]string{"status": status})
	}
}

// incrementCounter increments a counter if a metrics collector is
// configured.
func (es EventStore) incrementCounter(metric string) {
	if es.metricsCollector != nil {
		es.metricsCollector.IncrementCounter(metric, nil)
	}
}

// startSpan opens a tracing span if a tracing collector is configured;
// span creation failure is a no-op, never an error (§4.6).
func (es EventStore) startSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, SpanContext) {
	if es.tracingCollector == nil {
		return ctx, nil
	}

	return es.tracingCollector.StartSpan(ctx, name, attrs)
}

// finishSpan closes span if one is active.
func (es EventStore) finishSpan(span SpanContext, status string, attrs map[string]string) {
	if es.tracingCollector != nil && span != nil {
		es.tracingCollector.FinishSpan(span, status, attrs)
	}
}
