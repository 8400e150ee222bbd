package postgresengine

import (
	"context"
	"time"

	"github.com/dynamicstreams/dcb-eventstore-go/eventstore"
)

// Logger receives the SQL of each append statement at debug level,
// operation summaries (event counts, durations) at info level, non-fatal
// cleanup issues and the bulk-to-sequential fallback at warn level, and
// Stream failures at error level. Nil-safe: a store with no logger configured just skips
// every call site.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// ContextualLogger is the context-aware counterpart of Logger, for
// callers who want trace/span correlation in log lines. An EventStore
// keeps the one set with WithContextualLogger but does not call it; the
// store's own log lines go through Logger only.
type ContextualLogger interface {
	DebugContext(ctx context.Context, msg string, args ...any)
	InfoContext(ctx context.Context, msg string, args ...any)
	WarnContext(ctx context.Context, msg string, args ...any)
	ErrorContext(ctx context.Context, msg string, args ...any)
}

// MetricsCollector receives Stream and Append durations (labeled by
// status) and concurrency-conflict and backend-error counters. The
// store itself does not call RecordValue.
type MetricsCollector interface {
	RecordDuration(metric string, duration time.Duration, labels map[string]string)
	IncrementCounter(metric string, labels map[string]string)
	RecordValue(metric string, value float64, labels map[string]string)
}

// SpanContext is an active tracing span that can be annotated and closed.
type SpanContext interface {
	SetStatus(status string)
	AddAttribute(key, value string)
}

// TracingCollector opens and closes spans around Stream and Append. It
// follows the same dependency-free shape as MetricsCollector, so callers
// can back it with OpenTelemetry, Jaeger, or anything else.
type TracingCollector interface {
	StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, SpanContext)
	FinishSpan(spanCtx SpanContext, status string, attrs map[string]string)
}

const (
	defaultEventTableName   = "events"
	defaultSchema           = "app"
	defaultBulkInsertThresh = 5
)

// Config collects the relational backend's tunables. The zero value is
// not meant to be used directly; NewEventStoreFrom* fills in defaults
// for anything left unset.
type Config struct {
	// ConnectionString is a libpq-style DSN, used only by
	// NewEventStoreFromConnectionString to build its own pgxpool.Pool.
	// Callers building their own pool/sql.DB/sqlx.DB ignore this field.
	ConnectionString string

	// Schema is the Postgres schema the events table lives in.
	Schema string

	// BulkInsertThreshold is the minimum batch size, in events, at
	// which Append switches from one-row-at-a-time inserts to a
	// single multi-row statement. Values <= 0 fall back to 5.
	BulkInsertThreshold int
}

func (c Config) withDefaults() Config {
	if c.Schema == "" {
		c.Schema = defaultSchema
	}

	if c.BulkInsertThreshold <= 0 {
		c.BulkInsertThreshold = defaultBulkInsertThresh
	}

	return c
}

// Option configures an EventStore at construction time.
type Option func(*EventStore) error

// WithTableName overrides the default "events" table name.
func WithTableName(tableName string) Option {
	return func(es *EventStore) error {
		if tableName == "" {
			return eventstore.ErrEmptyEventsTableName
		}

		es.eventTableName = tableName

		return nil
	}
}

// WithSchema overrides the default "app" schema.
func WithSchema(schema string) Option {
	return func(es *EventStore) error {
		if schema == "" {
			schema = defaultSchema
		}

		es.schema = schema

		return nil
	}
}

// WithBulkInsertThreshold overrides the default bulk-insert threshold of
// 5; values <= 0 are treated as 5.
func WithBulkInsertThreshold(threshold int) Option {
	return func(es *EventStore) error {
		if threshold <= 0 {
			threshold = defaultBulkInsertThresh
		}

		es.bulkInsertThreshold = threshold

		return nil
	}
}

// WithLogger attaches a Logger.
func WithLogger(logger Logger) Option {
	return func(es *EventStore) error {
		es.logger = logger
		return nil
	}
}

// WithContextualLogger attaches a ContextualLogger; the store does not
// log through it (see ContextualLogger).
func WithContextualLogger(logger ContextualLogger) Option {
	return func(es *EventStore) error {
		es.contextualLogger = logger
		return nil
	}
}

// WithMetrics attaches a MetricsCollector.
func WithMetrics(collector MetricsCollector) Option {
	return func(es *EventStore) error {
		es.metricsCollector = collector
		return nil
	}
}

// WithTracing attaches a TracingCollector.
func WithTracing(collector TracingCollector) Option {
	return func(es *EventStore) error {
		es.tracingCollector = collector
		return nil
	}
}
