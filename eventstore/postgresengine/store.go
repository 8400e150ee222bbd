// Package postgresengine is the durable eventstore.Backend: a single
// "events" table per schema, queried and appended to with goqu-built
// SQL, with the consistency boundary enforced by the database itself
// inside the same statement that performs the insert.
package postgresengine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"

	"github.com/google/uuid"

	"github.com/dynamicstreams/dcb-eventstore-go/events"
	"github.com/dynamicstreams/dcb-eventstore-go/eventstore"
	"github.com/dynamicstreams/dcb-eventstore-go/eventstore/postgresengine/internal/adapters"
)

const (
	logMsgBuildQueryFailed  = "failed to build sql query"
	logMsgQueryFailed       = "database query execution failed"
	logMsgScanFailed        = "failed to scan database row"
	logMsgQueryCompleted    = "query completed"
	logMsgEventsAppended    = "events appended"
	logMsgConcurrencyConf   = "concurrency conflict detected"
	logMsgBulkFallback      = "bulk append failed, retrying sequentially"
	logAttrError            = "error"
	logAttrQuery            = "query"
	logAttrEventCount       = "event_count"
	logAttrDurationMS       = "duration_ms"
	spanNameStream          = "Stream"
	spanNameAppend          = "Append"
	spanAttrEventsMax       = "events.max"
	spanAttrEventID         = "event.id"
	spanAttrEventType       = "event.type"
	spanAttrEventTags       = "event.tags"
	statusOK                = "ok"
	statusError             = "error"
	statusConflict          = "conflict"

	defaultMaxConnections    = int32(8)
	defaultMinConnections    = int32(2)
	defaultMaxConnLifetime   = time.Hour
	defaultMaxConnIdleTime   = 5 * time.Minute
	defaultHealthCheckPeriod = time.Minute
	defaultConnectTimeout    = 5 * time.Second
)

var jsonAPI = jsoniter.ConfigFastest

// EventStore is the Postgres-backed eventstore.Backend. The zero value
// is not usable; build one with NewEventStoreFromPGXPool,
// NewEventStoreFromSQLDB or NewEventStoreFromSQLX.
type EventStore struct {
	db                  adapters.DB
	eventTableName      string
	schema              string
	bulkInsertThreshold int

	logger           Logger
	contextualLogger ContextualLogger
	metricsCollector MetricsCollector
	tracingCollector TracingCollector
}

var _ eventstore.Backend = (*EventStore)(nil)

func newEventStore(db adapters.DB, options []Option) (EventStore, error) {
	if db == nil {
		return EventStore{}, eventstore.ErrNilDatabaseConnection
	}

	cfg := Config{}.withDefaults()

	es := EventStore{
		db:                  db,
		eventTableName:      defaultEventTableName,
		schema:              cfg.Schema,
		bulkInsertThreshold: cfg.BulkInsertThreshold,
	}

	for _, option := range options {
		if err := option(&es); err != nil {
			return EventStore{}, err
		}
	}

	return es, nil
}

// NewEventStoreFromPGXPool builds an EventStore over a pgx connection
// pool.
func NewEventStoreFromPGXPool(db *pgxpool.Pool, options ...Option) (EventStore, error) {
	if db == nil {
		return EventStore{}, eventstore.ErrNilDatabaseConnection
	}

	return newEventStore(adapters.NewPGXDB(db), options)
}

// NewEventStoreFromSQLDB builds an EventStore over a database/sql pool,
// driven in practice by github.com/lib/pq.
func NewEventStoreFromSQLDB(db *sql.DB, options ...Option) (EventStore, error) {
	if db == nil {
		return EventStore{}, eventstore.ErrNilDatabaseConnection
	}

	return newEventStore(adapters.NewSQLDB(db), options)
}

// NewEventStoreFromSQLX builds an EventStore over an sqlx pool.
func NewEventStoreFromSQLX(db *sqlx.DB, options ...Option) (EventStore, error) {
	if db == nil {
		return EventStore{}, eventstore.ErrNilDatabaseConnection
	}

	return newEventStore(adapters.NewSQLXDB(db), options)
}

// NewEventStoreFromConnectionString builds a pooled pgxpool.Pool from
// cfg.ConnectionString with the same pooled-connection defaults as the
// rest of this module's callers, then builds an EventStore over it with
// cfg.Schema and cfg.BulkInsertThreshold (defaulted when unset) applied
// before options.
func NewEventStoreFromConnectionString(ctx context.Context, cfg Config, options ...Option) (EventStore, error) {
	if cfg.ConnectionString == "" {
		return EventStore{}, eventstore.ErrNilDatabaseConnection
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString)
	if err != nil {
		return EventStore{}, errors.Join(eventstore.ErrBackend, err)
	}

	poolConfig.MaxConns = defaultMaxConnections
	poolConfig.MinConns = defaultMinConnections
	poolConfig.MaxConnLifetime = defaultMaxConnLifetime
	poolConfig.MaxConnIdleTime = defaultMaxConnIdleTime
	poolConfig.HealthCheckPeriod = defaultHealthCheckPeriod
	poolConfig.ConnConfig.ConnectTimeout = defaultConnectTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return EventStore{}, errors.Join(eventstore.ErrBackend, err)
	}

	cfg = cfg.withDefaults()
	options = append([]Option{WithSchema(cfg.Schema), WithBulkInsertThreshold(cfg.BulkInsertThreshold)}, options...)

	return NewEventStoreFromPGXPool(pool, options...)
}

// queryer resolves to the ambient transaction scope's handle when one is
// set on ctx, falling back to the store's own pool otherwise — see
// eventstore.WithTxScope.
func (es EventStore) queryer(ctx context.Context) adapters.Queryer {
	if scope, ok := eventstore.TxScopeFrom(ctx); ok {
		if q, ok := scope.Handle.(adapters.Queryer); ok {
			return q
		}
	}

	return es.db
}

// Stream returns the tenant's events matching query, ordered by
// ascending position, truncated to maxCount if > 0.
func (es EventStore) Stream(
	ctx context.Context,
	tenant events.Tenant,
	query eventstore.StreamQuery,
	maxCount int,
) ([]events.EventEnvelope, error) {
	ctx, span := es.startSpan(ctx, fmt.Sprintf("%s %s", spanNameStream, query.String()), map[string]string{
		spanAttrEventsMax: strconv.Itoa(maxCount),
	})

	start := time.Now()

	sqlQuery, err := es.buildSelectQuery(tenant, query, maxCount)
	if err != nil {
		es.logError(logMsgBuildQueryFailed, err)
		es.finishSpan(span, statusError, nil)
		return nil, errors.Join(eventstore.ErrBackend, err)
	}

	rows, err := es.queryer(ctx).Query(ctx, sqlQuery)
	duration := time.Since(start)

	if err != nil {
		es.logError(logMsgQueryFailed, err, logAttrQuery, sqlQuery)
		es.recordDuration(metricStreamDuration, duration, statusError)
		es.finishSpan(span, statusError, nil)
		return nil, errors.Join(eventstore.ErrBackend, err)
	}
	defer es.closeRows(rows)

	envelopes, scanErr := scanEnvelopes(rows)
	if scanErr != nil {
		es.logError(logMsgScanFailed, scanErr)
		es.finishSpan(span, statusError, nil)
		return nil, errors.Join(eventstore.ErrBackend, scanErr)
	}

	es.logInfo(logMsgQueryCompleted, logAttrEventCount, len(envelopes), logAttrDurationMS, duration.Milliseconds())
	es.recordDuration(metricStreamDuration, duration, statusOK)
	es.finishSpan(span, statusOK, map[string]string{spanAttrEventsMax: strconv.Itoa(len(envelopes))})

	return envelopes, nil
}

func scanEnvelopes(rows adapters.Rows) ([]events.EventEnvelope, error) {
	out := make([]events.EventEnvelope, 0)

	for rows.Next() {
		var (
			id        uuid.UUID
			eventType string
			data      []byte
			createdAt time.Time
			metadata  []byte
			position  int64
		)

		if err := rows.Scan(&id, &eventType, &data, &createdAt, &metadata, &position); err != nil {
			return nil, err
		}

		et, err := events.NewEventType(eventType)
		if err != nil {
			return nil, err
		}

		meta := map[string]string{}
		if len(metadata) > 0 {
			if err := jsonAPI.Unmarshal(metadata, &meta); err != nil {
				return nil, err
			}
		}
		meta[events.PositionMetadataKey] = strconv.FormatInt(position, 10)

		out = append(out, events.EventEnvelope{
			ID:       id,
			Type:     et,
			Payload:  data,
			Metadata: meta,
			Created:  createdAt,
		})
	}

	return out, rows.Err()
}

// Append inserts toPersist for tenant, enforcing boundary/
// expectedLastEventID atomically in the database. See eventstore.Backend
// for the full contract.
func (es EventStore) Append(
	ctx context.Context,
	tenant events.Tenant,
	toPersist []events.EventToPersist,
	boundary *eventstore.StreamQuery,
	expectedLastEventID *uuid.UUID,
) ([]events.EventEnvelope, error) {
	if len(toPersist) == 0 {
		return nil, nil
	}

	attrs := map[string]string{}
	for i, e := range toPersist {
		attrs[fmt.Sprintf("%s.%d", spanAttrEventID, i)] = e.ID.String()
		attrs[fmt.Sprintf("%s.%d", spanAttrEventType, i)] = e.Type.String()
		attrs[fmt.Sprintf("%s.%d", spanAttrEventTags, i)] = tagStrings(e.Tags)
	}

	ctx, span := es.startSpan(ctx, spanNameAppend, attrs)
	start := time.Now()

	var envelopes []events.EventEnvelope
	var err error

	if len(toPersist) >= es.bulkInsertThreshold {
		envelopes, err = es.appendBulk(ctx, tenant, toPersist, boundary, expectedLastEventID)
		if err != nil && !errors.Is(err, eventstore.ErrConcurrencyConflict) && !errors.Is(err, eventstore.ErrDuplicateEventID) {
			es.logWarn(logMsgBulkFallback, logAttrError, err.Error())
			envelopes, err = es.appendSequential(ctx, tenant, toPersist, boundary, expectedLastEventID)
		}
	} else {
		envelopes, err = es.appendSequential(ctx, tenant, toPersist, boundary, expectedLastEventID)
	}

	duration := time.Since(start)

	switch {
	case errors.Is(err, eventstore.ErrConcurrencyConflict):
		es.logInfo(logMsgConcurrencyConf, logAttrEventCount, len(toPersist))
		es.recordDuration(metricAppendDuration, duration, statusConflict)
		es.incrementCounter(metricConcurrencyConflicts)
		es.finishSpan(span, statusConflict, nil)
		return nil, err
	case err != nil:
		es.recordDuration(metricAppendDuration, duration, statusError)
		es.incrementCounter(metricBackendErrors)
		es.finishSpan(span, statusError, nil)
		return nil, err
	}

	es.logInfo(logMsgEventsAppended, logAttrEventCount, len(envelopes), logAttrDurationMS, duration.Milliseconds())
	es.recordDuration(metricAppendDuration, duration, statusOK)
	es.finishSpan(span, statusOK, nil)

	return envelopes, nil
}

// appendBulk issues a single multi-row check-and-insert statement for
// the whole batch.
func (es EventStore) appendBulk(
	ctx context.Context,
	tenant events.Tenant,
	toPersist []events.EventToPersist,
	boundary *eventstore.StreamQuery,
	expectedLastEventID *uuid.UUID,
) ([]events.EventEnvelope, error) {
	sqlQuery, err := buildAppendQuery(es.qualifiedTable(), tenant, toPersist, boundary, expectedLastEventID)
	if err != nil {
		return nil, errors.Join(eventstore.ErrBackend, err)
	}

	positions, err := es.executeAppend(ctx, sqlQuery)
	if err != nil {
		return nil, err
	}

	if len(positions) == 0 {
		return nil, eventstore.ErrConcurrencyConflict
	}

	return buildEnvelopes(toPersist, positions)
}

// appendSequential inserts one event at a time, each with its own
// boundary check; after the first successful row the boundary is
// dropped for the remaining rows in the batch, since a conflict there
// would only ever be against the row this writer just inserted. Unlike
// appendBulk, this is several statements, so unless ctx already carries
// an ambient transaction scope (see eventstore.WithTxScope) this opens
// its own transaction around the whole loop and commits once at the
// end; otherwise an event inserted early in the loop would durably
// commit on its own even if a later event in the same batch failed.
func (es EventStore) appendSequential(
	ctx context.Context,
	tenant events.Tenant,
	toPersist []events.EventToPersist,
	boundary *eventstore.StreamQuery,
	expectedLastEventID *uuid.UUID,
) ([]events.EventEnvelope, error) {
	if _, ok := eventstore.TxScopeFrom(ctx); ok {
		return es.appendSequentialRows(ctx, tenant, toPersist, boundary, expectedLastEventID)
	}

	tx, err := es.db.Begin(ctx)
	if err != nil {
		return nil, errors.Join(eventstore.ErrBackend, err)
	}

	scopedCtx := eventstore.WithTxScope(ctx, eventstore.TxScope{Handle: tx})

	envelopes, err := es.appendSequentialRows(scopedCtx, tenant, toPersist, boundary, expectedLastEventID)
	if err != nil {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil {
			es.logWarn("failed to roll back transaction", logAttrError, rollbackErr.Error())
		}
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Join(eventstore.ErrBackend, err)
	}

	return envelopes, nil
}

// appendSequentialRows runs the per-event insert loop itself, against
// whatever queryer ctx resolves to; the caller (appendSequential) owns
// opening and closing any transaction the loop runs inside.
func (es EventStore) appendSequentialRows(
	ctx context.Context,
	tenant events.Tenant,
	toPersist []events.EventToPersist,
	boundary *eventstore.StreamQuery,
	expectedLastEventID *uuid.UUID,
) ([]events.EventEnvelope, error) {
	positions := make(map[uuid.UUID]int64, len(toPersist))
	activeBoundary := boundary
	activeExpected := expectedLastEventID

	for _, e := range toPersist {
		sqlQuery, err := buildAppendQuery(es.qualifiedTable(), tenant, []events.EventToPersist{e}, activeBoundary, activeExpected)
		if err != nil {
			return nil, errors.Join(eventstore.ErrBackend, err)
		}

		positionByID, err := es.executeAppend(ctx, sqlQuery)
		if err != nil {
			return nil, err
		}

		position, ok := positionByID[e.ID]
		if !ok {
			return nil, eventstore.ErrConcurrencyConflict
		}

		positions[e.ID] = position
		activeBoundary = nil
		activeExpected = nil
	}

	return buildEnvelopes(toPersist, positions)
}

// executeAppend runs sqlQuery, which is expected to RETURNING (id,
// position), and returns the assigned position of every inserted row
// keyed by event ID. Postgres does not guarantee that a multi-row
// INSERT ... SELECT ... RETURNING preserves the order of its VALUES, so
// callers must not assume RETURNING row order matches toPersist order.
// An empty result (no rows) is the signal for "boundary violated,
// nothing inserted" and is not itself an error.
func (es EventStore) executeAppend(ctx context.Context, sqlQuery string) (map[uuid.UUID]int64, error) {
	es.logDebug(sqlQuery)

	rows, err := es.queryer(ctx).Query(ctx, sqlQuery)
	if err != nil {
		return nil, classifyInsertError(err)
	}
	defer es.closeRows(rows)

	positionByID := make(map[uuid.UUID]int64)
	for rows.Next() {
		var id uuid.UUID
		var position int64
		if err := rows.Scan(&id, &position); err != nil {
			return nil, errors.Join(eventstore.ErrBackend, err)
		}
		positionByID[id] = position
	}

	if err := rows.Err(); err != nil {
		return nil, classifyInsertError(err)
	}

	return positionByID, nil
}

// buildEnvelopes assigns each persisted event its position by event ID,
// never by row or slice index, since RETURNING row order is not
// guaranteed to match toPersist order.
func buildEnvelopes(toPersist []events.EventToPersist, positionByID map[uuid.UUID]int64) ([]events.EventEnvelope, error) {
	out := make([]events.EventEnvelope, len(toPersist))

	for i, e := range toPersist {
		position, ok := positionByID[e.ID]
		if !ok {
			return nil, eventstore.ErrConcurrencyConflict
		}

		meta := make(map[string]string, len(e.Metadata)+1)
		for k, v := range e.Metadata {
			meta[k] = v
		}
		meta[events.PositionMetadataKey] = strconv.FormatInt(position, 10)

		out[i] = events.EventEnvelope{
			ID:       e.ID,
			Type:     e.Type,
			Payload:  e.Payload,
			Metadata: meta,
			Created:  e.Created,
		}
	}

	return out, nil
}

func (es EventStore) closeRows(rows adapters.Rows) {
	if closeErr := rows.Close(); closeErr != nil {
		es.logWarn("failed to close database rows", logAttrError, closeErr.Error())
	}
}

func metadataJSON(metadata map[string]string) string {
	if len(metadata) == 0 {
		return "{}"
	}

	b, err := jsonAPI.Marshal(metadata)
	if err != nil {
		return "{}"
	}

	return string(b)
}

func tagStrings(tags []events.EventTag) string {
	out := ""
	for i, t := range tags {
		if i > 0 {
			out += ","
		}
		out += t.String()
	}
	return out
}
