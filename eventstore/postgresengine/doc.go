// Package postgresengine implements eventstore.Backend on top of
// PostgreSQL. Events are stored in one table per schema (default
// "app.events") with the layout:
//
//	position    bigserial primary key
//	id          uuid unique
//	tenant_id   varchar
//	event_type  text
//	data        jsonb
//	tags        text[]
//	created_at  timestamptz
//	metadata    jsonb
//
// Stream translates a eventstore.StreamQuery into a WHERE clause over
// tenant_id, tags (array containment/overlap) and event_type. Append
// issues a single statement that computes whether the boundary has been
// violated and performs the insert in the same round trip, so the check
// and the write share one transaction snapshot; three interchangeable
// adapters (pgx, database/sql via lib/pq, sqlx) back the same narrow
// internal/adapters.DB contract, so the query-building and consistency
// logic above them is driver-agnostic.
//
// Build an EventStore with NewEventStoreFromPGXPool,
// NewEventStoreFromSQLDB or NewEventStoreFromSQLX, and functional
// Options (WithSchema, WithTableName, WithBulkInsertThreshold,
// WithLogger, WithMetrics, WithTracing) to configure it further.
package postgresengine
