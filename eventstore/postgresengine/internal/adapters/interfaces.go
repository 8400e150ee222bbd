// Package adapters narrows the three supported PostgreSQL client
// libraries (pgx, database/sql, sqlx) down to the handful of operations
// the engine actually needs, so postgresengine's query-building and
// consistency logic stays client-agnostic.
package adapters

import "context"

// Queryer is the minimal surface the engine needs to run a query or
// statement, whether against a bare connection pool or an open
// transaction.
type Queryer interface {
	Query(ctx context.Context, query string) (Rows, error)
	Exec(ctx context.Context, query string) (Result, error)
}

// DB is a connection pool capable of starting transactions.
type DB interface {
	Queryer
	Begin(ctx context.Context) (Tx, error)
}

// Tx is an open transaction; the caller that began it owns Commit and
// Rollback.
type Tx interface {
	Queryer
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Rows is the minimal row-cursor surface used by Stream.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Close() error
	Err() error
}

// Result is the minimal execution-result surface; currently unused by
// Append directly (which reads rows back via RETURNING) but kept for
// statements that don't need rows back.
type Result interface {
	RowsAffected() (int64, error)
}
