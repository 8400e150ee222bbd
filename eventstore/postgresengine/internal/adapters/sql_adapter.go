package adapters

import (
	"context"
	"database/sql"
)

// SQLDB implements DB over a database/sql.DB, driven in practice by the
// lib/pq driver (imported for its side effect by the caller).
type SQLDB struct {
	db *sql.DB
}

// NewSQLDB wraps an existing *sql.DB.
func NewSQLDB(db *sql.DB) *SQLDB {
	return &SQLDB{db: db}
}

func (a *SQLDB) Query(ctx context.Context, query string) (Rows, error) {
	rows, err := a.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	return &sqlRows{rows: rows}, nil
}

func (a *SQLDB) Exec(ctx context.Context, query string) (Result, error) {
	result, err := a.db.ExecContext(ctx, query)
	if err != nil {
		return nil, err
	}
	return sqlResult{result: result}, nil
}

func (a *SQLDB) Begin(ctx context.Context) (Tx, error) {
	tx, err := a.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	return &sqlTx{tx: tx}, nil
}

type sqlTx struct {
	tx *sql.Tx
}

func (t *sqlTx) Query(ctx context.Context, query string) (Rows, error) {
	rows, err := t.tx.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	return &sqlRows{rows: rows}, nil
}

func (t *sqlTx) Exec(ctx context.Context, query string) (Result, error) {
	result, err := t.tx.ExecContext(ctx, query)
	if err != nil {
		return nil, err
	}
	return sqlResult{result: result}, nil
}

func (t *sqlTx) Commit(ctx context.Context) error {
	return t.tx.Commit()
}

func (t *sqlTx) Rollback(ctx context.Context) error {
	return t.tx.Rollback()
}

type sqlRows struct {
	rows *sql.Rows
}

func (r *sqlRows) Next() bool             { return r.rows.Next() }
func (r *sqlRows) Scan(dest ...any) error { return r.rows.Scan(dest...) }
func (r *sqlRows) Err() error             { return r.rows.Err() }
func (r *sqlRows) Close() error           { return r.rows.Close() }

type sqlResult struct {
	result sql.Result
}

func (r sqlResult) RowsAffected() (int64, error) {
	return r.result.RowsAffected()
}

var _ DB = (*SQLDB)(nil)
var _ Tx = (*sqlTx)(nil)
