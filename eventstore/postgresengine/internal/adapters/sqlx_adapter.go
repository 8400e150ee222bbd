package adapters

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
)

// SQLXDB implements DB over an *sqlx.DB.
type SQLXDB struct {
	db *sqlx.DB
}

// NewSQLXDB wraps an existing *sqlx.DB.
func NewSQLXDB(db *sqlx.DB) *SQLXDB {
	return &SQLXDB{db: db}
}

func (a *SQLXDB) Query(ctx context.Context, query string) (Rows, error) {
	rows, err := a.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, err
	}
	return &sqlxRows{rows: rows}, nil
}

func (a *SQLXDB) Exec(ctx context.Context, query string) (Result, error) {
	result, err := a.db.ExecContext(ctx, query)
	if err != nil {
		return nil, err
	}
	return sqlResult{result: result}, nil
}

func (a *SQLXDB) Begin(ctx context.Context) (Tx, error) {
	tx, err := a.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	return &sqlxTx{tx: tx}, nil
}

type sqlxTx struct {
	tx *sqlx.Tx
}

func (t *sqlxTx) Query(ctx context.Context, query string) (Rows, error) {
	rows, err := t.tx.QueryxContext(ctx, query)
	if err != nil {
		return nil, err
	}
	return &sqlxRows{rows: rows}, nil
}

func (t *sqlxTx) Exec(ctx context.Context, query string) (Result, error) {
	result, err := t.tx.ExecContext(ctx, query)
	if err != nil {
		return nil, err
	}
	return sqlResult{result: result}, nil
}

func (t *sqlxTx) Commit(ctx context.Context) error {
	return t.tx.Commit()
}

func (t *sqlxTx) Rollback(ctx context.Context) error {
	return t.tx.Rollback()
}

type sqlxRows struct {
	rows *sqlx.Rows
}

func (r *sqlxRows) Next() bool             { return r.rows.Next() }
func (r *sqlxRows) Scan(dest ...any) error { return r.rows.Scan(dest...) }
func (r *sqlxRows) Err() error             { return r.rows.Err() }
func (r *sqlxRows) Close() error           { return r.rows.Close() }

var _ DB = (*SQLXDB)(nil)
var _ Tx = (*sqlxTx)(nil)
