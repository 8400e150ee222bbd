package adapters

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGXDB implements DB over a pgxpool.Pool.
type PGXDB struct {
	pool *pgxpool.Pool
}

// NewPGXDB wraps an existing pgx pool.
func NewPGXDB(pool *pgxpool.Pool) *PGXDB {
	return &PGXDB{pool: pool}
}

func (a *PGXDB) Query(ctx context.Context, query string) (Rows, error) {
	rows, err := a.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	return &pgxRows{rows: rows}, nil
}

func (a *PGXDB) Exec(ctx context.Context, query string) (Result, error) {
	tag, err := a.pool.Exec(ctx, query)
	if err != nil {
		return nil, err
	}
	return pgxResult{tag: tag}, nil
}

func (a *PGXDB) Begin(ctx context.Context) (Tx, error) {
	tx, err := a.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, err
	}
	return &pgxTx{tx: tx}, nil
}

type pgxTx struct {
	tx pgx.Tx
}

func (t *pgxTx) Query(ctx context.Context, query string) (Rows, error) {
	rows, err := t.tx.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	return &pgxRows{rows: rows}, nil
}

func (t *pgxTx) Exec(ctx context.Context, query string) (Result, error) {
	tag, err := t.tx.Exec(ctx, query)
	if err != nil {
		return nil, err
	}
	return pgxResult{tag: tag}, nil
}

func (t *pgxTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *pgxTx) Rollback(ctx context.Context) error {
	return t.tx.Rollback(ctx)
}

type pgxRows struct {
	rows pgx.Rows
}

func (r *pgxRows) Next() bool                 { return r.rows.Next() }
func (r *pgxRows) Scan(dest ...any) error     { return r.rows.Scan(dest...) }
func (r *pgxRows) Err() error                  { return r.rows.Err() }
func (r *pgxRows) Close() error {
	r.rows.Close()
	return nil
}

type pgxResult struct {
	tag pgconnCommandTag
}

// pgconnCommandTag narrows pgconn.CommandTag to the one method used here.
type pgconnCommandTag interface {
	RowsAffected() int64
}

func (r pgxResult) RowsAffected() (int64, error) {
	return r.tag.RowsAffected(), nil
}

var _ DB = (*PGXDB)(nil)
var _ Tx = (*pgxTx)(nil)
