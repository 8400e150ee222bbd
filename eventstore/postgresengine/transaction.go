package postgresengine

import (
	"context"
	"errors"

	"github.com/dynamicstreams/dcb-eventstore-go/eventstore"
)

// WithinTransaction runs fn with an ambient transaction scope published
// on its context: if ctx already carries one (eventstore.TxScopeFrom),
// fn reuses it and WithinTransaction does not itself open or close a
// transaction, so several nested WithinTransaction/Append calls in one
// call chain share a single transaction. Otherwise it opens its own
// transaction on es's pool, publishes it, and commits on fn's success
// or rolls back on any error — including eventstore.ErrConcurrencyConflict,
// since a boundary violation inside a scope this call opened leaves
// nothing worth keeping.
func (es EventStore) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := eventstore.TxScopeFrom(ctx); ok {
		return fn(ctx)
	}

	tx, err := es.db.Begin(ctx)
	if err != nil {
		return errors.Join(eventstore.ErrBackend, err)
	}

	scopedCtx := eventstore.WithTxScope(ctx, eventstore.TxScope{Handle: tx})

	if err := fn(scopedCtx); err != nil {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil {
			es.logWarn("failed to roll back transaction", logAttrError, rollbackErr.Error())
		}

		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Join(eventstore.ErrBackend, err)
	}

	return nil
}
