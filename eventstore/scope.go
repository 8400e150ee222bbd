package eventstore

import "context"

// txScopeKey is the private context key under which an ambient
// transaction scope is published. Using an unexported struct type
// avoids collisions with keys from other packages.
type txScopeKey struct{}

// TxScope is an ambient, flow-local handle to an open
// connection+transaction pair, published by a backend's own
// transaction helper (see postgresengine.WithinTransaction) so that
// several Append calls nested within one call chain share a single
// transaction instead of each opening and committing their own.
//
// Handle carries the backend-specific transaction object (e.g. a
// wrapped pgx.Tx); only the backend that published it knows how to use
// it, so callers must treat it as opaque.
type TxScope struct {
	Handle any
}

// WithTxScope returns a context carrying scope as the ambient
// transaction. Scopes nest by replacing the current value for the
// returned context's subtree; the caller's original ctx (and therefore
// any sibling call chain) is unaffected, which is what makes the scope
// per-flow-of-control rather than process-wide.
func WithTxScope(ctx context.Context, scope TxScope) context.Context {
	return context.WithValue(ctx, txScopeKey{}, scope)
}

// TxScopeFrom retrieves the ambient transaction scope from ctx, if one
// was published by an enclosing call.
func TxScopeFrom(ctx context.Context) (TxScope, bool) {
	scope, ok := ctx.Value(txScopeKey{}).(TxScope)
	return scope, ok
}
