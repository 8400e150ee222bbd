package eventstore

import "errors"

// Sentinel errors returned by Backend implementations. Constructor-time
// validation errors for value objects live in package events; these are
// the operation-time errors raised by Stream and Append.
var (
	// ErrConcurrencyConflict is returned by Append when the consistency
	// boundary was violated: an event matching the boundary appeared
	// since the caller last read it. The store is left unchanged.
	ErrConcurrencyConflict = errors.New("concurrency conflict: consistency boundary was violated")

	// ErrDuplicateEventID is returned by Append when a batch contains an
	// id that already exists in the store. The store is left unchanged.
	ErrDuplicateEventID = errors.New("duplicate event id")

	// ErrBackend wraps any I/O or database error not classifiable above.
	// Use errors.Join(ErrBackend, cause) to preserve the underlying error.
	ErrBackend = errors.New("event store backend error")

	// ErrEmptyEventsTableName is returned when a relational backend is
	// configured with an empty table name.
	ErrEmptyEventsTableName = errors.New("empty events table name supplied")

	// ErrNilDatabaseConnection is returned when a relational backend is
	// constructed from a nil connection.
	ErrNilDatabaseConnection = errors.New("nil database connection supplied")
)
