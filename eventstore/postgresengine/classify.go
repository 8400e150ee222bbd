package postgresengine

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/dynamicstreams/dcb-eventstore-go/eventstore"
)

// uniqueViolationCode is the Postgres SQLSTATE for a unique-constraint
// violation, raised here by the events.id UNIQUE constraint.
const uniqueViolationCode = "23505"

// classifyInsertError turns a raw driver error from an append statement
// into one of the store's sentinel errors, recognizing a unique-id
// violation across all three supported drivers.
func classifyInsertError(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
		return eventstore.ErrDuplicateEventID
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolationCode {
		return eventstore.ErrDuplicateEventID
	}

	return errors.Join(eventstore.ErrBackend, err)
}
