package eventstore

import (
	"context"

	"github.com/google/uuid"

	"github.com/dynamicstreams/dcb-eventstore-go/events"
)

// Backend is the two-operation contract every storage engine implements.
type Backend interface {
	// Stream returns all stored events of tenant matching query, ordered
	// by ascending position. If maxCount > 0, the result is truncated to
	// the first maxCount after ordering. Stream never fails except on
	// I/O or cancellation.
	Stream(ctx context.Context, tenant events.Tenant, query StreamQuery, maxCount int) ([]events.EventEnvelope, error)

	// Append inserts toPersist for tenant in input order under a single
	// atomic unit. If toPersist is empty, Append returns an empty result
	// without side effects.
	//
	// When boundary is nil, the insert is unconditional. When boundary
	// is non-nil, the insert succeeds only if no event of tenant that
	// matches boundary has a position greater than that of the event
	// named by expectedLastEventID; when expectedLastEventID is nil or
	// names no stored event of tenant, any matching event at all fails
	// the check. A failed check
	// returns ErrConcurrencyConflict and leaves the store unchanged.
	// A duplicate id returns ErrDuplicateEventID and leaves the store
	// unchanged.
	Append(
		ctx context.Context,
		tenant events.Tenant,
		toPersist []events.EventToPersist,
		boundary *StreamQuery,
		expectedLastEventID *uuid.UUID,
	) ([]events.EventEnvelope, error)
}
