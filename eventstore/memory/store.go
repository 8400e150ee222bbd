// Package memory provides the in-memory reference implementation of the
// eventstore.Backend contract: a single process-wide mutex guards
// Append, while Stream reads an immutable, copy-on-write snapshot of
// each tenant's events without taking that mutex.
//
// It exists to exercise the DCB protocol without a database, and as a
// fast backend for unit tests of code built on top of the store.
package memory

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dynamicstreams/dcb-eventstore-go/events"
	"github.com/dynamicstreams/dcb-eventstore-go/eventstore"
)

// storedEvent is the internal representation held by the store; it adds
// the assigned position to the fields of events.EventToPersist.
type storedEvent struct {
	position  uint64
	id        uuid.UUID
	eventType events.EventType
	tags      []events.EventTag
	payload   []byte
	metadata  map[string]string
	created   time.Time
}

func (se storedEvent) toEnvelope() events.EventEnvelope {
	meta := make(map[string]string, len(se.metadata)+1)
	for k, v := range se.metadata {
		meta[k] = v
	}
	meta[events.PositionMetadataKey] = strconv.FormatUint(se.position, 10)

	return events.EventEnvelope{
		ID:       se.id,
		Type:     se.eventType,
		Payload:  se.payload,
		Metadata: meta,
		Created:  se.created,
	}
}

// Store is the in-memory Backend. The zero value is not usable; build
// one with New.
type Store struct {
	mu       sync.Mutex               // guards Append and the id index below
	position atomic.Uint64            // global monotonic position counter
	ids      map[uuid.UUID]uuid.UUID  // global id uniqueness index (value unused)
	tenants  sync.Map                 // tenantKey(string) -> *atomic.Pointer[[]storedEvent]
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		ids: make(map[uuid.UUID]uuid.UUID),
	}
}

var _ eventstore.Backend = (*Store)(nil)

func (s *Store) snapshot(tenantKey string) []storedEvent {
	v, ok := s.tenants.Load(tenantKey)
	if !ok {
		return nil
	}

	return *v.(*atomic.Pointer[[]storedEvent]).Load() //nolint:forcetypeassert
}

// Stream returns all stored events of tenant matching query, ordered by
// ascending position, truncated to maxCount if > 0. It reads an
// immutable snapshot of the tenant's events and never blocks on the
// append-side mutex.
func (s *Store) Stream(
	ctx context.Context,
	tenant events.Tenant,
	query eventstore.StreamQuery,
	maxCount int,
) ([]events.EventEnvelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	snap := s.snapshot(tenant.String())

	matched := make([]events.EventEnvelope, 0, len(snap))
	for _, se := range snap {
		if query.Matches(se.eventType, se.tags) {
			matched = append(matched, se.toEnvelope())
		}
	}

	if maxCount > 0 && len(matched) > maxCount {
		matched = matched[:maxCount]
	}

	return matched, nil
}

// Append inserts toPersist for tenant atomically under the store's
// single mutex. See eventstore.Backend for the full contract.
func (s *Store) Append(
	ctx context.Context,
	tenant events.Tenant,
	toPersist []events.EventToPersist,
	boundary *eventstore.StreamQuery,
	expectedLastEventID *uuid.UUID,
) ([]events.EventEnvelope, error) {
	if len(toPersist) == 0 {
		return nil, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tenantKey := tenant.String()
	existing := s.snapshot(tenantKey)

	if boundary != nil {
		if violatesBoundary(existing, *boundary, expectedLastEventID) {
			return nil, eventstore.ErrConcurrencyConflict
		}
	}

	// Validate uniqueness before mutating any state, so a duplicate
	// anywhere in the batch leaves the store untouched.
	seenInBatch := make(map[uuid.UUID]struct{}, len(toPersist))
	for _, e := range toPersist {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if _, ok := s.ids[e.ID]; ok {
			return nil, eventstore.ErrDuplicateEventID
		}

		if _, ok := seenInBatch[e.ID]; ok {
			return nil, eventstore.ErrDuplicateEventID
		}

		seenInBatch[e.ID] = struct{}{}
	}

	appended := make([]storedEvent, 0, len(toPersist))
	for _, e := range toPersist {
		pos := s.position.Add(1)

		se := storedEvent{
			position:  pos,
			id:        e.ID,
			eventType: e.Type,
			tags:      e.Tags,
			payload:   e.Payload,
			metadata:  e.Metadata,
			created:   e.Created,
		}

		appended = append(appended, se)
		s.ids[e.ID] = e.ID
	}

	updated := make([]storedEvent, len(existing), len(existing)+len(appended))
	copy(updated, existing)
	updated = append(updated, appended...)

	ptr := &atomic.Pointer[[]storedEvent]{}
	ptr.Store(&updated)
	s.tenants.Store(tenantKey, ptr)

	envelopes := make([]events.EventEnvelope, len(appended))
	for i, se := range appended {
		envelopes[i] = se.toEnvelope()
	}

	return envelopes, nil
}

// violatesBoundary reports whether any event among existing matches
// boundary with a position strictly greater than the position the
// writer last accounted for. When expectedLastEventID is nil, or
// refers to an id not present in existing, that "last known position"
// is treated as -1, i.e. any match at all is a violation.
func violatesBoundary(
	existing []storedEvent,
	boundary eventstore.StreamQuery,
	expectedLastEventID *uuid.UUID,
) bool {
	lastKnownPosition := int64(-1)

	if expectedLastEventID != nil {
		for _, se := range existing {
			if se.id == *expectedLastEventID {
				lastKnownPosition = int64(se.position)
				break
			}
		}
	}

	for _, se := range existing {
		if int64(se.position) > lastKnownPosition && boundary.Matches(se.eventType, se.tags) {
			return true
		}
	}

	return false
}

// --- debugging accessors; not part of the Backend contract ---

// AllEvents returns every stored event for tenant, ordered by position.
// Intended for tests and debugging only.
func (s *Store) AllEvents(tenant events.Tenant) []events.EventEnvelope {
	snap := s.snapshot(tenant.String())
	out := make([]events.EventEnvelope, len(snap))
	for i, se := range snap {
		out[i] = se.toEnvelope()
	}
	return out
}

// Count returns the number of stored events for tenant.
func (s *Store) Count(tenant events.Tenant) int {
	return len(s.snapshot(tenant.String()))
}

// Contains reports whether id has been stored for any tenant.
func (s *Store) Contains(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.ids[id]
	return ok
}
