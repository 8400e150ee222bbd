package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dynamicstreams/dcb-eventstore-go/events"
	"github.com/dynamicstreams/dcb-eventstore-go/eventstore"
)

func mustTenant(t *testing.T, id string) events.Tenant {
	t.Helper()
	tenant, err := events.NewTenant(id)
	require.NoError(t, err)
	return tenant
}

func mustTag(t *testing.T, concept, id string) events.EventTag {
	t.Helper()
	tag, err := events.NewEventTag(concept, id)
	require.NoError(t, err)
	return tag
}

func mustType(t *testing.T, v string) events.EventType {
	t.Helper()
	et, err := events.NewEventType(v)
	require.NoError(t, err)
	return et
}

func mustEvent(t *testing.T, eventType events.EventType, tags ...events.EventTag) events.EventToPersist {
	t.Helper()
	e, err := events.NewEventToPersist(uuid.New(), eventType, tags, []byte(`{}`), map[string]string{"k": "v"}, time.Now())
	require.NoError(t, err)
	return e
}

// Test_S1_AppendOne_StreamByTag covers scenario S1.
func Test_S1_AppendOne_StreamByTag(t *testing.T) {
	store := New()
	ctx := context.Background()
	tenant := mustTenant(t, "acme")
	orderTag := mustTag(t, "order", "123")
	orderPlaced := mustType(t, "order-placed")

	e := mustEvent(t, orderPlaced, orderTag)

	envelopes, err := store.Append(ctx, tenant, []events.EventToPersist{e}, nil, nil)
	require.NoError(t, err)
	require.Len(t, envelopes, 1)
	assert.Equal(t, "1", envelopes[0].Metadata[events.PositionMetadataKey])

	result, err := store.Stream(ctx, tenant, eventstore.NewStreamQuery().WithTags(orderTag), 0)
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Equal(t, e.ID, result[0].ID)
}

// Test_S2_AppendThree_InOneCall_Positions covers scenario S2.
func Test_S2_AppendThree_InOneCall_Positions(t *testing.T) {
	store := New()
	ctx := context.Background()
	tenant := mustTenant(t, "acme")
	orderTag := mustTag(t, "order", "123")
	orderPlaced := mustType(t, "order-placed")

	a := mustEvent(t, orderPlaced, orderTag)
	b := mustEvent(t, orderPlaced, orderTag)
	c := mustEvent(t, orderPlaced, orderTag)

	envelopes, err := store.Append(ctx, tenant, []events.EventToPersist{a, b, c}, nil, nil)
	require.NoError(t, err)
	require.Len(t, envelopes, 3)

	for i, want := range []string{"1", "2", "3"} {
		assert.Equal(t, want, envelopes[i].Metadata[events.PositionMetadataKey])
	}

	result, err := store.Stream(ctx, tenant, eventstore.NewStreamQuery().WithTags(orderTag), 0)
	require.NoError(t, err)
	require.Len(t, result, 3)
	assert.Equal(t, []uuid.UUID{a.ID, b.ID, c.ID}, []uuid.UUID{result[0].ID, result[1].ID, result[2].ID})
}

// Test_S3_DuplicateID_Fails covers scenario S3.
func Test_S3_DuplicateID_Fails(t *testing.T) {
	store := New()
	ctx := context.Background()
	tenant := mustTenant(t, "acme")
	orderPlaced := mustType(t, "order-placed")

	x := mustEvent(t, orderPlaced)

	_, err := store.Append(ctx, tenant, []events.EventToPersist{x}, nil, nil)
	require.NoError(t, err)

	_, err = store.Append(ctx, tenant, []events.EventToPersist{x}, nil, nil)
	assert.ErrorIs(t, err, eventstore.ErrDuplicateEventID)

	result, err := store.Stream(ctx, tenant, eventstore.NewStreamQuery().WithEventTypes(orderPlaced), 0)
	require.NoError(t, err)
	assert.Len(t, result, 1)
}

func Test_DuplicateID_AcrossTenants_StillFails(t *testing.T) {
	store := New()
	ctx := context.Background()
	tenantA := mustTenant(t, "a")
	tenantB := mustTenant(t, "b")
	orderPlaced := mustType(t, "order-placed")

	x := mustEvent(t, orderPlaced)

	_, err := store.Append(ctx, tenantA, []events.EventToPersist{x}, nil, nil)
	require.NoError(t, err)

	_, err = store.Append(ctx, tenantB, []events.EventToPersist{x}, nil, nil)
	assert.ErrorIs(t, err, eventstore.ErrDuplicateEventID)
}

// Test_S4_DCB_NoConflict covers scenario S4 / property 6.
func Test_S4_DCB_NoConflict(t *testing.T) {
	store := New()
	ctx := context.Background()
	tenant := mustTenant(t, "acme")
	orderTag := mustTag(t, "order", "123")
	orderPlaced := mustType(t, "order-placed")

	e1 := mustEvent(t, orderPlaced, orderTag)
	env1, err := store.Append(ctx, tenant, []events.EventToPersist{e1}, nil, nil)
	require.NoError(t, err)

	e2 := mustEvent(t, orderPlaced, orderTag)
	boundary := eventstore.NewStreamQuery().WithTags(orderTag)

	_, err = store.Append(ctx, tenant, []events.EventToPersist{e2}, &boundary, &env1[0].ID)
	assert.NoError(t, err)

	result, err := store.Stream(ctx, tenant, boundary, 0)
	require.NoError(t, err)
	require.Len(t, result, 2)
	assert.Equal(t, e1.ID, result[0].ID)
	assert.Equal(t, e2.ID, result[1].ID)
}

// Test_S5_DCB_Conflict covers scenario S5 / property 7.
func Test_S5_DCB_Conflict(t *testing.T) {
	store := New()
	ctx := context.Background()
	tenant := mustTenant(t, "acme")
	orderTag := mustTag(t, "order", "123")
	orderPlaced := mustType(t, "order-placed")

	e1 := mustEvent(t, orderPlaced, orderTag)
	env1, err := store.Append(ctx, tenant, []events.EventToPersist{e1}, nil, nil)
	require.NoError(t, err)

	e2 := mustEvent(t, orderPlaced, orderTag)
	_, err = store.Append(ctx, tenant, []events.EventToPersist{e2}, nil, nil)
	require.NoError(t, err)

	e3 := mustEvent(t, orderPlaced, orderTag)
	boundary := eventstore.NewStreamQuery().WithTags(orderTag)

	_, err = store.Append(ctx, tenant, []events.EventToPersist{e3}, &boundary, &env1[0].ID)
	assert.ErrorIs(t, err, eventstore.ErrConcurrencyConflict)

	result, err := store.Stream(ctx, tenant, boundary, 0)
	require.NoError(t, err)
	assert.Len(t, result, 2)
}

// Test_DCB_ExpectNone covers property 8.
func Test_DCB_ExpectNone(t *testing.T) {
	store := New()
	ctx := context.Background()
	tenant := mustTenant(t, "acme")
	orderTag := mustTag(t, "order", "123")
	orderPlaced := mustType(t, "order-placed")

	existing := mustEvent(t, orderPlaced, orderTag)
	_, err := store.Append(ctx, tenant, []events.EventToPersist{existing}, nil, nil)
	require.NoError(t, err)

	newEvent := mustEvent(t, orderPlaced, orderTag)
	boundary := eventstore.NewStreamQuery().WithTags(orderTag)

	_, err = store.Append(ctx, tenant, []events.EventToPersist{newEvent}, &boundary, nil)
	assert.ErrorIs(t, err, eventstore.ErrConcurrencyConflict)
}

// Test_TenantIsolation covers property 3.
func Test_TenantIsolation(t *testing.T) {
	store := New()
	ctx := context.Background()
	tenantA := mustTenant(t, "a")
	tenantB := mustTenant(t, "b")
	orderTag := mustTag(t, "order", "123")
	orderPlaced := mustType(t, "order-placed")

	e := mustEvent(t, orderPlaced, orderTag)
	_, err := store.Append(ctx, tenantA, []events.EventToPersist{e}, nil, nil)
	require.NoError(t, err)

	result, err := store.Stream(ctx, tenantB, eventstore.NewStreamQuery().WithTags(orderTag), 0)
	require.NoError(t, err)
	assert.Empty(t, result)
}

// Test_EmptyQuery_MatchesNothing covers property 4.
func Test_EmptyQuery_MatchesNothing(t *testing.T) {
	store := New()
	ctx := context.Background()
	tenant := mustTenant(t, "acme")
	orderPlaced := mustType(t, "order-placed")

	e := mustEvent(t, orderPlaced)
	_, err := store.Append(ctx, tenant, []events.EventToPersist{e}, nil, nil)
	require.NoError(t, err)

	result, err := store.Stream(ctx, tenant, eventstore.NewStreamQuery(), 0)
	require.NoError(t, err)
	assert.Empty(t, result)
}

// Test_RequireAllTags covers property 9.
func Test_RequireAllTags(t *testing.T) {
	store := New()
	ctx := context.Background()
	tenant := mustTenant(t, "acme")
	orderTag := mustTag(t, "order", "123")
	productTag := mustTag(t, "product", "456")
	orderPlaced := mustType(t, "order-placed")

	onlyOrder := mustEvent(t, orderPlaced, orderTag)
	both := mustEvent(t, orderPlaced, orderTag, productTag)
	onlyProduct := mustEvent(t, orderPlaced, productTag)

	_, err := store.Append(ctx, tenant, []events.EventToPersist{onlyOrder, both, onlyProduct}, nil, nil)
	require.NoError(t, err)

	query := eventstore.NewStreamQuery().WithTags(orderTag, productTag).RequiringAllTags()
	result, err := store.Stream(ctx, tenant, query, 0)
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Equal(t, both.ID, result[0].ID)
}

// Test_S6_MaxCount covers scenario S6 / property 10.
func Test_S6_MaxCount(t *testing.T) {
	store := New()
	ctx := context.Background()
	tenant := mustTenant(t, "acme")
	orderTag := mustTag(t, "order", "123")
	orderPlaced := mustType(t, "order-placed")

	var toPersist []events.EventToPersist
	for i := 0; i < 5; i++ {
		toPersist = append(toPersist, mustEvent(t, orderPlaced, orderTag))
	}

	_, err := store.Append(ctx, tenant, toPersist, nil, nil)
	require.NoError(t, err)

	result, err := store.Stream(ctx, tenant, eventstore.NewStreamQuery().WithTags(orderTag), 3)
	require.NoError(t, err)
	require.Len(t, result, 3)
	for i := range result {
		assert.Equal(t, toPersist[i].ID, result[i].ID)
	}
}

// Test_MetadataPreservation covers property 11.
func Test_MetadataPreservation(t *testing.T) {
	store := New()
	ctx := context.Background()
	tenant := mustTenant(t, "acme")
	orderPlaced := mustType(t, "order-placed")

	e, err := events.NewEventToPersist(
		uuid.New(), orderPlaced, nil, []byte(`{}`),
		map[string]string{"correlation-id": "abc-123"}, time.Now(),
	)
	require.NoError(t, err)

	envelopes, err := store.Append(ctx, tenant, []events.EventToPersist{e}, nil, nil)
	require.NoError(t, err)

	result, err := store.Stream(ctx, tenant, eventstore.NewStreamQuery().WithEventTypes(orderPlaced), 0)
	require.NoError(t, err)
	require.Len(t, result, 1)

	assert.Equal(t, "abc-123", result[0].Metadata["correlation-id"])
	assert.Equal(t, envelopes[0].Metadata[events.PositionMetadataKey], result[0].Metadata[events.PositionMetadataKey])
}

// Test_Concurrency covers property 12: under N parallel writers each
// appending one event with the same tag expecting no prior events,
// exactly one succeeds.
func Test_Concurrency(t *testing.T) {
	store := New()
	ctx := context.Background()
	tenant := mustTenant(t, "acme")
	orderTag := mustTag(t, "order", "123")
	orderPlaced := mustType(t, "order-placed")
	boundary := eventstore.NewStreamQuery().WithTags(orderTag)

	const writers = 20
	var wg sync.WaitGroup
	successes := make(chan struct{}, writers)
	conflicts := make(chan struct{}, writers)

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e := mustEvent(t, orderPlaced, orderTag)
			_, err := store.Append(ctx, tenant, []events.EventToPersist{e}, &boundary, nil)
			switch {
			case err == nil:
				successes <- struct{}{}
			case errors.Is(err, eventstore.ErrConcurrencyConflict):
				conflicts <- struct{}{}
			}
		}()
	}

	wg.Wait()
	close(successes)
	close(conflicts)

	successCount := 0
	for range successes {
		successCount++
	}

	conflictCount := 0
	for range conflicts {
		conflictCount++
	}

	assert.Equal(t, 1, successCount)
	assert.Equal(t, writers-1, conflictCount)
	assert.Equal(t, 1, store.Count(tenant))
}

// Test_AppendDeterminism covers property 1.
func Test_AppendDeterminism(t *testing.T) {
	store := New()
	ctx := context.Background()
	tenant := mustTenant(t, "acme")
	orderPlaced := mustType(t, "order-placed")

	a := mustEvent(t, orderPlaced)
	b := mustEvent(t, orderPlaced)

	envelopes, err := store.Append(ctx, tenant, []events.EventToPersist{a, b}, nil, nil)
	require.NoError(t, err)
	require.Len(t, envelopes, 2)

	assert.Equal(t, a.ID, envelopes[0].ID)
	assert.Equal(t, b.ID, envelopes[1].ID)
	assert.Equal(t, "1", envelopes[0].Metadata[events.PositionMetadataKey])
	assert.Equal(t, "2", envelopes[1].Metadata[events.PositionMetadataKey])
}

func Test_Append_Empty_IsNoop(t *testing.T) {
	store := New()
	ctx := context.Background()
	tenant := mustTenant(t, "acme")

	envelopes, err := store.Append(ctx, tenant, nil, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, envelopes)
	assert.Equal(t, 0, store.Count(tenant))
}
