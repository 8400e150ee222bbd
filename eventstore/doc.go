// Package eventstore provides the Dynamic Consistency Boundary (DCB)
// contract shared by every storage engine in this module: the tag/type
// query model (StreamQuery), the two-operation Backend interface
// (Stream, Append), the ambient transaction scope, and the common error
// taxonomy.
//
// A writer predicates an Append on the current state of an arbitrary
// query rather than on a single stream: it supplies a StreamQuery as the
// consistency boundary, along with the id of the last event it has
// already accounted for. The Append succeeds only if no event matching
// that boundary has appeared with a position beyond what the writer
// last observed.
//
// Two backends implement this contract:
//
//   - eventstore/memory: a single-mutex, linear-scan reference backend.
//   - eventstore/postgresengine: a PostgreSQL-backed backend using a
//     single atomic statement to perform the consistency check and the
//     insert together.
//
// Usage pattern:
//
//	tenant, _ := events.NewTenant("acme-corp")
//	orderTag, _ := events.NewEventTag("order", "123")
//	query := eventstore.NewStreamQuery().WithTags(orderTag)
//
//	existing, err := backend.Stream(ctx, tenant, query, 0)
//	// ... decide whether to append based on existing ...
//
//	lastID := existing[len(existing)-1].ID
//	envelopes, err := backend.Append(ctx, tenant, toPersist, &query, &lastID)
package eventstore
