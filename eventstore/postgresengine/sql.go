package postgresengine

import (
	"fmt"
	"strings"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // registers the "postgres" dialect
	"github.com/google/uuid"

	"github.com/dynamicstreams/dcb-eventstore-go/events"
	"github.com/dynamicstreams/dcb-eventstore-go/eventstore"
)

const (
	dialectPostgres = "postgres"

	colPosition  = "position"
	colID        = "id"
	colTenant    = "tenant_id"
	colEventType = "event_type"
	colData      = "data"
	colTags      = "tags"
	colCreatedAt = "created_at"
	colMetadata  = "metadata"

	colHasConflicts = "has_conflicts"

	cteContext = "context"
	cteVals    = "vals"

	castText      = "?::text"
	castTimestamp = "?::timestamp with time zone"
	castJsonb     = "?::jsonb"

	literalTrue  = "TRUE"
	literalFalse = "FALSE"
)

func (es EventStore) qualifiedTable() string {
	return es.schema + "." + es.eventTableName
}

// streamPredicate renders the WHERE-clause expression for query,
// excluding the tenant scoping (callers AND it in separately). An empty
// query — no tags, no types — is unsatisfiable by design (§9).
func streamPredicate(query eventstore.StreamQuery) goqu.Expression {
	if query.IsEmpty() {
		return goqu.L(literalFalse)
	}

	var parts []goqu.Expression

	if tags := query.Tags(); len(tags) > 0 {
		parts = append(parts, tagsPredicate(tags, query.RequireAllTags()))
	}

	if types := query.Types(); len(types) > 0 {
		parts = append(parts, typesPredicate(types, query.RequireAllEventTypes()))
	}

	return goqu.And(parts...)
}

// tagsPredicate renders the array-containment ("@>", AND semantics) or
// array-overlap ("&&", OR semantics) predicate against the tags column.
// Tag text is restricted to [A-Za-z0-9_-] and a single ':' separator at
// construction time (events.NewEventTag), so literal embedding here is
// as safe as the event-type literals the teacher embeds the same way.
func tagsPredicate(tags []events.EventTag, requireAll bool) goqu.Expression {
	op := "&&"
	if requireAll {
		op = "@>"
	}

	return goqu.L(fmt.Sprintf("%s %s %s", colTags, op, tagLiteralArray(tags)))
}

func tagLiteralArray(tags []events.EventTag) string {
	quoted := make([]string, len(tags))
	for i, t := range tags {
		quoted[i] = "'" + t.String() + "'"
	}

	return "ARRAY[" + strings.Join(quoted, ",") + "]::text[]"
}

// typesPredicate mirrors eventstore.StreamQuery.Matches' type dimension:
// a lone wildcard is "no restriction" regardless of requireAll, an
// exact-match requirement is only satisfiable with exactly one
// (non-wildcard) type, and the OR case is IN (...) over the set, or TRUE
// when any member of the set is the wildcard.
func typesPredicate(types []events.EventType, requireAll bool) goqu.Expression {
	if len(types) == 1 && types[0].String() == events.WildcardEventType {
		return goqu.L(literalTrue)
	}

	if requireAll {
		if len(types) != 1 {
			return goqu.L(literalFalse)
		}

		return goqu.Ex{colEventType: types[0].String()}
	}

	vals := make([]string, 0, len(types))
	for _, t := range types {
		if t.String() == events.WildcardEventType {
			return goqu.L(literalTrue)
		}
		vals = append(vals, t.String())
	}

	return goqu.Ex{colEventType: vals}
}

// buildSelectQuery builds the Stream query: tenant scope AND the
// query's predicate, ordered by position, optionally limited.
func (es EventStore) buildSelectQuery(tenant events.Tenant, query eventstore.StreamQuery, maxCount int) (string, error) {
	stmt := goqu.Dialect(dialectPostgres).
		From(es.qualifiedTable()).
		Select(colID, colEventType, colData, colCreatedAt, colMetadata, colPosition).
		Where(
			goqu.Ex{colTenant: tenant.String()},
			streamPredicate(query),
		).
		Order(goqu.I(colPosition).Asc())

	if maxCount > 0 {
		stmt = stmt.Limit(uint(maxCount)) //nolint:gosec
	}

	sqlQuery, _, err := stmt.ToSQL()
	if err != nil {
		return "", err
	}

	return sqlQuery, nil
}

// consistencyPredicate renders the boundary-violation predicate used by
// the append CTE: tenant-scoped, AND'd with "this event's position is
// past what the writer last accounted for", AND'd with the boundary
// query itself. A nil boundary renders as the literal FALSE — no
// conflict is possible and the insert proceeds unconditionally; this is
// the case the design notes warn against rendering as a naive
// "position >= 0" predicate (§9).
func consistencyPredicate(
	table string,
	tenant events.Tenant,
	boundary *eventstore.StreamQuery,
	expectedLastEventID *uuid.UUID,
) goqu.Expression {
	if boundary == nil {
		return goqu.L(literalFalse)
	}

	var positionExpr goqu.Expression = goqu.L(literalTrue) // expectedLastEventID nil => any match at all is a conflict
	if expectedLastEventID != nil {
		lastKnown := goqu.Dialect(dialectPostgres).
			From(table).
			Select(goqu.C(colPosition)).
			Where(goqu.Ex{colTenant: tenant.String(), colID: expectedLastEventID.String()})

		positionExpr = goqu.C(colPosition).Gt(goqu.COALESCE(lastKnown, -1))
	}

	return goqu.And(
		goqu.Ex{colTenant: tenant.String()},
		positionExpr,
		streamPredicate(*boundary),
	)
}

// buildAppendQuery builds the full check-and-insert statement: a
// "context" CTE computing a single has_conflicts row, a "vals" CTE with
// one literal row per event to insert, and an INSERT ... SELECT that
// cross-joins the two and is filtered to nothing at all when
// has_conflicts is true — the same "single aggregate row cross-joined
// against N value rows, filtered by a WHERE on the aggregate" shape
// postgres.go uses for its MAX(sequence_number) check, adapted to an
// EXISTS-based boundary check.
func buildAppendQuery(
	table string,
	tenant events.Tenant,
	toPersist []events.EventToPersist,
	boundary *eventstore.StreamQuery,
	expectedLastEventID *uuid.UUID,
) (string, error) {
	builder := goqu.Dialect(dialectPostgres)

	contextStmt := builder.
		Select(
			goqu.L(
				"EXISTS (?)",
				builder.From(table).Select(goqu.L("1")).Where(consistencyPredicate(table, tenant, boundary, expectedLastEventID)),
			).As(colHasConflicts),
		)

	valRows := make([]*goqu.SelectDataset, len(toPersist))
	for i, e := range toPersist {
		valRows[i] = rowSelect(builder, tenant, e)
	}

	valsStmt := valRows[0]
	for i := 1; i < len(valRows); i++ {
		valsStmt = valsStmt.UnionAll(valRows[i])
	}

	insertStmt := builder.
		Insert(table).
		Cols(colID, colTenant, colEventType, colTags, colData, colMetadata, colCreatedAt).
		With(cteContext, contextStmt).
		With(cteVals, valsStmt).
		FromQuery(
			builder.From(cteContext, cteVals).
				Select(
					qualified(cteVals, colID), qualified(cteVals, colTenant), qualified(cteVals, colEventType),
					qualified(cteVals, colTags), qualified(cteVals, colData), qualified(cteVals, colMetadata),
					qualified(cteVals, colCreatedAt),
				).
				Where(goqu.C(colHasConflicts).Eq(false)),
		).
		Returning(colID, colPosition)

	sqlQuery, _, err := insertStmt.ToSQL()
	if err != nil {
		return "", err
	}

	return sqlQuery, nil
}

func rowSelect(builder goqu.DialectWrapper, tenant events.Tenant, e events.EventToPersist) *goqu.SelectDataset {
	return builder.Select(
		goqu.L(castText, e.ID.String()).As(colID),
		goqu.L(castText, tenant.String()).As(colTenant),
		goqu.L(castText, e.Type.String()).As(colEventType),
		goqu.L(tagLiteralArray(e.Tags)).As(colTags),
		goqu.L(castJsonb, string(e.Payload)).As(colData),
		goqu.L(castJsonb, metadataJSON(e.Metadata)).As(colMetadata),
		goqu.L(castTimestamp, e.Created).As(colCreatedAt),
	)
}

func qualified(table, col string) string {
	return table + "." + col
}
