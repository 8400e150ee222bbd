package eventstore

import (
	"fmt"
	"slices"
	"strings"

	"github.com/dynamicstreams/dcb-eventstore-go/events"
)

// StreamQuery is an immutable predicate over tags and event types. The
// zero value is the empty query, which matches nothing as a predicate
// (see Matches) and is rejected by Stream callers who want "everything"
// — those must supply WithEventTypes(events.AnyEventType).
//
// Builders never mutate the receiver; each returns a new StreamQuery
// with the corresponding set shallow-appended and sanitized (emptied
// duplicates removed, sorted for a stable canonical string).
type StreamQuery struct {
	tags            []events.EventTag
	types           []events.EventType
	requireAllTags  bool
	requireAllTypes bool
}

// NewStreamQuery returns the empty StreamQuery.
func NewStreamQuery() StreamQuery {
	return StreamQuery{}
}

// WithTags appends one or more tags to the query's tag set, removing
// duplicates and sorting by canonical string form.
func (q StreamQuery) WithTags(tags ...events.EventTag) StreamQuery {
	q.tags = sanitizeTags(append(slices.Clone(q.tags), tags...))
	return q
}

// WithEventTypes appends one or more event types to the query's type set,
// removing duplicates and sorting.
func (q StreamQuery) WithEventTypes(types ...events.EventType) StreamQuery {
	q.types = sanitizeTypes(append(slices.Clone(q.types), types...))
	return q
}

// RequiringAllTags sets the query to require every tag in its tag set to
// be present on a matching event (AND), rather than at least one (OR).
func (q StreamQuery) RequiringAllTags() StreamQuery {
	q.requireAllTags = true
	return q
}

// RequiringAllEventTypes sets the query to require the event's type to
// equal the query's single type exactly; meaningless (and unsatisfiable
// for any single event) when more than one type is present.
func (q StreamQuery) RequiringAllEventTypes() StreamQuery {
	q.requireAllTypes = true
	return q
}

// Tags returns the query's tag set.
func (q StreamQuery) Tags() []events.EventTag {
	return slices.Clone(q.tags)
}

// Types returns the query's type set.
func (q StreamQuery) Types() []events.EventType {
	return slices.Clone(q.types)
}

// RequireAllTags reports whether tag matching is AND (true) or OR (false).
func (q StreamQuery) RequireAllTags() bool {
	return q.requireAllTags
}

// RequireAllEventTypes reports whether type matching requires exact
// single-type equality.
func (q StreamQuery) RequireAllEventTypes() bool {
	return q.requireAllTypes
}

// IsEmpty reports whether the query has neither tags nor types; such a
// query matches nothing as a predicate (invariant 6.1 open question,
// resolved: empty is authoritative-nothing in both backends).
func (q StreamQuery) IsEmpty() bool {
	return len(q.tags) == 0 && len(q.types) == 0
}

// Matches evaluates the query's predicate against a single event's tags
// and type, per the rules in the component design:
//
//   - non-empty tags: requireAllTags true => every query tag present on
//     the event; false => at least one overlaps.
//   - non-empty types: requireAllTypes true and exactly one type in the
//     query => event type equals it, otherwise false; requireAllTypes
//     false => event type is a member of the set. events.WildcardEventType
//     as the sole member matches any type.
//   - both non-empty: AND of the two dimensions.
//   - both empty: matches nothing.
func (q StreamQuery) Matches(eventType events.EventType, tags []events.EventTag) bool {
	if q.IsEmpty() {
		return false
	}

	tagsOK := true
	if len(q.tags) > 0 {
		tagsOK = matchTags(q.tags, q.requireAllTags, tags)
	}

	typesOK := true
	if len(q.types) > 0 {
		typesOK = matchType(q.types, q.requireAllTypes, eventType)
	}

	return tagsOK && typesOK
}

func matchTags(queryTags []events.EventTag, requireAll bool, eventTags []events.EventTag) bool {
	has := func(t events.EventTag) bool {
		for _, et := range eventTags {
			if et.Equal(t) {
				return true
			}
		}
		return false
	}

	if requireAll {
		for _, t := range queryTags {
			if !has(t) {
				return false
			}
		}
		return true
	}

	for _, t := range queryTags {
		if has(t) {
			return true
		}
	}
	return false
}

func matchType(queryTypes []events.EventType, requireAll bool, eventType events.EventType) bool {
	if len(queryTypes) == 1 && queryTypes[0].String() == events.WildcardEventType {
		return true
	}

	if requireAll {
		if len(queryTypes) != 1 {
			return false
		}
		return eventType.Equal(queryTypes[0])
	}

	for _, t := range queryTypes {
		if t.String() == events.WildcardEventType || eventType.Equal(t) {
			return true
		}
	}
	return false
}

// String renders the canonical form of the query, used only for
// telemetry and logging — never for query execution.
//
//   - no conditions: "*"
//   - single dimension: "tag in ['t1','t2']" or "event type in ['e1']"
//   - both dimensions: joined with " AND " if either requireAll* is set,
//     otherwise " OR "
func (q StreamQuery) String() string {
	if q.IsEmpty() {
		return "*"
	}

	var parts []string

	if len(q.tags) > 0 {
		parts = append(parts, fmt.Sprintf("tag in %s", quotedList(tagStrings(q.tags))))
	}

	if len(q.types) > 0 {
		parts = append(parts, fmt.Sprintf("event type in %s", quotedList(typeStrings(q.types))))
	}

	if len(parts) == 1 {
		return parts[0]
	}

	joiner := " OR "
	if q.requireAllTags || q.requireAllTypes {
		joiner = " AND "
	}

	return strings.Join(parts, joiner)
}

func quotedList(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = "'" + s + "'"
	}
	return "[" + strings.Join(quoted, ",") + "]"
}

func tagStrings(tags []events.EventTag) []string {
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = t.String()
	}
	return out
}

func typeStrings(types []events.EventType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = t.String()
	}
	return out
}

func sanitizeTags(tags []events.EventTag) []events.EventTag {
	slices.SortFunc(tags, func(a, b events.EventTag) int {
		return strings.Compare(a.String(), b.String())
	})
	tags = slices.CompactFunc(tags, func(a, b events.EventTag) bool { return a.Equal(b) })
	return slices.Clip(tags)
}

func sanitizeTypes(types []events.EventType) []events.EventType {
	slices.SortFunc(types, func(a, b events.EventType) int {
		return strings.Compare(a.String(), b.String())
	})
	types = slices.CompactFunc(types, func(a, b events.EventType) bool { return a.Equal(b) })
	return slices.Clip(types)
}
