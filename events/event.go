// Package events defines the scalar value types the event store is built
// on: tenants, event types, tags, and the two DTOs that cross the
// store's boundary (EventToPersist going in, EventEnvelope coming out).
//
// All types here are plain values. Serialisation of payloads is a
// concern for the caller; this package treats payload as opaque bytes.
package events

import (
	"errors"
	"regexp"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/google/uuid"
)

var jsonAPI = jsoniter.ConfigFastest

var (
	// ErrEmptyTenant is returned when a Tenant is constructed from an empty string.
	ErrEmptyTenant = errors.New("tenant must not be empty")

	// ErrInvalidEventType is returned when an EventType does not match ^[a-z-]+$.
	ErrInvalidEventType = errors.New("event type must be a non-empty lowercase token matching ^[a-z-]+$")

	// ErrInvalidTag is returned when an EventTag's concept or id is empty or malformed.
	ErrInvalidTag = errors.New("event tag must be of the form concept:id with both sides matching ^[A-Za-z0-9_-]+$")

	// ErrEmptyEventID is returned when an EventToPersist is built without an id.
	ErrEmptyEventID = errors.New("event id must not be empty")

	// ErrInvalidPayload is returned when an EventToPersist's payload is
	// non-empty and not valid JSON.
	ErrInvalidPayload = errors.New("event payload must be valid json")
)

var (
	eventTypePattern = regexp.MustCompile(`^[a-z-]+$`)
	tagPartPattern   = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

// WildcardEventType matches any event type when used as the sole member
// of a StreamQuery's types set.
const WildcardEventType = "*"

// Tenant is an opaque, non-empty identifier that scopes every operation
// against the store. The store never crosses tenants within one query
// or append.
type Tenant struct {
	id string
}

// NewTenant validates and constructs a Tenant.
func NewTenant(id string) (Tenant, error) {
	if id == "" {
		return Tenant{}, ErrEmptyTenant
	}

	return Tenant{id: id}, nil
}

// String returns the tenant's raw identifier.
func (t Tenant) String() string {
	return t.id
}

// IsZero reports whether this is the zero-value Tenant.
func (t Tenant) IsZero() bool {
	return t.id == ""
}

// EventType is a non-empty token matching ^[a-z-]+$, e.g. "order-placed".
type EventType struct {
	value string
}

// NewEventType validates and constructs an EventType.
func NewEventType(value string) (EventType, error) {
	if value == "" || !eventTypePattern.MatchString(value) {
		return EventType{}, ErrInvalidEventType
	}

	return EventType{value: value}, nil
}

// AnyEventType is the EventType carrying WildcardEventType. NewEventType
// rejects "*", so this value is the way to put the wildcard into a
// StreamQuery's types set.
var AnyEventType = EventType{value: WildcardEventType}

// String returns the event type token.
func (et EventType) String() string {
	return et.value
}

// Equal reports whether two EventTypes carry the same token.
func (et EventType) Equal(other EventType) bool {
	return et.value == other.value
}

// EventTag is a typed label (concept, id) attached to an event and used
// as an index for DCB queries. Its canonical string form is "concept:id".
// Equality is structural on the pair.
type EventTag struct {
	concept string
	id      string
}

// NewEventTag validates and constructs an EventTag from its two parts.
func NewEventTag(concept, id string) (EventTag, error) {
	if concept == "" || id == "" || !tagPartPattern.MatchString(concept) || !tagPartPattern.MatchString(id) {
		return EventTag{}, ErrInvalidTag
	}

	return EventTag{concept: concept, id: id}, nil
}

// ParseEventTag parses the canonical "concept:id" form, splitting on the
// first colon only.
func ParseEventTag(s string) (EventTag, error) {
	idx := strings.IndexByte(s, ':')
	if idx < 0 {
		return EventTag{}, ErrInvalidTag
	}

	return NewEventTag(s[:idx], s[idx+1:])
}

// Concept returns the tag's concept part.
func (t EventTag) Concept() string {
	return t.concept
}

// ID returns the tag's id part.
func (t EventTag) ID() string {
	return t.id
}

// String returns the canonical "concept:id" form.
func (t EventTag) String() string {
	return t.concept + ":" + t.id
}

// Equal reports structural equality of the (concept, id) pair.
func (t EventTag) Equal(other EventTag) bool {
	return t.concept == other.concept && t.id == other.id
}

// EventToPersist is the input DTO for Append. id is required and must be
// unique; callers typically generate time-ordered UUIDs (e.g. uuid.NewV7
// or an equivalent monotonic scheme) so that position order and id order
// roughly agree.
type EventToPersist struct {
	ID       uuid.UUID
	Type     EventType
	Tags     []EventTag
	Payload  []byte
	Metadata map[string]string
	Created  time.Time
}

// NewEventToPersist validates and constructs an EventToPersist.
func NewEventToPersist(
	id uuid.UUID,
	eventType EventType,
	tags []EventTag,
	payload []byte,
	metadata map[string]string,
	created time.Time,
) (EventToPersist, error) {
	if id == uuid.Nil {
		return EventToPersist{}, ErrEmptyEventID
	}

	if len(payload) > 0 && !jsonAPI.Valid(payload) {
		return EventToPersist{}, ErrInvalidPayload
	}

	tagsCopy := make([]EventTag, len(tags))
	copy(tagsCopy, tags)

	metaCopy := make(map[string]string, len(metadata))
	for k, v := range metadata {
		metaCopy[k] = v
	}

	return EventToPersist{
		ID:       id,
		Type:     eventType,
		Tags:     tagsCopy,
		Payload:  payload,
		Metadata: metaCopy,
		Created:  created,
	}, nil
}

// PositionMetadataKey is the metadata key under which Stream/Append
// report the assigned global position, as a decimal string.
const PositionMetadataKey = "_position"

// TraceContextMetadataKey flags, on read, that a valid trace context was
// recovered from the stored traceparent/tracestate metadata.
const TraceContextMetadataKey = "_trace_context"

// TraceParentMetadataKey and TraceStateMetadataKey are the reserved
// metadata keys the telemetry layer uses to persist trace context
// alongside an event.
const (
	TraceParentMetadataKey = "traceparent"
	TraceStateMetadataKey  = "tracestate"
)

// ReservedMetadataKeys lists metadata keys callers must not set directly;
// the core owns them.
var ReservedMetadataKeys = []string{
	PositionMetadataKey,
	TraceContextMetadataKey,
	TraceParentMetadataKey,
	TraceStateMetadataKey,
}

// EventEnvelope is the output DTO returned by Stream and Append. It is
// identical in identity fields to the corresponding EventToPersist, with
// the assigned position injected into Metadata under PositionMetadataKey.
type EventEnvelope struct {
	ID       uuid.UUID
	Type     EventType
	Payload  []byte
	Metadata map[string]string
	Created  time.Time
}
