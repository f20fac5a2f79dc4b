// Package es provides the event-sourcing substrate: an append-only per-entity
// event log, a generic aggregate repository with optimistic concurrency, and
// opaque keyset cursors for paginated listings.
//
// Aggregates embed Events[E] and are reconstructed by folding their ordered
// event sequence through ApplyEvent. The fold must be deterministic: two
// loads that witness the same persisted sequence rebuild identical state.
package es

import (
	"time"

	"github.com/google/uuid"
)

// EventPayload is the discriminated event variant of one aggregate kind.
// EventType returns the stable tag the payload is persisted under.
type EventPayload interface {
	EventType() string
}

// Event is one persisted entry of an entity's log. Events are immutable;
// Sequence is 1-based, strictly increasing per entity with no gaps, and is
// the sole source of ordering and the sole concurrency token.
type Event[E EventPayload] struct {
	EntityID   uuid.UUID
	Sequence   int64
	Payload    E
	RecordedAt time.Time
}

// Events tracks an aggregate's position in its log: the last persisted
// sequence plus the tail of new, not-yet-persisted payloads. Aggregates
// embed it; the repository advances it on successful persistence.
type Events[E EventPayload] struct {
	entityID      uuid.UUID
	lastPersisted int64
	pending       []E
}

// EntityID returns the aggregate's identifier.
func (t *Events[E]) EntityID() uuid.UUID { return t.entityID }

// LastPersisted returns the highest sequence number known to be stored.
func (t *Events[E]) LastPersisted() int64 { return t.lastPersisted }

// Pending returns the new events appended since the last load or persist.
// The returned slice is the internal buffer; callers must not mutate it.
func (t *Events[E]) Pending() []E { return t.pending }

// Append buffers new in-memory events. Persisted events are never touched.
func (t *Events[E]) Append(events ...E) {
	t.pending = append(t.pending, events...)
}

// init binds the tracker to an entity id. Called by the repository when an
// aggregate is created or rehydrated.
func (t *Events[E]) init(id uuid.UUID) {
	t.entityID = id
	t.lastPersisted = 0
	t.pending = nil
}

// markPersisted advances the tracker after n pending events were written.
func (t *Events[E]) markPersisted(n int) {
	t.lastPersisted += int64(n)
	t.pending = t.pending[n:]
	if len(t.pending) == 0 {
		t.pending = nil
	}
}

// tracker lets the repository reach the embedded Events of any aggregate.
// Unexported on purpose: aggregates satisfy Entity only by embedding Events.
func (t *Events[E]) tracker() *Events[E] { return t }

// Entity is an aggregate reconstructed by folding its event sequence.
// Implementations embed Events[E] and implement ApplyEvent as a pure state
// transition on the payload.
type Entity[E EventPayload] interface {
	EntityID() uuid.UUID
	ApplyEvent(payload E)
	tracker() *Events[E]
}

// NewEntity is a validated intent-to-create. Constructors validate all
// required fields up front and return a typed error; by the time a NewEntity
// exists it converts deterministically into the initial event sequence.
type NewEntity[E EventPayload] interface {
	EntityID() uuid.UUID
	InitialEvents() []E
}
