package es

import "errors"

// Sentinel errors shared by all event-sourced repositories.
var (
	// ErrNotFound is returned when an entity has no persisted events.
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicateID is returned when creating an entity whose id already
	// has events in the log.
	ErrDuplicateID = errors.New("entity id already exists")

	// ErrConcurrentModification is returned when another writer persisted
	// events between load and update. The whole load-mutate-persist cycle
	// is safe to retry; see Retry.
	ErrConcurrentModification = errors.New("concurrent modification")

	// ErrMalformedCursor is returned when a pagination cursor cannot be
	// decoded. Caller input error, surfaced to the API boundary.
	ErrMalformedCursor = errors.New("malformed cursor")

	// ErrCorruptEventLog indicates a stored event that can no longer be
	// decoded, or a sequence gap in the log. This is a deployed code/schema
	// incompatibility, not a normal error: abort and alert.
	ErrCorruptEventLog = errors.New("corrupt event log")
)
