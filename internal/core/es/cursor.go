package es

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Cursor is a resumable position in a paginated listing: the boundary value
// of the ordering column plus the entity id as tiebreak. The encoded form is
// opaque and URL-safe; unknown JSON fields are ignored on decode so cursors
// stay forward-compatible across versions of the same listing.
type Cursor struct {
	Key any       `json:"k,omitempty"`
	ID  uuid.UUID `json:"id"`
}

// Encode serializes the cursor into an opaque URL-safe string.
func (c Cursor) Encode() string {
	raw, err := json.Marshal(c)
	if err != nil {
		// Cursor fields are plain JSON-serializable values; this cannot
		// fail for cursors produced by a listing.
		panic(fmt.Sprintf("es: encode cursor: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(raw)
}

// DecodeCursor parses an encoded cursor. Any undecodable input yields
// ErrMalformedCursor; it never panics.
func DecodeCursor(s string) (Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrMalformedCursor, err)
	}

	var c Cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrMalformedCursor, err)
	}
	if c.ID == uuid.Nil {
		return Cursor{}, fmt.Errorf("%w: missing id", ErrMalformedCursor)
	}

	return c, nil
}
