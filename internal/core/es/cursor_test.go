package es

import (
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestCursor_RoundTrip(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	tests := []struct {
		name string
		cur  Cursor
	}{
		{name: "string key", cur: Cursor{Key: "alice", ID: id}},
		{name: "numeric key", cur: Cursor{Key: float64(42), ID: id}},
		{name: "no key", cur: Cursor{ID: id}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := DecodeCursor(tt.cur.Encode())
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got.ID != tt.cur.ID {
				t.Errorf("id: got %s, want %s", got.ID, tt.cur.ID)
			}
			if got.Key != tt.cur.Key {
				t.Errorf("key: got %v (%T), want %v (%T)", got.Key, got.Key, tt.cur.Key, tt.cur.Key)
			}
		})
	}
}

func TestCursor_TimeKeyRoundTrip(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	now := time.Date(2026, 3, 14, 9, 26, 53, 589000000, time.UTC)

	cur, err := DecodeCursor(Cursor{Key: now, ID: id}.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	key, err := TimeKey(cur.Key)
	if err != nil {
		t.Fatalf("TimeKey: %v", err)
	}
	if !key.(time.Time).Equal(now) {
		t.Errorf("time key: got %v, want %v", key, now)
	}
}

func TestDecodeCursor_Malformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
	}{
		{name: "empty", input: ""},
		{name: "not base64", input: "%%%"},
		{name: "base64 but not json", input: base64.RawURLEncoding.EncodeToString([]byte("garbage"))},
		{name: "json without id", input: base64.RawURLEncoding.EncodeToString([]byte(`{"k":"x"}`))},
		{name: "bad uuid", input: base64.RawURLEncoding.EncodeToString([]byte(`{"id":"nope"}`))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := DecodeCursor(tt.input)
			if !errors.Is(err, ErrMalformedCursor) {
				t.Errorf("got %v, want ErrMalformedCursor", err)
			}
		})
	}
}

func TestDecodeCursor_IgnoresUnknownFields(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	raw := []byte(`{"id":"` + id.String() + `","k":"x","future_field":true}`)

	cur, err := DecodeCursor(base64.RawURLEncoding.EncodeToString(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cur.ID != id {
		t.Errorf("id: got %s, want %s", cur.ID, id)
	}
}

func TestTimeKey_BadInput(t *testing.T) {
	t.Parallel()

	if _, err := TimeKey("not a time"); !errors.Is(err, ErrMalformedCursor) {
		t.Errorf("string: got %v, want ErrMalformedCursor", err)
	}
	if _, err := TimeKey(42); !errors.Is(err, ErrMalformedCursor) {
		t.Errorf("int: got %v, want ErrMalformedCursor", err)
	}
}
