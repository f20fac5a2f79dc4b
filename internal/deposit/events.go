package deposit

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Outbox topic carrying every deposit account event.
const Topic = "deposit"

// Event is the discriminated union of deposit account events.
type Event interface {
	EventType() string
}

// AccountOpened is the first event of every account.
type AccountOpened struct {
	Holder   string `json:"holder"`
	Currency string `json:"currency"`
}

func (AccountOpened) EventType() string { return "AccountOpened" }

// AccountCredited increases the balance.
type AccountCredited struct {
	Amount decimal.Decimal `json:"amount"`
	Ref    string          `json:"ref"`
}

func (AccountCredited) EventType() string { return "AccountCredited" }

// AccountDebited decreases the balance. Never recorded when it would
// overdraw; the aggregate enforces that before appending.
type AccountDebited struct {
	Amount decimal.Decimal `json:"amount"`
	Ref    string          `json:"ref"`
}

func (AccountDebited) EventType() string { return "AccountDebited" }

// AccountClosed is terminal; a closed account accepts no further events.
type AccountClosed struct{}

func (AccountClosed) EventType() string { return "AccountClosed" }

func decodeEvent(eventType string, data []byte) (Event, error) {
	var (
		e   Event
		err error
	)
	switch eventType {
	case "AccountOpened":
		var v AccountOpened
		err = json.Unmarshal(data, &v)
		e = v
	case "AccountCredited":
		var v AccountCredited
		err = json.Unmarshal(data, &v)
		e = v
	case "AccountDebited":
		var v AccountDebited
		err = json.Unmarshal(data, &v)
		e = v
	case "AccountClosed":
		var v AccountClosed
		err = json.Unmarshal(data, &v)
		e = v
	default:
		return nil, fmt.Errorf("unknown deposit event type %q", eventType)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", eventType, err)
	}
	return e, nil
}
