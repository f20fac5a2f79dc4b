// Package ledger defines the port to the general-ledger system. Deposit
// account movements are mirrored into the ledger asynchronously by the
// outbox listener; the ledger is never written inside a domain transaction.
package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Direction of a posting, from the bank's perspective.
type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

// Posting is one ledger movement for a deposit account. Idempotency is
// keyed on (AccountID, Sequence): the listener delivers at least once and
// the ledger must deduplicate.
type Posting struct {
	AccountID uuid.UUID
	Sequence  int64
	Direction Direction
	Amount    decimal.Decimal
	Currency  string
	BookedAt  time.Time
}

// Client posts deposit movements to the ledger.
type Client interface {
	Post(ctx context.Context, p Posting) error
}

// LogClient is a Client that only logs postings. Used in environments
// without a ledger backend and as the default wiring in development.
type LogClient struct {
	log *slog.Logger
}

// NewLogClient creates a logging ledger client.
func NewLogClient(log *slog.Logger) *LogClient {
	return &LogClient{log: log.With("component", "ledger")}
}

func (c *LogClient) Post(ctx context.Context, p Posting) error {
	c.log.InfoContext(ctx, "ledger posting",
		slog.String("account_id", p.AccountID.String()),
		slog.Int64("sequence", p.Sequence),
		slog.String("direction", string(p.Direction)),
		slog.String("amount", p.Amount.String()),
		slog.String("currency", p.Currency),
	)
	return nil
}
