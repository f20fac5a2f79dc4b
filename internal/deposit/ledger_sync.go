package deposit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prettysheep-coder/bankcore/internal/core/job"
	"github.com/prettysheep-coder/bankcore/internal/core/outbox"
	"github.com/prettysheep-coder/bankcore/internal/ledger"
)

// LedgerSyncJobType is the singleton listener job mirroring deposit
// movements into the general ledger.
const LedgerSyncJobType job.Type = "deposit_ledger_sync"

// NewLedgerSync builds the listener initializer. Register it with
// Jobs.AddInitializerAndSpawnUnique and ListenerConfig{Topic: deposit.Topic}
// so exactly one instance follows the topic.
func NewLedgerSync(ob *outbox.Outbox, client ledger.Client, batchSize int, pollInterval time.Duration) *outbox.Listener {
	return outbox.NewListener(LedgerSyncJobType, ob, ledgerSyncHandler(client), batchSize, pollInterval)
}

// ledgerSyncHandler translates one outbox record into a ledger posting.
// Opened and closed events carry no money and are skipped. Idempotency is
// delegated to the ledger, keyed on (account id, sequence); redelivery of an
// already-booked posting is a no-op there.
func ledgerSyncHandler(client ledger.Client) outbox.Handler {
	return func(ctx context.Context, r outbox.Record) error {
		var env envelope
		if err := json.Unmarshal(r.Payload, &env); err != nil {
			return fmt.Errorf("unmarshal envelope seq %d: %w", r.Sequence, err)
		}

		e, err := decodeEvent(r.EventType, env.Event)
		if err != nil {
			return fmt.Errorf("seq %d: %w", r.Sequence, err)
		}

		var p ledger.Posting
		switch v := e.(type) {
		case AccountCredited:
			p = ledger.Posting{Direction: ledger.DirectionCredit, Amount: v.Amount}
		case AccountDebited:
			p = ledger.Posting{Direction: ledger.DirectionDebit, Amount: v.Amount}
		default:
			return nil
		}

		p.AccountID = env.AccountID
		p.Currency = env.Currency
		p.Sequence = r.Sequence
		p.BookedAt = r.RecordedAt
		return client.Post(ctx, p)
	}
}
