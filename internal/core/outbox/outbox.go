// Package outbox implements the transactional outbox: selected domain events
// are mirrored into a globally ordered per-topic stream in the same database
// transaction as the aggregate write, and consumers follow the stream with a
// durable cursor. Ordering holds within one topic only; delivery is
// at-least-once and consumers must be idempotent per sequence.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/prettysheep-coder/bankcore/internal/adapter/postgres"
)

// ErrNoTransaction is returned when Persist is called outside an ambient
// transaction. The outbox write must share fate with the domain write;
// a standalone write would reintroduce the dual-write problem.
var ErrNoTransaction = errors.New("outbox: persist requires an ambient transaction")

// Record is one immutable outbox entry. Sequence is strictly increasing and
// gapless within a topic; consumers use it as their durable cursor.
type Record struct {
	Topic      string
	Sequence   int64
	EventType  string
	Payload    json.RawMessage
	RecordedAt time.Time
}

// persistSQL claims the next per-topic sequence and inserts the record in
// one statement. The counter row update serializes committers per topic, so
// a reader can never observe sequence N while N-1 is still uncommitted.
const persistSQL = `
WITH seq AS (
    INSERT INTO outbox_topics (topic, last_sequence)
    VALUES ($1, 1)
    ON CONFLICT (topic) DO UPDATE SET last_sequence = outbox_topics.last_sequence + 1
    RETURNING last_sequence
)
INSERT INTO outbox_events (topic, sequence, event_type, payload, recorded_at)
SELECT $1, seq.last_sequence, $2, $3, $4 FROM seq
RETURNING sequence`

const fetchSQL = `
SELECT topic, sequence, event_type, payload, recorded_at
FROM outbox_events
WHERE topic = $1 AND sequence > $2
ORDER BY sequence
LIMIT $3`

// Outbox persists and serves per-topic ordered event records.
type Outbox struct {
	db    postgres.Querier
	clock clockwork.Clock
	log   *slog.Logger

	pollInterval time.Duration
	batchSize    int
}

// New creates an Outbox. pollInterval and batchSize drive Subscribe's
// polling loop; non-positive values fall back to 100ms / 100.
func New(db postgres.Querier, clock clockwork.Clock, log *slog.Logger, pollInterval time.Duration, batchSize int) *Outbox {
	if pollInterval <= 0 {
		pollInterval = 100 * time.Millisecond
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Outbox{
		db:           db,
		clock:        clock,
		log:          log.With("component", "outbox"),
		pollInterval: pollInterval,
		batchSize:    batchSize,
	}
}

// Persist appends one record to the topic inside the ambient transaction and
// returns the assigned sequence. If the surrounding transaction rolls back,
// the outbox write rolls back with it.
func (o *Outbox) Persist(ctx context.Context, topic, eventType string, payload any) (int64, error) {
	if !postgres.InTx(ctx) {
		return 0, ErrNoTransaction
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("outbox: marshal %s payload: %w", eventType, err)
	}

	q := postgres.QuerierFromCtx(ctx, o.db)

	var seq int64
	err = q.QueryRow(ctx, persistSQL, topic, eventType, data, o.clock.Now().UTC()).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("outbox: persist %s to %s: %w", eventType, topic, err)
	}
	return seq, nil
}

// Fetch returns up to limit records of the topic strictly after the cursor,
// in sequence order. The pull API behind Subscribe and the listener job.
func (o *Outbox) Fetch(ctx context.Context, topic string, after int64, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = o.batchSize
	}

	q := postgres.QuerierFromCtx(ctx, o.db)

	rows, err := q.Query(ctx, fetchSQL, topic, after, limit)
	if err != nil {
		return nil, fmt.Errorf("outbox: fetch %s after %d: %w", topic, after, err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.Topic, &r.Sequence, &r.EventType, &r.Payload, &r.RecordedAt); err != nil {
			return nil, fmt.Errorf("outbox: scan %s: %w", topic, err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox: fetch %s: %w", topic, err)
	}
	return records, nil
}

// Subscribe streams the topic beginning strictly after the cursor. The
// stream is unbounded, restartable, and at-least-once: consumers persist
// their own last-seen sequence externally and tolerate redelivery of the
// last unacknowledged batch. The channel closes when ctx is done.
func (o *Outbox) Subscribe(ctx context.Context, topic string, after int64) <-chan Record {
	out := make(chan Record)

	go func() {
		defer close(out)

		cursor := after
		ticker := o.clock.NewTicker(o.pollInterval)
		defer ticker.Stop()

		for {
			records, err := o.Fetch(ctx, topic, cursor, o.batchSize)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				o.log.ErrorContext(ctx, "outbox fetch failed",
					slog.String("topic", topic),
					slog.Int64("cursor", cursor),
					slog.String("error", err.Error()),
				)
			}

			for _, r := range records {
				select {
				case out <- r:
					cursor = r.Sequence
				case <-ctx.Done():
					return
				}
			}

			if len(records) > 0 {
				// Drain the backlog before sleeping again.
				continue
			}

			select {
			case <-ticker.Chan():
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}
