package es

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/prettysheep-coder/bankcore/internal/adapter/postgres"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200

	// createdAtColumn is maintained on every index table and is always
	// available as a listing order.
	createdAtColumn = "created_at"
)

var identRx = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// IndexColumn declares one secondary ordering/filter column of an aggregate,
// maintained in the index table on every create and update.
type IndexColumn[A any] struct {
	// Name is the column name in the index table.
	Name string

	// Value extracts the column value from the aggregate.
	Value func(a A) any

	// DecodeKey converts a JSON-decoded cursor key back into a query
	// argument of the column's type. Defaults to the identity function;
	// time columns use TimeKey.
	DecodeKey func(key any) (any, error)
}

// TimeKey is the DecodeKey for timestamp columns: cursor keys round-trip
// through JSON as RFC 3339 strings and must be parsed back into time.Time.
func TimeKey(key any) (any, error) {
	switch v := key.(type) {
	case time.Time:
		return v, nil
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("%w: bad time key: %v", ErrMalformedCursor, err)
		}
		return t, nil
	default:
		return nil, fmt.Errorf("%w: bad time key type %T", ErrMalformedCursor, key)
	}
}

// RepoConfig declares how one aggregate kind is persisted: its events table,
// its index table, how to construct an empty aggregate, how to decode stored
// payloads, and which secondary columns its listings order by.
type RepoConfig[E EventPayload, A Entity[E]] struct {
	EventsTable string
	IndexTable  string
	New         func() A
	DecodeEvent func(eventType string, data []byte) (E, error)
	Indexes     []IndexColumn[A]
}

func (c RepoConfig[E, A]) validate() error {
	if !identRx.MatchString(c.EventsTable) {
		return fmt.Errorf("es: invalid events table %q", c.EventsTable)
	}
	if !identRx.MatchString(c.IndexTable) {
		return fmt.Errorf("es: invalid index table %q", c.IndexTable)
	}
	if c.New == nil {
		return fmt.Errorf("es: %s: New constructor is required", c.EventsTable)
	}
	if c.DecodeEvent == nil {
		return fmt.Errorf("es: %s: DecodeEvent is required", c.EventsTable)
	}
	for _, ic := range c.Indexes {
		if !identRx.MatchString(ic.Name) || ic.Name == "id" || ic.Name == createdAtColumn {
			return fmt.Errorf("es: %s: invalid index column %q", c.IndexTable, ic.Name)
		}
		if ic.Value == nil {
			return fmt.Errorf("es: %s: index column %q has no value extractor", c.IndexTable, ic.Name)
		}
	}
	return nil
}

// Repo is the generic event-sourced repository. All operations run against
// the ambient transaction when one is present in the context (TxManager),
// falling back to the pool otherwise.
type Repo[E EventPayload, A Entity[E]] struct {
	db    postgres.Querier
	clock clockwork.Clock
	cfg   RepoConfig[E, A]
}

// NewRepo creates a repository for one aggregate kind.
func NewRepo[E EventPayload, A Entity[E]](db postgres.Querier, clock clockwork.Clock, cfg RepoConfig[E, A]) (*Repo[E, A], error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Repo[E, A]{db: db, clock: clock, cfg: cfg}, nil
}

// MustNewRepo is NewRepo panicking on config errors. Repository configs are
// static declarations, so a bad one is a programming error caught at startup.
func MustNewRepo[E EventPayload, A Entity[E]](db postgres.Querier, clock clockwork.Clock, cfg RepoConfig[E, A]) *Repo[E, A] {
	r, err := NewRepo(db, clock, cfg)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Repo[E, A]) builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

// ---------------------------------------------------------------------------
// Write operations
// ---------------------------------------------------------------------------

// Create converts the descriptor into the initial event sequence, writes it
// at sequence 1..N in the ambient transaction, and returns the rebuilt
// aggregate. Returns ErrDuplicateID if the entity id already has events.
func (r *Repo[E, A]) Create(ctx context.Context, n NewEntity[E]) (A, error) {
	var zero A

	id := n.EntityID()
	events := n.InitialEvents()
	if id == uuid.Nil {
		return zero, fmt.Errorf("es: %s: new entity has nil id", r.cfg.EventsTable)
	}
	if len(events) == 0 {
		return zero, fmt.Errorf("es: %s %s: new entity has no initial events", r.cfg.EventsTable, id)
	}

	if err := r.insertEvents(ctx, id, 1, events); err != nil {
		if postgres.IsUniqueViolation(err) {
			return zero, fmt.Errorf("%s %s: %w", r.cfg.EventsTable, id, ErrDuplicateID)
		}
		return zero, fmt.Errorf("insert initial events %s %s: %w", r.cfg.EventsTable, id, err)
	}

	agg := r.hydrate(id, events)

	if err := r.insertIndex(ctx, agg); err != nil {
		return zero, err
	}

	return agg, nil
}

// Update persists only the aggregate's pending events, starting at
// lastPersisted+1. The (entity_id, sequence) uniqueness of the events table
// is the compare-and-append condition: another writer that persisted in
// between occupies the sequence and the whole write fails with
// ErrConcurrentModification, persisting nothing.
//
// On success the pending buffer clears and the tracker advances. If the
// surrounding transaction later rolls back, the aggregate must be discarded.
func (r *Repo[E, A]) Update(ctx context.Context, a A) error {
	t := a.tracker()
	pending := t.Pending()
	if len(pending) == 0 {
		return nil
	}

	if err := r.insertEvents(ctx, t.EntityID(), t.LastPersisted()+1, pending); err != nil {
		if postgres.IsUniqueViolation(err) {
			return fmt.Errorf("%s %s: %w", r.cfg.EventsTable, t.EntityID(), ErrConcurrentModification)
		}
		return fmt.Errorf("append events %s %s: %w", r.cfg.EventsTable, t.EntityID(), err)
	}

	if err := r.updateIndex(ctx, a); err != nil {
		return err
	}

	t.markPersisted(len(pending))
	return nil
}

func (r *Repo[E, A]) insertEvents(ctx context.Context, id uuid.UUID, startSeq int64, events []E) error {
	q := postgres.QuerierFromCtx(ctx, r.db)
	now := r.clock.Now().UTC()

	ins := r.builder().
		Insert(r.cfg.EventsTable).
		Columns("entity_id", "sequence", "event_type", "payload", "recorded_at")
	for i, e := range events {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal event %q: %w", e.EventType(), err)
		}
		ins = ins.Values(id, startSeq+int64(i), e.EventType(), data, now)
	}

	sql, args, err := ins.ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	_, err = q.Exec(ctx, sql, args...)
	return err
}

func (r *Repo[E, A]) insertIndex(ctx context.Context, a A) error {
	q := postgres.QuerierFromCtx(ctx, r.db)

	cols := []string{"id"}
	vals := []any{a.EntityID()}
	for _, ic := range r.cfg.Indexes {
		cols = append(cols, ic.Name)
		vals = append(vals, ic.Value(a))
	}
	cols = append(cols, createdAtColumn)
	vals = append(vals, r.clock.Now().UTC())

	sql, args, err := r.builder().
		Insert(r.cfg.IndexTable).
		Columns(cols...).
		Values(vals...).
		ToSql()
	if err != nil {
		return fmt.Errorf("build index insert: %w", err)
	}

	if _, err := q.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert index %s %s: %w", r.cfg.IndexTable, a.EntityID(), err)
	}
	return nil
}

func (r *Repo[E, A]) updateIndex(ctx context.Context, a A) error {
	if len(r.cfg.Indexes) == 0 {
		return nil
	}

	q := postgres.QuerierFromCtx(ctx, r.db)

	upd := r.builder().Update(r.cfg.IndexTable)
	for _, ic := range r.cfg.Indexes {
		upd = upd.Set(ic.Name, ic.Value(a))
	}
	sql, args, err := upd.Where(squirrel.Eq{"id": a.EntityID()}).ToSql()
	if err != nil {
		return fmt.Errorf("build index update: %w", err)
	}

	if _, err := q.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("update index %s %s: %w", r.cfg.IndexTable, a.EntityID(), err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Read operations
// ---------------------------------------------------------------------------

// FindByID loads all persisted events for id in sequence order and folds
// them into the aggregate. Returns ErrNotFound when no events exist; a
// sequence gap or an undecodable payload is ErrCorruptEventLog.
func (r *Repo[E, A]) FindByID(ctx context.Context, id uuid.UUID) (A, error) {
	var zero A

	q := postgres.QuerierFromCtx(ctx, r.db)

	sql, args, err := r.builder().
		Select("sequence", "event_type", "payload").
		From(r.cfg.EventsTable).
		Where(squirrel.Eq{"entity_id": id}).
		OrderBy("sequence ASC").
		ToSql()
	if err != nil {
		return zero, fmt.Errorf("build select: %w", err)
	}

	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return zero, fmt.Errorf("load events %s %s: %w", r.cfg.EventsTable, id, err)
	}
	defer rows.Close()

	payloads, err := r.foldRows(rows, id)
	if err != nil {
		return zero, err
	}
	if len(payloads) == 0 {
		return zero, fmt.Errorf("%s %s: %w", r.cfg.EventsTable, id, ErrNotFound)
	}

	return r.hydrate(id, payloads), nil
}

// foldRows scans (sequence, event_type, payload) rows in order, verifying
// the gapless 1..N invariant and decoding each payload.
func (r *Repo[E, A]) foldRows(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}, id uuid.UUID) ([]E, error) {
	var (
		payloads []E
		lastSeq  int64
	)
	for rows.Next() {
		var (
			seq       int64
			eventType string
			data      []byte
		)
		if err := rows.Scan(&seq, &eventType, &data); err != nil {
			return nil, fmt.Errorf("scan event %s %s: %w", r.cfg.EventsTable, id, err)
		}
		if seq != lastSeq+1 {
			return nil, fmt.Errorf("%s %s: sequence gap at %d: %w", r.cfg.EventsTable, id, seq, ErrCorruptEventLog)
		}
		lastSeq = seq

		payload, err := r.cfg.DecodeEvent(eventType, data)
		if err != nil {
			return nil, fmt.Errorf("%s %s: decode %q at sequence %d: %v: %w",
				r.cfg.EventsTable, id, eventType, seq, err, ErrCorruptEventLog)
		}
		payloads = append(payloads, payload)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load events %s %s: %w", r.cfg.EventsTable, id, err)
	}
	return payloads, nil
}

// hydrate folds an ordered payload sequence into a fresh aggregate and
// positions its tracker at the end of the persisted log.
func (r *Repo[E, A]) hydrate(id uuid.UUID, payloads []E) A {
	return Replay(r.cfg.New, id, payloads)
}

// Replay folds an ordered payload sequence into a fresh aggregate as if it
// had been loaded from the log. Useful for projections and for tests that
// need a hydrated aggregate without a store.
func Replay[E EventPayload, A Entity[E]](newA func() A, id uuid.UUID, payloads []E) A {
	a := newA()
	t := a.tracker()
	t.init(id)
	for _, p := range payloads {
		a.ApplyEvent(p)
	}
	t.lastPersisted = int64(len(payloads))
	return a
}

// ---------------------------------------------------------------------------
// Listing
// ---------------------------------------------------------------------------

// ListQuery describes one page request of a cursor-paginated listing.
type ListQuery struct {
	// OrderBy is a declared index column or "created_at" (the default).
	OrderBy string

	// Desc reverses the traversal direction.
	Desc bool

	// After is the opaque cursor of the previous page; empty starts over.
	After string

	// Limit is the page size; defaults to 50, capped at 200.
	Limit int
}

// Page is one page of a listing plus the cursor of the next one.
type Page[A any] struct {
	Items []A

	// NextCursor resumes after the last item; empty when the listing is
	// exhausted.
	NextCursor string
}

// List returns aggregates ordered by the declared column with entity id as
// tiebreak, so the ordering stays total even with duplicate key values.
// Range predicates are half-open, derived from the decoded cursor.
func (r *Repo[E, A]) List(ctx context.Context, lq ListQuery) (Page[A], error) {
	var zero Page[A]

	col, decodeKey, err := r.orderColumn(lq.OrderBy)
	if err != nil {
		return zero, err
	}

	limit := lq.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	sel := r.builder().
		Select("id", col).
		From(r.cfg.IndexTable)

	if lq.After != "" {
		cur, err := DecodeCursor(lq.After)
		if err != nil {
			return zero, err
		}
		key, err := decodeKey(cur.Key)
		if err != nil {
			return zero, err
		}
		if lq.Desc {
			sel = sel.Where(squirrel.Or{
				squirrel.Lt{col: key},
				squirrel.And{squirrel.Eq{col: key}, squirrel.Lt{"id": cur.ID}},
			})
		} else {
			sel = sel.Where(squirrel.Or{
				squirrel.Gt{col: key},
				squirrel.And{squirrel.Eq{col: key}, squirrel.Gt{"id": cur.ID}},
			})
		}
	}

	dir := "ASC"
	if lq.Desc {
		dir = "DESC"
	}
	sel = sel.OrderBy(col+" "+dir, "id "+dir).Limit(uint64(limit + 1))

	sql, args, err := sel.ToSql()
	if err != nil {
		return zero, fmt.Errorf("build list: %w", err)
	}

	q := postgres.QuerierFromCtx(ctx, r.db)
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return zero, fmt.Errorf("list %s: %w", r.cfg.IndexTable, err)
	}
	defer rows.Close()

	var (
		ids  []uuid.UUID
		keys = make(map[uuid.UUID]any)
	)
	for rows.Next() {
		var (
			id  uuid.UUID
			key any
		)
		if err := rows.Scan(&id, &key); err != nil {
			return zero, fmt.Errorf("scan list %s: %w", r.cfg.IndexTable, err)
		}
		ids = append(ids, id)
		keys[id] = key
	}
	if err := rows.Err(); err != nil {
		return zero, fmt.Errorf("list %s: %w", r.cfg.IndexTable, err)
	}

	more := len(ids) > limit
	if more {
		ids = ids[:limit]
	}
	if len(ids) == 0 {
		return Page[A]{}, nil
	}

	byID, err := r.loadAll(ctx, ids)
	if err != nil {
		return zero, err
	}

	items := make([]A, 0, len(ids))
	for _, id := range ids {
		a, ok := byID[id]
		if !ok {
			// Index row without events means the two tables diverged.
			return zero, fmt.Errorf("%s %s: indexed but has no events: %w", r.cfg.IndexTable, id, ErrCorruptEventLog)
		}
		items = append(items, a)
	}

	page := Page[A]{Items: items}
	if more {
		last := ids[len(ids)-1]
		page.NextCursor = Cursor{Key: keys[last], ID: last}.Encode()
	}
	return page, nil
}

// orderColumn resolves a listing order to its column and cursor key decoder.
func (r *Repo[E, A]) orderColumn(name string) (string, func(any) (any, error), error) {
	identity := func(k any) (any, error) { return k, nil }

	if name == "" || name == createdAtColumn {
		return createdAtColumn, TimeKey, nil
	}
	for _, ic := range r.cfg.Indexes {
		if ic.Name == name {
			if ic.DecodeKey != nil {
				return ic.Name, ic.DecodeKey, nil
			}
			return ic.Name, identity, nil
		}
	}
	return "", nil, fmt.Errorf("es: %s: unknown order column %q", r.cfg.IndexTable, name)
}

// loadAll batch-loads and rebuilds the aggregates for a page of ids.
func (r *Repo[E, A]) loadAll(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]A, error) {
	q := postgres.QuerierFromCtx(ctx, r.db)

	sql, args, err := r.builder().
		Select("entity_id", "sequence", "event_type", "payload").
		From(r.cfg.EventsTable).
		Where(squirrel.Eq{"entity_id": ids}).
		OrderBy("entity_id ASC", "sequence ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build batch load: %w", err)
	}

	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("batch load %s: %w", r.cfg.EventsTable, err)
	}
	defer rows.Close()

	grouped := make(map[uuid.UUID][]E, len(ids))
	lastSeq := make(map[uuid.UUID]int64, len(ids))
	for rows.Next() {
		var (
			id        uuid.UUID
			seq       int64
			eventType string
			data      []byte
		)
		if err := rows.Scan(&id, &seq, &eventType, &data); err != nil {
			return nil, fmt.Errorf("scan batch load %s: %w", r.cfg.EventsTable, err)
		}
		if seq != lastSeq[id]+1 {
			return nil, fmt.Errorf("%s %s: sequence gap at %d: %w", r.cfg.EventsTable, id, seq, ErrCorruptEventLog)
		}
		lastSeq[id] = seq

		payload, err := r.cfg.DecodeEvent(eventType, data)
		if err != nil {
			return nil, fmt.Errorf("%s %s: decode %q at sequence %d: %v: %w",
				r.cfg.EventsTable, id, eventType, seq, err, ErrCorruptEventLog)
		}
		grouped[id] = append(grouped[id], payload)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("batch load %s: %w", r.cfg.EventsTable, err)
	}

	out := make(map[uuid.UUID]A, len(grouped))
	for id, payloads := range grouped {
		out[id] = r.hydrate(id, payloads)
	}
	return out, nil
}
