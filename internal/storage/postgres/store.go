package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pfrederiksen/bake-events/internal/event"
	"github.com/pfrederiksen/bake-events/internal/place"
	"github.com/pfrederiksen/bake-events/internal/storage"
)

// dialect binds event_date parameters as text and casts them, so callers can
// pass YYYY-MM-DD strings against the DATE column.
var dialect = storage.Dialect{
	Placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	DateParam:   func(ph string) string { return ph + "::text::date" },
}

const eventColumns = `id, place_id, place_name, postal_code, title, event_date::text, category,
	window_type, price_text, description, title_key, created_at`

// querier is the subset shared by *pgxpool.Pool and pgx.Tx
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store implements storage.Store on PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
	events
}

// New wraps an open pool.
func New(pool *pgxpool.Pool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pgxpool.Pool cannot be nil")
	}
	return &Store{pool: pool, events: events{q: pool}}, nil
}

// Open connects, applies the schema and returns a ready store.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := NewClient(ctx, Config{DatabaseURL: databaseURL})
	if err != nil {
		return nil, err
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return New(pool)
}

// ListPlaces implements storage.PlaceRegistry
func (s *Store) ListPlaces(ctx context.Context) ([]place.Place, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, url, postal_code, category, is_master, parent_id, last_processed_at
		FROM places ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list places: %w", err)
	}
	defer rows.Close()

	var out []place.Place
	for rows.Next() {
		var p place.Place
		if err := rows.Scan(&p.ID, &p.Name, &p.URL, &p.PostalCode, &p.Category,
			&p.IsMaster, &p.ParentID, &p.LastProcessedAt); err != nil {
			return nil, fmt.Errorf("failed to scan place: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// AddPlaces upserts place rows by id in one transaction and moves the id
// sequence past the largest id. Used for seeding.
func (s *Store) AddPlaces(ctx context.Context, places ...place.Place) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, p := range places {
			batch.Queue(`
				INSERT INTO places (id, name, url, postal_code, category, is_master, parent_id, last_processed_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
				ON CONFLICT (id) DO UPDATE SET
					name = EXCLUDED.name, url = EXCLUDED.url, postal_code = EXCLUDED.postal_code,
					category = EXCLUDED.category, is_master = EXCLUDED.is_master,
					parent_id = EXCLUDED.parent_id, last_processed_at = EXCLUDED.last_processed_at`,
				p.ID, p.Name, p.URL, p.PostalCode, p.Category, p.IsMaster, p.ParentID, p.LastProcessedAt)
		}
		batch.Queue(`SELECT setval(pg_get_serial_sequence('places', 'id'), COALESCE(MAX(id), 1)) FROM places`)

		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to add places: %w", err)
		}
		return nil
	})
}

// MarkProcessed implements storage.PlaceRegistry
func (s *Store) MarkProcessed(ctx context.Context, placeID int64, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE places SET last_processed_at = $2 WHERE id = $1`, placeID, at.UTC())
	if err != nil {
		return fmt.Errorf("failed to mark place %d processed: %w", placeID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("place %d: %w", placeID, storage.ErrNotFound)
	}
	return nil
}

// WithinTx implements storage.Transactor
func (s *Store) WithinTx(ctx context.Context, fn func(storage.EventStore) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&events{q: tx})
	})
}

// Close releases the pool
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// events implements storage.EventStore over a pool or a transaction. Single
// row writes run in their own savepoint when q is a transaction, so one failed
// row does not abort the rest of the batch.
type events struct {
	q querier
}

func (e *events) SelectEvents(ctx context.Context, f storage.EventFilter) ([]event.Stored, error) {
	where, args := f.Where(dialect, 1)
	rows, err := e.q.Query(ctx, "SELECT "+eventColumns+" FROM events WHERE "+where+
		" ORDER BY event_date, place_id, id", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select events: %w", err)
	}
	defer rows.Close()

	var out []event.Stored
	for rows.Next() {
		var ev event.Stored
		var window string
		if err := rows.Scan(&ev.ID, &ev.PlaceID, &ev.PlaceName, &ev.PostalCode, &ev.Title,
			&ev.EventDate, &ev.Category, &window, &ev.PriceText, &ev.Description,
			&ev.TitleKey, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.WindowType = event.WindowType(window)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (e *events) InsertEvent(ctx context.Context, ev *event.Stored) error {
	prepare(ev)
	return e.savepoint(ctx, func(q querier) error {
		err := q.QueryRow(ctx, insertSQL(nil), insertArgs(ev)...).Scan(&ev.ID)
		if err != nil {
			return fmt.Errorf("failed to insert event: %w", err)
		}
		return nil
	})
}

func (e *events) DeleteEvents(ctx context.Context, f storage.EventFilter) (int64, error) {
	if f.IsEmpty() {
		return 0, storage.ErrUnboundedDelete
	}
	where, args := f.Where(dialect, 1)
	tag, err := e.q.Exec(ctx, "DELETE FROM events WHERE "+where, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete events: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (e *events) UpsertEvent(ctx context.Context, ev *event.Stored, conflictKeys []string) (bool, error) {
	if err := storage.CheckConflictKeys(conflictKeys); err != nil {
		return false, err
	}
	prepare(ev)

	inserted := false
	err := e.savepoint(ctx, func(q querier) error {
		err := q.QueryRow(ctx, insertSQL(conflictKeys), insertArgs(ev)...).Scan(&ev.ID)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return nil
		case err != nil:
			return fmt.Errorf("failed to upsert event: %w", err)
		}
		inserted = true
		return nil
	})
	return inserted, err
}

// savepoint runs fn inside a nested transaction when e is bound to one.
func (e *events) savepoint(ctx context.Context, fn func(querier) error) error {
	if _, ok := e.q.(pgx.Tx); !ok {
		return fn(e.q)
	}
	return pgx.BeginFunc(ctx, e.q, func(sp pgx.Tx) error {
		return fn(sp)
	})
}

func prepare(ev *event.Stored) {
	if ev.TitleKey == "" {
		ev.TitleKey = event.TitleKey(ev.Title)
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
}

func insertArgs(ev *event.Stored) []any {
	return []any{ev.PlaceID, ev.PlaceName, ev.PostalCode, ev.Title, ev.EventDate,
		ev.Category, string(ev.WindowType), ev.PriceText, ev.Description, ev.TitleKey, ev.CreatedAt}
}

// keyParam maps a conflict column to its bind marker in insertArgs order.
var keyParam = map[string]string{
	"place_id":   "$1",
	"title":      "$4",
	"event_date": "$5::text::date",
	"title_key":  "$10",
}

// insertSQL returns the insert statement. With conflict keys the row is only
// inserted when no row agrees on all of them, and RETURNING yields no row
// otherwise.
func insertSQL(conflictKeys []string) string {
	const cols = `place_id, place_name, postal_code, title, event_date, category,
		window_type, price_text, description, title_key, created_at`
	const vals = `$1::bigint, $2::text, $3::text, $4::text, $5::text::date, $6::text,
		$7::text, $8::text, $9::text, $10::text, $11::timestamptz`

	if len(conflictKeys) == 0 {
		return "INSERT INTO events (" + cols + ") VALUES (" + vals + ") RETURNING id"
	}

	conds := make([]string, len(conflictKeys))
	for i, k := range conflictKeys {
		conds[i] = k + " = " + keyParam[k]
	}
	return "INSERT INTO events (" + cols + ") SELECT " + vals +
		" WHERE NOT EXISTS (SELECT 1 FROM events WHERE " + strings.Join(conds, " AND ") + ")" +
		" ON CONFLICT DO NOTHING RETURNING id"
}
