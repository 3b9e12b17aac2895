// Package sqlite implements the event store and place registry on a local
// SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pfrederiksen/bake-events/internal/event"
	"github.com/pfrederiksen/bake-events/internal/place"
	"github.com/pfrederiksen/bake-events/internal/storage"
)

//go:embed schema.sql
var schemaSQL string

var dialect = storage.Dialect{
	Placeholder: func(n int) string { return fmt.Sprintf("?%d", n) },
}

const eventColumns = `id, place_id, place_name, postal_code, title, event_date, category,
	window_type, price_text, description, title_key, created_at`

// Store provides durable storage on SQLite.
// Uses WAL mode and a single connection, SQLite allows one writer at a time.
type Store struct {
	db *sql.DB
	events
}

// Open creates or opens the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db, events: events{q: db}}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// AddPlaces inserts or replaces place rows. The pipeline never calls it; it
// exists for seeding and tests.
func (s *Store) AddPlaces(ctx context.Context, places ...place.Place) error {
	for _, p := range places {
		var last any
		if p.LastProcessedAt != nil {
			last = p.LastProcessedAt.UTC().Format(time.RFC3339Nano)
		}
		_, err := s.db.ExecContext(ctx, `
			INSERT OR REPLACE INTO places (id, name, url, postal_code, category, is_master, parent_id, last_processed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.Name, p.URL, p.PostalCode, p.Category, p.IsMaster, p.ParentID, last)
		if err != nil {
			return fmt.Errorf("failed to add place %d: %w", p.ID, err)
		}
	}
	return nil
}

// ListPlaces implements storage.PlaceRegistry
func (s *Store) ListPlaces(ctx context.Context) ([]place.Place, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, url, postal_code, category, is_master, parent_id, last_processed_at
		FROM places ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list places: %w", err)
	}
	defer rows.Close()

	var out []place.Place
	for rows.Next() {
		var (
			p      place.Place
			parent sql.NullInt64
			last   sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.URL, &p.PostalCode, &p.Category,
			&p.IsMaster, &parent, &last); err != nil {
			return nil, fmt.Errorf("failed to scan place: %w", err)
		}
		if parent.Valid {
			id := parent.Int64
			p.ParentID = &id
		}
		if last.Valid {
			ts, err := time.Parse(time.RFC3339Nano, last.String)
			if err != nil {
				return nil, fmt.Errorf("place %d: bad last_processed_at %q: %w", p.ID, last.String, err)
			}
			p.LastProcessedAt = &ts
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// MarkProcessed implements storage.PlaceRegistry
func (s *Store) MarkProcessed(ctx context.Context, placeID int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE places SET last_processed_at = ? WHERE id = ?`,
		at.UTC().Format(time.RFC3339Nano), placeID)
	if err != nil {
		return fmt.Errorf("failed to mark place %d processed: %w", placeID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("place %d: %w", placeID, storage.ErrNotFound)
	}
	return nil
}

// WithinTx implements storage.Transactor
func (s *Store) WithinTx(ctx context.Context, fn func(storage.EventStore) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = errors.Join(err, rbErr)
			}
		}
	}()

	if err = fn(&events{q: tx}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// querier is the subset shared by *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// events implements storage.EventStore. A failed single-row statement in
// SQLite does not abort the enclosing transaction, so no savepoints are needed.
type events struct {
	q querier
}

func (e *events) SelectEvents(ctx context.Context, f storage.EventFilter) ([]event.Stored, error) {
	where, args := f.Where(dialect, 1)
	rows, err := e.q.QueryContext(ctx, "SELECT "+eventColumns+" FROM events WHERE "+where+
		" ORDER BY event_date, place_id, id", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select events: %w", err)
	}
	defer rows.Close()

	var out []event.Stored
	for rows.Next() {
		var (
			ev      event.Stored
			window  string
			created string
		)
		if err := rows.Scan(&ev.ID, &ev.PlaceID, &ev.PlaceName, &ev.PostalCode, &ev.Title,
			&ev.EventDate, &ev.Category, &window, &ev.PriceText, &ev.Description,
			&ev.TitleKey, &created); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.WindowType = event.WindowType(window)
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			ev.CreatedAt = ts
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (e *events) InsertEvent(ctx context.Context, ev *event.Stored) error {
	prepare(ev)
	res, err := e.q.ExecContext(ctx, insertSQL(nil), insertArgs(ev)...)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read event id: %w", err)
	}
	ev.ID = id
	return nil
}

func (e *events) DeleteEvents(ctx context.Context, f storage.EventFilter) (int64, error) {
	if f.IsEmpty() {
		return 0, storage.ErrUnboundedDelete
	}
	where, args := f.Where(dialect, 1)
	res, err := e.q.ExecContext(ctx, "DELETE FROM events WHERE "+where, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete events: %w", err)
	}
	return res.RowsAffected()
}

func (e *events) UpsertEvent(ctx context.Context, ev *event.Stored, conflictKeys []string) (bool, error) {
	if err := storage.CheckConflictKeys(conflictKeys); err != nil {
		return false, err
	}
	prepare(ev)

	res, err := e.q.ExecContext(ctx, insertSQL(conflictKeys), insertArgs(ev)...)
	if err != nil {
		return false, fmt.Errorf("failed to upsert event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	if ev.ID, err = res.LastInsertId(); err != nil {
		return false, fmt.Errorf("failed to read event id: %w", err)
	}
	return true, nil
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
		ev.Category, string(ev.WindowType), ev.PriceText, ev.Description, ev.TitleKey,
		ev.CreatedAt.UTC().Format(time.RFC3339Nano)}
}

var keyParam = map[string]string{
	"place_id":   "?1",
	"title":      "?4",
	"event_date": "?5",
	"title_key":  "?10",
}

func insertSQL(conflictKeys []string) string {
	const cols = `place_id, place_name, postal_code, title, event_date, category,
		window_type, price_text, description, title_key, created_at`
	const vals = `?1, ?2, ?3, ?4, ?5, ?6, ?7, ?8, ?9, ?10, ?11`

	if len(conflictKeys) == 0 {
		return "INSERT INTO events (" + cols + ") VALUES (" + vals + ")"
	}

	conds := make([]string, len(conflictKeys))
	for i, k := range conflictKeys {
		conds[i] = k + " = " + keyParam[k]
	}
	return "INSERT INTO events (" + cols + ") SELECT " + vals +
		" WHERE NOT EXISTS (SELECT 1 FROM events WHERE " + strings.Join(conds, " AND ") + ")" +
		" ON CONFLICT DO NOTHING"
}
