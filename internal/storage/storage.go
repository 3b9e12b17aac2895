package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pfrederiksen/bake-events/internal/event"
	"github.com/pfrederiksen/bake-events/internal/place"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrUnboundedDelete     = errors.New("refusing to delete without a filter")
	ErrUnsupportedConflict = errors.New("unsupported conflict keys")
)

// EventFilter selects stored events. Zero-valued fields do not constrain.
type EventFilter struct {
	PlaceIDs  []int64
	EventDate string // exact match
	Before    string // event_date < Before
	OnOrAfter string // event_date >= OnOrAfter
}

// IsEmpty reports whether the filter would match every row.
func (f EventFilter) IsEmpty() bool {
	return len(f.PlaceIDs) == 0 && f.EventDate == "" && f.Before == "" && f.OnOrAfter == ""
}

// Matches evaluates the filter against one event.
func (f EventFilter) Matches(e event.Stored) bool {
	if len(f.PlaceIDs) > 0 {
		found := false
		for _, id := range f.PlaceIDs {
			if e.PlaceID == id {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.EventDate != "" && e.EventDate != f.EventDate {
		return false
	}
	if f.Before != "" && !(e.EventDate < f.Before) {
		return false
	}
	if f.OnOrAfter != "" && e.EventDate < f.OnOrAfter {
		return false
	}
	return true
}

// EventStore persists stored events.
type EventStore interface {
	SelectEvents(ctx context.Context, f EventFilter) ([]event.Stored, error)
	// InsertEvent inserts e unconditionally and sets e.ID.
	InsertEvent(ctx context.Context, e *event.Stored) error
	DeleteEvents(ctx context.Context, f EventFilter) (int64, error)
	// UpsertEvent inserts e unless a row with equal conflictKeys exists.
	// It reports whether a row was inserted.
	UpsertEvent(ctx context.Context, e *event.Stored, conflictKeys []string) (bool, error)
}

// PlaceRegistry is the pipeline's view of the place registry.
type PlaceRegistry interface {
	ListPlaces(ctx context.Context) ([]place.Place, error)
	MarkProcessed(ctx context.Context, placeID int64, at time.Time) error
}

// Transactor runs fn against a transactional view of the event store. Either
// every write made through the view is committed or none is.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(EventStore) error) error
}

// Store is a complete backend.
type Store interface {
	EventStore
	PlaceRegistry
	Close() error
}

// RunInTx calls fn inside a transaction when s supports one, otherwise directly.
func RunInTx(ctx context.Context, s EventStore, fn func(EventStore) error) error {
	if tx, ok := s.(Transactor); ok {
		return tx.WithinTx(ctx, fn)
	}
	return fn(s)
}

var conflictColumns = map[string]bool{
	"place_id":   true,
	"event_date": true,
	"title_key":  true,
	"title":      true,
}

// CheckConflictKeys validates conflict key column names against the columns
// a backend may use in an ON CONFLICT target.
func CheckConflictKeys(keys []string) error {
	if len(keys) == 0 {
		return fmt.Errorf("%w: none given", ErrUnsupportedConflict)
	}
	for _, k := range keys {
		if !conflictColumns[k] {
			return fmt.Errorf("%w: %q", ErrUnsupportedConflict, k)
		}
	}
	return nil
}

// SameConflict reports whether a and b agree on every conflict key.
func SameConflict(a, b event.Stored, keys []string) bool {
	for _, k := range keys {
		switch k {
		case "place_id":
			if a.PlaceID != b.PlaceID {
				return false
			}
		case "event_date":
			if a.EventDate != b.EventDate {
				return false
			}
		case "title_key":
			if a.Key().TitleKey != b.Key().TitleKey {
				return false
			}
		case "title":
			if a.Title != b.Title {
				return false
			}
		}
	}
	return true
}

// Dialect describes how a SQL backend spells bind parameters.
type Dialect struct {
	// Placeholder returns the bind marker for the n-th (1-based) argument.
	Placeholder func(n int) string
	// DateParam wraps a bind marker compared against event_date.
	DateParam func(ph string) string
}

// Where renders f as a SQL WHERE clause (without the keyword) and its args.
// An empty filter renders as "TRUE".
func (f EventFilter) Where(d Dialect, startArg int) (string, []any) {
	dateParam := d.DateParam
	if dateParam == nil {
		dateParam = func(ph string) string { return ph }
	}

	var (
		conds []string
		args  []any
	)
	next := func(v any) string {
		args = append(args, v)
		return d.Placeholder(startArg + len(args) - 1)
	}

	if len(f.PlaceIDs) > 0 {
		phs := make([]string, len(f.PlaceIDs))
		for i, id := range f.PlaceIDs {
			phs[i] = next(id)
		}
		conds = append(conds, fmt.Sprintf("place_id IN (%s)", strings.Join(phs, ", ")))
	}
	if f.EventDate != "" {
		conds = append(conds, "event_date = "+dateParam(next(f.EventDate)))
	}
	if f.Before != "" {
		conds = append(conds, "event_date < "+dateParam(next(f.Before)))
	}
	if f.OnOrAfter != "" {
		conds = append(conds, "event_date >= "+dateParam(next(f.OnOrAfter)))
	}

	if len(conds) == 0 {
		return "TRUE", nil
	}
	return strings.Join(conds, " AND "), args
}
