package storage

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pfrederiksen/bake-events/internal/event"
	"github.com/pfrederiksen/bake-events/internal/place"
)

// DryRunStore passes reads through to a backend and counts writes instead of
// applying them.
type DryRunStore struct {
	inner Store

	inserts atomic.Int64
	deletes atomic.Int64
	marks   atomic.Int64
}

// NewDryRun wraps s
func NewDryRun(s Store) *DryRunStore {
	return &DryRunStore{inner: s}
}

// Writes returns the number of suppressed inserts, deleted rows and place updates
func (d *DryRunStore) Writes() (inserts, deletes, marks int64) {
	return d.inserts.Load(), d.deletes.Load(), d.marks.Load()
}

func (d *DryRunStore) ListPlaces(ctx context.Context) ([]place.Place, error) {
	return d.inner.ListPlaces(ctx)
}

func (d *DryRunStore) MarkProcessed(ctx context.Context, placeID int64, at time.Time) error {
	d.marks.Add(1)
	return nil
}

func (d *DryRunStore) SelectEvents(ctx context.Context, f EventFilter) ([]event.Stored, error) {
	return d.inner.SelectEvents(ctx, f)
}

func (d *DryRunStore) InsertEvent(ctx context.Context, e *event.Stored) error {
	d.inserts.Add(1)
	return nil
}

// DeleteEvents reports how many rows would have been deleted.
func (d *DryRunStore) DeleteEvents(ctx context.Context, f EventFilter) (int64, error) {
	if f.IsEmpty() {
		return 0, ErrUnboundedDelete
	}
	rows, err := d.inner.SelectEvents(ctx, f)
	if err != nil {
		return 0, err
	}
	n := int64(len(rows))
	d.deletes.Add(n)
	return n, nil
}

// UpsertEvent reports whether the row would have been inserted.
func (d *DryRunStore) UpsertEvent(ctx context.Context, e *event.Stored, conflictKeys []string) (bool, error) {
	if err := CheckConflictKeys(conflictKeys); err != nil {
		return false, err
	}
	rows, err := d.inner.SelectEvents(ctx, EventFilter{PlaceIDs: []int64{e.PlaceID}})
	if err != nil {
		return false, err
	}
	for _, existing := range rows {
		if SameConflict(existing, *e, conflictKeys) {
			return false, nil
		}
	}
	d.inserts.Add(1)
	return true, nil
}

func (d *DryRunStore) Close() error {
	return d.inner.Close()
}
