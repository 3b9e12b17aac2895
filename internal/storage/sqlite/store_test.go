package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pfrederiksen/bake-events/internal/event"
	"github.com/pfrederiksen/bake-events/internal/place"
	"github.com/pfrederiksen/bake-events/internal/storage"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seed(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	master := int64(1)
	require.NoError(t, s.AddPlaces(ctx, place.Place{ID: 1, Name: "County Library", IsMaster: true}))
	require.NoError(t, s.AddPlaces(ctx, place.Place{ID: 2, Name: "Springfield Branch", ParentID: &master, PostalCode: "11111"}))
}

func TestOpen_AppliesPragmas(t *testing.T) {
	s := openTemp(t)

	var mode string
	require.NoError(t, s.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var fk int
	require.NoError(t, s.db.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)
}

func TestPlaces(t *testing.T) {
	s := openTemp(t)
	seed(t, s)
	ctx := context.Background()

	places, err := s.ListPlaces(ctx)
	require.NoError(t, err)
	require.Len(t, places, 2)
	assert.True(t, places[0].IsMaster)
	assert.Nil(t, places[0].ParentID)
	require.NotNil(t, places[1].ParentID)
	assert.Equal(t, int64(1), *places[1].ParentID)

	at := time.Date(2026, 10, 19, 8, 30, 0, 0, time.UTC)
	require.NoError(t, s.MarkProcessed(ctx, 2, at))

	places, err = s.ListPlaces(ctx)
	require.NoError(t, err)
	require.NotNil(t, places[1].LastProcessedAt)
	assert.True(t, at.Equal(*places[1].LastProcessedAt))

	err = s.MarkProcessed(ctx, 99, at)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestUpsertEvent(t *testing.T) {
	s := openTemp(t)
	seed(t, s)
	ctx := context.Background()

	first := &event.Stored{PlaceID: 2, Title: "Lego Club", EventDate: "2026-10-20", WindowType: event.WindowRecurring}
	inserted, err := s.UpsertEvent(ctx, first, event.ConflictKeys)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.NotZero(t, first.ID)

	dup := &event.Stored{PlaceID: 2, Title: "LEGO CLUB", EventDate: "2026-10-20"}
	inserted, err = s.UpsertEvent(ctx, dup, event.ConflictKeys)
	require.NoError(t, err)
	assert.False(t, inserted)

	rows, err := s.SelectEvents(ctx, storage.EventFilter{PlaceIDs: []int64{2}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, event.WindowRecurring, rows[0].WindowType)
	assert.Equal(t, "lego club", rows[0].TitleKey)
	assert.False(t, rows[0].CreatedAt.IsZero())
}

func TestInsertEvent_UniqueIndex(t *testing.T) {
	s := openTemp(t)
	seed(t, s)
	ctx := context.Background()

	require.NoError(t, s.InsertEvent(ctx, &event.Stored{PlaceID: 2, Title: "Story Time", EventDate: "2026-10-20"}))
	err := s.InsertEvent(ctx, &event.Stored{PlaceID: 2, Title: "Story Time", EventDate: "2026-10-20"})
	assert.Error(t, err)
}

func TestDeleteEvents(t *testing.T) {
	s := openTemp(t)
	seed(t, s)
	ctx := context.Background()

	for _, d := range []string{"2026-10-18", "2026-10-19", "2026-10-20"} {
		require.NoError(t, s.InsertEvent(ctx, &event.Stored{PlaceID: 2, Title: "Craft Hour", EventDate: d}))
	}

	_, err := s.DeleteEvents(ctx, storage.EventFilter{})
	assert.ErrorIs(t, err, storage.ErrUnboundedDelete)

	n, err := s.DeleteEvents(ctx, storage.EventFilter{Before: "2026-10-19"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	rows, err := s.SelectEvents(ctx, storage.EventFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "2026-10-19", rows[0].EventDate)
}

func TestWithinTx_Rollback(t *testing.T) {
	s := openTemp(t)
	seed(t, s)
	ctx := context.Background()
	require.NoError(t, s.InsertEvent(ctx, &event.Stored{PlaceID: 2, Title: "Keep", EventDate: "2026-10-20"}))

	boom := errors.New("boom")
	err := storage.RunInTx(ctx, s, func(tx storage.EventStore) error {
		if _, err := tx.DeleteEvents(ctx, storage.EventFilter{PlaceIDs: []int64{2}}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	rows, err := s.SelectEvents(ctx, storage.EventFilter{})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestWithinTx_FailedRowDoesNotAbort(t *testing.T) {
	s := openTemp(t)
	seed(t, s)
	ctx := context.Background()

	err := s.WithinTx(ctx, func(tx storage.EventStore) error {
		bad := &event.Stored{PlaceID: 404, Title: "No such place", EventDate: "2026-10-20"}
		assert.Error(t, tx.InsertEvent(ctx, bad))
		return tx.InsertEvent(ctx, &event.Stored{PlaceID: 2, Title: "Good", EventDate: "2026-10-20"})
	})
	require.NoError(t, err)

	rows, err := s.SelectEvents(ctx, storage.EventFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Good", rows[0].Title)
}
