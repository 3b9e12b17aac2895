package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pfrederiksen/bake-events/internal/event"
	"github.com/pfrederiksen/bake-events/internal/storage"
)

func TestInsertSQL(t *testing.T) {
	plain := insertSQL(nil)
	assert.Contains(t, plain, "VALUES (")
	assert.Contains(t, plain, "RETURNING id")
	assert.NotContains(t, plain, "NOT EXISTS")

	upsert := insertSQL(event.ConflictKeys)
	assert.Contains(t, upsert, "place_id = $1 AND event_date = $5::text::date AND title_key = $10")
	assert.Contains(t, upsert, "ON CONFLICT DO NOTHING RETURNING id")
}

func TestWhereUsesDateCasts(t *testing.T) {
	where, args := storage.EventFilter{PlaceIDs: []int64{7}, Before: "2026-10-19"}.Where(dialect, 1)
	assert.Equal(t, "place_id IN ($1) AND event_date < $2::text::date", where)
	assert.Equal(t, []any{int64(7), "2026-10-19"}, args)
}

// TestStoreIntegration runs against a live database when BAKE_TEST_DATABASE_URL is set.
func TestStoreIntegration(t *testing.T) {
	url := os.Getenv("BAKE_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("BAKE_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	s, err := Open(ctx, url)
	require.NoError(t, err)
	defer s.Close()

	var placeID int64
	require.NoError(t, s.pool.QueryRow(ctx,
		`INSERT INTO places (name, is_master) VALUES ('Integration Library', TRUE) RETURNING id`).Scan(&placeID))
	defer s.pool.Exec(ctx, `DELETE FROM places WHERE id = $1`, placeID)

	ev := &event.Stored{PlaceID: placeID, Title: "Story Time", EventDate: "2026-10-20"}
	inserted, err := s.UpsertEvent(ctx, ev, event.ConflictKeys)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.NotZero(t, ev.ID)

	again := &event.Stored{PlaceID: placeID, Title: "STORY TIME", EventDate: "2026-10-20"}
	inserted, err = s.UpsertEvent(ctx, again, event.ConflictKeys)
	require.NoError(t, err)
	assert.False(t, inserted)

	rows, err := s.SelectEvents(ctx, storage.EventFilter{PlaceIDs: []int64{placeID}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "2026-10-20", rows[0].EventDate)

	err = s.WithinTx(ctx, func(tx storage.EventStore) error {
		_, err := tx.DeleteEvents(ctx, storage.EventFilter{PlaceIDs: []int64{placeID}, OnOrAfter: "2026-10-19"})
		return err
	})
	require.NoError(t, err)

	require.NoError(t, s.MarkProcessed(ctx, placeID, time.Now()))
}
