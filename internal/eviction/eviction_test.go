package eviction

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pfrederiksen/bake-events/internal/event"
	"github.com/pfrederiksen/bake-events/internal/logger"
	"github.com/pfrederiksen/bake-events/internal/storage"
)

var today = time.Date(2026, 10, 19, 7, 45, 0, 0, time.UTC)

func seed(t *testing.T, s storage.EventStore, placeID int64, dates ...string) {
	t.Helper()
	for _, d := range dates {
		require.NoError(t, s.InsertEvent(context.Background(), &event.Stored{PlaceID: placeID, Title: "Event " + d, EventDate: d}))
	}
}

func dates(t *testing.T, s storage.EventStore) []string {
	t.Helper()
	rows, err := s.SelectEvents(context.Background(), storage.EventFilter{})
	require.NoError(t, err)
	var out []string
	for _, r := range rows {
		out = append(out, r.EventDate)
	}
	return out
}

func TestSweep_RemovesOnlyYesterday(t *testing.T) {
	s := storage.NewMemory()
	seed(t, s, 1, "2026-10-18", "2026-10-19", "2026-10-20")

	m := New(s, logger.New(logger.LevelError, io.Discard))
	n, err := m.Sweep(context.Background(), event.Cutoff(today, 0))
	require.NoError(t, err)

	assert.Equal(t, int64(1), n)
	assert.Equal(t, []string{"2026-10-19", "2026-10-20"}, dates(t, s))
}

func TestSweep_Retention(t *testing.T) {
	s := storage.NewMemory()
	seed(t, s, 1, "2026-10-16", "2026-10-17", "2026-10-18")

	m := New(s, logger.New(logger.LevelError, io.Discard))
	n, err := m.Sweep(context.Background(), event.Cutoff(today, 2))
	require.NoError(t, err)

	assert.Equal(t, int64(1), n)
	assert.Equal(t, []string{"2026-10-17", "2026-10-18"}, dates(t, s))
}

func TestSweepPlaces(t *testing.T) {
	s := storage.NewMemory()
	seed(t, s, 1, "2026-10-18", "2026-10-20")
	seed(t, s, 2, "2026-10-18")

	m := New(s, logger.New(logger.LevelError, io.Discard))
	n, err := m.SweepPlaces(context.Background(), event.Cutoff(today, 0), []int64{1})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.ElementsMatch(t, []string{"2026-10-18", "2026-10-20"}, dates(t, s))

	n, err = m.SweepPlaces(context.Background(), event.Cutoff(today, 0), nil)
	require.NoError(t, err)
	assert.Zero(t, n, "empty scope never becomes a global delete")
}

func TestClearUpcoming(t *testing.T) {
	s := storage.NewMemory()
	seed(t, s, 1, "2026-10-18", "2026-10-19", "2026-10-25")
	seed(t, s, 2, "2026-10-25")

	n, err := ClearUpcoming(context.Background(), s, event.Cutoff(today, 0), []int64{1})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.ElementsMatch(t, []string{"2026-10-18", "2026-10-25"}, dates(t, s))
}
