package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pfrederiksen/bake-events/internal/place"
	"github.com/pfrederiksen/bake-events/internal/storage"
)

func at(h int) *time.Time {
	t := time.Date(2026, 10, 19, h, 0, 0, 0, time.UTC)
	return &t
}

func TestSelect_All(t *testing.T) {
	s := New(Policy{Mode: ModeAll}, storage.NewMemory())
	got := s.Select([]place.Place{{ID: 3}, {ID: 1, LastProcessedAt: at(5)}, {ID: 2}})
	assert.Equal(t, []int64{1, 2, 3}, place.IDs(got))
}

func TestSelect_RotatingOrder(t *testing.T) {
	s := New(Policy{Mode: ModeRotating, BatchSize: 3}, storage.NewMemory())
	got := s.Select([]place.Place{
		{ID: 1, LastProcessedAt: at(9)},
		{ID: 2, LastProcessedAt: at(3)},
		{ID: 3},
		{ID: 4, LastProcessedAt: at(3)},
		{ID: 5},
	})
	assert.Equal(t, []int64{3, 5, 2}, place.IDs(got))
}

func TestRotatingCoverage(t *testing.T) {
	ctx := context.Background()
	var masters []place.Place
	for id := int64(1); id <= 7; id++ {
		masters = append(masters, place.Place{ID: id, Name: "M"})
	}
	reg := storage.NewMemory(masters...)
	s := New(Policy{Mode: ModeRotating, BatchSize: 3}, reg)

	runs := s.RunsForCoverage(len(masters))
	require.Equal(t, 3, runs)

	seen := map[int64]bool{}
	clock := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	for run := 0; run < runs; run++ {
		current, err := reg.ListPlaces(ctx)
		require.NoError(t, err)
		for _, m := range s.Select(current) {
			seen[m.ID] = true
			clock = clock.Add(time.Minute)
			require.NoError(t, s.MarkDone(ctx, m.ID, clock))
		}
	}
	assert.Len(t, seen, 7)
}

func TestRunsForCoverage(t *testing.T) {
	assert.Equal(t, 0, New(Policy{Mode: ModeRotating, BatchSize: 5}, nil).RunsForCoverage(0))
	assert.Equal(t, 1, New(Policy{Mode: ModeAll}, nil).RunsForCoverage(40))
	assert.Equal(t, 4, New(Policy{Mode: ModeRotating, BatchSize: 10}, nil).RunsForCoverage(40))
	assert.Equal(t, 5, New(Policy{Mode: ModeRotating, BatchSize: 10}, nil).RunsForCoverage(41))
	assert.Equal(t, 1, New(Policy{Mode: ModeRotating, BatchSize: 50}, nil).RunsForCoverage(41))
}

func TestMarkDone_UnknownMaster(t *testing.T) {
	s := New(Policy{}, storage.NewMemory())
	err := s.MarkDone(context.Background(), 42, time.Now())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestParseModeAndValidate(t *testing.T) {
	m, err := ParseMode("Rotating")
	require.NoError(t, err)
	assert.Equal(t, ModeRotating, m)

	_, err = ParseMode("random")
	assert.Error(t, err)

	assert.Error(t, Policy{Mode: ModeRotating}.Validate())
	assert.NoError(t, Policy{Mode: ModeAll}.Validate())
}
