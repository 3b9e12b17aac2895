package dedup

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pfrederiksen/bake-events/internal/event"
	"github.com/pfrederiksen/bake-events/internal/logger"
	"github.com/pfrederiksen/bake-events/internal/place"
	"github.com/pfrederiksen/bake-events/internal/storage"
)

var (
	now    = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	cutoff = event.Cutoff(now, 0)
	quiet  = logger.New(logger.LevelError, io.Discard)
)

func batch(events ...event.Stored) Batch {
	return Batch{MasterID: 1, ScopeIDs: []int64{11, 12}, Events: events, Cutoff: cutoff}
}

func stored(placeID int64, date, title string) event.Stored {
	p := place.Place{ID: placeID, Name: "Branch"}
	return event.NewStored(event.Candidate{Title: title, EventDate: date}, p, now)
}

func count(t *testing.T, s storage.EventStore) int {
	t.Helper()
	rows, err := s.SelectEvents(context.Background(), storage.EventFilter{})
	require.NoError(t, err)
	return len(rows)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyMerge, p)

	p, err = ParsePolicy("Replace")
	require.NoError(t, err)
	assert.Equal(t, PolicyReplace, p)

	_, err = ParsePolicy("append")
	assert.Error(t, err)
}

func TestMerge_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemory()
	e := New(PolicyMerge, quiet)
	b := batch(
		stored(11, "2026-10-20", "Lego Club"),
		stored(12, "2026-10-20", "Lego Club"),
		stored(11, "2026-10-21", "Story Time"),
	)

	first, err := e.Apply(ctx, s, b)
	require.NoError(t, err)
	assert.Equal(t, 3, first.Inserted)
	assert.Len(t, first.Written, 3)
	assert.Equal(t, 3, count(t, s))

	second, err := e.Apply(ctx, s, b)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Inserted)
	assert.Equal(t, 3, second.Skipped)
	assert.Equal(t, 3, count(t, s))
}

func TestMerge_SkipsDuplicatesWithinBatch(t *testing.T) {
	s := storage.NewMemory()
	res, err := New(PolicyMerge, quiet).Apply(context.Background(), s, batch(
		stored(11, "2026-10-20", "Lego Club for Kids and Teens"),
		stored(11, "2026-10-20", "LEGO CLUB FOR KIDS"),
	))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 1, res.Skipped)
}

func TestMerge_KeepsRowsOutsideBatch(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemory()
	old := stored(11, "2026-10-22", "Chess Club")
	require.NoError(t, s.InsertEvent(ctx, &old))

	_, err := New(PolicyMerge, quiet).Apply(ctx, s, batch(stored(11, "2026-10-20", "Lego Club")))
	require.NoError(t, err)
	assert.Equal(t, 2, count(t, s))
}

func TestReplace_NoGrowth(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemory()
	e := New(PolicyReplace, quiet)
	b := batch(
		stored(11, "2026-10-20", "Lego Club"),
		stored(12, "2026-10-21", "Story Time"),
	)

	for i := 0; i < 3; i++ {
		err := storage.RunInTx(ctx, s, func(tx storage.EventStore) error {
			_, err := e.Apply(ctx, tx, b)
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, 2, count(t, s), "run %d", i+1)
	}
}

func TestReplace_DropsWithdrawnEventsAndKeepsOthers(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemory()
	for _, evt := range []event.Stored{
		stored(11, "2026-10-18", "Past Event"),
		stored(11, "2026-10-25", "Cancelled Event"),
		stored(99, "2026-10-25", "Other Master"),
	} {
		evt := evt
		require.NoError(t, s.InsertEvent(ctx, &evt))
	}

	res, err := New(PolicyReplace, quiet).Apply(ctx, s, batch(
		stored(11, "2026-10-26", "New Event"),
		stored(11, "2026-10-26", "New Event"),
	))
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Deleted)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 1, res.Skipped)

	rows, err := s.SelectEvents(ctx, storage.EventFilter{})
	require.NoError(t, err)
	var titles []string
	for _, r := range rows {
		titles = append(titles, r.Title)
	}
	assert.ElementsMatch(t, []string{"Past Event", "Other Master", "New Event"}, titles)
}

// failingStore rejects inserts for one place id.
type failingStore struct {
	storage.EventStore
	badPlace int64
}

func (f *failingStore) UpsertEvent(ctx context.Context, e *event.Stored, keys []string) (bool, error) {
	if e.PlaceID == f.badPlace {
		return false, errors.New("constraint violation")
	}
	return f.EventStore.UpsertEvent(ctx, e, keys)
}

func (f *failingStore) InsertEvent(ctx context.Context, e *event.Stored) error {
	if e.PlaceID == f.badPlace {
		return errors.New("constraint violation")
	}
	return f.EventStore.InsertEvent(ctx, e)
}

func TestApply_FailedRowDoesNotAbortBatch(t *testing.T) {
	for _, policy := range []Policy{PolicyMerge, PolicyReplace} {
		t.Run(string(policy), func(t *testing.T) {
			inner := storage.NewMemory()
			s := &failingStore{EventStore: inner, badPlace: 11}

			res, err := New(policy, quiet).Apply(context.Background(), s, batch(
				stored(11, "2026-10-20", "Lego Club"),
				stored(12, "2026-10-20", "Lego Club"),
			))
			require.NoError(t, err)
			assert.Equal(t, 1, res.Failed)
			assert.Equal(t, 1, res.Inserted)
			assert.Equal(t, 1, count(t, inner))
		})
	}
}

// flakyStore fails the first n upserts.
type flakyStore struct {
	storage.EventStore
	n int
}

func (f *flakyStore) UpsertEvent(ctx context.Context, e *event.Stored, keys []string) (bool, error) {
	if f.n > 0 {
		f.n--
		return false, errors.New("connection reset")
	}
	return f.EventStore.UpsertEvent(ctx, e, keys)
}

func TestMerge_RetriesRepeatAfterFailedUpsert(t *testing.T) {
	inner := storage.NewMemory()
	s := &flakyStore{EventStore: inner, n: 1}

	res, err := New(PolicyMerge, quiet).Apply(context.Background(), s, batch(
		stored(11, "2026-10-20", "Lego Club"),
		stored(11, "2026-10-20", "Lego Club"),
	))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 0, res.Skipped)
	assert.Equal(t, 1, count(t, inner))
}

func TestResult_Add(t *testing.T) {
	var total Result
	total.Add(Result{Inserted: 2, Skipped: 1, Written: []event.Stored{{Title: "a"}, {Title: "b"}}})
	total.Add(Result{Failed: 1, Deleted: 4})
	assert.Equal(t, Result{Inserted: 2, Skipped: 1, Failed: 1, Deleted: 4,
		Written: []event.Stored{{Title: "a"}, {Title: "b"}}}, total)
}
