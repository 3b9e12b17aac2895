package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pfrederiksen/bake-events/internal/event"
	"github.com/pfrederiksen/bake-events/internal/place"
)

// DefaultDataDir is where the snapshot backend keeps its file by default
const DefaultDataDir = "~/.local/share/bake-events"

// Snapshot is the on-disk layout of the snapshot backend
type Snapshot struct {
	Places    []place.Place  `json:"places"`
	Events    []event.Stored `json:"events"`
	NextID    int64          `json:"next_id"`
	UpdatedAt string         `json:"updated_at"` // RFC3339 timestamp
}

func (s *Snapshot) clone() *Snapshot {
	c := &Snapshot{
		Places:    make([]place.Place, len(s.Places)),
		Events:    make([]event.Stored, len(s.Events)),
		NextID:    s.NextID,
		UpdatedAt: s.UpdatedAt,
	}
	copy(c.Places, s.Places)
	copy(c.Events, s.Events)
	return c
}

// FileStore is a Store backed by a single JSON snapshot. With an empty path it
// keeps everything in memory.
type FileStore struct {
	mu   sync.Mutex
	path string
	snap *Snapshot
}

// OpenFile loads the snapshot at path, creating parent directories as needed.
// A missing file yields an empty store.
func OpenFile(path string) (*FileStore, error) {
	// Expand ~ to home directory
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	s := &FileStore{path: path, snap: &Snapshot{}}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}

	if err := json.Unmarshal(data, s.snap); err != nil {
		return nil, fmt.Errorf("parsing snapshot: %w", err)
	}

	return s, nil
}

// NewMemory creates an in-memory store seeded with places
func NewMemory(places ...place.Place) *FileStore {
	s := &FileStore{snap: &Snapshot{}}
	s.snap.Places = append(s.snap.Places, places...)
	return s
}

// Path returns the snapshot location, empty for in-memory stores
func (s *FileStore) Path() string {
	return s.path
}

// AddPlaces inserts or replaces places by ID
func (s *FileStore) AddPlaces(ctx context.Context, places ...place.Place) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range places {
		replaced := false
		for i := range s.snap.Places {
			if s.snap.Places[i].ID == p.ID {
				s.snap.Places[i] = p
				replaced = true
				break
			}
		}
		if !replaced {
			s.snap.Places = append(s.snap.Places, p)
		}
	}
	return s.save()
}

// ListPlaces implements PlaceRegistry
func (s *FileStore) ListPlaces(ctx context.Context) ([]place.Place, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]place.Place, len(s.snap.Places))
	copy(out, s.snap.Places)
	return out, nil
}

// MarkProcessed implements PlaceRegistry
func (s *FileStore) MarkProcessed(ctx context.Context, placeID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.snap.Places {
		if s.snap.Places[i].ID == placeID {
			ts := at.UTC()
			s.snap.Places[i].LastProcessedAt = &ts
			return s.save()
		}
	}
	return fmt.Errorf("place %d: %w", placeID, ErrNotFound)
}

// SelectEvents implements EventStore
func (s *FileStore) SelectEvents(ctx context.Context, f EventFilter) ([]event.Stored, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&snapshotView{snap: s.snap}).SelectEvents(ctx, f)
}

// InsertEvent implements EventStore
func (s *FileStore) InsertEvent(ctx context.Context, e *event.Stored) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := (&snapshotView{snap: s.snap}).InsertEvent(ctx, e); err != nil {
		return err
	}
	return s.save()
}

// DeleteEvents implements EventStore
func (s *FileStore) DeleteEvents(ctx context.Context, f EventFilter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := (&snapshotView{snap: s.snap}).DeleteEvents(ctx, f)
	if err != nil || n == 0 {
		return n, err
	}
	return n, s.save()
}

// UpsertEvent implements EventStore
func (s *FileStore) UpsertEvent(ctx context.Context, e *event.Stored, conflictKeys []string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inserted, err := (&snapshotView{snap: s.snap}).UpsertEvent(ctx, e, conflictKeys)
	if err != nil || !inserted {
		return inserted, err
	}
	return true, s.save()
}

// WithinTx implements Transactor. fn works on a copy of the snapshot that
// replaces the live one only when fn succeeds.
func (s *FileStore) WithinTx(ctx context.Context, fn func(EventStore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.snap.clone()
	if err := fn(&snapshotView{snap: work}); err != nil {
		return err
	}

	prev := s.snap
	s.snap = work
	if err := s.save(); err != nil {
		s.snap = prev
		return err
	}
	return nil
}

// Close implements Store
func (s *FileStore) Close() error {
	return nil
}

// save writes the snapshot atomically. Callers hold s.mu.
func (s *FileStore) save() error {
	s.snap.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	if s.path == "" {
		return nil
	}

	data, err := json.MarshalIndent(s.snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing snapshot: %w", err)
	}
	return nil
}

// snapshotView implements EventStore over a snapshot without locking or
// persisting. FileStore and its transactions both delegate to it.
type snapshotView struct {
	snap *Snapshot
}

func (v *snapshotView) SelectEvents(ctx context.Context, f EventFilter) ([]event.Stored, error) {
	var out []event.Stored
	for _, e := range v.snap.Events {
		if f.Matches(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (v *snapshotView) InsertEvent(ctx context.Context, e *event.Stored) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v.snap.NextID++
	e.ID = v.snap.NextID
	if e.TitleKey == "" {
		e.TitleKey = event.TitleKey(e.Title)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	v.snap.Events = append(v.snap.Events, *e)
	return nil
}

func (v *snapshotView) DeleteEvents(ctx context.Context, f EventFilter) (int64, error) {
	if f.IsEmpty() {
		return 0, ErrUnboundedDelete
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	kept := v.snap.Events[:0]
	var removed int64
	for _, e := range v.snap.Events {
		if f.Matches(e) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	v.snap.Events = kept
	return removed, nil
}

func (v *snapshotView) UpsertEvent(ctx context.Context, e *event.Stored, conflictKeys []string) (bool, error) {
	if err := CheckConflictKeys(conflictKeys); err != nil {
		return false, err
	}
	for _, existing := range v.snap.Events {
		if SameConflict(existing, *e, conflictKeys) {
			return false, nil
		}
	}
	return true, v.InsertEvent(ctx, e)
}
