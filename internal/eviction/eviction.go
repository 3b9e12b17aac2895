// Package eviction owns every deletion of stored events.
//
// Stale rows (dated before the retention cutoff) are removed by a global sweep
// at run start and by a targeted sweep over a master's leaf places right before
// that master's write batch. The replace dedup policy clears upcoming rows
// through ClearUpcoming.
package eviction

import (
	"context"
	"fmt"
	"time"

	"github.com/pfrederiksen/bake-events/internal/event"
	"github.com/pfrederiksen/bake-events/internal/logger"
	"github.com/pfrederiksen/bake-events/internal/storage"
)

// Manager deletes stale events from a store
type Manager struct {
	store storage.EventStore
	log   *logger.Logger
}

// New creates a Manager. A nil logger uses the package default.
func New(store storage.EventStore, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Default()
	}
	return &Manager{store: store, log: log}
}

// WithStore returns a Manager bound to another view of the store, typically a
// transaction.
func (m *Manager) WithStore(s storage.EventStore) *Manager {
	return &Manager{store: s, log: m.log}
}

// Sweep deletes every event dated before cutoff
func (m *Manager) Sweep(ctx context.Context, cutoff time.Time) (int64, error) {
	before := event.FormatDate(cutoff)
	n, err := m.store.DeleteEvents(ctx, storage.EventFilter{Before: before})
	if err != nil {
		return 0, fmt.Errorf("sweeping events before %s: %w", before, err)
	}
	m.log.Info("stale events swept", logger.Fields{"before": before, "deleted": n})
	return n, nil
}

// SweepPlaces deletes events dated before cutoff for the given places only
func (m *Manager) SweepPlaces(ctx context.Context, cutoff time.Time, placeIDs []int64) (int64, error) {
	if len(placeIDs) == 0 {
		return 0, nil
	}
	before := event.FormatDate(cutoff)
	n, err := m.store.DeleteEvents(ctx, storage.EventFilter{PlaceIDs: placeIDs, Before: before})
	if err != nil {
		return 0, fmt.Errorf("sweeping events before %s for places %v: %w", before, placeIDs, err)
	}
	if n > 0 {
		m.log.Debug("stale events swept for places", logger.Fields{"place_ids": placeIDs, "deleted": n})
	}
	return n, nil
}

// ClearUpcoming deletes events dated on or after cutoff for the given places.
// It backs the replace policy, which rewrites a scope's upcoming events.
func ClearUpcoming(ctx context.Context, s storage.EventStore, cutoff time.Time, placeIDs []int64) (int64, error) {
	if len(placeIDs) == 0 {
		return 0, nil
	}
	from := event.FormatDate(cutoff)
	n, err := s.DeleteEvents(ctx, storage.EventFilter{PlaceIDs: placeIDs, OnOrAfter: from})
	if err != nil {
		return 0, fmt.Errorf("clearing events from %s for places %v: %w", from, placeIDs, err)
	}
	return n, nil
}
