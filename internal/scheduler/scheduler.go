// Package scheduler picks which masters a run processes.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pfrederiksen/bake-events/internal/place"
	"github.com/pfrederiksen/bake-events/internal/storage"
)

// Mode selects between processing everything and rotating batches
type Mode string

const (
	ModeAll      Mode = "all"
	ModeRotating Mode = "rotating"
)

// Policy is a scheduling mode with its batch size
type Policy struct {
	Mode      Mode
	BatchSize int
}

// ParseMode validates a mode name; empty means all
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "", ModeAll:
		return ModeAll, nil
	case ModeRotating:
		return ModeRotating, nil
	}
	return "", fmt.Errorf("unknown schedule mode: %q", s)
}

// Validate checks the batch size for rotating mode
func (p Policy) Validate() error {
	if p.Mode == ModeRotating && p.BatchSize < 1 {
		return fmt.Errorf("rotating schedule needs batch_size >= 1, got %d", p.BatchSize)
	}
	return nil
}

// Scheduler selects masters and records their completion
type Scheduler struct {
	policy   Policy
	registry storage.PlaceRegistry
}

// New creates a Scheduler
func New(policy Policy, registry storage.PlaceRegistry) *Scheduler {
	return &Scheduler{policy: policy, registry: registry}
}

// Select returns the masters to process this run. Rotating mode takes the
// BatchSize least recently processed masters; never-processed masters come
// first and ties break by ascending ID.
func (s *Scheduler) Select(masters []place.Place) []place.Place {
	ordered := make([]place.Place, len(masters))
	copy(ordered, masters)

	if s.policy.Mode != ModeRotating {
		place.SortByID(ordered)
		return ordered
	}

	Order(ordered)
	if s.policy.BatchSize < len(ordered) {
		ordered = ordered[:s.policy.BatchSize]
	}
	return ordered
}

// Order sorts masters by LastProcessedAt ascending, nulls first, then by ID
func Order(masters []place.Place) {
	sort.SliceStable(masters, func(i, j int) bool {
		a, b := masters[i].LastProcessedAt, masters[j].LastProcessedAt
		switch {
		case a == nil && b == nil:
		case a == nil:
			return true
		case b == nil:
			return false
		case !a.Equal(*b):
			return a.Before(*b)
		}
		return masters[i].ID < masters[j].ID
	})
}

// RunsForCoverage returns how many runs process every one of total masters
func (s *Scheduler) RunsForCoverage(total int) int {
	if total == 0 {
		return 0
	}
	if s.policy.Mode != ModeRotating || s.policy.BatchSize >= total {
		return 1
	}
	return (total + s.policy.BatchSize - 1) / s.policy.BatchSize
}

// MarkDone records that a master finished at now
func (s *Scheduler) MarkDone(ctx context.Context, masterID int64, now time.Time) error {
	if err := s.registry.MarkProcessed(ctx, masterID, now); err != nil {
		return fmt.Errorf("marking master %d processed: %w", masterID, err)
	}
	return nil
}
