// Package dedup writes a master's attributed events without creating
// duplicates.
//
// Merge keeps existing rows and inserts only unseen (place, date, title key)
// combinations. Replace clears the scope's upcoming rows and writes the batch
// as extracted. Either way, a failed row is logged and counted and the rest of
// the batch continues.
package dedup

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pfrederiksen/bake-events/internal/event"
	"github.com/pfrederiksen/bake-events/internal/eviction"
	"github.com/pfrederiksen/bake-events/internal/logger"
	"github.com/pfrederiksen/bake-events/internal/storage"
)

// Policy selects how a batch is reconciled with stored rows
type Policy string

const (
	PolicyMerge   Policy = "merge"
	PolicyReplace Policy = "replace"
)

// ParsePolicy validates a policy name; empty means merge
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "", PolicyMerge:
		return PolicyMerge, nil
	case PolicyReplace:
		return PolicyReplace, nil
	}
	return "", fmt.Errorf("unknown dedup policy: %q", s)
}

// Result counts the rows touched by one Apply
type Result struct {
	Inserted int
	Skipped  int
	Failed   int
	Deleted  int64

	// Written holds the rows actually inserted, with IDs set
	Written []event.Stored
}

// Add accumulates another result
func (r *Result) Add(o Result) {
	r.Inserted += o.Inserted
	r.Skipped += o.Skipped
	r.Failed += o.Failed
	r.Deleted += o.Deleted
	r.Written = append(r.Written, o.Written...)
}

// Batch is one master's attributed events
type Batch struct {
	MasterID int64
	// ScopeIDs are the leaf places the master's page covers
	ScopeIDs []int64
	Events   []event.Stored
	// Cutoff is the retention cutoff; rows before it are never compared
	Cutoff time.Time
}

// Engine applies batches under one policy
type Engine struct {
	policy Policy
	log    *logger.Logger
}

// New creates an Engine. A nil logger uses the package default.
func New(policy Policy, log *logger.Logger) *Engine {
	if policy == "" {
		policy = PolicyMerge
	}
	if log == nil {
		log = logger.Default()
	}
	return &Engine{policy: policy, log: log}
}

// Policy returns the engine's policy
func (e *Engine) Policy() Policy {
	return e.policy
}

// Apply writes b to s. Callers wanting all-or-nothing semantics for replace
// pass a transactional view of the store. Only errors that make the whole
// batch impossible (reading or clearing the scope) are returned.
func (e *Engine) Apply(ctx context.Context, s storage.EventStore, b Batch) (Result, error) {
	switch e.policy {
	case PolicyReplace:
		return e.replace(ctx, s, b)
	default:
		return e.merge(ctx, s, b)
	}
}

func (e *Engine) merge(ctx context.Context, s storage.EventStore, b Batch) (Result, error) {
	var res Result

	existing, err := s.SelectEvents(ctx, storage.EventFilter{
		PlaceIDs:  b.ScopeIDs,
		OnOrAfter: event.FormatDate(b.Cutoff),
	})
	if err != nil {
		return res, fmt.Errorf("loading existing events for master %d: %w", b.MasterID, err)
	}
	idx := event.NewIndex(existing)

	for i := range b.Events {
		evt := b.Events[i]
		if idx.Has(evt.Key()) {
			res.Skipped++
			continue
		}

		inserted, err := s.UpsertEvent(ctx, &evt, event.ConflictKeys)
		if err != nil {
			// A later copy of the row in this batch gets another attempt.
			res.Failed++
			e.logFailure(b.MasterID, evt, err)
			continue
		}
		idx.Add(evt.Key())
		if !inserted {
			res.Skipped++
			continue
		}
		res.Inserted++
		res.Written = append(res.Written, evt)
	}
	return res, nil
}

func (e *Engine) replace(ctx context.Context, s storage.EventStore, b Batch) (Result, error) {
	var res Result

	deleted, err := eviction.ClearUpcoming(ctx, s, b.Cutoff, b.ScopeIDs)
	if err != nil {
		return res, err
	}
	res.Deleted = deleted

	batch := event.Collapse(b.Events)
	res.Skipped = len(b.Events) - len(batch)

	for i := range batch {
		evt := batch[i]
		if err := s.InsertEvent(ctx, &evt); err != nil {
			res.Failed++
			e.logFailure(b.MasterID, evt, err)
			continue
		}
		res.Inserted++
		res.Written = append(res.Written, evt)
	}
	return res, nil
}

func (e *Engine) logFailure(masterID int64, evt event.Stored, err error) {
	e.log.Error("failed to store event", logger.Fields{
		"master_id":  masterID,
		"place_id":   evt.PlaceID,
		"event_date": evt.EventDate,
		"title":      evt.Title,
	}, err)
}
