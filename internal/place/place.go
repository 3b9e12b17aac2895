// Package place models tracked physical locations and their master/branch hierarchy.
//
// Places are owned by an external registry. The pipeline reads them and writes a
// single field back, LastProcessedAt. A place without a parent is a master; a
// master may own zero or more branches. Branches are leaves: a branch cannot own
// branches of its own.
package place

import (
	"fmt"
	"sort"
	"time"
)

// Place is a registry record as consumed by the pipeline.
type Place struct {
	ID              int64      `json:"id"`
	Name            string     `json:"name"`
	URL             string     `json:"url"`
	PostalCode      string     `json:"postal_code"`
	Category        string     `json:"category"`
	IsMaster        bool       `json:"is_master"`
	ParentID        *int64     `json:"parent_id,omitempty"`
	LastProcessedAt *time.Time `json:"last_processed_at,omitempty"`
}

// IsBranch reports whether the place hangs under a master.
func (p Place) IsBranch() bool {
	return p.ParentID != nil
}

// Hierarchy is a validated two-level view over a set of places.
type Hierarchy struct {
	masters  []Place
	branches map[int64][]Place

	// Invalid holds places that were dropped because they violate the
	// two-level invariant (parent missing, or parent is itself a branch).
	Invalid []InvalidPlace
}

// InvalidPlace records a place excluded from the hierarchy and why.
type InvalidPlace struct {
	Place  Place
	Reason string
}

// Build indexes places into masters and branches. Masters and each branch list
// are sorted by ascending ID so downstream iteration is deterministic.
func Build(places []Place) *Hierarchy {
	h := &Hierarchy{
		branches: make(map[int64][]Place),
	}

	byID := make(map[int64]Place, len(places))
	for _, p := range places {
		byID[p.ID] = p
	}

	for _, p := range places {
		if !p.IsBranch() {
			h.masters = append(h.masters, p)
			continue
		}

		parent, ok := byID[*p.ParentID]
		switch {
		case !ok:
			h.Invalid = append(h.Invalid, InvalidPlace{Place: p, Reason: fmt.Sprintf("parent %d not found", *p.ParentID)})
		case parent.ID == p.ID:
			h.Invalid = append(h.Invalid, InvalidPlace{Place: p, Reason: "place is its own parent"})
		case parent.IsBranch():
			h.Invalid = append(h.Invalid, InvalidPlace{Place: p, Reason: fmt.Sprintf("parent %d is itself a branch", parent.ID)})
		default:
			h.branches[parent.ID] = append(h.branches[parent.ID], p)
		}
	}

	SortByID(h.masters)
	for id := range h.branches {
		SortByID(h.branches[id])
	}

	return h
}

// Masters returns all masters in ascending ID order.
func (h *Hierarchy) Masters() []Place {
	out := make([]Place, len(h.masters))
	copy(out, h.masters)
	return out
}

// Branches returns the branches of a master in ascending ID order.
func (h *Hierarchy) Branches(masterID int64) []Place {
	src := h.branches[masterID]
	out := make([]Place, len(src))
	copy(out, src)
	return out
}

// Scope returns the leaf places that can receive events for a master: its
// branches, or the master itself when it has none.
func (h *Hierarchy) Scope(master Place) []Place {
	if branches := h.Branches(master.ID); len(branches) > 0 {
		return branches
	}
	return []Place{master}
}

// IDs returns the ids of the given places in order.
func IDs(places []Place) []int64 {
	ids := make([]int64, len(places))
	for i, p := range places {
		ids[i] = p.ID
	}
	return ids
}

// SortByID sorts places in place by ascending ID.
func SortByID(places []Place) {
	sort.SliceStable(places, func(i, j int) bool {
		return places[i].ID < places[j].ID
	})
}
