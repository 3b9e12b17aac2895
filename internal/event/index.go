package event

import "sort"

// Index tracks which event keys are already present, either in the store or
// earlier in the same write batch.
type Index struct {
	keys map[Key]struct{}
}

// NewIndex creates an index seeded with existing events
func NewIndex(existing []Stored) *Index {
	idx := &Index{keys: make(map[Key]struct{}, len(existing))}
	for _, evt := range existing {
		idx.Add(evt.Key())
	}
	return idx
}

// Has reports whether k has been seen
func (idx *Index) Has(k Key) bool {
	_, ok := idx.keys[k]
	return ok
}

// Add records k. It returns false when k was already present.
func (idx *Index) Add(k Key) bool {
	if idx.Has(k) {
		return false
	}
	idx.keys[k] = struct{}{}
	return true
}

// Len returns the number of keys tracked
func (idx *Index) Len() int {
	return len(idx.keys)
}

// Collapse removes events whose key repeats earlier in the slice, keeping the
// first occurrence.
func Collapse(events []Stored) []Stored {
	idx := NewIndex(nil)
	out := make([]Stored, 0, len(events))
	for _, evt := range events {
		if idx.Add(evt.Key()) {
			out = append(out, evt)
		}
	}
	return out
}

// SortByDate orders events by date, then place, then title.
func SortByDate(events []Stored) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.EventDate != b.EventDate {
			return a.EventDate < b.EventDate
		}
		if a.PlaceID != b.PlaceID {
			return a.PlaceID < b.PlaceID
		}
		return a.Title < b.Title
	})
}
