// Package filter selects which places a run may touch.
//
// Filters narrow the set of masters during staged rollouts. Criteria:
//   - Categories (case-insensitive exact match)
//   - Names (case-insensitive substring match)
//   - IDs (exact match)
//   - Exclusions by name (case-insensitive substring match)
//
// An empty filter matches every place.
//
// Example usage:
//
//	f, err := filter.Parse("category=library,museum; name=springfield")
//	masters = f.Apply(masters)
package filter

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pfrederiksen/bake-events/internal/place"
)

// Filter represents place filtering criteria
type Filter struct {
	Categories   []string `json:"categories,omitempty"`
	Names        []string `json:"names,omitempty"`
	IDs          []int64  `json:"ids,omitempty"`
	ExcludeNames []string `json:"exclude_names,omitempty"`
}

// IsEmpty checks if the filter has any active criteria.
func (f *Filter) IsEmpty() bool {
	return f == nil ||
		len(f.Categories) == 0 &&
			len(f.Names) == 0 &&
			len(f.IDs) == 0 &&
			len(f.ExcludeNames) == 0
}

// Matches checks if a place satisfies all active criteria.
func (f *Filter) Matches(p place.Place) bool {
	if f.IsEmpty() {
		return true
	}

	if len(f.Categories) > 0 {
		matched := false
		for _, c := range f.Categories {
			if strings.EqualFold(strings.TrimSpace(p.Category), c) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	nameLower := strings.ToLower(p.Name)

	if len(f.Names) > 0 {
		matched := false
		for _, n := range f.Names {
			if strings.Contains(nameLower, strings.ToLower(n)) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if len(f.IDs) > 0 {
		matched := false
		for _, id := range f.IDs {
			if p.ID == id {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	for _, n := range f.ExcludeNames {
		if strings.Contains(nameLower, strings.ToLower(n)) {
			return false
		}
	}

	return true
}

// Apply returns the places that match the filter, preserving order.
func (f *Filter) Apply(places []place.Place) []place.Place {
	if f.IsEmpty() {
		return places
	}

	var filtered []place.Place
	for _, p := range places {
		if f.Matches(p) {
			filtered = append(filtered, p)
		}
	}
	return filtered
}

// String returns a human-readable description of the active criteria.
func (f *Filter) String() string {
	if f.IsEmpty() {
		return "No active filters"
	}

	var parts []string
	if len(f.Categories) > 0 {
		parts = append(parts, fmt.Sprintf("Categories: %s", strings.Join(f.Categories, ", ")))
	}
	if len(f.Names) > 0 {
		parts = append(parts, fmt.Sprintf("Names: %s", strings.Join(f.Names, ", ")))
	}
	if len(f.IDs) > 0 {
		ids := make([]string, len(f.IDs))
		for i, id := range f.IDs {
			ids[i] = strconv.FormatInt(id, 10)
		}
		parts = append(parts, fmt.Sprintf("IDs: %s", strings.Join(ids, ", ")))
	}
	if len(f.ExcludeNames) > 0 {
		parts = append(parts, fmt.Sprintf("Excluding: %s", strings.Join(f.ExcludeNames, ", ")))
	}

	return strings.Join(parts, " | ")
}
