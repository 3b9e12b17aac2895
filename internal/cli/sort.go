package cli

import (
	"sort"
	"strings"

	"github.com/pfrederiksen/bake-events/internal/event"
)

// SortOrder represents the available sorting options
type SortOrder string

const (
	SortByDate  SortOrder = "date"
	SortByPlace SortOrder = "place"
	SortByTitle SortOrder = "title"
)

// sortEvents sorts a slice of events based on the specified sort order
func sortEvents(events []event.Stored, sortOrder SortOrder) {
	switch sortOrder {
	case SortByDate:
		sort.SliceStable(events, func(i, j int) bool {
			return compareByDate(events[i], events[j])
		})
	case SortByPlace:
		sort.SliceStable(events, func(i, j int) bool {
			if !strings.EqualFold(events[i].PlaceName, events[j].PlaceName) {
				return strings.ToLower(events[i].PlaceName) < strings.ToLower(events[j].PlaceName)
			}
			// If places are equal, sort by date
			return compareByDate(events[i], events[j])
		})
	case SortByTitle:
		sort.SliceStable(events, func(i, j int) bool {
			if !strings.EqualFold(events[i].Title, events[j].Title) {
				return strings.ToLower(events[i].Title) < strings.ToLower(events[j].Title)
			}
			return compareByDate(events[i], events[j])
		})
	}
}

// compareByDate reports whether i comes before j. Dates are YYYY-MM-DD so
// they compare as strings; unparseable dates go last, then place and title
// break ties.
func compareByDate(i, j event.Stored) bool {
	_, errI := event.ParseDate(i.EventDate)
	_, errJ := event.ParseDate(j.EventDate)

	switch {
	case errI == nil && errJ != nil:
		return true
	case errI != nil && errJ == nil:
		return false
	case errI == nil && i.EventDate != j.EventDate:
		return i.EventDate < j.EventDate
	}

	if !strings.EqualFold(i.PlaceName, j.PlaceName) {
		return strings.ToLower(i.PlaceName) < strings.ToLower(j.PlaceName)
	}
	return strings.ToLower(i.Title) < strings.ToLower(j.Title)
}
