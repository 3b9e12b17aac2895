package event

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// DateLayout is the only accepted event date format
const DateLayout = "2006-01-02"

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

var (
	ErrMissingDate = errors.New("event date is missing")
	ErrDateFormat  = errors.New("event date is not YYYY-MM-DD")
)

// ParseDate strictly parses a YYYY-MM-DD date. Strings that match the pattern but
// are not real calendar dates (2026-02-30) are rejected.
func ParseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, ErrMissingDate
	}
	if !datePattern.MatchString(s) {
		return time.Time{}, fmt.Errorf("%w: %q", ErrDateFormat, s)
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrDateFormat, s)
	}
	return t, nil
}

// FormatDate renders t as YYYY-MM-DD in its own location.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// StartOfDay truncates t to midnight in its location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Cutoff returns the retention cutoff: the start of today minus retentionDays.
// Events dated strictly before the cutoff are stale.
func Cutoff(now time.Time, retentionDays int) time.Time {
	if retentionDays < 0 {
		retentionDays = 0
	}
	return StartOfDay(now).AddDate(0, 0, -retentionDays)
}

// IsStale reports whether the event date falls before the cutoff. Unparseable
// dates are stale.
func (s Stored) IsStale(cutoff time.Time) bool {
	return s.EventDate < FormatDate(cutoff) || !datePattern.MatchString(s.EventDate)
}
