// Package validate decides which extracted candidates are worth storing.
package validate

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pfrederiksen/bake-events/internal/event"
)

// Reason classifies a rejection
type Reason string

const (
	ReasonMissingDate      Reason = "missing_date"
	ReasonBadDate          Reason = "bad_date"
	ReasonBeforeCutoff     Reason = "before_cutoff"
	ReasonBeyondHorizon    Reason = "beyond_horizon"
	ReasonExcludedCategory Reason = "excluded_category"
	ReasonEmptyTitle       Reason = "empty_title"
)

// RejectError explains why a candidate was rejected
type RejectError struct {
	Reason Reason
	Detail string
}

func (e *RejectError) Error() string {
	if e.Detail == "" {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

// ReasonOf returns the rejection reason carried by err, or "" if none
func ReasonOf(err error) Reason {
	var re *RejectError
	if errors.As(err, &re) {
		return re.Reason
	}
	return ""
}

// DefaultLookahead is the horizon in days per window type
func DefaultLookahead() map[event.WindowType]int {
	return map[event.WindowType]int{
		event.WindowRecurring: 14,
		event.WindowPeriodic:  45,
		event.WindowOneTime:   90,
	}
}

// Config holds the validation settings for one run
type Config struct {
	Now                time.Time
	RetentionDays      int
	Lookahead          map[event.WindowType]int
	ExcludedCategories []string
}

// Validator is safe for concurrent use; it never mutates after New.
type Validator struct {
	cutoff   string
	horizons map[event.WindowType]string
	fallback string
	excluded map[string]bool
}

// New creates a Validator. Missing lookahead entries use the defaults; a
// window type with no entry at all uses the largest horizon.
func New(cfg Config) *Validator {
	now := cfg.Now
	if now.IsZero() {
		now = time.Now()
	}
	today := event.StartOfDay(now)

	lookahead := DefaultLookahead()
	for wt, days := range cfg.Lookahead {
		lookahead[wt] = days
	}

	v := &Validator{
		cutoff:   event.FormatDate(event.Cutoff(now, cfg.RetentionDays)),
		horizons: make(map[event.WindowType]string, len(lookahead)),
		excluded: make(map[string]bool, len(cfg.ExcludedCategories)),
	}

	largest := 0
	for wt, days := range lookahead {
		v.horizons[wt] = event.FormatDate(today.AddDate(0, 0, days))
		if days > largest {
			largest = days
		}
	}
	v.fallback = event.FormatDate(today.AddDate(0, 0, largest))

	for _, c := range cfg.ExcludedCategories {
		if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
			v.excluded[c] = true
		}
	}
	return v
}

// Cutoff returns the retention cutoff date as YYYY-MM-DD
func (v *Validator) Cutoff() string {
	return v.cutoff
}

// Horizon returns the last acceptable date for a window type
func (v *Validator) Horizon(wt event.WindowType) string {
	if h, ok := v.horizons[wt]; ok {
		return h
	}
	return v.fallback
}

// Check returns nil for an acceptable candidate or a *RejectError
func (v *Validator) Check(c event.Candidate) error {
	if strings.TrimSpace(c.Title) == "" {
		return &RejectError{Reason: ReasonEmptyTitle}
	}

	date := strings.TrimSpace(c.EventDate)
	if _, err := event.ParseDate(date); err != nil {
		if errors.Is(err, event.ErrMissingDate) {
			return &RejectError{Reason: ReasonMissingDate}
		}
		return &RejectError{Reason: ReasonBadDate, Detail: date}
	}

	if date < v.cutoff {
		return &RejectError{Reason: ReasonBeforeCutoff, Detail: fmt.Sprintf("%s < %s", date, v.cutoff)}
	}

	if horizon := v.Horizon(c.WindowType); date > horizon {
		return &RejectError{Reason: ReasonBeyondHorizon, Detail: fmt.Sprintf("%s > %s (%s)", date, horizon, c.WindowType)}
	}

	if v.excluded[strings.ToLower(strings.TrimSpace(c.Category))] {
		return &RejectError{Reason: ReasonExcludedCategory, Detail: c.Category}
	}

	return nil
}

// Accept reports whether c passes Check
func (v *Validator) Accept(c event.Candidate) bool {
	return v.Check(c) == nil
}

// Filter splits candidates into accepted ones and rejection errors
func (v *Validator) Filter(candidates []event.Candidate) ([]event.Candidate, []error) {
	var (
		accepted []event.Candidate
		rejected []error
	)
	for _, c := range candidates {
		if err := v.Check(c); err != nil {
			rejected = append(rejected, err)
			continue
		}
		accepted = append(accepted, c)
	}
	return accepted, rejected
}
