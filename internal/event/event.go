package event

import (
	"crypto/sha1"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/cases"

	"github.com/pfrederiksen/bake-events/internal/place"
)

// TitleKeyLength is the number of runes of the normalized title used for dedup.
const TitleKeyLength = 15

// WindowType classifies how far ahead an event may be announced.
type WindowType string

const (
	WindowRecurring WindowType = "Recurring"
	WindowPeriodic  WindowType = "Periodic"
	WindowOneTime   WindowType = "OneTime"
)

// ParseWindowType maps extraction output onto a WindowType. The legacy labels
// Daily, Weekly and Special map to Recurring, Periodic and OneTime.
func ParseWindowType(s string) (WindowType, bool) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	normalized = strings.NewReplacer("-", "", "_", "", " ", "").Replace(normalized)

	switch normalized {
	case "recurring", "daily":
		return WindowRecurring, true
	case "periodic", "weekly":
		return WindowPeriodic, true
	case "onetime", "special":
		return WindowOneTime, true
	}
	return WindowType(strings.TrimSpace(s)), false
}

// Candidate is an unvalidated, unattributed event from the extraction oracle
type Candidate struct {
	Title        string     `json:"title"`
	EventDate    string     `json:"event_date"`
	Category     string     `json:"category"`
	WindowType   WindowType `json:"window_type"`
	PriceText    string     `json:"price_text"`
	Description  string     `json:"description"`
	LocationHint string     `json:"location_hint,omitempty"`
}

// Stored is a persisted event attributed to one leaf place
type Stored struct {
	ID          int64      `json:"id"`
	PlaceID     int64      `json:"place_id"`
	PlaceName   string     `json:"place_name"`
	PostalCode  string     `json:"postal_code"`
	Title       string     `json:"title"`
	EventDate   string     `json:"event_date"`
	Category    string     `json:"category"`
	WindowType  WindowType `json:"window_type"`
	PriceText   string     `json:"price_text"`
	Description string     `json:"description"`
	TitleKey    string     `json:"title_key"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Key identifies a stored event for soft-uniqueness checks
type Key struct {
	PlaceID   int64
	EventDate string
	TitleKey  string
}

// ConflictKeys are the column names that make up Key, in store terms.
var ConflictKeys = []string{"place_id", "event_date", "title_key"}

// NewStored attributes a candidate to a leaf place. The location hint is dropped
// and the place fields are denormalized onto the record.
func NewStored(c Candidate, p place.Place, now time.Time) Stored {
	return Stored{
		PlaceID:     p.ID,
		PlaceName:   p.Name,
		PostalCode:  p.PostalCode,
		Title:       strings.TrimSpace(c.Title),
		EventDate:   strings.TrimSpace(c.EventDate),
		Category:    strings.TrimSpace(c.Category),
		WindowType:  c.WindowType,
		PriceText:   strings.TrimSpace(c.PriceText),
		Description: strings.TrimSpace(c.Description),
		TitleKey:    TitleKey(c.Title),
		CreatedAt:   now.UTC(),
	}
}

// Key returns the soft-uniqueness key of the event
func (s Stored) Key() Key {
	titleKey := s.TitleKey
	if titleKey == "" {
		titleKey = TitleKey(s.Title)
	}
	return Key{PlaceID: s.PlaceID, EventDate: s.EventDate, TitleKey: titleKey}
}

// Fingerprint creates a deterministic ID for an event based on its key
func (s Stored) Fingerprint() string {
	k := s.Key()
	h := sha1.New()
	h.Write([]byte(fmt.Sprintf("%d|%s|%s", k.PlaceID, k.EventDate, k.TitleKey)))
	return fmt.Sprintf("%x", h.Sum(nil))
}

var folder = cases.Fold()

// TitleKey normalizes a title for duplicate detection: case-folded, whitespace
// collapsed, truncated to TitleKeyLength runes.
func TitleKey(title string) string {
	normalized := strings.Join(strings.Fields(folder.String(title)), " ")
	if utf8.RuneCountInString(normalized) <= TitleKeyLength {
		return normalized
	}
	runes := []rune(normalized)
	return string(runes[:TitleKeyLength])
}
