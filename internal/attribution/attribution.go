package attribution

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/pfrederiksen/bake-events/internal/event"
	"github.com/pfrederiksen/bake-events/internal/place"
)

// Resolver maps one candidate to the places that should store it. scope is
// the master's leaf set in ascending ID order.
type Resolver interface {
	Resolve(c event.Candidate, master place.Place, scope []place.Place) []place.Place
}

// Kind names a resolver strategy
type Kind string

const (
	KindBroadcast Kind = "broadcast"
	KindSingle    Kind = "single"
	KindHint      Kind = "hint"
)

// ParseKind validates a strategy name
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindBroadcast, KindSingle, KindHint:
		return k, nil
	case "single_target", "single-target":
		return KindSingle, nil
	case "hint_match", "hint-match":
		return KindHint, nil
	}
	return "", fmt.Errorf("unknown attribution strategy: %q", s)
}

// Broadcast attributes every candidate to every place in scope
type Broadcast struct{}

func (Broadcast) Resolve(_ event.Candidate, _ place.Place, scope []place.Place) []place.Place {
	out := make([]place.Place, len(scope))
	copy(out, scope)
	return out
}

// SingleTarget attributes to the only place in scope. Pipelines use it when
// the fetch itself was parameterized for one branch; any other scope size
// yields nothing.
type SingleTarget struct{}

func (SingleTarget) Resolve(_ event.Candidate, _ place.Place, scope []place.Place) []place.Place {
	if len(scope) != 1 {
		return nil
	}
	return []place.Place{scope[0]}
}

// DefaultQualifiers are generic words removed from branch names before matching
var DefaultQualifiers = []string{"library", "libraries", "branch", "public", "museum", "the"}

// HintMatch attributes a candidate to the first branch, by ascending ID, whose
// normalized name occurs in the candidate's location hint or title.
type HintMatch struct {
	Qualifiers []string
	// Unattributed is called for candidates no branch matched
	Unattributed func(c event.Candidate, master place.Place)
}

func (h HintMatch) Resolve(c event.Candidate, master place.Place, scope []place.Place) []place.Place {
	qualifiers := h.Qualifiers
	if qualifiers == nil {
		qualifiers = DefaultQualifiers
	}

	haystacks := []string{Normalize(c.LocationHint, nil), Normalize(c.Title, nil)}

	ordered := make([]place.Place, len(scope))
	copy(ordered, scope)
	place.SortByID(ordered)

	for _, p := range ordered {
		needle := Normalize(p.Name, qualifiers)
		if needle == "" {
			continue
		}
		for _, hay := range haystacks {
			if hay != "" && strings.Contains(hay, needle) {
				return []place.Place{p}
			}
		}
	}

	if h.Unattributed != nil {
		h.Unattributed(c, master)
	}
	return nil
}

var folder = cases.Fold()

// Normalize case-folds s, strips diacritics and punctuation, drops the given
// qualifier words and collapses whitespace.
func Normalize(s string, qualifiers []string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	folded := folder.String(stripped)

	words := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	drop := make(map[string]bool, len(qualifiers))
	for _, q := range qualifiers {
		drop[folder.String(q)] = true
	}

	kept := words[:0]
	for _, w := range words {
		if !drop[w] {
			kept = append(kept, w)
		}
	}
	return strings.Join(kept, " ")
}
