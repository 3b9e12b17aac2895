package attribution

import (
	"strings"

	"github.com/pfrederiksen/bake-events/internal/event"
	"github.com/pfrederiksen/bake-events/internal/place"
)

// Rule selects a strategy for masters whose category equals Category
// (case-insensitive) and whose name contains NameContains. Empty fields match
// anything.
type Rule struct {
	Category     string `yaml:"category"`
	NameContains string `yaml:"name_contains"`
	Strategy     Kind   `yaml:"strategy"`
}

func (r Rule) matches(master place.Place) bool {
	if r.Category != "" && !strings.EqualFold(r.Category, master.Category) {
		return false
	}
	if r.NameContains != "" && !strings.Contains(strings.ToLower(master.Name), strings.ToLower(r.NameContains)) {
		return false
	}
	return true
}

// Selector chooses a Resolver per master. The first matching rule wins.
type Selector struct {
	rules      []Rule
	def        Kind
	strategies map[Kind]Resolver
}

// NewSelector builds a selector. hint is the HintMatch used for KindHint so
// callers can attach their Unattributed callback.
func NewSelector(def Kind, rules []Rule, hint HintMatch) *Selector {
	if def == "" {
		def = KindBroadcast
	}
	return &Selector{
		rules: rules,
		def:   def,
		strategies: map[Kind]Resolver{
			KindBroadcast: Broadcast{},
			KindSingle:    SingleTarget{},
			KindHint:      hint,
		},
	}
}

// KindFor returns the strategy kind chosen for master
func (s *Selector) KindFor(master place.Place) Kind {
	for _, r := range s.rules {
		if r.matches(master) {
			return r.Strategy
		}
	}
	return s.def
}

// For returns the resolver chosen for master
func (s *Selector) For(master place.Place) Resolver {
	if r, ok := s.strategies[s.KindFor(master)]; ok {
		return r
	}
	return s.strategies[s.def]
}

// Resolve attributes c within scope. A master that is its own only leaf
// always receives the candidate.
func (s *Selector) Resolve(c event.Candidate, master place.Place, scope []place.Place) []place.Place {
	if len(scope) == 1 && scope[0].ID == master.ID {
		return []place.Place{master}
	}
	return s.For(master).Resolve(c, master, scope)
}
