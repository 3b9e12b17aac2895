package attribution

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/pfrederiksen/bake-events/internal/event"
	"github.com/pfrederiksen/bake-events/internal/place"
)

func now() time.Time { return time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC) }

func TestSelector_Rules(t *testing.T) {
	s := NewSelector(KindBroadcast, []Rule{
		{Category: "library", Strategy: KindHint},
		{NameContains: "zoo", Strategy: KindSingle},
	}, HintMatch{})

	assert.Equal(t, KindHint, s.KindFor(master))
	assert.Equal(t, KindSingle, s.KindFor(place.Place{Name: "City Zoo", Category: "Animals"}))
	assert.Equal(t, KindBroadcast, s.KindFor(place.Place{Name: "Science Center", Category: "Museum"}))

	assert.IsType(t, HintMatch{}, s.For(master))
	assert.IsType(t, Broadcast{}, s.For(place.Place{Name: "Other"}))
}

func TestSelector_DefaultsToBroadcast(t *testing.T) {
	s := NewSelector("", nil, HintMatch{})
	got := s.Resolve(event.Candidate{Title: "Fall Fest"}, master, branches)
	assert.Len(t, got, 3)
}

func TestSelector_MasterWithoutBranches(t *testing.T) {
	standalone := place.Place{ID: 7, Name: "Riverside Zoo", Category: "Animals"}
	s := NewSelector(KindHint, nil, HintMatch{})

	got := s.Resolve(event.Candidate{Title: "Penguin Feeding"}, standalone, []place.Place{standalone})
	assert.Equal(t, []int64{7}, place.IDs(got))
}
