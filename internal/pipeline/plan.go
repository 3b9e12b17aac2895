package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/pfrederiksen/bake-events/internal/attribution"
	"github.com/pfrederiksen/bake-events/internal/place"
)

// PostalCodeToken is replaced by a branch's postal code in a master's URL
const PostalCodeToken = "{postal_code}"

// Job is one page fetch. Scope is the set of leaf places candidates from this
// page may be attributed to.
type Job struct {
	Master place.Place
	Target place.Place
	URL    string
	Scope  []place.Place
}

// Plan is what a run would process
type Plan struct {
	Total           int
	Masters         []place.Place
	Jobs            []Job
	RunsForCoverage int
	Invalid         []place.InvalidPlace
}

// JobsFor returns the jobs belonging to a master, in plan order
func (p *Plan) JobsFor(masterID int64) []Job {
	var out []Job
	for _, j := range p.Jobs {
		if j.Master.ID == masterID {
			out = append(out, j)
		}
	}
	return out
}

// Plan lists places and selects this run's masters and fetch jobs without
// touching any page or the oracle.
func (p *Pipeline) Plan(ctx context.Context) (*Plan, error) {
	lctx, cancel := p.storeCtx(ctx)
	places, err := p.store.ListPlaces(lctx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("listing places: %w", err)
	}

	h := place.Build(places)
	masters := p.opts.Filter.Apply(h.Masters())
	selected := p.scheduler.Select(masters)

	plan := &Plan{
		Total:           len(masters),
		Masters:         selected,
		RunsForCoverage: p.scheduler.RunsForCoverage(len(masters)),
		Invalid:         h.Invalid,
	}
	selector := p.selector(nil)
	for _, m := range selected {
		plan.Jobs = append(plan.Jobs, buildJobs(m, h.Scope(m), selector.KindFor(m))...)
	}
	return plan, nil
}

// buildJobs creates one job per branch for single-target masters and one job
// for the master page otherwise.
func buildJobs(master place.Place, scope []place.Place, kind attribution.Kind) []Job {
	ownLeaf := len(scope) == 1 && scope[0].ID == master.ID
	if kind != attribution.KindSingle || ownLeaf {
		return []Job{{
			Master: master,
			Target: master,
			URL:    TargetURL(master, master),
			Scope:  scope,
		}}
	}

	jobs := make([]Job, 0, len(scope))
	for _, b := range scope {
		jobs = append(jobs, Job{
			Master: master,
			Target: b,
			URL:    TargetURL(master, b),
			Scope:  []place.Place{b},
		})
	}
	return jobs
}

// TargetURL returns the page to fetch for target: its own URL when set,
// otherwise the master's URL with the postal code token filled in.
func TargetURL(master, target place.Place) string {
	if target.ID != master.ID && target.URL != "" {
		return target.URL
	}
	return strings.ReplaceAll(master.URL, PostalCodeToken, target.PostalCode)
}
