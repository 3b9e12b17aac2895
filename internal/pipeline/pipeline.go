package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/pfrederiksen/bake-events/internal/attribution"
	"github.com/pfrederiksen/bake-events/internal/dedup"
	"github.com/pfrederiksen/bake-events/internal/event"
	"github.com/pfrederiksen/bake-events/internal/eviction"
	"github.com/pfrederiksen/bake-events/internal/extract"
	"github.com/pfrederiksen/bake-events/internal/fetcher"
	"github.com/pfrederiksen/bake-events/internal/filter"
	"github.com/pfrederiksen/bake-events/internal/logger"
	"github.com/pfrederiksen/bake-events/internal/metrics"
	"github.com/pfrederiksen/bake-events/internal/place"
	"github.com/pfrederiksen/bake-events/internal/scheduler"
	"github.com/pfrederiksen/bake-events/internal/storage"
	"github.com/pfrederiksen/bake-events/internal/validate"
)

// errNothingExtracted fails a master whose fetched pages all failed extraction
var errNothingExtracted = errors.New("no fetched page could be extracted")

// Extractor turns page text into candidates. An error other than
// extract.ErrQuotaExhausted or a context error fails that page only.
type Extractor interface {
	Extract(ctx context.Context, req extract.Request) ([]event.Candidate, error)
}

// Options tune a Pipeline. Zero values fall back to the defaults noted.
type Options struct {
	RetentionDays      int
	Lookahead          map[event.WindowType]int
	ExcludedCategories []string
	Filter             *filter.Filter

	Schedule      scheduler.Policy
	DedupPolicy   dedup.Policy
	Attribution   attribution.Kind
	Rules         []attribution.Rule
	FetchWorkers  int           // default 4
	OracleSpacing time.Duration // minimum gap between oracle calls, 0 for none

	FetchTimeout   time.Duration // default 45s
	ExtractTimeout time.Duration // default 3m
	StoreTimeout   time.Duration // default 30s

	Location *time.Location // default time.Local
}

// Deps are the collaborators a Pipeline drives
type Deps struct {
	Store     storage.Store
	Fetcher   fetcher.Fetcher
	Extractor Extractor
	Metrics   *metrics.Metrics
	Logger    *logger.Logger
	Now       func() time.Time
}

// Pipeline runs discovery passes
type Pipeline struct {
	store     storage.Store
	fetcher   fetcher.Fetcher
	extractor Extractor
	metrics   *metrics.Metrics
	log       *logger.Logger
	now       func() time.Time

	opts      Options
	scheduler *scheduler.Scheduler
	dedup     *dedup.Engine
	evictor   *eviction.Manager
	limiter   *rate.Limiter
}

// New wires a Pipeline
func New(deps Deps, opts Options) *Pipeline {
	if opts.FetchWorkers < 1 {
		opts.FetchWorkers = 4
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = fetcher.Timeout
	}
	if opts.ExtractTimeout <= 0 {
		opts.ExtractTimeout = 3 * time.Minute
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 30 * time.Second
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if deps.Logger == nil {
		deps.Logger = logger.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	limit := rate.Inf
	if opts.OracleSpacing > 0 {
		limit = rate.Every(opts.OracleSpacing)
	}

	return &Pipeline{
		store:     deps.Store,
		fetcher:   deps.Fetcher,
		extractor: deps.Extractor,
		metrics:   deps.Metrics,
		log:       deps.Logger,
		now:       deps.Now,
		opts:      opts,
		scheduler: scheduler.New(opts.Schedule, deps.Store),
		dedup:     dedup.New(opts.DedupPolicy, deps.Logger),
		evictor:   eviction.New(deps.Store, deps.Logger),
		limiter:   rate.NewLimiter(limit, 1),
	}
}

func (p *Pipeline) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, p.opts.StoreTimeout)
}

// selector builds the attribution selector; onDrop receives unattributed candidates.
func (p *Pipeline) selector(onDrop func(event.Candidate, place.Place)) *attribution.Selector {
	return attribution.NewSelector(p.opts.Attribution, p.opts.Rules, attribution.HintMatch{Unattributed: onDrop})
}

type fetchResult struct {
	text string
	err  error
}

// Run executes one pass. The summary is always returned; the error is
// extract.ErrQuotaExhausted, a context error, or a failure to list places.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	started := p.now().In(p.opts.Location)
	sum := newSummary(uuid.NewString(), started)
	log := p.log.With(logger.Fields{"run_id": sum.RunID})
	defer func() {
		sum.FinishedAt = p.now()
		p.metrics.RunFinished(sum.FinishedAt.Sub(sum.StartedAt), sum.FinishedAt)
		log.Info("run finished", sum.Fields())
	}()

	cutoff := event.Cutoff(started, p.opts.RetentionDays)
	validator := validate.New(validate.Config{
		Now:                started,
		RetentionDays:      p.opts.RetentionDays,
		Lookahead:          p.opts.Lookahead,
		ExcludedCategories: p.opts.ExcludedCategories,
	})
	sum.Cutoff = event.FormatDate(cutoff)

	log.Info("run started", logger.Fields{
		"cutoff":       sum.Cutoff,
		"dedup_policy": string(p.dedup.Policy()),
	})

	sctx, cancel := p.storeCtx(ctx)
	swept, err := p.evictor.Sweep(sctx, cutoff)
	cancel()
	if err != nil {
		log.Error("global sweep failed", nil, err)
	}
	sum.Evicted += swept
	p.metrics.Rows(metrics.RowsDeleted, swept)

	plan, err := p.Plan(ctx)
	if err != nil {
		return sum, err
	}
	for _, inv := range plan.Invalid {
		log.Warn("place skipped", logger.Fields{"place_id": inv.Place.ID, "reason": inv.Reason})
	}
	sum.Selected = len(plan.Masters)
	log.Info("batch selected", logger.Fields{
		"masters": len(plan.Masters),
		"of":      plan.Total,
		"jobs":    len(plan.Jobs),
	})

	results := p.fetchAll(ctx, plan.Jobs, log)

	selector := p.selector(func(c event.Candidate, m place.Place) {
		sum.Unattributed++
		p.metrics.Unattributed()
		log.Info("unattributed", logger.Fields{"master_id": m.ID, "title": c.Title, "location_hint": c.LocationHint})
	})

	jobIndex := 0
	for _, master := range plan.Masters {
		if err := ctx.Err(); err != nil {
			sum.Cancelled = true
			log.Warn("run cancelled", logger.Fields{"remaining": len(plan.Masters) - sum.Processed - sum.MastersFailed})
			return sum, err
		}

		jobs := plan.JobsFor(master.ID)
		fetched := results[jobIndex : jobIndex+len(jobs)]
		jobIndex += len(jobs)

		err := p.runMaster(ctx, master, jobs, fetched, cutoff, started, validator, selector, sum, log)
		switch {
		case errors.Is(err, extract.ErrQuotaExhausted):
			sum.QuotaExhausted = true
			log.Error("oracle quota exhausted, stopping", logger.Fields{"master_id": master.ID}, err)
			return sum, err
		case ctx.Err() != nil:
			sum.Cancelled = true
			log.Warn("run cancelled", logger.Fields{"master_id": master.ID})
			return sum, ctx.Err()
		case err != nil:
			sum.MastersFailed++
			log.Error("master failed", logger.Fields{"master_id": master.ID, "name": master.Name}, err)
			continue
		}

		mctx, cancel := p.storeCtx(ctx)
		err = p.scheduler.MarkDone(mctx, master.ID, p.now())
		cancel()
		if err != nil {
			log.Error("failed to mark master processed", logger.Fields{"master_id": master.ID}, err)
			continue
		}
		sum.Processed++
		p.metrics.MasterProcessed()
	}

	return sum, nil
}

// fetchAll fetches every job with a bounded worker pool. Failures are kept
// per job; they never stop other fetches.
func (p *Pipeline) fetchAll(ctx context.Context, jobs []Job, log *logger.Logger) []fetchResult {
	results := make([]fetchResult, len(jobs))

	var g errgroup.Group
	g.SetLimit(p.opts.FetchWorkers)
	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = fetchResult{err: err}
				return nil
			}
			fctx, cancel := context.WithTimeout(ctx, p.opts.FetchTimeout)
			defer cancel()

			start := time.Now()
			text, err := p.fetcher.Fetch(fctx, job.URL)
			results[i] = fetchResult{text: text, err: err}
			if err == nil {
				log.Debug("page fetched", logger.Fields{
					"place_id": job.Target.ID,
					"chars":    len(text),
					"took":     time.Since(start).String(),
				})
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// runMaster extracts, validates, attributes and writes one master's events.
// It returns nil when the master should be marked processed.
func (p *Pipeline) runMaster(
	ctx context.Context,
	master place.Place,
	jobs []Job,
	fetched []fetchResult,
	cutoff, now time.Time,
	validator *validate.Validator,
	selector *attribution.Selector,
	sum *Summary,
	log *logger.Logger,
) error {
	mlog := log.With(logger.Fields{"master_id": master.ID})

	var (
		batch     []event.Stored
		fetchedOK int
		extracted int
		scopeIDs  []int64
	)
	for i, job := range jobs {
		if err := fetched[i].err; err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			sum.FetchFailed++
			p.metrics.FetchFailed()
			mlog.Warn("fetch failed", logger.Fields{"url": job.URL, "error": err.Error()})
			continue
		}
		fetchedOK++

		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}
		ectx, cancel := context.WithTimeout(ctx, p.opts.ExtractTimeout)
		candidates, err := p.extractor.Extract(ectx, extract.Request{
			PlaceName:  job.Target.Name,
			PostalCode: job.Target.PostalCode,
			Text:       fetched[i].text,
			Now:        now,
		})
		cancel()
		switch {
		case errors.Is(err, extract.ErrQuotaExhausted):
			return err
		case err != nil && ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			sum.ExtractFailed++
			mlog.Warn("extraction failed", logger.Fields{"url": job.URL, "error": err.Error()})
			continue
		}
		// Only a scope whose extraction succeeded may be swept or replaced.
		extracted++
		scopeIDs = append(scopeIDs, place.IDs(job.Scope)...)
		sum.Candidates += len(candidates)

		for _, c := range candidates {
			if err := validator.Check(c); err != nil {
				reason := validate.ReasonOf(err)
				sum.reject(reason)
				p.metrics.Rejected(string(reason))
				mlog.Debug("candidate rejected", logger.Fields{"title": c.Title, "reason": err.Error()})
				continue
			}
			for _, target := range selector.Resolve(c, master, job.Scope) {
				batch = append(batch, event.NewStored(c, target, now))
			}
		}
	}

	if fetchedOK == 0 {
		// Nothing could be fetched. The master still counts as processed so a
		// dead page cannot pin the rotation.
		return nil
	}
	if extracted == 0 {
		return fmt.Errorf("%w: %d of %d pages", errNothingExtracted, fetchedOK, len(jobs))
	}

	res, err := p.write(ctx, master.ID, scopeIDs, batch, cutoff)
	if err != nil {
		return err
	}
	sum.add(res)
	p.metrics.Rows(metrics.RowsInserted, int64(res.Inserted))
	p.metrics.Rows(metrics.RowsSkipped, int64(res.Skipped))
	p.metrics.Rows(metrics.RowsFailed, int64(res.Failed))
	p.metrics.Rows(metrics.RowsDeleted, res.Deleted)

	mlog.Info("master processed", logger.Fields{
		"name":     master.Name,
		"inserted": res.Inserted,
		"skipped":  res.Skipped,
		"failed":   res.Failed,
		"deleted":  res.Deleted,
	})
	return nil
}

// write sweeps the scope's stale rows and applies the dedup policy inside one
// transaction when the store supports it.
func (p *Pipeline) write(ctx context.Context, masterID int64, scopeIDs []int64, batch []event.Stored, cutoff time.Time) (dedup.Result, error) {
	wctx, cancel := p.storeCtx(ctx)
	defer cancel()

	var res dedup.Result
	err := storage.RunInTx(wctx, p.store, func(tx storage.EventStore) error {
		res = dedup.Result{}
		swept, err := p.evictor.WithStore(tx).SweepPlaces(wctx, cutoff, scopeIDs)
		if err != nil {
			return err
		}
		applied, err := p.dedup.Apply(wctx, tx, dedup.Batch{
			MasterID: masterID,
			ScopeIDs: scopeIDs,
			Events:   batch,
			Cutoff:   cutoff,
		})
		if err != nil {
			return err
		}
		applied.Deleted += swept
		res = applied
		return nil
	})
	if err != nil {
		return dedup.Result{}, fmt.Errorf("writing events: %w", err)
	}
	return res, nil
}
