package libenrich

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/quay/zlog"
	"golang.org/x/sync/errgroup"

	"github.com/edusentry/edusentry"
	"github.com/edusentry/edusentry/datastore"
	"github.com/edusentry/edusentry/enricher"
	"github.com/edusentry/edusentry/fetcher"
	"github.com/edusentry/edusentry/normalize"
)

var (
	enrichmentCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edusentry",
			Subsystem: "libenrich",
			Name:      "enrichments_total",
			Help:      "Total extraction outcomes, by disposition.",
		},
		[]string{"outcome"},
	)
	articleFetchCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edusentry",
			Subsystem: "libenrich",
			Name:      "article_fetches_total",
			Help:      "Total article fetch attempts, by outcome.",
		},
		[]string{"outcome"},
	)
)

// task is what rides the queue: the incident id plus a snapshot for logs.
// The consumer reloads everything fresh from its own handle.
type task struct {
	id     string
	victim string
}

// Run selects up to n incidents, fetches their articles, and enriches them.
//
// The producer runs on the calling goroutine; one consumer goroutine
// processes the queue strictly sequentially. Every database mutation is its
// own short transaction, so a crash or cancellation anywhere loses at most
// the unit in flight.
func (p *Pipeline) Run(ctx context.Context, n int) (*Summary, error) {
	ctx = zlog.ContextWithValues(ctx,
		"component", "libenrich/Pipeline.Run",
		"run", uuid.New().String(),
	)
	var (
		sum Summary
		mu  sync.Mutex
	)
	incs, err := p.selectCandidates(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("selection failed: %w", err)
	}
	sum.Selected = len(incs)
	zlog.Info(ctx).
		Int("selected", len(incs)).
		Msg("enrichment starting")

	var (
		q            = make(chan task, p.queueDepth)
		fetchDone    = make(chan struct{})
		consumerDone = make(chan struct{})
		halted       atomic.Bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(consumerDone)
		return p.consume(gctx, q, fetchDone, &halted, &sum, &mu)
	})

	for _, inc := range incs {
		if halted.Load() || gctx.Err() != nil {
			mu.Lock()
			sum.NotAttempted++
			mu.Unlock()
			continue
		}
		stored := p.produce(gctx, inc, &sum, &mu)
		if stored == 0 {
			continue
		}
		select {
		case q <- task{id: inc.ID, victim: inc.Victim}:
		case <-consumerDone:
			mu.Lock()
			sum.NotAttempted++
			mu.Unlock()
		case <-gctx.Done():
			mu.Lock()
			sum.NotAttempted++
			mu.Unlock()
		}
	}
	close(fetchDone)
	err = g.Wait()
	sum.Halted = halted.Load()

	if err == nil && !sum.Halted && p.dedupWindow > 0 && sum.Enriched > 0 {
		deleted, derr := p.dedupInstitutions(ctx)
		if derr != nil {
			zlog.Error(ctx).Err(derr).Msg("institutional dedup pass failed")
		}
		sum.Deleted = deleted
	}

	zlog.Info(ctx).
		Int("selected", sum.Selected).
		Int("fetched", sum.Fetched).
		Int("enriched", sum.Enriched).
		Int("skipped", sum.Skipped).
		Int("errored", sum.Errored).
		Int("not_attempted", sum.NotAttempted).
		Int("deleted", sum.Deleted).
		Bool("halted", sum.Halted).
		Msg("enrichment done")
	return &sum, err
}

// produce fetches an incident's articles under the rate discipline and
// reports how many were stored successfully.
func (p *Pipeline) produce(ctx context.Context, inc *edusentry.Incident, sum *Summary, mu *sync.Mutex) int {
	ctx = zlog.ContextWithValues(ctx,
		"component", "libenrich/Pipeline.produce",
		"incident", inc.ID,
	)
	broken := make(map[string]struct{}, len(inc.BrokenURLs))
	for _, u := range inc.BrokenURLs {
		broken[u] = struct{}{}
	}
	stored := 0
	for _, u := range inc.URLs {
		if ctx.Err() != nil {
			break
		}
		if _, bad := broken[u]; bad {
			continue
		}
		domain := normalize.Domain(u)
		if domain == "" {
			continue
		}
		if _, excluded := p.exclude[domain]; excluded {
			continue
		}
		if !p.limiter.CanFetch(domain) {
			// Blocked is not an error; the URL stays not-yet-fetched.
			articleFetchCounter.WithLabelValues("blocked").Add(1)
			continue
		}
		if err := p.limiter.Wait(ctx, domain); err != nil {
			break
		}
		content := p.fetch.Fetch(ctx, u)
		p.limiter.Record(domain, content.Success)
		if content.StatusCode == 403 {
			p.limiter.Record403(ctx, domain)
		}
		if err := p.store.UpsertArticle(ctx, fetcher.Bind(inc.ID, content)); err != nil {
			zlog.Warn(ctx).Err(err).Str("url", u).Msg("failed to store article")
			continue
		}
		if !content.Success {
			articleFetchCounter.WithLabelValues("failed").Add(1)
			if err := p.store.AddBrokenURL(ctx, inc.ID, u); err != nil {
				zlog.Warn(ctx).Err(err).Str("url", u).Msg("failed to mark url broken")
			}
			mu.Lock()
			sum.BrokenURLs++
			mu.Unlock()
			continue
		}
		articleFetchCounter.WithLabelValues("stored").Add(1)
		mu.Lock()
		sum.ArticlesStored++
		mu.Unlock()
		stored++
	}
	if stored > 0 {
		mu.Lock()
		sum.Fetched++
		mu.Unlock()
	}
	return stored
}

// consume is the extraction stage: one task at a time, own store handle,
// short transactions.
func (p *Pipeline) consume(ctx context.Context, q <-chan task, fetchDone <-chan struct{}, halted *atomic.Bool, sum *Summary, mu *sync.Mutex) error {
	ctx = zlog.ContextWithValues(ctx, "component", "libenrich/Pipeline.consume")
	store, err := p.open(ctx)
	if err != nil {
		return fmt.Errorf("consumer failed to open store: %w", err)
	}
	defer store.Close()

	// After a rate-limit halt the loop keeps receiving so every queued and
	// in-flight task is counted, but processes nothing.
	draining := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-q:
			if draining {
				mu.Lock()
				sum.NotAttempted++
				mu.Unlock()
				continue
			}
			if err := p.process(ctx, store, t, sum, mu); err != nil {
				halted.Store(true)
				draining = true
				zlog.Error(ctx).
					Err(err).
					Msg("extraction rate limited, halting run")
				continue
			}
			if err := p.pace.Wait(ctx); err != nil {
				return err
			}
		case <-time.After(p.pollInterval):
			select {
			case <-fetchDone:
				if len(q) == 0 {
					return nil
				}
			default:
			}
		}
	}
}

// process handles one task. The returned error is non-nil only for the
// rate-limit halt; every other failure is absorbed into the summary.
func (p *Pipeline) process(ctx context.Context, store datastore.Store, t task, sum *Summary, mu *sync.Mutex) error {
	ctx = zlog.ContextWithValues(ctx, "incident", t.id)
	count := func(outcome string, field *int) {
		enrichmentCounter.WithLabelValues(outcome).Add(1)
		mu.Lock()
		*field++
		mu.Unlock()
	}

	// Fresh snapshot; the producer's copy is stale by now.
	inc, err := store.GetIncident(ctx, t.id)
	if err != nil {
		zlog.Warn(ctx).Err(err).Msg("failed to reload incident")
		count("errored", &sum.Errored)
		return nil
	}
	if inc.Enriched() {
		// Raced with another writer; nothing to do.
		count("skipped", &sum.Skipped)
		return nil
	}
	articles, err := store.ArticlesForIncident(ctx, t.id)
	if err != nil {
		zlog.Warn(ctx).Err(err).Msg("failed to load articles")
		count("errored", &sum.Errored)
		return nil
	}

	res, err := p.extract.Extract(ctx, inc, articles)
	switch {
	case errors.Is(err, enricher.ErrRateLimited):
		count("rate_limited", &sum.Errored)
		return err
	case errors.Is(err, enricher.ErrExtractionFailed):
		// Left untouched; a future run retries.
		zlog.Warn(ctx).Err(err).Msg("extraction failed, incident left for retry")
		count("errored", &sum.Errored)
		return nil
	case err != nil:
		zlog.Warn(ctx).Err(err).Msg("extraction errored")
		count("errored", &sum.Errored)
		return nil
	}

	if !res.IsEducationRelated {
		if p.skipNonEducation {
			if err := store.MarkSkipped(ctx, t.id, res.NotEducationReason); err != nil {
				zlog.Warn(ctx).Err(err).Msg("failed to mark incident skipped")
				count("errored", &sum.Errored)
				return nil
			}
		}
		zlog.Info(ctx).
			Str("reason", res.NotEducationReason).
			Msg("incident not education related")
		count("skipped", &sum.Skipped)
		return nil
	}

	p.applyRefinements(ctx, store, inc, res)

	block, err := res.Enrichment(time.Now().UTC())
	if err != nil {
		zlog.Warn(ctx).Err(err).Msg("failed to encode enrichment")
		count("errored", &sum.Errored)
		return nil
	}
	scores := make(map[string]datastore.Score, len(res.URLScores))
	for u, sc := range res.URLScores {
		scores[u] = datastore.Score{Value: sc.Value, Reason: sc.Reason}
	}
	outcome, err := store.SaveEnrichment(ctx, t.id, &datastore.EnrichmentSave{
		Enrichment:      block,
		PrimaryURL:      res.PrimaryURL,
		Scores:          scores,
		PurgeNonPrimary: p.purgeNonPrimary,
	})
	if err != nil {
		zlog.Warn(ctx).Err(err).Msg("failed to save enrichment")
		count("errored", &sum.Errored)
		return nil
	}
	switch outcome {
	case datastore.SaveAccepted:
		zlog.Info(ctx).
			Float64("confidence", res.ExtractionConfidence).
			Msg("incident enriched")
		count("enriched", &sum.Enriched)
	case datastore.SaveSkippedLowerConfidence:
		zlog.Info(ctx).
			Float64("offered", res.ExtractionConfidence).
			Msg("stored enrichment kept, lower confidence offered")
		count("kept_stored", &sum.KeptStored)
	}
	return nil
}

// applyRefinements folds the extraction's attribute refinements into the
// incident row. Best-effort: a failure here never blocks the save.
func (p *Pipeline) applyRefinements(ctx context.Context, store datastore.Store, inc *edusentry.Incident, res *enricher.Result) {
	changed := false
	if res.Victim != "" && res.Victim != inc.Victim {
		inc.Victim = res.Victim
		inc.VictimNormalized = normalize.Institution(res.Victim)
		changed = true
	}
	if res.InstitutionType != "" && inc.InstitutionType == edusentry.InstitutionUnknown {
		var it edusentry.InstitutionType
		if err := it.UnmarshalText([]byte(res.InstitutionType)); err == nil {
			inc.InstitutionType = it
			changed = true
		}
	}
	if res.Geo.Country != "" && inc.Country == "" {
		inc.Country = res.Geo.Country
		changed = true
	}
	if res.Geo.Region != "" && inc.Region == "" {
		inc.Region = res.Geo.Region
		changed = true
	}
	if res.Geo.City != "" && inc.City == "" {
		inc.City = res.Geo.City
		changed = true
	}
	if res.IncidentDate != "" && res.IncidentDate != inc.IncidentDate {
		if _, prec, err := normalize.ParseDate(res.IncidentDate); err == nil {
			inc.IncidentDate = res.IncidentDate
			inc.DatePrecision = prec
			changed = true
		}
	}
	if res.AttackType != "" && inc.AttackType == "" {
		inc.AttackType = res.AttackType
		changed = true
	}
	if res.Confirmed && inc.Status != edusentry.StatusConfirmed {
		inc.Status = edusentry.StatusConfirmed
		changed = true
	}
	if !changed {
		return
	}
	if err := store.UpdateIncident(ctx, inc, true); err != nil {
		zlog.Warn(ctx).Err(err).Msg("failed to apply refinements")
	}
}
