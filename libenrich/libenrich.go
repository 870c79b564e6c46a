// Package libenrich runs the enrichment pipeline: a smart selection of
// unenriched incidents, a rate-limited article-fetching producer, and a
// strictly sequential extraction consumer joined by a bounded queue.
package libenrich

import (
	"errors"
	"math/rand"
	"time"

	"golang.org/x/time/rate"

	"github.com/edusentry/edusentry/datastore"
	"github.com/edusentry/edusentry/enricher"
	"github.com/edusentry/edusentry/fetcher"
	"github.com/edusentry/edusentry/ratelimit"
)

// Defaults.
const (
	DefaultQueueDepth     = 32
	DefaultPollInterval   = 5 * time.Second
	DefaultRateLimitDelay = 5 * time.Second
	DefaultDedupWindow    = 14 * 24 * time.Hour
)

// Pipeline wires the selector, fetcher, rate limiter, and extractor
// together over two store handles: the producer runs on the caller's
// goroutine with the primary handle, the consumer on a background goroutine
// with a handle of its own.
type Pipeline struct {
	store   datastore.Store
	open    datastore.Open
	fetch   *fetcher.Fetcher
	limiter *ratelimit.Limiter
	extract enricher.Extractor

	queueDepth   int
	pollInterval time.Duration
	// pace spaces out extraction calls; one token per task.
	pace             *rate.Limiter
	skipNonEducation bool
	purgeNonPrimary  bool
	dedupWindow      time.Duration
	exclude          map[string]struct{}
	rnd              *rand.Rand
}

// Option adjusts the Pipeline New returns.
type Option func(*Pipeline)

// WithQueueDepth sets the bounded queue's capacity.
func WithQueueDepth(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.queueDepth = n
		}
	}
}

// WithPollInterval sets how often the idle consumer re-checks for shutdown.
func WithPollInterval(d time.Duration) Option {
	return func(p *Pipeline) { p.pollInterval = d }
}

// WithRateLimitDelay sets the pause between extraction calls. Zero disables
// pacing.
func WithRateLimitDelay(d time.Duration) Option {
	return func(p *Pipeline) {
		if d <= 0 {
			p.pace = rate.NewLimiter(rate.Inf, 1)
			return
		}
		p.pace = rate.NewLimiter(rate.Every(d), 1)
	}
}

// WithSkipNonEducation makes not-education verdicts permanent: the incident
// is marked skipped and never revisited. When off, such incidents are left
// unenriched.
func WithSkipNonEducation(skip bool) Option {
	return func(p *Pipeline) { p.skipNonEducation = skip }
}

// WithPurgeNonPrimary removes an incident's non-primary articles once an
// enrichment save is accepted.
func WithPurgeNonPrimary(purge bool) Option {
	return func(p *Pipeline) { p.purgeNonPrimary = purge }
}

// WithDedupWindow sets the institutional dedup date window. Zero disables
// the post-enrichment pass.
func WithDedupWindow(d time.Duration) Option {
	return func(p *Pipeline) { p.dedupWindow = d }
}

// WithExcludedDomains keeps the selector and producer away from the named
// domains.
func WithExcludedDomains(domains []string) Option {
	return func(p *Pipeline) {
		for _, d := range domains {
			p.exclude[d] = struct{}{}
		}
	}
}

// WithSeed pins the selector's randomness. For tests.
func WithSeed(seed int64) Option {
	return func(p *Pipeline) { p.rnd = rand.New(rand.NewSource(seed)) }
}

// New returns a Pipeline ready for Run.
//
// The open func supplies the consumer's private store handle; handles never
// cross goroutines.
func New(store datastore.Store, open datastore.Open, f *fetcher.Fetcher, l *ratelimit.Limiter, x enricher.Extractor, opts ...Option) (*Pipeline, error) {
	switch {
	case store == nil:
		return nil, errors.New("libenrich: no store provided")
	case open == nil:
		return nil, errors.New("libenrich: no store opener provided")
	case f == nil:
		return nil, errors.New("libenrich: no fetcher provided")
	case l == nil:
		return nil, errors.New("libenrich: no rate limiter provided")
	case x == nil:
		return nil, errors.New("libenrich: no extractor provided")
	}
	p := &Pipeline{
		store:        store,
		open:         open,
		fetch:        f,
		limiter:      l,
		extract:      x,
		queueDepth:   DefaultQueueDepth,
		pollInterval: DefaultPollInterval,
		pace:         rate.NewLimiter(rate.Every(DefaultRateLimitDelay), 1),
		dedupWindow:  DefaultDedupWindow,
		exclude:      make(map[string]struct{}),
		rnd:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Summary is the per-run accounting surfaced to the operator.
type Summary struct {
	// Selected is how many incidents the smart selector returned.
	Selected int
	// Fetched is how many incidents had at least one article stored.
	Fetched int
	// ArticlesStored counts successful article rows written.
	ArticlesStored int
	// BrokenURLs counts URLs marked broken during fetching.
	BrokenURLs int
	// Enriched is accepted enrichment saves.
	Enriched int
	// KeptStored is saves declined by the upgrade rule: the stored block
	// had equal or better extraction confidence.
	KeptStored int
	// Skipped counts race-protected re-reads and not-education verdicts.
	Skipped int
	// Errored is extraction failures, the halting rate-limit included.
	Errored int
	// NotAttempted is tasks drained without processing after a halt, plus
	// selected incidents the producer never fetched.
	NotAttempted int
	// Deleted is incidents removed by the institutional dedup pass.
	Deleted int
	// Halted is set when a rate-limit error stopped the run early.
	Halted bool
}
