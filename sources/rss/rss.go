// Package rss ingests security-news syndication feeds, RSS 2.0 and Atom.
//
// Feed items are unvetted headlines, so the education keyword filter gates
// what becomes a record and everything emitted carries low confidence. The
// victim label is the item title; enrichment refines it later.
package rss

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/quay/zlog"

	"github.com/edusentry/edusentry"
	"github.com/edusentry/edusentry/internal/httputil"
	"github.com/edusentry/edusentry/libingest/driver"
	"github.com/edusentry/edusentry/normalize"
)

const name = `edusec-rss`

const maxFeedBytes = 8 << 20

// educationKeywords gate which feed items become records. Matched
// case-insensitively against title and description.
var educationKeywords = []string{
	"university", "college", "school", "district", "campus",
	"education", "student", "academy", "k-12", "k12",
}

var (
	_ driver.Adapter      = (*Adapter)(nil)
	_ driver.Configurable = (*Adapter)(nil)
	_ driver.Checkpointed = (*Adapter)(nil)
)

// Adapter walks a set of configured feeds.
type Adapter struct {
	c          *http.Client
	feeds      []string
	keywords   []string
	checkpoint time.Time
}

// Config is the adapter's runtime configuration.
type Config struct {
	// Feeds lists the feed URLs to poll.
	Feeds []string `json:"feeds" yaml:"feeds"`
	// Keywords overrides the default education keyword filter.
	Keywords []string `json:"keywords" yaml:"keywords"`
}

// New returns an unconfigured Adapter.
func New() *Adapter {
	return &Adapter{
		c:        http.DefaultClient,
		keywords: educationKeywords,
	}
}

// Name implements driver.Adapter.
func (*Adapter) Name() string { return name }

// Group implements driver.Adapter.
func (*Adapter) Group() driver.Group { return driver.GroupRSS }

// Configure implements driver.Configurable.
func (a *Adapter) Configure(_ context.Context, f driver.ConfigUnmarshaler, c *http.Client) error {
	var cfg Config
	if err := f(&cfg); err != nil {
		return err
	}
	if len(cfg.Feeds) != 0 {
		a.feeds = cfg.Feeds
	}
	if len(cfg.Keywords) != 0 {
		a.keywords = cfg.Keywords
	}
	if c != nil {
		a.c = c
	}
	return nil
}

// Checkpoint implements driver.Checkpointed.
func (a *Adapter) Checkpoint() time.Time { return a.checkpoint }

// item is a feed entry reduced to the fields both dialects share.
type item struct {
	title     string
	link      string
	guid      string
	summary   string
	published time.Time
}

// Fetch implements driver.Adapter.
//
// Each feed is one chunk: whatever parsed reaches the sink before the next
// feed is tried, and a feed failure after at least one good feed is only
// logged.
func (a *Adapter) Fetch(ctx context.Context, opts *driver.Options) ([]*edusentry.SourceRecord, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "sources/rss/Adapter.Fetch")
	if len(a.feeds) == 0 {
		return nil, fmt.Errorf("rss: no feeds configured")
	}
	var cutoff time.Time
	if opts != nil && opts.MaxAgeDays > 0 {
		cutoff = time.Now().UTC().AddDate(0, 0, -opts.MaxAgeDays)
	}
	var since time.Time
	if opts != nil {
		since = opts.Since
	}

	var out []*edusentry.SourceRecord
	var lastErr error
	fetched := 0
	for _, feed := range a.feeds {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		items, err := a.get(ctx, feed)
		if err != nil {
			zlog.Warn(ctx).
				Err(err).
				Str("feed", feed).
				Msg("feed failed")
			lastErr = fmt.Errorf("feed %q: %w", feed, err)
			continue
		}
		fetched++
		var recs []*edusentry.SourceRecord
		for _, it := range items {
			if !it.published.IsZero() && !it.published.After(since) {
				continue
			}
			if !cutoff.IsZero() && !it.published.IsZero() && it.published.Before(cutoff) {
				continue
			}
			if !a.related(it.title + " " + it.summary) {
				continue
			}
			recs = append(recs, record(it))
			if it.published.After(a.checkpoint) {
				a.checkpoint = it.published
			}
		}
		rest, err := driver.EmitBatches(ctx, opts, recs)
		if err != nil {
			return nil, err
		}
		out = append(out, rest...)
	}
	if fetched == 0 {
		return nil, lastErr
	}
	return out, nil
}

func (a *Adapter) related(text string) bool {
	text = strings.ToLower(text)
	for _, kw := range a.keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func (a *Adapter) get(ctx context.Context, feed string) ([]item, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to construct request: %w", err)
	}
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml")
	res, err := a.c.Do(req)
	if err != nil {
		return nil, &edusentry.Error{Op: "rss/fetch", Kind: edusentry.ErrFetch, Inner: err}
	}
	defer res.Body.Close()
	if err := httputil.CheckResponse(res, http.StatusOK); err != nil {
		return nil, &edusentry.Error{Op: "rss/fetch", Kind: edusentry.ErrFetch, Inner: err}
	}
	b, err := io.ReadAll(io.LimitReader(res.Body, maxFeedBytes))
	if err != nil {
		return nil, &edusentry.Error{Op: "rss/fetch", Kind: edusentry.ErrFetch, Inner: err}
	}
	items, err := parse(b)
	if err != nil {
		return nil, &edusentry.Error{Op: "rss/fetch", Kind: edusentry.ErrParse, Inner: err}
	}
	return items, nil
}

type rssDoc struct {
	XMLName xml.Name  `xml:"rss"`
	Items   []rssItem `xml:"channel>item"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	GUID        string `xml:"guid"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate"`
}

type atomDoc struct {
	XMLName xml.Name    `xml:"feed"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	Title     string     `xml:"title"`
	ID        string     `xml:"id"`
	Links     []atomLink `xml:"link"`
	Summary   string     `xml:"summary"`
	Published string     `xml:"published"`
	Updated   string     `xml:"updated"`
}

type atomLink struct {
	Rel  string `xml:"rel,attr"`
	Href string `xml:"href,attr"`
}

// parse tries RSS 2.0 first, then Atom.
func parse(b []byte) ([]item, error) {
	var r rssDoc
	if err := xml.Unmarshal(b, &r); err == nil {
		items := make([]item, 0, len(r.Items))
		for _, it := range r.Items {
			items = append(items, item{
				title:     strings.TrimSpace(it.Title),
				link:      strings.TrimSpace(it.Link),
				guid:      strings.TrimSpace(it.GUID),
				summary:   strings.TrimSpace(it.Description),
				published: parseRSSTime(it.PubDate),
			})
		}
		return items, nil
	}
	var f atomDoc
	if err := xml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("neither rss nor atom: %w", err)
	}
	items := make([]item, 0, len(f.Entries))
	for _, e := range f.Entries {
		ts := e.Published
		if ts == "" {
			ts = e.Updated
		}
		var published time.Time
		if t, err := time.Parse(time.RFC3339, strings.TrimSpace(ts)); err == nil {
			published = t
		}
		items = append(items, item{
			title:     strings.TrimSpace(e.Title),
			link:      atomHref(e.Links),
			guid:      strings.TrimSpace(e.ID),
			summary:   strings.TrimSpace(e.Summary),
			published: published,
		})
	}
	return items, nil
}

func atomHref(links []atomLink) string {
	for _, l := range links {
		if l.Rel == "" || l.Rel == "alternate" {
			return strings.TrimSpace(l.Href)
		}
	}
	if len(links) != 0 {
		return strings.TrimSpace(links[0].Href)
	}
	return ""
}

func parseRSSTime(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC1123Z, time.RFC1123, time.RFC822Z, time.RFC822} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func record(it item) *edusentry.SourceRecord {
	date := ""
	prec := edusentry.PrecisionUnknown
	if !it.published.IsZero() {
		date = it.published.UTC().Format("2006-01-02")
		prec = edusentry.PrecisionDay
	}
	var urls []string
	if it.link != "" {
		urls = []string{it.link}
	}
	inc := &edusentry.Incident{
		ID:               edusentry.NewIncidentID(name, it.title, "", date, it.link),
		Victim:           it.title,
		VictimNormalized: normalize.Institution(it.title),
		IncidentDate:     date,
		DatePrecision:    prec,
		SourcePublished:  it.published,
		Title:            it.title,
		Subtitle:         it.summary,
		URLs:             urls,
		Status:           edusentry.StatusSuspected,
		Confidence:       edusentry.ConfidenceLow,
	}
	return &edusentry.SourceRecord{
		Source:        name,
		SourceEventID: it.guid,
		Incident:      inc,
	}
}
