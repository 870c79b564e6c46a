// Package news scrapes a paginated HTML news index: each listing entry is an
// <article> element holding a headline link and, usually, a <time> element.
//
// Like the rss adapter it emits unvetted headlines behind an education
// keyword filter, at low confidence.
package news

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/quay/zlog"
	"golang.org/x/net/html"

	"github.com/edusentry/edusentry"
	"github.com/edusentry/edusentry/internal/httputil"
	"github.com/edusentry/edusentry/libingest/driver"
	"github.com/edusentry/edusentry/normalize"
)

const name = `edunews`

// defaultMaxPages bounds the index walk when the caller sets no limit.
const defaultMaxPages = 3

const maxPageBytes = 4 << 20

var educationKeywords = []string{
	"university", "college", "school", "district", "campus",
	"education", "student", "academy",
}

var (
	_ driver.Adapter      = (*Adapter)(nil)
	_ driver.Configurable = (*Adapter)(nil)
	_ driver.Checkpointed = (*Adapter)(nil)
)

// Adapter walks one news index.
type Adapter struct {
	c          *http.Client
	index      string
	keywords   []string
	checkpoint time.Time
}

// Config is the adapter's runtime configuration.
type Config struct {
	// Index is the listing's first-page URL. Later pages are reached by
	// appending a "page" query parameter.
	Index string `json:"index" yaml:"index"`
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
func (*Adapter) Group() driver.Group { return driver.GroupNews }

// Configure implements driver.Configurable.
func (a *Adapter) Configure(_ context.Context, f driver.ConfigUnmarshaler, c *http.Client) error {
	var cfg Config
	if err := f(&cfg); err != nil {
		return err
	}
	if cfg.Index != "" {
		a.index = cfg.Index
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

// listing is one index entry.
type listing struct {
	title     string
	link      string
	published time.Time
}

// Fetch implements driver.Adapter. Pages are chunks: each page's records
// reach the sink before the next page is requested, and a page failure after
// the first page keeps what earlier pages yielded.
func (a *Adapter) Fetch(ctx context.Context, opts *driver.Options) ([]*edusentry.SourceRecord, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "sources/news/Adapter.Fetch")
	if a.index == "" {
		return nil, fmt.Errorf("news: no index configured")
	}
	base, err := url.Parse(a.index)
	if err != nil {
		return nil, fmt.Errorf("news: bad index url: %w", err)
	}
	maxPages := defaultMaxPages
	if opts != nil && opts.MaxPages > 0 {
		maxPages = opts.MaxPages
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
	for page := 1; page <= maxPages; page++ {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		listings, err := a.getPage(ctx, base, page)
		if err != nil {
			if page == 1 {
				return nil, err
			}
			zlog.Warn(ctx).
				Err(err).
				Int("page", page).
				Msg("page failed, keeping earlier pages")
			return out, nil
		}
		if len(listings) == 0 {
			// Walked off the end of the index.
			break
		}
		var recs []*edusentry.SourceRecord
		for _, l := range listings {
			if !l.published.IsZero() && !l.published.After(since) {
				continue
			}
			if !cutoff.IsZero() && !l.published.IsZero() && l.published.Before(cutoff) {
				continue
			}
			if !a.related(l.title) {
				continue
			}
			recs = append(recs, record(l))
			if l.published.After(a.checkpoint) {
				a.checkpoint = l.published
			}
		}
		rest, err := driver.EmitBatches(ctx, opts, recs)
		if err != nil {
			return nil, err
		}
		out = append(out, rest...)
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

func (a *Adapter) getPage(ctx context.Context, base *url.URL, page int) ([]listing, error) {
	u := *base
	if page > 1 {
		q := u.Query()
		q.Set("page", fmt.Sprint(page))
		u.RawQuery = q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to construct request: %w", err)
	}
	req.Header.Set("Accept", "text/html")
	res, err := a.c.Do(req)
	if err != nil {
		return nil, &edusentry.Error{Op: "news/fetch", Kind: edusentry.ErrFetch, Inner: err}
	}
	defer res.Body.Close()
	if err := httputil.CheckResponse(res, http.StatusOK); err != nil {
		return nil, &edusentry.Error{Op: "news/fetch", Kind: edusentry.ErrFetch, Inner: err}
	}
	doc, err := html.Parse(io.LimitReader(res.Body, maxPageBytes))
	if err != nil {
		return nil, &edusentry.Error{Op: "news/fetch", Kind: edusentry.ErrParse, Inner: err}
	}
	return parseListings(doc, base), nil
}

// parseListings walks the document for <article> elements and reduces each
// to its headline link and timestamp.
func parseListings(doc *html.Node, base *url.URL) []listing {
	var out []listing
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "article" {
			if l, ok := parseArticle(n, base); ok {
				out = append(out, l)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return out
}

func parseArticle(n *html.Node, base *url.URL) (listing, bool) {
	var l listing
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "a":
				if l.link == "" {
					if href := attr(n, "href"); href != "" {
						l.link = resolve(base, href)
						l.title = strings.TrimSpace(text(n))
					}
				}
			case "time":
				if l.published.IsZero() {
					if dt := attr(n, "datetime"); dt != "" {
						for _, layout := range []string{time.RFC3339, "2006-01-02"} {
							if t, err := time.Parse(layout, dt); err == nil {
								l.published = t
								break
							}
						}
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return l, l.link != "" && l.title != ""
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func text(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func resolve(base *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

func record(l listing) *edusentry.SourceRecord {
	date := ""
	prec := edusentry.PrecisionUnknown
	if !l.published.IsZero() {
		date = l.published.UTC().Format("2006-01-02")
		prec = edusentry.PrecisionDay
	}
	inc := &edusentry.Incident{
		ID:               edusentry.NewIncidentID(name, l.title, "", date, l.link),
		Victim:           l.title,
		VictimNormalized: normalize.Institution(l.title),
		IncidentDate:     date,
		DatePrecision:    prec,
		SourcePublished:  l.published,
		Title:            l.title,
		URLs:             []string{l.link},
		Status:           edusentry.StatusSuspected,
		Confidence:       edusentry.ConfidenceLow,
	}
	return &edusentry.SourceRecord{
		Source:        name,
		SourceEventID: l.link,
		Incident:      inc,
	}
}
