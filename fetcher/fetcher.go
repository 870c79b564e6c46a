// Package fetcher retrieves article URLs and extracts readable content from
// them. Fetch failures are values, never panics: callers get an
// ArticleContent with Success false and the reason in Error.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/quay/zlog"

	"github.com/edusentry/edusentry"
	"github.com/edusentry/edusentry/internal/httputil"
)

// MinBodyLength is the least non-whitespace characters a page must yield to
// count as a successful fetch.
const MinBodyLength = 50

// Browser-like so sites that gate on User-Agent serve the article.
const defaultUserAgent = `Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36`

const defaultTimeout = 20 * time.Second

// maxBodyBytes bounds how much of a response is read.
const maxBodyBytes = 4 << 20

// Fetcher retrieves and extracts articles over a shared http.Client.
type Fetcher struct {
	c         *http.Client
	userAgent string
	timeout   time.Duration
}

// Option adjusts a Fetcher.
type Option func(*Fetcher)

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) { f.userAgent = ua }
}

// WithTimeout overrides the default 20 second per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) { f.timeout = d }
}

// New returns a Fetcher over c. A nil client uses http.DefaultClient, which
// follows redirects.
func New(c *http.Client, opts ...Option) *Fetcher {
	if c == nil {
		c = http.DefaultClient
	}
	f := &Fetcher{
		c:         c,
		userAgent: defaultUserAgent,
		timeout:   defaultTimeout,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Fetch GETs url and extracts the readable article from the response.
//
// The returned content always has URL set; on any failure Success is false
// and Error says why. A *httputil.StatusError in the failure chain is
// surfaced through StatusCode so callers can react to 403s.
func (f *Fetcher) Fetch(ctx context.Context, url string) *edusentry.ArticleContent {
	ctx = zlog.ContextWithValues(ctx, "component", "fetcher/Fetcher.Fetch")
	out := edusentry.ArticleContent{URL: url}
	body, err := f.get(ctx, url)
	if err != nil {
		out.Error = err.Error()
		var se *httputil.StatusError
		if errors.As(err, &se) {
			out.StatusCode = se.Code
		}
		zlog.Debug(ctx).
			Str("url", url).
			Err(err).
			Msg("fetch failed")
		return &out
	}

	doc, err := extract(body)
	if err != nil {
		out.Error = fmt.Sprintf("failed to parse page: %v", err)
		return &out
	}
	out.Title = doc.title
	out.Body = doc.body
	out.Author = doc.author
	out.Published = doc.published
	if nonWhitespace(doc.body) < MinBodyLength {
		out.Error = "no usable article body"
		return &out
	}
	out.Success = true
	zlog.Debug(ctx).
		Str("url", url).
		Int("bytes", len(doc.body)).
		Msg("fetched article")
	return &out
}

func (f *Fetcher) get(ctx context.Context, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to construct request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	res, err := f.c.Do(req)
	if err != nil {
		return "", &edusentry.Error{Op: "fetcher/get", Kind: edusentry.ErrFetch, Inner: err}
	}
	defer res.Body.Close()
	if err := httputil.CheckResponse(res, http.StatusOK); err != nil {
		return "", &edusentry.Error{Op: "fetcher/get", Kind: edusentry.ErrFetch, Inner: err}
	}
	b, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	return string(b), nil
}

// Bind turns a fetch result into the article row stored for an incident.
func Bind(incidentID string, c *edusentry.ArticleContent) *edusentry.Article {
	return &edusentry.Article{
		IncidentID:      incidentID,
		URL:             c.URL,
		Title:           c.Title,
		Body:            c.Body,
		Author:          c.Author,
		Published:       c.Published,
		FetchSuccessful: c.Success,
		Error:           c.Error,
		ContentLength:   len(c.Body),
		FetchedAt:       time.Now().UTC(),
	}
}

func nonWhitespace(s string) int {
	n := 0
	for _, r := range s {
		if !strings.ContainsRune(" \t\r\n\v\f", r) {
			n++
		}
	}
	return n
}
