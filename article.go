package edusentry

import (
	"time"
)

// Article is the cached result of fetching one of an incident's URLs.
//
// Rows are keyed by (IncidentID, URL) and written idempotently by the
// fetcher. URLScore, URLScoreReason, and IsPrimary stay unset until the
// extraction stage populates them.
type Article struct {
	IncidentID string `json:"incident_id"`
	URL        string `json:"url"`
	Title      string `json:"title"`
	// Body is the readable text extracted from the page.
	Body      string    `json:"body"`
	Author    string    `json:"author"`
	Published time.Time `json:"published"`
	// FetchSuccessful is false when the GET failed or the page yielded no
	// usable body. Error holds the reason.
	FetchSuccessful bool   `json:"fetch_successful"`
	Error           string `json:"error,omitempty"`
	ContentLength   int    `json:"content_length"`
	FetchedAt       time.Time `json:"fetched_at"`
	// URLScore is the extraction's informativeness score in [0, 1], nil
	// until scored.
	URLScore       *float64 `json:"url_score,omitempty"`
	URLScoreReason string   `json:"url_score_reason,omitempty"`
	// IsPrimary marks the one article enrichment elected for the incident.
	// At most one row per incident carries it.
	IsPrimary bool `json:"is_primary"`
}

// ArticleContent is what the fetcher hands back for a single URL, before the
// result is bound to an incident. Failures are values: Success false plus an
// Error string, never a panic.
type ArticleContent struct {
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Author    string    `json:"author"`
	Published time.Time `json:"published"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	// StatusCode is the HTTP status of a failed fetch, when one was
	// received. Zero otherwise.
	StatusCode int `json:"status_code,omitempty"`
}
