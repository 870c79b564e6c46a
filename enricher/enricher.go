// Package enricher defines the extraction schema the enrichment pipeline
// consumes and the contract an extraction backend implements. The llm
// subpackage provides the implementation.
package enricher

import (
	"context"
	"errors"

	"github.com/edusentry/edusentry"
)

// Sentinel failure kinds an Extractor may return, discriminated with
// [errors.Is].
var (
	// ErrExtractionFailed means the backend's response never validated
	// within the retry budget. The incident is left untouched so a future
	// run may retry.
	ErrExtractionFailed = errors.New("enricher: extraction failed")
	// ErrRateLimited means the backend refused for quota reasons. The
	// consumer halts the run on it.
	ErrRateLimited = errors.New("enricher: rate limited")
)

// Extractor produces a structured Result from an incident and its fetched
// articles.
//
// Implementations retry transient failures internally; the errors they
// return are final for this run. A returned Result with IsEducationRelated
// false is not an error: the consumer marks the incident skipped with the
// result's reason.
type Extractor interface {
	Name() string
	Extract(ctx context.Context, inc *edusentry.Incident, articles []*edusentry.Article) (*Result, error)
}
