// Package datastore defines the persistence contracts the pipeline is built
// against. The sqlite subpackage provides the implementation.
package datastore

import (
	"context"
	"errors"
	"time"

	"github.com/edusentry/edusentry"
)

// ErrNotFound is reported when a referenced row does not exist.
var ErrNotFound = errors.New("datastore: not found")

// SaveOutcome reports what SaveEnrichment did with a result.
type SaveOutcome uint

const (
	// SaveAccepted means the new enrichment replaced whatever was stored.
	SaveAccepted SaveOutcome = iota
	// SaveSkippedLowerConfidence means a stored enrichment with equal or
	// greater extraction confidence was kept and re-marked live.
	SaveSkippedLowerConfidence
)

// Score is an extraction's judgement of one article URL.
type Score struct {
	Value  float64
	Reason string
}

// EnrichmentSave is everything the enrichment consumer persists for one
// incident. The store applies it in a single transaction: the upgrade check,
// the block write, the primary-article election, and the per-article scores
// all commit or roll back together.
type EnrichmentSave struct {
	Enrichment *edusentry.Enrichment
	// PrimaryURL is the article the extraction elected. It must be one of
	// the incident's stored article URLs.
	PrimaryURL string
	// Scores maps article URLs to the extraction's scores.
	Scores map[string]Score
	// PurgeNonPrimary removes the incident's non-primary articles once the
	// save is accepted.
	PurgeNonPrimary bool
}

// IncidentStore is the incident-row surface used by ingestion and
// deduplication.
type IncidentStore interface {
	// InsertIncident creates a new incident row.
	InsertIncident(ctx context.Context, inc *edusentry.Incident) error
	// UpdateIncident rewrites an incident's attributes and URL sets.
	//
	// KeepEnrichment true leaves the stored enrichment block untouched and
	// writes only the live flag from inc; false clears the block entirely.
	// Merge write-backs always pass true so a reset never destroys the
	// block it may later restore.
	UpdateIncident(ctx context.Context, inc *edusentry.Incident, keepEnrichment bool) error
	// GetIncident loads one incident, or ErrNotFound.
	GetIncident(ctx context.Context, id string) (*edusentry.Incident, error)
	// IncidentsByURLs returns incidents whose URL set shares at least one
	// member with urls, compared in normalized form.
	IncidentsByURLs(ctx context.Context, urls []string) ([]*edusentry.Incident, error)
	// Unenriched returns up to limit incidents that are candidates for
	// enrichment: not enriched, not skipped, and holding at least one URL.
	// Rows come back in random order.
	Unenriched(ctx context.Context, limit int) ([]*edusentry.Incident, error)
	// Enriched returns all incidents carrying a live enrichment.
	Enriched(ctx context.Context) ([]*edusentry.Incident, error)
	// DeleteIncidents removes the named incidents; attributions, events,
	// and articles cascade. Returns the number of incident rows deleted.
	DeleteIncidents(ctx context.Context, ids ...string) (int64, error)
	// AddBrokenURL records that an incident URL failed to yield content.
	AddBrokenURL(ctx context.Context, id, url string) error
}

// EnrichmentStore is the surface the enrichment consumer writes through.
type EnrichmentStore interface {
	// SaveEnrichment applies an extraction result under the upgrade rule:
	// if the stored block's confidence is greater than or equal to the new
	// one, the stored block is kept and re-marked live.
	SaveEnrichment(ctx context.Context, id string, save *EnrichmentSave) (SaveOutcome, error)
	// MarkSkipped records that extraction declined this incident, with the
	// reason. Skipped incidents are not selected again.
	MarkSkipped(ctx context.Context, id, reason string) error
}

// AttributionStore records which sources claim an incident. Append-only.
type AttributionStore interface {
	AppendAttribution(ctx context.Context, a edusentry.Attribution) error
	GetAttributions(ctx context.Context, incidentID string) ([]edusentry.Attribution, error)
}

// EventStore is the per-source idempotence ledger.
type EventStore interface {
	// SeenEvent reports whether (source, eventKey) was ingested before.
	SeenEvent(ctx context.Context, source, eventKey string) (bool, error)
	// RecordEvent maps (source, eventKey) to the incident it resolved to.
	RecordEvent(ctx context.Context, source, eventKey, incidentID string) error
}

// CheckpointStore holds per-source publication checkpoints.
type CheckpointStore interface {
	// Checkpoint returns the stored checkpoint, or the zero time if the
	// source has none yet.
	Checkpoint(ctx context.Context, source string) (time.Time, error)
	SetCheckpoint(ctx context.Context, source string, ts time.Time) error
}

// ArticleStore is the article cache written by the fetcher and scored by the
// extraction stage.
type ArticleStore interface {
	// UpsertArticle writes a fetched article keyed by (incident, URL),
	// replacing any previous fetch of the same URL. Score fields are
	// preserved on replace.
	UpsertArticle(ctx context.Context, a *edusentry.Article) error
	ArticlesForIncident(ctx context.Context, incidentID string) ([]*edusentry.Article, error)
	// PurgeNonPrimary deletes the incident's non-primary articles.
	PurgeNonPrimary(ctx context.Context, incidentID string) (int64, error)
}

// Store is the full persistence surface.
type Store interface {
	IncidentStore
	EnrichmentStore
	AttributionStore
	EventStore
	CheckpointStore
	ArticleStore

	// Initialized reports whether the schema is present.
	Initialized(ctx context.Context) (bool, error)
	Close() error
}

// Open returns a fresh store handle. The enrichment pipeline uses it to give
// the consumer a handle of its own; handles never cross tasks.
type Open func(ctx context.Context) (Store, error)
