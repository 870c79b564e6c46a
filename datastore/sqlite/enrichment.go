package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/quay/zlog"

	"github.com/edusentry/edusentry/datastore"
)

var (
	saveEnrichmentCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edusentry",
			Subsystem: "datastore",
			Name:      "saveenrichment_total",
			Help:      "Total number of database queries issued in the SaveEnrichment method.",
		},
		[]string{"query"},
	)
	saveEnrichmentDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "edusentry",
			Subsystem: "datastore",
			Name:      "saveenrichment_duration_seconds",
			Help:      "The duration of all queries issued in the SaveEnrichment method.",
		},
		[]string{"query"},
	)
)

const applyEnrichmentQuery = `
UPDATE incidents
SET enriched = 1, enriched_at = ?, summary = ?, timeline = ?, techniques = ?,
	attack_dynamics = ?, extraction_confidence = ?, enrichment_skipped = 0,
	skip_reason = '', primary_url = ?, last_updated_at = ?
WHERE id = ?;`

// SaveEnrichment applies one extraction result in a single transaction.
//
// The upgrade rule: when the row already carries an enrichment block, the
// new result wins only with strictly greater extraction confidence.
// Otherwise the stored block is kept and re-marked live, so a URL-upgrade
// reset that produced a worse extraction restores the original.
func (s *Store) SaveEnrichment(ctx context.Context, id string, save *datastore.EnrichmentSave) (datastore.SaveOutcome, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "datastore/sqlite/Store.SaveEnrichment")
	start := time.Now()
	if save == nil || save.Enrichment == nil {
		return 0, fmt.Errorf("nil enrichment for incident %s", id)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var (
		enriched   bool
		enrichedAt string
		stored     float64
		rawURLs    string
	)
	err = tx.QueryRowContext(ctx,
		`SELECT enriched, enriched_at, extraction_confidence, urls FROM incidents WHERE id = ?;`, id).
		Scan(&enriched, &enrichedAt, &stored, &rawURLs)
	switch {
	case err == nil:
	case errors.Is(err, sql.ErrNoRows):
		return 0, fmt.Errorf("incident %s: %w", id, datastore.ErrNotFound)
	default:
		return 0, err
	}

	if hasBlock := enriched || enrichedAt != ""; hasBlock && save.Enrichment.Confidence <= stored {
		if _, err := tx.ExecContext(ctx,
			`UPDATE incidents SET enriched = 1, last_updated_at = ? WHERE id = ?;`,
			encodeTime(time.Now()), id); err != nil {
			return 0, err
		}
		if err := tx.Commit(); err != nil {
			return 0, err
		}
		zlog.Debug(ctx).
			Str("incident", id).
			Float64("stored", stored).
			Float64("offered", save.Enrichment.Confidence).
			Msg("kept stored enrichment")
		return datastore.SaveSkippedLowerConfidence, nil
	}

	urls, err := decodeStrings(rawURLs)
	if err != nil {
		return 0, err
	}
	found := false
	for _, u := range urls {
		if u == save.PrimaryURL {
			found = true
			break
		}
	}
	if !found {
		return 0, fmt.Errorf("primary url %q not in incident %s url set", save.PrimaryURL, id)
	}

	e, err := enrichmentArgs(save.Enrichment)
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, applyEnrichmentQuery,
		encodeTime(save.Enrichment.EnrichedAt), e.summary, e.timeline,
		e.techniques, e.dynamics, e.confidence, save.PrimaryURL,
		encodeTime(time.Now()), id); err != nil {
		return 0, err
	}

	// Primary election and scoring happen in the same transaction so the
	// one-primary invariant can't be observed broken.
	if _, err := tx.ExecContext(ctx,
		`UPDATE articles SET is_primary = 0 WHERE incident_id = ?;`, id); err != nil {
		return 0, err
	}
	for url, sc := range save.Scores {
		if _, err := tx.ExecContext(ctx,
			`UPDATE articles SET url_score = ?, url_score_reason = ? WHERE incident_id = ? AND url = ?;`,
			sc.Value, sc.Reason, id, url); err != nil {
			return 0, err
		}
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE articles SET is_primary = 1 WHERE incident_id = ? AND url = ?;`,
		id, save.PrimaryURL); err != nil {
		return 0, err
	}
	if save.PurgeNonPrimary {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM articles WHERE incident_id = ? AND is_primary = 0;`, id); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	saveEnrichmentCounter.WithLabelValues("save").Add(1)
	saveEnrichmentDuration.WithLabelValues("save").Observe(time.Since(start).Seconds())
	return datastore.SaveAccepted, nil
}

// MarkSkipped records that extraction declined the incident.
func (s *Store) MarkSkipped(ctx context.Context, id, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE incidents SET enrichment_skipped = 1, skip_reason = ?, last_updated_at = ? WHERE id = ?;`,
		reason, encodeTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to mark incident %s skipped: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("incident %s: %w", id, datastore.ErrNotFound)
	}
	return nil
}
