package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/edusentry/edusentry"
)

var (
	upsertArticleCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edusentry",
			Subsystem: "datastore",
			Name:      "upsertarticle_total",
			Help:      "Total number of database queries issued in the UpsertArticle method.",
		},
		[]string{"query"},
	)
	upsertArticleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "edusentry",
			Subsystem: "datastore",
			Name:      "upsertarticle_duration_seconds",
			Help:      "The duration of all queries issued in the UpsertArticle method.",
		},
		[]string{"query"},
	)
)

const upsertArticleQuery = `
INSERT INTO articles (
	incident_id, url, title, body, author, published, fetch_successful,
	error, content_length, fetched_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (incident_id, url) DO UPDATE
SET title = excluded.title,
	body = excluded.body,
	author = excluded.author,
	published = excluded.published,
	fetch_successful = excluded.fetch_successful,
	error = excluded.error,
	content_length = excluded.content_length,
	fetched_at = excluded.fetched_at;`

const articlesForIncidentQuery = `
SELECT incident_id, url, title, body, author, published, fetch_successful,
	error, content_length, fetched_at, url_score, url_score_reason,
	is_primary
FROM articles WHERE incident_id = ? ORDER BY fetched_at, url;`

// UpsertArticle writes a fetch result keyed by (incident, URL). Re-fetching
// replaces the content fields and leaves scores and the primary mark alone.
func (s *Store) UpsertArticle(ctx context.Context, a *edusentry.Article) error {
	start := time.Now()
	_, err := s.db.ExecContext(ctx, upsertArticleQuery,
		a.IncidentID, a.URL, a.Title, a.Body, a.Author,
		encodeTime(a.Published), a.FetchSuccessful, a.Error, a.ContentLength,
		encodeTime(a.FetchedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert article %s/%s: %w", a.IncidentID, a.URL, err)
	}
	upsertArticleCounter.WithLabelValues("upsert").Add(1)
	upsertArticleDuration.WithLabelValues("upsert").Observe(time.Since(start).Seconds())
	return nil
}

// ArticlesForIncident returns the incident's cached articles.
func (s *Store) ArticlesForIncident(ctx context.Context, incidentID string) ([]*edusentry.Article, error) {
	rows, err := s.db.QueryContext(ctx, articlesForIncidentQuery, incidentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query articles for %s: %w", incidentID, err)
	}
	defer rows.Close()
	var out []*edusentry.Article
	for rows.Next() {
		var (
			a         edusentry.Article
			published string
			fetched   string
			score     sql.NullFloat64
		)
		if err := rows.Scan(&a.IncidentID, &a.URL, &a.Title, &a.Body,
			&a.Author, &published, &a.FetchSuccessful, &a.Error,
			&a.ContentLength, &fetched, &score, &a.URLScoreReason,
			&a.IsPrimary); err != nil {
			return nil, err
		}
		if a.Published, err = decodeTime(published); err != nil {
			return nil, err
		}
		if a.FetchedAt, err = decodeTime(fetched); err != nil {
			return nil, err
		}
		if score.Valid {
			v := score.Float64
			a.URLScore = &v
		}
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// PurgeNonPrimary deletes the incident's non-primary articles, returning how
// many went.
func (s *Store) PurgeNonPrimary(ctx context.Context, incidentID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM articles WHERE incident_id = ? AND is_primary = 0;`, incidentID)
	if err != nil {
		return 0, fmt.Errorf("failed to purge articles for %s: %w", incidentID, err)
	}
	return res.RowsAffected()
}
