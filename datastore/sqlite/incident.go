package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/quay/zlog"

	"github.com/edusentry/edusentry"
	"github.com/edusentry/edusentry/datastore"
	"github.com/edusentry/edusentry/normalize"
)

var (
	insertIncidentCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edusentry",
			Subsystem: "datastore",
			Name:      "insertincident_total",
			Help:      "Total number of database queries issued in the InsertIncident method.",
		},
		[]string{"query"},
	)
	insertIncidentDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "edusentry",
			Subsystem: "datastore",
			Name:      "insertincident_duration_seconds",
			Help:      "The duration of all queries issued in the InsertIncident method.",
		},
		[]string{"query"},
	)
	updateIncidentCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edusentry",
			Subsystem: "datastore",
			Name:      "updateincident_total",
			Help:      "Total number of database queries issued in the UpdateIncident method.",
		},
		[]string{"query"},
	)
	updateIncidentDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "edusentry",
			Subsystem: "datastore",
			Name:      "updateincident_duration_seconds",
			Help:      "The duration of all queries issued in the UpdateIncident method.",
		},
		[]string{"query"},
	)
	incidentsByURLsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edusentry",
			Subsystem: "datastore",
			Name:      "incidentsbyurls_total",
			Help:      "Total number of database queries issued in the IncidentsByURLs method.",
		},
		[]string{"query"},
	)
	incidentsByURLsDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "edusentry",
			Subsystem: "datastore",
			Name:      "incidentsbyurls_duration_seconds",
			Help:      "The duration of all queries issued in the IncidentsByURLs method.",
		},
		[]string{"query"},
	)
)

const incidentColumns = `id, victim, victim_normalized, institution_type, country, region, city, incident_date, date_precision, source_published, title, subtitle, primary_url, urls, urls_normalized, broken_urls, attack_type, status, confidence, notes, enriched, enriched_at, summary, timeline, techniques, attack_dynamics, extraction_confidence, enrichment_skipped, skip_reason, last_updated_at`

const insertIncidentQuery = `
INSERT INTO incidents (
	id, victim, victim_normalized, institution_type, country, region, city,
	incident_date, date_precision, source_published, title, subtitle,
	primary_url, urls, urls_normalized, broken_urls, attack_type, status,
	confidence, notes, enriched, enriched_at, summary, timeline, techniques,
	attack_dynamics, extraction_confidence, enrichment_skipped, skip_reason,
	last_updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`

const updateIncidentKeepQuery = `
UPDATE incidents
SET victim = ?, victim_normalized = ?, institution_type = ?, country = ?,
	region = ?, city = ?, incident_date = ?, date_precision = ?,
	source_published = ?, title = ?, subtitle = ?, primary_url = ?,
	urls = ?, urls_normalized = ?, broken_urls = ?, attack_type = ?,
	status = ?, confidence = ?, notes = ?, enriched = ?, last_updated_at = ?
WHERE id = ?;`

const updateIncidentClearQuery = `
UPDATE incidents
SET victim = ?, victim_normalized = ?, institution_type = ?, country = ?,
	region = ?, city = ?, incident_date = ?, date_precision = ?,
	source_published = ?, title = ?, subtitle = ?, primary_url = ?,
	urls = ?, urls_normalized = ?, broken_urls = ?, attack_type = ?,
	status = ?, confidence = ?, notes = ?, enriched = ?, enriched_at = ?,
	summary = ?, timeline = ?, techniques = ?, attack_dynamics = ?,
	extraction_confidence = ?, enrichment_skipped = ?, skip_reason = ?,
	last_updated_at = ?
WHERE id = ?;`

var (
	getIncidentQuery = `SELECT ` + incidentColumns + ` FROM incidents WHERE id = ?;`

	unenrichedQuery = `SELECT ` + incidentColumns + ` FROM incidents
WHERE enriched = 0 AND enrichment_skipped = 0 AND json_array_length(urls) > 0
ORDER BY RANDOM() LIMIT ?;`

	enrichedQuery = `SELECT ` + incidentColumns + ` FROM incidents WHERE enriched = 1;`
)

// InsertIncident creates a new incident row, enrichment block included if
// the incident carries one.
func (s *Store) InsertIncident(ctx context.Context, inc *edusentry.Incident) error {
	start := time.Now()
	args, err := incidentArgs(inc)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, insertIncidentQuery, args...); err != nil {
		return fmt.Errorf("failed to insert incident %s: %w", inc.ID, err)
	}
	insertIncidentCounter.WithLabelValues("insert").Add(1)
	insertIncidentDuration.WithLabelValues("insert").Observe(time.Since(start).Seconds())
	return nil
}

// UpdateIncident rewrites an incident's attributes and URL sets.
//
// KeepEnrichment true touches only the live flag of the enrichment block;
// false rewrites the whole block from inc.
func (s *Store) UpdateIncident(ctx context.Context, inc *edusentry.Incident, keepEnrichment bool) error {
	start := time.Now()
	urls, urlsNorm, broken, err := urlArgs(inc)
	if err != nil {
		return err
	}
	shared := []interface{}{
		inc.Victim, inc.VictimNormalized, inc.InstitutionType, inc.Country,
		inc.Region, inc.City, inc.IncidentDate, inc.DatePrecision,
		encodeTime(inc.SourcePublished), inc.Title, inc.Subtitle,
		inc.PrimaryURL, urls, urlsNorm, broken, inc.AttackType, inc.Status,
		inc.Confidence, inc.Notes, inc.Enriched(),
	}
	var (
		query string
		args  []interface{}
	)
	if keepEnrichment {
		query = updateIncidentKeepQuery
		args = append(shared, encodeTime(time.Now()), inc.ID)
	} else {
		query = updateIncidentClearQuery
		e, err := enrichmentArgs(inc.Enrichment)
		if err != nil {
			return err
		}
		args = append(shared, e.enrichedAt, e.summary, e.timeline,
			e.techniques, e.dynamics, e.confidence, e.skipped, e.skipReason,
			encodeTime(time.Now()), inc.ID)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update incident %s: %w", inc.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("incident %s: %w", inc.ID, datastore.ErrNotFound)
	}
	updateIncidentCounter.WithLabelValues("update").Add(1)
	updateIncidentDuration.WithLabelValues("update").Observe(time.Since(start).Seconds())
	return nil
}

// GetIncident loads one incident by id.
func (s *Store) GetIncident(ctx context.Context, id string) (*edusentry.Incident, error) {
	row := s.db.QueryRowContext(ctx, getIncidentQuery, id)
	inc, err := scanIncident(row)
	switch {
	case err == nil:
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("incident %s: %w", id, datastore.ErrNotFound)
	default:
		return nil, fmt.Errorf("failed to get incident %s: %w", id, err)
	}
	return inc, nil
}

// IncidentsByURLs returns incidents sharing at least one URL with the passed
// set, compared under normalization.
func (s *Store) IncidentsByURLs(ctx context.Context, urls []string) ([]*edusentry.Incident, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "datastore/sqlite/Store.IncidentsByURLs")
	start := time.Now()
	norm := make([]string, 0, len(urls))
	for _, u := range urls {
		if n := normalize.URL(u); n != "" {
			norm = append(norm, n)
		}
	}
	if len(norm) == 0 {
		return nil, nil
	}
	query, args, err := dialect.
		From(goqu.T("incidents").As("i"), goqu.L("json_each(i.urls_normalized) AS j")).
		SelectDistinct(goqu.I("i.id")).
		Where(goqu.Ex{"j.value": norm}).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build url match query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query incidents by url: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]*edusentry.Incident, 0, len(ids))
	for _, id := range ids {
		inc, err := s.GetIncident(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, inc)
	}
	zlog.Debug(ctx).
		Int("urls", len(norm)).
		Int("matches", len(out)).
		Msg("url match complete")
	incidentsByURLsCounter.WithLabelValues("query").Add(1)
	incidentsByURLsDuration.WithLabelValues("query").Observe(time.Since(start).Seconds())
	return out, nil
}

// Unenriched returns up to limit enrichment candidates in random order.
func (s *Store) Unenriched(ctx context.Context, limit int) ([]*edusentry.Incident, error) {
	rows, err := s.db.QueryContext(ctx, unenrichedQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query unenriched incidents: %w", err)
	}
	return collectIncidents(rows)
}

// Enriched returns every incident carrying a live enrichment.
func (s *Store) Enriched(ctx context.Context) ([]*edusentry.Incident, error) {
	rows, err := s.db.QueryContext(ctx, enrichedQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query enriched incidents: %w", err)
	}
	return collectIncidents(rows)
}

// DeleteIncidents removes the named incidents. Attributions, events, and
// articles go with them via the schema's cascades.
func (s *Store) DeleteIncidents(ctx context.Context, ids ...string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query, args, err := dialect.
		Delete("incidents").
		Where(goqu.Ex{"id": ids}).
		Prepared(true).
		ToSQL()
	if err != nil {
		return 0, fmt.Errorf("failed to build delete query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete incidents: %w", err)
	}
	return res.RowsAffected()
}

// AddBrokenURL appends url to the incident's broken set, once.
func (s *Store) AddBrokenURL(ctx context.Context, id, url string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	var raw string
	err = tx.QueryRowContext(ctx, `SELECT broken_urls FROM incidents WHERE id = ?;`, id).Scan(&raw)
	switch {
	case err == nil:
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("incident %s: %w", id, datastore.ErrNotFound)
	default:
		return err
	}
	broken, err := decodeStrings(raw)
	if err != nil {
		return err
	}
	for _, have := range broken {
		if have == url {
			return tx.Commit()
		}
	}
	enc, err := encodeStrings(append(broken, url))
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE incidents SET broken_urls = ?, last_updated_at = ? WHERE id = ?;`,
		enc, encodeTime(time.Now()), id); err != nil {
		return err
	}
	return tx.Commit()
}

type enrichmentCols struct {
	enriched   bool
	enrichedAt string
	summary    string
	timeline   string
	techniques string
	dynamics   string
	confidence float64
	skipped    bool
	skipReason string
}

func enrichmentArgs(e *edusentry.Enrichment) (enrichmentCols, error) {
	c := enrichmentCols{timeline: `[]`, techniques: `[]`}
	if e == nil {
		return c, nil
	}
	c.enriched = e.Enriched
	c.enrichedAt = encodeTime(e.EnrichedAt)
	c.summary = e.Summary
	c.confidence = e.Confidence
	c.skipped = e.Skipped
	c.skipReason = e.SkipReason
	if len(e.Timeline) != 0 {
		b, err := json.Marshal(e.Timeline)
		if err != nil {
			return c, err
		}
		c.timeline = string(b)
	}
	var err error
	if c.techniques, err = encodeStrings(e.Techniques); err != nil {
		return c, err
	}
	c.dynamics = string(e.Dynamics)
	return c, nil
}

func urlArgs(inc *edusentry.Incident) (urls, urlsNorm, broken string, err error) {
	if urls, err = encodeStrings(inc.URLs); err != nil {
		return
	}
	norm := make([]string, len(inc.URLs))
	for i, u := range inc.URLs {
		norm[i] = normalize.URL(u)
	}
	if urlsNorm, err = encodeStrings(norm); err != nil {
		return
	}
	broken, err = encodeStrings(inc.BrokenURLs)
	return
}

func incidentArgs(inc *edusentry.Incident) ([]interface{}, error) {
	urls, urlsNorm, broken, err := urlArgs(inc)
	if err != nil {
		return nil, err
	}
	e, err := enrichmentArgs(inc.Enrichment)
	if err != nil {
		return nil, err
	}
	return []interface{}{
		inc.ID, inc.Victim, inc.VictimNormalized, inc.InstitutionType,
		inc.Country, inc.Region, inc.City, inc.IncidentDate,
		inc.DatePrecision, encodeTime(inc.SourcePublished), inc.Title,
		inc.Subtitle, inc.PrimaryURL, urls, urlsNorm, broken, inc.AttackType,
		inc.Status, inc.Confidence, inc.Notes, e.enriched, e.enrichedAt,
		e.summary, e.timeline, e.techniques, e.dynamics, e.confidence,
		e.skipped, e.skipReason, encodeTime(time.Now()),
	}, nil
}

func scanIncident(row interface{ Scan(...interface{}) error }) (*edusentry.Incident, error) {
	var (
		inc        edusentry.Incident
		published  string
		urls       string
		urlsNorm   string
		broken     string
		enriched   bool
		enrichedAt string
		summary    string
		timeline   string
		techniques string
		dynamics   string
		extraction float64
		skipped    bool
		skipReason string
		updated    string
	)
	err := row.Scan(
		&inc.ID, &inc.Victim, &inc.VictimNormalized, &inc.InstitutionType,
		&inc.Country, &inc.Region, &inc.City, &inc.IncidentDate,
		&inc.DatePrecision, &published, &inc.Title, &inc.Subtitle,
		&inc.PrimaryURL, &urls, &urlsNorm, &broken, &inc.AttackType,
		&inc.Status, &inc.Confidence, &inc.Notes, &enriched, &enrichedAt,
		&summary, &timeline, &techniques, &dynamics, &extraction, &skipped,
		&skipReason, &updated,
	)
	if err != nil {
		return nil, err
	}
	if inc.SourcePublished, err = decodeTime(published); err != nil {
		return nil, err
	}
	if inc.LastUpdated, err = decodeTime(updated); err != nil {
		return nil, err
	}
	if inc.URLs, err = decodeStrings(urls); err != nil {
		return nil, err
	}
	if inc.BrokenURLs, err = decodeStrings(broken); err != nil {
		return nil, err
	}
	if enriched || enrichedAt != "" || skipped {
		e := edusentry.Enrichment{
			Enriched:   enriched,
			Summary:    summary,
			Confidence: extraction,
			Skipped:    skipped,
			SkipReason: skipReason,
		}
		if e.EnrichedAt, err = decodeTime(enrichedAt); err != nil {
			return nil, err
		}
		if timeline != "" && timeline != `[]` {
			if err := json.Unmarshal([]byte(timeline), &e.Timeline); err != nil {
				return nil, err
			}
		}
		if e.Techniques, err = decodeStrings(techniques); err != nil {
			return nil, err
		}
		if dynamics != "" {
			e.Dynamics = json.RawMessage(dynamics)
		}
		inc.Enrichment = &e
	}
	return &inc, nil
}

func collectIncidents(rows *sql.Rows) ([]*edusentry.Incident, error) {
	defer rows.Close()
	var out []*edusentry.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
