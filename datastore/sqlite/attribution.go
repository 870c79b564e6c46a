package sqlite

import (
	"context"
	"fmt"

	"github.com/edusentry/edusentry"
)

const appendAttributionQuery = `
INSERT INTO incident_sources (incident_id, source, source_event_id, first_seen_at, confidence)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (incident_id, source, source_event_id) DO NOTHING;`

const getAttributionsQuery = `
SELECT incident_id, source, source_event_id, first_seen_at, confidence
FROM incident_sources WHERE incident_id = ? ORDER BY first_seen_at, source;`

// AppendAttribution records a source's claim on an incident. Repeating the
// same claim is a no-op; attributions are never updated in place.
func (s *Store) AppendAttribution(ctx context.Context, a edusentry.Attribution) error {
	_, err := s.db.ExecContext(ctx, appendAttributionQuery,
		a.IncidentID, a.Source, a.SourceEventID, encodeTime(a.FirstSeen), a.Confidence)
	if err != nil {
		return fmt.Errorf("failed to append attribution %s/%s: %w", a.IncidentID, a.Source, err)
	}
	return nil
}

// GetAttributions returns every source claim on the incident.
func (s *Store) GetAttributions(ctx context.Context, incidentID string) ([]edusentry.Attribution, error) {
	rows, err := s.db.QueryContext(ctx, getAttributionsQuery, incidentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query attributions for %s: %w", incidentID, err)
	}
	defer rows.Close()
	var out []edusentry.Attribution
	for rows.Next() {
		var (
			a         edusentry.Attribution
			firstSeen string
		)
		if err := rows.Scan(&a.IncidentID, &a.Source, &a.SourceEventID, &firstSeen, &a.Confidence); err != nil {
			return nil, err
		}
		if a.FirstSeen, err = decodeTime(firstSeen); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
