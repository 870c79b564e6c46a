package sqlite

import (
	"context"
	"fmt"
	"time"
)

// SeenEvent reports whether (source, eventKey) has been ingested before.
func (s *Store) SeenEvent(ctx context.Context, source, eventKey string) (bool, error) {
	const query = `SELECT COUNT(*) FROM source_events WHERE source = ? AND source_event_id = ?;`
	var n int
	if err := s.db.QueryRowContext(ctx, query, source, eventKey).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to check event %s/%s: %w", source, eventKey, err)
	}
	return n > 0, nil
}

// RecordEvent maps (source, eventKey) to the incident it resolved to. The
// ledger is insert-only; re-recording an existing key is a no-op.
func (s *Store) RecordEvent(ctx context.Context, source, eventKey, incidentID string) error {
	const query = `
INSERT INTO source_events (source, source_event_id, incident_id, first_seen_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (source, source_event_id) DO NOTHING;`
	_, err := s.db.ExecContext(ctx, query, source, eventKey, incidentID, encodeTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to record event %s/%s: %w", source, eventKey, err)
	}
	return nil
}
