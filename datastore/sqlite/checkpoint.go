package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Checkpoint returns the source's stored publication checkpoint, or the zero
// time when the source has never checkpointed.
func (s *Store) Checkpoint(ctx context.Context, source string) (time.Time, error) {
	const query = `SELECT last_pubdate FROM source_state WHERE source = ?;`
	var raw string
	err := s.db.QueryRowContext(ctx, query, source).Scan(&raw)
	switch {
	case err == nil:
	case errors.Is(err, sql.ErrNoRows):
		return time.Time{}, nil
	default:
		return time.Time{}, fmt.Errorf("failed to read checkpoint for %s: %w", source, err)
	}
	return decodeTime(raw)
}

// SetCheckpoint stores the source's publication checkpoint.
func (s *Store) SetCheckpoint(ctx context.Context, source string, ts time.Time) error {
	const query = `
INSERT INTO source_state (source, last_pubdate, updated_at)
VALUES (?, ?, ?)
ON CONFLICT (source) DO UPDATE
SET last_pubdate = excluded.last_pubdate, updated_at = excluded.updated_at;`
	_, err := s.db.ExecContext(ctx, query, source, encodeTime(ts), encodeTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to set checkpoint for %s: %w", source, err)
	}
	return nil
}
