package persistence

import (
	"context"
	"database/sql"
	"fmt"
)

// LoadSnapshot returns the raw JSON payload backing SectionSource's
// state_snapshot() text, or "" if none has been saved yet.
func (s *Store) LoadSnapshot(ctx context.Context, campaignID string) (string, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM state_snapshots WHERE campaign_id = ?;`, campaignID).Scan(&payload)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("persistence: load snapshot: %w", err)
	}
	return payload, nil
}

// SaveSnapshot replaces the stored snapshot payload wholesale; the core
// never needs partial snapshot updates.
func (s *Store) SaveSnapshot(ctx context.Context, campaignID, payloadJSON string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO state_snapshots (campaign_id, payload, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(campaign_id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at;
	`, campaignID, payloadJSON)
	if err != nil {
		return fmt.Errorf("persistence: save snapshot: %w", err)
	}
	return nil
}
