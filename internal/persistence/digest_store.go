package persistence

import (
	"context"
	"database/sql"
	"fmt"
)

// LoadDigest implements DigestStore.load(): a single UTF-8 text blob per
// campaign. Returns "" on a fresh campaign with no digest yet.
func (s *Store) LoadDigest(ctx context.Context, campaignID string) (string, error) {
	var text string
	err := s.db.QueryRowContext(ctx, `SELECT text FROM digest_blobs WHERE campaign_id = ?;`, campaignID).Scan(&text)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("persistence: load digest: %w", err)
	}
	return text, nil
}

// SaveDigest implements DigestStore.save(text). source is "llm" or
// "template", recorded for observability only.
func (s *Store) SaveDigest(ctx context.Context, campaignID, text, source string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO digest_blobs (campaign_id, text, source, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(campaign_id) DO UPDATE SET text = excluded.text, source = excluded.source, updated_at = excluded.updated_at;
	`, campaignID, text, source)
	if err != nil {
		return fmt.Errorf("persistence: save digest: %w", err)
	}
	return nil
}
