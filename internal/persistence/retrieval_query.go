package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// SearchArchiveByTag returns archived blocks whose tags contain one with the
// given prefix (e.g. "npc:", "faction:"), newest first, capped at limit.
// It backs the retrieval SectionSource's lookup over everything a
// checkpoint has swept out of the live window.
func (s *Store) SearchArchiveByTag(ctx context.Context, campaignID, tagPrefix string, limit int) ([]BlockRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT block_id, kind, role_hint, text, tags, session_generation, created_at
		FROM archive_blocks WHERE campaign_id = ?
		ORDER BY block_id DESC;
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("persistence: search archive: %w", err)
	}
	defer rows.Close()

	var out []BlockRow
	for rows.Next() {
		var row BlockRow
		var tagsJSON string
		if err := rows.Scan(&row.BlockID, &row.Kind, &row.RoleHint, &row.Text, &tagsJSON, &row.SessionGeneration, &row.CreatedAt); err != nil {
			return nil, fmt.Errorf("persistence: scan archive block: %w", err)
		}
		if tagsJSON != "" {
			if err := json.Unmarshal([]byte(tagsJSON), &row.Tags); err != nil {
				return nil, fmt.Errorf("persistence: unmarshal archive tags: %w", err)
			}
		}
		if hasTagPrefix(row.Tags, tagPrefix) {
			out = append(out, row)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, rows.Err()
}

func hasTagPrefix(tags []string, prefix string) bool {
	for _, t := range tags {
		if strings.HasPrefix(t, prefix) {
			return true
		}
	}
	return false
}
