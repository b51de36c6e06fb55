package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// BlockRow is the persisted shape of a transcript Block. The core's
// in-memory Window owns monotonic-id enforcement; this table is an
// append-only log it writes through to, and the source TranscriptArchive
// reads from when the core restarts.
type BlockRow struct {
	BlockID           int64
	Kind              string
	RoleHint          string
	Text              string
	Tags              []string
	SessionGeneration int
	CreatedAt         time.Time
}

// AppendBlock persists one transcript block. Ordering is the caller's
// responsibility (the in-memory Window already rejected non-monotonic ids
// before this is called).
func (s *Store) AppendBlock(ctx context.Context, campaignID string, row BlockRow) error {
	tagsJSON, err := json.Marshal(row.Tags)
	if err != nil {
		return fmt.Errorf("persistence: marshal tags: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO blocks (campaign_id, block_id, kind, role_hint, text, tags, session_generation, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?);
	`, campaignID, row.BlockID, row.Kind, row.RoleHint, row.Text, string(tagsJSON), row.SessionGeneration, row.CreatedAt)
	if err != nil {
		return fmt.Errorf("persistence: append block: %w", err)
	}
	return nil
}

// LoadBlocks returns every non-archived block for a campaign in ascending
// block_id order, used to rehydrate the in-memory Window on process start.
func (s *Store) LoadBlocks(ctx context.Context, campaignID string) ([]BlockRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT block_id, kind, role_hint, text, tags, session_generation, created_at
		FROM blocks WHERE campaign_id = ? ORDER BY block_id ASC;
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("persistence: load blocks: %w", err)
	}
	defer rows.Close()

	var out []BlockRow
	for rows.Next() {
		var row BlockRow
		var tagsJSON string
		if err := rows.Scan(&row.BlockID, &row.Kind, &row.RoleHint, &row.Text, &tagsJSON, &row.SessionGeneration, &row.CreatedAt); err != nil {
			return nil, fmt.Errorf("persistence: scan block: %w", err)
		}
		if tagsJSON != "" {
			if err := json.Unmarshal([]byte(tagsJSON), &row.Tags); err != nil {
				return nil, fmt.Errorf("persistence: unmarshal tags: %w", err)
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// ArchiveBlocks implements the TranscriptArchive capability used only by
// `/checkpoint`: it moves blocks with block_id <= upToID into archive_blocks
// and deletes them from the live table, in one transaction.
func (s *Store) ArchiveBlocks(ctx context.Context, campaignID string, upToID int64) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("persistence: begin archive tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO archive_blocks (campaign_id, block_id, kind, role_hint, text, tags, session_generation, created_at)
		SELECT campaign_id, block_id, kind, role_hint, text, tags, session_generation, created_at
		FROM blocks WHERE campaign_id = ? AND block_id <= ?;
	`, campaignID, upToID)
	if err != nil {
		return 0, fmt.Errorf("persistence: copy to archive: %w", err)
	}
	n, _ := res.RowsAffected()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM blocks WHERE campaign_id = ? AND block_id <= ?;
	`, campaignID, upToID); err != nil {
		return 0, fmt.Errorf("persistence: delete archived blocks: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("persistence: commit archive tx: %w", err)
	}
	return int(n), nil
}

// DropBlocksBeyondMinimum implements `/clear`: it deletes (without
// archiving) every block past the first minimumWindow blocks from the end,
// i.e. it keeps only the most recent minimumWindow blocks live. Dropped
// blocks are gone for good — `/clear` is intentionally destructive and
// never touches the Digest.
func (s *Store) DropBlocksBeyondMinimum(ctx context.Context, campaignID string, minimumWindow int) (int, error) {
	var keepFromID sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT block_id FROM blocks
		WHERE campaign_id = ?
		ORDER BY block_id DESC
		LIMIT 1 OFFSET ?;
	`, campaignID, maxInt(minimumWindow-1, 0)).Scan(&keepFromID)
	if err == sql.ErrNoRows || !keepFromID.Valid {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("persistence: find clear cutoff: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM blocks WHERE campaign_id = ? AND block_id < ?;
	`, campaignID, keepFromID.Int64)
	if err != nil {
		return 0, fmt.Errorf("persistence: clear blocks: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
