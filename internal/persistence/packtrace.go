package persistence

import (
	"context"
	"fmt"
)

// PackTraceRow is one recorded build() trace, kept for `/context debug` and
// for strain heartbeat inspection (last tier only).
type PackTraceRow struct {
	Seq       int
	Tier      string
	TraceJSON string
}

// SavePackTrace appends a trace row and trims the table back to keepLast
// rows for this campaign so the ring never grows unbounded.
func (s *Store) SavePackTrace(ctx context.Context, campaignID string, row PackTraceRow, keepLast int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("persistence: begin pack trace tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO pack_traces (campaign_id, seq, tier, trace_json) VALUES (?, ?, ?, ?);
	`, campaignID, row.Seq, row.Tier, row.TraceJSON); err != nil {
		return fmt.Errorf("persistence: insert pack trace: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM pack_traces
		WHERE campaign_id = ? AND id NOT IN (
			SELECT id FROM pack_traces WHERE campaign_id = ? ORDER BY seq DESC LIMIT ?
		);
	`, campaignID, campaignID, keepLast); err != nil {
		return fmt.Errorf("persistence: trim pack traces: %w", err)
	}

	return tx.Commit()
}

// RecentPackTraces returns the most recent n trace rows, newest first.
func (s *Store) RecentPackTraces(ctx context.Context, campaignID string, n int) ([]PackTraceRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, tier, trace_json FROM pack_traces
		WHERE campaign_id = ? ORDER BY seq DESC LIMIT ?;
	`, campaignID, n)
	if err != nil {
		return nil, fmt.Errorf("persistence: load pack traces: %w", err)
	}
	defer rows.Close()

	var out []PackTraceRow
	for rows.Next() {
		var row PackTraceRow
		if err := rows.Scan(&row.Seq, &row.Tier, &row.TraceJSON); err != nil {
			return nil, fmt.Errorf("persistence: scan pack trace: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// LastTier returns the tier recorded in the most recent pack trace, or ""
// if none exists yet. Used by the heartbeat nudge to decide whether to
// suggest /checkpoint without re-running Packer itself.
func (s *Store) LastTier(ctx context.Context, campaignID string) (string, error) {
	traces, err := s.RecentPackTraces(ctx, campaignID, 1)
	if err != nil {
		return "", err
	}
	if len(traces) == 0 {
		return "", nil
	}
	return traces[0].Tier, nil
}
