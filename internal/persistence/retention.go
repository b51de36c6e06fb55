package persistence

import (
	"context"
	"fmt"
	"time"
)

// RetentionPolicy bounds how long archived, already-checkpointed data is
// kept around. None of this touches live blocks, the digest blob, or the
// state snapshot — only the archive and the debug trace ring age out.
type RetentionPolicy struct {
	ArchiveBlocksOlderThan time.Duration
	PackTracesOlderThan    time.Duration
	AuditLogOlderThan      time.Duration
}

// RetentionResult reports how many rows each pass removed, for logging.
type RetentionResult struct {
	ArchiveBlocksDeleted int
	PackTracesDeleted    int
	AuditLogDeleted      int
}

// RunRetention purges rows older than the policy's cutoffs. now is passed
// in by the caller rather than taken from time.Now() so cron-driven runs
// stay deterministic in tests.
func (s *Store) RunRetention(ctx context.Context, policy RetentionPolicy, now time.Time) (RetentionResult, error) {
	var result RetentionResult

	if policy.ArchiveBlocksOlderThan > 0 {
		cutoff := now.Add(-policy.ArchiveBlocksOlderThan)
		res, err := s.db.ExecContext(ctx, `DELETE FROM archive_blocks WHERE archived_at < ?;`, cutoff)
		if err != nil {
			return result, fmt.Errorf("persistence: purge archive_blocks: %w", err)
		}
		n, _ := res.RowsAffected()
		result.ArchiveBlocksDeleted = int(n)
	}

	if policy.PackTracesOlderThan > 0 {
		cutoff := now.Add(-policy.PackTracesOlderThan)
		res, err := s.db.ExecContext(ctx, `DELETE FROM pack_traces WHERE created_at < ?;`, cutoff)
		if err != nil {
			return result, fmt.Errorf("persistence: purge pack_traces: %w", err)
		}
		n, _ := res.RowsAffected()
		result.PackTracesDeleted = int(n)
	}

	if policy.AuditLogOlderThan > 0 {
		cutoff := now.Add(-policy.AuditLogOlderThan)
		res, err := s.db.ExecContext(ctx, `DELETE FROM audit_log WHERE created_at < ?;`, cutoff)
		if err != nil {
			return result, fmt.Errorf("persistence: purge audit_log: %w", err)
		}
		n, _ := res.RowsAffected()
		result.AuditLogDeleted = int(n)
	}

	return result, nil
}
