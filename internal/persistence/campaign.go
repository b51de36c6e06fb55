package persistence

import (
	"context"
	"database/sql"
	"fmt"
)

// Campaign is the persisted row backing one campaign's CommandCoordinator
// counters. Session boundaries are the span between two checkpoints
// (compress does not advance session_generation).
type Campaign struct {
	ID                       string
	Name                     string
	StartingScene            string
	CheckpointCount          int
	SessionGeneration        int
	RetrievalCacheGeneration int
	ClearedWithoutCheckpoint bool
}

// EnsureCampaign creates the campaign row on first run (genesis) and is a
// no-op if it already exists.
func (s *Store) EnsureCampaign(ctx context.Context, id, name, startingScene string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO campaigns (id, name, starting_scene)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING;
	`, id, name, startingScene)
	if err != nil {
		return fmt.Errorf("persistence: ensure campaign: %w", err)
	}
	return nil
}

// LoadCampaign returns the campaign row, or an error if it has never been
// created (the caller should run genesis first).
func (s *Store) LoadCampaign(ctx context.Context, id string) (Campaign, error) {
	var c Campaign
	var cleared int
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, starting_scene, checkpoint_count, session_generation,
		       retrieval_cache_generation, cleared_without_checkpoint
		FROM campaigns WHERE id = ?;
	`, id).Scan(&c.ID, &c.Name, &c.StartingScene, &c.CheckpointCount, &c.SessionGeneration,
		&c.RetrievalCacheGeneration, &cleared)
	if err == sql.ErrNoRows {
		return Campaign{}, fmt.Errorf("persistence: campaign %q not found", id)
	}
	if err != nil {
		return Campaign{}, fmt.Errorf("persistence: load campaign: %w", err)
	}
	c.ClearedWithoutCheckpoint = cleared != 0
	return c, nil
}

// AdvanceCheckpoint increments checkpoint_count and session_generation and
// resets cleared_without_checkpoint to false. Only `/checkpoint` calls this
// (§9 resolution 3: the session boundary is the span between checkpoints,
// not between compresses).
func (s *Store) AdvanceCheckpoint(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE campaigns
		SET checkpoint_count = checkpoint_count + 1,
		    session_generation = session_generation + 1,
		    cleared_without_checkpoint = 0,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = ?;
	`, id)
	if err != nil {
		return fmt.Errorf("persistence: advance checkpoint: %w", err)
	}
	return nil
}

// MarkClearedWithoutCheckpoint sets the flag `/clear` leaves behind, and
// bumps the retrieval cache generation so no stale retrieval answer from
// before the clear is ever reused (§9 resolution 2).
func (s *Store) MarkClearedWithoutCheckpoint(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE campaigns
		SET cleared_without_checkpoint = 1,
		    retrieval_cache_generation = retrieval_cache_generation + 1,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = ?;
	`, id)
	if err != nil {
		return fmt.Errorf("persistence: mark cleared: %w", err)
	}
	return nil
}

// TouchCampaign bumps updated_at without changing counters; used by
// `/compress`, which updates the digest but advances neither checkpoint
// count nor session generation.
func (s *Store) TouchCampaign(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE campaigns SET updated_at = CURRENT_TIMESTAMP WHERE id = ?;`, id)
	if err != nil {
		return fmt.Errorf("persistence: touch campaign: %w", err)
	}
	return nil
}
