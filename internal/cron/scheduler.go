// Package cron runs two periodic background concerns: a heartbeat that
// nudges the collaborator toward /checkpoint once strain crosses StrainII,
// and a daily retention sweep that prunes archived rows. Neither ever
// invokes a CommandCoordinator command itself — the heartbeat only
// suggests.
package cron

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/basket/sentinel/internal/bus"
	"github.com/basket/sentinel/internal/persistence"
	"github.com/basket/sentinel/internal/strain"
)

var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// NudgeThreshold is the tier at or above which the heartbeat suggests a
// checkpoint (§12: heartbeat-driven strain nudges never auto-invoke).
const NudgeThreshold = strain.StrainII

// Config holds the Scheduler's dependencies.
type Config struct {
	Store             *persistence.Store
	Bus               *bus.Bus
	Logger            *slog.Logger
	CampaignID        string
	HeartbeatInterval time.Duration // default 1 minute
	RetentionCronExpr string        // default "0 3 * * *" (03:00 daily)
	RetentionPolicy   persistence.RetentionPolicy
	Now               func() time.Time // default time.Now; overridable in tests
}

// Scheduler ticks the heartbeat on a fixed interval and fires the
// retention sweep when its cron expression is due.
type Scheduler struct {
	cfg          Config
	logger       *slog.Logger
	nextRetention time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler builds a Scheduler with defaults applied.
func NewScheduler(cfg Config) *Scheduler {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = time.Minute
	}
	if cfg.RetentionCronExpr == "" {
		cfg.RetentionCronExpr = "0 3 * * *"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{cfg: cfg, logger: logger}
	s.nextRetention = s.computeNextRetention(cfg.Now())
	return s
}

func (s *Scheduler) computeNextRetention(after time.Time) time.Time {
	sched, err := cronParser.Parse(s.cfg.RetentionCronExpr)
	if err != nil {
		s.logger.Error("cron: invalid retention schedule", "expr", s.cfg.RetentionCronExpr, "error", err)
		return after.Add(24 * time.Hour)
	}
	return sched.Next(after)
}

// Start begins the scheduler loop in a background goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("scheduler started", "heartbeat_interval", s.cfg.HeartbeatInterval, "retention_expr", s.cfg.RetentionCronExpr)
}

// Stop cancels the loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	s.heartbeat(ctx)

	now := s.cfg.Now()
	if !now.Before(s.nextRetention) {
		s.runRetention(ctx, now)
		s.nextRetention = s.computeNextRetention(now)
	}
}

// heartbeat checks the last recorded pack trace's tier and, once it has
// reached NudgeThreshold, publishes a nudge — it never calls Command
// itself.
func (s *Scheduler) heartbeat(ctx context.Context) {
	if s.cfg.Store == nil || s.cfg.CampaignID == "" {
		return
	}
	tierName, err := s.cfg.Store.LastTier(ctx, s.cfg.CampaignID)
	if err != nil || tierName == "" {
		return
	}
	if tierAtLeast(tierName, NudgeThreshold) {
		s.logger.Info("heartbeat: strain nudge", "campaign_id", s.cfg.CampaignID, "tier", tierName)
		if s.cfg.Bus != nil {
			s.cfg.Bus.Publish(bus.TopicTierChanged, bus.TierChangedEvent{
				CampaignID: s.cfg.CampaignID,
				NewTier:    tierName,
			})
		}
	}
}

func tierAtLeast(tierName string, threshold strain.Tier) bool {
	names := map[string]strain.Tier{
		"Normal":    strain.Normal,
		"StrainI":   strain.StrainI,
		"StrainII":  strain.StrainII,
		"StrainIII": strain.StrainIII,
	}
	tier, ok := names[tierName]
	return ok && tier >= threshold
}

func (s *Scheduler) runRetention(ctx context.Context, now time.Time) {
	if s.cfg.Store == nil {
		return
	}
	result, err := s.cfg.Store.RunRetention(ctx, s.cfg.RetentionPolicy, now)
	if err != nil {
		s.logger.Error("cron: retention sweep failed", "error", err)
		return
	}
	s.logger.Info("cron: retention sweep complete",
		"archive_blocks_deleted", result.ArchiveBlocksDeleted,
		"pack_traces_deleted", result.PackTracesDeleted,
		"audit_log_deleted", result.AuditLogDeleted,
	)
}

// NextRunTime parses a cron expression and returns the next run after t.
func NextRunTime(cronExpr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}
