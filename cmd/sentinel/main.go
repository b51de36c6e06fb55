// Command sentinel runs the Engine-Owned Context Control Core as an
// interactive TUI by default, or headless with -daemon for scripted runs
// and smoke tests.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"gopkg.in/yaml.v3"

	"github.com/basket/sentinel/internal/audit"
	"github.com/basket/sentinel/internal/bus"
	"github.com/basket/sentinel/internal/config"
	"github.com/basket/sentinel/internal/cron"
	"github.com/basket/sentinel/internal/digest"
	"github.com/basket/sentinel/internal/llm"
	"github.com/basket/sentinel/internal/narrative"
	otelPkg "github.com/basket/sentinel/internal/otel"
	"github.com/basket/sentinel/internal/persistence"
	"github.com/basket/sentinel/internal/policy"
	"github.com/basket/sentinel/internal/sentinel"
	"github.com/basket/sentinel/internal/telemetry"
	"github.com/basket/sentinel/internal/tokenizer"
	"github.com/basket/sentinel/internal/tui"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.1-dev"

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %s:

  %s                 Start the interactive context-collaborator TUI
  %s -daemon         Run headless (heartbeat + retention only, no TUI)

ENVIRONMENT VARIABLES:
  SENTINEL_HOME             Data directory (default: ~/.sentinel)
  SENTINEL_NO_TUI           Set to 1 to disable the TUI (use with -daemon)
  SENTINEL_CAMPAIGN_ID      Override the active campaign id
  GOOGLE_API_KEY            Required for the default "google" digest provider

FLAGS:
`, os.Args[0], os.Args[0], os.Args[0])
	flag.PrintDefaults()
}

func main() {
	interactive := isatty.IsTerminal(os.Stdout.Fd()) && os.Getenv("SENTINEL_NO_TUI") == ""
	daemon := flag.Bool("daemon", false, "run headless: heartbeat and retention only, no TUI")
	flag.Usage = printUsage
	flag.Parse()
	if *daemon {
		interactive = false
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "E_CONFIG_LOAD", err)
	}

	if err := audit.Init(cfg.HomeDir); err != nil {
		fatalStartup(nil, "E_AUDIT_INIT", err)
	}
	defer func() { _ = audit.Close() }()

	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, interactive)
	if err != nil {
		fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded")

	if cfg.NeedsGenesis {
		cfg = runGenesisFlow(ctx, logger, cfg, interactive)
	}

	eventBus := bus.NewWithLogger(logger)

	otelProvider, err := otelPkg.Init(ctx, otelPkg.Config{
		Enabled:        cfg.Telemetry.Enabled,
		Exporter:       cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		ServiceName:    cfg.Telemetry.ServiceName,
		SampleRate:     cfg.Telemetry.SampleRate,
		MetricsEnabled: cfg.Telemetry.MetricsEnabled,
	})
	if err != nil {
		fatalStartup(logger, "E_OTEL_INIT", err)
	}
	defer otelProvider.Shutdown(context.Background())

	store, err := persistence.Open(cfg.ResolvedDBPath(), eventBus)
	if err != nil {
		fatalStartup(logger, "E_STORE_OPEN", err)
	}
	defer store.Close()
	audit.SetDB(store.DB())
	logger.Info("startup phase", "phase", "schema_migrated")

	if err := store.EnsureCampaign(ctx, cfg.CampaignID, cfg.CampaignID, ""); err != nil {
		fatalStartup(logger, "E_CAMPAIGN_ENSURE", err)
	}

	policyPath := filepath.Join(cfg.HomeDir, "policy.yaml")
	if _, statErr := os.Stat(policyPath); os.IsNotExist(statErr) {
		if writeErr := os.WriteFile(policyPath, []byte(tui.DefaultPolicyYAML()), 0o644); writeErr != nil {
			fatalStartup(logger, "E_POLICY_BOOTSTRAP", writeErr)
		}
		logger.Info("policy.yaml bootstrapped with defaults", "path", policyPath)
	}
	polData, err := policy.Load(policyPath)
	if err != nil {
		fatalStartup(logger, "E_POLICY_LOAD", err)
	}
	pol := policy.NewLivePolicy(polData, policyPath)
	logger.Info("startup phase", "phase", "policy_loaded", "policy_version", pol.PolicyVersion())

	tok := tokenizer.New()

	provider, model, apiKey := cfg.ResolveLLMConfig()
	fallbacks := make([]llm.ProviderSpec, 0, len(cfg.LLM.FallbackProviders))
	for _, fp := range cfg.LLM.FallbackProviders {
		_, fmodel, fkey := resolveProviderModel(cfg, fp)
		fallbacks = append(fallbacks, llm.ProviderSpec{Provider: fp, Model: fmodel, APIKey: fkey})
	}
	caller := llm.NewProviderChain(ctx,
		llm.ProviderSpec{Provider: provider, Model: model, APIKey: apiKey},
		fallbacks,
		cfg.LLM.FailoverThreshold,
		time.Duration(cfg.LLM.FailoverCooldownSeconds)*time.Second,
		2)

	dig, err := digest.New(caller, tok)
	if err != nil {
		fatalStartup(logger, "E_DIGEST_INIT", err)
	}

	source := narrative.New(store, cfg.CampaignID, cfg.HomeDir, pol)

	coord, err := sentinel.New(ctx, sentinel.Config{
		CampaignID: cfg.CampaignID,
		Store:      store,
		Bus:        eventBus,
		Tokenizer:  tok,
		Source:     source,
		Recap:      narrative.TemplateRecap{},
		Digest:     dig,
		Policy:     pol,
	})
	if err != nil {
		fatalStartup(logger, "E_COORDINATOR_INIT", err)
	}
	logger.Info("startup phase", "phase", "coordinator_ready", "campaign_id", cfg.CampaignID)

	scheduler := cron.NewScheduler(cron.Config{
		Store:             store,
		Bus:               eventBus,
		Logger:            logger,
		CampaignID:        cfg.CampaignID,
		HeartbeatInterval: time.Duration(cfg.HeartbeatIntervalSeconds) * time.Second,
		RetentionCronExpr: cfg.RetentionCronExpr,
		RetentionPolicy: persistence.RetentionPolicy{
			ArchiveBlocksOlderThan: retentionDuration(cfg.Retention.ArchiveBlocksDays, 180),
			PackTracesOlderThan:    retentionDuration(cfg.Retention.PackTracesDays, 30),
			AuditLogOlderThan:      retentionDuration(cfg.Retention.AuditLogDays, 365),
		},
	})
	scheduler.Start(ctx)
	defer scheduler.Stop()

	lastID := latestBlockID(ctx, store, cfg.CampaignID)

	if !interactive {
		logger.Info("running headless", "campaign_id", cfg.CampaignID)
		<-ctx.Done()
		return
	}

	if err := tui.Run(ctx, coord, cfg.CampaignID, lastID); err != nil && ctx.Err() == nil {
		fatalStartup(logger, "E_TUI_RUN", err)
	}
}

// runGenesisFlow prompts for a new campaign on first run, persists its
// starting scene, and reloads config so the rest of startup sees a
// normal, already-bootstrapped home directory.
func runGenesisFlow(ctx context.Context, logger *slog.Logger, cfg config.Config, interactive bool) config.Config {
	if !interactive {
		logger.Info("genesis needed but running headless; using default campaign id")
		return cfg
	}
	result, err := tui.RunGenesis(ctx)
	if err != nil {
		logger.Info("genesis cancelled", "error", err)
		fmt.Println("\n  Run sentinel again to restart setup.")
		os.Exit(0)
	}
	if err := tui.WriteGenesisFiles(cfg.HomeDir, result); err != nil {
		fatalStartup(logger, "E_GENESIS_WRITE", err)
	}
	cfg.CampaignID = result.CampaignID
	cfg.NeedsGenesis = false
	if err := writeConfigYAML(cfg); err != nil {
		logger.Warn("failed to persist genesis config", "error", err)
	}

	store, err := persistence.Open(cfg.ResolvedDBPath(), nil)
	if err != nil {
		fatalStartup(logger, "E_STORE_OPEN", err)
	}
	if err := store.EnsureCampaign(ctx, result.CampaignID, result.Name, result.StartingScene); err != nil {
		fatalStartup(logger, "E_CAMPAIGN_ENSURE", err)
	}
	if err := store.SaveSnapshot(ctx, result.CampaignID, result.StartingScene); err != nil {
		logger.Warn("failed to save starting scene snapshot", "error", err)
	}
	_ = store.Close()

	logger.Info("genesis completed", "campaign_id", result.CampaignID)
	return cfg
}

// writeConfigYAML persists the active in-memory Config to config.yaml.
// Used only right after genesis, where the campaign id chosen
// interactively must survive a restart.
func writeConfigYAML(cfg config.Config) error {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config.yaml: %w", err)
	}
	return os.WriteFile(config.ConfigPath(cfg.HomeDir), out, 0o644)
}

func resolveProviderModel(cfg config.Config, provider string) (string, string, string) {
	model := ""
	if models, ok := config.BuiltinModels[provider]; ok && len(models) > 0 {
		model = models[0].ID
	}
	return provider, model, cfg.LLMProviderAPIKey(provider)
}

func retentionDuration(days int, fallbackDays int) time.Duration {
	if days <= 0 {
		days = fallbackDays
	}
	return time.Duration(days) * 24 * time.Hour
}

func latestBlockID(ctx context.Context, store *persistence.Store, campaignID string) int64 {
	rows, err := store.LoadBlocks(ctx, campaignID)
	if err != nil || len(rows) == 0 {
		return 0
	}
	return rows[len(rows)-1].BlockID
}

func fatalStartup(logger *slog.Logger, reasonCode string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	audit.Record("fatal", "runtime.startup", reasonCode, "", message)
	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
	} else {
		fmt.Fprintf(os.Stderr, "startup failure: %s: %s\n", reasonCode, message)
	}
	os.Exit(1)
}
