package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/basket/sentinel/internal/config"
)

func TestLoad_FromSentinelHome(t *testing.T) {
	home := t.TempDir()
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte("campaign_id: tavern-run\nlog_level: debug\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("SENTINEL_HOME", home)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.CampaignID != "tavern-run" {
		t.Fatalf("campaign_id = %q, want tavern-run", cfg.CampaignID)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log_level = %q, want debug", cfg.LogLevel)
	}
}

func TestLoad_MissingFileSetsNeedsGenesis(t *testing.T) {
	home := t.TempDir()
	t.Setenv("SENTINEL_HOME", home)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !cfg.NeedsGenesis {
		t.Error("expected NeedsGenesis=true for a fresh home dir")
	}
	if cfg.CampaignID != "default" {
		t.Errorf("campaign_id = %q, want default", cfg.CampaignID)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	home := t.TempDir()
	t.Setenv("SENTINEL_HOME", home)
	t.Setenv("SENTINEL_CAMPAIGN_ID", "env-campaign")
	t.Setenv("GOOGLE_API_KEY", "test-key-123")
	t.Setenv("GEMINI_MODEL", "gemini-2.5-flash")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.CampaignID != "env-campaign" {
		t.Fatalf("campaign_id = %q, want env-campaign", cfg.CampaignID)
	}
	if cfg.LLM.GeminiModel != "gemini-2.5-flash" {
		t.Fatalf("gemini_model = %q, want gemini-2.5-flash", cfg.LLM.GeminiModel)
	}
	if got := cfg.LLMProviderAPIKey("google"); got != "test-key-123" {
		t.Fatalf("google api key = %q, want test-key-123", got)
	}
}

func TestNormalize_FillsDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("SENTINEL_HOME", home)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.LLM.Provider != "google" {
		t.Errorf("default provider = %q, want google", cfg.LLM.Provider)
	}
	if cfg.LLM.GeminiModel == "" {
		t.Error("expected a default gemini model")
	}
	if cfg.LLM.FailoverThreshold != 5 {
		t.Errorf("failover threshold = %d, want 5", cfg.LLM.FailoverThreshold)
	}
	if cfg.HeartbeatIntervalSeconds != 60 {
		t.Errorf("heartbeat interval = %d, want 60", cfg.HeartbeatIntervalSeconds)
	}
	if cfg.RetentionCronExpr != "0 3 * * *" {
		t.Errorf("retention cron = %q, want 0 3 * * *", cfg.RetentionCronExpr)
	}
}

func TestResolveLLMConfig_AnthropicProvider(t *testing.T) {
	cfg := config.Config{
		LLM: config.LLMProviderConfig{
			Provider:       "anthropic",
			AnthropicModel: "claude-sonnet-4-5-20250929",
		},
		Providers: map[string]config.ProviderConfig{
			"anthropic": {APIKey: "ant-key"},
		},
	}
	provider, model, apiKey := cfg.ResolveLLMConfig()
	if provider != "anthropic" || model != "claude-sonnet-4-5-20250929" || apiKey != "ant-key" {
		t.Fatalf("resolved (%s, %s, %s)", provider, model, apiKey)
	}
}

func TestResolvedDBPath_RelativeJoinsHomeDir(t *testing.T) {
	cfg := config.Config{HomeDir: "/var/sentinel", DBPath: "campaign.db"}
	if got := cfg.ResolvedDBPath(); got != filepath.Join("/var/sentinel", "campaign.db") {
		t.Errorf("resolved db path = %q", got)
	}
}

func TestResolvedDBPath_AbsoluteUnchanged(t *testing.T) {
	cfg := config.Config{HomeDir: "/var/sentinel", DBPath: "/data/campaign.db"}
	if got := cfg.ResolvedDBPath(); got != "/data/campaign.db" {
		t.Errorf("resolved db path = %q", got)
	}
}

func TestSetModel_PersistsProviderAndModel(t *testing.T) {
	home := t.TempDir()
	if err := config.SetModel(home, "anthropic", "claude-haiku-4-5-20251001"); err != nil {
		t.Fatalf("SetModel: %v", err)
	}
	t.Setenv("SENTINEL_HOME", home)
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.LLM.Provider != "anthropic" {
		t.Errorf("provider = %q, want anthropic", cfg.LLM.Provider)
	}
	if cfg.LLM.AnthropicModel != "claude-haiku-4-5-20251001" {
		t.Errorf("anthropic_model = %q", cfg.LLM.AnthropicModel)
	}
}

func TestSetAPIKey_PersistsAcrossLoad(t *testing.T) {
	home := t.TempDir()
	if err := config.SetAPIKey(home, "openai", "sk-test"); err != nil {
		t.Fatalf("SetAPIKey: %v", err)
	}
	t.Setenv("SENTINEL_HOME", home)
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if got := cfg.APIKey("openai"); got != "sk-test" {
		t.Fatalf("api key = %q, want sk-test", got)
	}
}

func TestFingerprint_StableForSameConfig(t *testing.T) {
	cfg := config.Config{CampaignID: "camp-1", LogLevel: "info", LLM: config.LLMProviderConfig{Provider: "google", GeminiModel: "gemini-2.5-flash"}}
	if cfg.Fingerprint() != cfg.Fingerprint() {
		t.Error("expected fingerprint to be stable for identical config")
	}
	other := cfg
	other.CampaignID = "camp-2"
	if cfg.Fingerprint() == other.Fingerprint() {
		t.Error("expected fingerprint to differ when campaign_id differs")
	}
}
