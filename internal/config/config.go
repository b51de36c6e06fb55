// Package config loads and persists SENTINEL's runtime configuration:
// which LLM provider backs the digest path, the campaign's home
// directory, and the retention/heartbeat tunables the ambient stack
// needs. Config hot-reloads via Watcher; see watcher.go.
package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ModelDef describes a model entry in the built-in models list.
type ModelDef struct {
	ID   string
	Desc string
}

// BuiltinModels maps provider IDs to their built-in model lists.
var BuiltinModels = map[string][]ModelDef{
	"google": {
		{"gemini-3-pro-preview", "Most capable, advanced reasoning"},
		{"gemini-3-flash-preview", "Balanced speed + frontier intelligence"},
		{"gemini-2.5-pro", "Strong reasoning, complex STEM tasks"},
		{"gemini-2.5-flash", "Fast, cost-effective"},
		{"gemini-2.5-flash-lite", "Ultra-fast, lowest cost"},
	},
	"anthropic": {
		{"claude-opus-4-6", "Most capable"},
		{"claude-sonnet-4-5-20250929", "Balanced performance"},
		{"claude-haiku-4-5-20251001", "Fast, cost-effective"},
	},
	"openai": {
		{"o3", "Advanced reasoning"},
		{"o4-mini", "Fast reasoning"},
		{"gpt-4o", "Versatile, multimodal"},
		{"gpt-4o-mini", "Fast, cost-effective"},
	},
	"openrouter": {
		{"anthropic/claude-sonnet-4-5-20250929", "Claude Sonnet (via OpenRouter)"},
		{"openai/gpt-4o", "GPT-4o (via OpenRouter)"},
		{"meta-llama/llama-3.1-70b-instruct", "Llama 3.1 70B"},
		{"mistralai/mistral-large-latest", "Mistral Large"},
	},
}

// ProviderConfig holds per-provider settings for multi-provider LLM support.
type ProviderConfig struct {
	APIKey  string   `yaml:"api_key"`
	BaseURL string   `yaml:"base_url"` // custom endpoint (e.g. OpenRouter)
	Models  []string `yaml:"models"`   // user-added models (merged with built-ins)
}

// LLMProviderConfig holds configuration for the digest-update LLM path
// (C4's UpdateViaLLM) and its failover chain.
type LLMProviderConfig struct {
	// Provider names the active LLM provider: "google", "anthropic", "openai", "openai_compatible".
	Provider string `yaml:"provider"`

	GeminiModel    string `yaml:"gemini_model"`
	AnthropicModel string `yaml:"anthropic_model"`
	OpenAIModel    string `yaml:"openai_model"`

	OpenAICompatibleProvider string `yaml:"openai_compatible_provider"`
	OpenAICompatibleBaseURL  string `yaml:"openai_compatible_base_url"`

	// FallbackProviders is an ordered list of provider names to try when the
	// primary fails — backs llm.FailoverCaller.
	FallbackProviders []string `yaml:"fallback_providers"`

	// FailoverThreshold is consecutive failures before a provider's circuit
	// breaker trips. Default 5.
	FailoverThreshold int `yaml:"failover_threshold"`

	// FailoverCooldownSeconds is how long a tripped breaker stays open.
	// Default 300.
	FailoverCooldownSeconds int `yaml:"failover_cooldown_seconds"`

	// RequestTimeoutSeconds bounds a single digest-update call; UpdateViaLLM
	// treats an exceeded timeout as ErrTimeout and falls back to the
	// template path. Default 30.
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds"`
}

// SectionBudgetOverrides lets an operator tune the fixed token budgets
// packer.DefaultBudgets assumes, without recompiling. Zero/absent fields
// keep the default.
type SectionBudgetOverrides struct {
	System        int `yaml:"system"`
	Rules         int `yaml:"rules"`
	StateSnapshot int `yaml:"state_snapshot"`
	Digest        int `yaml:"digest"`
	RecentWindow  int `yaml:"recent_window"`
	Retrieval     int `yaml:"retrieval"`
	UserInput     int `yaml:"user_input"`
}

// RetentionConfig controls internal/persistence.RunRetention's cutoffs, in
// days. 0 means "use the built-in default" (archive_blocks 180, pack_traces
// 30, audit_log 365).
type RetentionConfig struct {
	ArchiveBlocksDays int `yaml:"archive_blocks_days"`
	PackTracesDays    int `yaml:"pack_traces_days"`
	AuditLogDays      int `yaml:"audit_log_days"`
}

// TelemetryConfig feeds internal/otel.Init. Disabled by default: spans and
// metrics are zero-overhead no-ops until an operator opts in.
type TelemetryConfig struct {
	Enabled        bool    `yaml:"enabled"`
	Exporter       string  `yaml:"exporter"` // "stdout", "otlp", or "" (none)
	Endpoint       string  `yaml:"endpoint"`
	ServiceName    string  `yaml:"service_name"`
	SampleRate     float64 `yaml:"sample_rate"`
	MetricsEnabled *bool   `yaml:"metrics_enabled,omitempty"`
}

// Config is SENTINEL's full runtime configuration.
type Config struct {
	HomeDir string `yaml:"-"`

	// CampaignID is the active campaign's identifier; the store creates it
	// on first run if absent.
	CampaignID string `yaml:"campaign_id"`

	// DBPath is the SQLite file backing internal/persistence.Store.
	// Relative paths resolve under HomeDir.
	DBPath string `yaml:"db_path"`

	LogLevel string `yaml:"log_level"`

	LLM LLMProviderConfig `yaml:"llm"`

	// APIKeys holds centralized API keys for any LLM provider not already
	// covered by an env var. Env vars override: ANTHROPIC_API_KEY, etc.
	APIKeys map[string]string `yaml:"api_keys"`

	// Providers holds per-provider configuration (API keys, custom
	// endpoints, extra models).
	Providers map[string]ProviderConfig `yaml:"providers"`

	SectionBudgets SectionBudgetOverrides `yaml:"section_budgets"`

	// HeartbeatIntervalSeconds is how often the cron.Scheduler checks the
	// last recorded strain tier for a nudge. Default 60.
	HeartbeatIntervalSeconds int `yaml:"heartbeat_interval_seconds"`

	// RetentionCronExpr schedules the daily retention sweep. Default
	// "0 3 * * *" (03:00).
	RetentionCronExpr string          `yaml:"retention_cron_expr"`
	Retention         RetentionConfig `yaml:"retention"`

	Telemetry TelemetryConfig `yaml:"telemetry"`

	// AnchorQuota overrides window.anchorQuota (max hinge-tagged blocks
	// retained beyond the starting window). 0 keeps the built-in default.
	AnchorQuota int `yaml:"anchor_quota"`

	NeedsGenesis bool `yaml:"-"`
}

// APIKey returns the value for the named API key, checking env overrides
// first.
func (c Config) APIKey(name string) string {
	envMap := map[string]string{
		"anthropic": "ANTHROPIC_API_KEY",
		"openai":    "OPENAI_API_KEY",
		"google":    "GOOGLE_API_KEY",
	}
	if envVar, ok := envMap[name]; ok {
		if v := os.Getenv(envVar); v != "" {
			return v
		}
	}
	if c.APIKeys != nil {
		return c.APIKeys[name]
	}
	return ""
}

// LLMProviderAPIKey returns the API key for the specified LLM provider.
func (c Config) LLMProviderAPIKey(provider string) string {
	envMap := map[string]string{
		"google":     "GOOGLE_API_KEY",
		"anthropic":  "ANTHROPIC_API_KEY",
		"openai":     "OPENAI_API_KEY",
		"openrouter": "OPENROUTER_API_KEY",
	}
	if envVar, ok := envMap[provider]; ok {
		if v := os.Getenv(envVar); v != "" {
			return v
		}
	}
	if c.Providers != nil {
		if p, ok := c.Providers[provider]; ok && p.APIKey != "" {
			return p.APIKey
		}
	}
	return ""
}

// ResolveLLMConfig returns the effective LLM configuration.
func (c Config) ResolveLLMConfig() (provider, model, apiKey string) {
	provider = c.LLM.Provider
	if provider == "" {
		provider = "google"
	}

	switch provider {
	case "anthropic":
		model = c.LLM.AnthropicModel
	case "openai", "openai_compatible", "openrouter":
		model = c.LLM.OpenAIModel
	case "google":
		model = c.LLM.GeminiModel
	}
	if model == "" {
		if models, ok := BuiltinModels[provider]; ok && len(models) > 0 {
			model = models[0].ID
		}
	}

	apiKey = c.LLMProviderAPIKey(provider)
	return provider, model, apiKey
}

// ResolvedDBPath returns DBPath resolved against HomeDir when relative.
func (c Config) ResolvedDBPath() string {
	if c.DBPath == "" {
		return filepath.Join(c.HomeDir, "campaign.db")
	}
	if filepath.IsAbs(c.DBPath) {
		return c.DBPath
	}
	return filepath.Join(c.HomeDir, c.DBPath)
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

func loadRawConfig(path string) (map[string]interface{}, error) {
	raw := make(map[string]interface{})
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config.yaml: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse config.yaml: %w", err)
		}
	}
	return raw, nil
}

func saveRawConfig(path string, raw map[string]interface{}) error {
	out, err := yaml.Marshal(raw)
	if err != nil {
		return fmt.Errorf("marshal config.yaml: %w", err)
	}
	return os.WriteFile(path, out, 0o644)
}

// SetModel updates the active LLM provider and model in config.yaml,
// preserving other settings.
func SetModel(homeDir, provider, model string) error {
	configPath := ConfigPath(homeDir)
	raw, err := loadRawConfig(configPath)
	if err != nil {
		return err
	}
	llmRaw, _ := raw["llm"].(map[string]interface{})
	if llmRaw == nil {
		llmRaw = make(map[string]interface{})
	}
	llmRaw["provider"] = provider
	switch provider {
	case "anthropic":
		llmRaw["anthropic_model"] = model
	case "openai", "openai_compatible", "openrouter":
		llmRaw["openai_model"] = model
	default:
		llmRaw["gemini_model"] = model
	}
	raw["llm"] = llmRaw
	return saveRawConfig(configPath, raw)
}

// SetAPIKey updates a single API key in config.yaml, preserving other
// settings.
func SetAPIKey(homeDir, name, value string) error {
	configPath := ConfigPath(homeDir)
	raw, err := loadRawConfig(configPath)
	if err != nil {
		return err
	}
	apiKeys, _ := raw["api_keys"].(map[string]interface{})
	if apiKeys == nil {
		apiKeys = make(map[string]interface{})
	}
	apiKeys[name] = value
	raw["api_keys"] = apiKeys
	return saveRawConfig(configPath, raw)
}

// Fingerprint returns a stable hash of the active config, used to detect
// drift between a running process and a hot-reloaded file.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "campaign=%s|db=%s|log=%s|llm=%s/%s",
		c.CampaignID, c.DBPath, c.LogLevel, c.LLM.Provider, c.LLM.GeminiModel)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}

func defaultConfig() Config {
	return Config{
		CampaignID:               "default",
		LogLevel:                 "info",
		HeartbeatIntervalSeconds: 60,
		RetentionCronExpr:        "0 3 * * *",
	}
}

// HomeDir returns SENTINEL's config/data directory, overridable via
// SENTINEL_HOME for tests and alternate installs.
func HomeDir() string {
	if override := os.Getenv("SENTINEL_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".sentinel")
}

// Load reads config.yaml from HomeDir, applies env overrides, and fills in
// defaults. A missing file sets NeedsGenesis rather than failing.
func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create sentinel home: %w", err)
	}

	configPath := filepath.Join(cfg.HomeDir, "config.yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.NeedsGenesis = true
		} else {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func normalize(cfg *Config) {
	if strings.TrimSpace(cfg.CampaignID) == "" {
		cfg.CampaignID = "default"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "google"
	}
	if cfg.LLM.Provider == "gemini" {
		cfg.LLM.Provider = "google"
	}
	if cfg.LLM.GeminiModel == "" && cfg.LLM.Provider == "google" {
		if models, ok := BuiltinModels["google"]; ok && len(models) > 0 {
			cfg.LLM.GeminiModel = models[0].ID
		}
	}
	if cfg.LLM.FailoverThreshold <= 0 {
		cfg.LLM.FailoverThreshold = 5
	}
	if cfg.LLM.FailoverCooldownSeconds <= 0 {
		cfg.LLM.FailoverCooldownSeconds = 300
	}
	if cfg.LLM.RequestTimeoutSeconds <= 0 {
		cfg.LLM.RequestTimeoutSeconds = 30
	}
	if cfg.HeartbeatIntervalSeconds <= 0 {
		cfg.HeartbeatIntervalSeconds = 60
	}
	if cfg.RetentionCronExpr == "" {
		cfg.RetentionCronExpr = "0 3 * * *"
	}
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("SENTINEL_CAMPAIGN_ID"); raw != "" {
		cfg.CampaignID = raw
	}
	if raw := os.Getenv("SENTINEL_DB_PATH"); raw != "" {
		cfg.DBPath = raw
	}
	if raw := os.Getenv("SENTINEL_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("SENTINEL_HEARTBEAT_INTERVAL_SECONDS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.HeartbeatIntervalSeconds = v
		}
	}
	if raw := os.Getenv("GOOGLE_API_KEY"); raw != "" {
		if cfg.Providers == nil {
			cfg.Providers = make(map[string]ProviderConfig)
		}
		p := cfg.Providers["google"]
		p.APIKey = raw
		cfg.Providers["google"] = p
	}
	if raw := os.Getenv("GEMINI_MODEL"); raw != "" {
		cfg.LLM.GeminiModel = raw
	}
}
