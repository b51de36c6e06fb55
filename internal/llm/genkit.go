package llm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/anthropic"
	"github.com/firebase/genkit/go/plugins/compat_oai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
)

// Config selects and authenticates a genkit-backed provider.
type Config struct {
	// Provider is one of "google", "anthropic", "openai", "openai_compatible",
	// "openrouter". Empty defaults to "google".
	Provider string
	Model    string
	APIKey   string

	OpenAICompatibleProvider string
	OpenAICompatibleBaseURL  string
}

// GenkitCaller is a Caller backed by a single genkit-initialized provider.
// When no API key is configured it falls through to the deterministic
// fallback text so the digest and recap callers degrade instead of failing.
type GenkitCaller struct {
	g        *genkit.Genkit
	provider string
	model    string
	live     bool
}

// NewGenkitCaller initializes genkit with the configured provider plugin.
// Missing credentials are not an error: the caller is returned in "not
// live" mode and Generate answers with a fixed fallback string.
func NewGenkitCaller(ctx context.Context, cfg Config) *GenkitCaller {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = "google"
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelForProvider(provider)
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		apiKey = envAPIKeyForProvider(provider)
	}

	var g *genkit.Genkit
	live := false

	switch provider {
	case "anthropic":
		if apiKey != "" {
			g = genkit.Init(ctx, genkit.WithPlugins(&anthropic.Anthropic{
				APIKey:  apiKey,
				BaseURL: os.Getenv("ANTHROPIC_BASE_URL"),
			}))
			live = true
		} else {
			g = genkit.Init(ctx)
		}
	case "openai":
		if apiKey != "" {
			g = genkit.Init(ctx, genkit.WithPlugins(&compat_oai.OpenAICompatible{
				Provider: "openai",
				APIKey:   apiKey,
				BaseURL:  os.Getenv("OPENAI_BASE_URL"),
			}))
			live = true
		} else {
			g = genkit.Init(ctx)
		}
	case "openai_compatible":
		if apiKey != "" {
			g = genkit.Init(ctx, genkit.WithPlugins(&compat_oai.OpenAICompatible{
				Provider: cfg.OpenAICompatibleProvider,
				APIKey:   apiKey,
				BaseURL:  cfg.OpenAICompatibleBaseURL,
			}))
			live = true
		} else {
			g = genkit.Init(ctx)
		}
	case "openrouter":
		if apiKey != "" {
			g = genkit.Init(ctx, genkit.WithPlugins(&compat_oai.OpenAICompatible{
				Provider: "openrouter",
				APIKey:   apiKey,
				BaseURL:  "https://openrouter.ai/api/v1",
			}))
			live = true
		} else {
			g = genkit.Init(ctx)
		}
	case "google":
		if apiKey != "" {
			_ = os.Setenv("GEMINI_API_KEY", apiKey)
			g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
			live = true
		} else {
			g = genkit.Init(ctx)
		}
	default:
		slog.Warn("llm: unknown provider, deterministic fallback only", "provider", provider)
		g = genkit.Init(ctx)
	}

	if live {
		slog.Info("llm: genkit caller ready", "component", "core", "provider", provider, "model", model)
	} else {
		slog.Warn("llm: no API key configured, deterministic fallback only", "component", "core", "provider", provider)
	}

	return &GenkitCaller{g: g, provider: provider, model: model, live: live}
}

// Generate sends a single system+user prompt pair and returns the model's
// text. No history, no tools: the digest and recap collaborators are the
// only callers and both pass a complete, self-contained prompt.
func (c *GenkitCaller) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if !c.live {
		return "", fmt.Errorf("llm: provider %s has no API key configured", c.provider)
	}

	opts := []ai.GenerateOption{
		ai.WithModelName(modelNameForProvider(c.provider, c.model)),
		ai.WithPrompt(strings.TrimSpace(userPrompt)),
	}
	if sp := strings.TrimSpace(systemPrompt); sp != "" {
		opts = append(opts, ai.WithSystem(sp))
	}

	resp, err := genkit.Generate(ctx, c.g, opts...)
	if err != nil {
		return "", fmt.Errorf("llm: genkit generate: %w", err)
	}
	return resp.Text(), nil
}

// Live reports whether this caller has real provider credentials.
func (c *GenkitCaller) Live() bool { return c.live }

func defaultModelForProvider(provider string) string {
	switch provider {
	case "anthropic":
		return "claude-3-5-sonnet-20241022"
	case "openai":
		return "gpt-4o-mini"
	case "openai_compatible":
		return "gpt-4o-mini"
	case "openrouter":
		return "anthropic/claude-sonnet-4-5-20250929"
	default:
		return "gemini-2.5-flash"
	}
}

func envAPIKeyForProvider(provider string) string {
	switch provider {
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "openai", "openai_compatible":
		return os.Getenv("OPENAI_API_KEY")
	case "openrouter":
		return os.Getenv("OPENROUTER_API_KEY")
	default:
		if k := os.Getenv("GEMINI_API_KEY"); k != "" {
			return k
		}
		return os.Getenv("GOOGLE_API_KEY")
	}
}

func modelNameForProvider(provider, model string) string {
	model = strings.TrimSpace(model)
	if model == "" {
		model = defaultModelForProvider(provider)
	}
	switch provider {
	case "anthropic":
		return "anthropic/" + model
	case "openai":
		return "openai/" + model
	case "openai_compatible", "openrouter":
		return model
	default:
		return "googleai/" + model
	}
}
