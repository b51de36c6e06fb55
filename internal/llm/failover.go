package llm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// named pairs a Caller with a human-readable provider name for circuit
// breaker tracking and logging.
type named struct {
	name   string
	caller Caller
}

// Named wraps a Caller with its provider name for FailoverCaller.
func Named(name string, caller Caller) named { return named{name: name, caller: caller} }

type circuitBreaker struct {
	failures    int
	lastFailure time.Time
	tripped     bool
}

// FailoverCaller wraps a primary Caller with ordered fallbacks and a
// per-provider circuit breaker. It implements Caller.
type FailoverCaller struct {
	primary   named
	fallbacks []named

	mu             sync.Mutex
	breakers       map[string]*circuitBreaker
	threshold      int
	cooldownPeriod time.Duration
}

// NewFailoverCaller tries the primary first, then each fallback in order.
// A provider's breaker trips after threshold consecutive failures and
// resets once cooldown has elapsed since the last failure.
func NewFailoverCaller(primary named, fallbacks []named, threshold int, cooldown time.Duration) *FailoverCaller {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 5 * time.Minute
	}
	breakers := make(map[string]*circuitBreaker, len(fallbacks)+1)
	breakers[primary.name] = &circuitBreaker{}
	for _, fb := range fallbacks {
		breakers[fb.name] = &circuitBreaker{}
	}
	return &FailoverCaller{
		primary:        primary,
		fallbacks:      fallbacks,
		breakers:       breakers,
		threshold:      threshold,
		cooldownPeriod: cooldown,
	}
}

// Generate tries the primary caller, then fallbacks in order, skipping any
// whose breaker is currently tripped. A context-overflow error is never
// retried against another provider: the prompt is identical everywhere.
func (f *FailoverCaller) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	candidates := append([]named{f.primary}, f.fallbacks...)
	var lastErr error

	for _, c := range candidates {
		if f.isTripped(c.name) {
			slog.Info("llm: skipping tripped provider", "provider", c.name)
			continue
		}

		resp, err := c.caller.Generate(ctx, systemPrompt, userPrompt)
		if err == nil {
			f.recordSuccess(c.name)
			return resp, nil
		}

		lastErr = err
		f.recordFailure(c.name)
		class := ClassifyError(err)
		slog.Warn("llm: provider failed", "provider", c.name, "error_class", string(class), "error", err)

		if class == ErrorClassContextOverflow {
			return "", fmt.Errorf("llm: context overflow from %s: %w", c.name, err)
		}
	}

	return "", fmt.Errorf("llm: all providers failed, last error: %w", lastErr)
}

func (f *FailoverCaller) isTripped(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	cb, ok := f.breakers[name]
	if !ok || !cb.tripped {
		return false
	}
	if time.Since(cb.lastFailure) >= f.cooldownPeriod {
		cb.tripped = false
		cb.failures = 0
		slog.Info("llm: circuit breaker reset after cooldown", "provider", name)
		return false
	}
	return true
}

func (f *FailoverCaller) recordFailure(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	cb, ok := f.breakers[name]
	if !ok {
		cb = &circuitBreaker{}
		f.breakers[name] = cb
	}
	cb.failures++
	cb.lastFailure = time.Now()
	if cb.failures >= f.threshold {
		cb.tripped = true
		slog.Warn("llm: circuit breaker tripped", "provider", name, "failures", cb.failures)
	}
}

func (f *FailoverCaller) recordSuccess(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	cb, ok := f.breakers[name]
	if !ok {
		return
	}
	cb.failures = 0
	cb.tripped = false
}

// ProviderSpec names one genkit-backed provider for NewProviderChain.
type ProviderSpec struct {
	Provider string
	Model    string
	APIKey   string
}

// NewProviderChain builds the full digest-update Caller: a genkit caller
// per provider, ordered primary-then-fallbacks into a FailoverCaller, and
// a bounded number of retries around the whole chain. This is the entry
// point callers outside this package use — the per-provider Named/named
// plumbing stays internal.
func NewProviderChain(ctx context.Context, primary ProviderSpec, fallbacks []ProviderSpec, threshold int, cooldown time.Duration, maxRetries uint) Caller {
	primaryCaller := Named(primary.Provider, NewGenkitCaller(ctx, Config{
		Provider: primary.Provider,
		Model:    primary.Model,
		APIKey:   primary.APIKey,
	}))

	fallbackCallers := make([]named, 0, len(fallbacks))
	for _, fb := range fallbacks {
		fallbackCallers = append(fallbackCallers, Named(fb.Provider, NewGenkitCaller(ctx, Config{
			Provider: fb.Provider,
			Model:    fb.Model,
			APIKey:   fb.APIKey,
		})))
	}

	chain := NewFailoverCaller(primaryCaller, fallbackCallers, threshold, cooldown)
	return NewRetryingCaller(chain, maxRetries)
}
