package llm

import (
	"context"

	"github.com/cenkalti/backoff/v5"
)

// RetryingCaller wraps a Caller with exponential backoff. It retries any
// error except auth, billing, and context-overflow classes, which are
// never transient.
type RetryingCaller struct {
	inner      Caller
	maxRetries uint
}

// NewRetryingCaller wraps inner with up to maxRetries backoff attempts.
func NewRetryingCaller(inner Caller, maxRetries uint) *RetryingCaller {
	if maxRetries == 0 {
		maxRetries = 2
	}
	return &RetryingCaller{inner: inner, maxRetries: maxRetries}
}

func (r *RetryingCaller) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	op := func() (string, error) {
		resp, err := r.inner.Generate(ctx, systemPrompt, userPrompt)
		if err == nil {
			return resp, nil
		}
		switch ClassifyError(err) {
		case ErrorClassAuth, ErrorClassBilling, ErrorClassContextOverflow:
			return "", backoff.Permanent(err)
		default:
			return "", err
		}
	}
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(r.maxRetries+1),
	)
}
