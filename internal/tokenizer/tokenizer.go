// Package tokenizer implements the Tokenizer capability: counting and
// truncating text against a model's real token boundaries where possible,
// falling back to a cheap heuristic when no encoding is available.
package tokenizer

import (
	"strings"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// Tokenizer counts tokens and truncates text to fit a budget. Every core
// component that measures Section/Block size goes through this interface
// rather than calling len() on a string.
type Tokenizer interface {
	Count(text string) int
	Truncate(text string, maxTokens int) string
}

// Tiktoken wraps a cl100k_base BPE encoding. It is the default tokenizer:
// exact enough to make Packer's budget math trustworthy across providers
// that roughly share BPE vocabulary size.
type Tiktoken struct {
	enc *tiktoken.Tiktoken
}

var (
	sharedEncOnce sync.Once
	sharedEnc     *tiktoken.Tiktoken
	sharedEncErr  error
)

// New returns a Tiktoken tokenizer, or a Heuristic fallback if the
// cl100k_base encoding cannot be loaded (e.g. no network access to fetch
// its vocabulary file on first use in some environments).
func New() Tokenizer {
	sharedEncOnce.Do(func() {
		sharedEnc, sharedEncErr = tiktoken.GetEncoding("cl100k_base")
	})
	if sharedEncErr != nil || sharedEnc == nil {
		return Heuristic{}
	}
	return &Tiktoken{enc: sharedEnc}
}

func (t *Tiktoken) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(t.enc.Encode(text, nil, nil))
}

func (t *Tiktoken) Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	ids := t.enc.Encode(text, nil, nil)
	if len(ids) <= maxTokens {
		return text
	}
	return t.enc.Decode(ids[:maxTokens])
}

// Heuristic is the ~4-chars-per-token approximation used when no BPE
// encoding is loaded. It is deliberately simple and deterministic: Packer's
// budget math must still be reproducible even without tiktoken.
type Heuristic struct{}

func (Heuristic) Count(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

func (Heuristic) Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	maxChars := maxTokens * 4
	if len(text) <= maxChars {
		return text
	}
	// Avoid cutting mid-rune.
	cut := maxChars
	for cut > 0 && !isRuneBoundary(text, cut) {
		cut--
	}
	return strings.TrimSpace(text[:cut])
}

func isRuneBoundary(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	return s[i]&0xC0 != 0x80
}
