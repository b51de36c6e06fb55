package narrative

import (
	"fmt"
	"strings"

	"github.com/basket/sentinel/internal/window"
)

// TemplateRecap collapses a run of blocks into a short deterministic
// bullet list, one line per block, truncated to a single sentence. It
// mirrors digest's template path: no LLM call, never fails, same
// first-line-truncation rule as Digest.UpdateTemplate's summarizeLine.
type TemplateRecap struct{}

// Recap implements window.SceneRecap.
func (TemplateRecap) Recap(blocks []window.Block) string {
	if len(blocks) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("[Recap of %d earlier beats]\n", len(blocks)))
	for _, blk := range blocks {
		line := firstSentence(blk.Text)
		if line == "" {
			continue
		}
		b.WriteString("- ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func firstSentence(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	for _, sep := range []string{". ", "! ", "? ", "\n"} {
		if idx := strings.Index(text, sep); idx >= 0 {
			return strings.TrimSpace(text[:idx+1])
		}
	}
	const maxLen = 120
	if len(text) > maxLen {
		return text[:maxLen] + "..."
	}
	return text
}
