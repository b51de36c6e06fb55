package tui

import (
	"fmt"
	"strings"

	"github.com/basket/sentinel/internal/packer"
)

// formatTrace renders a PackTrace as the human-readable table /context
// debug prints: section-by-section token usage, tier/pressure, and which
// blocks were retained versus dropped and why.
func formatTrace(trace packer.PackTrace) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Context Trace %s — tier %s, pressure %.2f\n", trace.TraceID, trace.Tier, trace.Pressure)
	b.WriteString("─────────────────────────────────────────────\n")
	for _, s := range trace.Sections {
		fmt.Fprintf(&b, "%-14s %7d tokens", s.Section, s.UsedTokens)
		if s.TrimmedTokens > 0 {
			fmt.Fprintf(&b, " (%d trimmed)", s.TrimmedTokens)
		}
		b.WriteString("\n")
	}
	b.WriteString("─────────────────────────────────────────────\n")
	fmt.Fprintf(&b, "Retained blocks: %d\n", len(trace.RetainedBlockIDs))
	if len(trace.DroppedBlocks) > 0 {
		fmt.Fprintf(&b, "Dropped blocks:  %d\n", len(trace.DroppedBlocks))
		for _, d := range trace.DroppedBlocks {
			fmt.Fprintf(&b, "  block %d: %s\n", d.ID, d.Reason)
		}
	}
	if trace.UserInputTruncated {
		b.WriteString("user input was truncated to fit its section budget\n")
	}
	if trace.EscalatedOnce {
		b.WriteString("tier escalated once this build (hysteresis one-shot)\n")
	}
	if trace.RetrievalWarning != "" {
		fmt.Fprintf(&b, "retrieval: %s\n", trace.RetrievalWarning)
	}
	return b.String()
}
