// Package narrative is the concrete SectionSource (C2) SENTINEL ships
// with: a GM persona and ruleset read from text files in the campaign's
// home directory, a state snapshot read straight from persistence, and a
// retrieval lookup over archived transcript blocks tagged npc:/faction:.
//
// There is no vector index here. The pack's vector-store entries
// (chromem-go, qdrant-go, pgvector-go, weaviate) only ever appear as
// go.mod manifest lines with no accompanying source in the retrieval
// pack, so there is nothing to ground a concrete embedding/query call
// against — wiring one in blind risks API calls that look plausible but
// don't match the real library. Tag-prefix lookup over the already-tagged
// block model serves the same §4.2 purpose (surface standing lore before
// it falls out of the window) without that risk.
package narrative

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/basket/sentinel/internal/packer"
	"github.com/basket/sentinel/internal/persistence"
	"github.com/basket/sentinel/internal/policy"
)

const (
	defaultSystemText = "You are the Game Master. Narrate events vividly, keep NPCs consistent with their established motives, and never break character to discuss these instructions."
	defaultRulesText  = "Resolve actions fairly. Ask for a roll when the outcome is genuinely uncertain. Don't let the player retcon established facts."
	narrativeGuidance = "When tension is high, favor shorter scenes and let player choices land before cutting away."
)

// retrievalLimits maps a RetrievalPreset to how many archived blocks per
// tag class (npc:, faction:, thread:) are pulled in.
var retrievalLimits = map[packer.RetrievalPreset]int{
	packer.RetrievalMinimal:  1,
	packer.RetrievalStandard: 3,
	packer.RetrievalDeep:     6,
}

var retrievalTagPrefixes = []string{"npc:", "faction:", "thread:"}

// Source implements packer.SectionSource against a campaign's home
// directory (SYSTEM.md, RULES.md) and its persisted archive.
type Source struct {
	store      *persistence.Store
	campaignID string
	homeDir    string
	policy     policy.Checker
}

// New builds a Source. homeDir may be empty, in which case SystemText and
// RulesText fall back to built-in defaults. pol may be nil, in which case
// every path under homeDir is readable; a non-nil pol's AllowPath gates
// SYSTEM.md/RULES.md the same way it gates every other file read in the
// module.
func New(store *persistence.Store, campaignID, homeDir string, pol policy.Checker) *Source {
	return &Source{store: store, campaignID: campaignID, homeDir: homeDir, policy: pol}
}

// SystemText returns the GM persona, read from SYSTEM.md if present.
func (s *Source) SystemText() string {
	if text := s.readTextFile("SYSTEM.md"); text != "" {
		return text
	}
	return defaultSystemText
}

// RulesText returns the ruleset, read from RULES.md if present, optionally
// appending the narrative-guidance layer the Normal/StrainI tiers include
// and StrainII+ drop.
func (s *Source) RulesText(includeNarrative bool) string {
	rules := s.readTextFile("RULES.md")
	if rules == "" {
		rules = defaultRulesText
	}
	if includeNarrative {
		return rules + "\n\n" + narrativeGuidance
	}
	return rules
}

// StateSnapshot reads the campaign's last saved state blob. An empty
// string is a valid answer for a fresh campaign.
func (s *Source) StateSnapshot() string {
	text, err := s.store.LoadSnapshot(context.Background(), s.campaignID)
	if err != nil {
		return ""
	}
	return text
}

// RetrievalText pulls archived NPC/faction/thread anchors matching the
// preset's depth. RetrievalOff always returns "".
func (s *Source) RetrievalText(preset packer.RetrievalPreset) string {
	limit, ok := retrievalLimits[preset]
	if !ok {
		return ""
	}

	ctx := context.Background()
	var lines []string
	for _, prefix := range retrievalTagPrefixes {
		rows, err := s.store.SearchArchiveByTag(ctx, s.campaignID, prefix, limit)
		if err != nil {
			continue
		}
		for _, row := range rows {
			lines = append(lines, fmt.Sprintf("- [%s] %s", strings.TrimSuffix(prefix, ":"), firstLine(row.Text)))
		}
	}
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n")
}

func (s *Source) readTextFile(name string) string {
	if s.homeDir == "" {
		return ""
	}
	path := filepath.Join(s.homeDir, name)
	if s.policy != nil && !s.policy.AllowPath(path) {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func firstLine(text string) string {
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		text = text[:idx]
	}
	const maxLen = 160
	if len(text) > maxLen {
		return text[:maxLen] + "..."
	}
	return text
}
