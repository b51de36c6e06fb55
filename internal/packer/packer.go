// Package packer implements Packer (C5): assembles a PromptPack and its
// PackTrace from the static sections, the digest, and the transcript
// window, under the section budgets for the classified strain tier.
package packer

import (
	"fmt"
	"strings"

	"github.com/basket/sentinel/internal/shared"
	"github.com/basket/sentinel/internal/strain"
	"github.com/basket/sentinel/internal/tokenizer"
	"github.com/basket/sentinel/internal/window"
)

// Section names, fixed order.
const (
	SectionSystem        = "System"
	SectionRules         = "Rules"
	SectionStateSnapshot = "StateSnapshot"
	SectionDigest        = "Digest"
	SectionRecentWindow  = "RecentWindow"
	SectionRetrieval     = "Retrieval"
	SectionUserInput     = "UserInput"
)

// DefaultBudgets is the Normal-tier per-section token table (§3).
var DefaultBudgets = map[string]int{
	SectionSystem:        1500,
	SectionRules:         2000,
	SectionStateSnapshot: 1500,
	SectionDigest:        2500,
	SectionRecentWindow:  3500,
	SectionRetrieval:     2000,
	SectionUserInput:     500,
}

// RetrievalPreset bounds how much retrieval text is requested.
type RetrievalPreset string

const (
	RetrievalOff      RetrievalPreset = "off"
	RetrievalMinimal  RetrievalPreset = "minimal"
	RetrievalStandard RetrievalPreset = "standard"
	RetrievalDeep     RetrievalPreset = "deep"
)

// TierPolicy is the full per-tier knob table from §4.5.
type TierPolicy struct {
	WindowBlocks    int
	Retrieval       RetrievalPreset
	RulesNarrative  bool // include narrative_guidance layer, cut at StrainII+
	RecapOldestHalf bool
}

var tierPolicies = map[strain.Tier]TierPolicy{
	strain.Normal:    {WindowBlocks: 12, Retrieval: RetrievalStandard, RulesNarrative: true, RecapOldestHalf: false},
	strain.StrainI:   {WindowBlocks: 10, Retrieval: RetrievalMinimal, RulesNarrative: true, RecapOldestHalf: false},
	strain.StrainII:  {WindowBlocks: 8, Retrieval: RetrievalOff, RulesNarrative: false, RecapOldestHalf: true},
	strain.StrainIII: {WindowBlocks: 5, Retrieval: RetrievalOff, RulesNarrative: false, RecapOldestHalf: true},
}

// SectionSource is the collaborator contract for the static sections
// (§4.2, §6).
type SectionSource interface {
	SystemText() string
	RulesText(includeNarrative bool) string
	StateSnapshot() string
	RetrievalText(preset RetrievalPreset) string
}

// Message is one (role, text) entry in the assembled pack.
type Message struct {
	Role string
	Text string
}

// PromptPack is the assembled messages sent to the LlmCaller.
type PromptPack struct {
	Messages []Message
}

// SectionTrace records one section's measured/trimmed size for the trace.
type SectionTrace struct {
	Section       string
	UsedTokens    int
	TrimmedTokens int
}

// PackTrace is the per-call diagnostic record (§3, used by /context debug).
// TraceID is a fresh uuid per build, independent of the Coordinator's
// sequence counter, so a trace row can be correlated against logs and
// golden-test fixtures even across campaigns.
type PackTrace struct {
	TraceID          string
	Sections         []SectionTrace
	RetainedBlockIDs []int64
	DroppedBlocks    []window.DroppedBlock
	Pressure         float64
	Tier             strain.Tier
	UserInputTruncated bool
	EscalatedOnce      bool
	RetrievalWarning   string
}

// Packer assembles PromptPack + PackTrace per turn.
type Packer struct {
	tok     tokenizer.Tokenizer
	source  SectionSource
	digest  func() string // current digest text, read fresh each build
	win     *window.Window
	budgets map[string]int
}

// New constructs a Packer. digestText is called once per build to fetch
// the current digest blob (kept fresh across /checkpoint and /compress).
func New(tok tokenizer.Tokenizer, source SectionSource, win *window.Window, digestText func() string) *Packer {
	return &Packer{tok: tok, source: source, digest: digestText, win: win, budgets: DefaultBudgets}
}

// Build runs the single-pass algorithm from §4.5, restarting at most once
// on tier escalation.
func (p *Packer) Build(userInput string, activeRetrieval bool) (PromptPack, PackTrace) {
	trace := PackTrace{TraceID: shared.NewTraceID()}

	// Step 1: reserve UserInput.
	userTokens := p.tok.Count(userInput)
	effectiveUserInput := userInput
	if userTokens > p.budgets[SectionUserInput] {
		effectiveUserInput = p.tok.Truncate(userInput, p.budgets[SectionUserInput])
		trace.UserInputTruncated = true
	}

	tier := strain.Normal
	var sections map[string]string
	var winResult window.SelectResult
	var retrievalWarning string

	for attempt := 0; attempt < 2; attempt++ {
		policy := tierPolicies[tier]
		retrievalPreset := policy.Retrieval
		if activeRetrieval && retrievalPreset == RetrievalOff {
			retrievalPreset = RetrievalMinimal
			retrievalWarning = fmt.Sprintf("active retrieval requested at tier %s; may escalate strain", tier)
		}

		sections = map[string]string{
			SectionSystem:        p.source.SystemText(),
			SectionRules:         p.source.RulesText(policy.RulesNarrative),
			SectionStateSnapshot: p.source.StateSnapshot(),
			SectionDigest:        p.digest(),
			SectionRetrieval:     p.source.RetrievalText(retrievalPreset),
		}

		for name, budget := range p.budgets {
			if name == SectionRecentWindow || name == SectionUserInput {
				continue
			}
			if p.tok.Count(sections[name]) > budget {
				sections[name] = p.tok.Truncate(sections[name], budget)
			}
		}

		winResult = p.win.Select(p.budgets[SectionRecentWindow], window.TierPolicy{
			TargetBlocks:    policy.WindowBlocks,
			RecapOldestHalf: policy.RecapOldestHalf,
		})

		used := p.tok.Count(sections[SectionSystem]) + p.tok.Count(sections[SectionRules]) +
			p.tok.Count(sections[SectionStateSnapshot]) + p.tok.Count(sections[SectionDigest]) +
			p.tok.Count(sections[SectionRetrieval]) + p.tok.Count(winResult.Text) + p.tok.Count(effectiveUserInput)
		allowed := sumBudgets(p.budgets)
		pressure := float64(used) / float64(allowed)
		newTier := strain.Classify(pressure)

		trace.Pressure = pressure
		trace.Tier = newTier

		if newTier == tier || attempt == 1 {
			break
		}
		trace.EscalatedOnce = true
		tier = newTier
	}

	trace.RetainedBlockIDs = winResult.RetainedIDs
	trace.DroppedBlocks = winResult.Dropped
	trace.RetrievalWarning = retrievalWarning
	trace.Sections = []SectionTrace{
		{Section: SectionSystem, UsedTokens: p.tok.Count(sections[SectionSystem])},
		{Section: SectionRules, UsedTokens: p.tok.Count(sections[SectionRules])},
		{Section: SectionStateSnapshot, UsedTokens: p.tok.Count(sections[SectionStateSnapshot])},
		{Section: SectionDigest, UsedTokens: p.tok.Count(sections[SectionDigest])},
		{Section: SectionRecentWindow, UsedTokens: p.tok.Count(winResult.Text)},
		{Section: SectionRetrieval, UsedTokens: p.tok.Count(sections[SectionRetrieval])},
		{Section: SectionUserInput, UsedTokens: p.tok.Count(effectiveUserInput)},
	}

	// Step 9: assemble. System+Rules collapse into one system message;
	// StateSnapshot+Digest+Retrieval collapse into one "context" system
	// message; then the window's messages; finally user_input last.
	pack := PromptPack{
		Messages: []Message{
			{Role: "system", Text: strings.TrimSpace(sections[SectionSystem] + "\n\n" + sections[SectionRules])},
			{Role: "system", Text: formatContext(sections[SectionStateSnapshot], sections[SectionDigest], sections[SectionRetrieval])},
		},
	}
	if winResult.Text != "" {
		pack.Messages = append(pack.Messages, Message{Role: "assistant", Text: strings.TrimSpace(winResult.Text)})
	}
	pack.Messages = append(pack.Messages, Message{Role: "user", Text: effectiveUserInput})

	return pack, trace
}

func sumBudgets(budgets map[string]int) int {
	total := 0
	for _, v := range budgets {
		total += v
	}
	return total
}

func formatContext(stateSnapshot, digestText, retrieval string) string {
	var sb strings.Builder
	sb.WriteString("<context>\n")
	if stateSnapshot != "" {
		sb.WriteString("<state>\n" + stateSnapshot + "\n</state>\n")
	}
	if digestText != "" {
		sb.WriteString("<digest>\n" + digestText + "\n</digest>\n")
	}
	if retrieval != "" {
		sb.WriteString("<retrieval>\n" + retrieval + "\n</retrieval>\n")
	}
	sb.WriteString("</context>")
	return sb.String()
}
