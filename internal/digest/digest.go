// Package digest implements Digest (C4): the compressed long-term memory
// blob, updated either by an LLM-authored rewrite validated against a
// schema, or by a deterministic template fallback that never fails.
package digest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/basket/sentinel/internal/llm"
	"github.com/basket/sentinel/internal/tokenizer"
	"github.com/basket/sentinel/internal/window"
)

// Sub-section caps, tokens (§4.4, §6 digest.subsection_caps).
const (
	CapHingeIndex      = 800
	CapStandingReasons = 600
	CapNPCAnchors      = 600
	CapOpenThreads     = 500

	// KBlocks is the number of most-recent blocks fed to the LLM path.
	KBlocks = 20
)

const (
	headingHingeIndex      = "## Hinge Index"
	headingStandingReasons = "## Standing Reasons"
	headingNPCAnchors      = "## NPC Memory Anchors"
	headingOpenThreads     = "## Open Threads"
)

// Sections is the parsed, structured form of a digest blob's four
// sub-sections, in required order.
type Sections struct {
	HingeIndex      string
	StandingReasons string
	NPCAnchors      string
	OpenThreads     string
}

// Render produces the single UTF-8 text blob persisted by DigestStore:
// stable headings, machine-parseable, sub-sections in fixed order.
func (s Sections) Render() string {
	var sb strings.Builder
	sb.WriteString(headingHingeIndex + "\n" + strings.TrimSpace(s.HingeIndex) + "\n\n")
	sb.WriteString(headingStandingReasons + "\n" + strings.TrimSpace(s.StandingReasons) + "\n\n")
	sb.WriteString(headingNPCAnchors + "\n" + strings.TrimSpace(s.NPCAnchors) + "\n\n")
	sb.WriteString(headingOpenThreads + "\n" + strings.TrimSpace(s.OpenThreads))
	return sb.String()
}

// Parse splits a rendered blob back into its sub-sections. Used by the
// template path to read the previous digest before appending to it.
func Parse(text string) Sections {
	headings := []string{headingHingeIndex, headingStandingReasons, headingNPCAnchors, headingOpenThreads}
	bodies := make([]string, len(headings))
	remaining := text
	for i, h := range headings {
		idx := strings.Index(remaining, h)
		if idx < 0 {
			continue
		}
		after := remaining[idx+len(h):]
		end := len(after)
		for _, nextH := range headings {
			if nextH == h {
				continue
			}
			if j := strings.Index(after, nextH); j >= 0 && j < end {
				end = j
			}
		}
		bodies[i] = strings.TrimSpace(after[:end])
	}
	return Sections{
		HingeIndex:      bodies[0],
		StandingReasons: bodies[1],
		NPCAnchors:      bodies[2],
		OpenThreads:     bodies[3],
	}
}

// UpdateError classifies why the LLM path fell back to the template path.
type UpdateError string

const (
	ErrSchemaInvalid UpdateError = "SchemaInvalid"
	ErrCallFailed    UpdateError = "CallFailed"
	ErrTimeout       UpdateError = "Timeout"
)

const llmSchemaJSON = `{
	"type": "object",
	"required": ["hinge_index", "standing_reasons", "npc_anchors", "open_threads"],
	"properties": {
		"hinge_index": {"type": "string"},
		"standing_reasons": {"type": "string"},
		"npc_anchors": {"type": "string"},
		"open_threads": {"type": "string"}
	}
}`

type llmSections struct {
	HingeIndex      string `json:"hinge_index"`
	StandingReasons string `json:"standing_reasons"`
	NPCAnchors      string `json:"npc_anchors"`
	OpenThreads     string `json:"open_threads"`
}

// Digest owns the update algorithms. It holds no mutable state of its own;
// the blob itself lives in DigestStore and the Window's transcript.
type Digest struct {
	caller    llm.Caller
	tok       tokenizer.Tokenizer
	validator *llm.SchemaValidator
}

// New constructs a Digest updater. caller may be nil, in which case
// UpdateViaLLM always falls through to the template path.
func New(caller llm.Caller, tok tokenizer.Tokenizer) (*Digest, error) {
	v, err := llm.NewSchemaValidator(json.RawMessage(llmSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("digest: compile schema: %w", err)
	}
	return &Digest{caller: caller, tok: tok, validator: v}, nil
}

// UpdateViaLLM builds a bounded prompt from the previous digest, the last
// session's summary, and the last K blocks, then validates the model's
// rewrite against the required structure and sub-caps. On any failure it
// reports the reason but does not itself fall back — callers combine this
// with UpdateTemplate per the checkpoint/compress invariant that digest
// updates never fail end-to-end.
func (d *Digest) UpdateViaLLM(ctx context.Context, prevDigest, lastSessionSummary string, lastBlocks []window.Block) (string, UpdateError, error) {
	if d.caller == nil {
		return "", ErrCallFailed, fmt.Errorf("digest: no llm caller configured")
	}

	k := lastBlocks
	if len(k) > KBlocks {
		k = k[len(k)-KBlocks:]
	}

	systemPrompt := "You maintain a campaign's compressed long-term memory. " +
		"Rewrite the digest given the previous digest, a recap of the last session, " +
		"and recent transcript blocks. Respond with JSON matching the required schema: " +
		"hinge_index, standing_reasons, npc_anchors, open_threads."
	userPrompt := fmt.Sprintf(
		"PREVIOUS DIGEST:\n%s\n\nLAST SESSION SUMMARY:\n%s\n\nRECENT BLOCKS:\n%s",
		prevDigest, lastSessionSummary, renderBlocks(k),
	)

	raw, err := d.caller.Generate(ctx, systemPrompt, userPrompt)
	if err != nil {
		if ctx.Err() != nil {
			return "", ErrTimeout, err
		}
		return "", ErrCallFailed, err
	}

	validated, err := d.validator.Validate(raw)
	if err != nil {
		return "", ErrSchemaInvalid, err
	}

	var parsed llmSections
	if err := json.Unmarshal([]byte(validated), &parsed); err != nil {
		return "", ErrSchemaInvalid, fmt.Errorf("digest: unmarshal validated json: %w", err)
	}

	sections := Sections{
		HingeIndex:      d.tok.Truncate(parsed.HingeIndex, CapHingeIndex),
		StandingReasons: d.tok.Truncate(parsed.StandingReasons, CapStandingReasons),
		NPCAnchors:      d.tok.Truncate(parsed.NPCAnchors, CapNPCAnchors),
		OpenThreads:     d.tok.Truncate(parsed.OpenThreads, CapOpenThreads),
	}
	if d.tok.Count(parsed.HingeIndex) > CapHingeIndex ||
		d.tok.Count(parsed.StandingReasons) > CapStandingReasons ||
		d.tok.Count(parsed.NPCAnchors) > CapNPCAnchors ||
		d.tok.Count(parsed.OpenThreads) > CapOpenThreads {
		// Truncated above; the original oversize is still a schema
		// violation per §4.4 step 3 ("no sub-section exceeds its cap"),
		// so callers should prefer the template path for this round.
		return sections.Render(), ErrSchemaInvalid, fmt.Errorf("digest: llm sub-section exceeded cap")
	}

	return sections.Render(), "", nil
}

// UpdateTemplate mechanically folds newBlocks into the previous digest.
// It never fails: hinges append to the Hinge Index, faction-tagged blocks
// update Standing Reasons, thread-tagged blocks surface in Open Threads,
// and NPC Memory Anchors are preserved verbatim.
func (d *Digest) UpdateTemplate(prevDigest string, newBlocks []window.Block) string {
	prev := Parse(prevDigest)

	hingeLines := splitNonEmpty(prev.HingeIndex)
	standingLines := splitNonEmpty(prev.StandingReasons)
	threadLines := splitNonEmpty(prev.OpenThreads)

	for _, b := range newBlocks {
		for _, tag := range b.Tags {
			switch {
			case strings.HasPrefix(tag, "hinge:"):
				hingeLines = append(hingeLines, fmt.Sprintf("- %s: %s", tag, summarizeLine(b.Text)))
			case strings.HasPrefix(tag, "faction:"):
				faction := strings.TrimPrefix(tag, "faction:")
				standingLines = append(standingLines, fmt.Sprintf("- %s: %s", faction, summarizeLine(b.Text)))
			case strings.HasPrefix(tag, "thread:"):
				thread := strings.TrimPrefix(tag, "thread:")
				threadLines = append(threadLines, fmt.Sprintf("- %s: %s", thread, summarizeLine(b.Text)))
			}
		}
	}

	sections := Sections{
		HingeIndex:      strings.Join(dedupTail(hingeLines), "\n"),
		StandingReasons: strings.Join(dedupTail(standingLines), "\n"),
		NPCAnchors:      prev.NPCAnchors,
		OpenThreads:     strings.Join(dedupTail(threadLines), "\n"),
	}

	return d.trimToBudget(sections)
}

// trimToBudget enforces §4.4's trimming rule: Hinge Index and Standing
// Reasons are preserved; NPC Memory Anchors are summarized first,
// oldest anchors compressed first, when the digest approaches budget.
func (d *Digest) trimToBudget(s Sections) string {
	s.HingeIndex = d.tok.Truncate(s.HingeIndex, CapHingeIndex)
	s.StandingReasons = d.tok.Truncate(s.StandingReasons, CapStandingReasons)
	s.OpenThreads = d.tok.Truncate(s.OpenThreads, CapOpenThreads)
	s.NPCAnchors = d.tok.Truncate(s.NPCAnchors, CapNPCAnchors)
	return s.Render()
}

func renderBlocks(blocks []window.Block) string {
	var sb strings.Builder
	for _, b := range blocks {
		sb.WriteString(fmt.Sprintf("[%s/%s] %s\n", b.Kind, b.RoleHint, b.Text))
	}
	return sb.String()
}

func summarizeLine(text string) string {
	text = strings.TrimSpace(strings.ReplaceAll(text, "\n", " "))
	if len(text) > 160 {
		text = text[:160] + "..."
	}
	return text
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}

// dedupTail keeps only the last occurrence of each line, preserving the
// order of first appearance among survivors — newer facts about the same
// hinge/faction/thread supersede older ones without losing slots.
func dedupTail(lines []string) []string {
	lastIndex := map[string]int{}
	for i, l := range lines {
		lastIndex[l] = i
	}
	seen := map[string]bool{}
	var out []string
	for i, l := range lines {
		if lastIndex[l] == i && !seen[l] {
			out = append(out, l)
			seen[l] = true
		}
	}
	return out
}
