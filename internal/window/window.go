// Package window implements Window (C3): the ordered transcript and the
// deterministic selection algorithm that renders it into a RecentWindow
// section under a token budget.
package window

import (
	"fmt"
	"sort"
	"strings"

	"github.com/basket/sentinel/internal/tokenizer"
)

// BlockKind is one of the four transcript block kinds.
type BlockKind string

const (
	KindNarrative BlockKind = "Narrative"
	KindIntel     BlockKind = "Intel"
	KindChoice    BlockKind = "Choice"
	KindSystem    BlockKind = "System"
)

// Block is one entry in the transcript log. Ids strictly increase; text is
// immutable once appended. SessionGeneration is the checkpoint generation
// the block was appended under (§4.3.1's anchor-hinge TTL is measured in
// this unit, not wall-clock time).
type Block struct {
	ID                int64
	Kind              BlockKind
	Text              string
	Tags              []string
	RoleHint          string // "system", "user", "assistant"
	SessionGeneration int
}

// HasTag reports whether the block carries an exact tag.
func (b Block) HasTag(tag string) bool {
	for _, t := range b.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// HingeID returns the hinge identifier from a "hinge:<id>" tag, or "" if
// the block carries none.
func (b Block) HingeID() string {
	for _, t := range b.Tags {
		if id, ok := strings.CutPrefix(t, "hinge:"); ok {
			return id
		}
	}
	return ""
}

func (b Block) isLowSignalSystem() bool {
	if b.HasTag("low_signal") {
		return true
	}
	return b.Kind == KindSystem && len(b.Tags) == 0
}

// DropReason explains why a block was trimmed from the window, recorded in
// the PackTrace.
type DropReason string

const (
	DropLowSignalSystem DropReason = "low_signal_system"
	DropOldestNarrative DropReason = "oldest_narrative"
	DropOldestIntel     DropReason = "oldest_intel"
	DropOldestChoice    DropReason = "oldest_choice"
	DropAnchorHinge     DropReason = "anchor_hinge"
)

// TierPolicy is the subset of tier-dependent knobs Window needs; Packer
// supplies these from its own tier table (§4.5).
type TierPolicy struct {
	TargetBlocks   int // Normal 12 / I 10 / II 8 / III 5
	RecapOldestHalf bool // true at StrainII/III: replace oldest half with a recap
}

const (
	targetBlocksFloor   = 4
	targetBlocksCeiling = 20
	anchorQuota         = 3
	// anchorTTLSessions is the anchor-hinge TTL from §4.3.1: a hinge more
	// than this many checkpoint generations behind the window's current
	// session is represented only via the Digest, never as an anchor.
	anchorTTLSessions = 8
)

// SceneRecap produces a summarizing paragraph for a set of older blocks,
// used when the tier policy calls for collapsing the oldest half of the
// window (§4.3 step 8). Implemented by an external collaborator.
type SceneRecap interface {
	Recap(blocks []Block) string
}

// Window owns the ordered transcript.
type Window struct {
	blocks         []Block
	tok            tokenizer.Tokenizer
	recap          SceneRecap
	currentSession int
}

// New creates an empty Window. recap may be nil; if so, StrainII/III's
// recap-collapse step is skipped and the oldest half is dropped instead.
func New(tok tokenizer.Tokenizer, recap SceneRecap) *Window {
	return &Window{tok: tok, recap: recap}
}

// Append adds a block. Non-increasing ids are rejected without mutating
// state.
func (w *Window) Append(b Block) error {
	if len(w.blocks) > 0 && b.ID <= w.blocks[len(w.blocks)-1].ID {
		return fmt.Errorf("window: non-monotonic block id %d (last %d)", b.ID, w.blocks[len(w.blocks)-1].ID)
	}
	w.blocks = append(w.blocks, b)
	if b.SessionGeneration > w.currentSession {
		w.currentSession = b.SessionGeneration
	}
	return nil
}

// Blocks returns every block currently held, oldest first. Callers must
// not mutate the returned slice.
func (w *Window) Blocks() []Block {
	return w.blocks
}

// SelectResult is the output of Select.
type SelectResult struct {
	Text        string
	RetainedIDs []int64
	Dropped     []DroppedBlock
	Overrun     bool // true if even the minimum reservation exceeds budget
}

// DroppedBlock records one block removed from the selection and why.
type DroppedBlock struct {
	ID     int64
	Reason DropReason
}

// Select runs the deterministic selection algorithm from §4.3 and renders
// the retained set as role-prefixed text. It never fails: under extreme
// pressure it returns the minimum reservation (last user input + last GM
// Choice) even over budget, flagging Overrun in the result.
func (w *Window) Select(budgetTokens int, policy TierPolicy) SelectResult {
	target := policy.TargetBlocks
	if target < targetBlocksFloor {
		target = targetBlocksFloor
	}
	if target > targetBlocksCeiling {
		target = targetBlocksCeiling
	}

	if len(w.blocks) == 0 {
		return SelectResult{}
	}

	// Step 1: starting set = last `target` blocks.
	startIdx := len(w.blocks) - target
	if startIdx < 0 {
		startIdx = 0
	}
	selected := make(map[int64]Block, len(w.blocks))
	for _, b := range w.blocks[startIdx:] {
		selected[b.ID] = b
	}

	// Step 2: anchor retention — hinge-tagged blocks older than the
	// starting set, one per distinct hinge id, newest first, capped by
	// the anchor quota, and dropped once the hinge falls outside the
	// anchor TTL (§4.3.1). Older occurrences of an already-seen hinge id
	// are never younger than the newest one, so marking seenHinge on the
	// first (newest) sighting is safe even when that sighting misses TTL.
	seenHinge := map[string]bool{}
	anchors := []Block{}
	for i := startIdx - 1; i >= 0; i-- {
		b := w.blocks[i]
		hid := b.HingeID()
		if hid == "" || seenHinge[hid] {
			continue
		}
		seenHinge[hid] = true
		if w.currentSession-b.SessionGeneration > anchorTTLSessions {
			continue
		}
		anchors = append(anchors, b)
		if len(anchors) >= anchorQuota {
			break
		}
	}
	for _, b := range anchors {
		selected[b.ID] = b
	}

	// Step 3: last GM Choice block and last user-input block, wherever
	// they fall in the transcript.
	var lastChoice, lastUserInput *Block
	for i := len(w.blocks) - 1; i >= 0; i-- {
		b := w.blocks[i]
		if lastChoice == nil && b.Kind == KindChoice {
			bc := b
			lastChoice = &bc
		}
		if lastUserInput == nil && b.RoleHint == "user" {
			bc := b
			lastUserInput = &bc
		}
		if lastChoice != nil && lastUserInput != nil {
			break
		}
	}
	if lastChoice != nil {
		selected[lastChoice.ID] = *lastChoice
	}
	if lastUserInput != nil {
		selected[lastUserInput.ID] = *lastUserInput
	}

	ordered := orderedBlocks(selected)

	// Step 8: at StrainII+, collapse the oldest half into a recap before
	// measuring, so the drop loop below sees the smaller set first.
	var droppedForRecap []DroppedBlock
	if policy.RecapOldestHalf && len(ordered) > 2 {
		half := len(ordered) / 2
		collapsed := ordered[:half]
		rest := ordered[half:]
		recapText := ""
		if w.recap != nil {
			recapText = w.recap.Recap(collapsed)
		}
		for _, b := range collapsed {
			droppedForRecap = append(droppedForRecap, DroppedBlock{ID: b.ID, Reason: DropOldestNarrative})
		}
		if recapText != "" {
			recapBlock := Block{ID: collapsed[len(collapsed)-1].ID, Kind: KindSystem, Text: recapText, RoleHint: "system"}
			ordered = append([]Block{recapBlock}, rest...)
		} else {
			ordered = rest
		}
	}

	result := w.fitToBudget(ordered, budgetTokens, lastChoice, lastUserInput)
	result.Dropped = append(droppedForRecap, result.Dropped...)
	return result
}

func orderedBlocks(set map[int64]Block) []Block {
	out := make([]Block, 0, len(set))
	for _, b := range set {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// fitToBudget implements steps 4-9: measure, and if over budget drop in
// the fixed class order, ties breaking oldest-first, never dropping the
// last Choice or last user input.
func (w *Window) fitToBudget(ordered []Block, budget int, lastChoice, lastUserInput *Block) SelectResult {
	protectedID := map[int64]bool{}
	if lastChoice != nil {
		protectedID[lastChoice.ID] = true
	}
	if lastUserInput != nil {
		protectedID[lastUserInput.ID] = true
	}

	dropped := []DroppedBlock{}
	for {
		total := w.renderTokens(ordered)
		if total <= budget {
			break
		}
		victim, reason, idx := pickVictim(ordered, protectedID)
		if idx < 0 {
			// Nothing left to drop but still over budget: only the
			// protected minimum remains (or none of it fits either).
			break
		}
		dropped = append(dropped, DroppedBlock{ID: victim.ID, Reason: reason})
		ordered = append(ordered[:idx], ordered[idx+1:]...)
	}

	overrun := w.renderTokens(ordered) > budget
	ids := make([]int64, 0, len(ordered))
	for _, b := range ordered {
		ids = append(ids, b.ID)
	}
	return SelectResult{
		Text:        render(ordered),
		RetainedIDs: ids,
		Dropped:     dropped,
		Overrun:     overrun,
	}
}

// pickVictim finds the next block to drop per the §4.3 step 5 class
// order: low-signal System, oldest Narrative, oldest Intel, oldest Choice
// (never the protected one), then anchor hinges oldest-first.
func pickVictim(ordered []Block, protected map[int64]bool) (Block, DropReason, int) {
	classes := []struct {
		reason DropReason
		match  func(Block) bool
	}{
		{DropLowSignalSystem, func(b Block) bool { return !protected[b.ID] && b.isLowSignalSystem() }},
		{DropOldestNarrative, func(b Block) bool { return !protected[b.ID] && b.Kind == KindNarrative }},
		{DropOldestIntel, func(b Block) bool { return !protected[b.ID] && b.Kind == KindIntel }},
		{DropOldestChoice, func(b Block) bool { return !protected[b.ID] && b.Kind == KindChoice }},
		{DropAnchorHinge, func(b Block) bool { return !protected[b.ID] && b.HingeID() != "" }},
	}
	for _, c := range classes {
		for i, b := range ordered {
			if c.match(b) {
				return b, c.reason, i
			}
		}
	}
	return Block{}, "", -1
}

func (w *Window) renderTokens(blocks []Block) int {
	return w.tok.Count(render(blocks))
}

func render(blocks []Block) string {
	var sb strings.Builder
	for _, b := range blocks {
		sb.WriteString(fmt.Sprintf("[%s] %s\n", b.RoleHint, b.Text))
	}
	return sb.String()
}
