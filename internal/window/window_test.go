package window

import (
	"strings"
	"testing"

	"github.com/basket/sentinel/internal/tokenizer"
)

func mkBlock(id int64, kind BlockKind, roleHint, text string, tags ...string) Block {
	return Block{ID: id, Kind: kind, RoleHint: roleHint, Text: text, Tags: tags}
}

func TestAppend_RejectsNonMonotonicID(t *testing.T) {
	w := New(tokenizer.Heuristic{}, nil)
	if err := w.Append(mkBlock(1, KindNarrative, "assistant", "a")); err != nil {
		t.Fatalf("append 1: %v", err)
	}
	if err := w.Append(mkBlock(1, KindNarrative, "assistant", "b")); err == nil {
		t.Fatal("expected error appending duplicate id")
	}
	if err := w.Append(mkBlock(0, KindNarrative, "assistant", "c")); err == nil {
		t.Fatal("expected error appending lower id")
	}
	if len(w.Blocks()) != 1 {
		t.Fatalf("expected state unchanged after rejected append, got %d blocks", len(w.Blocks()))
	}
}

func TestSelect_EmptyWindow(t *testing.T) {
	w := New(tokenizer.Heuristic{}, nil)
	res := w.Select(1000, TierPolicy{TargetBlocks: 12})
	if res.Text != "" || len(res.RetainedIDs) != 0 {
		t.Fatalf("expected empty selection, got %+v", res)
	}
}

func TestSelect_RetainsLastChoiceAndUserInput(t *testing.T) {
	w := New(tokenizer.Heuristic{}, nil)
	for i := int64(1); i <= 20; i++ {
		_ = w.Append(mkBlock(i, KindNarrative, "assistant", strings.Repeat("x", 40)))
	}
	_ = w.Append(mkBlock(21, KindChoice, "assistant", "Will you open the gate?"))
	_ = w.Append(mkBlock(22, KindNarrative, "user", "I open the gate."))

	res := w.Select(10, TierPolicy{TargetBlocks: 4})
	foundChoice, foundUser := false, false
	for _, id := range res.RetainedIDs {
		if id == 21 {
			foundChoice = true
		}
		if id == 22 {
			foundUser = true
		}
	}
	if !foundChoice {
		t.Error("expected last Choice block to be retained under pressure")
	}
	if !foundUser {
		t.Error("expected last user-input block to be retained under pressure")
	}
}

func TestSelect_AnchorHingeRetainedBeyondStartingSet(t *testing.T) {
	w := New(tokenizer.Heuristic{}, nil)
	_ = w.Append(mkBlock(1, KindNarrative, "assistant", "The duke remembers the betrayal.", "hinge:duke-betrayal"))
	for i := int64(2); i <= 15; i++ {
		_ = w.Append(mkBlock(i, KindNarrative, "assistant", "filler"))
	}

	res := w.Select(100000, TierPolicy{TargetBlocks: 4})
	found := false
	for _, id := range res.RetainedIDs {
		if id == 1 {
			found = true
		}
	}
	if !found {
		t.Error("expected hinge-tagged block outside the starting window to be retained as an anchor")
	}
}

func TestSelect_DropsLowSignalSystemFirst(t *testing.T) {
	w := New(tokenizer.Heuristic{}, nil)
	_ = w.Append(mkBlock(1, KindSystem, "system", strings.Repeat("noise ", 200)))
	_ = w.Append(mkBlock(2, KindNarrative, "assistant", "short"))
	_ = w.Append(mkBlock(3, KindNarrative, "user", "go"))

	res := w.Select(5, TierPolicy{TargetBlocks: 4})
	var droppedSystem bool
	for _, d := range res.Dropped {
		if d.ID == 1 && d.Reason == DropLowSignalSystem {
			droppedSystem = true
		}
	}
	if !droppedSystem {
		t.Errorf("expected block 1 dropped as low_signal_system, got dropped=%+v retained=%v", res.Dropped, res.RetainedIDs)
	}
}

func TestSelect_NeverFailsUnderExtremePressure(t *testing.T) {
	w := New(tokenizer.Heuristic{}, nil)
	_ = w.Append(mkBlock(1, KindChoice, "assistant", strings.Repeat("long ", 500)))
	_ = w.Append(mkBlock(2, KindNarrative, "user", strings.Repeat("long ", 500)))

	res := w.Select(1, TierPolicy{TargetBlocks: 4})
	if len(res.RetainedIDs) == 0 {
		t.Fatal("expected minimum reservation retained even over budget")
	}
	if !res.Overrun {
		t.Error("expected Overrun=true when minimum reservation exceeds budget")
	}
}
