package packer

import (
	"strings"
	"testing"

	"github.com/basket/sentinel/internal/tokenizer"
	"github.com/basket/sentinel/internal/window"
)

type fakeSource struct {
	system, rules, state, retrieval string
}

func (f *fakeSource) SystemText() string                      { return f.system }
func (f *fakeSource) RulesText(narrative bool) string          { return f.rules }
func (f *fakeSource) StateSnapshot() string                   { return f.state }
func (f *fakeSource) RetrievalText(preset RetrievalPreset) string {
	if preset == RetrievalOff {
		return ""
	}
	return f.retrieval
}

func TestBuild_AssemblesMessagesInOrder(t *testing.T) {
	src := &fakeSource{system: "You are the GM.", rules: "Core rules.", state: "Day 3.", retrieval: "Lore snippet."}
	win := window.New(tokenizer.Heuristic{}, nil)
	_ = win.Append(window.Block{ID: 1, Kind: window.KindNarrative, RoleHint: "assistant", Text: "The gate creaks open."})

	digestText := "## Hinge Index\n- none\n"
	p := New(tokenizer.Heuristic{}, src, win, func() string { return digestText })

	pack, trace := p.Build("I step inside.", false)

	if len(pack.Messages) < 4 {
		t.Fatalf("expected at least 4 messages, got %d", len(pack.Messages))
	}
	if pack.Messages[len(pack.Messages)-1].Role != "user" {
		t.Errorf("expected last message role=user, got %s", pack.Messages[len(pack.Messages)-1].Role)
	}
	if pack.Messages[len(pack.Messages)-1].Text != "I step inside." {
		t.Errorf("expected last message to be the user input, got %q", pack.Messages[len(pack.Messages)-1].Text)
	}
	if !strings.Contains(pack.Messages[0].Text, "GM") {
		t.Errorf("expected first message to contain system text, got %q", pack.Messages[0].Text)
	}
	if trace.Tier.String() == "" {
		t.Error("expected trace to classify a tier")
	}
}

func TestBuild_TruncatesOversizeUserInput(t *testing.T) {
	src := &fakeSource{}
	win := window.New(tokenizer.Heuristic{}, nil)
	p := New(tokenizer.Heuristic{}, src, win, func() string { return "" })

	huge := strings.Repeat("word ", 1000)
	_, trace := p.Build(huge, false)
	if !trace.UserInputTruncated {
		t.Error("expected UserInputTruncated=true for oversize user input")
	}
}

func TestBuild_RetrievalOffAtMaxPressure(t *testing.T) {
	huge := strings.Repeat("x ", 5000)
	src := &fakeSource{system: huge, rules: huge, state: huge, retrieval: "lore-marker"}
	win := window.New(tokenizer.Heuristic{}, nil)
	_ = win.Append(window.Block{ID: 1, Kind: window.KindNarrative, RoleHint: "assistant", Text: huge})
	p := New(tokenizer.Heuristic{}, src, win, func() string { return huge })

	pack, trace := p.Build("go", false)
	if trace.Pressure < 0.95 {
		t.Fatalf("expected maxed-out sections to reach StrainIII pressure, got %f", trace.Pressure)
	}
	for _, m := range pack.Messages {
		if strings.Contains(m.Text, "lore-marker") {
			t.Error("expected retrieval text absent once tier reaches StrainII/III")
		}
	}
}
