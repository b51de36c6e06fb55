package narrative_test

import (
	"strings"
	"testing"

	"github.com/basket/sentinel/internal/narrative"
	"github.com/basket/sentinel/internal/window"
)

func TestTemplateRecap_EmptyBlocksReturnsEmpty(t *testing.T) {
	var r narrative.TemplateRecap
	if got := r.Recap(nil); got != "" {
		t.Errorf("expected empty recap for no blocks, got %q", got)
	}
}

func TestTemplateRecap_OneBulletPerBlock(t *testing.T) {
	var r narrative.TemplateRecap
	blocks := []window.Block{
		{ID: 1, Kind: window.KindNarrative, Text: "The party enters the crypt. It is cold."},
		{ID: 2, Kind: window.KindNarrative, Text: "A skeleton rises!"},
	}
	got := r.Recap(blocks)
	if !strings.Contains(got, "The party enters the crypt.") {
		t.Errorf("expected first sentence of block 1 present, got %q", got)
	}
	if !strings.Contains(got, "A skeleton rises!") {
		t.Errorf("expected block 2 text present, got %q", got)
	}
	if strings.Count(got, "- ") != 2 {
		t.Errorf("expected one bullet per block, got %q", got)
	}
}
