package narrative_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/basket/sentinel/internal/narrative"
	"github.com/basket/sentinel/internal/packer"
	"github.com/basket/sentinel/internal/persistence"
	"github.com/basket/sentinel/internal/policy"
)

func openTestStore(t *testing.T) *persistence.Store {
	t.Helper()
	dir := t.TempDir()
	store, err := persistence.Open(filepath.Join(dir, "campaign.db"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSource_SystemTextFallsBackToDefault(t *testing.T) {
	store := openTestStore(t)
	src := narrative.New(store, "camp-1", "", nil)
	if src.SystemText() == "" {
		t.Error("expected a non-empty default system text")
	}
}

func TestSource_SystemTextReadsFromHomeDir(t *testing.T) {
	home := t.TempDir()
	if err := os.WriteFile(filepath.Join(home, "SYSTEM.md"), []byte("Custom GM persona."), 0o644); err != nil {
		t.Fatalf("write SYSTEM.md: %v", err)
	}
	store := openTestStore(t)
	src := narrative.New(store, "camp-1", home, nil)
	if got := src.SystemText(); got != "Custom GM persona." {
		t.Errorf("system text = %q", got)
	}
}

func TestSource_SystemTextDeniedByPolicyFallsBackToDefault(t *testing.T) {
	home := t.TempDir()
	if err := os.WriteFile(filepath.Join(home, "SYSTEM.md"), []byte("Custom GM persona."), 0o644); err != nil {
		t.Fatalf("write SYSTEM.md: %v", err)
	}
	store := openTestStore(t)

	otherDir := t.TempDir()
	pol := policy.NewLivePolicy(policy.Policy{AllowPaths: []string{otherDir}}, "")
	src := narrative.New(store, "camp-1", home, pol)
	if got := src.SystemText(); got == "Custom GM persona." {
		t.Error("expected policy to deny reading SYSTEM.md outside its allowed paths")
	}
}

func TestSource_RulesTextTogglesNarrativeGuidance(t *testing.T) {
	store := openTestStore(t)
	src := narrative.New(store, "camp-1", "", nil)

	withNarrative := src.RulesText(true)
	withoutNarrative := src.RulesText(false)
	if withNarrative == withoutNarrative {
		t.Error("expected narrative guidance to change the rendered rules text")
	}
	if len(withNarrative) <= len(withoutNarrative) {
		t.Error("expected narrative-inclusive rules text to be longer")
	}
}

func TestSource_StateSnapshotReflectsPersistence(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	_ = store.EnsureCampaign(ctx, "camp-1", "Test", "Start.")
	_ = store.SaveSnapshot(ctx, "camp-1", `{"day":4}`)

	src := narrative.New(store, "camp-1", "", nil)
	if got := src.StateSnapshot(); got != `{"day":4}` {
		t.Errorf("state snapshot = %q", got)
	}
}

func TestSource_RetrievalTextOffReturnsEmpty(t *testing.T) {
	store := openTestStore(t)
	src := narrative.New(store, "camp-1", "", nil)
	if got := src.RetrievalText(packer.RetrievalOff); got != "" {
		t.Errorf("expected empty retrieval text for RetrievalOff, got %q", got)
	}
}

func TestSource_RetrievalTextSurfacesArchivedAnchors(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	_ = store.EnsureCampaign(ctx, "camp-1", "Test", "Start.")
	_ = store.AppendBlock(ctx, "camp-1", persistence.BlockRow{
		BlockID: 1, Kind: "Intel", RoleHint: "assistant", Text: "Bob the barkeep knows everyone's secrets.",
		Tags: []string{"npc:bob"}, CreatedAt: time.Now(),
	})
	if _, err := store.ArchiveBlocks(ctx, "camp-1", 1); err != nil {
		t.Fatalf("archive: %v", err)
	}

	src := narrative.New(store, "camp-1", "", nil)
	got := src.RetrievalText(packer.RetrievalStandard)
	if got == "" {
		t.Fatal("expected non-empty retrieval text")
	}
}
