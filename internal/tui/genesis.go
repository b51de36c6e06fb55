package tui

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// GenesisResult is what the first-run wizard collects before a campaign
// can be played: its id, display name, and an opening scene the packer's
// StateSnapshot section starts from.
type GenesisResult struct {
	CampaignID    string
	Name          string
	StartingScene string
}

// RunGenesis prompts for a new campaign's identity on stdin/stdout. It is
// deliberately a few plain questions rather than a full wizard screen —
// this tool is a thin collaborator, not the product.
func RunGenesis(ctx context.Context) (*GenesisResult, error) {
	fmt.Println("No campaign found. Let's start one.")
	reader := bufio.NewReader(os.Stdin)

	name := prompt(reader, "Campaign name", "New Campaign")
	scene := prompt(reader, "Starting scene (one or two sentences)", "The adventure begins in a quiet tavern.")

	id := slugify(name)
	if id == "" {
		id = "default"
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	return &GenesisResult{CampaignID: id, Name: name, StartingScene: scene}, nil
}

func prompt(reader *bufio.Reader, label, def string) string {
	fmt.Printf("%s [%s]: ", label, def)
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return def
	}
	return line
}

func slugify(name string) string {
	var b strings.Builder
	lastDash := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash && b.Len() > 0 {
				b.WriteRune('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

// DefaultPolicyYAML is written to policy.yaml on first run. A fresh
// single-operator campaign grants itself every known capability; an
// operator who wants to lock a running campaign down edits the file and
// the LivePolicy watcher picks up the change.
func DefaultPolicyYAML() string {
	return `allow_paths: []
allow_capabilities:
  - sentinel.checkpoint
  - sentinel.compress
  - sentinel.clear
  - sentinel.retrieval.override
`
}

// WriteGenesisFiles bootstraps the campaign's home directory: policy.yaml
// if it doesn't already exist. SYSTEM.md/RULES.md are left absent so
// narrative.Source falls back to its built-in persona and ruleset; the
// starting scene itself goes through persistence.SaveSnapshot, not a file,
// since StateSnapshot reads the state_snapshots table.
func WriteGenesisFiles(homeDir string, result *GenesisResult) error {
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		return fmt.Errorf("create home: %w", err)
	}
	policyPath := filepath.Join(homeDir, "policy.yaml")
	if _, err := os.Stat(policyPath); os.IsNotExist(err) {
		if err := os.WriteFile(policyPath, []byte(DefaultPolicyYAML()), 0o644); err != nil {
			return fmt.Errorf("write policy.yaml: %w", err)
		}
	}
	return nil
}
