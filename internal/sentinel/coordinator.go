// Package sentinel implements CommandCoordinator (C7) and the facade
// operations exposed to collaborators: append_block, build, command, and
// debug. It is the single-threaded-cooperative owner of one campaign's
// transcript and digest.
package sentinel

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/basket/sentinel/internal/audit"
	"github.com/basket/sentinel/internal/bus"
	"github.com/basket/sentinel/internal/digest"
	"github.com/basket/sentinel/internal/packer"
	"github.com/basket/sentinel/internal/persistence"
	"github.com/basket/sentinel/internal/policy"
	"github.com/basket/sentinel/internal/tokenizer"
	"github.com/basket/sentinel/internal/window"
)

// Command is one of the three CommandCoordinator operations.
type Command int

const (
	Checkpoint Command = iota
	Compress
	Clear
)

func (c Command) String() string {
	switch c {
	case Checkpoint:
		return "checkpoint"
	case Compress:
		return "compress"
	case Clear:
		return "clear"
	default:
		return "unknown"
	}
}

// MinimumWindow is the floor /clear leaves live (§4.7).
const MinimumWindow = 4

// capabilityFor maps a command to the policy capability that must be
// granted before it runs. checkpoint/compress/clear are each separately
// gateable so an operator can, for example, permit checkpoints but deny
// destructive clears.
func (c Command) capability() string {
	switch c {
	case Checkpoint:
		return "sentinel.checkpoint"
	case Compress:
		return "sentinel.compress"
	case Clear:
		return "sentinel.clear"
	default:
		return ""
	}
}

// retrievalOverrideCapability gates a caller forcing active retrieval on a
// Build regardless of the current strain tier.
const retrievalOverrideCapability = "sentinel.retrieval.override"

// CommandOutcome reports what a command did.
type CommandOutcome struct {
	Command        Command
	DigestSource   string // "llm" or "template"
	ArchivedBlocks int
	DroppedBlocks  int
	Err            error
}

// AppendError is returned by AppendBlock.
type AppendError struct {
	Reason string
}

func (e *AppendError) Error() string { return "sentinel: " + e.Reason }

// Coordinator is the facade over one campaign: Window, Digest, Packer, and
// their persisted backing store.
type Coordinator struct {
	campaignID string
	store      *persistence.Store
	bus        *bus.Bus
	tok        tokenizer.Tokenizer
	source     packer.SectionSource
	recap      window.SceneRecap
	policy     policy.Checker
	win        *window.Window
	dig        *digest.Digest
	pk         *packer.Packer
	seq        int
	lastTrace  packer.PackTrace
}

// Config bundles the collaborators a Coordinator needs to be constructed.
type Config struct {
	CampaignID string
	Store      *persistence.Store
	Bus        *bus.Bus
	Tokenizer  tokenizer.Tokenizer
	Source     packer.SectionSource
	Recap      window.SceneRecap
	Digest     *digest.Digest
	// Policy gates checkpoint/compress/clear and a caller's retrieval
	// override; a nil Policy allows everything (single-operator default).
	Policy policy.Checker
}

// New rehydrates a Coordinator for an existing or fresh campaign: loads
// persisted blocks into the Window and wires a Packer reading the live
// digest blob on every build.
func New(ctx context.Context, cfg Config) (*Coordinator, error) {
	tok := cfg.Tokenizer
	if tok == nil {
		tok = tokenizer.New()
	}

	win := window.New(tok, cfg.Recap)
	rows, err := cfg.Store.LoadBlocks(ctx, cfg.CampaignID)
	if err != nil {
		return nil, fmt.Errorf("sentinel: load blocks: %w", err)
	}
	for _, row := range rows {
		if err := win.Append(window.Block{
			ID:                row.BlockID,
			Kind:              window.BlockKind(row.Kind),
			Text:              row.Text,
			Tags:              row.Tags,
			RoleHint:          row.RoleHint,
			SessionGeneration: row.SessionGeneration,
		}); err != nil {
			return nil, fmt.Errorf("sentinel: rehydrate window: %w", err)
		}
	}

	c := &Coordinator{
		campaignID: cfg.CampaignID,
		store:      cfg.Store,
		bus:        cfg.Bus,
		tok:        tok,
		source:     cfg.Source,
		recap:      cfg.Recap,
		policy:     cfg.Policy,
		win:        win,
		dig:        cfg.Digest,
	}
	c.pk = packer.New(tok, cfg.Source, win, c.currentDigestText)
	return c, nil
}

func (c *Coordinator) currentDigestText() string {
	text, err := c.store.LoadDigest(context.Background(), c.campaignID)
	if err != nil {
		return ""
	}
	return text
}

// AppendBlock appends a block to the in-memory Window and writes it
// through to persistence. Non-monotonic ids are rejected without mutating
// either.
func (c *Coordinator) AppendBlock(ctx context.Context, b window.Block) error {
	campaign, err := c.store.LoadCampaign(ctx, c.campaignID)
	if err != nil {
		return fmt.Errorf("sentinel: load campaign: %w", err)
	}
	b.SessionGeneration = campaign.SessionGeneration

	if err := c.win.Append(b); err != nil {
		c.publish(bus.AppendRejectedEvent{CampaignID: c.campaignID, GotID: b.ID})
		return &AppendError{Reason: err.Error()}
	}
	if err := c.store.AppendBlock(ctx, c.campaignID, persistence.BlockRow{
		BlockID:           b.ID,
		Kind:              string(b.Kind),
		RoleHint:          b.RoleHint,
		Text:              b.Text,
		Tags:              b.Tags,
		SessionGeneration: campaign.SessionGeneration,
		CreatedAt:         time.Now(),
	}); err != nil {
		return fmt.Errorf("sentinel: persist block: %w", err)
	}
	return nil
}

// Build runs the Packer and records the resulting trace for Debug.
// activeRetrieval forces the Retrieval section on regardless of strain
// tier; a configured Policy must grant sentinel.retrieval.override for
// this to take effect, otherwise the request is silently downgraded to
// tier-driven retrieval and the denial is audited.
func (c *Coordinator) Build(userInput string, activeRetrieval bool) (packer.PromptPack, packer.PackTrace) {
	if activeRetrieval && c.policy != nil {
		if c.policy.AllowCapability(retrievalOverrideCapability) {
			audit.Record("allow", retrievalOverrideCapability, "capability_granted", c.policy.PolicyVersion(), c.campaignID)
		} else {
			audit.Record("deny", retrievalOverrideCapability, "missing_capability", c.policy.PolicyVersion(), c.campaignID)
			activeRetrieval = false
		}
	}
	pack, trace := c.pk.Build(userInput, activeRetrieval)
	c.seq++
	c.lastTrace = trace

	traceJSON, err := json.Marshal(trace)
	if err == nil {
		_ = c.store.SavePackTrace(context.Background(), c.campaignID, persistence.PackTraceRow{
			Seq:       c.seq,
			Tier:      trace.Tier.String(),
			TraceJSON: string(traceJSON),
		}, 50)
	}
	return pack, trace
}

// Debug returns the last recorded PackTrace.
func (c *Coordinator) Debug() packer.PackTrace {
	return c.lastTrace
}

// Command executes checkpoint, compress, or clear per the §4.7 invariants.
// Each command is gated by a capability; a nil Policy allows everything.
func (c *Coordinator) Command(ctx context.Context, cmd Command) CommandOutcome {
	outcome := CommandOutcome{Command: cmd}

	if cap := cmd.capability(); cap != "" && c.policy != nil {
		if !c.policy.AllowCapability(cap) {
			audit.Record("deny", cap, "missing_capability", c.policy.PolicyVersion(), c.campaignID)
			outcome.Err = fmt.Errorf("sentinel: command %s denied by policy (missing capability %s)", cmd, cap)
			return outcome
		}
		audit.Record("allow", cap, "capability_granted", c.policy.PolicyVersion(), c.campaignID)
	}

	switch cmd {
	case Checkpoint, Compress:
		digestText := c.runDigestUpdate(ctx, &outcome)
		if err := c.store.SaveDigest(ctx, c.campaignID, digestText, outcome.DigestSource); err != nil {
			outcome.Err = fmt.Errorf("sentinel: save digest: %w", err)
			c.publish(bus.CommandExecutedEvent{CampaignID: c.campaignID, Command: cmd.String(), Err: outcome.Err.Error()})
			return outcome
		}

		if cmd == Checkpoint {
			lastID := c.lastBlockID()
			n, err := c.store.ArchiveBlocks(ctx, c.campaignID, lastID)
			if err != nil {
				outcome.Err = fmt.Errorf("sentinel: archive blocks: %w", err)
			}
			outcome.ArchivedBlocks = n
			if err := c.store.AdvanceCheckpoint(ctx, c.campaignID); err != nil && outcome.Err == nil {
				outcome.Err = fmt.Errorf("sentinel: advance checkpoint: %w", err)
			}
			c.reloadWindow(ctx)
		} else {
			_ = c.store.TouchCampaign(ctx, c.campaignID)
		}

	case Clear:
		n, err := c.store.DropBlocksBeyondMinimum(ctx, c.campaignID, MinimumWindow)
		if err != nil {
			outcome.Err = fmt.Errorf("sentinel: clear blocks: %w", err)
			return outcome
		}
		outcome.DroppedBlocks = n
		if err := c.store.MarkClearedWithoutCheckpoint(ctx, c.campaignID); err != nil {
			outcome.Err = fmt.Errorf("sentinel: mark cleared: %w", err)
		}
		c.reloadWindow(ctx)
	}

	c.publish(bus.CommandExecutedEvent{CampaignID: c.campaignID, Command: cmd.String()})
	return outcome
}

// runDigestUpdate tries the LLM path first and falls back to the template
// path on any failure, per §4.7's "checkpoint must succeed even if the LLM
// digest update fails" invariant.
func (c *Coordinator) runDigestUpdate(ctx context.Context, outcome *CommandOutcome) string {
	prev := c.currentDigestText()
	blocks := c.win.Blocks()

	if c.dig != nil {
		text, _, err := c.dig.UpdateViaLLM(ctx, prev, "", blocks)
		if err == nil {
			outcome.DigestSource = "llm"
			return text
		}
		c.publish(bus.DigestFallbackEvent{CampaignID: c.campaignID, Reason: err.Error()})
	}

	outcome.DigestSource = "template"
	if c.dig == nil {
		d, err := digest.New(nil, c.tok)
		if err != nil {
			return prev
		}
		return d.UpdateTemplate(prev, blocks)
	}
	return c.dig.UpdateTemplate(prev, blocks)
}

func (c *Coordinator) lastBlockID() int64 {
	blocks := c.win.Blocks()
	if len(blocks) == 0 {
		return 0
	}
	return blocks[len(blocks)-1].ID
}

// reloadWindow rebuilds the in-memory Window from persistence after an
// operation that mutated the live blocks table out from under it.
func (c *Coordinator) reloadWindow(ctx context.Context) {
	rows, err := c.store.LoadBlocks(ctx, c.campaignID)
	if err != nil {
		return
	}
	fresh := window.New(c.tok, c.recap)
	for _, row := range rows {
		_ = fresh.Append(window.Block{
			ID:                row.BlockID,
			Kind:              window.BlockKind(row.Kind),
			Text:              row.Text,
			Tags:              row.Tags,
			RoleHint:          row.RoleHint,
			SessionGeneration: row.SessionGeneration,
		})
	}
	c.win = fresh
	c.pk = packer.New(c.tok, c.source, c.win, c.currentDigestText)
}

func (c *Coordinator) publish(payload interface{}) {
	if c.bus == nil {
		return
	}
	switch payload.(type) {
	case bus.CommandExecutedEvent:
		c.bus.Publish(bus.TopicCommandExecuted, payload)
	case bus.DigestFallbackEvent:
		c.bus.Publish(bus.TopicDigestFallback, payload)
	case bus.AppendRejectedEvent:
		c.bus.Publish(bus.TopicAppendRejected, payload)
	}
}
