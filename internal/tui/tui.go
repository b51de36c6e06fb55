// Package tui is the thin terminal collaborator: a single-room bubbletea
// chat view over one sentinel.Coordinator. It renders the assembled
// PromptPack's transcript, issues /checkpoint, /compress, /clear, and
// /context debug, and otherwise passes plain input straight through as a
// new narrative block. It never touches the core's invariants directly —
// everything it does goes through Coordinator's exported operations.
package tui

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/lipgloss"

	"github.com/basket/sentinel/internal/sentinel"
	"github.com/basket/sentinel/internal/window"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	tierStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	userStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	gmStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
)

type historyLine struct {
	role string // "user" or "gm" or "system"
	text string
}

type model struct {
	coord      *sentinel.Coordinator
	campaignID string
	nextID     int64

	textinput textinput.Model
	viewport  viewport.Model
	history   []historyLine
	lastTier  string
	lastErr   string

	width, height int
	ready         bool
}

// New builds the root bubbletea model for one campaign.
func New(coord *sentinel.Coordinator, campaignID string, startBlockID int64) tea.Model {
	ti := textinput.New()
	ti.Placeholder = "say or do something, or /checkpoint /compress /clear"
	ti.Focus()
	ti.CharLimit = 2000

	return model{
		coord:      coord,
		campaignID: campaignID,
		nextID:     startBlockID,
		textinput:  ti,
	}
}

func (m model) Init() tea.Cmd {
	return textinput.Blink
}

const (
	headerHeight = 2
	footerHeight = 2
)

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-headerHeight-footerHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - headerHeight - footerHeight
		}
		m.viewport.SetContent(m.renderHistory())

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "enter":
			line := strings.TrimSpace(m.textinput.Value())
			m.textinput.Reset()
			if line != "" {
				m = m.handleLine(line)
			}
			m.viewport.SetContent(m.renderHistory())
			m.viewport.GotoBottom()
		}
	}

	var tiCmd, vpCmd tea.Cmd
	m.textinput, tiCmd = m.textinput.Update(msg)
	m.viewport, vpCmd = m.viewport.Update(msg)
	cmds = append(cmds, tiCmd, vpCmd)
	return m, tea.Batch(cmds...)
}

// handleLine dispatches a slash command, a "/gm <text>" narrator injection,
// or appends free text as a player block. Either way a Build immediately
// follows to keep the status line's tier/pressure current — SENTINEL never
// generates narrative itself; the human running this TUI is the GM, and
// an external LLM call over the assembled PromptPack (not shown here) is
// how a real table would turn that pack into prose.
func (m model) handleLine(line string) model {
	ctx := context.Background()

	lower := strings.ToLower(line)
	switch {
	case lower == "/checkpoint":
		return m.runCommand(ctx, sentinel.Checkpoint)
	case lower == "/compress":
		return m.runCommand(ctx, sentinel.Compress)
	case lower == "/clear":
		return m.runCommand(ctx, sentinel.Clear)
	case lower == "/context debug" || lower == "/debug":
		m.history = append(m.history, historyLine{role: "system", text: formatTrace(m.coord.Debug())})
		return m
	case strings.HasPrefix(lower, "/gm "):
		return m.appendBlock(ctx, strings.TrimSpace(line[len("/gm "):]), "assistant", "gm")
	}

	return m.appendBlock(ctx, line, "user", "user")
}

// appendBlock persists one block under the given role and rebuilds the
// pack so the header's tier/pressure reflect the new transcript state.
func (m model) appendBlock(ctx context.Context, text, roleHint, historyRole string) model {
	m.nextID++
	if err := m.coord.AppendBlock(ctx, window.Block{
		ID:       m.nextID,
		Kind:     window.KindNarrative,
		RoleHint: roleHint,
		Text:     text,
	}); err != nil {
		m.lastErr = err.Error()
		return m
	}
	m.history = append(m.history, historyLine{role: historyRole, text: text})

	_, trace := m.coord.Build(text, false)
	m.lastTier = trace.Tier.String()
	return m
}

func (m model) runCommand(ctx context.Context, cmd sentinel.Command) model {
	outcome := m.coord.Command(ctx, cmd)
	if outcome.Err != nil {
		m.lastErr = outcome.Err.Error()
		m.history = append(m.history, historyLine{role: "system", text: "error: " + outcome.Err.Error()})
		return m
	}
	m.lastErr = ""
	m.history = append(m.history, historyLine{role: "system", text: fmt.Sprintf(
		"%s done (digest=%s archived=%d dropped=%d)",
		cmd, outcome.DigestSource, outcome.ArchivedBlocks, outcome.DroppedBlocks)})
	return m
}

func (m model) renderHistory() string {
	var b strings.Builder
	for _, h := range m.history {
		switch h.role {
		case "user":
			b.WriteString(userStyle.Render("you> ") + h.text + "\n")
		case "gm":
			b.WriteString(gmStyle.Render(h.text) + "\n")
		default:
			b.WriteString(dimStyle.Render("-- "+h.text) + "\n")
		}
	}
	return b.String()
}

func (m model) View() string {
	if !m.ready {
		return "initializing...\n"
	}
	tier := m.lastTier
	if tier == "" {
		tier = "Normal"
	}
	header := headerStyle.Render("SENTINEL") + "  " + tierStyle.Render("["+tier+"]") + "  " + dimStyle.Render(m.campaignID)
	footer := m.textinput.View()
	if m.lastErr != "" {
		footer += "\n" + dimStyle.Render(m.lastErr)
	}
	return header + "\n" + m.viewport.View() + "\n" + footer
}

// Run drives the bubbletea program until the user quits or ctx ends.
func Run(ctx context.Context, coord *sentinel.Coordinator, campaignID string, startBlockID int64) error {
	p := tea.NewProgram(New(coord, campaignID, startBlockID), tea.WithAltScreen())

	done := make(chan error, 1)
	go func() {
		_, err := p.Run()
		done <- err
	}()

	select {
	case <-ctx.Done():
		p.Quit()
		return ctx.Err()
	case err := <-done:
		return err
	}
}
