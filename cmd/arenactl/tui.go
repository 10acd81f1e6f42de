package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/arenalab/arenactl/pkg/archive"
	"github.com/arenalab/arenactl/pkg/catalog"
	"github.com/arenalab/arenactl/pkg/session"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#25A065")).
			Padding(0, 1)

	agentStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("5")).
			Bold(true)

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("2")).
			Bold(true)

	messageStyle = lipgloss.NewStyle().PaddingLeft(2)
	systemStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	toolStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))

	cursorStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	selectedItemStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true)
	statusStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Padding(0, 1)
	errorStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true).Padding(0, 1)
)

type uiState int

const (
	statePickModule uiState = iota
	statePickAgent
	stateChatting
	stateConfirmQuit
)

type errMsg struct{ err error }
type sessionUpdateMsg struct{}
type archivedMsg struct{ id string }

type model struct {
	ctx     context.Context
	cfg     config
	sess    *session.Session
	store   archive.Store
	updates <-chan struct{}

	modules []catalog.Module
	agents  []catalog.Agent
	module  catalog.Module
	agent   catalog.Agent

	state      uiState
	snap       session.Snapshot
	cursor     int
	listOffset int
	width      int
	height     int
	err        error
	archived   bool
	archivedID string

	viewport viewport.Model
	textarea textarea.Model
	spinner  spinner.Model
	renderer *glamour.TermRenderer
}

func initialModel(ctx context.Context, cfg config, sess *session.Session, store archive.Store, modules []catalog.Module, agents []catalog.Agent) model {
	ta := textarea.New()
	ta.Placeholder = "Your reply..."
	ta.Prompt = "┃ "
	ta.CharLimit = 280
	ta.SetWidth(80)
	ta.SetHeight(3)
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.ShowLineNumbers = false

	vp := viewport.New(80, 20)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = cursorStyle

	// Standard style avoids terminal queries that leak into input.
	r, _ := glamour.NewTermRenderer(
		glamour.WithStandardStyle("light"),
		glamour.WithWordWrap(80),
	)

	return model{
		ctx:      ctx,
		cfg:      cfg,
		sess:     sess,
		store:    store,
		modules:  modules,
		agents:   agents,
		state:    statePickModule,
		snap:     sess.Snapshot(),
		viewport: vp,
		textarea: ta,
		spinner:  sp,
		renderer: r,
	}
}

func (m model) Init() tea.Cmd {
	return textarea.Blink
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	var tiCmd, vpCmd tea.Cmd
	// Keys reach the textarea only while it is accepting a reply, so menu
	// navigation and command keys do not leak into the input.
	switch msg.(type) {
	case tea.KeyMsg:
		if m.state == stateChatting && m.textarea.Focused() {
			m.textarea, tiCmd = m.textarea.Update(msg)
			cmds = append(cmds, tiCmd)
		}
	default:
		m.textarea, tiCmd = m.textarea.Update(msg)
		cmds = append(cmds, tiCmd)
	}

	m.viewport, vpCmd = m.viewport.Update(msg)
	cmds = append(cmds, vpCmd)

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width
		m.textarea.SetWidth(msg.Width)
		m.viewport.Height = msg.Height - m.textarea.Height() - 4
		if m.viewport.Height < 0 {
			m.viewport.Height = 0
		}
		m.viewport.YPosition = 2

		m.renderer, _ = glamour.NewTermRenderer(
			glamour.WithStandardStyle("light"),
			glamour.WithWordWrap(m.width-4),
		)
		if m.state == stateChatting || m.state == stateConfirmQuit {
			m.refreshViewport()
		}

		// Keep the cursor visible after a resize.
		maxViewable := m.height - 7
		if maxViewable < 1 {
			maxViewable = 1
		}
		if m.cursor < m.listOffset {
			m.listOffset = m.cursor
		}
		if m.cursor >= m.listOffset+maxViewable {
			m.listOffset = m.cursor - maxViewable + 1
		}
		if m.listOffset < 0 {
			m.listOffset = 0
		}

	case spinner.TickMsg:
		var spCmd tea.Cmd
		m.spinner, spCmd = m.spinner.Update(msg)
		cmds = append(cmds, spCmd)

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			if m.state == stateConfirmQuit {
				return m, tea.Quit
			}
			if m.state == stateChatting {
				m.state = stateConfirmQuit
				return m, nil
			}
			return m, tea.Quit
		case tea.KeyEsc:
			if m.state == stateConfirmQuit {
				m.state = stateChatting
				return m, nil
			}
			if m.state == stateChatting {
				m.state = stateConfirmQuit
				return m, nil
			}
			return m, tea.Quit
		case tea.KeyEnter:
			switch m.state {
			case statePickModule:
				if len(m.modules) > 0 {
					m.module = m.modules[m.cursor]
					m.state = statePickAgent
					m.cursor = 0
					m.listOffset = 0
				}
			case statePickAgent:
				if len(m.agents) > 0 {
					m.agent = m.agents[m.cursor]
					return m.enterChat()
				}
			case stateChatting:
				if m.textarea.Focused() {
					m.err = nil
					return m.sendReply()
				}
			}
		case tea.KeyUp:
			if m.cursor > 0 {
				m.cursor--
				if m.cursor < m.listOffset {
					m.listOffset = m.cursor
				}
			}
		case tea.KeyDown:
			var maxCursor int
			switch m.state {
			case statePickModule:
				maxCursor = len(m.modules) - 1
			case statePickAgent:
				maxCursor = len(m.agents) - 1
			}
			if m.cursor < maxCursor {
				m.cursor++
				maxViewable := m.height - 7
				if maxViewable < 1 {
					maxViewable = 1
				}
				if m.cursor >= m.listOffset+maxViewable {
					m.listOffset = m.cursor - maxViewable + 1
				}
			}
		default:
			if m.state == stateChatting && !m.textarea.Focused() && msg.String() == "r" {
				switch m.snap.State {
				case session.StateCompleted, session.StateDisconnected, session.StateError:
					return m.restartRun()
				}
			}
		}

	case sessionUpdateMsg:
		slog.Debug("Console received session update")
		m.snap = m.sess.Snapshot()
		m.refreshViewport()

		if m.snap.State == session.StateAwaitingInput {
			if !m.textarea.Focused() {
				m.textarea.Focus()
				cmds = append(cmds, textarea.Blink)
			}
			if m.snap.AwaitingPrompt != "" {
				m.textarea.Placeholder = m.snap.AwaitingPrompt
			} else {
				m.textarea.Placeholder = "Your reply..."
			}
		} else if m.textarea.Focused() {
			m.textarea.Blur()
		}

		if m.snap.State == session.StateCompleted && !m.archived {
			m.archived = true
			cmds = append(cmds, m.archiveCmd(m.snap))
		}
		cmds = append(cmds, waitForUpdate(m.updates))

	case archivedMsg:
		m.archivedID = msg.id

	case errMsg:
		m.err = msg.err
	}

	return m, tea.Batch(cmds...)
}

// Actions

func (m model) enterChat() (model, tea.Cmd) {
	m.updates = m.sess.Subscribe()
	m.state = stateChatting
	m.err = nil
	m.archived = false
	m.archivedID = ""
	m.snap = m.sess.Snapshot()
	m.viewport.SetContent(systemStyle.Render(fmt.Sprintf("Connecting to %s...", m.cfg.ServerURL)))

	return m, tea.Batch(
		m.startRunCmd(),
		waitForUpdate(m.updates),
		m.spinner.Tick,
	)
}

func (m model) restartRun() (model, tea.Cmd) {
	m.err = nil
	m.archived = false
	m.archivedID = ""
	m.viewport.SetContent(systemStyle.Render(fmt.Sprintf("Reconnecting to %s...", m.cfg.ServerURL)))
	return m, tea.Batch(m.startRunCmd(), m.spinner.Tick)
}

// startRunCmd connects the session and starts a fresh run on the selected
// module and agent.
func (m model) startRunCmd() tea.Cmd {
	ctx, sess := m.ctx, m.sess
	moduleID, agentID := m.module.ID, m.agent.ID
	return func() tea.Msg {
		if err := sess.Connect(ctx); err != nil {
			return errMsg{err}
		}
		if err := sess.Start(moduleID, agentID, nil); err != nil {
			return errMsg{err}
		}
		return nil
	}
}

func (m model) sendReply() (model, tea.Cmd) {
	v := strings.TrimSpace(m.textarea.Value())
	if v == "" {
		return m, nil
	}
	m.textarea.Reset()
	m.sess.ClearInjection()

	if strings.HasPrefix(v, "/inject") {
		return m, injectCmd(m.sess, v)
	}

	sess := m.sess
	return m, func() tea.Msg {
		if err := sess.Send(v); err != nil {
			return errMsg{err}
		}
		return nil
	}
}

// injectCmd parses "/inject <tool> <event> [json-args]" and sends the
// chaos event without consuming the pending input turn.
func injectCmd(sess *session.Session, input string) tea.Cmd {
	return func() tea.Msg {
		rest := strings.TrimSpace(strings.TrimPrefix(input, "/inject"))
		parts := strings.SplitN(rest, " ", 3)
		if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
			return errMsg{fmt.Errorf("usage: /inject <tool> <event> [json-args]")}
		}
		var args map[string]any
		if len(parts) == 3 && strings.TrimSpace(parts[2]) != "" {
			if err := json.Unmarshal([]byte(parts[2]), &args); err != nil {
				return errMsg{fmt.Errorf("parse inject args: %w", err)}
			}
		}
		if err := sess.Inject(parts[1], parts[0], args); err != nil {
			return errMsg{err}
		}
		return nil
	}
}

func (m model) archiveCmd(snap session.Snapshot) tea.Cmd {
	ctx, store := m.ctx, m.store
	moduleID, agentID := m.module.ID, m.agent.ID
	return func() tea.Msg {
		rec := &archive.Record{
			SessionID:  snap.SessionID,
			ModuleID:   moduleID,
			AgentID:    agentID,
			Transcript: snap.Transcript,
			Evaluation: snap.Evaluation,
			WorldState: snap.WorldState,
		}
		if len(snap.Transcript) > 0 {
			rec.StartedAt = snap.Transcript[0].Timestamp
		}
		if err := store.Save(ctx, rec); err != nil {
			slog.Error("Failed to archive run", "error", err)
			return errMsg{fmt.Errorf("archive run: %w", err)}
		}
		slog.Info("Archived run", "id", rec.ID, "entries", len(rec.Transcript))
		return archivedMsg{id: rec.ID}
	}
}

func waitForUpdate(sub <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-sub; !ok {
			return nil
		}
		return sessionUpdateMsg{}
	}
}

// Rendering

func (m *model) refreshViewport() {
	var sb strings.Builder
	for _, e := range m.snap.Transcript {
		switch e.Role {
		case session.RoleUser:
			sb.WriteString(userStyle.Render("You:"))
			sb.WriteString("\n")
			sb.WriteString(messageStyle.Render(e.Content))
			sb.WriteString("\n")
		case session.RoleAgent:
			sb.WriteString(agentStyle.Render("Agent:"))
			sb.WriteString("\n")
			content := e.Content
			if m.renderer != nil {
				if rendered, err := m.renderer.Render(e.Content); err == nil {
					content = rendered
				}
			}
			sb.WriteString(content)
			sb.WriteString("\n")
		case session.RoleTool:
			sb.WriteString(toolStyle.Render(e.Content))
			sb.WriteString("\n")
		default:
			sb.WriteString(systemStyle.Render(e.Content))
			sb.WriteString("\n")
		}
	}
	if len(m.snap.WorldState) > 0 {
		sb.WriteString("\n")
		sb.WriteString(systemStyle.Render("world state: " + formatWorldState(m.snap.WorldState)))
		sb.WriteString("\n")
	}
	m.viewport.SetContent(sb.String())
	m.viewport.GotoBottom()
}

func formatWorldState(ws map[string]any) string {
	keys := make([]string, 0, len(ws))
	for k := range ws {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, ws[k]))
	}
	return strings.Join(parts, "  ")
}

func (m model) statusLine() string {
	var parts []string
	switch m.snap.State {
	case session.StateConnecting:
		parts = append(parts, m.spinner.View()+" connecting")
	case session.StateConnected:
		parts = append(parts, m.spinner.View()+" waiting for session")
	case session.StateRunning:
		parts = append(parts, m.spinner.View()+" agent is working")
	case session.StateAwaitingInput:
		parts = append(parts, "your turn, Enter to send")
	case session.StateCompleted:
		if m.snap.Evaluation != nil {
			parts = append(parts, fmt.Sprintf("completed, score %.2f", m.snap.Evaluation.Score))
		} else {
			parts = append(parts, "completed")
		}
		parts = append(parts, "r to run again")
	case session.StateDisconnected:
		parts = append(parts, "disconnected", "r to reconnect")
	case session.StateError:
		if m.snap.LastError != "" {
			parts = append(parts, "error: "+m.snap.LastError)
		} else {
			parts = append(parts, "error")
		}
		parts = append(parts, "r to retry")
	}
	if m.snap.LastInjection != nil {
		parts = append(parts, "injected "+m.snap.LastInjection.Event)
	}
	if m.archivedID != "" {
		parts = append(parts, "archived "+shortID(m.archivedID))
	}
	return statusStyle.Render(strings.Join(parts, " | "))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func (m model) View() string {
	var errorView string
	if m.err != nil {
		errorView = errorStyle.Width(m.width).Render(fmt.Sprintf("Error: %v", m.err))
	}

	if m.state == statePickModule {
		return m.listView("Select Module", len(m.modules), func(i int) string {
			mod := m.modules[i]
			key := mod.Slug
			if key == "" {
				key = mod.ID
			}
			return fmt.Sprintf("%s (%s)", mod.Name, key)
		}, errorView)
	}

	if m.state == statePickAgent {
		return m.listView("Select Agent", len(m.agents), func(i int) string {
			agent := m.agents[i]
			label := agent.Model
			if label == "" {
				label = agent.ID
			}
			return fmt.Sprintf("%s (%s)", agent.Name, label)
		}, errorView)
	}

	if m.state == stateConfirmQuit {
		header := titleStyle.Render("Quit")
		prompt := "Press ctrl+c again to quit, esc to return."
		subtext := "The run keeps executing on the arena server."

		return lipgloss.JoinVertical(
			lipgloss.Left,
			header,
			"",
			prompt,
			subtext,
			errorView,
		)
	}

	return lipgloss.JoinVertical(
		lipgloss.Left,
		titleStyle.Render(fmt.Sprintf("%s / %s", m.module.Name, m.agent.Name)),
		m.viewport.View(),
		m.statusLine(),
		errorView,
		m.textarea.View(),
	)
}

func (m model) listView(title string, count int, line func(int) string, errorView string) string {
	header := titleStyle.Render(title)

	maxViewable := m.height - 7
	if maxViewable < 1 {
		maxViewable = 1
	}

	start := m.listOffset
	end := start + maxViewable
	if end > count {
		end = count
	}

	var optionsView []string
	for i := start; i < end; i++ {
		cursor := " "
		item := line(i)
		if m.cursor == i {
			cursor = ">"
			item = selectedItemStyle.Render(item)
		}
		optionsView = append(optionsView, fmt.Sprintf("%s %s", cursorStyle.Render(cursor), item))
	}

	list := lipgloss.JoinVertical(lipgloss.Left, optionsView...)
	footer := "Press Enter to select, Esc to quit."

	return lipgloss.JoinVertical(lipgloss.Left, header, "", list, "", footer, errorView)
}
