// Package tui 是挂载在 chat.Room 上的终端界面。
package tui

import (
	"context"
	"fmt"
	"strings"

	"aichatroom/internal/chat"
	"aichatroom/internal/models"
	"aichatroom/internal/theme"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Room 是界面用到的聊天室操作。
type Room interface {
	Snapshot() chat.Snapshot
	Updates() <-chan chat.Snapshot
	Keystroke(ctx context.Context) error
	Submit(ctx context.Context, input string) error
	EditMessage(ctx context.Context, id, content string) error
	DeleteMessage(ctx context.Context, id string) error
	Share(ctx context.Context, interactionID string) error
	Summarize(ctx context.Context) (string, error)
	SetAIMode(on bool)
	SetOutputMode(mode string) error
	SetTheme(ctx context.Context, t theme.Theme) error
	Reconnect(ctx context.Context) error
}

type (
	snapshotMsg chat.Snapshot
	themeMsg    theme.Theme
	statusMsg   string
	errMsg      struct{ err error }
)

const historyRows = 5

type Model struct {
	ctx    context.Context
	room   Room
	snap   chat.Snapshot
	theme  theme.Theme
	dark   bool
	styles Styles

	input    textinput.Model
	viewport viewport.Model
	width    int
	height   int

	status string
	err    string
}

func New(ctx context.Context, room Room, t theme.Theme, systemDark bool) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Type a message, /help for commands"
	ti.CharLimit = 4096
	ti.Focus()

	m := Model{
		ctx:      ctx,
		room:     room,
		snap:     room.Snapshot(),
		theme:    t,
		dark:     systemDark,
		styles:   NewStyles(t, systemDark),
		input:    ti,
		viewport: viewport.New(80, 20),
		width:    80,
		height:   24,
	}
	m.refresh()
	return m
}

func waitForSnapshot(ch <-chan chat.Snapshot) tea.Cmd {
	return func() tea.Msg {
		s, ok := <-ch
		if !ok {
			return nil
		}
		return snapshotMsg(s)
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitForSnapshot(m.room.Updates()))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case snapshotMsg:
		m.snap = chat.Snapshot(msg)
		m.refresh()
		return m, waitForSnapshot(m.room.Updates())

	case themeMsg:
		m.theme = theme.Theme(msg)
		m.styles = NewStyles(m.theme, m.dark)
		m.refresh()
		return m, nil

	case statusMsg:
		m.status, m.err = string(msg), ""
		return m, nil

	case errMsg:
		m.err = msg.err.Error()
		return m, nil
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		return m, tea.Quit
	case tea.KeyEnter:
		return m.submit()
	case tea.KeyTab:
		on := !m.snap.AIMode
		m.room.SetAIMode(on)
		m.snap.AIMode = on
		return m, nil
	case tea.KeyPgUp, tea.KeyPgDown:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	before := m.input.Value()
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	after := m.input.Value()
	if after == before || strings.HasPrefix(after, "/") || strings.TrimSpace(after) == "" {
		return m, cmd
	}
	return m, tea.Batch(cmd, m.keystroke())
}

func (m Model) keystroke() tea.Cmd {
	return func() tea.Msg {
		if err := m.room.Keystroke(m.ctx); err != nil {
			return errMsg{err}
		}
		return nil
	}
}

// submit 发送输入或执行指令，输入框立即清空。
func (m Model) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return m, nil
	}
	m.input.Reset()
	m.err = ""
	if strings.HasPrefix(text, "/") {
		return m.runCommand(text)
	}
	return m, func() tea.Msg {
		if err := m.room.Submit(m.ctx, text); err != nil {
			return errMsg{err}
		}
		return nil
	}
}

func (m Model) runCommand(text string) (tea.Model, tea.Cmd) {
	cmd, err := parseCommand(text)
	if err != nil {
		m.err = err.Error()
		return m, nil
	}
	switch cmd.name {
	case "quit":
		return m, tea.Quit
	case "help":
		m.status = helpText
		return m, nil
	case "ai":
		on := !m.snap.AIMode
		m.room.SetAIMode(on)
		m.snap.AIMode = on
		return m, nil
	case "public", "private":
		if err := m.room.SetOutputMode(cmd.name); err != nil {
			m.err = err.Error()
			return m, nil
		}
		m.snap.OutputMode = cmd.name
		return m, nil
	case "summary":
		m.status = "Summarizing..."
		return m, func() tea.Msg {
			// 失败原因由快照里的 SummaryError 展示。
			_, _ = m.room.Summarize(m.ctx)
			return statusMsg("")
		}
	case "reconnect":
		m.status = "Reconnecting..."
		return m, func() tea.Msg {
			if err := m.room.Reconnect(m.ctx); err != nil {
				return errMsg{err}
			}
			return statusMsg("Reconnected")
		}
	case "share":
		if cmd.index > len(m.snap.History) {
			m.err = fmt.Sprintf("no AI interaction #%d", cmd.index)
			return m, nil
		}
		id := m.snap.History[cmd.index-1].ID
		return m, func() tea.Msg {
			if err := m.room.Share(m.ctx, id); err != nil {
				return errMsg{err}
			}
			return statusMsg("Shared to chat")
		}
	case "edit", "delete":
		if cmd.index > len(m.snap.Messages) {
			m.err = fmt.Sprintf("no message #%d", cmd.index)
			return m, nil
		}
		target := m.snap.Messages[cmd.index-1]
		if !chat.CanModify(m.viewerID(), target) {
			m.err = chat.ErrNotOwner.Error()
			return m, nil
		}
		if cmd.name == "delete" {
			return m, func() tea.Msg {
				if err := m.room.DeleteMessage(m.ctx, target.ID); err != nil {
					return errMsg{err}
				}
				return nil
			}
		}
		content := cmd.arg
		return m, func() tea.Msg {
			if err := m.room.EditMessage(m.ctx, target.ID, content); err != nil {
				return errMsg{err}
			}
			return nil
		}
	case "theme":
		t, err := parseThemeArgs(cmd.arg)
		if err != nil {
			m.err = err.Error()
			return m, nil
		}
		m.theme = t
		m.styles = NewStyles(t, m.dark)
		m.refresh()
		return m, func() tea.Msg {
			if err := m.room.SetTheme(m.ctx, t); err != nil {
				return errMsg{fmt.Errorf("theme saved locally, profile update failed: %w", err)}
			}
			return statusMsg("Theme updated")
		}
	}
	return m, nil
}

func (m Model) viewerID() string {
	if m.snap.User == nil {
		return ""
	}
	return m.snap.User.ID
}

func (m Model) historyHeight() int {
	if len(m.snap.History) == 0 {
		return 0
	}
	return min(len(m.snap.History), historyRows) + 3
}

// refresh 重新计算布局并渲染消息区。
func (m *Model) refresh() {
	h := m.height - 4 - m.historyHeight()
	if m.snap.Summary != "" || m.snap.SummaryError != "" {
		h -= 2
	}
	m.viewport.Width = m.width
	m.viewport.Height = max(h, 3)
	m.input.Width = max(m.width-4, 10)
	m.viewport.SetContent(m.renderMessages())
	m.viewport.GotoBottom()
}

func (m Model) renderMessages() string {
	if len(m.snap.Messages) == 0 {
		return m.styles.Muted.Render("No messages yet.")
	}
	viewer := m.viewerID()
	var b strings.Builder
	for i, msg := range m.snap.Messages {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(m.renderMessage(i+1, msg, viewer))
	}
	return b.String()
}

func (m Model) renderMessage(n int, msg models.Message, viewer string) string {
	name := m.styles.Author.Render(msg.Author.Name())
	body := m.styles.Text.Render(msg.Content)
	if msg.UserID == viewer {
		body = m.styles.Own.Render(msg.Content)
	}
	meta := msg.CreatedAt.Local().Format("15:04")
	if msg.UpdatedAt != nil {
		meta += " (edited)"
	}
	line := fmt.Sprintf("%s %s %s: %s", m.styles.Muted.Render(fmt.Sprintf("[%d]", n)), m.styles.Muted.Render(meta), name, body)
	return lipgloss.NewStyle().Width(m.width).Render(line)
}

func (m Model) renderHeader() string {
	name := "signed out"
	if m.snap.Profile != nil {
		name = m.snap.Profile.Author().Name()
	} else if m.snap.User != nil {
		name = m.snap.User.Username
	}
	mode := "chat"
	if m.snap.AIMode {
		mode = "AI (" + m.snap.OutputMode + ")"
	}
	header := m.styles.Header.Render("AI Chat Room") + m.styles.Muted.Render(fmt.Sprintf("  %s · %s · %s/%s · %s", name, mode, m.theme.Mode, m.theme.Color, m.snap.Composer))
	if m.snap.Feed == chat.FeedDisconnected {
		header += m.styles.Error.Render("  live updates lost, type /reconnect")
	}
	return header
}

func (m Model) renderHistory() string {
	if len(m.snap.History) == 0 {
		return ""
	}
	sharing := make(map[string]bool, len(m.snap.Sharing))
	for _, id := range m.snap.Sharing {
		sharing[id] = true
	}
	lines := []string{m.styles.Accent.Render("Your AI history")}
	for i, it := range m.snap.History {
		if i == historyRows {
			break
		}
		line := fmt.Sprintf("#%d %s → %s", i+1, truncate(it.Prompt, 30), truncate(it.Output, 40))
		if sharing[it.ID] {
			line += m.styles.Muted.Render(" (sharing...)")
		}
		lines = append(lines, line)
	}
	return m.styles.Panel.Width(max(m.width-2, 10)).Render(strings.Join(lines, "\n"))
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func (m Model) View() string {
	parts := []string{m.renderHeader(), m.viewport.View()}
	if m.snap.SummaryError != "" {
		parts = append(parts, m.styles.Error.Render("Summary failed: "+m.snap.SummaryError))
	} else if m.snap.Summary != "" {
		parts = append(parts, m.styles.Accent.Render("Summary: ")+m.snap.Summary)
	}
	if h := m.renderHistory(); h != "" {
		parts = append(parts, h)
	}
	parts = append(parts, m.styles.Muted.Render(m.snap.TypingLabel), m.input.View())
	switch {
	case m.err != "":
		parts = append(parts, m.styles.Error.Render(m.err))
	case m.status != "":
		parts = append(parts, m.styles.Muted.Render(m.status))
	}
	return strings.Join(parts, "\n")
}

// Run 启动界面直到用户退出或 ctx 结束，主题变化会实时应用。
func Run(ctx context.Context, room Room, store *theme.Store) error {
	p := tea.NewProgram(New(ctx, room, store.Get(), lipgloss.HasDarkBackground()), tea.WithAltScreen())
	unsubscribe := store.Subscribe(func(t theme.Theme) { p.Send(themeMsg(t)) })
	defer unsubscribe()
	go func() {
		<-ctx.Done()
		p.Quit()
	}()
	_, err := p.Run()
	return err
}
