package tui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"aichatroom/internal/chat"
	"aichatroom/internal/models"
	"aichatroom/internal/theme"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRoom struct {
	mu      sync.Mutex
	snap    chat.Snapshot
	updates chan chat.Snapshot
	calls   []string
	err     error
}

func newFakeRoom(snap chat.Snapshot) *fakeRoom {
	return &fakeRoom{snap: snap, updates: make(chan chat.Snapshot, 1)}
}

func (f *fakeRoom) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeRoom) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeRoom) Snapshot() chat.Snapshot                  { return f.snap }
func (f *fakeRoom) Updates() <-chan chat.Snapshot            { return f.updates }
func (f *fakeRoom) Keystroke(context.Context) error          { return f.record("keystroke") }
func (f *fakeRoom) Submit(_ context.Context, s string) error { return f.record("submit:" + s) }
func (f *fakeRoom) EditMessage(_ context.Context, id, c string) error {
	return f.record("edit:" + id + ":" + c)
}
func (f *fakeRoom) DeleteMessage(_ context.Context, id string) error { return f.record("delete:" + id) }
func (f *fakeRoom) Share(_ context.Context, id string) error         { return f.record("share:" + id) }
func (f *fakeRoom) Summarize(context.Context) (string, error)        { return "", f.record("summarize") }
func (f *fakeRoom) SetAIMode(on bool) {
	if on {
		_ = f.record("ai:on")
	} else {
		_ = f.record("ai:off")
	}
}
func (f *fakeRoom) SetOutputMode(mode string) error { return f.record("output:" + mode) }
func (f *fakeRoom) Reconnect(context.Context) error { return f.record("reconnect") }
func (f *fakeRoom) SetTheme(_ context.Context, t theme.Theme) error {
	return f.record("theme:" + string(t.Mode) + "/" + string(t.Color))
}

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func testSnapshot() chat.Snapshot {
	return chat.Snapshot{
		User: &chat.User{ID: "me", Username: "alice"},
		Messages: []models.Message{
			{ID: "m1", UserID: "me", Content: "hi all", CreatedAt: t0, Author: &models.Author{Username: "alice"}},
			{ID: "m2", UserID: "bob", Content: "hello", CreatedAt: t0.Add(time.Second), Author: &models.Author{Username: "bob"}},
		},
		History:    []models.AIInteraction{{ID: "ai1", Prompt: "what is go", Output: "a language"}},
		OutputMode: models.OutputPrivate,
	}
}

func typeText(m Model, s string) Model {
	for _, r := range s {
		next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
		m = next.(Model)
	}
	return m
}

// enter 提交输入并同步执行返回的命令。
func enter(t *testing.T, m Model, s string) (Model, tea.Msg) {
	t.Helper()
	m.input.SetValue(s)
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(Model)
	if cmd == nil {
		return m, nil
	}
	return m, cmd()
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		input   string
		want    command
		wantErr bool
	}{
		{"/ai", command{name: "ai"}, false},
		{"/Summary", command{name: "summary"}, false},
		{"/reconnect", command{name: "reconnect"}, false},
		{"/share 2", command{name: "share", index: 2}, false},
		{"/edit 3 new  text", command{name: "edit", index: 3, arg: "new  text"}, false},
		{"/edit 3", command{name: "edit", index: 3}, true},
		{"/delete x", command{name: "delete"}, true},
		{"/theme dark blue", command{name: "theme", arg: "dark blue"}, false},
		{"/theme", command{name: "theme"}, true},
		{"/nope", command{name: "nope"}, true},
		{"/", command{}, true},
	}
	for _, tt := range tests {
		got, err := parseCommand(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseCommand(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parseCommand(%q) = %+v, want %+v", tt.input, got, tt.want)
		}
	}
}

func TestParseThemeArgs(t *testing.T) {
	tests := []struct {
		arg     string
		want    theme.Theme
		wantErr bool
	}{
		{"dark", theme.Theme{Mode: theme.ModeDark, Color: theme.ColorDefault}, false},
		{"Light Teal", theme.Theme{Mode: theme.ModeLight, Color: theme.ColorTeal}, false},
		{"neon", theme.Default, true},
		{"dark magenta", theme.Default, true},
	}
	for _, tt := range tests {
		got, err := parseThemeArgs(tt.arg)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("parseThemeArgs(%q) = %v, %v, want %v, wantErr %v", tt.arg, got, err, tt.want, tt.wantErr)
		}
	}
}

func TestNewStyles_ResolvesSystemMode(t *testing.T) {
	tests := []struct {
		theme      theme.Theme
		systemDark bool
		want       theme.Mode
	}{
		{theme.Default, true, theme.ModeDark},
		{theme.Default, false, theme.ModeLight},
		{theme.Theme{Mode: theme.ModeLight, Color: theme.ColorBlue}, true, theme.ModeLight},
	}
	for _, tt := range tests {
		s := NewStyles(tt.theme, tt.systemDark)
		if s.Mode != tt.want {
			t.Errorf("NewStyles(%v, %v).Mode = %s, want %s", tt.theme, tt.systemDark, s.Mode, tt.want)
		}
	}
	s := NewStyles(theme.Theme{Mode: theme.ModeDark, Color: theme.ColorBlue}, false)
	assert.Equal(t, lipgloss.Color("#2563EB"), s.Accent.GetForeground())
}

func TestSubmitPlainMessage(t *testing.T) {
	room := newFakeRoom(testSnapshot())
	m := New(context.Background(), room, theme.Default, false)

	m, msg := enter(t, m, "  hello there ")
	assert.Nil(t, msg)
	assert.Equal(t, "", m.input.Value())
	assert.Equal(t, []string{"submit:hello there"}, room.Calls())
}

func TestSubmitBlankIsNoop(t *testing.T) {
	room := newFakeRoom(testSnapshot())
	m := New(context.Background(), room, theme.Default, false)
	_, msg := enter(t, m, "   ")
	assert.Nil(t, msg)
	assert.Empty(t, room.Calls())
}

func TestSubmitErrorIsShown(t *testing.T) {
	room := newFakeRoom(testSnapshot())
	room.err = errors.New("network down")
	m := New(context.Background(), room, theme.Default, false)
	m, msg := enter(t, m, "hi")
	next, _ := m.Update(msg)
	assert.Contains(t, next.(Model).View(), "network down")
}

func TestTypingTriggersKeystroke(t *testing.T) {
	room := newFakeRoom(testSnapshot())
	m := New(context.Background(), room, theme.Default, false)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("h")})
	require.NotNil(t, cmd)
	fire(cmd)
	assert.Eventually(t, func() bool {
		for _, c := range room.Calls() {
			if c == "keystroke" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestCommandsNeverTouchTypingIndicator(t *testing.T) {
	room := newFakeRoom(testSnapshot())
	m := New(context.Background(), room, theme.Default, false)
	m = typeText(m, "/ai")
	assert.Equal(t, "/ai", m.input.Value())
	time.Sleep(20 * time.Millisecond)
	assert.NotContains(t, room.Calls(), "keystroke")
}

func TestEditAndDeleteOnlyOwnMessages(t *testing.T) {
	room := newFakeRoom(testSnapshot())
	m := New(context.Background(), room, theme.Default, false)

	m, msg := enter(t, m, "/edit 1 fixed typo")
	assert.Nil(t, msg)
	m, msg = enter(t, m, "/delete 1")
	assert.Nil(t, msg)
	assert.Equal(t, []string{"edit:m1:fixed typo", "delete:m1"}, room.Calls())

	m, msg = enter(t, m, "/delete 2")
	assert.Nil(t, msg)
	assert.Equal(t, chat.ErrNotOwner.Error(), m.err)
	assert.Len(t, room.Calls(), 2, "no request for another user's message")

	m, _ = enter(t, m, "/edit 9 x")
	assert.Equal(t, "no message #9", m.err)
}

func TestShareAndSummary(t *testing.T) {
	room := newFakeRoom(testSnapshot())
	m := New(context.Background(), room, theme.Default, false)

	m, msg := enter(t, m, "/share 1")
	assert.Equal(t, statusMsg("Shared to chat"), msg)
	m, _ = enter(t, m, "/share 2")
	assert.Equal(t, "no AI interaction #2", m.err)
	_, msg = enter(t, m, "/summary")
	assert.Equal(t, statusMsg(""), msg)
	assert.Equal(t, []string{"share:ai1", "summarize"}, room.Calls())
}

func TestModeCommands(t *testing.T) {
	room := newFakeRoom(testSnapshot())
	m := New(context.Background(), room, theme.Default, false)

	m, _ = enter(t, m, "/ai")
	assert.True(t, m.snap.AIMode)
	m, _ = enter(t, m, "/public")
	assert.Equal(t, models.OutputPublic, m.snap.OutputMode)
	assert.Contains(t, m.View(), "AI (public)")
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyTab})
	assert.False(t, next.(Model).snap.AIMode)
	assert.Equal(t, []string{"ai:on", "output:public", "ai:off"}, room.Calls())
}

func TestThemeCommandAppliesImmediately(t *testing.T) {
	room := newFakeRoom(testSnapshot())
	m := New(context.Background(), room, theme.Default, false)

	m, msg := enter(t, m, "/theme dark teal")
	assert.Equal(t, theme.Theme{Mode: theme.ModeDark, Color: theme.ColorTeal}, m.theme)
	assert.Equal(t, theme.ModeDark, m.styles.Mode)
	assert.Equal(t, statusMsg("Theme updated"), msg)
	assert.Equal(t, []string{"theme:dark/teal"}, room.Calls())

	_, _ = enter(t, m, "/theme purple")
	assert.Len(t, room.Calls(), 1)
}

func TestSnapshotUpdatesView(t *testing.T) {
	room := newFakeRoom(testSnapshot())
	m := New(context.Background(), room, theme.Default, false)

	snap := testSnapshot()
	snap.TypingLabel = "bob is typing..."
	snap.Summary = "Two people said hello."
	next, cmd := m.Update(snapshotMsg(snap))
	require.NotNil(t, cmd, "should keep listening for snapshots")
	view := next.(Model).View()
	assert.Contains(t, view, "bob is typing...")
	assert.Contains(t, view, "Two people said hello.")
	assert.Contains(t, view, "what is go")
	assert.Contains(t, view, "hi all")
}

func TestDisconnectedFeedOffersReconnect(t *testing.T) {
	room := newFakeRoom(testSnapshot())
	m := New(context.Background(), room, theme.Default, false)
	assert.NotContains(t, m.View(), "/reconnect")

	snap := testSnapshot()
	snap.Feed = chat.FeedDisconnected
	next, _ := m.Update(snapshotMsg(snap))
	m = next.(Model)
	assert.Contains(t, m.View(), "live updates lost, type /reconnect")

	m, msg := enter(t, m, "/reconnect")
	assert.Equal(t, "Reconnecting...", m.status)
	assert.Equal(t, statusMsg("Reconnected"), msg)
	assert.Equal(t, []string{"reconnect"}, room.Calls())
}

func TestThemeMsgRestyles(t *testing.T) {
	m := New(context.Background(), newFakeRoom(testSnapshot()), theme.Default, true)
	assert.Equal(t, theme.ModeDark, m.styles.Mode)
	next, _ := m.Update(themeMsg(theme.Theme{Mode: theme.ModeLight, Color: theme.ColorPink}))
	assert.Equal(t, theme.ModeLight, next.(Model).styles.Mode)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "a b", truncate("a\n  b", 10))
	assert.True(t, strings.HasSuffix(truncate(strings.Repeat("x", 50), 10), "…"))
	assert.Len(t, []rune(truncate(strings.Repeat("x", 50), 10)), 10)
}

// fire 在后台执行命令，展开批量命令。
func fire(cmd tea.Cmd) {
	if cmd == nil {
		return
	}
	go func() {
		if batch, ok := cmd().(tea.BatchMsg); ok {
			for _, c := range batch {
				fire(c)
			}
		}
	}()
}
