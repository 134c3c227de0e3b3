package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"aichatroom/internal/models"
	"aichatroom/internal/theme"
)

type fakeBackend struct {
	mu           sync.Mutex
	messages     []models.Message
	interactions []models.AIInteraction
	typing       []models.TypingIndicator
	typingNow    time.Time
	profile      *models.Profile
	calls        []string
	sent         []string
	nextID       int

	listErr    error
	getErr     error
	sendErr    error
	historyErr error
	// sendGate 非空时 SendMessage 会阻塞到它被关闭。
	sendGate chan struct{}
	// listGate 非空时 ListMessages 会阻塞到它被关闭或 ctx 结束。
	listGate chan struct{}
	// getGate 非空时 GetMessage 会阻塞到它被关闭。
	getGate chan struct{}

	profiles    []models.Profile
	profilesErr error
}

func (f *fakeBackend) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeBackend) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeBackend) count(call string) int {
	n := 0
	for _, c := range f.Calls() {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeBackend) ListMessages(ctx context.Context) ([]models.Message, error) {
	f.record("list")
	if f.listGate != nil {
		select {
		case <-f.listGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]models.Message(nil), f.messages...), nil
}

func (f *fakeBackend) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	f.record("get:" + id)
	if f.getGate != nil {
		select {
		case <-f.getGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	for _, m := range f.messages {
		if m.ID == id {
			m := m
			return &m, nil
		}
	}
	return nil, errors.New("message not found")
}

func (f *fakeBackend) SendMessage(ctx context.Context, content string) (*models.Message, error) {
	f.record("send")
	if f.sendGate != nil {
		select {
		case <-f.sendGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.nextID++
	f.sent = append(f.sent, content)
	m := models.Message{
		ID:        fmt.Sprintf("sent-%d", f.nextID),
		UserID:    "u1",
		Content:   content,
		CreatedAt: time.Now(),
		Author:    &models.Author{Username: "ann"},
	}
	f.messages = append(f.messages, m)
	return &m, nil
}

func (f *fakeBackend) EditMessage(_ context.Context, id, content string) (*models.Message, error) {
	f.record("edit:" + id)
	return &models.Message{ID: id, Content: content}, nil
}

func (f *fakeBackend) DeleteMessage(_ context.Context, id string) error {
	f.record("delete:" + id)
	return nil
}

func (f *fakeBackend) AIInteractions(context.Context) ([]models.AIInteraction, error) {
	f.record("history")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	return append([]models.AIInteraction(nil), f.interactions...), nil
}

func (f *fakeBackend) UpsertTyping(context.Context, string) error {
	f.record("upsert_typing")
	return nil
}

func (f *fakeBackend) DeleteTyping(context.Context) error {
	f.record("delete_typing")
	return nil
}

func (f *fakeBackend) SweepTyping(_ context.Context, olderThan time.Duration) error {
	f.record(fmt.Sprintf("sweep:%d", olderThan.Milliseconds()))
	return nil
}

func (f *fakeBackend) ActiveTyping(context.Context, time.Duration) ([]models.TypingIndicator, time.Time, error) {
	f.record("active_typing")
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.TypingIndicator(nil), f.typing...), f.typingNow, nil
}

func (f *fakeBackend) Profiles(_ context.Context, ids []string) ([]models.Profile, error) {
	f.record("profiles")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.profilesErr != nil {
		return nil, f.profilesErr
	}
	var out []models.Profile
	for _, p := range f.profiles {
		for _, id := range ids {
			if p.ID == id {
				out = append(out, p)
			}
		}
	}
	return out, nil
}

func (f *fakeBackend) MyProfile(context.Context) (*models.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.profile == nil {
		return nil, errors.New("no profile")
	}
	p := *f.profile
	return &p, nil
}

func (f *fakeBackend) SetTheme(context.Context, theme.Theme) error {
	f.record("set_theme")
	return nil
}

type fakeSub struct {
	ch   chan models.Change
	once sync.Once
}

func (s *fakeSub) Changes() <-chan models.Change { return s.ch }

func (s *fakeSub) Close() error {
	s.once.Do(func() { close(s.ch) })
	return nil
}

type fakeFeed struct {
	mu     sync.Mutex
	tables []string
	sub    *fakeSub
}

func (f *fakeFeed) Subscribe(_ context.Context, tables ...string) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tables = tables
	f.sub = &fakeSub{ch: make(chan models.Change, 16)}
	return f.sub, nil
}

func (f *fakeFeed) push(c models.Change) { f.current().ch <- c }

func (f *fakeFeed) current() *fakeSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sub
}

type fakeAuth struct{ user *User }

func (a fakeAuth) CurrentUser(context.Context) (*User, error) { return a.user, nil }

type fakeAI struct {
	mu         sync.Mutex
	reply      *models.Message
	err        error
	summary    string
	asked      []string
	modes      []string
	summarized [][]models.Message
}

func (a *fakeAI) Ask(_ context.Context, prompt, mode string) (*models.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.asked = append(a.asked, prompt)
	a.modes = append(a.modes, mode)
	return a.reply, a.err
}

func (a *fakeAI) Summarize(_ context.Context, msgs []models.Message) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.summarized = append(a.summarized, msgs)
	return a.summary, a.err
}

func msg(id, userID, content string, at time.Time) models.Message {
	return models.Message{ID: id, UserID: userID, Content: content, CreatedAt: at, Author: &models.Author{Username: userID}}
}

func privateAI(id, userID string, at time.Time) models.Message {
	mode := models.OutputPrivate
	prompt := "p"
	return models.Message{ID: id, UserID: userID, Content: "ai", IsAIMessage: true, AIOutputMode: &mode, AIPrompt: &prompt, CreatedAt: at}
}
