package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"aichatroom/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatShareBlock(t *testing.T) {
	got := FormatShareBlock("Dana", "P", "O")
	assert.Equal(t, "User (Dana) prompted:\nP\n\nAI Assistant Output:\nO", got)
}

func TestHistory_LoadSkipsEmptyPrompts(t *testing.T) {
	fb := &fakeBackend{interactions: []models.AIInteraction{
		{ID: "2", Prompt: "second", Output: "b", CreatedAt: t0.Add(time.Second)},
		{ID: "x", Prompt: "", Output: "blank"},
		{ID: "1", Prompt: "first", Output: "a", CreatedAt: t0},
	}}
	h := NewHistory(fb)
	require.NoError(t, h.Load(context.Background()))
	items := h.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "2", items[0].ID)
	assert.Equal(t, "1", items[1].ID)

	assert.True(t, h.Remove("2"))
	assert.False(t, h.Remove("2"))
	assert.Len(t, h.Items(), 1)
}

func TestHistory_LoadFailureDegradesToEmpty(t *testing.T) {
	fb := &fakeBackend{interactions: []models.AIInteraction{{ID: "1", Prompt: "p"}}}
	h := NewHistory(fb)
	require.NoError(t, h.Load(context.Background()))

	fb.historyErr = errors.New("offline")
	assert.Error(t, h.Load(context.Background()))
	assert.Empty(t, h.Items())
}

func TestHistory_ShareSerializedPerInteraction(t *testing.T) {
	gate := make(chan struct{})
	fb := &fakeBackend{sendGate: gate}
	h := NewHistory(fb)
	it := models.AIInteraction{ID: "i1", Prompt: "P", Output: "O"}

	type result struct {
		msg *models.Message
		err error
	}
	first := make(chan result, 1)
	go func() {
		m, err := h.Share(context.Background(), it, "Dana")
		first <- result{m, err}
	}()
	require.Eventually(t, func() bool { return h.Sharing("i1") }, time.Second, 5*time.Millisecond)

	_, err := h.Share(context.Background(), it, "Dana")
	assert.ErrorIs(t, err, ErrShareInFlight)

	close(gate)
	r := <-first
	require.NoError(t, r.err)
	assert.Equal(t, "User (Dana) prompted:\nP\n\nAI Assistant Output:\nO", r.msg.Content)
	assert.False(t, r.msg.IsAIMessage)
	assert.False(t, h.Sharing("i1"))
	assert.Equal(t, 1, fb.count("send"))

	// 锁释放后可以再次分享，重复分享只是多一条普通消息。
	_, err = h.Share(context.Background(), it, "Dana")
	require.NoError(t, err)
	assert.Equal(t, 2, fb.count("send"))
}
