package chat

import (
	"context"
	"fmt"
	"sync"

	"aichatroom/internal/models"
)

// FormatShareBlock 生成分享到聊天室的 AI 问答文本。
func FormatShareBlock(displayName, prompt, output string) string {
	return fmt.Sprintf("User (%s) prompted:\n%s\n\nAI Assistant Output:\n%s", displayName, prompt, output)
}

// History 是当前用户的 AI 问答记录，与主消息流相互独立。
type History struct {
	store    MessageStore
	onChange func()

	mu      sync.Mutex
	items   []models.AIInteraction
	sharing map[string]bool
}

func NewHistory(store MessageStore) *History {
	return &History{store: store, sharing: make(map[string]bool)}
}

// OnChange 在分享状态变化时被调用。
func (h *History) OnChange(fn func()) { h.onChange = fn }

func (h *History) notify() {
	if h.onChange != nil {
		h.onChange()
	}
}

// Load 重新拉取历史，失败时清空并返回错误。
func (h *History) Load(ctx context.Context) error {
	items, err := h.store.AIInteractions(ctx)
	h.mu.Lock()
	defer h.mu.Unlock()
	if err != nil {
		h.items = nil
		return err
	}
	out := items[:0:0]
	for _, it := range items {
		if it.Prompt != "" {
			out = append(out, it)
		}
	}
	h.items = out
	return nil
}

func (h *History) Remove(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, it := range h.items {
		if it.ID == id {
			h.items = append(h.items[:i], h.items[i+1:]...)
			return true
		}
	}
	return false
}

func (h *History) Items() []models.AIInteraction {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]models.AIInteraction, len(h.items))
	copy(out, h.items)
	return out
}

func (h *History) Find(id string) (models.AIInteraction, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, it := range h.items {
		if it.ID == id {
			return it, true
		}
	}
	return models.AIInteraction{}, false
}

// Sharing 报告该问答是否正在分享。
func (h *History) Sharing(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sharing[id]
}

// Share 以普通消息的形式把问答发到聊天室，同一问答同时只能有一个分享请求。
func (h *History) Share(ctx context.Context, it models.AIInteraction, displayName string) (*models.Message, error) {
	h.mu.Lock()
	if h.sharing[it.ID] {
		h.mu.Unlock()
		return nil, ErrShareInFlight
	}
	h.sharing[it.ID] = true
	h.mu.Unlock()
	h.notify()
	defer func() {
		h.mu.Lock()
		delete(h.sharing, it.ID)
		h.mu.Unlock()
		h.notify()
	}()
	return h.store.SendMessage(ctx, FormatShareBlock(displayName, it.Prompt, it.Output))
}

// SharingIDs 返回正在分享中的问答 id。
func (h *History) SharingIDs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]string, 0, len(h.sharing))
	for id := range h.sharing {
		ids = append(ids, id)
	}
	return ids
}
