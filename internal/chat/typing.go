package chat

import (
	"context"
	"strings"
	"sync"
	"time"

	"aichatroom/internal/models"
)

// Typing 负责输入指示器的节流写入、释放、清扫与查询。
type Typing struct {
	store TypingStore
	now   func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

func NewTyping(store TypingStore) *Typing {
	return &Typing{store: store, now: time.Now, last: make(map[string]time.Time)}
}

// Touch 每个作者在滚动的 1000ms 窗口内至多写一次，返回是否真正发出了写请求。
func (t *Typing) Touch(ctx context.Context, userID, username string) (bool, error) {
	now := t.now()
	t.mu.Lock()
	if last, ok := t.last[userID]; ok && now.Sub(last) < TypingThrottle {
		t.mu.Unlock()
		return false, nil
	}
	t.last[userID] = now
	t.mu.Unlock()
	return true, t.store.UpsertTyping(ctx, username)
}

// Release 立即删除当前用户的输入指示器。
func (t *Typing) Release(ctx context.Context) error {
	return t.store.DeleteTyping(ctx)
}

// Sweep 删除所有超过新鲜度窗口的指示器，不区分所有者。
func (t *Typing) Sweep(ctx context.Context) error {
	return t.store.SweepTyping(ctx, TypingFreshness)
}

// CurrentTypists 每次都重新查询，保持存储返回的顺序。
func (t *Typing) CurrentTypists(ctx context.Context) ([]string, error) {
	rows, serverNow, err := t.store.ActiveTyping(ctx, TypingFreshness)
	if err != nil {
		return nil, err
	}
	if serverNow.IsZero() {
		serverNow = t.now()
	}
	return Fresh(rows, serverNow), nil
}

// Fresh 过滤出 now-updated_at 小于新鲜度窗口的用户名。
func Fresh(rows []models.TypingIndicator, now time.Time) []string {
	names := make([]string, 0, len(rows))
	for _, r := range rows {
		if now.Sub(r.UpdatedAt) < TypingFreshness {
			names = append(names, r.Username)
		}
	}
	return names
}

// TypingLabel 生成 "Ann, Bo and Cy are typing..." 形式的提示。
func TypingLabel(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0] + " is typing..."
	}
	return strings.Join(names[:len(names)-1], ", ") + " and " + names[len(names)-1] + " are typing..."
}
