package chat

import (
	"sort"

	"aichatroom/internal/models"
)

// Signal 告诉调用方一次合并之后还需要做什么。
type Signal int

const (
	SignalNone Signal = iota
	SignalChanged
	SignalRefreshAI
)

// Event 是一条已确认的变更，写请求的直接响应按 INSERT 处理。
type Event struct {
	Type    models.ChangeType
	Message models.Message
	ID      string
}

// MessageList 是主消息流的内存缓存，只由 Room 的事件循环访问。
type MessageList struct {
	viewerID string
	items    []models.Message
	deleted  map[string]struct{}
	// early 保存先于 INSERT 到达的 UPDATE，插入时取较新的一版。
	early map[string]models.Message
}

func NewMessageList(viewerID string) *MessageList {
	return &MessageList{
		viewerID: viewerID,
		deleted:  make(map[string]struct{}),
		early:    make(map[string]models.Message),
	}
}

// CanModify 只有作者本人可以编辑或删除非 AI 消息。
func CanModify(viewerID string, m models.Message) bool {
	return viewerID != "" && m.UserID == viewerID && !m.IsAIMessage
}

// PlaceholderAuthor 在资料查询失败时用截断的用户 id 代替作者。
func PlaceholderAuthor(userID string) *models.Author {
	short := userID
	if len(short) > 8 {
		short = short[:8]
	}
	return &models.Author{Username: "User " + short}
}

func less(a, b models.Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// newer 报告 a 的编辑时间是否不早于 b；未编辑过的版本最旧。
func newer(a, b models.Message) bool {
	if a.UpdatedAt == nil {
		return false
	}
	return b.UpdatedAt == nil || !a.UpdatedAt.Before(*b.UpdatedAt)
}

// takeEarly 取出 id 对应的提前更新，若它比 m 新则替换 m 的内容。
func (l *MessageList) takeEarly(m models.Message) models.Message {
	e, ok := l.early[m.ID]
	if !ok {
		return m
	}
	delete(l.early, m.ID)
	if !newer(e, m) {
		return m
	}
	if e.Author == nil {
		e.Author = m.Author
	}
	return e
}

func (l *MessageList) accepts(m models.Message) bool {
	if m.IsAIMessage || !m.VisibleTo(l.viewerID) {
		return false
	}
	_, gone := l.deleted[m.ID]
	return !gone
}

// Load 用全量快照替换列表，已删除的 id 不会被快照复活。
func (l *MessageList) Load(msgs []models.Message) {
	items := make([]models.Message, 0, len(msgs))
	seen := make(map[string]int, len(msgs))
	for _, m := range msgs {
		if !l.accepts(m) {
			continue
		}
		m = l.takeEarly(m)
		if m.Author == nil {
			m.Author = PlaceholderAuthor(m.UserID)
		}
		if i, ok := seen[m.ID]; ok {
			items[i] = m
			continue
		}
		seen[m.ID] = len(items)
		items = append(items, m)
	}
	sort.SliceStable(items, func(i, j int) bool { return less(items[i], items[j]) })
	l.items = items
}

func (l *MessageList) indexOf(id string) int {
	for i := len(l.items) - 1; i >= 0; i-- {
		if l.items[i].ID == id {
			return i
		}
	}
	return -1
}

// Insert 按 id 替换或按创建时间插入，重复投递不会产生重复项。
func (l *MessageList) Insert(m models.Message) Signal {
	if m.IsAIMessage {
		if m.UserID == l.viewerID {
			return SignalRefreshAI
		}
		return SignalNone
	}
	if !l.accepts(m) {
		return SignalNone
	}
	if i := l.indexOf(m.ID); i >= 0 {
		cur := l.items[i]
		if cur.UpdatedAt != nil && (m.UpdatedAt == nil || m.UpdatedAt.Before(*cur.UpdatedAt)) {
			return SignalNone
		}
		if m.Author == nil {
			m.Author = cur.Author
		}
		l.items[i] = m
		return SignalChanged
	}
	m = l.takeEarly(m)
	if m.Author == nil {
		m.Author = PlaceholderAuthor(m.UserID)
	}
	pos := len(l.items)
	for pos > 0 && less(m, l.items[pos-1]) {
		pos--
	}
	l.items = append(l.items, models.Message{})
	copy(l.items[pos+1:], l.items[pos:])
	l.items[pos] = m
	return SignalChanged
}

// Update 原位替换；当前用户自己的 AI 消息只触发 AI 历史刷新。
func (l *MessageList) Update(m models.Message) Signal {
	if m.IsAIMessage {
		if m.UserID == l.viewerID {
			return SignalRefreshAI
		}
		return SignalNone
	}
	if !l.accepts(m) {
		return SignalNone
	}
	i := l.indexOf(m.ID)
	if i < 0 {
		if prev, ok := l.early[m.ID]; !ok || newer(m, prev) {
			l.early[m.ID] = m
		}
		return SignalNone
	}
	if m.Author == nil {
		m.Author = l.items[i].Author
	}
	l.items[i] = m
	return SignalChanged
}

// Delete 移除消息并记住该 id。
func (l *MessageList) Delete(id string) Signal {
	l.deleted[id] = struct{}{}
	delete(l.early, id)
	i := l.indexOf(id)
	if i < 0 {
		return SignalNone
	}
	l.items = append(l.items[:i], l.items[i+1:]...)
	return SignalChanged
}

// ApplyProfile 把资料更新同步到该作者的全部消息上。
func (l *MessageList) ApplyProfile(p models.Profile) Signal {
	sig := SignalNone
	for i := range l.items {
		if l.items[i].UserID == p.ID {
			l.items[i].Author = p.Author()
			sig = SignalChanged
		}
	}
	return sig
}

func (l *MessageList) Apply(e Event) Signal {
	switch e.Type {
	case models.ChangeInsert:
		return l.Insert(e.Message)
	case models.ChangeUpdate:
		return l.Update(e.Message)
	case models.ChangeDelete:
		id := e.ID
		if id == "" {
			id = e.Message.ID
		}
		return l.Delete(id)
	}
	return SignalNone
}

// Get 按 id 查找消息。
func (l *MessageList) Get(id string) (models.Message, bool) {
	if i := l.indexOf(id); i >= 0 {
		return l.items[i], true
	}
	return models.Message{}, false
}

func (l *MessageList) Len() int { return len(l.items) }

// Items 返回副本，调用方可以自由持有。
func (l *MessageList) Items() []models.Message {
	out := make([]models.Message, len(l.items))
	copy(out, l.items)
	return out
}

// Reconcile 把快照与一串已确认事件合并，结果与事件是否重复无关。
func Reconcile(base []models.Message, events []Event, viewerID string) []models.Message {
	l := NewMessageList(viewerID)
	l.Load(base)
	for _, e := range events {
		l.Apply(e)
	}
	return l.Items()
}
