package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"aichatroom/internal/models"
	"aichatroom/internal/theme"

	"github.com/rs/zerolog/log"
)

// Tables 是聊天室订阅的三张表。
var Tables = []string{models.TableMessages, models.TableTypingIndicators, models.TableProfiles}

var ErrInteractionNotFound = errors.New("AI interaction not found")

// FeedStatus 描述变更订阅的状态，断开后需要用户手动重连。
type FeedStatus string

const (
	FeedConnected    FeedStatus = "connected"
	FeedDisconnected FeedStatus = "disconnected"
)

type Options struct {
	SweepInterval time.Duration
	Inactivity    time.Duration
	// Theme 为 nil 时不同步主题。
	Theme         *theme.Store
}

// Snapshot 是某一时刻可见状态的副本。
type Snapshot struct {
	User         *User
	Profile      *models.Profile
	Messages     []models.Message
	Typists      []string
	TypingLabel  string
	History      []models.AIInteraction
	Sharing      []string
	Composer     ComposerState
	AIMode       bool
	OutputMode   string
	Summary      string
	SummaryError string
	Feed         FeedStatus
}

// Room 挂载一个聊天室视图。消息列表与输入者列表只在事件循环协程里修改，
// 网络请求在其他协程执行后把结果投递回循环；卸载后投递的结果会被丢弃。
type Room struct {
	backend Backend
	feed    Feed
	auth    Auth
	ai      AI
	opts    Options

	typing   *Typing
	history  *History
	composer *Composer

	ops      chan func()
	updates  chan Snapshot
	done     chan struct{}
	stopped  chan struct{}
	mounted  atomic.Bool
	stopOnce sync.Once
	ctx      context.Context
	cancel   context.CancelFunc

	asyncMu sync.Mutex
	closing bool
	wg      sync.WaitGroup

	// 以下字段只在事件循环中访问。
	messages   *MessageList
	loaded     bool
	pending    []Event
	typists    []string
	typingSeq  uint64
	typingSeen uint64
	summary    string
	summaryErr string
	sub        Subscription
	changes    <-chan models.Change
	feedStatus FeedStatus

	mu      sync.RWMutex
	user    *User
	profile *models.Profile
	snap    Snapshot
}

func NewRoom(backend Backend, feed Feed, auth Auth, ai AI, opts Options) *Room {
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = TypingSweepInterval
	}
	r := &Room{
		backend: backend,
		feed:    feed,
		auth:    auth,
		ai:      ai,
		opts:    opts,
		ops:     make(chan func(), 64),
		updates: make(chan Snapshot, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	r.typing = NewTyping(backend)
	r.history = NewHistory(backend)
	r.composer = NewComposer(r.typing, backend, ai, r.currentUser)
	if opts.Inactivity > 0 {
		r.composer.inactivity = opts.Inactivity
	}
	r.composer.OnChange(func() { r.post(r.publish) })
	r.composer.OnAIComplete(r.refreshHistory)
	r.history.OnChange(func() { r.post(r.publish) })
	return r
}

func (r *Room) currentUser() *User {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.user
}

func (r *Room) Mounted() bool { return r.mounted.Load() }

// Mount 解析当前用户，订阅变更并发起初始加载；只能调用一次。
func (r *Room) Mount(ctx context.Context) error {
	r.asyncMu.Lock()
	closing := r.closing
	r.asyncMu.Unlock()
	if closing {
		return errors.New("room was unmounted")
	}
	if !r.mounted.CompareAndSwap(false, true) {
		return errors.New("room already mounted")
	}
	user, err := r.auth.CurrentUser(ctx)
	if err == nil && user == nil {
		err = ErrUnauthenticated
	}
	if err != nil {
		r.mounted.Store(false)
		return err
	}
	r.mu.Lock()
	r.user = user
	r.mu.Unlock()
	r.messages = NewMessageList(user.ID)
	r.ctx, r.cancel = context.WithCancel(context.Background())

	r.feedStatus = FeedDisconnected
	sub, err := r.feed.Subscribe(ctx, Tables...)
	if err != nil {
		log.Error().Err(err).Msg("subscribe change feed")
	} else {
		r.sub = sub
		r.changes = sub.Changes()
		r.feedStatus = FeedConnected
	}

	go r.loop()

	r.async(r.loadMessages)
	r.refreshHistory()
	r.refreshTypists()
	r.async(r.loadProfile)
	r.post(r.publish)
	return nil
}

// Reconnect 重新订阅变更并全量重新加载，只在用户要求时调用。
func (r *Room) Reconnect(ctx context.Context) error {
	if !r.Mounted() {
		return ErrNotMounted
	}
	sub, err := r.feed.Subscribe(ctx, Tables...)
	if err != nil {
		return err
	}
	ok := r.post(func() {
		if old := r.sub; old != nil {
			r.async(func(context.Context) {
				if err := old.Close(); err != nil {
					log.Warn().Err(err).Msg("close previous change feed")
				}
			})
		}
		r.sub = sub
		r.changes = sub.Changes()
		r.feedStatus = FeedConnected
		r.loaded = false
		r.pending = nil
		r.async(r.loadMessages)
		r.refreshHistory()
		r.refreshTypists()
		r.async(r.loadProfile)
		r.publish()
	})
	if !ok {
		sub.Close()
		return ErrNotMounted
	}
	return nil
}

// Unmount 取消订阅、停止计时器与清扫，并等待所有后台请求返回。
func (r *Room) Unmount() {
	if !r.mounted.Load() {
		return
	}
	r.stopOnce.Do(func() {
		r.asyncMu.Lock()
		r.closing = true
		close(r.done)
		r.asyncMu.Unlock()
		<-r.stopped
		r.cancel()
		if r.sub != nil {
			if err := r.sub.Close(); err != nil {
				log.Warn().Err(err).Msg("close change feed")
			}
		}
		r.composer.Close()
		r.wg.Wait()
		r.mounted.Store(false)
	})
}

func (r *Room) loop() {
	defer close(r.stopped)
	ticker := time.NewTicker(r.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case fn := <-r.ops:
			select {
			case <-r.done:
				return
			default:
			}
			fn()
		case c, ok := <-r.changes:
			if !ok {
				log.Warn().Msg("change feed closed")
				r.changes = nil
				r.feedStatus = FeedDisconnected
				r.publish()
				continue
			}
			r.handleChange(c)
		case <-ticker.C:
			r.async(func(ctx context.Context) {
				if err := r.typing.Sweep(ctx); err != nil {
					log.Warn().Err(err).Msg("sweep typing indicators")
				}
			})
		}
	}
}

// post 把 fn 投递到事件循环，卸载后直接丢弃并返回 false。
func (r *Room) post(fn func()) bool {
	select {
	case <-r.done:
		return false
	case r.ops <- fn:
		return true
	}
}

func (r *Room) async(fn func(ctx context.Context)) {
	r.asyncMu.Lock()
	if r.closing {
		r.asyncMu.Unlock()
		return
	}
	r.wg.Add(1)
	r.asyncMu.Unlock()
	go func() {
		defer r.wg.Done()
		fn(r.ctx)
	}()
}

func (r *Room) loadMessages(ctx context.Context) {
	msgs, err := r.backend.ListMessages(ctx)
	if err != nil {
		log.Error().Err(err).Msg("load messages")
		msgs = nil
	}
	r.fillAuthors(ctx, msgs)
	r.post(func() {
		r.messages.Load(msgs)
		r.loaded = true
		for _, e := range r.pending {
			r.apply(e)
		}
		r.pending = nil
		r.publish()
	})
}

// fillAuthors 为缺少作者的消息批量查询资料；查询失败时保持为空，
// MessageList 会改用占位作者。
func (r *Room) fillAuthors(ctx context.Context, msgs []models.Message) {
	seen := make(map[string]struct{})
	var ids []string
	for _, m := range msgs {
		if m.Author != nil || m.IsAIMessage {
			continue
		}
		if _, ok := seen[m.UserID]; !ok {
			seen[m.UserID] = struct{}{}
			ids = append(ids, m.UserID)
		}
	}
	if len(ids) == 0 {
		return
	}
	profiles, err := r.backend.Profiles(ctx, ids)
	if err != nil {
		log.Warn().Err(err).Int("authors", len(ids)).Msg("load message authors")
		return
	}
	authors := make(map[string]*models.Author, len(profiles))
	for _, p := range profiles {
		authors[p.ID] = p.Author()
	}
	for i := range msgs {
		if msgs[i].Author == nil {
			msgs[i].Author = authors[msgs[i].UserID]
		}
	}
}

func (r *Room) loadProfile(ctx context.Context) {
	p, err := r.backend.MyProfile(ctx)
	if err != nil {
		log.Error().Err(err).Msg("load profile")
		return
	}
	r.post(func() {
		r.setProfile(p)
		r.publish()
	})
}

func (r *Room) refreshHistory() {
	r.async(func(ctx context.Context) {
		if err := r.history.Load(ctx); err != nil {
			log.Error().Err(err).Msg("load AI interactions")
		}
		r.post(r.publish)
	})
}

// refreshTypists 每次重新查询，迟到的旧结果不会覆盖新结果。
func (r *Room) refreshTypists() {
	seq := atomic.AddUint64(&r.typingSeq, 1)
	r.async(func(ctx context.Context) {
		names, err := r.typing.CurrentTypists(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("load typing indicators")
			names = nil
		}
		r.post(func() {
			if seq < r.typingSeen {
				return
			}
			r.typingSeen = seq
			r.typists = names
			r.publish()
		})
	})
}

func (r *Room) setProfile(p *models.Profile) {
	r.mu.Lock()
	r.profile = p
	r.mu.Unlock()
	if r.opts.Theme != nil && p.ThemePreference != "" {
		r.opts.Theme.Set(theme.Parse(p.ThemePreference))
	}
}

func (r *Room) apply(e Event) {
	if !r.loaded {
		r.pending = append(r.pending, e)
		return
	}
	switch r.messages.Apply(e) {
	case SignalRefreshAI:
		r.refreshHistory()
	case SignalChanged:
		r.publish()
	}
}

func (r *Room) viewerID() string {
	if u := r.currentUser(); u != nil {
		return u.ID
	}
	return ""
}

func (r *Room) handleChange(c models.Change) {
	switch c.Table {
	case models.TableMessages:
		r.handleMessageChange(c)
	case models.TableTypingIndicators:
		r.refreshTypists()
	case models.TableProfiles:
		var p models.Profile
		if err := json.Unmarshal(c.New, &p); err != nil || p.ID == "" {
			return
		}
		if r.messages.ApplyProfile(p) == SignalChanged {
			r.publish()
		}
		if p.ID == r.viewerID() {
			r.setProfile(&p)
			r.publish()
		}
	}
}

func (r *Room) handleMessageChange(c models.Change) {
	switch c.EventType {
	case models.ChangeDelete:
		var old models.RowID
		if err := json.Unmarshal(c.Old, &old); err != nil || old.ID == "" {
			log.Warn().Err(err).Msg("decode message delete")
			return
		}
		r.apply(Event{Type: models.ChangeDelete, ID: old.ID})
		if r.history.Remove(old.ID) {
			r.publish()
		}
	case models.ChangeInsert, models.ChangeUpdate:
		var m models.Message
		if err := json.Unmarshal(c.New, &m); err != nil || m.ID == "" {
			log.Warn().Err(err).Str("type", string(c.EventType)).Msg("decode message change")
			return
		}
		if c.EventType == models.ChangeInsert && !m.IsAIMessage && m.Author == nil {
			r.async(func(ctx context.Context) {
				full, err := r.backend.GetMessage(ctx, m.ID)
				if err != nil || full == nil {
					log.Warn().Err(err).Str("message_id", m.ID).Msg("fetch inserted message")
					full = &m
				}
				one := []models.Message{*full}
				r.fillAuthors(ctx, one)
				r.post(func() { r.apply(Event{Type: models.ChangeInsert, Message: one[0]}) })
			})
			return
		}
		r.apply(Event{Type: c.EventType, Message: m})
	}
}

// publish 在事件循环中生成快照，updates 只保留最新一份。
func (r *Room) publish() {
	s := Snapshot{
		Typists:      append([]string(nil), r.typists...),
		TypingLabel:  TypingLabel(r.typists),
		History:      r.history.Items(),
		Sharing:      r.history.SharingIDs(),
		Composer:     r.composer.State(),
		AIMode:       r.composer.AIMode(),
		OutputMode:   r.composer.OutputMode(),
		Summary:      r.summary,
		SummaryError: r.summaryErr,
		Feed:         r.feedStatus,
	}
	sort.Strings(s.Sharing)
	if r.messages != nil {
		s.Messages = r.messages.Items()
	}
	r.mu.Lock()
	s.User = r.user
	s.Profile = r.profile
	r.snap = s
	r.mu.Unlock()

	select {
	case <-r.updates:
	default:
	}
	select {
	case r.updates <- s:
	default:
	}
}

func (r *Room) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap
}

// Updates 每次状态变化后收到最新快照。
func (r *Room) Updates() <-chan Snapshot { return r.updates }

func (r *Room) displayName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.profile != nil {
		return r.profile.Author().Name()
	}
	if r.user != nil {
		return r.user.Username
	}
	return "Anonymous"
}

func (r *Room) Keystroke(ctx context.Context) error {
	if !r.Mounted() {
		return ErrNotMounted
	}
	return r.composer.Keystroke(ctx)
}

// Submit 发送输入内容，写响应与对应的变更通知按同一 id 去重合并。
func (r *Room) Submit(ctx context.Context, input string) error {
	if !r.Mounted() {
		return ErrNotMounted
	}
	msg, err := r.composer.Submit(ctx, input)
	if err != nil {
		return err
	}
	if msg != nil && !msg.IsAIMessage {
		m := *msg
		r.post(func() { r.apply(Event{Type: models.ChangeInsert, Message: m}) })
	}
	return nil
}

func (r *Room) findMessage(id string) (models.Message, bool) {
	for _, m := range r.Snapshot().Messages {
		if m.ID == id {
			return m, true
		}
	}
	return models.Message{}, false
}

// EditMessage 只发请求，本地列表等变更通知到达后再更新。
func (r *Room) EditMessage(ctx context.Context, id, content string) error {
	msg, ok := r.findMessage(id)
	if !ok {
		return ErrNotOwner
	}
	_, err := r.composer.EditMessage(ctx, msg, content)
	return err
}

func (r *Room) DeleteMessage(ctx context.Context, id string) error {
	msg, ok := r.findMessage(id)
	if !ok {
		return ErrNotOwner
	}
	return r.composer.DeleteMessage(ctx, msg)
}

// Share 把一条 AI 问答分享到聊天室。
func (r *Room) Share(ctx context.Context, interactionID string) error {
	if !r.Mounted() {
		return ErrNotMounted
	}
	if r.currentUser() == nil {
		return ErrUnauthenticated
	}
	it, ok := r.history.Find(interactionID)
	if !ok {
		return ErrInteractionNotFound
	}
	msg, err := r.history.Share(ctx, it, r.displayName())
	if err != nil {
		return err
	}
	if msg != nil {
		m := *msg
		r.post(func() { r.apply(Event{Type: models.ChangeInsert, Message: m}) })
	}
	return nil
}

// Summarize 把最近 50 条可见消息发给摘要接口，错误原样展示且不重试。
func (r *Room) Summarize(ctx context.Context) (string, error) {
	if !r.Mounted() {
		return "", ErrNotMounted
	}
	msgs := r.Snapshot().Messages
	if len(msgs) > SummaryContext {
		msgs = msgs[len(msgs)-SummaryContext:]
	}
	summary, err := r.ai.Summarize(ctx, msgs)
	r.post(func() {
		if err != nil {
			r.summary, r.summaryErr = "", err.Error()
		} else {
			r.summary, r.summaryErr = summary, ""
		}
		r.publish()
	})
	return summary, err
}

func (r *Room) SetAIMode(on bool) { r.composer.SetAIMode(on) }

func (r *Room) SetOutputMode(mode string) error { return r.composer.SetOutputMode(mode) }

func (r *Room) CanModify(m models.Message) bool { return CanModify(r.viewerID(), m) }

// SetTheme 立即更新本地主题并写回资料，写失败时返回错误。
func (r *Room) SetTheme(ctx context.Context, t theme.Theme) error {
	if r.opts.Theme != nil {
		r.opts.Theme.Set(t)
	}
	return r.backend.SetTheme(ctx, t)
}
