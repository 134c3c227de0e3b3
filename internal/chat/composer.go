package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"aichatroom/internal/models"

	"github.com/rs/zerolog/log"
)

type ComposerState int

const (
	StateIdle ComposerState = iota
	StateTyping
	StateSubmitting
)

func (s ComposerState) String() string {
	switch s {
	case StateTyping:
		return "typing"
	case StateSubmitting:
		return "submitting"
	}
	return "idle"
}

var (
	ErrSubmitting        = errors.New("a message is already being sent")
	ErrInvalidOutputMode = errors.New("output mode must be public or private")
)

// Composer 是输入框的状态机：Idle -> Typing -> Submitting -> Idle。
// 它自己从不修改消息列表，列表只随变更通知与写响应更新。
type Composer struct {
	typing *Typing
	store  MessageStore
	ai     AI
	user   func() *User

	inactivity   time.Duration
	onChange     func()
	onAIComplete func()

	mu         sync.Mutex
	state      ComposerState
	aiMode     bool
	outputMode string
	timer      *time.Timer
	gen        uint64
	closed     bool
}

// NewComposer 的 user 在每次使用时读取最新的登录用户。
func NewComposer(typing *Typing, store MessageStore, ai AI, user func() *User) *Composer {
	return &Composer{
		typing:     typing,
		store:      store,
		ai:         ai,
		user:       user,
		inactivity: TypingInactivity,
		outputMode: models.OutputPrivate,
	}
}

// OnChange 在状态或模式变化后被调用。
func (c *Composer) OnChange(fn func()) { c.onChange = fn }

// OnAIComplete 在 AI 请求成功后被调用。
func (c *Composer) OnAIComplete(fn func()) { c.onAIComplete = fn }

func (c *Composer) notify() {
	if c.onChange != nil {
		c.onChange()
	}
}

func (c *Composer) State() ComposerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Composer) AIMode() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aiMode
}

func (c *Composer) OutputMode() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outputMode
}

func (c *Composer) SetAIMode(on bool) {
	c.mu.Lock()
	c.aiMode = on
	c.mu.Unlock()
	c.notify()
}

func (c *Composer) SetOutputMode(mode string) error {
	if mode != models.OutputPublic && mode != models.OutputPrivate {
		return ErrInvalidOutputMode
	}
	c.mu.Lock()
	c.outputMode = mode
	c.mu.Unlock()
	c.notify()
	return nil
}

func (c *Composer) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.gen++
}

// Keystroke 进入 Typing，节流写入指示器并重置不活动计时器。
func (c *Composer) Keystroke(ctx context.Context) error {
	u := c.user()
	if u == nil {
		return ErrUnauthenticated
	}
	c.mu.Lock()
	if c.closed || c.state == StateSubmitting {
		c.mu.Unlock()
		return nil
	}
	c.state = StateTyping
	c.stopTimerLocked()
	gen := c.gen
	c.timer = time.AfterFunc(c.inactivity, func() { c.expire(gen) })
	c.mu.Unlock()
	c.notify()

	_, err := c.typing.Touch(ctx, u.ID, u.Username)
	return err
}

func (c *Composer) expire(gen uint64) {
	c.mu.Lock()
	if c.closed || gen != c.gen || c.state != StateTyping {
		c.mu.Unlock()
		return
	}
	c.state = StateIdle
	c.timer = nil
	c.mu.Unlock()
	c.notify()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.typing.Release(ctx); err != nil {
		log.Warn().Err(err).Msg("release typing indicator")
	}
}

// Submit 发送消息或 AI 请求，空白输入直接忽略。
func (c *Composer) Submit(ctx context.Context, input string) (*models.Message, error) {
	content := strings.TrimSpace(input)
	if content == "" {
		return nil, nil
	}
	if c.user() == nil {
		return nil, ErrUnauthenticated
	}
	c.mu.Lock()
	if c.state == StateSubmitting {
		c.mu.Unlock()
		return nil, ErrSubmitting
	}
	c.stopTimerLocked()
	c.state = StateSubmitting
	aiMode, mode := c.aiMode, c.outputMode
	c.mu.Unlock()
	c.notify()

	defer func() {
		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()
		c.notify()
	}()

	if err := c.typing.Release(ctx); err != nil {
		log.Warn().Err(err).Msg("release typing indicator")
	}
	if !aiMode {
		return c.store.SendMessage(ctx, content)
	}
	msg, err := c.ai.Ask(ctx, content, mode)
	if err != nil {
		return nil, err
	}
	if c.onAIComplete != nil {
		c.onAIComplete()
	}
	return msg, nil
}

func (c *Composer) guard(msg models.Message) error {
	u := c.user()
	if u == nil {
		return ErrUnauthenticated
	}
	if !CanModify(u.ID, msg) {
		return ErrNotOwner
	}
	return nil
}

// EditMessage 只允许作者编辑自己的非 AI 消息，拒绝时不发出任何请求。
func (c *Composer) EditMessage(ctx context.Context, msg models.Message, content string) (*models.Message, error) {
	if err := c.guard(msg); err != nil {
		return nil, err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyMessage
	}
	return c.store.EditMessage(ctx, msg.ID, content)
}

// DeleteMessage 与 EditMessage 使用同样的守卫。
func (c *Composer) DeleteMessage(ctx context.Context, msg models.Message) error {
	if err := c.guard(msg); err != nil {
		return err
	}
	return c.store.DeleteMessage(ctx, msg.ID)
}

// Close 停止计时器，之后的计时回调不再生效。
func (c *Composer) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopTimerLocked()
	c.closed = true
}
