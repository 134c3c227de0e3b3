// Package chat 是聊天室客户端的核心：把初始快照与变更通知合并成可渲染的状态。
//
// 所有网络访问都通过本文件定义的小接口完成，internal/client 提供 HTTP 与
// WebSocket 实现，测试使用内存假实现。
package chat

import (
	"context"
	"errors"
	"time"

	"aichatroom/internal/models"
	"aichatroom/internal/theme"
)

const (
	TypingThrottle      = 1000 * time.Millisecond
	TypingInactivity    = 2000 * time.Millisecond
	TypingSweepInterval = 5000 * time.Millisecond
	TypingFreshness     = 3000 * time.Millisecond

	// SummaryContext 是发送给摘要接口的最近消息数。
	SummaryContext = 50
)

var (
	ErrUnauthenticated = errors.New("not signed in")
	ErrNotOwner        = errors.New("only the author can modify this message")
	ErrShareInFlight   = errors.New("this interaction is already being shared")
	ErrEmptyMessage    = errors.New("message is empty")
	ErrNotMounted      = errors.New("room is not mounted")
)

// User 是当前登录用户，nil 表示未登录。
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type Auth interface {
	CurrentUser(ctx context.Context) (*User, error)
}

type MessageStore interface {
	ListMessages(ctx context.Context) ([]models.Message, error)
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	SendMessage(ctx context.Context, content string) (*models.Message, error)
	EditMessage(ctx context.Context, id, content string) (*models.Message, error)
	DeleteMessage(ctx context.Context, id string) error
	AIInteractions(ctx context.Context) ([]models.AIInteraction, error)
}

// TypingStore 的 ActiveTyping 额外返回服务端当前时间，新鲜度按服务端时钟判断。
type TypingStore interface {
	UpsertTyping(ctx context.Context, username string) error
	DeleteTyping(ctx context.Context) error
	SweepTyping(ctx context.Context, olderThan time.Duration) error
	ActiveTyping(ctx context.Context, window time.Duration) ([]models.TypingIndicator, time.Time, error)
}

type ProfileStore interface {
	Profiles(ctx context.Context, ids []string) ([]models.Profile, error)
	MyProfile(ctx context.Context) (*models.Profile, error)
	SetTheme(ctx context.Context, t theme.Theme) error
}

type Backend interface {
	MessageStore
	TypingStore
	ProfileStore
}

type AI interface {
	Ask(ctx context.Context, prompt, outputMode string) (*models.Message, error)
	Summarize(ctx context.Context, msgs []models.Message) (string, error)
}

// Feed 按表订阅行级变更。
type Feed interface {
	Subscribe(ctx context.Context, tables ...string) (Subscription, error)
}

// Subscription 的 Changes 在连接断开或 Close 后关闭。
type Subscription interface {
	Changes() <-chan models.Change
	Close() error
}
