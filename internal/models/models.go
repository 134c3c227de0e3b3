package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 表名同时也是变更通知里的 table 字段。
const (
	TableMessages         = "messages"
	TableProfiles         = "profiles"
	TableTypingIndicators = "typing_indicators"
)

const (
	OutputPublic  = "public"
	OutputPrivate = "private"
)

type User struct {
	ID           string    `gorm:"primaryKey;size:36"`
	Username     string    `gorm:"uniqueIndex;size:64;not null"`
	PasswordHash string    `gorm:"not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (u *User) BeforeCreate(*gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

// Profile 由用户本人维护，id 与 User.ID 相同。
type Profile struct {
	ID              string    `gorm:"primaryKey;size:36" json:"id"`
	Username        string    `gorm:"size:64;not null" json:"username"`
	DisplayName     *string   `gorm:"size:128" json:"display_name,omitempty"`
	AvatarURL       *string   `gorm:"size:512" json:"avatar_url,omitempty"`
	ThemePreference string    `gorm:"type:text" json:"theme_preference,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Author 是附加在消息上的作者展示信息。
type Author struct {
	Username    string  `json:"username"`
	DisplayName *string `json:"display_name,omitempty"`
	AvatarURL   *string `json:"avatar_url,omitempty"`
}

func (p Profile) Author() *Author {
	return &Author{Username: p.Username, DisplayName: p.DisplayName, AvatarURL: p.AvatarURL}
}

// Name 优先返回显示名。
func (a *Author) Name() string {
	if a == nil {
		return "Anonymous"
	}
	if a.DisplayName != nil && *a.DisplayName != "" {
		return *a.DisplayName
	}
	if a.Username != "" {
		return a.Username
	}
	return "Anonymous"
}

type Message struct {
	ID           string     `gorm:"primaryKey;size:36" json:"id"`
	UserID       string     `gorm:"size:36;index;not null" json:"user_id"`
	Content      string     `gorm:"type:text;not null" json:"content"`
	IsAIMessage  bool       `gorm:"not null;default:false;index" json:"is_ai_message"`
	AIOutputMode *string    `gorm:"size:16" json:"ai_output_mode,omitempty"`
	AIPrompt     *string    `gorm:"type:text" json:"ai_prompt,omitempty"`
	CreatedAt    time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt    *time.Time `gorm:"autoUpdateTime:false" json:"updated_at,omitempty"`
	Author       *Author    `gorm:"-" json:"profile,omitempty"`
}

func (m *Message) BeforeCreate(*gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// IsPrivateAI 判断是否为仅作者可见的 AI 回复。
func (m Message) IsPrivateAI() bool {
	return m.IsAIMessage && m.AIOutputMode != nil && *m.AIOutputMode == OutputPrivate
}

// VisibleTo 实现 AI 私有回复只对作者可见的约束。
func (m Message) VisibleTo(viewerID string) bool {
	return !m.IsPrivateAI() || m.UserID == viewerID
}

type TypingIndicator struct {
	UserID    string    `gorm:"primaryKey;size:36" json:"user_id"`
	Username  string    `gorm:"size:64;not null" json:"username"`
	UpdatedAt time.Time `gorm:"autoUpdateTime:false;index" json:"updated_at"`
}

// AIInteraction 是 AI 消息在当前用户维度上的只读投影。
type AIInteraction struct {
	ID        string    `json:"id"`
	Prompt    string    `json:"prompt"`
	Output    string    `json:"output"`
	CreatedAt time.Time `json:"created_at"`
}

type RefreshToken struct {
	ID        uint       `gorm:"primaryKey"`
	UserID    string     `gorm:"size:36;index;not null"`
	Token     string     `gorm:"uniqueIndex;size:128;not null"`
	ExpiresAt time.Time  `gorm:"index;not null"`
	RevokedAt *time.Time
	CreatedAt time.Time
}

type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// Change 是一条行级变更通知，New/Old 保留原始 JSON 行。
type Change struct {
	Table     string          `json:"table"`
	EventType ChangeType      `json:"eventType"`
	New       json.RawMessage `json:"new,omitempty"`
	Old       json.RawMessage `json:"old,omitempty"`
	// VisibleTo 非空时只投递给该用户，不参与序列化。
	VisibleTo string `json:"-"`
}

// RowID 是 DELETE 通知 old 字段的结构。
type RowID struct {
	ID string `json:"id"`
}
