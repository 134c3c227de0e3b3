package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"aichatroom/internal/models"
	"aichatroom/internal/realtime"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// MessageService 封装消息相关的业务逻辑，每次写入成功后发布变更通知。
type MessageService struct {
	db  *gorm.DB
	pub realtime.Publisher
}

func NewMessageService(db *gorm.DB, pub realtime.Publisher) *MessageService {
	return &MessageService{db: db, pub: pub}
}

// visibleTo 过滤掉其他用户的私有 AI 回复。
func visibleTo(q *gorm.DB, viewerID string) *gorm.DB {
	return q.Where("is_ai_message = ? OR ai_output_mode IS NULL OR ai_output_mode <> ? OR user_id = ?",
		false, models.OutputPrivate, viewerID)
}

// List 按创建时间升序返回 viewer 可见的全部消息，并批量附带作者资料；
// 资料查询失败时消息照常返回，Author 为空。
func (s *MessageService) List(ctx context.Context, viewerID string) ([]models.Message, error) {
	var msgs []models.Message
	q := visibleTo(s.db.WithContext(ctx), viewerID)
	if err := q.Order("created_at asc").Order("id asc").Find(&msgs).Error; err != nil {
		return nil, err
	}
	if err := attachAuthors(s.db.WithContext(ctx), msgs); err != nil {
		log.Warn().Err(err).Int("messages", len(msgs)).Msg("attach authors")
	}
	return msgs, nil
}

// Get 返回单条消息，不可见的私有消息按不存在处理。
func (s *MessageService) Get(ctx context.Context, viewerID, id string) (*models.Message, error) {
	var msg models.Message
	if err := s.db.WithContext(ctx).First(&msg, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	if !msg.VisibleTo(viewerID) {
		return nil, ErrMessageNotFound
	}
	msgs := []models.Message{msg}
	if err := attachAuthors(s.db.WithContext(ctx), msgs); err != nil {
		log.Warn().Err(err).Str("message_id", id).Msg("attach author")
	}
	return &msgs[0], nil
}

// Create 插入一条普通聊天消息。
func (s *MessageService) Create(ctx context.Context, userID, content string) (*models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyContent
	}
	return s.insert(ctx, &models.Message{UserID: userID, Content: content})
}

// CreateAI 插入一条 AI 回复，prompt 为空时不计入 AI 历史。
func (s *MessageService) CreateAI(ctx context.Context, userID, prompt, output, mode string) (*models.Message, error) {
	if mode != models.OutputPublic && mode != models.OutputPrivate {
		return nil, ErrInvalidOutputMode
	}
	msg := &models.Message{UserID: userID, Content: output, IsAIMessage: true, AIOutputMode: &mode}
	if prompt != "" {
		msg.AIPrompt = &prompt
	}
	return s.insert(ctx, msg)
}

func (s *MessageService) insert(ctx context.Context, msg *models.Message) (*models.Message, error) {
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return nil, err
	}
	msgs := []models.Message{*msg}
	if err := attachAuthors(s.db.WithContext(ctx), msgs); err != nil {
		log.Warn().Err(err).Str("message_id", msg.ID).Msg("attach author")
	} else {
		*msg = msgs[0]
	}
	s.publish(ctx, models.ChangeInsert, msg, nil)
	return msg, nil
}

// loadOwned 取出消息并校验只有作者可以修改非 AI 消息。
func (s *MessageService) loadOwned(ctx context.Context, userID, id string) (*models.Message, error) {
	var msg models.Message
	if err := s.db.WithContext(ctx).First(&msg, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	if !msg.VisibleTo(userID) {
		return nil, ErrMessageNotFound
	}
	if msg.UserID != userID || msg.IsAIMessage {
		return nil, ErrForbidden
	}
	return &msg, nil
}

// Update 修改消息内容并记录 updated_at。
func (s *MessageService) Update(ctx context.Context, userID, id, content string) (*models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyContent
	}
	msg, err := s.loadOwned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	if err := s.db.WithContext(ctx).Model(msg).Updates(map[string]any{"content": content, "updated_at": now}).Error; err != nil {
		return nil, err
	}
	msg.Content = content
	msg.UpdatedAt = &now
	s.publish(ctx, models.ChangeUpdate, msg, models.RowID{ID: msg.ID})
	return msg, nil
}

// Delete 删除作者本人的消息。
func (s *MessageService) Delete(ctx context.Context, userID, id string) error {
	msg, err := s.loadOwned(ctx, userID, id)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Delete(&models.Message{}, "id = ?", msg.ID).Error; err != nil {
		return err
	}
	s.publish(ctx, models.ChangeDelete, nil, models.RowID{ID: msg.ID})
	return nil
}

// ListAIInteractions 按创建时间倒序返回用户本人带 prompt 的 AI 回复。
func (s *MessageService) ListAIInteractions(ctx context.Context, userID string) ([]models.AIInteraction, error) {
	var msgs []models.Message
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND is_ai_message = ? AND ai_prompt IS NOT NULL AND ai_prompt <> ''", userID, true).
		Order("created_at desc").
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	out := make([]models.AIInteraction, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, models.AIInteraction{ID: m.ID, Prompt: *m.AIPrompt, Output: m.Content, CreatedAt: m.CreatedAt})
	}
	return out, nil
}

func (s *MessageService) publish(ctx context.Context, typ models.ChangeType, msg *models.Message, old any) {
	var newRow any
	if msg != nil {
		newRow = msg
	}
	change, err := realtime.NewChange(models.TableMessages, typ, newRow, old)
	if err != nil {
		log.Error().Err(err).Msg("build message change")
		return
	}
	if msg != nil && msg.IsPrivateAI() {
		change.VisibleTo = msg.UserID
	}
	if err := s.pub.Publish(ctx, change); err != nil {
		log.Error().Err(err).Str("type", string(typ)).Msg("publish message change")
	}
}

// attachAuthors 按去重后的作者 id 批量查询资料。
func attachAuthors(db *gorm.DB, msgs []models.Message) error {
	seen := make(map[string]struct{}, len(msgs))
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if _, ok := seen[m.UserID]; ok {
			continue
		}
		seen[m.UserID] = struct{}{}
		ids = append(ids, m.UserID)
	}
	if len(ids) == 0 {
		return nil
	}
	var profiles []models.Profile
	if err := db.Where("id IN ?", ids).Find(&profiles).Error; err != nil {
		return err
	}
	authors := make(map[string]*models.Author, len(profiles))
	for _, p := range profiles {
		authors[p.ID] = p.Author()
	}
	for i := range msgs {
		msgs[i].Author = authors[msgs[i].UserID]
	}
	return nil
}
