package service

import (
	"context"
	"errors"
	"strings"

	"aichatroom/internal/models"
	"aichatroom/internal/realtime"
	"aichatroom/internal/theme"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// ProfileService 读写用户资料，资料变化会推送给所有订阅者。
type ProfileService struct {
	db  *gorm.DB
	pub realtime.Publisher
}

func NewProfileService(db *gorm.DB, pub realtime.Publisher) *ProfileService {
	return &ProfileService{db: db, pub: pub}
}

func (s *ProfileService) Get(ctx context.Context, id string) (*models.Profile, error) {
	var p models.Profile
	if err := s.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}
	return &p, nil
}

// Batch 按 id 批量查询资料，缺失的 id 直接跳过。
func (s *ProfileService) Batch(ctx context.Context, ids []string) ([]models.Profile, error) {
	if len(ids) == 0 {
		return []models.Profile{}, nil
	}
	var out []models.Profile
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ProfileUpdate 是可由用户修改的字段。
type ProfileUpdate struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
}

// Update 保存资料，显示名为空时使用用户名。
func (s *ProfileService) Update(ctx context.Context, id string, in ProfileUpdate) (*models.Profile, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if u := strings.TrimSpace(in.Username); u != "" {
		p.Username = u
	}
	display := strings.TrimSpace(in.DisplayName)
	if display == "" {
		display = p.Username
	}
	p.DisplayName = &display
	if avatar := strings.TrimSpace(in.AvatarURL); avatar != "" {
		p.AvatarURL = &avatar
	} else {
		p.AvatarURL = nil
	}
	if err := s.db.WithContext(ctx).Save(p).Error; err != nil {
		return nil, err
	}
	s.publish(ctx, p)
	return p, nil
}

// SetTheme 规范化后保存主题偏好，非法输入回退为默认主题。
func (s *ProfileService) SetTheme(ctx context.Context, id, raw string) (theme.Theme, error) {
	t := theme.Parse(raw)
	res := s.db.WithContext(ctx).Model(&models.Profile{}).Where("id = ?", id).Update("theme_preference", t.String())
	if res.Error != nil {
		return t, res.Error
	}
	if res.RowsAffected == 0 {
		return t, ErrProfileNotFound
	}
	if p, err := s.Get(ctx, id); err == nil {
		s.publish(ctx, p)
	}
	return t, nil
}

func (s *ProfileService) publish(ctx context.Context, p *models.Profile) {
	change, err := realtime.NewChange(models.TableProfiles, models.ChangeUpdate, p, models.RowID{ID: p.ID})
	if err != nil {
		log.Error().Err(err).Msg("build profile change")
		return
	}
	if err := s.pub.Publish(ctx, change); err != nil {
		log.Error().Err(err).Str("profile_id", p.ID).Msg("publish profile change")
	}
}
