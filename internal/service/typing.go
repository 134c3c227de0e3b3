package service

import (
	"context"
	"time"

	"aichatroom/internal/models"
	"aichatroom/internal/realtime"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// 输入指示器的时间常量，客户端与服务端共用。
const (
	TypingFreshness = 3 * time.Second
	TypingSweep     = 5 * time.Second
)

// TypingService 维护 typing_indicators 表，每个用户至多一行。
type TypingService struct {
	db  *gorm.DB
	pub realtime.Publisher
	now func() time.Time
}

func NewTypingService(db *gorm.DB, pub realtime.Publisher) *TypingService {
	return &TypingService{db: db, pub: pub, now: time.Now}
}

type typingKey struct {
	UserID string `json:"user_id"`
}

// Upsert 写入或刷新用户的输入指示器，新行发布 INSERT，已有行发布 UPDATE。
func (s *TypingService) Upsert(ctx context.Context, userID, username string) (*models.TypingIndicator, error) {
	db := s.db.WithContext(ctx)
	var existing int64
	if err := db.Model(&models.TypingIndicator{}).Where("user_id = ?", userID).Count(&existing).Error; err != nil {
		return nil, err
	}
	row := models.TypingIndicator{UserID: userID, Username: username, UpdatedAt: s.now()}
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"username", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return nil, err
	}
	typ := models.ChangeUpdate
	if existing == 0 {
		typ = models.ChangeInsert
	}
	s.publish(ctx, typ, row, nil)
	return &row, nil
}

// Delete 立即移除用户的输入指示器，不存在时视为成功。
func (s *TypingService) Delete(ctx context.Context, userID string) error {
	res := s.db.WithContext(ctx).Delete(&models.TypingIndicator{}, "user_id = ?", userID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		s.publish(ctx, models.ChangeDelete, nil, typingKey{UserID: userID})
	}
	return nil
}

// Active 返回 window 内刷新过的指示器，按更新时间升序。
func (s *TypingService) Active(ctx context.Context, window time.Duration) ([]models.TypingIndicator, error) {
	if window <= 0 {
		window = TypingFreshness
	}
	var rows []models.TypingIndicator
	err := s.db.WithContext(ctx).
		Where("updated_at > ?", s.now().Add(-window)).
		Order("updated_at asc").
		Find(&rows).Error
	return rows, err
}

// Sweep 删除早于 olderThan 的指示器，不区分所有者。
func (s *TypingService) Sweep(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		olderThan = TypingFreshness
	}
	var stale []models.TypingIndicator
	cutoff := s.now().Add(-olderThan)
	if err := s.db.WithContext(ctx).Where("updated_at < ?", cutoff).Find(&stale).Error; err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Where("updated_at < ?", cutoff).Delete(&models.TypingIndicator{})
	if res.Error != nil {
		return 0, res.Error
	}
	for _, row := range stale {
		s.publish(ctx, models.ChangeDelete, nil, typingKey{UserID: row.UserID})
	}
	return res.RowsAffected, nil
}

func (s *TypingService) publish(ctx context.Context, typ models.ChangeType, newRow, oldRow any) {
	change, err := realtime.NewChange(models.TableTypingIndicators, typ, newRow, oldRow)
	if err != nil {
		log.Error().Err(err).Msg("build typing change")
		return
	}
	if err := s.pub.Publish(ctx, change); err != nil {
		log.Error().Err(err).Str("type", string(typ)).Msg("publish typing change")
	}
}
