package db

import (
	"context"
	"fmt"
	"time"

	"aichatroom/internal/models"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const connectAttempts = 10

// Connect 建立到 Postgres 的连接，容器刚启动时数据库可能还没就绪，最多重试 10 次。
func Connect(dsn string) (*gorm.DB, error) {
	var lastErr error
	for i := 0; i < connectAttempts; i++ {
		gdb, err := open(dsn)
		if err == nil {
			return gdb, nil
		}
		lastErr = err
		log.Warn().Err(err).Int("attempt", i+1).Msg("db connect")
		time.Sleep(time.Duration(500+i*200) * time.Millisecond)
	}
	return nil, fmt.Errorf("connect postgres after %d attempts: %w", connectAttempts, lastErr)
}

func open(dsn string) (*gorm.DB, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetConnMaxLifetime(time.Hour)
	return gdb, nil
}

// Migrate 自动迁移用户、资料、消息、输入状态与 refresh token 表。
func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(&models.User{}, &models.Profile{}, &models.Message{}, &models.TypingIndicator{}, &models.RefreshToken{})
}
