package config

import (
	"errors"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

const defaultJWTSecret = "dev-secret-change-me"

type Config struct {
	Port                  string
	DatabaseDSN           string
	JWTSecret             string
	Env                   string
	AccessTokenTTLMinutes int
	RefreshTokenTTLDays   int
	RedisURL              string
	AI                    AIConfig
}

// AIConfig 描述托管语言模型的访问方式，APIKey 为空时 AI 接口返回错误。
type AIConfig struct {
	BaseURL        string
	APIKey         string
	Model          string
	TimeoutSeconds int
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

// getenvInt 解析正整数，非法值回落到默认值。
func getenvInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func Load() Config {
	_ = godotenv.Load()
	return Config{
		Port:                  getenv("APP_PORT", "8080"),
		DatabaseDSN:           getenv("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=aichatroom port=5432 sslmode=disable TimeZone=UTC"),
		JWTSecret:             getenv("JWT_SECRET", defaultJWTSecret),
		Env:                   getenv("APP_ENV", "dev"),
		AccessTokenTTLMinutes: getenvInt("ACCESS_TOKEN_TTL_MINUTES", 15),
		RefreshTokenTTLDays:   getenvInt("REFRESH_TOKEN_TTL_DAYS", 7),
		RedisURL:              os.Getenv("REDIS_URL"),
		AI: AIConfig{
			BaseURL:        getenv("AI_API_URL", "https://api.openai.com/v1"),
			APIKey:         os.Getenv("AI_API_KEY"),
			Model:          getenv("AI_MODEL", "gpt-4o-mini"),
			TimeoutSeconds: getenvInt("AI_TIMEOUT_SECONDS", 60),
		},
	}
}

// Validate 拒绝缺失的必要配置以及非 dev 环境下的默认密钥。
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("APP_PORT cannot be empty")
	}
	if cfg.DatabaseDSN == "" {
		return errors.New("DATABASE_DSN cannot be empty")
	}
	if cfg.Env != "dev" && (cfg.JWTSecret == "" || cfg.JWTSecret == defaultJWTSecret) {
		return errors.New("JWT_SECRET must be set outside dev")
	}
	return nil
}
