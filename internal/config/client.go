package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

const DefaultServerURL = "http://localhost:8080"

// ClientConfig 是终端客户端的本地配置，保存在 ~/.aichat/config.toml。
type ClientConfig struct {
	Server string     `toml:"server"`
	Auth   ClientAuth `toml:"auth"`
}

type ClientAuth struct {
	Username     string `toml:"username,omitempty"`
	AccessToken  string `toml:"access_token,omitempty"`
	RefreshToken string `toml:"refresh_token,omitempty"`
}

// ClientDir 返回客户端的配置目录，AICHAT_HOME 优先。
func ClientDir() (string, error) {
	if dir := os.Getenv("AICHAT_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".aichat"), nil
}

// LoadClient 读取配置文件，文件不存在时返回默认配置。
func LoadClient(path string) (ClientConfig, error) {
	cfg := ClientConfig{Server: DefaultServerURL}
	if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("decode %s: %w", path, err)
	}
	if cfg.Server == "" {
		cfg.Server = DefaultServerURL
	}
	return cfg, nil
}

// SaveClient 写入配置文件，文件里有 token，权限为 0600。
func SaveClient(path string, cfg ClientConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		f.Close()
		return fmt.Errorf("encode client config: %w", err)
	}
	return f.Close()
}
