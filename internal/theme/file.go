package theme

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// FileSync 把 Store 持久化到本地 TOML 文件，并监听其他进程对该文件的修改。
type FileSync struct {
	path  string
	store *Store
}

func NewFileSync(path string, store *Store) *FileSync {
	return &FileSync{path: path, store: store}
}

// Read 读取文件中的主题，文件不存在时返回 Default 与 false。
func (f *FileSync) Read() (Theme, bool, error) {
	var t Theme
	if _, err := toml.DecodeFile(f.path, &t); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Default, false, nil
		}
		return Default, false, fmt.Errorf("decode theme file: %w", err)
	}
	if t.Color == "" {
		t.Color = ColorDefault
	}
	if !t.Valid() {
		return Default, true, nil
	}
	return t, true, nil
}

// Load 用文件内容更新 Store。
func (f *FileSync) Load() error {
	t, ok, err := f.Read()
	if err != nil || !ok {
		return err
	}
	f.store.Set(t)
	return nil
}

// Save 先写临时文件再 rename，避免监听方读到半截内容。
func (f *FileSync) Save(t Theme) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("create theme dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".theme-*.toml")
	if err != nil {
		return fmt.Errorf("create temp theme file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if err := toml.NewEncoder(tmp).Encode(t); err != nil {
		tmp.Close()
		return fmt.Errorf("encode theme: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}

// Bind 在 Store 变化时写回文件，返回取消函数。
func (f *FileSync) Bind() func() {
	return f.store.Subscribe(func(t Theme) {
		if err := f.Save(t); err != nil {
			log.Warn().Err(err).Str("path", f.path).Msg("save theme")
		}
	})
}

// Watch 监听所在目录，文件被写入或替换时重新加载，直到 ctx 结束。
func (f *FileSync) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	target := filepath.Clean(f.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := f.Load(); err != nil {
				log.Warn().Err(err).Str("path", f.path).Msg("reload theme")
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("theme watcher")
		}
	}
}
