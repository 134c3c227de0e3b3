// Package theme 描述 mode 与 color 两个维度的主题，并在视图、进程和设备之间同步。
package theme

import (
	"encoding/json"
	"strings"
	"sync"
)

type Mode string

const (
	ModeLight  Mode = "light"
	ModeDark   Mode = "dark"
	ModeSystem Mode = "system"
)

type Color string

const (
	ColorDefault Color = "default"
	ColorPink    Color = "pink"
	ColorBlue    Color = "blue"
	ColorGreen   Color = "green"
	ColorPurple  Color = "purple"
	ColorOrange  Color = "orange"
	ColorTeal    Color = "teal"
)

var Colors = []Color{ColorDefault, ColorPink, ColorBlue, ColorGreen, ColorPurple, ColorOrange, ColorTeal}

type Theme struct {
	Mode  Mode  `json:"mode" toml:"mode"`
	Color Color `json:"color" toml:"color"`
}

var Default = Theme{Mode: ModeSystem, Color: ColorDefault}

func (m Mode) Valid() bool {
	return m == ModeLight || m == ModeDark || m == ModeSystem
}

func (c Color) Valid() bool {
	for _, k := range Colors {
		if c == k {
			return true
		}
	}
	return false
}

func (t Theme) Valid() bool { return t.Mode.Valid() && t.Color.Valid() }

func (t Theme) String() string {
	b, _ := json.Marshal(t)
	return string(b)
}

// Parse 解析持久化的主题：JSON 对象、旧版单一模式字符串，其余一律回退为 Default。
func Parse(raw string) Theme {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Default
	}
	var t Theme
	if err := json.Unmarshal([]byte(raw), &t); err == nil {
		if t.Color == "" {
			t.Color = ColorDefault
		}
		if t.Valid() {
			return t
		}
		return Default
	}
	var legacy string
	if err := json.Unmarshal([]byte(raw), &legacy); err == nil {
		raw = legacy
	}
	if m := Mode(raw); m.Valid() {
		return Theme{Mode: m, Color: ColorDefault}
	}
	return Default
}

// Resolve 按宿主偏好把 system 解析为 light 或 dark。
func (t Theme) Resolve(systemDark bool) Mode {
	if t.Mode != ModeSystem {
		return t.Mode
	}
	if systemDark {
		return ModeDark
	}
	return ModeLight
}

// Store 是注入到各视图的可观察主题状态。
type Store struct {
	mu      sync.Mutex
	current Theme
	nextID  int
	subs    map[int]func(Theme)
}

func NewStore(initial Theme) *Store {
	if !initial.Valid() {
		initial = Default
	}
	return &Store{current: initial, subs: make(map[int]func(Theme))}
}

func (s *Store) Get() Theme {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Set 更新主题并在变化时通知订阅者，非法值按 Default 处理。
func (s *Store) Set(t Theme) bool {
	if !t.Valid() {
		t = Default
	}
	s.mu.Lock()
	if s.current == t {
		s.mu.Unlock()
		return false
	}
	s.current = t
	subs := make([]func(Theme), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()
	for _, fn := range subs {
		fn(t)
	}
	return true
}

// Subscribe 注册回调，返回取消函数。
func (s *Store) Subscribe(fn func(Theme)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}
