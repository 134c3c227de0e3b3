package tui

import (
	"aichatroom/internal/theme"

	"github.com/charmbracelet/lipgloss"
)

// accents 是每种主题色在终端里的近似色值。
var accents = map[theme.Color]lipgloss.Color{
	theme.ColorDefault: "#7C3AED",
	theme.ColorPink:    "#DB2777",
	theme.ColorBlue:    "#2563EB",
	theme.ColorGreen:   "#059669",
	theme.ColorPurple:  "#9333EA",
	theme.ColorOrange:  "#EA580C",
	theme.ColorTeal:    "#0D9488",
}

type palette struct {
	text  lipgloss.Color
	muted lipgloss.Color
	panel lipgloss.Color
	error lipgloss.Color
}

var (
	lightPalette = palette{text: "#1F2937", muted: "#6B7280", panel: "#E5E5E5", error: "#E11D48"}
	darkPalette  = palette{text: "#CDD6F4", muted: "#A6ADC8", panel: "#45475A", error: "#FB7185"}
)

type Styles struct {
	Mode   theme.Mode
	Header lipgloss.Style
	Text   lipgloss.Style
	Own    lipgloss.Style
	Author lipgloss.Style
	Muted  lipgloss.Style
	Accent lipgloss.Style
	Error  lipgloss.Style
	Panel  lipgloss.Style
}

// NewStyles 根据主题与终端背景生成样式，system 模式跟随终端。
func NewStyles(t theme.Theme, systemDark bool) Styles {
	mode := t.Resolve(systemDark)
	p := lightPalette
	if mode == theme.ModeDark {
		p = darkPalette
	}
	accent, ok := accents[t.Color]
	if !ok {
		accent = accents[theme.ColorDefault]
	}
	return Styles{
		Mode:   mode,
		Header: lipgloss.NewStyle().Bold(true).Foreground(accent),
		Text:   lipgloss.NewStyle().Foreground(p.text),
		Own:    lipgloss.NewStyle().Foreground(accent),
		Author: lipgloss.NewStyle().Bold(true).Foreground(p.text),
		Muted:  lipgloss.NewStyle().Foreground(p.muted),
		Accent: lipgloss.NewStyle().Foreground(accent),
		Error:  lipgloss.NewStyle().Foreground(p.error),
		Panel:  lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(p.panel).Padding(0, 1),
	}
}
