package tui

import (
	"fmt"
	"strconv"
	"strings"

	"aichatroom/internal/theme"
)

const helpText = "/ai toggle AI mode · /public · /private · /summary · /share N · /edit N text · /delete N · /theme MODE [COLOR] · /reconnect · /quit"

// command 是输入框里以 / 开头的指令。
type command struct {
	name  string
	index int
	arg   string
}

// parseCommand 解析指令，编号从 1 开始。
func parseCommand(input string) (command, error) {
	fields := strings.Fields(strings.TrimPrefix(strings.TrimSpace(input), "/"))
	if len(fields) == 0 {
		return command{}, fmt.Errorf("empty command, try /help")
	}
	cmd := command{name: strings.ToLower(fields[0])}
	rest := fields[1:]
	switch cmd.name {
	case "ai", "public", "private", "summary", "reconnect", "quit", "help":
		return cmd, nil
	case "share", "delete", "edit":
		if len(rest) == 0 {
			return cmd, fmt.Errorf("usage: /%s N", cmd.name)
		}
		n, err := strconv.Atoi(rest[0])
		if err != nil || n <= 0 {
			return cmd, fmt.Errorf("invalid number %q", rest[0])
		}
		cmd.index = n
		if cmd.name == "edit" {
			// 保留原文中的空白，只去掉指令与编号。
			body := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(input), "/"))
			body = strings.TrimSpace(body[len(fields[0]):])
			cmd.arg = strings.TrimSpace(body[len(rest[0]):])
			if cmd.arg == "" {
				return cmd, fmt.Errorf("usage: /edit N new text")
			}
		}
		return cmd, nil
	case "theme":
		if len(rest) == 0 || len(rest) > 2 {
			return cmd, fmt.Errorf("usage: /theme light|dark|system [color]")
		}
		cmd.arg = strings.Join(rest, " ")
		return cmd, nil
	}
	return cmd, fmt.Errorf("unknown command /%s", cmd.name)
}

// parseThemeArgs 把 "dark blue" 转换为主题，颜色缺省为 default。
func parseThemeArgs(arg string) (theme.Theme, error) {
	parts := strings.Fields(arg)
	if len(parts) == 0 {
		return theme.Default, fmt.Errorf("missing theme mode")
	}
	t := theme.Theme{Mode: theme.Mode(strings.ToLower(parts[0])), Color: theme.ColorDefault}
	if len(parts) > 1 {
		t.Color = theme.Color(strings.ToLower(parts[1]))
	}
	if !t.Mode.Valid() {
		return theme.Default, fmt.Errorf("unknown theme mode %q", parts[0])
	}
	if !t.Color.Valid() {
		return theme.Default, fmt.Errorf("unknown theme color %q", parts[1])
	}
	return t, nil
}
