package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"aichatroom/internal/client"
	"aichatroom/internal/config"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var rootCmd = &cobra.Command{
	Use:           "aichat",
	Short:         "Terminal client for the AI chat room",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute 由 main 调用。
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringP("server", "s", "", "server URL (overrides the config file)")
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path (default is ~/.aichat/config.toml)")
}

// app 是一次命令执行所需的本地状态。
type app struct {
	dir     string
	cfgPath string
	cfg     config.ClientConfig
	client  *client.Client
}

func loadApp(cmd *cobra.Command) (*app, error) {
	dir, err := config.ClientDir()
	if err != nil {
		return nil, err
	}
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = filepath.Join(dir, "config.toml")
	} else {
		dir = filepath.Dir(path)
	}
	cfg, err := config.LoadClient(path)
	if err != nil {
		return nil, err
	}
	if server, _ := cmd.Flags().GetString("server"); server != "" {
		cfg.Server = server
	}
	a := &app{dir: dir, cfgPath: path, cfg: cfg}
	a.client = client.New(cfg.Server, client.Tokens{
		AccessToken:  cfg.Auth.AccessToken,
		RefreshToken: cfg.Auth.RefreshToken,
	})
	// refresh token 每次都会轮换，必须立即落盘。
	a.client.OnTokens(func(t client.Tokens) {
		a.cfg.Auth.AccessToken = t.AccessToken
		a.cfg.Auth.RefreshToken = t.RefreshToken
		if err := a.save(); err != nil {
			log.Warn().Err(err).Str("path", a.cfgPath).Msg("save tokens")
		}
	})
	return a, nil
}

func (a *app) save() error { return config.SaveClient(a.cfgPath, a.cfg) }

func (a *app) signedIn() bool { return a.cfg.Auth.RefreshToken != "" }

// readPassword 优先使用 --password；终端输入不回显，管道输入按行读取。
func readPassword(cmd *cobra.Command) (string, error) {
	if pw, _ := cmd.Flags().GetString("password"); pw != "" {
		return pw, nil
	}
	out := cmd.OutOrStdout()
	fmt.Fprint(out, "Password: ")
	var pw string
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		pw = string(b)
	} else {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("read password: %w", err)
		}
		pw = strings.TrimRight(line, "\r\n")
	}
	if pw == "" {
		return "", fmt.Errorf("password is required")
	}
	return pw, nil
}
