package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"aichatroom/internal/chat"
	"aichatroom/internal/client"
	clog "aichatroom/internal/log"
	"aichatroom/internal/theme"
	"aichatroom/internal/tui"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var errSignedOut = errors.New("not signed in, run `aichat login <username>` first")

func init() {
	rootCmd.AddCommand(roomCmd)
}

var roomCmd = &cobra.Command{
	Use:   "room",
	Short: "Join the chat room",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		if !a.signedIn() {
			return errSignedOut
		}
		if err := os.MkdirAll(a.dir, 0o700); err != nil {
			return err
		}
		logFile, err := os.OpenFile(filepath.Join(a.dir, "chat.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer logFile.Close()
		clog.InitWriter("dev", logFile)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// access token 很短，进房间前先换一对新的。
		if err := a.client.Refresh(ctx); err != nil {
			return fmt.Errorf("session expired, sign in again: %w", err)
		}

		store := theme.NewStore(theme.Default)
		themeFile := theme.NewFileSync(filepath.Join(a.dir, "theme.toml"), store)
		if err := themeFile.Load(); err != nil {
			log.Warn().Err(err).Msg("load theme file")
		}
		unbind := themeFile.Bind()
		defer unbind()
		go func() {
			if err := themeFile.Watch(ctx); err != nil {
				log.Warn().Err(err).Msg("watch theme file")
			}
		}()

		room := chat.NewRoom(a.client, a.client, a.client, a.client, chat.Options{Theme: store})
		if err := room.Mount(ctx); err != nil {
			if errors.Is(err, chat.ErrUnauthenticated) {
				return errSignedOut
			}
			return err
		}
		defer room.Unmount()
		go func() {
			if err := a.client.KeepFresh(ctx, client.RefreshLead); err != nil {
				log.Error().Err(err).Msg("refresh session")
			}
		}()
		log.Info().Str("server", a.cfg.Server).Msg("room mounted")
		return tui.Run(ctx, room, store)
	},
}
