package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"aichatroom/internal/theme"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(themeCmd)
}

var themeCmd = &cobra.Command{
	Use:   "theme [light|dark|system] [color]",
	Short: "Show or change the theme",
	Long: `Without arguments prints the current theme. With arguments the theme is
saved locally (running rooms pick it up immediately) and, when signed in,
stored on your profile so other devices follow.`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		store := theme.NewStore(theme.Default)
		file := theme.NewFileSync(filepath.Join(a.dir, "theme.toml"), store)
		if err := file.Load(); err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(args) == 0 {
			t := store.Get()
			fmt.Fprintf(out, "%s/%s\n", t.Mode, t.Color)
			fmt.Fprintf(out, "colors: %s\n", colorNames())
			return nil
		}

		t := theme.Theme{Mode: theme.Mode(strings.ToLower(args[0])), Color: store.Get().Color}
		if len(args) > 1 {
			t.Color = theme.Color(strings.ToLower(args[1]))
		}
		if !t.Valid() {
			return fmt.Errorf("invalid theme %s/%s (colors: %s)", t.Mode, t.Color, colorNames())
		}
		if err := file.Save(t); err != nil {
			return err
		}
		if a.signedIn() {
			if err := a.client.Refresh(cmd.Context()); err != nil {
				return fmt.Errorf("theme saved locally, profile not updated: %w", err)
			}
			if err := a.client.SetTheme(cmd.Context(), t); err != nil {
				return fmt.Errorf("theme saved locally, profile not updated: %w", err)
			}
		}
		fmt.Fprintf(out, "Theme set to %s/%s\n", t.Mode, t.Color)
		return nil
	},
}

func colorNames() string {
	names := make([]string, len(theme.Colors))
	for i, c := range theme.Colors {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}
