package main

import (
	"fmt"

	"aichatroom/internal/theme"

	"github.com/spf13/cobra"
)

func init() {
	profileSetCmd.Flags().String("username", "", "new username")
	profileSetCmd.Flags().String("display-name", "", "display name (defaults to the username)")
	profileSetCmd.Flags().String("avatar", "", "avatar URL")
	profileCmd.AddCommand(profileSetCmd)
	rootCmd.AddCommand(profileCmd)
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Show your profile",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		if !a.signedIn() {
			return errSignedOut
		}
		if err := a.client.Refresh(cmd.Context()); err != nil {
			return err
		}
		p, err := a.client.MyProfile(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Username:     %s\n", p.Username)
		fmt.Fprintf(out, "Display name: %s\n", p.Author().Name())
		if p.AvatarURL != nil {
			fmt.Fprintf(out, "Avatar:       %s\n", *p.AvatarURL)
		}
		t := theme.Parse(p.ThemePreference)
		fmt.Fprintf(out, "Theme:        %s/%s\n", t.Mode, t.Color)
		return nil
	},
}

var profileSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Update your profile",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		if !a.signedIn() {
			return errSignedOut
		}
		if err := a.client.Refresh(cmd.Context()); err != nil {
			return err
		}
		cur, err := a.client.MyProfile(cmd.Context())
		if err != nil {
			return err
		}
		username, _ := cmd.Flags().GetString("username")
		display, _ := cmd.Flags().GetString("display-name")
		avatar, _ := cmd.Flags().GetString("avatar")
		if !cmd.Flags().Changed("display-name") && cur.DisplayName != nil {
			display = *cur.DisplayName
		}
		if !cmd.Flags().Changed("avatar") && cur.AvatarURL != nil {
			avatar = *cur.AvatarURL
		}
		p, err := a.client.UpdateProfile(cmd.Context(), username, display, avatar)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Profile updated: %s\n", p.Author().Name())
		return nil
	},
}
