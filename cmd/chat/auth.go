package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	registerCmd.Flags().StringP("password", "p", "", "password (prompted when omitted)")
	loginCmd.Flags().StringP("password", "p", "", "password (prompted when omitted)")
	rootCmd.AddCommand(registerCmd, loginCmd, logoutCmd)
}

var registerCmd = &cobra.Command{
	Use:   "register <username>",
	Short: "Create an account and sign in",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		pw, err := readPassword(cmd)
		if err != nil {
			return err
		}
		if _, err := a.client.Register(cmd.Context(), args[0], pw); err != nil {
			return err
		}
		return login(cmd, a, args[0], pw)
	},
}

var loginCmd = &cobra.Command{
	Use:   "login <username>",
	Short: "Sign in and store the session locally",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		pw, err := readPassword(cmd)
		if err != nil {
			return err
		}
		return login(cmd, a, args[0], pw)
	},
}

func login(cmd *cobra.Command, a *app, username, password string) error {
	u, err := a.client.Login(cmd.Context(), username, password)
	if err != nil {
		return err
	}
	a.cfg.Auth.Username = u.Username
	if err := a.save(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", u.Username)
	return nil
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		a.cfg.Auth.AccessToken = ""
		a.cfg.Auth.RefreshToken = ""
		if err := a.save(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
		return nil
	},
}
