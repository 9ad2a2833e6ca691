package main

import (
	"fmt"
	"time"

	"github.com/jrsteele09/go-finstats-client/auth"
	"github.com/spf13/cobra"
)

var (
	loginEmail    string
	loginPassword string

	registerEmail string
	registerName  string

	resetEmail string
	resetToken string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and store the session",
	RunE: func(cmd *cobra.Command, args []string) error {
		if loginEmail == "" {
			return fmt.Errorf("--email is required")
		}
		password, err := secretOrPrompt(loginPassword, "Password")
		if err != nil {
			return err
		}
		s, err := current.store.Login(commandContext(cmd), loginEmail, password)
		if err != nil {
			return err
		}
		printf(cmd.OutOrStdout(), "%s signed in as %s\n", okStyle.Render("✓"), s.Username)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Revoke the refresh token and forget the session",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := current.store.Logout(commandContext(cmd), ""); err != nil {
			return err
		}
		printf(cmd.OutOrStdout(), "%s signed out\n", okStyle.Render("✓"))
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed in user",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := current.requireSession()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		printf(out, "%s\n", headerStyle.Render(s.Username))
		printf(out, "  email    %s\n", s.Email)
		printf(out, "  user id  %s\n", dimStyle.Render(s.UserID))
		if exp, ok := current.store.AccessTokenExpiry(); ok {
			printf(out, "  token    expires %s (%s)\n", exp.Local().Format(time.RFC1123), time.Until(exp).Round(time.Second))
		}
		return nil
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Exchange the refresh token for a new token pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := current.requireSession(); err != nil {
			return err
		}
		if _, err := current.store.Refresh(commandContext(cmd)); err != nil {
			return err
		}
		printf(cmd.OutOrStdout(), "%s tokens refreshed\n", okStyle.Render("✓"))
		return nil
	},
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account",
	RunE: func(cmd *cobra.Command, args []string) error {
		if registerEmail == "" || registerName == "" {
			return fmt.Errorf("--email and --name are required")
		}
		password, err := readSecret("Password")
		if err != nil {
			return err
		}
		confirm, err := readSecret("Confirm password")
		if err != nil {
			return err
		}
		msg, err := current.store.Register(commandContext(cmd), auth.RegisterRequest{
			FullName:        registerName,
			Email:           registerEmail,
			Password:        password,
			ConfirmPassword: confirm,
		})
		if err != nil {
			return err
		}
		printf(cmd.OutOrStdout(), "%s %s\n", okStyle.Render("✓"), msg)
		return nil
	},
}

var forgotPasswordCmd = &cobra.Command{
	Use:   "forgot-password",
	Short: "Request a password reset token by email",
	RunE: func(cmd *cobra.Command, args []string) error {
		if resetEmail == "" {
			return fmt.Errorf("--email is required")
		}
		msg, err := current.store.ForgotPassword(commandContext(cmd), resetEmail)
		if err != nil {
			return err
		}
		printf(cmd.OutOrStdout(), "%s\n", msg)
		return nil
	},
}

var resetPasswordCmd = &cobra.Command{
	Use:   "reset-password",
	Short: "Set a new password using a reset token",
	RunE: func(cmd *cobra.Command, args []string) error {
		if resetEmail == "" || resetToken == "" {
			return fmt.Errorf("--email and --token are required")
		}
		password, err := readSecret("New password")
		if err != nil {
			return err
		}
		msg, err := current.store.ResetPassword(commandContext(cmd), resetEmail, resetToken, password)
		if err != nil {
			return err
		}
		printf(cmd.OutOrStdout(), "%s %s\n", okStyle.Render("✓"), msg)
		return nil
	},
}

var changePasswordCmd = &cobra.Command{
	Use:   "change-password",
	Short: "Change the password; signs out afterwards",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := current.requireSession(); err != nil {
			return err
		}
		var req auth.ChangePasswordRequest
		var err error
		if req.CurrentPassword, err = readSecret("Current password"); err != nil {
			return err
		}
		if req.NewPassword, err = readSecret("New password"); err != nil {
			return err
		}
		if req.ConfirmPassword, err = readSecret("Confirm new password"); err != nil {
			return err
		}
		if err := current.store.ChangePassword(commandContext(cmd), req); err != nil {
			return err
		}
		printf(cmd.OutOrStdout(), "%s password changed, sign in again\n", okStyle.Render("✓"))
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVar(&loginEmail, "email", "", "account email")
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "account password (prompted when omitted)")

	registerCmd.Flags().StringVar(&registerEmail, "email", "", "account email")
	registerCmd.Flags().StringVar(&registerName, "name", "", "full name")

	forgotPasswordCmd.Flags().StringVar(&resetEmail, "email", "", "account email")
	resetPasswordCmd.Flags().StringVar(&resetEmail, "email", "", "account email")
	resetPasswordCmd.Flags().StringVar(&resetToken, "token", "", "reset token from the email")

	rootCmd.AddCommand(loginCmd, logoutCmd, whoamiCmd, refreshCmd, registerCmd,
		forgotPasswordCmd, resetPasswordCmd, changePasswordCmd)
}
