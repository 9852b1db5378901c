package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var loginPassword string

func init() {
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "Account password (or LEADPILOT_PASSWORD)")
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login <email>",
	Short: "Log in and store the token in ~/.leadpilot/config.toml",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadSettings()
		if err != nil {
			return err
		}
		password := loginPassword
		if password == "" {
			password = os.Getenv("LEADPILOT_PASSWORD")
		}
		if password == "" {
			return fmt.Errorf("a password is required (--password or LEADPILOT_PASSWORD)")
		}

		client, err := newClient(cfg, false)
		if err != nil {
			return err
		}
		ctx, cancel := requestContext(cmd)
		defer cancel()

		res, err := client.Auth.Login(ctx, args[0], password)
		if err != nil {
			return fmt.Errorf("login failed: %w", err)
		}

		stored, err := loadConfig()
		if err != nil {
			return err
		}
		stored.Auth.Token = res.Token
		stored.Auth.Email = valueOrDefault(res.User.Email, args[0])
		if err := saveConfig(stored); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Printf("Logged in as %s\n", stored.Auth.Email)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored token",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.Auth = ConfigAuth{}
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
		fmt.Println("Logged out.")
		return nil
	},
}
