package main

import (
	"fmt"

	"github.com/spf13/cobra"

	leadpilot "github.com/leadpilot/mobile-sdk/golang"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and account status",
	Long:  "Display the current configuration and, when logged in, check the token against the backend.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadSettings()
		if err != nil {
			return err
		}

		fmt.Println("Configuration:")
		fmt.Printf("  Base URL:  %s\n", valueOrDefault(cfg.Default.BaseURL, leadpilot.DefaultBaseURL+" (default)"))
		fmt.Printf("  Log level: %s\n", valueOrDefault(cfg.Default.LogLevel, "warn"))
		fmt.Printf("  Log file:  %s\n", valueOrDefault(cfg.Default.LogPath, "(stderr)"))

		fmt.Println()
		fmt.Println("Auth:")
		fmt.Printf("  Email:     %s\n", valueOrDefault(cfg.Auth.Email, "(not logged in)"))
		if cfg.Auth.Token == "" {
			fmt.Println("  Token:     none")
			return nil
		}
		fmt.Printf("  Token:     %s\n", maskKey(cfg.Auth.Token))

		client, err := newClient(cfg, true)
		if err != nil {
			return err
		}
		ctx, cancel := requestContext(cmd)
		defer cancel()

		fmt.Println()
		fmt.Println("Live status:")
		convs, err := client.Messages.Conversations(ctx)
		if err != nil {
			fmt.Printf("  Error fetching conversations: %v\n", err)
			return nil
		}
		unread := 0
		for i := range convs {
			if convs[i].UnreadValue() > 0 {
				unread++
			}
		}
		fmt.Printf("  Conversations: %d\n", len(convs))
		fmt.Printf("  With unread:   %d\n", unread)
		return nil
	},
}
