package main

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	leadpilot "github.com/leadpilot/mobile-sdk/golang"
)

var (
	watchInterval time.Duration
	watchLead     string
)

func init() {
	watchCmd.Flags().DurationVar(&watchInterval, "interval", leadpilot.DefaultPollInterval, "Conversation poll interval")
	watchCmd.Flags().StringVar(&watchLead, "lead", "", "Also follow this conversation's messages")
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch for new inbound messages",
	Long:  "Join the realtime session, poll the conversation list and print a line for each new inbound message until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadSettings()
		if err != nil {
			return err
		}
		if cfg.Auth.Email == "" {
			return errNotLoggedIn
		}
		client, err := newClient(cfg, true)
		if err != nil {
			return err
		}
		defer client.Logger().Sync() //nolint:errcheck

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		app := leadpilot.NewApp(client, &leadpilot.AppOptions{
			Sync: &leadpilot.SyncOptions{PollInterval: watchInterval},
		})

		banners := app.Sync.OnBanner(func(b *leadpilot.Banner) {
			if b == nil {
				return
			}
			fmt.Printf("[%s] %s: %s\n", b.At.Local().Format("15:04:05"), b.Title, b.Preview)
		})
		defer banners.Unsubscribe()

		if err := app.Start(ctx, cfg.Auth.Email); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Watching as %s (Ctrl-C to stop)\n", cfg.Auth.Email)

		if watchLead != "" {
			var mu sync.Mutex
			printed := 0
			changes := app.Thread.OnChange(func(u leadpilot.ThreadUpdate) {
				if u.ConversationID != watchLead {
					return
				}
				mu.Lock()
				defer mu.Unlock()
				if len(u.Messages) < printed {
					printed = 0
				}
				printMessagesFrom(u.Messages, printed)
				printed = len(u.Messages)
			})
			defer changes.Unsubscribe()
			if err := app.SelectConversation(ctx, watchLead); err != nil {
				fmt.Fprintf(os.Stderr, "Loading %s failed: %v\n", watchLead, err)
			}
		}

		<-ctx.Done()
		app.Stop()
		return app.Session.Disconnect()
	},
}
