package main

import (
	"fmt"

	"github.com/spf13/cobra"

	leadpilot "github.com/leadpilot/mobile-sdk/golang"
)

func init() {
	rootCmd.AddCommand(openCmd)
}

var openCmd = &cobra.Command{
	Use:   "open <notification-json>",
	Short: "Resolve a push notification payload and show its conversation",
	Long:  "Resolve the data of a tapped push notification to a conversation and print its messages.\nExample: leadpilot open '{\"type\":\"incoming_sms\",\"fromPhone\":\"+15551234567\"}'",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := leadpilot.ParseNotification([]byte(args[0]))
		if err != nil {
			return err
		}
		client, err := getClient()
		if err != nil {
			return err
		}
		ctx, cancel := requestContext(cmd)
		defer cancel()

		thread := leadpilot.NewThread(client.Messages, nil, &leadpilot.ThreadOptions{Logger: client.Logger()})
		links := leadpilot.NewDeepLinker(thread, client.Logger())
		links.Open(*target)

		convs, err := client.Messages.Conversations(ctx)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		id, ok := links.Offer(ctx, convs)
		if !ok {
			return fmt.Errorf("no conversation matches the notification")
		}
		defer thread.Wait()
		if err := thread.Err(); err != nil {
			return fmt.Errorf("loading conversation %s: %w", id, err)
		}

		fmt.Printf("Conversation %s\n\n", id)
		printMessages(thread.Messages())
		return nil
	},
}
