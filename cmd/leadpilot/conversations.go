package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	leadpilot "github.com/leadpilot/mobile-sdk/golang"
)

var (
	conversationsUnread bool
	conversationsJSON   bool
	messagesJSON        bool
	sendJSON            bool
	foldersJSON         bool
	leadsJSON           bool
)

func init() {
	conversationsCmd.Flags().BoolVar(&conversationsUnread, "unread", false, "Only show conversations with unread messages")
	conversationsCmd.Flags().BoolVar(&conversationsJSON, "json", false, "Output raw JSON")
	messagesCmd.Flags().BoolVar(&messagesJSON, "json", false, "Output raw JSON")
	sendCmd.Flags().BoolVar(&sendJSON, "json", false, "Output raw JSON")
	foldersCmd.Flags().BoolVar(&foldersJSON, "json", false, "Output raw JSON")
	leadsCmd.Flags().BoolVar(&leadsJSON, "json", false, "Output raw JSON")

	rootCmd.AddCommand(conversationsCmd, messagesCmd, sendCmd, foldersCmd, leadsCmd)
}

// ============================================================================
// conversations
// ============================================================================

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"convs"},
	Short:   "List conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := getClient()
		if err != nil {
			return err
		}
		ctx, cancel := requestContext(cmd)
		defer cancel()

		convs, err := client.Messages.Conversations(ctx)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if conversationsUnread {
			filtered := convs[:0]
			for _, c := range convs {
				if c.UnreadValue() > 0 {
					filtered = append(filtered, c)
				}
			}
			convs = filtered
		}
		if conversationsJSON {
			return printJSON(convs)
		}
		if len(convs) == 0 {
			fmt.Println("No conversations.")
			return nil
		}

		fmt.Printf("%-26s  %-24s  %-16s  %6s  %s\n", "LEAD ID", "NAME", "LAST MESSAGE", "UNREAD", "PREVIEW")
		for i := range convs {
			c := &convs[i]
			fmt.Printf("%-26s  %-24s  %-16s  %6d  %s\n",
				c.ID, truncate(c.DisplayName(), 24), formatTime(c.LastMessageAt), c.UnreadValue(), truncate(c.LastMessage, 40))
		}
		return nil
	},
}

// ============================================================================
// messages
// ============================================================================

var messagesCmd = &cobra.Command{
	Use:   "messages <lead-id>",
	Short: "Show the message history of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := getClient()
		if err != nil {
			return err
		}
		ctx, cancel := requestContext(cmd)
		defer cancel()

		msgs, err := client.Messages.History(ctx, args[0])
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if messagesJSON {
			return printJSON(msgs)
		}
		printMessages(msgs)
		return nil
	},
}

// ============================================================================
// send
// ============================================================================

var sendCmd = &cobra.Command{
	Use:   "send <lead-id> <text>",
	Short: "Send an SMS to a lead",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args[1:], " ")
		if strings.TrimSpace(text) == "" {
			return leadpilot.ErrEmptyMessage
		}
		client, err := getClient()
		if err != nil {
			return err
		}
		ctx, cancel := requestContext(cmd)
		defer cancel()

		msg, err := client.Messages.Send(ctx, args[0], strings.TrimSpace(text))
		if err != nil {
			return fmt.Errorf("send failed: %w", err)
		}
		if sendJSON {
			return printJSON(msg)
		}
		if msg != nil && msg.ID != "" {
			fmt.Printf("Sent (message %s)\n", msg.ID)
		} else {
			fmt.Println("Sent.")
		}
		return nil
	},
}

// ============================================================================
// folders / leads
// ============================================================================

var foldersCmd = &cobra.Command{
	Use:   "folders",
	Short: "List lead folders",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := getClient()
		if err != nil {
			return err
		}
		ctx, cancel := requestContext(cmd)
		defer cancel()

		folders, err := client.Folders.List(ctx)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if foldersJSON {
			return printJSON(folders)
		}
		for _, f := range folders {
			fmt.Printf("%-26s  %-30s  %d leads\n", f.ID, f.Name, f.LeadCount)
		}
		return nil
	},
}

var leadsCmd = &cobra.Command{
	Use:   "leads <folder-id>",
	Short: "List the leads of a folder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := getClient()
		if err != nil {
			return err
		}
		ctx, cancel := requestContext(cmd)
		defer cancel()

		leads, err := client.Leads.ByFolder(ctx, args[0])
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if leadsJSON {
			return printJSON(leads)
		}
		for _, l := range leads {
			fmt.Printf("%-26s  %-24s  %-16s  %s\n", l.ID, truncate(l.Name, 24), l.Phone, l.Status)
		}
		return nil
	},
}

func printMessages(msgs []leadpilot.Message) {
	if len(msgs) == 0 {
		fmt.Println("No messages.")
		return
	}
	printMessagesFrom(msgs, 0)
}

func printMessagesFrom(msgs []leadpilot.Message, from int) {
	if from >= len(msgs) {
		return
	}
	for _, m := range msgs[from:] {
		arrow := "->"
		if m.Direction.IsInbound() {
			arrow = "<-"
		}
		fmt.Printf("[%s] %s %s\n", formatTime(m.Date), arrow, m.Text)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
