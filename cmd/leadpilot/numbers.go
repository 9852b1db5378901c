package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	numbersJSON     bool
	numbersAreaCode string
)

func init() {
	numbersCmd.PersistentFlags().BoolVar(&numbersJSON, "json", false, "Output raw JSON")
	numbersAvailableCmd.Flags().StringVar(&numbersAreaCode, "area-code", "", "Restrict to an area code")

	numbersCmd.AddCommand(numbersListCmd, numbersAvailableCmd, numbersBuyCmd, numbersReleaseCmd)
	rootCmd.AddCommand(numbersCmd)
}

var numbersCmd = &cobra.Command{
	Use:   "numbers",
	Short: "Manage the account's phone numbers",
}

var numbersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List owned numbers",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := getClient()
		if err != nil {
			return err
		}
		ctx, cancel := requestContext(cmd)
		defer cancel()

		nums, err := client.Numbers.List(ctx)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if numbersJSON {
			return printJSON(nums)
		}
		for _, n := range nums {
			fmt.Printf("%-16s  %-24s  %s\n", n.PhoneNumber, n.FriendlyName, n.SID)
		}
		return nil
	},
}

var numbersAvailableCmd = &cobra.Command{
	Use:   "available",
	Short: "Search numbers available for purchase",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := getClient()
		if err != nil {
			return err
		}
		ctx, cancel := requestContext(cmd)
		defer cancel()

		nums, err := client.Numbers.Available(ctx, numbersAreaCode)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if numbersJSON {
			return printJSON(nums)
		}
		for _, n := range nums {
			fmt.Printf("%-16s  %-20s  %s %s\n", n.PhoneNumber, n.FriendlyName, n.Locality, n.Region)
		}
		return nil
	},
}

var numbersBuyCmd = &cobra.Command{
	Use:   "buy <phone-number>",
	Short: "Purchase a number",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := getClient()
		if err != nil {
			return err
		}
		ctx, cancel := requestContext(cmd)
		defer cancel()

		n, err := client.Numbers.Buy(ctx, args[0])
		if err != nil {
			return fmt.Errorf("purchase failed: %w", err)
		}
		if numbersJSON {
			return printJSON(n)
		}
		fmt.Printf("Purchased %s\n", valueOrDefault(n.PhoneNumber, args[0]))
		return nil
	},
}

var numbersReleaseCmd = &cobra.Command{
	Use:   "release <phone-number>",
	Short: "Release an owned number",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := getClient()
		if err != nil {
			return err
		}
		ctx, cancel := requestContext(cmd)
		defer cancel()

		if err := client.Numbers.Release(ctx, args[0]); err != nil {
			return fmt.Errorf("release failed: %w", err)
		}
		fmt.Printf("Released %s\n", args[0])
		return nil
	},
}
