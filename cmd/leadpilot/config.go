package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage LeadPilot configuration",
	Long:  "View or modify the LeadPilot CLI configuration stored in ~/.leadpilot/config.toml.",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configPath()
		if err != nil {
			return err
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			fmt.Println("No configuration file found. Run 'leadpilot login <email>' to create one.")
			return nil
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		fmt.Printf("[default]\n")
		fmt.Printf("base_url  = %q\n", cfg.Default.BaseURL)
		fmt.Printf("log_level = %q\n", cfg.Default.LogLevel)
		fmt.Printf("log_path  = %q\n", cfg.Default.LogPath)
		fmt.Printf("\n[auth]\n")
		fmt.Printf("email = %q\n", cfg.Auth.Email)
		fmt.Printf("token = %q\n", maskKey(cfg.Auth.Token))
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value using dot notation.\nExample: leadpilot config set default.base_url https://crm.example.com",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := setConfigValue(cfg, key, value); err != nil {
			return err
		}
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Printf("Set %s\n", key)
		return nil
	},
}
