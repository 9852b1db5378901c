package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	leadpilot "github.com/leadpilot/mobile-sdk/golang"
)

var (
	pushPlatform string
	pushDeviceID string
)

func init() {
	pushRegisterCmd.Flags().StringVar(&pushPlatform, "platform", "ios", "Device platform (ios, android)")
	pushRegisterCmd.Flags().StringVar(&pushDeviceID, "device-id", "", "Stable device id (random when empty)")
	pushCmd.AddCommand(pushRegisterCmd)
	rootCmd.AddCommand(pushCmd)
}

// staticPushToken is a PushTokenSource for a token obtained out of band.
type staticPushToken struct {
	token    string
	platform string
	deviceID string
}

func (s staticPushToken) PushToken(context.Context) (string, error) { return s.token, nil }
func (s staticPushToken) Platform() string                          { return s.platform }
func (s staticPushToken) DeviceID() string                          { return s.deviceID }

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Push notification commands",
}

var pushRegisterCmd = &cobra.Command{
	Use:   "register <expo-push-token>",
	Short: "Register a device push token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := getClient()
		if err != nil {
			return err
		}
		ctx, cancel := requestContext(cmd)
		defer cancel()

		src := staticPushToken{token: args[0], platform: pushPlatform, deviceID: pushDeviceID}
		if err := leadpilot.RegisterDevice(ctx, src, client); err != nil {
			return fmt.Errorf("registration failed: %w", err)
		}
		fmt.Println("Device registered.")
		return nil
	},
}
