package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	leadpilot "github.com/leadpilot/mobile-sdk/golang"
	"github.com/leadpilot/mobile-sdk/golang/internal/logger"
)

const requestTimeout = 15 * time.Second

var errNotLoggedIn = errors.New("not logged in; run 'leadpilot login <email>' first")

// loadSettings returns the config file overlaid with LEADPILOT_* variables.
// A .env file in the working directory is read first; real environment
// variables win over it.
func loadSettings() (*Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	_ = godotenv.Load()
	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("LEADPILOT_BASE_URL"); v != "" {
		cfg.Default.BaseURL = v
	}
	if v := os.Getenv("LEADPILOT_TOKEN"); v != "" {
		cfg.Auth.Token = v
	}
	if v := os.Getenv("LEADPILOT_LOG_LEVEL"); v != "" {
		cfg.Default.LogLevel = v
	}
}

func newLogger(cfg *Config) *zap.Logger {
	log, err := logger.New(logger.Config{Level: cfg.Default.LogLevel, Path: cfg.Default.LogPath})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Logging disabled: %v\n", err)
		return zap.NewNop()
	}
	return log
}

// newClient builds a client from cfg. requireToken rejects a missing token
// before any request is made.
func newClient(cfg *Config, requireToken bool) (*leadpilot.Client, error) {
	if requireToken && cfg.Auth.Token == "" {
		return nil, errNotLoggedIn
	}
	opts := []leadpilot.ClientOption{leadpilot.WithLogger(newLogger(cfg))}
	if cfg.Default.BaseURL != "" {
		opts = append(opts, leadpilot.WithBaseURL(cfg.Default.BaseURL))
	}
	return leadpilot.NewClient(cfg.Auth.Token, opts...), nil
}

// getClient loads the settings and returns an authenticated client.
func getClient() (*leadpilot.Client, error) {
	cfg, err := loadSettings()
	if err != nil {
		return nil, err
	}
	return newClient(cfg, true)
}

func requestContext(cmd interface{ Context() context.Context }) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, requestTimeout)
}

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

// maskKey shows the first 6 and last 4 characters of a secret.
func maskKey(key string) string {
	switch {
	case key == "":
		return ""
	case len(key) <= 12:
		return "****"
	default:
		return key[:6] + "..." + key[len(key)-4:]
	}
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}

func formatTime(ts leadpilot.Timestamp) string {
	if ts.IsZero() {
		return "-"
	}
	return ts.Local().Format("2006-01-02 15:04")
}
