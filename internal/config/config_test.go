package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spendlog/connector/internal/config"
)

func TestLoadConfigDefaultsWithEnvToken(t *testing.T) {
	t.Setenv("BOT_TELEGRAM_TOKEN", "test-token")

	cfg, err := config.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Telegram.Token != "test-token" {
		t.Fatalf("expected token from environment, got %q", cfg.Telegram.Token)
	}
	if cfg.Logger.Level != "info" || !cfg.Logger.JSON {
		t.Fatalf("unexpected logger defaults: %+v", cfg.Logger)
	}
	if cfg.Poll.Timeout != 30*time.Second {
		t.Fatalf("expected 30s poll timeout, got %v", cfg.Poll.Timeout)
	}
	if cfg.Poll.ConflictBackoff != 5*time.Second || cfg.Poll.ErrorBackoff != time.Second {
		t.Fatalf("unexpected backoff defaults: %+v", cfg.Poll)
	}
	if cfg.Dispatch.Interval != time.Second {
		t.Fatalf("expected 1s dispatch interval, got %v", cfg.Dispatch.Interval)
	}
	if !cfg.Maintenance.Enabled || cfg.Maintenance.Schedule == "" {
		t.Fatalf("unexpected maintenance defaults: %+v", cfg.Maintenance)
	}
	if cfg.Messages.Welcome == "" || cfg.Messages.NoData == "" {
		t.Fatalf("expected default message templates, got %+v", cfg.Messages)
	}
}

func TestLoadConfigMissingToken(t *testing.T) {
	t.Setenv("BOT_TELEGRAM_TOKEN", "")

	if _, err := config.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected validation to reject a missing token")
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	t.Setenv("BOT_TELEGRAM_TOKEN", "")

	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
telegram:
  token: file-token
log:
  level: debug
  json: false
poll:
  timeout: 10s
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Telegram.Token != "file-token" {
		t.Fatalf("expected token from file, got %q", cfg.Telegram.Token)
	}
	if cfg.Logger.Level != "debug" || cfg.Logger.JSON {
		t.Fatalf("unexpected logger config: %+v", cfg.Logger)
	}
	if cfg.Poll.Timeout != 10*time.Second {
		t.Fatalf("expected 10s timeout from file, got %v", cfg.Poll.Timeout)
	}
	// Unset keys keep their defaults.
	if cfg.Poll.ConflictBackoff != 5*time.Second {
		t.Fatalf("expected default conflict backoff, got %v", cfg.Poll.ConflictBackoff)
	}
}
