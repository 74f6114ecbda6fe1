// Package config manages application configuration from default values,
// config.yaml, and BOT_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config defines the application configuration parameters for all components
// of the connector: logging, the Telegram client, database, the two polling
// loops, scheduled maintenance, and user-facing message templates.
type Config struct {
	Logger      LoggerConfig      `mapstructure:"log"`
	Telegram    TelegramConfig    `mapstructure:"telegram"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Poll        PollConfig        `mapstructure:"poll"`
	Dispatch    DispatchConfig    `mapstructure:"dispatch"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Messages    MessagesConfig    `mapstructure:"messages"`
}

// LoggerConfig controls log level and output format.
type LoggerConfig struct {
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// TelegramConfig holds the bot credentials.
type TelegramConfig struct {
	Token string `mapstructure:"token" validate:"required"`
}

// DatabaseConfig holds the SQLite database location.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// PollConfig tunes the ingestion loop: the long-poll wait and the two
// backoff intervals of the failure policy.
type PollConfig struct {
	Timeout         time.Duration `mapstructure:"timeout"          validate:"required,min=1s,max=1m"`
	ConflictBackoff time.Duration `mapstructure:"conflict_backoff" validate:"required,min=1s,max=5m"`
	ErrorBackoff    time.Duration `mapstructure:"error_backoff"    validate:"required,min=100ms,max=1m"`
}

// DispatchConfig tunes the dispatch loop's idle poll cadence.
type DispatchConfig struct {
	Interval time.Duration `mapstructure:"interval" validate:"required,min=100ms,max=1m"`
}

// MaintenanceConfig controls the scheduled SQL maintenance task.
type MaintenanceConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule" validate:"required_if=Enabled true"`
}

// MessagesConfig holds the user-facing reply templates.
type MessagesConfig struct {
	Welcome       string `mapstructure:"welcome"        validate:"required"`
	NotAuthorized string `mapstructure:"not_authorized" validate:"required"`
	ReportPrompt  string `mapstructure:"report_prompt"  validate:"required"`
	NoData        string `mapstructure:"no_data"        validate:"required"`
	Deleted       string `mapstructure:"deleted"        validate:"required"`
	GeneralError  string `mapstructure:"general_error"  validate:"required"`
}

// LoadConfig reads configuration from the given path (falling back to
// defaults when the file is absent), applies BOT_* environment overrides,
// and validates the result.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("BOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is okay, defaults plus env cover it.
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", true)

	// Registered empty so the BOT_TELEGRAM_TOKEN env override is visible to
	// Unmarshal; validation rejects the empty value.
	v.SetDefault("telegram.token", "")

	v.SetDefault("database.path", "storage.db")

	v.SetDefault("poll.timeout", 30*time.Second)
	v.SetDefault("poll.conflict_backoff", 5*time.Second)
	v.SetDefault("poll.error_backoff", time.Second)

	v.SetDefault("dispatch.interval", time.Second)

	v.SetDefault("maintenance.enabled", true)
	v.SetDefault("maintenance.schedule", "0 0 4 * * *")

	v.SetDefault("messages.welcome", "👋 Hi! Send me an expense like \"coffee 5\" and I'll keep track of it. Use /report for totals.")
	v.SetDefault("messages.not_authorized", "🚫 Access denied. Please contact the administrator.")
	v.SetDefault("messages.report_prompt", "📊 Pick a timeframe:")
	v.SetDefault("messages.no_data", "No expenses recorded for this period.")
	v.SetDefault("messages.deleted", "Deleted.")
	v.SetDefault("messages.general_error", "❌ An error occurred. Please try again later.")
}
