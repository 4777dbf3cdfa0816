package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rewired-gh/kundlicore/internal/models"
)

// Config represents the complete application configuration
type Config struct {
	Engine   EngineConfig   `mapstructure:"engine"`
	Content  ContentConfig  `mapstructure:"content"`
	ChartAPI ChartAPIConfig `mapstructure:"chart_api"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// EngineConfig holds variant selection behavior
type EngineConfig struct {
	Workers      int           `mapstructure:"workers"`
	DefaultScope string        `mapstructure:"default_scope"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MissingFacts string        `mapstructure:"missing_facts"`
}

// ContentConfig lists the variant bundle files to load
type ContentConfig struct {
	Paths []string `mapstructure:"paths"`
}

// ChartAPIConfig holds chart snapshot service configuration
type ChartAPIConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryWaitMin time.Duration `mapstructure:"retry_wait_min"`
	RetryWaitMax time.Duration `mapstructure:"retry_wait_max"`
}

// StorageConfig holds persistence configuration
type StorageConfig struct {
	DBPath  string `mapstructure:"db_path"`
	MaxRuns int    `mapstructure:"max_runs"`
}

// TelegramConfig holds Telegram alert configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
// An empty path skips the file and uses defaults plus environment.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Enable environment variable override, e.g. KUNDLI_CORE_ENGINE_WORKERS
	v.SetEnvPrefix("KUNDLI_CORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Unmarshal into Config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Engine defaults
	v.SetDefault("engine.workers", 4)
	v.SetDefault("engine.default_scope", string(models.ScopeDaily))
	v.SetDefault("engine.timeout", "5s")
	v.SetDefault("engine.missing_facts", "skip")

	// Content defaults
	v.SetDefault("content.paths", []string{})

	// Chart API defaults
	v.SetDefault("chart_api.base_url", "")
	v.SetDefault("chart_api.timeout", "10s")
	v.SetDefault("chart_api.max_retries", 3)
	v.SetDefault("chart_api.retry_wait_min", "500ms")
	v.SetDefault("chart_api.retry_wait_max", "5s")

	// Storage defaults
	v.SetDefault("storage.db_path", "./data/kundlicore.db")
	v.SetDefault("storage.max_runs", 10000)

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Engine config
	if c.Engine.Workers < 1 {
		return fmt.Errorf("engine.workers must be at least 1")
	}
	if !models.Scope(c.Engine.DefaultScope).Valid() {
		return fmt.Errorf("engine.default_scope must be a known scope (got %q)", c.Engine.DefaultScope)
	}
	if c.Engine.Timeout <= 0 {
		return fmt.Errorf("engine.timeout must be positive")
	}
	if c.Engine.MissingFacts != "skip" && c.Engine.MissingFacts != "fail" {
		return fmt.Errorf("engine.missing_facts must be one of: skip, fail")
	}

	// Validate Content config
	if len(c.Content.Paths) == 0 {
		return fmt.Errorf("content.paths must contain at least one bundle file")
	}

	// Validate Chart API config
	if c.ChartAPI.Timeout <= 0 {
		return fmt.Errorf("chart_api.timeout must be positive")
	}
	if c.ChartAPI.MaxRetries < 0 {
		return fmt.Errorf("chart_api.max_retries must not be negative")
	}
	if c.ChartAPI.RetryWaitMin > c.ChartAPI.RetryWaitMax {
		return fmt.Errorf("chart_api.retry_wait_min must not exceed chart_api.retry_wait_max")
	}

	// Validate Storage config
	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required")
	}
	if c.Storage.MaxRuns < 1 {
		return fmt.Errorf("storage.max_runs must be at least 1")
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}
	if c.Telegram.MaxRetries < 0 {
		return fmt.Errorf("telegram.max_retries must not be negative")
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
