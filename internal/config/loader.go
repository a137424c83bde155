package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/veranemoloko/mobile-transfer/internal/download"
	"github.com/veranemoloko/mobile-transfer/internal/progress"
	"github.com/veranemoloko/mobile-transfer/internal/service"
)

// EnvPrefix is prepended to every variable name, e.g. MT_HTTP_PORT.
const EnvPrefix = "MT"

// Load loads configuration from an optional .env file and environment variables,
// validates it, and ensures required directories exist.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", f, err)
		}
	}

	var cfg Config

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	if err := createDirs(&cfg); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	return &cfg, nil
}

func createDirs(cfg *Config) error {
	dirs := []string{
		cfg.StoreDir,
		cfg.TempDir,
		filepath.Dir(cfg.StateFile),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
		slog.Debug("directory created or verified", "path", dir)
	}
	return nil
}

func (c *Config) HighWaterBytes() (int64, error) {
	return progress.DecodeSize(c.StallHighWater)
}

func (c *Config) LowWaterBytes() (int64, error) {
	return progress.DecodeSize(c.StallLowWater)
}

// DownloadOptions maps the settings onto the download controller options.
// Validate must have succeeded.
func (c *Config) DownloadOptions() download.Options {
	high, _ := c.HighWaterBytes()
	low, _ := c.LowWaterBytes()
	return download.Options{
		RetryBudget:  c.RetryBudget,
		RetryDelay:   c.RetryDelay,
		LookupPasses: c.LookupPasses,
		Stall: download.StallConfig{
			HighWater: high,
			LowWater:  low,
			Threshold: c.StallThreshold,
			Timeout:   c.StallTimeout,
		},
		WatchdogInterval: c.SpeedSampleInterval,
	}
}

// ServiceOptions maps the settings onto the task service options.
func (c *Config) ServiceOptions() service.Options {
	return service.Options{
		DownloadConcurrency: c.DownloadConcurrency,
		InstallConcurrency:  c.InstallConcurrency,
		NotifyInterval:      c.NotifyInterval,
		UnitBudget:          c.UnitBudget,
		CancelGrace:         c.CancelGrace,
	}
}

// SetupLogger configures the global slog logger based on configuration.
// Supports "json" or "text" formats and log levels: debug, info, warn, error.
func SetupLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
