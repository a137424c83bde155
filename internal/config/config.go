package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds all application configuration settings.
type Config struct {
	Environment string `envconfig:"ENV" default:"development"`

	HTTPPort    int           `envconfig:"HTTP_PORT" default:"8080" validate:"min=1,max=65535"`
	HTTPTimeout time.Duration `envconfig:"HTTP_TIMEOUT" default:"15s" validate:"gt=0"`

	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s" validate:"gt=0"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json" validate:"oneof=json text"`

	StoreDir     string `envconfig:"STORE_DIR" default:"./store" validate:"required"`
	TempDir      string `envconfig:"TEMP_DIR" default:"./tmp" validate:"required"`
	StateFile    string `envconfig:"STATE_FILE" default:"./state.json" validate:"required"`
	AccountsFile string `envconfig:"ACCOUNTS_FILE" default:"./accounts.toml"`

	CatalogBaseURL string        `envconfig:"CATALOG_BASE_URL" default:"https://itunes.apple.com" validate:"required,url"`
	CatalogTimeout time.Duration `envconfig:"CATALOG_TIMEOUT" default:"20s" validate:"gt=0"`

	BackupEngine  string `envconfig:"BACKUP_ENGINE" default:"idevicebackup2" validate:"required"`
	InstallEngine string `envconfig:"INSTALL_ENGINE" default:"ideviceinstaller" validate:"required"`

	DownloadConcurrency int           `envconfig:"DOWNLOAD_CONCURRENCY" default:"5" validate:"min=1"`
	InstallConcurrency  int           `envconfig:"INSTALL_CONCURRENCY" default:"3" validate:"min=1"`
	RetryBudget         int           `envconfig:"RETRY_BUDGET" default:"8" validate:"min=1"`
	RetryDelay          time.Duration `envconfig:"RETRY_DELAY" default:"1s" validate:"gte=0"`
	LookupPasses        int           `envconfig:"LOOKUP_PASSES" default:"3" validate:"min=1"`

	StallHighWater      string        `envconfig:"STALL_HIGH_WATER" default:"500KiB"`
	StallLowWater       string        `envconfig:"STALL_LOW_WATER" default:"5KiB"`
	StallThreshold      int           `envconfig:"STALL_THRESHOLD" default:"8" validate:"min=1"`
	StallTimeout        time.Duration `envconfig:"STALL_TIMEOUT" default:"10s" validate:"gt=0"`
	SpeedSampleInterval time.Duration `envconfig:"SPEED_SAMPLE_INTERVAL" default:"1s" validate:"gt=0"`

	NotifyInterval time.Duration `envconfig:"NOTIFY_INTERVAL" default:"200ms" validate:"gt=0"`
	UnitBudget     int64         `envconfig:"UNIT_BUDGET" default:"100" validate:"min=1"`
	CancelGrace    time.Duration `envconfig:"CANCEL_GRACE" default:"10s" validate:"gt=0"`
}

var configValidate = validator.New()

// Validate checks the configuration for invalid or missing values.
// Returns an error describing the first invalid setting found.
func (c *Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	high, err := c.HighWaterBytes()
	if err != nil {
		return fmt.Errorf("invalid stall high water %q: %w", c.StallHighWater, err)
	}
	low, err := c.LowWaterBytes()
	if err != nil {
		return fmt.Errorf("invalid stall low water %q: %w", c.StallLowWater, err)
	}
	if low >= high {
		return fmt.Errorf("stall low water (%d) must be below high water (%d)", low, high)
	}

	return nil
}
