package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Queue       QueueConfig     `toml:"queue"`
	Importer    ImporterConfig  `toml:"importer"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
	Logging     LoggingConfig   `toml:"logging"`
}

type ServerConfig struct {
	Port int    `toml:"port" validate:"gte=0,lte=65535"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path" validate:"required"` // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"`         // Delete database on startup for clean test runs
}

type QueueConfig struct {
	QueueName         string `toml:"queue_name"`         // Queue name prefix in Badger
	PollInterval      string `toml:"poll_interval"`      // e.g. "1s" - how often workers poll for batches
	VisibilityTimeout string `toml:"visibility_timeout"` // e.g. "5m" - batch visibility timeout for redelivery
	MaxAttempts       int    `toml:"max_attempts" validate:"gte=1"`
	BackoffBase       string `toml:"backoff_base"` // e.g. "2s" - base delay for exponential retry backoff
	Concurrency       int    `toml:"concurrency" validate:"gte=1"`
}

type ImporterConfig struct {
	Sources            []string `toml:"sources"` // Feed URLs imported on trigger-all and on schedule
	BatchSize          int      `toml:"batch_size" validate:"gte=1"`
	LargeFeedBatchSize int      `toml:"large_feed_batch_size" validate:"gte=1"`
	LargeFeedHosts     []string `toml:"large_feed_hosts"` // Host substrings that get the large batch size
	FetchTimeout       string   `toml:"fetch_timeout"`    // e.g. "30s"
	FetchRateLimit     string   `toml:"fetch_rate_limit"` // Minimum delay between fetches to the same host
}

type SchedulerConfig struct {
	Enabled          bool   `toml:"enabled"`
	ImportSchedule   string `toml:"import_schedule"`    // Cron expression for scheduled imports
	RepairInterval   string `toml:"repair_interval"`    // How often the stuck-run sweep runs
	StaleAfter       string `toml:"stale_after"`        // Age at which a processing run is considered stale
	FailStalledAfter string `toml:"fail_stalled_after"` // Optional: fail genuinely stalled runs after this age ("" = never)
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs
}

// NewDefaultConfig returns the built-in defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8085,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path:           "./data/colligo",
				ResetOnStartup: false,
			},
		},
		Queue: QueueConfig{
			QueueName:         "colligo_batches",
			PollInterval:      "1s",
			VisibilityTimeout: "5m",
			MaxAttempts:       3,
			BackoffBase:       "2s",
			Concurrency:       5,
		},
		Importer: ImporterConfig{
			Sources:            []string{},
			BatchSize:          100,
			LargeFeedBatchSize: 400,
			LargeFeedHosts:     []string{},
			FetchTimeout:       "30s",
			FetchRateLimit:     "500ms",
		},
		Scheduler: SchedulerConfig{
			Enabled:          true,
			ImportSchedule:   "0 * * * *",
			RepairInterval:   "1m",
			StaleAfter:       "10m",
			FailStalledAfter: "",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout"},
			TimeFormat: "15:04:05",
		},
	}
}

// LoadFromFiles loads configuration by merging, in order: defaults, each TOML
// file given (later files override earlier ones), then environment variables.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks field constraints and duration syntax.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	durations := map[string]string{
		"queue.poll_interval":          c.Queue.PollInterval,
		"queue.visibility_timeout":     c.Queue.VisibilityTimeout,
		"queue.backoff_base":           c.Queue.BackoffBase,
		"importer.fetch_timeout":       c.Importer.FetchTimeout,
		"importer.fetch_rate_limit":    c.Importer.FetchRateLimit,
		"scheduler.repair_interval":    c.Scheduler.RepairInterval,
		"scheduler.stale_after":        c.Scheduler.StaleAfter,
		"scheduler.fail_stalled_after": c.Scheduler.FailStalledAfter,
	}
	for name, value := range durations {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid duration for %s: %w", name, err)
		}
	}

	return nil
}

// applyEnvOverrides applies COLLIGO_* environment variables on top of the
// file configuration. Only operationally useful knobs are exposed.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("COLLIGO_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			config.Server.Port = port
		}
	}
	if v := os.Getenv("COLLIGO_HOST"); v != "" {
		config.Server.Host = v
	}
	if v := os.Getenv("COLLIGO_BADGER_PATH"); v != "" {
		config.Storage.Badger.Path = v
	}
	if v := os.Getenv("COLLIGO_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("COLLIGO_QUEUE_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.Queue.Concurrency = n
		}
	}
	if v := os.Getenv("COLLIGO_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.Importer.BatchSize = n
		}
	}
	if v := os.Getenv("COLLIGO_SOURCES"); v != "" {
		var sources []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				sources = append(sources, s)
			}
		}
		if len(sources) > 0 {
			config.Importer.Sources = sources
		}
	}
	if v := os.Getenv("COLLIGO_IMPORT_SCHEDULE"); v != "" {
		config.Scheduler.ImportSchedule = v
	}
}

// ApplyFlagOverrides applies command-line flag values (highest priority).
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port != 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Duration parses a duration config string, falling back to def when the
// value is empty. Config validation already rejects malformed file values;
// the fallback covers programmatic construction in tests.
func Duration(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return d
}
