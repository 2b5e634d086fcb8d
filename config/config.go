// Package config loads couponqueue settings from a TOML file with
// environment overrides.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BranchIntl/couponqueue/errors"
	"github.com/pelletier/go-toml/v2"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "COUPONQUEUE_"

// Config holds all application configuration
type Config struct {
	Processor  ProcessorConfig  `toml:"processor"`
	Store      StoreConfig      `toml:"store"`
	Scheduler  SchedulerConfig  `toml:"scheduler"`
	HTTP       HTTPConfig       `toml:"http"`
	Statistics StatisticsConfig `toml:"statistics"`
	Log        LogConfig        `toml:"log"`
}

// ProcessorConfig holds the batch processor settings
type ProcessorConfig struct {
	Identifier   string   `toml:"identifier"`
	TimeLimit    Duration `toml:"time_limit"`
	TimeMargin   Duration `toml:"time_margin"`
	MemoryLimit  ByteSize `toml:"memory_limit"`
	MemoryFactor float64  `toml:"memory_factor"`
	StaleAfter   Duration `toml:"stale_after"`
	ResultsKey   string   `toml:"results_key"`
}

// StoreConfig selects the key-value backend
type StoreConfig struct {
	Type      string `toml:"type"` // memory, redis, sqlite or pebble
	RedisURL  string `toml:"redis_url"`
	Namespace string `toml:"namespace"`
	Path      string `toml:"path"`
}

// SchedulerConfig selects how yielded runs are re-armed
type SchedulerConfig struct {
	Type        string   `toml:"type"` // local, cron, rabbitmq or none
	Delay       Duration `toml:"delay"`
	CronSpec    string   `toml:"cron_spec"`
	RabbitMQURL string   `toml:"rabbitmq_url"`
	Queue       string   `toml:"queue"`
}

// HTTPConfig holds the status API settings
type HTTPConfig struct {
	Addr    string `toml:"addr"`
	Metrics bool   `toml:"metrics"`
}

// StatisticsConfig enables the shared Redis counters; Prometheus is
// controlled by http.metrics
type StatisticsConfig struct {
	RedisURL  string `toml:"redis_url"`
	Namespace string `toml:"namespace"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level string `toml:"level"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	return &Config{
		Processor: ProcessorConfig{
			Identifier:   "wc_sc_coupon_importer",
			TimeLimit:    Duration{20 * time.Second},
			MemoryFactor: 0.9,
			StaleAfter:   Duration{10 * time.Minute},
		},
		Store: StoreConfig{
			Type:      "memory",
			Namespace: "couponqueue:",
		},
		Scheduler: SchedulerConfig{
			Type:     "local",
			Delay:    Duration{time.Second},
			CronSpec: "@every 5m",
			Queue:    "couponqueue.rearm",
		},
		HTTP: HTTPConfig{
			Addr:    "127.0.0.1:8080",
			Metrics: true,
		},
		Statistics: StatisticsConfig{
			Namespace: "couponqueue:",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults when
// the file does not exist, then applies environment overrides and
// validates the result
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		if err == nil {
			if err := toml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("%w: %s: %v", errors.ErrInvalidConfig, path, err)
			}
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides fields from COUPONQUEUE_* variables
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"IDENTIFIER":      &c.Processor.Identifier,
		"RESULTS_KEY":     &c.Processor.ResultsKey,
		"STORE":           &c.Store.Type,
		"REDIS_URL":       &c.Store.RedisURL,
		"NAMESPACE":       &c.Store.Namespace,
		"STORE_PATH":      &c.Store.Path,
		"SCHEDULER":       &c.Scheduler.Type,
		"CRON_SPEC":       &c.Scheduler.CronSpec,
		"RABBITMQ_URL":    &c.Scheduler.RabbitMQURL,
		"QUEUE":           &c.Scheduler.Queue,
		"HTTP_ADDR":       &c.HTTP.Addr,
		"STATS_REDIS_URL": &c.Statistics.RedisURL,
		"LOG_LEVEL":       &c.Log.Level,
	}
	for name, field := range strs {
		if v, ok := lookup(EnvPrefix + name); ok {
			*field = v
		}
	}

	durations := map[string]*Duration{
		"TIME_LIMIT":  &c.Processor.TimeLimit,
		"TIME_MARGIN": &c.Processor.TimeMargin,
		"STALE_AFTER": &c.Processor.StaleAfter,
		"DELAY":       &c.Scheduler.Delay,
	}
	for name, field := range durations {
		if v, ok := lookup(EnvPrefix + name); ok {
			if err := field.UnmarshalText([]byte(v)); err != nil {
				return fmt.Errorf("%w: %s%s: %v", errors.ErrInvalidConfig, EnvPrefix, name, err)
			}
		}
	}

	if v, ok := lookup(EnvPrefix + "MEMORY_LIMIT"); ok {
		if err := c.Processor.MemoryLimit.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("%w: %sMEMORY_LIMIT: %v", errors.ErrInvalidConfig, EnvPrefix, err)
		}
	}
	if v, ok := lookup(EnvPrefix + "MEMORY_FACTOR"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: %sMEMORY_FACTOR: %v", errors.ErrInvalidConfig, EnvPrefix, err)
		}
		c.Processor.MemoryFactor = f
	}
	if v, ok := lookup(EnvPrefix + "METRICS"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %sMETRICS: %v", errors.ErrInvalidConfig, EnvPrefix, err)
		}
		c.HTTP.Metrics = b
	}
	return nil
}

// Validate checks the configuration for consistency
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", errors.ErrInvalidConfig, fmt.Sprintf(format, args...))
	}

	p := c.Processor
	if p.Identifier == "" {
		return invalid("processor.identifier is required")
	}
	if p.TimeLimit.Duration <= 0 {
		return invalid("processor.time_limit must be positive")
	}
	if p.TimeMargin.Duration < 0 || p.TimeMargin.Duration >= p.TimeLimit.Duration {
		return invalid("processor.time_margin must be below time_limit")
	}
	if p.MemoryFactor <= 0 || p.MemoryFactor > 1 {
		return invalid("processor.memory_factor must be in (0, 1], got %v", p.MemoryFactor)
	}
	if p.StaleAfter.Duration <= 0 {
		return invalid("processor.stale_after must be positive")
	}
	if p.TimeLimit.Duration >= p.StaleAfter.Duration {
		return invalid("processor.time_limit must be below stale_after")
	}

	switch c.Store.Type {
	case "memory":
	case "redis":
		if c.Store.RedisURL == "" {
			return invalid("store.redis_url is required for the redis store")
		}
	case "sqlite", "pebble":
		if c.Store.Path == "" {
			return invalid("store.path is required for the %s store", c.Store.Type)
		}
	default:
		return invalid("unknown store type %q", c.Store.Type)
	}

	switch c.Scheduler.Type {
	case "local", "none":
	case "cron":
		if c.Scheduler.CronSpec == "" {
			return invalid("scheduler.cron_spec is required for the cron scheduler")
		}
	case "rabbitmq":
		if c.Scheduler.RabbitMQURL == "" || c.Scheduler.Queue == "" {
			return invalid("scheduler.rabbitmq_url and scheduler.queue are required for the rabbitmq scheduler")
		}
	default:
		return invalid("unknown scheduler type %q", c.Scheduler.Type)
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		return invalid("%v", err)
	}
	return nil
}

// ParseLevel converts a level name into a slog level
func ParseLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
	return l, nil
}
