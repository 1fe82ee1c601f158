// Package config loads and validates NetWatch configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig      `mapstructure:"server"`
	Auth      AuthConfig        `mapstructure:"auth"`
	Scheduler SchedulerConfig   `mapstructure:"scheduler"`
	Fetcher   FetcherConfig     `mapstructure:"fetcher"`
	Processor ProcessorConfig   `mapstructure:"processor"`
	Storage   StorageConfig     `mapstructure:"storage"`
	Snapshots SnapshotConfig    `mapstructure:"snapshots"`
	PubSub    PubSubConfig      `mapstructure:"pubsub"`
	Secrets   SecretsConfig     `mapstructure:"secrets"`
	Logging   LoggingConfig     `mapstructure:"logging"`
	Settings  map[string]string `mapstructure:"settings"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Host                  string `mapstructure:"host"`
	Port                  int    `mapstructure:"port" validate:"gt=0,lte=65535"`
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds" validate:"gt=0"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key" validate:"required_if=Enabled true"`
}

// SchedulerConfig governs the polling loop and its worker pool.
type SchedulerConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	IntervalSeconds int    `mapstructure:"interval_seconds" validate:"gt=0"`
	Workers         int    `mapstructure:"workers" validate:"gt=0"`
	QueueDepth      int    `mapstructure:"queue_depth" validate:"gt=0"`
	Timezone        string `mapstructure:"timezone"`
}

// FetcherConfig selects and tunes the page fetcher.
type FetcherConfig struct {
	Mode                   string  `mapstructure:"mode" validate:"oneof=headless static auto"`
	UserAgent              string  `mapstructure:"user_agent"`
	PageLoadTimeoutSeconds int     `mapstructure:"page_load_timeout_seconds" validate:"gt=0"`
	MaxParallel            int     `mapstructure:"max_parallel" validate:"gt=0"`
	ExecPath               string  `mapstructure:"exec_path"`
	RespectRobots          bool    `mapstructure:"respect_robots"`
	RateLimitRPS           float64 `mapstructure:"rate_limit_rps" validate:"gte=0"`
	RateLimitBurst         int     `mapstructure:"rate_limit_burst" validate:"gte=0"`
	PromotionThreshold     int     `mapstructure:"promotion_threshold" validate:"gte=0"`
}

// ProcessorConfig controls change detection.
type ProcessorConfig struct {
	NotifyOnFirstFetch bool   `mapstructure:"notify_on_first_fetch"`
	HashAlgorithm      string `mapstructure:"hash_algorithm" validate:"oneof=md5 sha256"`
	Topic              string `mapstructure:"topic"`
}

// StorageConfig selects the datastore backend.
type StorageConfig struct {
	Backend                string `mapstructure:"backend" validate:"oneof=jsonfile sqlite memory"`
	DataDir                string `mapstructure:"data_dir" validate:"required_if=Backend jsonfile"`
	SQLitePath             string `mapstructure:"sqlite_path" validate:"required_if=Backend sqlite"`
	PersistIntervalSeconds int    `mapstructure:"persist_interval_seconds" validate:"gte=0"`
}

// SnapshotConfig controls optional storage of changed page bodies.
type SnapshotConfig struct {
	Provider  string `mapstructure:"provider" validate:"oneof=none memory local gcs"`
	BaseDir   string `mapstructure:"base_dir" validate:"required_if=Provider local"`
	GCSBucket string `mapstructure:"gcs_bucket" validate:"required_if=Provider gcs"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for change-event publishing. An empty project disables it.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name" validate:"required_with=ProjectID"`
}

// SecretsConfig selects where transport credentials live.
type SecretsConfig struct {
	Backend string `mapstructure:"backend" validate:"oneof=keyring memory"`
}

// LoggingConfig toggles zap development features and optional file rotation.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	File        string `mapstructure:"file"`
	MaxSizeMB   int    `mapstructure:"max_size_mb" validate:"gte=0"`
	MaxBackups  int    `mapstructure:"max_backups" validate:"gte=0"`
	MaxAgeDays  int    `mapstructure:"max_age_days" validate:"gte=0"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("NETWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 9494)
	v.SetDefault("server.request_timeout_seconds", 120)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval_seconds", 60)
	v.SetDefault("scheduler.workers", 3)
	v.SetDefault("scheduler.queue_depth", 16)
	v.SetDefault("scheduler.timezone", "Local")
	v.SetDefault("fetcher.mode", "headless")
	v.SetDefault("fetcher.user_agent", "netwatch/0.1")
	v.SetDefault("fetcher.page_load_timeout_seconds", 30)
	v.SetDefault("fetcher.max_parallel", 1)
	v.SetDefault("fetcher.respect_robots", false)
	v.SetDefault("fetcher.rate_limit_rps", 0)
	v.SetDefault("fetcher.rate_limit_burst", 1)
	v.SetDefault("fetcher.promotion_threshold", 2048)
	v.SetDefault("processor.notify_on_first_fetch", true)
	v.SetDefault("processor.hash_algorithm", "md5")
	v.SetDefault("storage.backend", "jsonfile")
	v.SetDefault("storage.data_dir", "data")
	v.SetDefault("storage.sqlite_path", "data/netwatch.db")
	v.SetDefault("storage.persist_interval_seconds", 60)
	v.SetDefault("snapshots.provider", "none")
	v.SetDefault("snapshots.prefix", "snapshots")
	v.SetDefault("secrets.backend", "keyring")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 28)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return fmt.Errorf("invalid config: %s failed %q check", fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := c.Scheduler.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves the scheduler timezone. Empty means the host's local zone.
func (c SchedulerConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid config: scheduler.timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Interval returns the scheduler polling period.
func (c SchedulerConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// PageLoadTimeout returns the fetcher's per-page budget.
func (c FetcherConfig) PageLoadTimeout() time.Duration {
	return time.Duration(c.PageLoadTimeoutSeconds) * time.Second
}

// RequestTimeout returns the per-request HTTP budget.
func (c ServerConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// PersistInterval returns how often state is flushed to the backend; zero disables
// periodic flushes.
func (c StorageConfig) PersistInterval() time.Duration {
	return time.Duration(c.PersistIntervalSeconds) * time.Second
}
