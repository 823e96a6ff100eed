package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/jdziat/simple-lease-jobs/pkg/logger"
	"github.com/jdziat/simple-lease-jobs/pkg/retry"
	"github.com/jdziat/simple-lease-jobs/pkg/security"
	"github.com/jdziat/simple-lease-jobs/pkg/storage"
)

var (
	ErrParsingConfig = errors.New("config: failed to parse environment variables")
	ErrInvalidConfig = errors.New("config: invalid configuration")
)

// Config holds every setting the CLI reads from the environment.
type Config struct {
	StoreDriver         string        `env:"STORE_DRIVER" envDefault:"redis"`
	StoreAddress        string        `env:"STORE_ADDRESS" envDefault:"redis://localhost:6379/0"`
	StoreRetryAttempts  int           `env:"STORE_RETRY_ATTEMPTS" envDefault:"3"`
	StoreRetryInterval  time.Duration `env:"STORE_RETRY_INTERVAL" envDefault:"2s"`
	StoreConnectTimeout time.Duration `env:"STORE_CONNECT_TIMEOUT" envDefault:"30s"`
	StoreKeyPrefix      string        `env:"STORE_KEY_PREFIX" envDefault:"jobs:"`

	QueueNames           []string      `env:"QUEUE_NAMES" envSeparator:"," envDefault:"default"`
	LeaseDurationSeconds int           `env:"LEASE_DURATION_SECONDS" envDefault:"30"`
	LeaseWait            time.Duration `env:"LEASE_WAIT" envDefault:"1s"`
	Concurrency          int           `env:"CONCURRENCY" envDefault:"1"`
	ReaperInterval       time.Duration `env:"REAPER_INTERVAL" envDefault:"5s"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	SenderEmail          string `env:"SENDER_EMAIL" envDefault:"noreply@example.com"`
	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`
	PDFOutputDir         string `env:"PDF_OUTPUT_DIR" envDefault:"."`
}

// Load reads .env files (default: .env) into the process environment, then
// parses and validates Config. Missing .env files are not an error.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load env file: %w", err)
	}
	return parse(env.Options{})
}

// Parse builds a Config from environ instead of the process environment.
func Parse(environ map[string]string) (*Config, error) {
	return parse(env.Options{Environment: environ})
}

func parse(opts env.Options) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, errors.Join(ErrParsingConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that parse but make no sense.
func (c *Config) Validate() error {
	if err := security.ValidateQueueNames(c.QueueNames); err != nil {
		return fmt.Errorf("%w: QUEUE_NAMES: %w", ErrInvalidConfig, err)
	}
	if c.LeaseDurationSeconds <= 0 {
		return fmt.Errorf("%w: LEASE_DURATION_SECONDS must be positive, got %d", ErrInvalidConfig, c.LeaseDurationSeconds)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("%w: CONCURRENCY must be at least 1, got %d", ErrInvalidConfig, c.Concurrency)
	}
	if c.LeaseWait < 0 {
		return fmt.Errorf("%w: LEASE_WAIT must not be negative", ErrInvalidConfig)
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: LOG_LEVEL: %w", ErrInvalidConfig, err)
	}
	if _, err := logger.ParseFormat(c.LogFormat); err != nil {
		return fmt.Errorf("%w: LOG_FORMAT: %w", ErrInvalidConfig, err)
	}
	return nil
}

// LeaseDuration returns LEASE_DURATION_SECONDS as a duration.
func (c *Config) LeaseDuration() time.Duration {
	return time.Duration(c.LeaseDurationSeconds) * time.Second
}

// Store returns the settings for storage.Open.
func (c *Config) Store() storage.Config {
	return storage.Config{
		Driver:         c.StoreDriver,
		Address:        c.StoreAddress,
		RetryAttempts:  c.StoreRetryAttempts,
		RetryInterval:  c.StoreRetryInterval,
		ConnectTimeout: c.StoreConnectTimeout,
		KeyPrefix:      c.StoreKeyPrefix,
		Pool:           []storage.PoolOption{storage.ForWorkers(c.Concurrency)},
	}
}

// Retry returns the backoff used for queue operations. STORE_RETRY_ATTEMPTS
// caps the attempts; the backoff curve is retry.DefaultConfig's.
func (c *Config) Retry() retry.Config {
	cfg := retry.DefaultConfig()
	if c.StoreRetryAttempts > 0 {
		cfg.MaxAttempts = c.StoreRetryAttempts
	}
	return cfg
}

// Logger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func (c *Config) Logger(opts ...logger.Option) *slog.Logger {
	level, _ := logger.ParseLevel(c.LogLevel)
	format, _ := logger.ParseFormat(c.LogFormat)
	return logger.New(append([]logger.Option{logger.WithLevel(level), logger.WithFormat(format)}, opts...)...)
}
