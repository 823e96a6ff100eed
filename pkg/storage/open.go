package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jdziat/simple-lease-jobs/pkg/core"
	"github.com/jdziat/simple-lease-jobs/pkg/retry"
)

// Supported drivers.
const (
	DriverRedis    = "redis"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Backend is a store that serves both the job contract and the key-value surface.
type Backend interface {
	core.Storage
	core.KeyValue
}

// Config selects and configures a store.
type Config struct {
	Driver         string
	Address        string // redis URL, sqlite file or DSN, postgres DSN
	RetryAttempts  int
	RetryInterval  time.Duration
	ConnectTimeout time.Duration
	KeyPrefix      string // redis only
	Pool           []PoolOption
}

// Open connects to the configured store and prepares its schema.
func Open(ctx context.Context, cfg Config) (Backend, error) {
	if cfg.Address == "" {
		return nil, ErrEmptyAddress
	}

	switch strings.ToLower(cfg.Driver) {
	case "", DriverRedis:
		client, err := ConnectRedis(ctx, RedisConfig{
			ConnectionURL:  cfg.Address,
			RetryAttempts:  cfg.RetryAttempts,
			RetryInterval:  cfg.RetryInterval,
			ConnectTimeout: cfg.ConnectTimeout,
		})
		if err != nil {
			return nil, core.Unavailable(err)
		}
		return NewRedisStorage(client, KeyPrefix(cfg.KeyPrefix)), nil

	case DriverSQLite:
		return openGorm(ctx, sqlite.Open(cfg.Address), cfg)

	case DriverPostgres:
		return openGorm(ctx, postgres.Open(cfg.Address), cfg)
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
}

func openGorm(ctx context.Context, dialector gorm.Dialector, cfg Config) (Backend, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, core.Unavailable(err)
	}

	s, err := NewGormStorageWithPool(db, cfg.Pool)
	if err != nil {
		return nil, core.Unavailable(err)
	}

	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}
	if err := retry.Do(ctx, retry.Fixed(cfg.RetryAttempts, cfg.RetryInterval), func() error {
		return s.Ping(ctx)
	}); err != nil {
		_ = s.Close()
		return nil, err
	}

	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}
