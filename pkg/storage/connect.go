package storage

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrInvalidRedisURL = errors.New("jobs: failed to parse redis connection string")
	ErrRedisNotReady   = errors.New("jobs: redis did not become ready within the given time period")
	ErrEmptyAddress    = errors.New("jobs: empty store address")
	ErrUnknownDriver   = errors.New("jobs: unknown store driver")
)

// RedisConfig holds connection settings for ConnectRedis.
type RedisConfig struct {
	ConnectionURL  string        // redis://:password@localhost:6379/0
	RetryAttempts  int           // ping attempts before giving up
	RetryInterval  time.Duration // pause between attempts
	ConnectTimeout time.Duration // bound on the whole connect phase
}

// ConnectRedis dials Redis and pings it until it answers, up to
// RetryAttempts times within ConnectTimeout.
func ConnectRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	if cfg.ConnectionURL == "" {
		return nil, ErrEmptyAddress
	}
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	opts, err := redis.ParseURL(cfg.ConnectionURL)
	if err != nil {
		return nil, errors.Join(ErrInvalidRedisURL, err)
	}

	attempts := max(cfg.RetryAttempts, 1)
	var lastErr error
	for range attempts {
		client := redis.NewClient(opts)
		if lastErr = client.Ping(ctx).Err(); lastErr == nil {
			return client, nil
		}
		_ = client.Close()

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrRedisNotReady, ctx.Err())
		case <-time.After(cfg.RetryInterval):
		}
	}

	return nil, errors.Join(ErrRedisNotReady, lastErr)
}

// Healthcheck returns a probe that pings the store.
func Healthcheck(s interface{ Ping(context.Context) error }) func(context.Context) error {
	return func(ctx context.Context) error {
		return s.Ping(ctx)
	}
}
