package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/simple-lease-jobs/pkg/core"
)

func TestOpen_SQLiteFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "jobs.db")

	s, err := Open(ctx, Config{Driver: DriverSQLite, Address: path, RetryAttempts: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	job := &core.Job{HandlerKey: "echo", Args: []byte(`[1]`)}
	require.NoError(t, s.Enqueue(ctx, job))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusQueued, got.Status)

	gs, ok := s.(*GormStorage)
	require.True(t, ok)
	assert.True(t, gs.IsSQLite())
	assert.True(t, gs.DB().Config.TranslateError)
}

func TestOpen_SQLiteReopenKeepsJobs(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "jobs.db")

	s, err := Open(ctx, Config{Driver: "SQLite", Address: path})
	require.NoError(t, err)
	job := &core.Job{HandlerKey: "echo"}
	require.NoError(t, s.Enqueue(ctx, job))
	require.NoError(t, s.Close())

	s, err = Open(ctx, Config{Driver: DriverSQLite, Address: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	n, err := s.QueueLength(ctx, core.DefaultQueue)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestOpen_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := Open(ctx, Config{Driver: DriverSQLite})
	assert.ErrorIs(t, err, ErrEmptyAddress)

	_, err = Open(ctx, Config{Driver: "mongo", Address: "mongodb://localhost"})
	assert.ErrorIs(t, err, ErrUnknownDriver)
}

func TestOpen_RedisUnreachable(t *testing.T) {
	_, err := Open(context.Background(), Config{
		Driver:         DriverRedis,
		Address:        "redis://127.0.0.1:1/0",
		RetryAttempts:  2,
		RetryInterval:  10 * time.Millisecond,
		ConnectTimeout: time.Second,
	})
	assert.ErrorIs(t, err, core.ErrStoreUnavailable)
	assert.ErrorIs(t, err, ErrRedisNotReady)
}

func TestConnectRedis_BadURL(t *testing.T) {
	_, err := ConnectRedis(context.Background(), RedisConfig{ConnectionURL: "http://nope"})
	assert.ErrorIs(t, err, ErrInvalidRedisURL)

	_, err = ConnectRedis(context.Background(), RedisConfig{})
	assert.ErrorIs(t, err, ErrEmptyAddress)
}

func TestOpen_Redis(t *testing.T) {
	url := testRedisURL(t)

	s, err := Open(context.Background(), Config{Driver: DriverRedis, Address: url, RetryAttempts: 1, KeyPrefix: "jobs-open-test:"})
	require.NoError(t, err)
	defer s.Close()

	assert.NoError(t, s.Ping(context.Background()))
	_, ok := s.(*RedisStorage)
	assert.True(t, ok)
}
