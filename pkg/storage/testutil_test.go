package storage

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// openTestDB opens a database for tests.
// When TEST_DATABASE_URL is set it connects to PostgreSQL; otherwise it
// opens a fresh shared-cache in-memory SQLite database on one connection.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn != "" {
		db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		require.NoError(t, err, "open postgres test db")

		sqlDB, err := db.DB()
		require.NoError(t, err, "get underlying sql.DB")
		sqlDB.SetMaxOpenConns(4)
		sqlDB.SetMaxIdleConns(1)

		// Clean before AND after to ensure test isolation.
		cleanupPostgresDB(db)
		t.Cleanup(func() {
			cleanupPostgresDB(db)
			_ = sqlDB.Close()
		})
		return db
	}

	name := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	db, err := gorm.Open(sqlite.Open(name), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err, "open in-memory sqlite")
	require.NoError(t, ConfigurePool(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// cleanupPostgresDB deletes all rows so tests are isolated without a fresh database per test.
func cleanupPostgresDB(db *gorm.DB) {
	for _, tbl := range []string{"kv_entries", "jobs"} {
		db.Exec("DELETE FROM " + tbl)
	}
}

// newTestStorage creates a migrated GORM storage with a short poll interval.
func newTestStorage(t *testing.T) *GormStorage {
	t.Helper()
	s := NewGormStorage(openTestDB(t), PollInterval(10*time.Millisecond))
	require.NoError(t, s.Migrate(context.Background()), "migrate schema")
	return s
}

// newRedisTestStorage connects to a test Redis under a per-test key prefix
// and removes the test's keys afterwards.
func newRedisTestStorage(t *testing.T) *RedisStorage {
	t.Helper()
	url := testRedisURL(t)

	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	require.NoError(t, client.Ping(context.Background()).Err(), "ping redis")

	prefix := "jobs-test:" + uuid.New().String() + ":"
	t.Cleanup(func() {
		ctx := context.Background()
		iter := client.Scan(ctx, 0, prefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
		_ = client.Close()
	})

	return NewRedisStorage(client, KeyPrefix(prefix), RedisPollInterval(10*time.Millisecond))
}

// testRedisURL returns TEST_REDIS_URL when set. Otherwise it starts an
// in-process miniredis for the duration of t.
func testRedisURL(t *testing.T) string {
	t.Helper()
	if url := os.Getenv("TEST_REDIS_URL"); url != "" {
		return url
	}
	mr := miniredis.RunT(t)
	return "redis://" + mr.Addr()
}
