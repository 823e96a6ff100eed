package storage

import (
	"database/sql"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Pool sizes the database/sql pool under a GormStorage.
type Pool struct {
	MaxOpen     int
	MaxIdle     int
	MaxLifetime time.Duration // zero keeps connections forever
	MaxIdleTime time.Duration
}

// DefaultPool is the postgres starting point: 25 open, 10 idle.
func DefaultPool() Pool {
	return Pool{
		MaxOpen:     25,
		MaxIdle:     10,
		MaxLifetime: 5 * time.Minute,
		MaxIdleTime: time.Minute,
	}
}

// SQLitePool pins SQLite to one connection. SQLite serializes writers, and a
// shared in-memory database disappears when its last connection closes.
func SQLitePool() Pool {
	return Pool{MaxOpen: 1, MaxIdle: 1}
}

// PoolOption adjusts a Pool before ConfigurePool applies it.
type PoolOption func(*Pool)

// WithPool replaces the whole pool.
func WithPool(p Pool) PoolOption {
	return func(dst *Pool) { *dst = p }
}

// MaxOpenConns sets the open connection limit.
func MaxOpenConns(n int) PoolOption {
	return func(p *Pool) { p.MaxOpen = n }
}

// MaxIdleConns sets the idle connection limit.
func MaxIdleConns(n int) PoolOption {
	return func(p *Pool) { p.MaxIdle = n }
}

// ConnMaxLifetime caps how long one connection is reused.
func ConnMaxLifetime(d time.Duration) PoolOption {
	return func(p *Pool) { p.MaxLifetime = d }
}

// ConnMaxIdleTime caps how long a connection sits idle.
func ConnMaxIdleTime(d time.Duration) PoolOption {
	return func(p *Pool) { p.MaxIdleTime = d }
}

// ForWorkers grows the pool so that concurrency slots, each with a lease call
// and a heartbeat in flight, plus the reaper and scheduler never queue for a
// connection. A single-connection pool is left alone.
func ForWorkers(concurrency int) PoolOption {
	return func(p *Pool) {
		if p.MaxOpen == 1 {
			return
		}
		if n := 2*concurrency + 2; n > p.MaxOpen {
			p.MaxOpen = n
			p.MaxIdle = max(p.MaxIdle, concurrency+1)
		}
	}
}

// ConfigurePool applies opts on top of SQLitePool or DefaultPool, depending
// on db's dialect, and sets the result on db's connection pool.
func ConfigurePool(db *gorm.DB, opts ...PoolOption) error {
	p := DefaultPool()
	if db.Dialector != nil && db.Dialector.Name() == "sqlite" {
		p = SQLitePool()
	}
	for _, opt := range opts {
		opt(&p)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("storage: underlying *sql.DB: %w", err)
	}
	p.apply(sqlDB)
	return nil
}

func (p Pool) apply(db *sql.DB) {
	db.SetMaxOpenConns(p.MaxOpen)
	db.SetMaxIdleConns(p.MaxIdle)
	db.SetConnMaxLifetime(p.MaxLifetime)
	db.SetConnMaxIdleTime(p.MaxIdleTime)
}

// NewGormStorageWithPool configures db's pool and wraps it in a GormStorage.
//
//	s, err := NewGormStorageWithPool(db, []PoolOption{ForWorkers(32)})
func NewGormStorageWithPool(db *gorm.DB, poolOpts []PoolOption, opts ...GormOption) (*GormStorage, error) {
	if err := ConfigurePool(db, poolOpts...); err != nil {
		return nil, err
	}
	return NewGormStorage(db, opts...), nil
}
