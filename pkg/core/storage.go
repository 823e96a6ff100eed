package core

import (
	"context"
	"time"
)

// Starter is the interface for starting workers.
type Starter interface {
	Start(ctx context.Context) error
}

// Storage defines the store contract for jobs.
//
// Every state change is atomic at the store's granularity: a Lua script for
// Redis, a single transaction with a conditional UPDATE for SQL. Transport
// failures are reported wrapped in ErrStoreUnavailable.
type Storage interface {
	// Migrate prepares the backing store (tables, indexes). No-op for Redis.
	Migrate(ctx context.Context) error

	// Enqueue persists a queued job and appends it to the tail of its queue.
	// The record write and the queue append commit together or not at all.
	Enqueue(ctx context.Context, job *Job) error

	// Lease pops the head of the first non-empty queue in queues (list order is
	// priority order) and leases it to owner for leaseFor. With wait == 0 it
	// returns (nil, nil) right away when nothing is queued; with wait > 0 it
	// blocks up to wait for a job to arrive.
	Lease(ctx context.Context, queues []string, owner string, leaseFor, wait time.Duration) (*Job, error)

	// ExtendLease pushes the lease expiry to now+leaseFor. Returns ErrLeaseExpired
	// if owner does not hold a live lease.
	ExtendLease(ctx context.Context, jobID, owner string, leaseFor time.Duration) (time.Time, error)

	// Start moves a leased job to running.
	Start(ctx context.Context, jobID, owner string) error

	// Complete and Fail are the terminal transitions. Both return
	// ErrInvalidTransition unless owner holds the job in leased or running status.
	Complete(ctx context.Context, jobID, owner string, result []byte) error
	Fail(ctx context.Context, jobID, owner string, errMsg string) error

	// RequeueExpired moves up to limit jobs whose lease expired at or before now
	// back to the tail of their queue and returns their ids.
	RequeueExpired(ctx context.Context, now time.Time, limit int) ([]string, error)

	// Queries
	GetJob(ctx context.Context, jobID string) (*Job, error)
	GetJobsByStatus(ctx context.Context, status JobStatus, limit int) ([]*Job, error)
	QueueLength(ctx context.Context, queue string) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// KeyValue is the plain key-value surface of a store, used by smoke tests
// and small bits of shared state.
type KeyValue interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
}
