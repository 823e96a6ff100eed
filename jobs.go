// Package jobs provides an at-least-once job queue built on leases.
//
// This is the main package users should import. It re-exports all public
// types from the internal pkg/ packages for a clean API surface.
//
// Basic usage:
//
//	// Open a store (redis, sqlite or postgres) and create a queue
//	store, _ := jobs.Open(ctx, jobs.StoreConfig{Driver: "redis", Address: "redis://localhost:6379/0"})
//	queue := jobs.New(store)
//
//	// Register handler
//	queue.MustRegister("send-email", func(ctx context.Context, to string) error {
//	    return sendEmail(to)
//	})
//
//	// Enqueue job
//	queue.Enqueue(ctx, "send-email", []any{"user@example.com"}, nil)
//
//	// Start worker
//	worker := queue.NewWorker(jobs.Concurrency(4))
//	worker.Start(ctx)
package jobs

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/jdziat/simple-lease-jobs/pkg/core"
	"github.com/jdziat/simple-lease-jobs/pkg/jobctx"
	"github.com/jdziat/simple-lease-jobs/pkg/queue"
	"github.com/jdziat/simple-lease-jobs/pkg/reaper"
	"github.com/jdziat/simple-lease-jobs/pkg/schedule"
	"github.com/jdziat/simple-lease-jobs/pkg/security"
	"github.com/jdziat/simple-lease-jobs/pkg/storage"
	"github.com/jdziat/simple-lease-jobs/pkg/worker"
)

func init() {
	// Register the worker factory to enable queue.NewWorker()
	queue.WorkerFactory = func(q *queue.Queue, opts ...any) core.Starter {
		workerOpts := make([]worker.WorkerOption, 0, len(opts))
		for _, opt := range opts {
			if wo, ok := opt.(worker.WorkerOption); ok {
				workerOpts = append(workerOpts, wo)
			}
		}
		return worker.NewWorker(q, workerOpts...)
	}
}

// Type aliases
type (
	// Job represents a unit of work to be processed.
	Job = core.Job

	// JobStatus represents the current state of a job.
	JobStatus = core.JobStatus

	// Kwargs is the keyword-argument object handed to handlers that declare it.
	Kwargs = core.Kwargs

	// Storage defines the store contract for jobs.
	Storage = core.Storage

	// KeyValue is the plain key-value surface of a store.
	KeyValue = core.KeyValue

	// Event is the interface for all queue events.
	Event = core.Event

	// JobEnqueued is emitted after a job is persisted.
	JobEnqueued = core.JobEnqueued

	// JobStarted is emitted when a job starts processing.
	JobStarted = core.JobStarted

	// JobCompleted is emitted when a job completes successfully.
	JobCompleted = core.JobCompleted

	// JobFailed is emitted when a job is marked failed.
	JobFailed = core.JobFailed

	// JobRequeued is emitted when an expired lease is requeued.
	JobRequeued = core.JobRequeued

	// LeaseLost is emitted when a worker loses a job it was running.
	LeaseLost = core.LeaseLost

	// Queue manages handler registration, enqueueing and leasing.
	Queue = queue.Queue

	// Option modifies Options.
	Option = queue.Option

	// Options holds configuration for job enqueueing.
	Options = queue.Options

	// ScheduledJob holds configuration for a recurring job.
	ScheduledJob = queue.ScheduledJob

	// Worker processes jobs from the queue.
	Worker = worker.Worker

	// WorkerOption configures a Worker.
	WorkerOption = worker.WorkerOption

	// WorkerConfig holds worker configuration.
	WorkerConfig = worker.WorkerConfig

	// SlotState is the lifecycle state of one worker slot.
	SlotState = worker.SlotState

	// Reaper requeues jobs whose lease expired.
	Reaper = reaper.Reaper

	// Schedule defines when a job should run next.
	Schedule = schedule.Schedule

	// Backend is a store serving both Storage and KeyValue.
	Backend = storage.Backend

	// StoreConfig selects and configures a store for Open.
	StoreConfig = storage.Config

	// GormStorage implements Storage using GORM.
	GormStorage = storage.GormStorage

	// RedisStorage implements Storage using Redis.
	RedisStorage = storage.RedisStorage
)

// Status constants
const (
	StatusQueued    = core.StatusQueued
	StatusLeased    = core.StatusLeased
	StatusRunning   = core.StatusRunning
	StatusSucceeded = core.StatusSucceeded
	StatusFailed    = core.StatusFailed
)

// Security limits
const (
	MaxHandlerKeyLength   = security.MaxHandlerKeyLength
	MaxQueueNameLength    = security.MaxQueueNameLength
	MaxJobArgsSize        = security.MaxJobArgsSize
	MaxConcurrency        = security.MaxConcurrency
	MaxErrorMessageLength = security.MaxErrorMessageLength
)

// DefaultQueue is used when no queue name is given.
const DefaultQueue = queue.DefaultQueue

// Error variables
var (
	ErrStoreUnavailable  = core.ErrStoreUnavailable
	ErrInvalidTransition = core.ErrInvalidTransition
	ErrLeaseExpired      = core.ErrLeaseExpired
	ErrJobNotFound       = core.ErrJobNotFound
	ErrDuplicateJob      = core.ErrDuplicateJob
	ErrKeyNotFound       = core.ErrKeyNotFound
	ErrUnknownHandler    = core.ErrUnknownHandler
	ErrDuplicateHandler  = core.ErrDuplicateHandler
	ErrRegistryFrozen    = core.ErrRegistryFrozen
	ErrInvalidHandlerKey = core.ErrInvalidHandlerKey
	ErrInvalidQueueName  = core.ErrInvalidQueueName
	ErrJobArgsTooLarge   = core.ErrJobArgsTooLarge
	ErrNoQueues          = core.ErrNoQueues
)

// New creates a new Queue with the given storage backend.
func New(s Storage) *Queue {
	return queue.New(s)
}

// Open connects to the configured store and prepares its schema.
func Open(ctx context.Context, cfg StoreConfig) (Backend, error) {
	return storage.Open(ctx, cfg)
}

// NewGormStorage creates a new GORM-backed storage.
func NewGormStorage(db *gorm.DB, opts ...storage.GormOption) *GormStorage {
	return storage.NewGormStorage(db, opts...)
}

// NewRedisStorage creates a new Redis-backed storage.
func NewRedisStorage(client redis.UniversalClient, opts ...storage.RedisOption) *RedisStorage {
	return storage.NewRedisStorage(client, opts...)
}

// NewOptions creates Options with defaults.
func NewOptions() *Options {
	return queue.NewOptions()
}

// NewWorker creates a new worker for the given queue.
func NewWorker(q *Queue, opts ...WorkerOption) *Worker {
	return worker.NewWorker(q, opts...)
}

// NewReaper creates a reaper for the given queue.
func NewReaper(q *Queue, opts ...reaper.Option) *Reaper {
	return reaper.New(q, opts...)
}

// ValidateHandlerKey validates a handler key.
func ValidateHandlerKey(key string) error {
	return security.ValidateHandlerKey(key)
}

// ValidateQueueName validates a queue name.
func ValidateQueueName(name string) error {
	return security.ValidateQueueName(name)
}

// SanitizeErrorMessage truncates and sanitizes error messages for storage.
func SanitizeErrorMessage(msg string) string {
	return security.SanitizeErrorMessage(msg)
}

// Job option functions

// QueueOpt sets the queue name.
func QueueOpt(name string) Option {
	return queue.QueueOpt(name)
}

// JobID sets an explicit job id.
func JobID(id string) Option {
	return queue.JobID(id)
}

// Worker option functions

// Concurrency sets the number of job slots.
func Concurrency(n int) WorkerOption {
	return worker.Concurrency(n)
}

// WorkerQueue adds a queue to lease from.
func WorkerQueue(name string) WorkerOption {
	return worker.WorkerQueue(name)
}

// Queues replaces the worker's queue list.
func Queues(names ...string) WorkerOption {
	return worker.Queues(names...)
}

// LeaseWait sets how long one lease call may block for a job.
func LeaseWait(d time.Duration) WorkerOption {
	return worker.LeaseWait(d)
}

// LeaseDuration sets the worker's lease length.
func LeaseDuration(d time.Duration) WorkerOption {
	return worker.LeaseDuration(d)
}

// WithScheduler enables the scheduler in the worker.
func WithScheduler(enabled bool) WorkerOption {
	return worker.WithScheduler(enabled)
}

// WithReaper enables or disables the worker's embedded reaper.
func WithReaper(enabled bool) WorkerOption {
	return worker.WithReaper(enabled)
}

// ReaperInterval sets how often the embedded reaper runs.
func ReaperInterval(d time.Duration) WorkerOption {
	return worker.ReaperInterval(d)
}

// Schedule functions

// Every creates a schedule that runs at fixed intervals.
func Every(d time.Duration) Schedule {
	return schedule.Every(d)
}

// Daily creates a schedule that runs at a specific time each day.
func Daily(hour, minute int) Schedule {
	return schedule.Daily(hour, minute)
}

// DailyIn is Daily evaluated in loc.
func DailyIn(hour, minute int, loc *time.Location) Schedule {
	return schedule.DailyIn(hour, minute, loc)
}

// Weekly creates a schedule that runs at a specific day and time each week.
func Weekly(day time.Weekday, hour, minute int) Schedule {
	return schedule.Weekly(day, hour, minute)
}

// Cron creates a schedule from a cron expression.
func Cron(expr string) (Schedule, error) {
	return schedule.Cron(expr)
}

// MustCron is Cron that panics on a bad expression.
func MustCron(expr string) Schedule {
	return schedule.MustCron(expr)
}

// JobFromContext returns the current Job from context, or nil if not in a job handler.
// Use this to get the job ID for logging or progress tracking.
func JobFromContext(ctx context.Context) *Job {
	return jobctx.JobFromContext(ctx)
}

// JobIDFromContext returns the current job ID from context, or empty string if not in a job handler.
func JobIDFromContext(ctx context.Context) string {
	return jobctx.JobIDFromContext(ctx)
}

// WorkerIDFromContext returns the id of the worker running the current job.
func WorkerIDFromContext(ctx context.Context) string {
	return jobctx.WorkerIDFromContext(ctx)
}

// ExtendLease pushes the current job's lease to now+d from inside a handler.
func ExtendLease(ctx context.Context, d time.Duration) (time.Time, error) {
	return jobctx.ExtendLease(ctx, d)
}
