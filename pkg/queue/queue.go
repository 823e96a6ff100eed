package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jdziat/simple-lease-jobs/pkg/core"
	"github.com/jdziat/simple-lease-jobs/pkg/registry"
	"github.com/jdziat/simple-lease-jobs/pkg/retry"
	"github.com/jdziat/simple-lease-jobs/pkg/schedule"
	"github.com/jdziat/simple-lease-jobs/pkg/security"
)

// Queue ties a store to a handler registry. Producers call Enqueue; workers
// lease, run and report through the same value.
type Queue struct {
	storage       core.Storage
	registry      *registry.Registry
	retryConfig   retry.Config
	logger        *slog.Logger
	scheduledJobs map[string]*ScheduledJob
	mu            sync.RWMutex

	// Hooks
	onStart    []func(context.Context, *core.Job)
	onComplete []func(context.Context, *core.Job)
	onFail     []func(context.Context, *core.Job, error)
	onRequeue  []func(context.Context, string)

	// Event stream
	eventSubs []chan core.Event
}

// ScheduledJob holds configuration for a recurring job.
type ScheduledJob struct {
	Name       string
	HandlerKey string
	Schedule   schedule.Schedule
	Args       []any
	Kwargs     map[string]any
	Options    *Options
}

// New creates a new Queue with the given storage backend.
func New(s core.Storage) *Queue {
	return &Queue{
		storage:     s,
		registry:    registry.New(),
		retryConfig: retry.DefaultConfig(),
		logger:      slog.Default(),
	}
}

// SetRetryConfig sets the backoff used for store calls made by Enqueue.
func (q *Queue) SetRetryConfig(cfg retry.Config) {
	q.mu.Lock()
	q.retryConfig = cfg
	q.mu.Unlock()
}

// RetryConfig returns the store retry configuration.
func (q *Queue) RetryConfig() retry.Config {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.retryConfig
}

// SetLogger sets the logger. A nil logger restores slog.Default().
func (q *Queue) SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.Default()
	}
	q.mu.Lock()
	q.logger = l
	q.mu.Unlock()
}

// Logger returns the queue logger.
func (q *Queue) Logger() *slog.Logger {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.logger
}

// Register binds a handler function to key.
// See package handler for the accepted signatures.
func (q *Queue) Register(key string, fn any) error {
	return q.registry.Register(key, fn)
}

// MustRegister is like Register but panics on error.
func (q *Queue) MustRegister(key string, fn any) {
	if err := q.Register(key, fn); err != nil {
		panic(fmt.Sprintf("jobs: register %q: %v", key, err))
	}
}

// HasHandler checks if a handler is registered.
func (q *Queue) HasHandler(key string) bool {
	return q.registry.Has(key)
}

// Registry returns the handler registry.
func (q *Queue) Registry() *registry.Registry {
	return q.registry
}

// Storage returns the underlying storage.
func (q *Queue) Storage() core.Storage {
	return q.storage
}

// Enqueue persists a queued job and returns its id. It never waits for the
// job to run. The handler does not need to be registered in this process;
// workers resolve it when they lease the job.
func (q *Queue) Enqueue(ctx context.Context, handlerKey string, args []any, kwargs map[string]any, opts ...Option) (string, error) {
	if err := security.ValidateHandlerKey(handlerKey); err != nil {
		return "", fmt.Errorf("%w: %q", err, handlerKey)
	}

	options := NewOptions()
	for _, opt := range opts {
		opt.Apply(options)
	}

	if err := security.ValidateQueueName(options.Queue); err != nil {
		return "", fmt.Errorf("%w: %q", err, options.Queue)
	}

	argsBytes, err := core.EncodeArgs(args)
	if err != nil {
		return "", fmt.Errorf("jobs: failed to marshal args: %w", err)
	}
	kwargsBytes, err := core.EncodeKwargs(kwargs)
	if err != nil {
		return "", fmt.Errorf("jobs: failed to marshal kwargs: %w", err)
	}
	if err := security.ValidateArgsSize(argsBytes, kwargsBytes); err != nil {
		return "", err
	}

	id := options.JobID
	if id == "" {
		id = uuid.New().String()
	}

	job := &core.Job{
		ID:         id,
		Queue:      options.Queue,
		HandlerKey: handlerKey,
		Args:       argsBytes,
		Kwargs:     kwargsBytes,
		Status:     core.StatusQueued,
		EnqueuedAt: time.Now().UTC(),
	}

	attempt := 0
	err = retry.Do(ctx, q.RetryConfig(), func() error {
		attempt++
		err := q.storage.Enqueue(ctx, job)
		// A retried write that reports a duplicate means an earlier attempt
		// committed before its reply was lost.
		if attempt > 1 && errors.Is(err, core.ErrDuplicateJob) {
			return nil
		}
		return err
	})
	if err != nil {
		if errors.Is(err, core.ErrDuplicateJob) {
			return "", err
		}
		return "", fmt.Errorf("jobs: failed to enqueue: %w", err)
	}

	q.Logger().Debug("job enqueued", "job_id", job.ID, "queue", job.Queue, "handler", job.HandlerKey)
	q.Emit(&core.JobEnqueued{Job: job, Timestamp: time.Now()})

	return job.ID, nil
}

// Lease hands the next queued job to owner. See core.Storage.Lease.
func (q *Queue) Lease(ctx context.Context, queues []string, owner string, leaseFor, wait time.Duration) (*core.Job, error) {
	if err := security.ValidateQueueNames(queues); err != nil {
		return nil, err
	}
	if leaseFor <= 0 {
		return nil, core.ErrInvalidLeaseDuration
	}
	if wait < 0 {
		wait = 0
	}
	return q.storage.Lease(ctx, queues, owner, leaseFor, wait)
}

// ExtendLease pushes the lease of a job owner holds to now+d.
func (q *Queue) ExtendLease(ctx context.Context, jobID, owner string, d time.Duration) (time.Time, error) {
	if d <= 0 {
		return time.Time{}, core.ErrInvalidLeaseDuration
	}
	return q.storage.ExtendLease(ctx, jobID, owner, d)
}

// Start marks a leased job as running.
func (q *Queue) Start(ctx context.Context, jobID, owner string) error {
	return q.storage.Start(ctx, jobID, owner)
}

// Complete records a successful result.
func (q *Queue) Complete(ctx context.Context, jobID, owner string, result []byte) error {
	return q.storage.Complete(ctx, jobID, owner, result)
}

// Fail records a failure. errMsg is sanitized before it is stored.
func (q *Queue) Fail(ctx context.Context, jobID, owner, errMsg string) error {
	return q.storage.Fail(ctx, jobID, owner, security.SanitizeErrorMessage(errMsg))
}

// RequeueExpired returns up to limit expired leases to their queues, then
// emits JobRequeued and runs the requeue hooks for each.
func (q *Queue) RequeueExpired(ctx context.Context, limit int) ([]string, error) {
	ids, err := q.storage.RequeueExpired(ctx, time.Now(), security.ClampReapBatch(limit))
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		q.Logger().Info("requeued expired lease", "job_id", id)
		q.Emit(&core.JobRequeued{JobID: id, Timestamp: time.Now()})
		q.CallRequeueHooks(ctx, id)
	}
	return ids, nil
}

// Get returns a job record.
func (q *Queue) Get(ctx context.Context, jobID string) (*core.Job, error) {
	return q.storage.GetJob(ctx, jobID)
}

// Len returns the number of queued jobs waiting on queue.
func (q *Queue) Len(ctx context.Context, queue string) (int64, error) {
	return q.storage.QueueLength(ctx, queue)
}

// ListByStatus returns up to limit jobs in status, oldest first.
func (q *Queue) ListByStatus(ctx context.Context, status core.JobStatus, limit int) ([]*core.Job, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("jobs: unknown status %q", status)
	}
	return q.storage.GetJobsByStatus(ctx, status, limit)
}

// Schedule registers a recurring job. Workers started with the scheduler
// enabled enqueue it each time sched fires.
func (q *Queue) Schedule(name, handlerKey string, sched schedule.Schedule, args []any, kwargs map[string]any, opts ...Option) error {
	if err := security.ValidateHandlerKey(name); err != nil {
		return fmt.Errorf("jobs: schedule name: %w: %q", err, name)
	}
	if err := security.ValidateHandlerKey(handlerKey); err != nil {
		return fmt.Errorf("%w: %q", err, handlerKey)
	}
	if sched == nil {
		return fmt.Errorf("jobs: schedule %q has no schedule", name)
	}

	options := NewOptions()
	for _, opt := range opts {
		opt.Apply(options)
	}
	if err := security.ValidateQueueName(options.Queue); err != nil {
		return fmt.Errorf("%w: %q", err, options.Queue)
	}

	q.mu.Lock()
	if q.scheduledJobs == nil {
		q.scheduledJobs = make(map[string]*ScheduledJob)
	}
	q.scheduledJobs[name] = &ScheduledJob{
		Name:       name,
		HandlerKey: handlerKey,
		Schedule:   sched,
		Args:       args,
		Kwargs:     kwargs,
		Options:    options,
	}
	q.mu.Unlock()
	return nil
}

// GetScheduledJobs returns a copy of the scheduled jobs map (for worker scheduler).
func (q *Queue) GetScheduledJobs() map[string]*ScheduledJob {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make(map[string]*ScheduledJob, len(q.scheduledJobs))
	for k, v := range q.scheduledJobs {
		out[k] = v
	}
	return out
}

// OnJobStart registers a callback for when a job starts.
func (q *Queue) OnJobStart(fn func(context.Context, *core.Job)) {
	q.mu.Lock()
	q.onStart = append(q.onStart, fn)
	q.mu.Unlock()
}

// OnJobComplete registers a callback for when a job completes successfully.
func (q *Queue) OnJobComplete(fn func(context.Context, *core.Job)) {
	q.mu.Lock()
	q.onComplete = append(q.onComplete, fn)
	q.mu.Unlock()
}

// OnJobFail registers a callback for when a job is marked failed.
func (q *Queue) OnJobFail(fn func(context.Context, *core.Job, error)) {
	q.mu.Lock()
	q.onFail = append(q.onFail, fn)
	q.mu.Unlock()
}

// OnJobRequeue registers a callback for when an expired lease is requeued.
func (q *Queue) OnJobRequeue(fn func(context.Context, string)) {
	q.mu.Lock()
	q.onRequeue = append(q.onRequeue, fn)
	q.mu.Unlock()
}

// Events returns a channel for receiving queue events.
// The caller must call Unsubscribe when done to prevent resource leaks.
func (q *Queue) Events() <-chan core.Event {
	ch := make(chan core.Event, 100)
	q.mu.Lock()
	q.eventSubs = append(q.eventSubs, ch)
	q.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel created by Events().
// The channel is not closed. After Unsubscribe returns, no further events
// are sent to it.
func (q *Queue) Unsubscribe(ch <-chan core.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, sub := range q.eventSubs {
		if sub == ch {
			q.eventSubs = append(q.eventSubs[:i], q.eventSubs[i+1:]...)
			return
		}
	}
}

// Emit emits an event to all subscribers.
func (q *Queue) Emit(e core.Event) {
	q.mu.RLock()
	subs := make([]chan core.Event, len(q.eventSubs))
	copy(subs, q.eventSubs)
	q.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- e:
		default:
			// Drop if full
		}
	}
}

// CallStartHooks calls all registered start hooks.
func (q *Queue) CallStartHooks(ctx context.Context, job *core.Job) {
	q.mu.RLock()
	hooks := make([]func(context.Context, *core.Job), len(q.onStart))
	copy(hooks, q.onStart)
	q.mu.RUnlock()

	for _, fn := range hooks {
		fn(ctx, job)
	}
}

// CallCompleteHooks calls all registered complete hooks.
func (q *Queue) CallCompleteHooks(ctx context.Context, job *core.Job) {
	q.mu.RLock()
	hooks := make([]func(context.Context, *core.Job), len(q.onComplete))
	copy(hooks, q.onComplete)
	q.mu.RUnlock()

	for _, fn := range hooks {
		fn(ctx, job)
	}
}

// CallFailHooks calls all registered fail hooks.
func (q *Queue) CallFailHooks(ctx context.Context, job *core.Job, err error) {
	q.mu.RLock()
	hooks := make([]func(context.Context, *core.Job, error), len(q.onFail))
	copy(hooks, q.onFail)
	q.mu.RUnlock()

	for _, fn := range hooks {
		fn(ctx, job, err)
	}
}

// CallRequeueHooks calls all registered requeue hooks.
func (q *Queue) CallRequeueHooks(ctx context.Context, jobID string) {
	q.mu.RLock()
	hooks := make([]func(context.Context, string), len(q.onRequeue))
	copy(hooks, q.onRequeue)
	q.mu.RUnlock()

	for _, fn := range hooks {
		fn(ctx, jobID)
	}
}

// WorkerFactory is set by the root package to create workers.
// This avoids import cycles between queue and worker packages.
var WorkerFactory func(q *Queue, opts ...any) core.Starter

// NewWorker creates a new worker for this queue.
// Options should be worker.WorkerOption values.
func (q *Queue) NewWorker(opts ...any) core.Starter {
	if WorkerFactory == nil {
		panic("jobs: WorkerFactory not initialized - import github.com/jdziat/simple-lease-jobs to initialize")
	}
	return WorkerFactory(q, opts...)
}
