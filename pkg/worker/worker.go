package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jdziat/simple-lease-jobs/pkg/core"
	intctx "github.com/jdziat/simple-lease-jobs/pkg/internal/context"
	"github.com/jdziat/simple-lease-jobs/pkg/internal/handler"
	"github.com/jdziat/simple-lease-jobs/pkg/queue"
	"github.com/jdziat/simple-lease-jobs/pkg/reaper"
	"github.com/jdziat/simple-lease-jobs/pkg/retry"
	"github.com/jdziat/simple-lease-jobs/pkg/security"
)

// Worker leases jobs from the queue and runs them on a fixed pool of slots.
type Worker struct {
	queue  *queue.Queue
	config WorkerConfig
	logger *slog.Logger
	slots  []*slot
	wg     sync.WaitGroup

	// leaseMu serializes the lease step across slots
	leaseMu       sync.Mutex
	storeFailures atomic.Int32
}

// NewWorker creates a new worker for the given queue.
func NewWorker(q *queue.Queue, opts ...WorkerOption) *Worker {
	config := WorkerConfig{
		Concurrency:      1,
		LeaseDuration:    DefaultLeaseDuration,
		LeaseWait:        DefaultLeaseWait,
		WorkerID:         uuid.New().String(),
		EnableReaper:     true,
		ReaperInterval:   reaper.DefaultInterval,
		MaxStoreFailures: DefaultMaxStoreFailures,
	}

	for _, opt := range opts {
		opt.ApplyWorker(&config)
	}

	// If no queues configured, use default
	if len(config.Queues) == 0 {
		config.Queues = []string{queue.DefaultQueue}
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = max(config.LeaseDuration/3, MinHeartbeatInterval)
	}
	if config.StoreRetry == nil {
		cfg := q.RetryConfig()
		config.StoreRetry = &cfg
	}
	if config.Logger == nil {
		config.Logger = q.Logger()
	}

	slots := make([]*slot, config.Concurrency)
	for i := range slots {
		slots[i] = &slot{id: i}
	}

	return &Worker{
		queue:  q,
		config: config,
		logger: config.Logger.With("worker_id", config.WorkerID),
		slots:  slots,
	}
}

// ID returns the id of this worker. Lease owner tokens start with it.
func (w *Worker) ID() string {
	return w.config.WorkerID
}

// Config returns the effective configuration.
func (w *Worker) Config() WorkerConfig {
	return w.config
}

// States returns the current state of every slot.
func (w *Worker) States() []SlotState {
	out := make([]SlotState, len(w.slots))
	for i, s := range w.slots {
		out[i] = s.get()
	}
	return out
}

// Start begins processing jobs. It blocks until ctx is cancelled, then lets
// in-flight jobs finish and report before returning ctx.Err(). It returns
// core.ErrStoreUnavailable early if the store stays unreachable for
// MaxStoreFailures consecutive lease rounds.
func (w *Worker) Start(ctx context.Context) error {
	if err := security.ValidateQueueNames(w.config.Queues); err != nil {
		return err
	}
	if w.config.LeaseDuration <= 0 {
		return core.ErrInvalidLeaseDuration
	}

	w.queue.Registry().Freeze()
	w.logger.Info("worker started",
		"queues", w.config.Queues,
		"concurrency", len(w.slots),
		"lease_duration", w.config.LeaseDuration,
	)

	bgCtx, cancelBg := context.WithCancel(ctx)
	var bg sync.WaitGroup
	if w.config.EnableReaper {
		r := reaper.New(w.queue,
			reaper.Interval(w.config.ReaperInterval),
			reaper.WithRetry(*w.config.StoreRetry),
			reaper.WithLogger(w.logger),
		)
		bg.Add(1)
		go func() {
			defer bg.Done()
			_ = r.Start(bgCtx)
		}()
	}
	if w.config.EnableScheduler {
		bg.Add(1)
		go func() {
			defer bg.Done()
			w.runScheduler(bgCtx)
		}()
	}

	slotCtx, cancelSlots := context.WithCancel(ctx)
	fatal := make(chan error, 1)
	for _, s := range w.slots {
		w.wg.Add(1)
		go w.processLoop(slotCtx, s, fatal)
	}

	var err error
	select {
	case <-ctx.Done():
		err = ctx.Err()
	case err = <-fatal:
		w.logger.Error("worker stopping", "error", err)
	}

	cancelSlots()
	w.wg.Wait()
	cancelBg()
	bg.Wait()

	w.logger.Info("worker stopped")
	return err
}

func (w *Worker) processLoop(ctx context.Context, s *slot, fatal chan<- error) {
	defer w.wg.Done()
	defer s.move(StateShuttingDown)

	for ctx.Err() == nil {
		s.move(StateLeasing)
		owner := w.leaseOwner(s)
		job, err := w.leaseWithRetry(ctx, owner)
		if err != nil {
			s.move(StateIdle)
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("failed to lease job after retries", "slot", s.id, "error", err)
			if n := w.storeFailures.Add(1); int(n) >= w.config.MaxStoreFailures {
				select {
				case fatal <- fmt.Errorf("%w: %d consecutive lease failures: %w", core.ErrStoreUnavailable, n, err):
				default:
				}
				return
			}
			select {
			case <-ctx.Done():
			case <-time.After(w.config.LeaseWait):
			}
			continue
		}
		w.storeFailures.Store(0)

		if job == nil {
			s.move(StateIdle)
			continue
		}

		s.move(StateExecuting)
		// The job runs to completion even when the worker is shutting down.
		w.processJob(context.WithoutCancel(ctx), s, job, owner)
		s.move(StateIdle)
	}
}

// leaseOwner returns a fresh owner token for one lease taken by s. A token is
// never reused, so a slot whose lease lapsed cannot act on a later delivery
// of the same job, even one made to a sibling slot.
func (w *Worker) leaseOwner(s *slot) string {
	return fmt.Sprintf("%s/%d/%s", w.config.WorkerID, s.id, uuid.NewString())
}

// leaseWithRetry leases one job for owner, waiting up to LeaseWait. Only one
// slot leases at a time.
func (w *Worker) leaseWithRetry(ctx context.Context, owner string) (*core.Job, error) {
	w.leaseMu.Lock()
	defer w.leaseMu.Unlock()

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return retry.Value(ctx, *w.config.StoreRetry, func() (*core.Job, error) {
		return w.queue.Lease(ctx, w.config.Queues, owner, w.config.LeaseDuration, w.config.LeaseWait)
	})
}

func (w *Worker) processJob(ctx context.Context, s *slot, job *core.Job, owner string) {
	startTime := time.Now()
	logger := w.logger.With("job_id", job.ID, "queue", job.Queue, "handler", job.HandlerKey, "lease_owner", owner)

	h, err := w.queue.Registry().Resolve(job.HandlerKey)
	if err != nil {
		logger.Error("no handler for job", "error", err)
		s.move(StateReporting)
		w.reportFailure(ctx, logger, job, owner, err)
		return
	}

	if err := w.startWithRetry(ctx, job.ID, owner); err != nil {
		s.move(StateReporting)
		if errors.Is(err, core.ErrLeaseExpired) || errors.Is(err, core.ErrInvalidTransition) {
			logger.Warn("lease lost before start", "error", err)
			w.queue.Emit(&core.LeaseLost{Job: job, WorkerID: w.config.WorkerID, Timestamp: time.Now()})
			return
		}
		// Left leased; the reaper requeues it once the lease runs out.
		logger.Error("failed to mark job running after retries", "error", err)
		return
	}
	job.Status = core.StatusRunning

	w.queue.CallStartHooks(ctx, job)
	w.queue.Emit(&core.JobStarted{Job: job, WorkerID: w.config.WorkerID, Timestamp: startTime})

	heartbeatCtx, cancelHeartbeat := context.WithCancel(ctx)
	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		w.runHeartbeat(heartbeatCtx, logger, job, owner)
	}()

	result, err := w.executeHandler(ctx, job, owner, h)

	cancelHeartbeat()
	<-heartbeatDone
	s.move(StateReporting)

	if err != nil {
		logger.Warn("job failed", "error", err)
		w.reportFailure(ctx, logger, job, owner, err)
		return
	}

	if err := w.completeWithRetry(ctx, job.ID, owner, result); err != nil {
		w.logReportError(logger, job, "failed to complete job after retries", err)
		return
	}
	job.Status = core.StatusSucceeded
	job.Result = result

	logger.Info("job succeeded", "duration", time.Since(startTime))
	w.queue.CallCompleteHooks(ctx, job)
	w.queue.Emit(&core.JobCompleted{Job: job, Duration: time.Since(startTime), Timestamp: time.Now()})
}

// executeHandler decodes the job's arguments and calls the handler.
// A panic in the handler becomes an error.
func (w *Worker) executeHandler(ctx context.Context, job *core.Job, owner string, h *handler.Handler) (result []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	args, err := job.Arguments()
	if err != nil {
		return nil, err
	}
	kwargs, err := job.KeywordArguments()
	if err != nil {
		return nil, err
	}

	jc := &intctx.JobContext{
		Job:      job,
		WorkerID: w.config.WorkerID,
		ExtendLease: func(ctx context.Context, d time.Duration) (time.Time, error) {
			return w.queue.ExtendLease(ctx, job.ID, owner, d)
		},
	}
	return h.Call(intctx.WithJobContext(ctx, jc), args, kwargs)
}

// runHeartbeat extends the lease every HeartbeatInterval while the handler runs.
// It stops for good once the lease is lost.
func (w *Worker) runHeartbeat(ctx context.Context, logger *slog.Logger, job *core.Job, owner string) {
	ticker := time.NewTicker(w.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expires, err := retry.Value(ctx, *w.config.StoreRetry, func() (time.Time, error) {
				return w.queue.ExtendLease(ctx, job.ID, owner, w.config.LeaseDuration)
			})
			switch {
			case err == nil:
				logger.Debug("heartbeat sent", "lease_expires_at", expires)
			case errors.Is(err, core.ErrLeaseExpired):
				logger.Warn("lease lost while running")
				w.queue.Emit(&core.LeaseLost{Job: job, WorkerID: w.config.WorkerID, Timestamp: time.Now()})
				return
			case ctx.Err() != nil:
				return
			default:
				logger.Warn("heartbeat failed after retries", "error", err)
			}
		}
	}
}

func (w *Worker) reportFailure(ctx context.Context, logger *slog.Logger, job *core.Job, owner string, cause error) {
	msg := security.SanitizeErrorMessage(cause.Error())
	if err := w.failWithRetry(ctx, job.ID, owner, msg); err != nil {
		w.logReportError(logger, job, "failed to mark job as failed after retries", err)
		return
	}
	job.Status = core.StatusFailed
	job.Error = msg

	w.queue.CallFailHooks(ctx, job, cause)
	w.queue.Emit(&core.JobFailed{Job: job, Error: cause, Timestamp: time.Now()})
}

// logReportError logs a report that did not land. A lost lease leaves the
// record to whoever owns it now.
func (w *Worker) logReportError(logger *slog.Logger, job *core.Job, msg string, err error) {
	if errors.Is(err, core.ErrInvalidTransition) || errors.Is(err, core.ErrLeaseExpired) || errors.Is(err, core.ErrJobNotFound) {
		logger.Warn("result discarded, job no longer owned", "error", err)
		w.queue.Emit(&core.LeaseLost{Job: job, WorkerID: w.config.WorkerID, Timestamp: time.Now()})
		return
	}
	logger.Error(msg, "error", err)
}

func (w *Worker) startWithRetry(ctx context.Context, jobID, owner string) error {
	return retry.Do(ctx, *w.config.StoreRetry, func() error {
		return w.queue.Start(ctx, jobID, owner)
	})
}

// completeWithRetry marks a job complete with retry on transient failures.
func (w *Worker) completeWithRetry(ctx context.Context, jobID, owner string, result []byte) error {
	return retry.Do(ctx, *w.config.StoreRetry, func() error {
		return w.queue.Complete(ctx, jobID, owner, result)
	})
}

// failWithRetry marks a job as failed with retry on transient storage failures.
func (w *Worker) failWithRetry(ctx context.Context, jobID, owner, errMsg string) error {
	return retry.Do(ctx, *w.config.StoreRetry, func() error {
		return w.queue.Fail(ctx, jobID, owner, errMsg)
	})
}

func (w *Worker) runScheduler(ctx context.Context) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	nextRun := make(map[string]time.Time)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			for name, sj := range w.queue.GetScheduledJobs() {
				next, ok := nextRun[name]
				if !ok {
					nextRun[name] = sj.Schedule.Next(now)
					continue
				}
				if now.Before(next) {
					continue
				}
				_, err := w.queue.Enqueue(ctx, sj.HandlerKey, sj.Args, sj.Kwargs, queue.QueueOpt(sj.Options.Queue))
				if err != nil {
					w.logger.Error("failed to enqueue scheduled job", "name", name, "error", err)
					continue
				}
				nextRun[name] = sj.Schedule.Next(now)
			}
		}
	}
}
