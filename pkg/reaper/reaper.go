package reaper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jdziat/simple-lease-jobs/pkg/queue"
	"github.com/jdziat/simple-lease-jobs/pkg/retry"
	"github.com/jdziat/simple-lease-jobs/pkg/security"
)

const (
	// DefaultInterval is the time between passes.
	DefaultInterval = 5 * time.Second
	// DefaultBatchSize is the number of jobs requeued per store call.
	DefaultBatchSize = 100
)

// Reaper periodically requeues jobs whose lease expired.
type Reaper struct {
	queue     *queue.Queue
	interval  time.Duration
	batchSize int
	retry     retry.Config
	logger    *slog.Logger
}

// Option configures a Reaper.
type Option func(*Reaper)

// Interval sets the time between passes.
func Interval(d time.Duration) Option {
	return func(r *Reaper) {
		if d > 0 {
			r.interval = d
		}
	}
}

// BatchSize sets how many jobs one store call may requeue.
// Values are clamped to [1, MaxReapBatch].
func BatchSize(n int) Option {
	return func(r *Reaper) {
		r.batchSize = security.ClampReapBatch(n)
	}
}

// WithRetry sets the backoff used when the store is unavailable.
func WithRetry(cfg retry.Config) Option {
	return func(r *Reaper) {
		r.retry = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reaper) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates a Reaper for q.
func New(q *queue.Queue, opts ...Option) *Reaper {
	r := &Reaper{
		queue:     q,
		interval:  DefaultInterval,
		batchSize: DefaultBatchSize,
		retry:     q.RetryConfig(),
		logger:    q.Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunOnce requeues every job whose lease has expired and returns their ids.
// It keeps calling the store while full batches come back.
func (r *Reaper) RunOnce(ctx context.Context) ([]string, error) {
	var all []string
	for {
		ids, err := retry.Value(ctx, r.retry, func() ([]string, error) {
			return r.queue.RequeueExpired(ctx, r.batchSize)
		})
		all = append(all, ids...)
		if err != nil {
			return all, err
		}
		if len(ids) < r.batchSize {
			return all, nil
		}
	}
}

// Start runs a pass every interval until ctx is cancelled.
// Store errors are logged and the next tick tries again.
func (r *Reaper) Start(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Debug("reaper started", "interval", r.interval, "batch_size", r.batchSize)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			ids, err := r.RunOnce(ctx)
			if err != nil {
				if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
					r.logger.Error("reaper pass failed after retries", "error", err, "requeued", len(ids))
				}
				continue
			}
			if len(ids) > 0 {
				r.logger.Info("reaper pass", "requeued", len(ids))
			}
		}
	}
}
