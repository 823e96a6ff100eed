package worker

import (
	"log/slog"
	"time"

	"github.com/jdziat/simple-lease-jobs/pkg/retry"
	"github.com/jdziat/simple-lease-jobs/pkg/security"
)

const (
	// DefaultLeaseDuration is how long a leased job stays owned without a heartbeat.
	DefaultLeaseDuration = 30 * time.Second
	// DefaultLeaseWait bounds each blocking lease call so shutdown is noticed.
	DefaultLeaseWait = time.Second
	// DefaultMaxStoreFailures is the number of consecutive failed lease rounds
	// after which Start gives up.
	DefaultMaxStoreFailures = 10
	// MinHeartbeatInterval is the floor applied to the derived heartbeat interval.
	MinHeartbeatInterval = time.Millisecond
)

// WorkerOption configures a Worker.
type WorkerOption interface {
	ApplyWorker(*WorkerConfig)
}

type workerOptionFunc func(*WorkerConfig)

func (f workerOptionFunc) ApplyWorker(c *WorkerConfig) { f(c) }

// WorkerConfig holds worker configuration.
type WorkerConfig struct {
	Queues            []string // leased in list order
	Concurrency       int
	LeaseDuration     time.Duration
	LeaseWait         time.Duration
	HeartbeatInterval time.Duration // 0 means LeaseDuration/3
	WorkerID          string
	EnableScheduler   bool
	EnableReaper      bool
	ReaperInterval    time.Duration
	MaxStoreFailures  int
	StoreRetry        *retry.Config
	Logger            *slog.Logger
}

// WorkerQueue adds a queue to lease from. Queues added earlier are
// drained first.
func WorkerQueue(name string) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		for _, q := range c.Queues {
			if q == name {
				return
			}
		}
		c.Queues = append(c.Queues, name)
	})
}

// Queues sets the queue list, replacing any earlier WorkerQueue options.
func Queues(names ...string) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.Queues = nil
		for _, name := range names {
			WorkerQueue(name).ApplyWorker(c)
		}
	})
}

// Concurrency sets the number of job slots.
// Values are clamped to [1, MaxConcurrency].
func Concurrency(n int) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.Concurrency = security.ClampConcurrency(n)
	})
}

// LeaseDuration sets how long each lease lasts before it must be extended.
func LeaseDuration(d time.Duration) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		if d > 0 {
			c.LeaseDuration = d
		}
	})
}

// LeaseWait sets the upper bound of one blocking lease call.
func LeaseWait(d time.Duration) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		if d >= 0 {
			c.LeaseWait = d
		}
	})
}

// HeartbeatInterval sets how often a running job's lease is extended.
func HeartbeatInterval(d time.Duration) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.HeartbeatInterval = d
	})
}

// WithWorkerID sets the worker id. Each lease is owned by a token derived
// from it. Defaults to a random uuid.
func WithWorkerID(id string) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.WorkerID = id
	})
}

// WithScheduler enables the scheduler in the worker.
func WithScheduler(enabled bool) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.EnableScheduler = enabled
	})
}

// WithReaper enables or disables the embedded lease reaper.
func WithReaper(enabled bool) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.EnableReaper = enabled
	})
}

// ReaperInterval sets the embedded reaper's period.
func ReaperInterval(d time.Duration) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.ReaperInterval = d
	})
}

// MaxStoreFailures sets how many consecutive failed lease rounds the worker
// tolerates before Start returns core.ErrStoreUnavailable.
func MaxStoreFailures(n int) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		if n > 0 {
			c.MaxStoreFailures = n
		}
	})
}

// StoreRetry sets the backoff for lease and report calls.
func StoreRetry(cfg retry.Config) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.StoreRetry = &cfg
	})
}

// WithLogger sets the worker logger.
func WithLogger(l *slog.Logger) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.Logger = l
	})
}
