package context

import (
	"context"
	"time"

	"github.com/jdziat/simple-lease-jobs/pkg/core"
)

// JobContextKey is the key for storing job context in context.Context.
type JobContextKey struct{}

// JobContext holds the current job and the lease held on it.
type JobContext struct {
	Job      *core.Job
	WorkerID string
	// ExtendLease pushes the lease expiry forward by d
	ExtendLease func(ctx context.Context, d time.Duration) (time.Time, error)
}

// GetJobContext retrieves the job context from a context.Context.
func GetJobContext(ctx context.Context) *JobContext {
	if jc, ok := ctx.Value(JobContextKey{}).(*JobContext); ok {
		return jc
	}
	return nil
}

// WithJobContext adds job context to a context.Context.
func WithJobContext(ctx context.Context, jc *JobContext) context.Context {
	return context.WithValue(ctx, JobContextKey{}, jc)
}
