// Package jobctx provides public access to job context for handlers.
package jobctx

import (
	"context"
	"time"

	"github.com/jdziat/simple-lease-jobs/pkg/core"
	intctx "github.com/jdziat/simple-lease-jobs/pkg/internal/context"
)

// JobFromContext returns the current Job from context, or nil if not in a job handler.
// Use this to get the job ID for logging or progress tracking.
func JobFromContext(ctx context.Context) *core.Job {
	jc := intctx.GetJobContext(ctx)
	if jc == nil {
		return nil
	}
	return jc.Job
}

// JobIDFromContext returns the current job ID from context, or empty string if not in a job handler.
func JobIDFromContext(ctx context.Context) string {
	job := JobFromContext(ctx)
	if job == nil {
		return ""
	}
	return job.ID
}

// WorkerIDFromContext returns the id of the worker running the current job.
func WorkerIDFromContext(ctx context.Context) string {
	jc := intctx.GetJobContext(ctx)
	if jc == nil {
		return ""
	}
	return jc.WorkerID
}

// ExtendLease pushes the current job's lease expiry to now+d. Long handlers
// call it between steps when the worker's heartbeat interval is not enough.
// It returns core.ErrLeaseExpired once the lease is lost; the handler should
// stop work that has side effects at that point.
// Returns a zero time and nil when not running within a job handler.
func ExtendLease(ctx context.Context, d time.Duration) (time.Time, error) {
	jc := intctx.GetJobContext(ctx)
	if jc == nil || jc.ExtendLease == nil {
		return time.Time{}, nil
	}
	if d <= 0 {
		return time.Time{}, core.ErrInvalidLeaseDuration
	}
	return jc.ExtendLease(ctx, d)
}
