package jobctx

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jdziat/simple-lease-jobs/pkg/core"
	intctx "github.com/jdziat/simple-lease-jobs/pkg/internal/context"
)

func TestJobFromContext(t *testing.T) {
	t.Run("returns job when set in context", func(t *testing.T) {
		// Arrange
		job := &core.Job{
			ID:         "test-job-123",
			HandlerKey: "print_message",
		}
		ctx := intctx.WithJobContext(context.Background(), &intctx.JobContext{Job: job, WorkerID: "w-1"})

		// Act
		result := JobFromContext(ctx)

		// Assert
		if result == nil {
			t.Fatal("expected job, got nil")
		}
		if result.ID != "test-job-123" {
			t.Errorf("expected job ID %q, got %q", "test-job-123", result.ID)
		}
		if got := JobIDFromContext(ctx); got != "test-job-123" {
			t.Errorf("expected job ID %q, got %q", "test-job-123", got)
		}
		if got := WorkerIDFromContext(ctx); got != "w-1" {
			t.Errorf("expected worker ID %q, got %q", "w-1", got)
		}
	})

	t.Run("returns zero values when not set in context", func(t *testing.T) {
		ctx := context.Background()

		if result := JobFromContext(ctx); result != nil {
			t.Errorf("expected nil, got %v", result)
		}
		if id := JobIDFromContext(ctx); id != "" {
			t.Errorf("expected empty id, got %q", id)
		}
		if id := WorkerIDFromContext(ctx); id != "" {
			t.Errorf("expected empty worker id, got %q", id)
		}
	})
}

func TestExtendLease(t *testing.T) {
	t.Run("no-op outside a handler", func(t *testing.T) {
		at, err := ExtendLease(context.Background(), time.Second)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !at.IsZero() {
			t.Errorf("expected zero time, got %v", at)
		}
	})

	t.Run("delegates to the worker callback", func(t *testing.T) {
		var asked time.Duration
		want := time.Now().Add(time.Minute)
		ctx := intctx.WithJobContext(context.Background(), &intctx.JobContext{
			Job: &core.Job{ID: "j"},
			ExtendLease: func(_ context.Context, d time.Duration) (time.Time, error) {
				asked = d
				return want, nil
			},
		})

		at, err := ExtendLease(ctx, time.Minute)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if asked != time.Minute {
			t.Errorf("expected extension of %v, got %v", time.Minute, asked)
		}
		if !at.Equal(want) {
			t.Errorf("expected %v, got %v", want, at)
		}
	})

	t.Run("propagates lease loss", func(t *testing.T) {
		ctx := intctx.WithJobContext(context.Background(), &intctx.JobContext{
			Job: &core.Job{ID: "j"},
			ExtendLease: func(context.Context, time.Duration) (time.Time, error) {
				return time.Time{}, core.ErrLeaseExpired
			},
		})

		if _, err := ExtendLease(ctx, time.Second); !errors.Is(err, core.ErrLeaseExpired) {
			t.Errorf("expected ErrLeaseExpired, got %v", err)
		}
	})

	t.Run("rejects non-positive durations", func(t *testing.T) {
		ctx := intctx.WithJobContext(context.Background(), &intctx.JobContext{
			Job: &core.Job{ID: "j"},
			ExtendLease: func(context.Context, time.Duration) (time.Time, error) {
				t.Fatal("callback must not be called")
				return time.Time{}, nil
			},
		})

		if _, err := ExtendLease(ctx, 0); !errors.Is(err, core.ErrInvalidLeaseDuration) {
			t.Errorf("expected ErrInvalidLeaseDuration, got %v", err)
		}
	})
}
