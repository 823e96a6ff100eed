package storage

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/simple-lease-jobs/pkg/core"
)

// Both stores must behave identically; every case here runs against each.

func TestGormStorage_Contract(t *testing.T) {
	runContract(t, func(t *testing.T) Backend { return newTestStorage(t) })
}

func TestRedisStorage_Contract(t *testing.T) {
	runContract(t, func(t *testing.T) Backend { return newRedisTestStorage(t) })
}

func newJob(queue, handlerKey string, args string) *core.Job {
	return &core.Job{
		Queue:      queue,
		HandlerKey: handlerKey,
		Args:       []byte(args),
	}
}

func mustEnqueue(t *testing.T, s Backend, queue string) *core.Job {
	t.Helper()
	job := newJob(queue, "echo", `["x"]`)
	require.NoError(t, s.Enqueue(context.Background(), job))
	return job
}

func mustLease(t *testing.T, s Backend, owner string, queues ...string) *core.Job {
	t.Helper()
	job, err := s.Lease(context.Background(), queues, owner, time.Minute, 0)
	require.NoError(t, err)
	require.NotNil(t, job, "expected a job to lease")
	return job
}

func runContract(t *testing.T, newStore func(t *testing.T) Backend) {
	ctx := context.Background()

	// ──────────────────────────────────────────────────────────────────────
	// Enqueue
	// ──────────────────────────────────────────────────────────────────────

	t.Run("Enqueue stores a queued record", func(t *testing.T) {
		s := newStore(t)
		job := &core.Job{
			HandlerKey: "print_message",
			Args:       []byte(`["Hello from the queue!","This is an extra argument!"]`),
			Kwargs:     []byte(`{"k":1}`),
		}
		require.NoError(t, s.Enqueue(ctx, job))
		require.NotEmpty(t, job.ID)
		_, err := uuid.Parse(job.ID)
		assert.NoError(t, err, "generated id is a uuid")

		got, err := s.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, core.DefaultQueue, got.Queue)
		assert.Equal(t, "print_message", got.HandlerKey)
		assert.JSONEq(t, `["Hello from the queue!","This is an extra argument!"]`, string(got.Args))
		assert.JSONEq(t, `{"k":1}`, string(got.Kwargs))
		assert.Equal(t, core.StatusQueued, got.Status)
		assert.Zero(t, got.Deliveries)
		assert.False(t, got.EnqueuedAt.IsZero())
		assert.Nil(t, got.StartedAt)
		assert.Nil(t, got.FinishedAt)
		assert.Nil(t, got.LeaseExpiresAt)
		assert.Empty(t, got.LeaseOwner)

		n, err := s.QueueLength(ctx, core.DefaultQueue)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)
	})

	t.Run("Enqueue defaults empty args", func(t *testing.T) {
		s := newStore(t)
		job := &core.Job{HandlerKey: "noop"}
		require.NoError(t, s.Enqueue(ctx, job))

		got, err := s.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.JSONEq(t, `[]`, string(got.Args))
		assert.JSONEq(t, `{}`, string(got.Kwargs))
	})

	t.Run("Enqueue rejects a duplicate id", func(t *testing.T) {
		s := newStore(t)
		job := mustEnqueue(t, s, "default")

		dup := newJob("default", "echo", `[]`)
		dup.ID = job.ID
		assert.ErrorIs(t, s.Enqueue(ctx, dup), core.ErrDuplicateJob)

		n, err := s.QueueLength(ctx, "default")
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)
	})

	t.Run("GetJob unknown id", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetJob(ctx, "missing")
		assert.ErrorIs(t, err, core.ErrJobNotFound)
	})

	// ──────────────────────────────────────────────────────────────────────
	// Lease
	// ──────────────────────────────────────────────────────────────────────

	t.Run("Lease is FIFO within a queue", func(t *testing.T) {
		s := newStore(t)
		var ids []string
		for range 3 {
			ids = append(ids, mustEnqueue(t, s, "default").ID)
		}

		for _, want := range ids {
			got := mustLease(t, s, "w1", "default")
			assert.Equal(t, want, got.ID)
		}

		job, err := s.Lease(ctx, []string{"default"}, "w1", time.Minute, 0)
		require.NoError(t, err)
		assert.Nil(t, job)
	})

	t.Run("Lease prefers earlier queues", func(t *testing.T) {
		s := newStore(t)
		low := mustEnqueue(t, s, "default")
		high := mustEnqueue(t, s, "high")

		assert.Equal(t, high.ID, mustLease(t, s, "w1", "high", "default").ID)
		assert.Equal(t, low.ID, mustLease(t, s, "w1", "high", "default").ID)
	})

	t.Run("Lease ignores queues not asked for", func(t *testing.T) {
		s := newStore(t)
		mustEnqueue(t, s, "other")

		job, err := s.Lease(ctx, []string{"default"}, "w1", time.Minute, 0)
		require.NoError(t, err)
		assert.Nil(t, job)
	})

	t.Run("Lease sets lease fields", func(t *testing.T) {
		s := newStore(t)
		mustEnqueue(t, s, "default")

		before := time.Now()
		job := mustLease(t, s, "worker-a", "default")

		assert.Equal(t, core.StatusLeased, job.Status)
		assert.Equal(t, "worker-a", job.LeaseOwner)
		assert.Equal(t, 1, job.Deliveries)
		require.NotNil(t, job.LeaseExpiresAt)
		assert.WithinDuration(t, before.Add(time.Minute), *job.LeaseExpiresAt, 5*time.Second)

		n, err := s.QueueLength(ctx, "default")
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("Lease validates its arguments", func(t *testing.T) {
		s := newStore(t)

		_, err := s.Lease(ctx, nil, "w1", time.Minute, 0)
		assert.ErrorIs(t, err, core.ErrNoQueues)

		_, err = s.Lease(ctx, []string{"default"}, "w1", 0, 0)
		assert.ErrorIs(t, err, core.ErrInvalidLeaseDuration)
	})

	t.Run("Lease with wait returns nil after the wait", func(t *testing.T) {
		s := newStore(t)

		start := time.Now()
		job, err := s.Lease(ctx, []string{"default"}, "w1", time.Minute, 200*time.Millisecond)
		require.NoError(t, err)
		assert.Nil(t, job)

		elapsed := time.Since(start)
		assert.GreaterOrEqual(t, elapsed, 150*time.Millisecond)
		assert.Less(t, elapsed, 2*time.Second)
	})

	t.Run("Lease with wait wakes on enqueue", func(t *testing.T) {
		s := newStore(t)

		go func() {
			time.Sleep(100 * time.Millisecond)
			_ = s.Enqueue(context.Background(), newJob("default", "echo", `[]`))
		}()

		start := time.Now()
		job, err := s.Lease(ctx, []string{"default"}, "w1", time.Minute, 3*time.Second)
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Less(t, time.Since(start), 2*time.Second)
	})

	t.Run("Lease with wait honours cancellation", func(t *testing.T) {
		s := newStore(t)
		cctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		defer cancel()

		job, err := s.Lease(cctx, []string{"default"}, "w1", time.Minute, 5*time.Second)
		assert.Nil(t, job)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("No double lease under concurrent leasers", func(t *testing.T) {
		s := newStore(t)
		const jobs, leasers = 30, 8
		for range jobs {
			mustEnqueue(t, s, "default")
		}

		var (
			mu   sync.Mutex
			seen = make(map[string]string)
			dups []string
			wg   sync.WaitGroup
		)
		for i := range leasers {
			owner := "w" + string(rune('a'+i))
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					job, err := s.Lease(ctx, []string{"default"}, owner, time.Minute, 0)
					if err != nil || job == nil {
						return
					}
					mu.Lock()
					if prev, ok := seen[job.ID]; ok {
						dups = append(dups, job.ID+" by "+prev+" and "+owner)
					}
					seen[job.ID] = owner
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Empty(t, dups)
		assert.Len(t, seen, jobs)
	})

	// ──────────────────────────────────────────────────────────────────────
	// Start / ExtendLease
	// ──────────────────────────────────────────────────────────────────────

	t.Run("Start moves leased to running", func(t *testing.T) {
		s := newStore(t)
		mustEnqueue(t, s, "default")
		job := mustLease(t, s, "w1", "default")

		require.NoError(t, s.Start(ctx, job.ID, "w1"))

		got, err := s.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, core.StatusRunning, got.Status)
		require.NotNil(t, got.StartedAt)
	})

	t.Run("Start by another owner is rejected", func(t *testing.T) {
		s := newStore(t)
		mustEnqueue(t, s, "default")
		job := mustLease(t, s, "w1", "default")

		assert.ErrorIs(t, s.Start(ctx, job.ID, "w2"), core.ErrInvalidTransition)

		got, err := s.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, core.StatusLeased, got.Status)
	})

	t.Run("Start on a queued job is rejected", func(t *testing.T) {
		s := newStore(t)
		job := mustEnqueue(t, s, "default")
		assert.ErrorIs(t, s.Start(ctx, job.ID, "w1"), core.ErrInvalidTransition)
	})

	t.Run("ExtendLease pushes the expiry", func(t *testing.T) {
		s := newStore(t)
		mustEnqueue(t, s, "default")
		job := mustLease(t, s, "w1", "default")

		expires, err := s.ExtendLease(ctx, job.ID, "w1", time.Hour)
		require.NoError(t, err)
		assert.True(t, expires.After(*job.LeaseExpiresAt))

		got, err := s.GetJob(ctx, job.ID)
		require.NoError(t, err)
		require.NotNil(t, got.LeaseExpiresAt)
		assert.WithinDuration(t, expires, *got.LeaseExpiresAt, time.Millisecond)
	})

	t.Run("ExtendLease by a non-owner fails", func(t *testing.T) {
		s := newStore(t)
		mustEnqueue(t, s, "default")
		job := mustLease(t, s, "w1", "default")

		_, err := s.ExtendLease(ctx, job.ID, "w2", time.Hour)
		assert.ErrorIs(t, err, core.ErrLeaseExpired)
	})

	t.Run("ExtendLease after expiry fails", func(t *testing.T) {
		s := newStore(t)
		mustEnqueue(t, s, "default")
		job, err := s.Lease(ctx, []string{"default"}, "w1", 20*time.Millisecond, 0)
		require.NoError(t, err)
		require.NotNil(t, job)

		time.Sleep(60 * time.Millisecond)
		_, err = s.ExtendLease(ctx, job.ID, "w1", time.Hour)
		assert.ErrorIs(t, err, core.ErrLeaseExpired)
	})

	// ──────────────────────────────────────────────────────────────────────
	// Complete / Fail
	// ──────────────────────────────────────────────────────────────────────

	t.Run("Complete stores the result", func(t *testing.T) {
		s := newStore(t)
		mustEnqueue(t, s, "default")
		job := mustLease(t, s, "w1", "default")
		require.NoError(t, s.Start(ctx, job.ID, "w1"))

		require.NoError(t, s.Complete(ctx, job.ID, "w1", []byte(`"x"`)))

		got, err := s.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, core.StatusSucceeded, got.Status)
		assert.JSONEq(t, `"x"`, string(got.Result))
		assert.Empty(t, got.Error)
		assert.Empty(t, got.LeaseOwner)
		assert.Nil(t, got.LeaseExpiresAt)
		require.NotNil(t, got.StartedAt)
		require.NotNil(t, got.FinishedAt)
		assert.False(t, got.FinishedAt.Before(*got.StartedAt))
		assert.False(t, got.StartedAt.Before(got.EnqueuedAt))
	})

	t.Run("Complete straight from leased sets StartedAt", func(t *testing.T) {
		s := newStore(t)
		mustEnqueue(t, s, "default")
		job := mustLease(t, s, "w1", "default")

		require.NoError(t, s.Complete(ctx, job.ID, "w1", nil))

		got, err := s.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, core.StatusSucceeded, got.Status)
		assert.NotNil(t, got.StartedAt)
		assert.Empty(t, got.Result)
	})

	t.Run("Complete by a non-owner leaves the record untouched", func(t *testing.T) {
		s := newStore(t)
		mustEnqueue(t, s, "default")
		job := mustLease(t, s, "w1", "default")
		require.NoError(t, s.Start(ctx, job.ID, "w1"))
		before, err := s.GetJob(ctx, job.ID)
		require.NoError(t, err)

		assert.ErrorIs(t, s.Complete(ctx, job.ID, "w2", []byte(`1`)), core.ErrInvalidTransition)
		assert.ErrorIs(t, s.Fail(ctx, job.ID, "w2", "nope"), core.ErrInvalidTransition)

		after, err := s.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, before.Status, after.Status)
		assert.Equal(t, before.LeaseOwner, after.LeaseOwner)
		assert.Empty(t, after.Result)
		assert.Empty(t, after.Error)
		assert.Nil(t, after.FinishedAt)
	})

	t.Run("Terminal transitions happen once", func(t *testing.T) {
		s := newStore(t)
		mustEnqueue(t, s, "default")
		job := mustLease(t, s, "w1", "default")
		require.NoError(t, s.Complete(ctx, job.ID, "w1", []byte(`1`)))

		assert.ErrorIs(t, s.Complete(ctx, job.ID, "w1", []byte(`2`)), core.ErrInvalidTransition)
		assert.ErrorIs(t, s.Fail(ctx, job.ID, "w1", "late"), core.ErrInvalidTransition)

		got, err := s.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, core.StatusSucceeded, got.Status)
		assert.JSONEq(t, `1`, string(got.Result))
	})

	t.Run("Complete on a queued job is rejected", func(t *testing.T) {
		s := newStore(t)
		job := mustEnqueue(t, s, "default")
		assert.ErrorIs(t, s.Complete(ctx, job.ID, "", nil), core.ErrInvalidTransition)
	})

	t.Run("Complete unknown job", func(t *testing.T) {
		s := newStore(t)
		assert.ErrorIs(t, s.Complete(ctx, "missing", "w1", nil), core.ErrJobNotFound)
	})

	t.Run("Complete after lease lapse but before requeue succeeds", func(t *testing.T) {
		s := newStore(t)
		mustEnqueue(t, s, "default")
		job, err := s.Lease(ctx, []string{"default"}, "w1", 20*time.Millisecond, 0)
		require.NoError(t, err)
		require.NotNil(t, job)

		time.Sleep(60 * time.Millisecond)
		require.NoError(t, s.Complete(ctx, job.ID, "w1", []byte(`"late"`)))

		ids, err := s.RequeueExpired(ctx, time.Now(), 10)
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("Fail stores a sanitized error", func(t *testing.T) {
		s := newStore(t)
		mustEnqueue(t, s, "default")
		job := mustLease(t, s, "w1", "default")
		require.NoError(t, s.Start(ctx, job.ID, "w1"))

		require.NoError(t, s.Fail(ctx, job.ID, "w1", "bad\x00 recipient "+strings.Repeat("x", 5000)))

		got, err := s.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, core.StatusFailed, got.Status)
		assert.True(t, strings.HasPrefix(got.Error, "bad recipient"))
		assert.LessOrEqual(t, len([]rune(got.Error)), 4096)
		assert.Empty(t, got.Result)
		assert.NotNil(t, got.FinishedAt)
	})

	// ──────────────────────────────────────────────────────────────────────
	// RequeueExpired
	// ──────────────────────────────────────────────────────────────────────

	t.Run("RequeueExpired requeues an expired lease exactly once", func(t *testing.T) {
		s := newStore(t)
		mustEnqueue(t, s, "default")
		job := mustLease(t, s, "w1", "default")
		require.NoError(t, s.Start(ctx, job.ID, "w1"))

		future := time.Now().Add(time.Hour)
		ids, err := s.RequeueExpired(ctx, future, 100)
		require.NoError(t, err)
		assert.Equal(t, []string{job.ID}, ids)

		ids, err = s.RequeueExpired(ctx, future, 100)
		require.NoError(t, err)
		assert.Empty(t, ids)

		got, err := s.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, core.StatusQueued, got.Status)
		assert.Empty(t, got.LeaseOwner)
		assert.Nil(t, got.LeaseExpiresAt)
		assert.NotNil(t, got.StartedAt, "first start time is kept")
		assert.Nil(t, got.FinishedAt)

		again := mustLease(t, s, "w2", "default")
		assert.Equal(t, job.ID, again.ID)
		assert.Equal(t, 2, again.Deliveries)
		assert.Equal(t, "w2", again.LeaseOwner)
	})

	t.Run("RequeueExpired leaves live leases alone", func(t *testing.T) {
		s := newStore(t)
		mustEnqueue(t, s, "default")
		job := mustLease(t, s, "w1", "default")

		ids, err := s.RequeueExpired(ctx, time.Now(), 100)
		require.NoError(t, err)
		assert.Empty(t, ids)

		got, err := s.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, core.StatusLeased, got.Status)
	})

	t.Run("RequeueExpired sees extended leases", func(t *testing.T) {
		s := newStore(t)
		mustEnqueue(t, s, "default")
		job := mustLease(t, s, "w1", "default")
		_, err := s.ExtendLease(ctx, job.ID, "w1", 3*time.Hour)
		require.NoError(t, err)

		ids, err := s.RequeueExpired(ctx, time.Now().Add(2*time.Hour), 100)
		require.NoError(t, err)
		assert.Empty(t, ids)

		ids, err = s.RequeueExpired(ctx, time.Now().Add(4*time.Hour), 100)
		require.NoError(t, err)
		assert.Equal(t, []string{job.ID}, ids)
	})

	t.Run("RequeueExpired appends to the tail", func(t *testing.T) {
		s := newStore(t)
		a := mustEnqueue(t, s, "default")
		b := mustEnqueue(t, s, "default")
		assert.Equal(t, a.ID, mustLease(t, s, "w1", "default").ID)

		_, err := s.RequeueExpired(ctx, time.Now().Add(time.Hour), 100)
		require.NoError(t, err)

		assert.Equal(t, b.ID, mustLease(t, s, "w1", "default").ID)
		assert.Equal(t, a.ID, mustLease(t, s, "w1", "default").ID)
	})

	t.Run("RequeueExpired respects the limit", func(t *testing.T) {
		s := newStore(t)
		for range 3 {
			mustEnqueue(t, s, "default")
			mustLease(t, s, "w1", "default")
		}

		ids, err := s.RequeueExpired(ctx, time.Now().Add(time.Hour), 2)
		require.NoError(t, err)
		assert.Len(t, ids, 2)

		ids, err = s.RequeueExpired(ctx, time.Now().Add(time.Hour), 2)
		require.NoError(t, err)
		assert.Len(t, ids, 1)
	})

	t.Run("Old owner cannot complete after requeue", func(t *testing.T) {
		s := newStore(t)
		mustEnqueue(t, s, "default")
		job := mustLease(t, s, "w1", "default")
		_, err := s.RequeueExpired(ctx, time.Now().Add(time.Hour), 100)
		require.NoError(t, err)

		assert.ErrorIs(t, s.Complete(ctx, job.ID, "w1", nil), core.ErrInvalidTransition)

		again := mustLease(t, s, "w2", "default")
		assert.ErrorIs(t, s.Complete(ctx, again.ID, "w1", nil), core.ErrInvalidTransition)
		assert.NoError(t, s.Complete(ctx, again.ID, "w2", nil))
	})

	// ──────────────────────────────────────────────────────────────────────
	// Queries / key-value
	// ──────────────────────────────────────────────────────────────────────

	t.Run("GetJobsByStatus", func(t *testing.T) {
		s := newStore(t)
		a := mustEnqueue(t, s, "default")
		b := mustEnqueue(t, s, "default")
		mustEnqueue(t, s, "default")
		leased := mustLease(t, s, "w1", "default")
		require.Equal(t, a.ID, leased.ID)

		queued, err := s.GetJobsByStatus(ctx, core.StatusQueued, 0)
		require.NoError(t, err)
		assert.Len(t, queued, 2)
		assert.Equal(t, b.ID, queued[0].ID)

		limited, err := s.GetJobsByStatus(ctx, core.StatusQueued, 1)
		require.NoError(t, err)
		assert.Len(t, limited, 1)

		leasedJobs, err := s.GetJobsByStatus(ctx, core.StatusLeased, 10)
		require.NoError(t, err)
		require.Len(t, leasedJobs, 1)
		assert.Equal(t, a.ID, leasedJobs[0].ID)

		none, err := s.GetJobsByStatus(ctx, core.StatusFailed, 10)
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("Key-value set and get", func(t *testing.T) {
		s := newStore(t)

		require.NoError(t, s.Set(ctx, "greeting", []byte("Hello, Redis from Docker!"), 0))
		v, err := s.Get(ctx, "greeting")
		require.NoError(t, err)
		assert.Equal(t, "Hello, Redis from Docker!", string(v))

		require.NoError(t, s.Set(ctx, "greeting", []byte("again"), time.Hour))
		v, err = s.Get(ctx, "greeting")
		require.NoError(t, err)
		assert.Equal(t, "again", string(v))

		_, err = s.Get(ctx, "missing")
		assert.ErrorIs(t, err, core.ErrKeyNotFound)
	})

	t.Run("Ping", func(t *testing.T) {
		s := newStore(t)
		assert.NoError(t, s.Ping(ctx))
		assert.NoError(t, Healthcheck(s)(ctx))
	})
}
