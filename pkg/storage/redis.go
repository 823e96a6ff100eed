package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jdziat/simple-lease-jobs/pkg/core"
	"github.com/jdziat/simple-lease-jobs/pkg/security"
)

// RedisStorage implements core.Storage on a single Redis node.
//
// Job records are hashes; each queue is a list of ids. Leases are tracked in
// a sorted set scored by expiry so the reaper can find lapsed ones without a
// scan. Blocking leases wait on per-queue wake lists with BLPOP.
type RedisStorage struct {
	client       redis.UniversalClient
	keys         redisKeys
	pollInterval time.Duration
}

// RedisOption configures a RedisStorage.
type RedisOption interface {
	applyRedis(*RedisStorage)
}

type redisOptionFunc func(*RedisStorage)

func (f redisOptionFunc) applyRedis(s *RedisStorage) { f(s) }

// KeyPrefix sets the prefix for every key the store writes.
func KeyPrefix(prefix string) RedisOption {
	return redisOptionFunc(func(s *RedisStorage) {
		if prefix != "" {
			s.keys.prefix = prefix
		}
	})
}

// RedisPollInterval sets the sleep between lease attempts when less than a
// second of wait remains, below the one-second resolution of BLPOP.
func RedisPollInterval(d time.Duration) RedisOption {
	return redisOptionFunc(func(s *RedisStorage) {
		if d > 0 {
			s.pollInterval = d
		}
	})
}

// NewRedisStorage creates a Redis-backed storage on an existing client.
func NewRedisStorage(client redis.UniversalClient, opts ...RedisOption) *RedisStorage {
	s := &RedisStorage{
		client:       client,
		keys:         redisKeys{prefix: DefaultKeyPrefix},
		pollInterval: 50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt.applyRedis(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *RedisStorage) Client() redis.UniversalClient {
	return s.client
}

// Migrate is a no-op; Redis needs no schema.
func (s *RedisStorage) Migrate(context.Context) error {
	return nil
}

// Enqueue writes the job hash and appends its id to the queue tail in one script.
func (s *RedisStorage) Enqueue(ctx context.Context, job *core.Job) error {
	prepareEnqueue(job)

	argv := []any{job.ID, wakeListCap}
	for k, v := range jobToHash(job) {
		argv = append(argv, k, v)
	}

	keys := []string{
		s.keys.job(job.ID),
		s.keys.queue(job.Queue),
		s.keys.status(core.StatusQueued),
		s.keys.wake(job.Queue),
		s.keys.seq(),
	}
	return redisErr(enqueueScript.Run(ctx, s.client, keys, argv...).Err())
}

// Lease pops the head of the first non-empty queue. With wait > 0 it blocks
// on the queues' wake lists until a job arrives or wait runs out.
func (s *RedisStorage) Lease(ctx context.Context, queues []string, owner string, leaseFor, wait time.Duration) (*core.Job, error) {
	if len(queues) == 0 {
		return nil, core.ErrNoQueues
	}
	if leaseFor <= 0 {
		return nil, core.ErrInvalidLeaseDuration
	}

	queueKeys := make([]string, len(queues))
	wakeKeys := make([]string, len(queues))
	for i, q := range queues {
		queueKeys[i] = s.keys.queue(q)
		wakeKeys[i] = s.keys.wake(q)
	}

	deadline := time.Now().Add(wait)
	for {
		job, err := s.leaseOnce(ctx, queueKeys, owner, leaseFor)
		if err != nil || job != nil {
			return job, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}

		// BLPOP rounds timeouts up to whole seconds.
		if remaining < time.Second {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(min(s.pollInterval, remaining)):
			}
			continue
		}

		err = s.client.BLPop(ctx, remaining.Truncate(time.Second), wakeKeys...).Err()
		switch {
		case err == nil, errors.Is(err, redis.Nil):
		case ctx.Err() != nil:
			return nil, ctx.Err()
		default:
			return nil, core.Unavailable(err)
		}
	}
}

func (s *RedisStorage) leaseOnce(ctx context.Context, queueKeys []string, owner string, leaseFor time.Duration) (*core.Job, error) {
	now := utcNow()
	res, err := leaseScript.Run(ctx, s.client, queueKeys,
		s.keys.prefix, owner, toMillis(now), toMillis(now.Add(leaseFor)),
	).Slice()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, redisErr(err)
	}
	return jobFromHash(pairsToMap(res))
}

// ExtendLease pushes the lease expiry of a live lease held by owner.
func (s *RedisStorage) ExtendLease(ctx context.Context, jobID, owner string, leaseFor time.Duration) (time.Time, error) {
	if leaseFor <= 0 {
		return time.Time{}, core.ErrInvalidLeaseDuration
	}
	now := utcNow()
	expires := now.Add(leaseFor)

	err := extendScript.Run(ctx, s.client,
		[]string{s.keys.job(jobID), s.keys.leases()},
		jobID, owner, toMillis(now), toMillis(expires),
	).Err()
	if err != nil {
		return time.Time{}, redisErr(err)
	}
	return expires, nil
}

// Start moves a leased job to running.
func (s *RedisStorage) Start(ctx context.Context, jobID, owner string) error {
	err := startScript.Run(ctx, s.client,
		[]string{s.keys.job(jobID)},
		s.keys.prefix, jobID, owner, toMillis(utcNow()),
	).Err()
	return redisErr(err)
}

// Complete marks a job owned by owner as succeeded and stores its result.
func (s *RedisStorage) Complete(ctx context.Context, jobID, owner string, result []byte) error {
	return s.finish(ctx, jobID, owner, core.StatusSucceeded, "result", string(result))
}

// Fail marks a job owned by owner as failed. The message is sanitized before storage.
func (s *RedisStorage) Fail(ctx context.Context, jobID, owner string, errMsg string) error {
	return s.finish(ctx, jobID, owner, core.StatusFailed, "error", security.SanitizeErrorMessage(errMsg))
}

func (s *RedisStorage) finish(ctx context.Context, jobID, owner string, status core.JobStatus, field, value string) error {
	err := finishScript.Run(ctx, s.client,
		[]string{s.keys.job(jobID), s.keys.leases()},
		s.keys.prefix, jobID, owner, toMillis(utcNow()), string(status), field, value,
	).Err()
	return redisErr(err)
}

// RequeueExpired returns up to limit jobs whose lease lapsed at or before now
// to the tail of their queue.
func (s *RedisStorage) RequeueExpired(ctx context.Context, now time.Time, limit int) ([]string, error) {
	limit = security.ClampReapBatch(limit)
	ids, err := reapScript.Run(ctx, s.client,
		[]string{s.keys.leases()},
		s.keys.prefix, toMillis(now), limit, wakeListCap,
	).StringSlice()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, redisErr(err)
	}
	return ids, nil
}

// GetJob retrieves a job by ID.
func (s *RedisStorage) GetJob(ctx context.Context, jobID string) (*core.Job, error) {
	fields, err := s.client.HGetAll(ctx, s.keys.job(jobID)).Result()
	if err != nil {
		return nil, redisErr(err)
	}
	if len(fields) == 0 {
		return nil, core.ErrJobNotFound
	}
	return jobFromHash(fields)
}

// GetJobsByStatus returns jobs with a specific status, oldest first.
func (s *RedisStorage) GetJobsByStatus(ctx context.Context, status core.JobStatus, limit int) ([]*core.Job, error) {
	ids, err := s.client.SMembers(ctx, s.keys.status(status)).Result()
	if err != nil {
		return nil, redisErr(err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.keys.job(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, redisErr(err)
	}

	jobs := make([]*core.Job, 0, len(ids))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		job, err := jobFromHash(fields)
		if err != nil {
			return nil, err
		}
		if job.Status == status {
			jobs = append(jobs, job)
		}
	}

	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].EnqueuedAt.Equal(jobs[j].EnqueuedAt) {
			return jobs[i].Seq < jobs[j].Seq
		}
		return jobs[i].EnqueuedAt.Before(jobs[j].EnqueuedAt)
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// QueueLength returns the number of queued jobs in queue.
func (s *RedisStorage) QueueLength(ctx context.Context, queue string) (int64, error) {
	n, err := s.client.LLen(ctx, s.keys.queue(queue)).Result()
	return n, redisErr(err)
}

// Ping checks that the server answers.
func (s *RedisStorage) Ping(ctx context.Context) error {
	return redisErr(s.client.Ping(ctx).Err())
}

// Close closes the client.
func (s *RedisStorage) Close() error {
	return s.client.Close()
}

// Set stores value under key. A ttl of zero keeps it forever.
func (s *RedisStorage) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return redisErr(s.client.Set(ctx, s.keys.kv(key), value, ttl).Err())
}

// Get returns the value stored under key, or core.ErrKeyNotFound.
func (s *RedisStorage) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := s.client.Get(ctx, s.keys.kv(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, core.ErrKeyNotFound
	}
	if err != nil {
		return nil, redisErr(err)
	}
	return b, nil
}

// redisErr maps client and script errors onto the store contract.
func redisErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var rerr redis.Error
	if errors.As(err, &rerr) {
		msg := rerr.Error()
		switch {
		case strings.Contains(msg, scriptErrDuplicate):
			return core.ErrDuplicateJob
		case strings.Contains(msg, scriptErrNotFound):
			return core.ErrJobNotFound
		case strings.Contains(msg, scriptErrTransition):
			return core.ErrInvalidTransition
		case strings.Contains(msg, scriptErrLeaseExpired):
			return core.ErrLeaseExpired
		}
	}
	return core.Unavailable(err)
}

// jobToHash renders a job as hash fields. Unset times are left out so the
// scripts can HSETNX them later.
func jobToHash(j *core.Job) map[string]any {
	m := map[string]any{
		"id":          j.ID,
		"queue":       j.Queue,
		"handler_key": j.HandlerKey,
		"args":        string(j.Args),
		"kwargs":      string(j.Kwargs),
		"status":      string(j.Status),
		"enqueued_at": toMillis(j.EnqueuedAt),
		"result":      string(j.Result),
		"error":       j.Error,
		"lease_owner": j.LeaseOwner,
		"deliveries":  j.Deliveries,
		"updated_at":  toMillis(utcNow()),
	}
	if j.StartedAt != nil {
		m["started_at"] = toMillis(*j.StartedAt)
	}
	if j.FinishedAt != nil {
		m["finished_at"] = toMillis(*j.FinishedAt)
	}
	if j.LeaseExpiresAt != nil {
		m["lease_expires_at"] = toMillis(*j.LeaseExpiresAt)
	}
	return m
}

func jobFromHash(m map[string]string) (*core.Job, error) {
	job := &core.Job{
		ID:         m["id"],
		Queue:      m["queue"],
		HandlerKey: m["handler_key"],
		Status:     core.JobStatus(m["status"]),
		Error:      m["error"],
		LeaseOwner: m["lease_owner"],
	}
	if job.ID == "" {
		return nil, core.ErrJobNotFound
	}
	if v := m["args"]; v != "" {
		job.Args = []byte(v)
	}
	if v := m["kwargs"]; v != "" {
		job.Kwargs = []byte(v)
	}
	if v := m["result"]; v != "" {
		job.Result = []byte(v)
	}

	var err error
	if job.Deliveries, err = atoiField(m, "deliveries"); err != nil {
		return nil, err
	}
	seq, err := atoiField(m, "seq")
	if err != nil {
		return nil, err
	}
	job.Seq = int64(seq)
	enqueued, err := timeField(m, "enqueued_at")
	if err != nil {
		return nil, err
	}
	if enqueued != nil {
		job.EnqueuedAt = *enqueued
	}
	updated, err := timeField(m, "updated_at")
	if err != nil {
		return nil, err
	}
	if updated != nil {
		job.UpdatedAt = *updated
	}
	if job.StartedAt, err = timeField(m, "started_at"); err != nil {
		return nil, err
	}
	if job.FinishedAt, err = timeField(m, "finished_at"); err != nil {
		return nil, err
	}
	if job.LeaseExpiresAt, err = timeField(m, "lease_expires_at"); err != nil {
		return nil, err
	}
	return job, nil
}

func atoiField(m map[string]string, field string) (int, error) {
	v := m[field]
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("jobs: bad %s %q in job %s: %w", field, v, m["id"], err)
	}
	return n, nil
}

func timeField(m map[string]string, field string) (*time.Time, error) {
	v := m[field]
	if v == "" {
		return nil, nil
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("jobs: bad %s %q in job %s: %w", field, v, m["id"], err)
	}
	t := time.UnixMilli(ms).UTC()
	return &t, nil
}

// pairsToMap turns a flat HGETALL reply into a map.
func pairsToMap(pairs []any) map[string]string {
	m := make(map[string]string, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		k, _ := pairs[i].(string)
		v, _ := pairs[i+1].(string)
		m[k] = v
	}
	return m
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

var (
	_ core.Storage  = (*RedisStorage)(nil)
	_ core.KeyValue = (*RedisStorage)(nil)
)
