package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jdziat/simple-lease-jobs/pkg/core"
	"github.com/jdziat/simple-lease-jobs/pkg/security"
)

// DefaultPollInterval is how often a blocking Lease re-checks an empty SQL queue.
const DefaultPollInterval = 100 * time.Millisecond

var leasedStatuses = []core.JobStatus{core.StatusLeased, core.StatusRunning}

// GormStorage implements core.Storage using GORM.
//
// Every state change runs as a conditional UPDATE (status, owner and expiry in
// the WHERE clause) and checks RowsAffected, so two workers racing on the same
// row cannot both win.
type GormStorage struct {
	db           *gorm.DB
	pollInterval time.Duration
}

// GormOption configures a GormStorage.
type GormOption interface {
	applyGorm(*GormStorage)
}

type gormOptionFunc func(*GormStorage)

func (f gormOptionFunc) applyGorm(s *GormStorage) { f(s) }

// PollInterval sets how often a blocking Lease re-checks for queued jobs.
func PollInterval(d time.Duration) GormOption {
	return gormOptionFunc(func(s *GormStorage) {
		if d > 0 {
			s.pollInterval = d
		}
	})
}

// NewGormStorage creates a new GORM-backed storage.
func NewGormStorage(db *gorm.DB, opts ...GormOption) *GormStorage {
	s := &GormStorage{db: db, pollInterval: DefaultPollInterval}
	for _, opt := range opts {
		opt.applyGorm(s)
	}
	return s
}

// DB returns the underlying *gorm.DB.
func (s *GormStorage) DB() *gorm.DB {
	return s.db
}

// IsSQLite reports whether the storage runs on SQLite, which has no row locks.
func (s *GormStorage) IsSQLite() bool {
	return s.db != nil && s.db.Dialector != nil && s.db.Dialector.Name() == "sqlite"
}

// Migrate creates the necessary tables.
func (s *GormStorage) Migrate(ctx context.Context) error {
	return storeErr(s.db.WithContext(ctx).AutoMigrate(&core.Job{}, &kvEntry{}))
}

// Enqueue inserts a queued job at the tail of its queue.
func (s *GormStorage) Enqueue(ctx context.Context, job *core.Job) error {
	prepareEnqueue(job)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&core.Job{}).Where("id = ?", job.ID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return core.ErrDuplicateJob
		}

		seq, err := nextSeq(tx, job.Queue)
		if err != nil {
			return err
		}
		job.Seq = seq
		return tx.Create(job).Error
	})
	if errors.Is(s.translate(err), gorm.ErrDuplicatedKey) {
		return core.ErrDuplicateJob
	}
	return storeErr(err)
}

// translate maps driver errors onto gorm's sentinels, such as a primary key
// violation onto gorm.ErrDuplicatedKey, even when db was opened without
// TranslateError.
func (s *GormStorage) translate(err error) error {
	if err == nil || s.db == nil {
		return err
	}
	if t, ok := s.db.Dialector.(gorm.ErrorTranslator); ok {
		return t.Translate(err)
	}
	return err
}

// Lease hands the head of the first non-empty queue to owner. With wait > 0 it
// re-polls every poll interval until a job shows up or wait runs out.
func (s *GormStorage) Lease(ctx context.Context, queues []string, owner string, leaseFor, wait time.Duration) (*core.Job, error) {
	if len(queues) == 0 {
		return nil, core.ErrNoQueues
	}
	if leaseFor <= 0 {
		return nil, core.ErrInvalidLeaseDuration
	}

	deadline := time.Now().Add(wait)
	for {
		job, err := s.tryLease(ctx, queues, owner, leaseFor)
		if err != nil || job != nil {
			return job, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		sleep := min(s.pollInterval, remaining)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sleep):
		}
	}
}

func (s *GormStorage) tryLease(ctx context.Context, queues []string, owner string, leaseFor time.Duration) (*core.Job, error) {
	var leased *core.Job

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := utcNow()
		expires := now.Add(leaseFor)

		for _, q := range queues {
			for {
				query := tx.Where("queue = ? AND status = ?", q, core.StatusQueued).
					Order("seq ASC").
					Limit(1)
				if !s.IsSQLite() {
					query = query.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
				}

				var candidate core.Job
				res := query.Find(&candidate)
				if res.Error != nil {
					return res.Error
				}
				if res.RowsAffected == 0 {
					break
				}

				upd := tx.Model(&core.Job{}).
					Where("id = ? AND status = ?", candidate.ID, core.StatusQueued).
					Updates(map[string]any{
						"status":           core.StatusLeased,
						"lease_owner":      owner,
						"lease_expires_at": expires,
						"deliveries":       gorm.Expr("deliveries + 1"),
					})
				if upd.Error != nil {
					return upd.Error
				}
				if upd.RowsAffected == 0 {
					// Taken between read and write, look at the next head.
					continue
				}

				var job core.Job
				if err := tx.First(&job, "id = ?", candidate.ID).Error; err != nil {
					return err
				}
				leased = &job
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, storeErr(err)
	}
	return leased, nil
}

// ExtendLease pushes the lease expiry of a live lease held by owner.
func (s *GormStorage) ExtendLease(ctx context.Context, jobID, owner string, leaseFor time.Duration) (time.Time, error) {
	if leaseFor <= 0 {
		return time.Time{}, core.ErrInvalidLeaseDuration
	}
	now := utcNow()
	expires := now.Add(leaseFor)

	res := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("id = ? AND lease_owner = ? AND status IN ? AND lease_expires_at > ?", jobID, owner, leasedStatuses, now).
		Update("lease_expires_at", expires)
	if res.Error != nil {
		return time.Time{}, storeErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return time.Time{}, core.ErrLeaseExpired
	}
	return expires, nil
}

// Start moves a leased job to running. StartedAt keeps the first start time
// across redeliveries.
func (s *GormStorage) Start(ctx context.Context, jobID, owner string) error {
	now := utcNow()

	res := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("id = ? AND lease_owner = ? AND status = ? AND lease_expires_at > ?", jobID, owner, core.StatusLeased, now).
		Updates(map[string]any{
			"status":     core.StatusRunning,
			"started_at": gorm.Expr("COALESCE(started_at, ?)", now),
		})
	if res.Error != nil {
		return storeErr(res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}
	return s.explainStartMiss(ctx, jobID, owner, now)
}

func (s *GormStorage) explainStartMiss(ctx context.Context, jobID, owner string, now time.Time) error {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	switch {
	case job.LeaseOwner != owner || !job.Status.IsLeased():
		return core.ErrInvalidTransition
	case job.LeaseExpired(now):
		return core.ErrLeaseExpired
	case job.Status == core.StatusRunning:
		return nil
	}
	return core.ErrInvalidTransition
}

// Complete marks a job owned by owner as succeeded and stores its result.
func (s *GormStorage) Complete(ctx context.Context, jobID, owner string, result []byte) error {
	return s.finish(ctx, jobID, owner, map[string]any{
		"status": core.StatusSucceeded,
		"result": result,
	})
}

// Fail marks a job owned by owner as failed. The message is sanitized before storage.
func (s *GormStorage) Fail(ctx context.Context, jobID, owner string, errMsg string) error {
	return s.finish(ctx, jobID, owner, map[string]any{
		"status": core.StatusFailed,
		"error":  security.SanitizeErrorMessage(errMsg),
	})
}

func (s *GormStorage) finish(ctx context.Context, jobID, owner string, fields map[string]any) error {
	now := utcNow()
	fields["finished_at"] = now
	fields["started_at"] = gorm.Expr("COALESCE(started_at, ?)", now)
	fields["lease_owner"] = ""
	fields["lease_expires_at"] = nil

	res := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("id = ? AND lease_owner = ? AND status IN ?", jobID, owner, leasedStatuses).
		Updates(fields)
	if res.Error != nil {
		return storeErr(res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := s.GetJob(ctx, jobID); err != nil {
			return err
		}
		return core.ErrInvalidTransition
	}
	return nil
}

// RequeueExpired returns up to limit jobs whose lease lapsed at or before now
// to the tail of their queue.
func (s *GormStorage) RequeueExpired(ctx context.Context, now time.Time, limit int) ([]string, error) {
	now = now.UTC()
	limit = security.ClampReapBatch(limit)
	var requeued []string

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.Select("id", "queue").
			Where("status IN ? AND lease_expires_at <= ?", leasedStatuses, now).
			Order("lease_expires_at ASC").
			Limit(limit)
		if !s.IsSQLite() {
			query = query.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}

		var expired []core.Job
		if err := query.Find(&expired).Error; err != nil {
			return err
		}

		for _, job := range expired {
			seq, err := nextSeq(tx, job.Queue)
			if err != nil {
				return err
			}
			res := tx.Model(&core.Job{}).
				Where("id = ? AND status IN ? AND lease_expires_at <= ?", job.ID, leasedStatuses, now).
				Updates(map[string]any{
					"status":           core.StatusQueued,
					"lease_owner":      "",
					"lease_expires_at": nil,
					"seq":              seq,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 1 {
				requeued = append(requeued, job.ID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, storeErr(err)
	}
	return requeued, nil
}

// GetJob retrieves a job by ID.
func (s *GormStorage) GetJob(ctx context.Context, jobID string) (*core.Job, error) {
	var job core.Job
	err := s.db.WithContext(ctx).First(&job, "id = ?", jobID).Error
	if err != nil {
		return nil, storeErr(err)
	}
	return &job, nil
}

// GetJobsByStatus returns jobs with a specific status, oldest first.
func (s *GormStorage) GetJobsByStatus(ctx context.Context, status core.JobStatus, limit int) ([]*core.Job, error) {
	var jobs []*core.Job
	q := s.db.WithContext(ctx).Where("status = ?", status).Order("enqueued_at ASC, seq ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&jobs).Error; err != nil {
		return nil, storeErr(err)
	}
	return jobs, nil
}

// QueueLength counts the queued jobs waiting in queue.
func (s *GormStorage) QueueLength(ctx context.Context, queue string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("queue = ? AND status = ?", queue, core.StatusQueued).
		Count(&n).Error
	return n, storeErr(err)
}

// Ping checks that the database answers.
func (s *GormStorage) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return storeErr(err)
	}
	return storeErr(sqlDB.PingContext(ctx))
}

// Close closes the underlying connection pool.
func (s *GormStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// kvEntry backs the KeyValue surface on SQL stores.
type kvEntry struct {
	Key       string     `gorm:"primaryKey;size:255"`
	Value     []byte     `gorm:"type:bytes"`
	ExpiresAt *time.Time `gorm:"index"`
}

func (kvEntry) TableName() string { return "kv_entries" }

// Set stores value under key. A ttl of zero keeps it forever.
func (s *GormStorage) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	entry := kvEntry{Key: key, Value: value}
	if ttl > 0 {
		exp := utcNow().Add(ttl)
		entry.ExpiresAt = &exp
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&entry).Error
	return storeErr(err)
}

// Get returns the value stored under key, or core.ErrKeyNotFound.
func (s *GormStorage) Get(ctx context.Context, key string) ([]byte, error) {
	var entry kvEntry
	res := s.db.WithContext(ctx).
		Where("key = ? AND (expires_at IS NULL OR expires_at > ?)", key, utcNow()).
		Limit(1).
		Find(&entry)
	if res.Error != nil {
		return nil, storeErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, core.ErrKeyNotFound
	}
	return entry.Value, nil
}

func nextSeq(tx *gorm.DB, queue string) (int64, error) {
	var maxSeq int64
	err := tx.Model(&core.Job{}).
		Where("queue = ?", queue).
		Select("COALESCE(MAX(seq), 0)").
		Scan(&maxSeq).Error
	return maxSeq + 1, err
}

// prepareEnqueue fills defaults and resets the fields a new job must not carry.
func prepareEnqueue(job *core.Job) {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Queue == "" {
		job.Queue = core.DefaultQueue
	}
	if len(job.Args) == 0 {
		job.Args = []byte("[]")
	}
	if len(job.Kwargs) == 0 {
		job.Kwargs = []byte("{}")
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = utcNow()
	}
	job.Status = core.StatusQueued
	job.StartedAt = nil
	job.FinishedAt = nil
	job.Result = nil
	job.Error = ""
	job.LeaseOwner = ""
	job.LeaseExpiresAt = nil
	job.Deliveries = 0
}

// utcNow is truncated to milliseconds so SQL and Redis records agree on precision.
func utcNow() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// storeErr maps driver failures onto the store contract. Contract sentinels
// and context errors pass through; everything else is store unavailability.
func storeErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return core.ErrJobNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, core.ErrInvalidTransition),
		errors.Is(err, core.ErrLeaseExpired),
		errors.Is(err, core.ErrJobNotFound),
		errors.Is(err, core.ErrDuplicateJob),
		errors.Is(err, core.ErrKeyNotFound),
		errors.Is(err, core.ErrNoQueues),
		errors.Is(err, core.ErrInvalidLeaseDuration):
		return err
	}
	return core.Unavailable(err)
}

var (
	_ core.Storage  = (*GormStorage)(nil)
	_ core.KeyValue = (*GormStorage)(nil)
)
