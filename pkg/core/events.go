package core

import "time"

// Event is the interface for all queue events.
type Event interface {
	eventMarker()
}

// JobEnqueued is emitted after a job is persisted.
type JobEnqueued struct {
	Job       *Job
	Timestamp time.Time
}

func (*JobEnqueued) eventMarker() {}

// JobStarted is emitted when a worker starts executing a job.
type JobStarted struct {
	Job       *Job
	WorkerID  string
	Timestamp time.Time
}

func (*JobStarted) eventMarker() {}

// JobCompleted is emitted when a job succeeds.
type JobCompleted struct {
	Job       *Job
	Duration  time.Duration
	Timestamp time.Time
}

func (*JobCompleted) eventMarker() {}

// JobFailed is emitted when a job is marked failed.
type JobFailed struct {
	Job       *Job
	Error     error
	Timestamp time.Time
}

func (*JobFailed) eventMarker() {}

// JobRequeued is emitted when the reaper returns an expired lease to its queue.
type JobRequeued struct {
	JobID     string
	Timestamp time.Time
}

func (*JobRequeued) eventMarker() {}

// LeaseLost is emitted when a worker finds it no longer owns a job it was running.
type LeaseLost struct {
	Job       *Job
	WorkerID  string
	Timestamp time.Time
}

func (*LeaseLost) eventMarker() {}
