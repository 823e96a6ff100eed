// Package core provides the domain models and interfaces for the jobs package.
package core

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobStatus represents the current state of a job.
type JobStatus string

const (
	StatusQueued    JobStatus = "queued"    // Waiting in a queue's pending list
	StatusLeased    JobStatus = "leased"    // Popped by a worker, handler not started yet
	StatusRunning   JobStatus = "running"   // Handler executing under a live lease
	StatusSucceeded JobStatus = "succeeded" // Terminal
	StatusFailed    JobStatus = "failed"    // Terminal
)

// DefaultQueue is used when no queue name is given.
const DefaultQueue = "default"

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case StatusQueued, StatusLeased, StatusRunning, StatusSucceeded, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible from s.
func (s JobStatus) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// IsLeased reports whether a job in status s is held by a lease owner.
func (s JobStatus) IsLeased() bool {
	return s == StatusLeased || s == StatusRunning
}

// CanTransition reports whether a job may move from one status to another.
// Transitions only move forward, except for the requeue of an expired lease
// (leased or running back to queued).
func CanTransition(from, to JobStatus) bool {
	switch from {
	case StatusQueued:
		return to == StatusLeased
	case StatusLeased:
		return to == StatusRunning || to == StatusSucceeded || to == StatusFailed || to == StatusQueued
	case StatusRunning:
		return to == StatusSucceeded || to == StatusFailed || to == StatusQueued
	}
	return false
}

// Job represents a unit of work to be processed.
type Job struct {
	ID         string    `gorm:"primaryKey;size:36"`
	Queue      string    `gorm:"index:idx_jobs_pending,priority:1;size:255;not null"`
	HandlerKey string    `gorm:"index;size:255;not null"`
	Args       []byte    `gorm:"type:bytes"` // JSON array of positional arguments
	Kwargs     []byte    `gorm:"type:bytes"` // JSON object of keyword arguments
	Status     JobStatus `gorm:"index:idx_jobs_pending,priority:2;size:20;not null"`
	Seq        int64     `gorm:"index:idx_jobs_pending,priority:3"` // Position in the queue, bumped on requeue

	EnqueuedAt time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time

	// Written once, on the terminal transition
	Result []byte `gorm:"type:bytes"`
	Error  string `gorm:"type:text"`

	LeaseOwner     string     `gorm:"index;size:255"`
	LeaseExpiresAt *time.Time `gorm:"index"`
	Deliveries     int        `gorm:"default:0"`

	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// TableName pins the table name used by SQL storage.
func (Job) TableName() string { return "jobs" }

// LeaseExpired reports whether the job's lease has lapsed at now.
// A job without a lease is never considered expired.
func (j *Job) LeaseExpired(now time.Time) bool {
	if !j.Status.IsLeased() || j.LeaseExpiresAt == nil {
		return false
	}
	return !j.LeaseExpiresAt.After(now)
}

// Arguments decodes the positional arguments into raw JSON values.
func (j *Job) Arguments() ([]json.RawMessage, error) {
	if len(j.Args) == 0 {
		return nil, nil
	}
	var args []json.RawMessage
	if err := json.Unmarshal(j.Args, &args); err != nil {
		return nil, fmt.Errorf("jobs: decode args of job %s: %w", j.ID, err)
	}
	return args, nil
}

// KeywordArguments decodes the keyword arguments into raw JSON values.
func (j *Job) KeywordArguments() (Kwargs, error) {
	if len(j.Kwargs) == 0 {
		return Kwargs{}, nil
	}
	kwargs := make(Kwargs)
	if err := json.Unmarshal(j.Kwargs, &kwargs); err != nil {
		return nil, fmt.Errorf("jobs: decode kwargs of job %s: %w", j.ID, err)
	}
	return kwargs, nil
}

// DecodeResult unmarshals the stored handler result into v.
func (j *Job) DecodeResult(v any) error {
	if len(j.Result) == 0 {
		return fmt.Errorf("jobs: job %s has no result", j.ID)
	}
	return json.Unmarshal(j.Result, v)
}

type jobJSON struct {
	ID             string          `json:"id"`
	Queue          string          `json:"queue"`
	HandlerKey     string          `json:"handler_key"`
	Args           json.RawMessage `json:"args,omitempty"`
	Kwargs         json.RawMessage `json:"kwargs,omitempty"`
	Status         JobStatus       `json:"status"`
	EnqueuedAt     time.Time       `json:"enqueued_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	FinishedAt     *time.Time      `json:"finished_at,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          string          `json:"error,omitempty"`
	LeaseOwner     string          `json:"lease_owner,omitempty"`
	LeaseExpiresAt *time.Time      `json:"lease_expires_at,omitempty"`
	Deliveries     int             `json:"deliveries"`
}

// MarshalJSON renders args, kwargs and result as embedded JSON instead of base64.
func (j Job) MarshalJSON() ([]byte, error) {
	return json.Marshal(jobJSON{
		ID:             j.ID,
		Queue:          j.Queue,
		HandlerKey:     j.HandlerKey,
		Args:           rawOrNil(j.Args),
		Kwargs:         rawOrNil(j.Kwargs),
		Status:         j.Status,
		EnqueuedAt:     j.EnqueuedAt,
		StartedAt:      j.StartedAt,
		FinishedAt:     j.FinishedAt,
		Result:         rawOrNil(j.Result),
		Error:          j.Error,
		LeaseOwner:     j.LeaseOwner,
		LeaseExpiresAt: j.LeaseExpiresAt,
		Deliveries:     j.Deliveries,
	})
}

func rawOrNil(b []byte) json.RawMessage {
	if len(b) == 0 || !json.Valid(b) {
		return nil
	}
	return json.RawMessage(b)
}
