package core

import (
	"errors"
	"fmt"
)

// Store contract errors
var (
	// ErrStoreUnavailable wraps every failure to reach the backing store.
	// It is the only error class retried with backoff.
	ErrStoreUnavailable = errors.New("jobs: store unavailable")

	// ErrInvalidTransition is returned when a status change is not allowed for the
	// job's current status or lease owner. The record is left untouched.
	ErrInvalidTransition = errors.New("jobs: invalid status transition")

	// ErrLeaseExpired is returned when the caller no longer holds a live lease.
	// The caller must stop mutating the job.
	ErrLeaseExpired = errors.New("jobs: lease expired")

	ErrJobNotFound  = errors.New("jobs: job not found")
	ErrDuplicateJob = errors.New("jobs: job with this id already exists")
	ErrKeyNotFound  = errors.New("jobs: key not found")
)

// Registry errors
var (
	ErrUnknownHandler   = errors.New("jobs: unknown handler")
	ErrDuplicateHandler = errors.New("jobs: handler key already registered")
	ErrRegistryFrozen   = errors.New("jobs: registry is frozen")
)

// Validation errors
var (
	ErrInvalidHandlerKey    = errors.New("jobs: invalid handler key (must be alphanumeric, start with letter)")
	ErrHandlerKeyTooLong    = errors.New("jobs: handler key too long")
	ErrInvalidQueueName     = errors.New("jobs: invalid queue name")
	ErrQueueNameTooLong     = errors.New("jobs: queue name too long")
	ErrJobArgsTooLarge      = errors.New("jobs: job arguments exceed size limit")
	ErrNoQueues             = errors.New("jobs: at least one queue name is required")
	ErrInvalidLeaseDuration = errors.New("jobs: lease duration must be positive")
)

// Unavailable wraps err so that errors.Is(err, ErrStoreUnavailable) holds.
// A nil err stays nil.
func Unavailable(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
