// Package queue provides the Queue type, the producer and lease surface over
// a core.Storage.
//
// This package includes:
//   - Queue: handler registration, Enqueue, Lease/ExtendLease/Start/Complete/Fail
//   - Option: configuration options for job enqueueing
//   - Hook registration for job lifecycle events
//   - Event subscription for monitoring
//   - Recurring job registration for the worker scheduler
//
// Most users should import the root package github.com/jdziat/simple-lease-jobs
// which re-exports Queue and all option functions.
package queue
