// Package worker provides the Worker type for job processing.
//
// A Worker runs a fixed number of slots. Each slot cycles through
// Idle, Leasing, Executing and Reporting, and moves to ShuttingDown when the
// worker's context is cancelled. The lease step is serialized across slots
// and bounded by LeaseWait so cancellation is noticed quickly. Jobs already
// executing run to completion and report their result before Start returns.
//
// While a handler runs, its lease is extended every HeartbeatInterval. Handler
// errors and panics mark the job failed; the worker itself keeps going. A job
// whose handler key is not registered is failed once, without retry.
//
// Most users should import the root package github.com/jdziat/simple-lease-jobs
// which provides access to worker configuration through queue.NewWorker().
package worker
