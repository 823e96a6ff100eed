// Package context provides internal context helpers for job execution.
//
// This package is internal and should not be imported directly.
// It carries the running job, the worker that leased it, and a lease
// extension callback through context.Context into handler code.
package context
