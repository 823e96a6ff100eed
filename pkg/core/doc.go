// Package core provides the fundamental types and interfaces for the jobs package.
//
// This package contains:
//   - The Job record and its status lifecycle
//   - Storage interface defining the store contract (lease, complete, fail, requeue)
//   - Event types for queue monitoring
//   - Sentinel errors shared by storage, queue and worker
//
// Most users should import the root package github.com/jdziat/simple-lease-jobs
// instead of this package directly.
package core
