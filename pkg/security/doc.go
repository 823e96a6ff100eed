// Package security provides validation, sanitization, and limits for the jobs package.
//
// This package includes:
//   - Input validation for handler keys and queue names
//   - Error message sanitization before results are stored
//   - Clamping of worker concurrency and reaper batch sizes
//
// Most users should import the root package github.com/jdziat/simple-lease-jobs
// which re-exports these functions.
package security
