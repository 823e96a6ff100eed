// Package reaper returns jobs with expired leases to their queues.
//
// A job whose worker died mid-flight stays leased until its lease runs out.
// The reaper finds such jobs and appends them to the tail of their queue so
// another worker can lease them. Workers embed a reaper by default; the CLI
// also runs single passes with `jobs reap`.
package reaper
