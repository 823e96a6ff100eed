// Package logger builds the process-wide *slog.Logger.
//
// New applies options over a text handler at info level writing to stderr.
// Records logged with a job handler's context (slog.InfoContext and friends)
// carry job_id and worker_id automatically.
package logger
