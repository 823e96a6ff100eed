// Package schedule provides schedules for recurring jobs.
//
// This package includes:
//   - Schedule interface consumed by the worker scheduler
//   - Every() for fixed-interval schedules
//   - Daily() and DailyIn() for a time of day
//   - Weekly() for a day of the week and time
//   - Cron() and MustCron() for cron expressions
//
// Most users should import the root package github.com/jdziat/simple-lease-jobs
// which re-exports these functions.
package schedule
