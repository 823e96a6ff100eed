package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule computes the next run time of a recurring job.
type Schedule interface {
	Next(from time.Time) time.Time
}

// cronParser accepts the classic five-field form plus descriptors like @hourly.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type everySchedule struct {
	interval time.Duration
}

// Every creates a schedule that fires at fixed intervals. Intervals below one
// second are rounded up to one second.
func Every(d time.Duration) Schedule {
	if d < time.Second {
		d = time.Second
	}
	return &everySchedule{interval: d}
}

func (s *everySchedule) Next(from time.Time) time.Time {
	return from.Add(s.interval)
}

type dailySchedule struct {
	hour   int
	minute int
	loc    *time.Location
}

// Daily creates a schedule that fires at hour:minute UTC every day.
func Daily(hour, minute int) Schedule {
	return DailyIn(hour, minute, time.UTC)
}

// DailyIn is Daily evaluated in loc.
func DailyIn(hour, minute int, loc *time.Location) Schedule {
	if loc == nil {
		loc = time.UTC
	}
	return &dailySchedule{hour: hour, minute: minute, loc: loc}
}

func (s *dailySchedule) Next(from time.Time) time.Time {
	from = from.In(s.loc)
	next := time.Date(from.Year(), from.Month(), from.Day(), s.hour, s.minute, 0, 0, s.loc)
	if !next.After(from) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

type weeklySchedule struct {
	day    time.Weekday
	hour   int
	minute int
	loc    *time.Location
}

// Weekly creates a schedule that fires on day at hour:minute UTC.
func Weekly(day time.Weekday, hour, minute int) Schedule {
	return &weeklySchedule{day: day, hour: hour, minute: minute, loc: time.UTC}
}

func (s *weeklySchedule) Next(from time.Time) time.Time {
	from = from.In(s.loc)

	daysUntil := int(s.day - from.Weekday())
	if daysUntil < 0 {
		daysUntil += 7
	}

	next := time.Date(from.Year(), from.Month(), from.Day()+daysUntil, s.hour, s.minute, 0, 0, s.loc)
	if !next.After(from) {
		next = next.AddDate(0, 0, 7)
	}
	return next
}

type cronSchedule struct {
	expr     string
	schedule cron.Schedule
}

// Cron parses a cron expression.
func Cron(expr string) (Schedule, error) {
	s, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("schedule: invalid cron expression %q: %w", expr, err)
	}
	return &cronSchedule{expr: expr, schedule: s}, nil
}

// MustCron is like Cron but panics on a bad expression.
func MustCron(expr string) Schedule {
	s, err := Cron(expr)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *cronSchedule) Next(from time.Time) time.Time {
	return s.schedule.Next(from)
}

func (s *cronSchedule) String() string { return s.expr }
