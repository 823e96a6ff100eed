package queue

import "github.com/jdziat/simple-lease-jobs/pkg/core"

// DefaultQueue is the queue jobs go to unless QueueOpt says otherwise.
const DefaultQueue = core.DefaultQueue

// Options holds configuration for job enqueueing.
type Options struct {
	Queue string
	JobID string
}

// NewOptions creates Options with defaults.
func NewOptions() *Options {
	return &Options{
		Queue: DefaultQueue,
	}
}

// Option modifies Options.
type Option interface {
	Apply(*Options)
}

type optionFunc func(*Options)

func (f optionFunc) Apply(o *Options) { f(o) }

// QueueOpt sets the queue name.
func QueueOpt(name string) Option {
	return optionFunc(func(o *Options) {
		o.Queue = name
	})
}

// JobID makes Enqueue use id instead of a generated uuid. Enqueueing the
// same id twice returns core.ErrDuplicateJob.
func JobID(id string) Option {
	return optionFunc(func(o *Options) {
		o.JobID = id
	})
}
