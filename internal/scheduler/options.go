package scheduler

import (
	"log/slog"

	"github.com/roach88/memsched/internal/alloc"
)

// Option configures a scheduling run.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	priority Priority
	victims  alloc.VictimOrder
	maxSteps int
}

// WithLogger sets the logger for scheduling decisions (debug level).
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithPriority overrides the priority selected by the configuration.
func WithPriority(p Priority) Option {
	return func(o *options) {
		o.priority = p
	}
}

// WithVictimOrder overrides the eviction order selected by the
// configuration.
func WithVictimOrder(v alloc.VictimOrder) Option {
	return func(o *options) {
		o.victims = v
	}
}

// WithMaxSteps overrides the step bound.
func WithMaxSteps(n int) Option {
	return func(o *options) {
		o.maxSteps = n
	}
}
