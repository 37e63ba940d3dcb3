package scheduler

// Clock is the scheduler's logical time.
//
// Logical times start at 0 and only move forward. Several tasks may share a
// logical time; a time advances when no ready task can join it.
type Clock struct {
	now int
}

// NewClock creates a clock that has not started yet.
func NewClock() *Clock {
	return &Clock{now: -1}
}

// Advance moves to the next logical time and returns it.
func (c *Clock) Advance() int {
	c.now++
	return c.now
}

// Now returns the current logical time, or -1 before the first Advance.
func (c *Clock) Now() int {
	return c.now
}

// Started reports whether Advance was called at least once.
func (c *Clock) Started() bool {
	return c.now >= 0
}
