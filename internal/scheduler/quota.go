package scheduler

import (
	"errors"
	"fmt"
)

// stepQuota bounds the number of scheduling steps.
//
// Every step schedules exactly one task or fails, so a correct run needs one
// step per task. The quota turns a scheduler bug into an error instead of a
// hang.
type stepQuota struct {
	maxSteps int
	current  int
}

func newStepQuota(maxSteps int) *stepQuota {
	return &stepQuota{maxSteps: maxSteps}
}

// check increments the step counter and validates it against the limit.
func (q *stepQuota) check() error {
	q.current++
	if q.current > q.maxSteps {
		return &StepsExceededError{Steps: q.current, Limit: q.maxSteps}
	}
	return nil
}

// DefaultMaxSteps returns the step bound used when none is configured.
func DefaultMaxSteps(tasks int) int {
	return 4*tasks + 16
}

// StepsExceededError is returned when scheduling runs past its step bound.
type StepsExceededError struct {
	Steps int
	Limit int
}

// Error implements the error interface.
func (e *StepsExceededError) Error() string {
	return fmt.Sprintf("scheduler exceeded max steps quota: %d steps > %d limit", e.Steps, e.Limit)
}

// IsStepsExceededError returns true if the error is a StepsExceededError.
// Uses errors.As to handle wrapped errors.
func IsStepsExceededError(err error) bool {
	var se *StepsExceededError
	return errors.As(err, &se)
}
