package harness

import "github.com/roach88/memsched/internal/ir"

// TimelineEvent is one planned task in time order.
type TimelineEvent struct {
	Time     int             `json:"time"`
	Task     string          `json:"task"`
	Kind     ir.TaskKind     `json:"kind,omitempty"`
	Executor ir.ExecutorKind `json:"executor"`
	Source   int             `json:"source"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every assertion holds.
	Pass bool `json:"pass"`

	// Plan is the reconciled plan, nil when the pass failed.
	Plan *ir.Plan `json:"plan,omitempty"`

	// Timeline lists the planned tasks ordered by logical time.
	Timeline []TimelineEvent `json:"timeline"`

	// RunID identifies the stored run in the scenario's store.
	RunID string `json:"run_id,omitempty"`

	// ErrorCode and Failure describe a failed pass.
	ErrorCode ir.ErrorCode `json:"error_code,omitempty"`
	Failure   string       `json:"failure,omitempty"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:     true,
		Timeline: []TimelineEvent{},
		Errors:   []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// SetPlan records a successful plan and derives the timeline from it.
func (r *Result) SetPlan(plan *ir.Plan) {
	r.Plan = plan
	r.Timeline = r.Timeline[:0]
	for _, op := range plan.Schedule {
		t := plan.Tasks[op.Task]
		r.Timeline = append(r.Timeline, TimelineEvent{
			Time:     op.Time,
			Task:     t.Label(),
			Kind:     t.Kind,
			Executor: t.Executor,
			Source:   t.Source,
		})
	}
}

// SetFailure records a failed pass.
func (r *Result) SetFailure(err error) {
	r.ErrorCode = ir.CodeOf(err)
	r.Failure = err.Error()
}
