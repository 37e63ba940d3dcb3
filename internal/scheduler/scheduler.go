package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/roach88/memsched/internal/alloc"
	"github.com/roach88/memsched/internal/depgraph"
	"github.com/roach88/memsched/internal/ir"
)

// Residency is one interval during which an allocation root holds a primary
// address. Generation counts reloads of the root (0 for the first
// residency). EvictedBy and FilledBy index Result.Spills (-1 when the
// residency did not end in an eviction or did not start with a reload).
type Residency struct {
	ir.Placement
	Generation int
	EvictedBy  int
	FilledBy   int
}

// Result is the raw output of the scheduler, in scheduler logical time.
type Result struct {
	Schedule    []ir.ScheduledOp
	Residencies []Residency
	Spills      []ir.SpillRecord
	Peak        int64
	Makespan    int
}

// Placements returns the residencies as plain placements.
func (r *Result) Placements() []ir.Placement {
	out := make([]ir.Placement, len(r.Residencies))
	for i, res := range r.Residencies {
		out[i] = res.Placement
	}
	return out
}

// TimeOf returns the logical time a task was scheduled at.
func (r *Result) TimeOf(task int) (int, bool) {
	for _, op := range r.Schedule {
		if op.Task == task {
			return op.Time, true
		}
	}
	return 0, false
}

type scheduler struct {
	a     *depgraph.Analysis
	cfg   ir.Config
	log   *slog.Logger
	clock *Clock
	mem   *alloc.Allocator[string]
	ready *readyQueue
	quota *stepQuota

	rank      []int // position in topological order
	bytes     []int64
	scheduled []bool
	timeOf    []int
	waiting   []int          // unscheduled predecessors per task
	keeps     [][]string     // roots each task keeps alive
	remaining map[string]int // unscheduled users per root
	execAt    map[ir.ExecutorKind]bool
	pinned    map[string]bool
	current   int // task being attempted

	open        map[string]int // root -> open residency
	spilled     map[string]int // root -> spill record awaiting reload
	gen         map[string]int // root -> fill generation
	residencies []Residency
	spills      []ir.SpillRecord
	schedule    []ir.ScheduledOp
}

// Schedule orders the tasks of a and assigns primary addresses under the
// capacity of cfg.Primary.
//
// Failures: INFEASIBLE_ALLOCATION when no ready task fits even after
// exhausting spill candidates and moving its resident operands, UNSUPPORTED_SPILL when a spill is needed but
// the primary memory forbids it, DOUBLE_ALLOCATION for overlapping fixed
// buffers, StepsExceededError if the step bound is hit, and ctx.Err() when
// ctx is cancelled.
func Schedule(ctx context.Context, a *depgraph.Analysis, cfg ir.Config, opts ...Option) (*Result, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.priority == nil {
		p, err := PriorityByName(cfg.Priority)
		if err != nil {
			return nil, err
		}
		o.priority = p
	}
	if o.victims == nil {
		v, err := alloc.VictimOrderByName(cfg.Victim)
		if err != nil {
			return nil, err
		}
		o.victims = v
	}
	n := len(a.Graph.Tasks)
	if o.maxSteps == 0 {
		o.maxSteps = cfg.MaxSteps
	}
	if o.maxSteps == 0 {
		o.maxSteps = DefaultMaxSteps(n)
	}

	s := &scheduler{
		a:         a,
		cfg:       cfg,
		log:       o.logger,
		clock:     NewClock(),
		ready:     newReadyQueue(o.priority),
		quota:     newStepQuota(o.maxSteps),
		rank:      make([]int, n),
		bytes:     make([]int64, n),
		scheduled: make([]bool, n),
		timeOf:    make([]int, n),
		waiting:   make([]int, n),
		keeps:     make([][]string, n),
		remaining: make(map[string]int),
		execAt:    make(map[ir.ExecutorKind]bool),
		pinned:    make(map[string]bool),
		open:      make(map[string]int),
		spilled:   make(map[string]int),
		gen:       make(map[string]int),
	}

	allocOpts := []alloc.Option{
		alloc.WithAlignment(cfg.Primary.Alignment),
		alloc.WithVictimOrder(o.victims),
		alloc.WithMemoryName(string(ir.MemoryPrimary)),
	}
	if cfg.Primary.ForbidSpills {
		allocOpts = append(allocOpts, alloc.WithSpillsForbidden())
	}
	s.mem = alloc.New[string](bufferHandler{s: s}, cfg.Primary.Capacity, allocOpts...)

	if err := s.init(); err != nil {
		return nil, err
	}
	if err := s.run(ctx); err != nil {
		return nil, err
	}
	return s.result(), nil
}

func (s *scheduler) init() error {
	for pos, v := range s.a.Order {
		s.rank[v] = pos
	}
	for _, root := range s.a.RootIDs() {
		if !s.a.Scheduled(root) {
			continue
		}
		users := s.a.Users(root)
		s.remaining[root] = len(users)
		for _, u := range users {
			s.keeps[u] = append(s.keeps[u], root)
		}
	}
	for v := range s.a.Graph.Tasks {
		s.waiting[v] = len(s.a.Preds[v])
		reads, writes := s.a.TaskRoots(v)
		for _, r := range union(reads, writes) {
			s.bytes[v] += s.a.Buffer(r).Size
		}
	}

	// Fixed primary buffers keep their pre-placed range for the whole pass.
	for _, root := range s.a.RootIDs() {
		b := s.a.Buffer(root)
		if !b.Fixed || !b.InPrimary() {
			continue
		}
		if err := s.mem.Reserve(b.Address, b.Size); err != nil {
			var pe *ir.PassError
			if errors.As(err, &pe) {
				pe.WithBuffer(root)
			}
			return err
		}
	}

	for v := range s.a.Graph.Tasks {
		if s.waiting[v] == 0 {
			s.ready.push(s.readyTask(v))
		}
	}
	return nil
}

func (s *scheduler) readyTask(v int) ReadyTask {
	return ReadyTask{Index: v, PathLen: s.a.PathLen[v], Bytes: s.bytes[v]}
}

func (s *scheduler) run(ctx context.Context) error {
	n := len(s.a.Graph.Tasks)
	for len(s.schedule) < n {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.quota.check(); err != nil {
			return err
		}
		if s.clock.Started() {
			joined, err := s.tryJoin()
			if err != nil {
				return err
			}
			if joined {
				continue
			}
		}
		if err := s.advance(); err != nil {
			return err
		}
	}
	return nil
}

// tryJoin schedules the best ready task that can share the current time.
func (s *scheduler) tryJoin() (bool, error) {
	now := s.clock.Now()
	candidates := s.ready.drain()
	defer s.requeue(candidates)

	for _, c := range candidates {
		task := s.a.Graph.Tasks[c.Index]
		if s.execAt[task.Executor] || s.predAt(c.Index, now) {
			continue
		}
		need, reloads := s.need(c.Index)
		if reloads > 0 {
			continue
		}
		ok, err := s.attempt(c.Index, need, false)
		if err != nil {
			return false, err
		}
		if ok {
			s.commitTask(c.Index)
			return true, nil
		}
	}
	return false, nil
}

// advance moves to the next logical time, frees dead buffers and schedules
// the best ready task, spilling if nothing fits otherwise.
func (s *scheduler) advance() error {
	now := s.clock.Advance()
	clear(s.execAt)

	for _, r := range s.mem.FreeNonAlive(func(r string) bool { return s.remaining[r] == 0 }) {
		s.close(r, now-1)
		s.log.Debug("freed buffer", "buffer", r, "time", now)
	}

	candidates := s.ready.drain()
	defer s.requeue(candidates)
	if len(candidates) == 0 {
		return ir.Errorf(ir.ErrCodeInvariantViolation, "no ready task at time %d", now)
	}

	for _, allowSpills := range []bool{false, true} {
		var firstErr error
		for _, c := range candidates {
			need, _ := s.need(c.Index)
			ok, err := s.attempt(c.Index, need, allowSpills)
			if err != nil {
				if !allowSpills || !ir.IsCode(err, ir.ErrCodeInfeasibleAllocation) {
					return s.taskError(c.Index, err)
				}
				if firstErr == nil {
					firstErr = s.taskError(c.Index, err)
				}
				continue
			}
			if ok {
				s.commitTask(c.Index)
				return nil
			}
		}
		if firstErr != nil {
			return firstErr
		}
	}
	return ir.Errorf(ir.ErrCodeInfeasibleAllocation, "no ready task can be scheduled at time %d", now).
		WithTask(s.a.Graph.Tasks[candidates[0].Index].Label()).
		WithDetail("capacity", s.cfg.Primary.Capacity)
}

// need returns the task's roots that have no address yet, and how many of
// them are spilled (reloads).
func (s *scheduler) need(v int) ([]string, int) {
	reads, writes := s.a.TaskRoots(v)
	var need []string
	reloads := 0
	for _, r := range union(reads, writes) {
		if s.mem.IsLive(r) {
			continue
		}
		need = append(need, r)
		if _, ok := s.spilled[r]; ok {
			reloads++
		}
	}
	return need, reloads
}

// attempt tries to allocate need for task v with every root of v pinned.
// With spills allowed, a need that only fails for lack of a contiguous range
// is retried with v's resident operands moved. ErrNoFit is reported as
// (false, nil).
func (s *scheduler) attempt(v int, need []string, allowSpills bool) (bool, error) {
	reads, writes := s.a.TaskRoots(v)
	roots := union(reads, writes)
	s.current = v
	for _, r := range roots {
		s.pinned[r] = true
	}
	defer func() {
		for _, r := range roots {
			delete(s.pinned, r)
		}
	}()

	evictions, err := s.mem.Allocate(need, allowSpills)
	if errors.Is(err, alloc.ErrNoFit) {
		return false, nil
	}
	if allowSpills && ir.IsCode(err, ir.ErrCodeInfeasibleAllocation) {
		// The operands already in memory may split the free space.
		if resident := s.resident(roots); len(resident) > 0 {
			evictions, err = s.mem.AllocateMoving(need, resident)
		}
	}
	if err != nil {
		return false, err
	}
	if len(evictions) > 0 {
		s.log.Debug("spilled for task",
			"task", s.a.Graph.Tasks[v].Label(),
			"time", s.clock.Now(),
			"evictions", len(evictions))
	}
	return true, nil
}

// resident returns the roots that currently hold an allocated address.
// Fixed roots are reserved, never live.
func (s *scheduler) resident(roots []string) []string {
	var out []string
	for _, r := range roots {
		if s.mem.IsLive(r) {
			out = append(out, r)
		}
	}
	return out
}

func (s *scheduler) commitTask(v int) {
	now := s.clock.Now()
	task := s.a.Graph.Tasks[v]
	s.scheduled[v] = true
	s.timeOf[v] = now
	s.execAt[task.Executor] = true
	s.schedule = append(s.schedule, ir.ScheduledOp{Task: v, Time: now, Original: true})
	for _, r := range s.keeps[v] {
		s.remaining[r]--
	}
	for _, succ := range s.a.Succs[v] {
		s.waiting[succ]--
		if s.waiting[succ] == 0 {
			s.ready.push(s.readyTask(succ))
		}
	}
	s.log.Debug("scheduled task", "task", task.Label(), "time", now, "used", s.mem.Used())
}

// requeue puts back every candidate that was not scheduled.
func (s *scheduler) requeue(candidates []ReadyTask) {
	for _, c := range candidates {
		if !s.scheduled[c.Index] {
			s.ready.push(c)
		}
	}
}

func (s *scheduler) predAt(v, now int) bool {
	for _, p := range s.a.Preds[v] {
		if s.scheduled[p] && s.timeOf[p] == now {
			return true
		}
	}
	return false
}

func (s *scheduler) close(r string, end int) {
	if idx, ok := s.open[r]; ok {
		s.residencies[idx].End = end
		delete(s.open, r)
	}
}

func (s *scheduler) taskError(v int, err error) error {
	var pe *ir.PassError
	if errors.As(err, &pe) {
		if pe.Task == "" {
			pe.WithTask(s.a.Graph.Tasks[v].Label())
		}
		pe.WithDetail("peak_demand", s.bytes[v]).WithDetail("time", s.clock.Now())
		return pe
	}
	return fmt.Errorf("schedule %s: %w", s.a.Graph.Tasks[v].Label(), err)
}

func (s *scheduler) result() *Result {
	last := s.clock.Now()
	for _, r := range s.mem.Live() {
		s.close(r, last)
	}

	// Fixed primary buffers occupy their range for the whole schedule.
	for _, root := range s.a.RootIDs() {
		b := s.a.Buffer(root)
		if !b.Fixed || !b.InPrimary() {
			continue
		}
		s.residencies = append(s.residencies, Residency{
			Placement: ir.Placement{
				Buffer: root,
				Root:   root,
				Offset: b.Address,
				Size:   b.Size,
				Start:  0,
				End:    last,
				Memory: ir.MemoryPrimary,
			},
			EvictedBy: -1,
			FilledBy:  -1,
		})
	}

	sort.SliceStable(s.schedule, func(i, j int) bool {
		if s.schedule[i].Time != s.schedule[j].Time {
			return s.schedule[i].Time < s.schedule[j].Time
		}
		return s.schedule[i].Task < s.schedule[j].Task
	})

	s.log.Debug("schedule complete",
		"tasks", len(s.schedule),
		"makespan", last+1,
		"spills", len(s.spills),
		"peak", s.mem.Peak())

	return &Result{
		Schedule:    s.schedule,
		Residencies: s.residencies,
		Spills:      s.spills,
		Peak:        s.mem.Peak(),
		Makespan:    last + 1,
	}
}

// union merges two sorted, de-duplicated slices.
func union(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		switch {
		case j >= len(b) || (i < len(a) && a[i] < b[j]):
			out = append(out, a[i])
			i++
		case i >= len(a) || b[j] < a[i]:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	return out
}
