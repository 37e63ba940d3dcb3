package scheduler

import (
	"cmp"
	"fmt"

	"github.com/emirpasic/gods/v2/queues/priorityqueue"

	"github.com/roach88/memsched/internal/ir"
)

// ReadyTask is a task whose predecessors are all scheduled.
type ReadyTask struct {
	Index   int
	PathLen int   // longest remaining path, the task included
	Bytes   int64 // bytes of the primary roots the task touches
}

// Priority orders ready tasks. A negative result means a is tried before b.
// Orders must be total over Index to stay deterministic.
type Priority func(a, b ReadyTask) int

// CriticalPath prefers the longest remaining path, then the smaller memory
// footprint, then program order.
func CriticalPath(a, b ReadyTask) int {
	if c := cmp.Compare(b.PathLen, a.PathLen); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Bytes, b.Bytes); c != 0 {
		return c
	}
	return cmp.Compare(a.Index, b.Index)
}

// ProgramOrder schedules ready tasks by input index.
func ProgramOrder(a, b ReadyTask) int {
	return cmp.Compare(a.Index, b.Index)
}

// PriorityByName returns the priority registered under name.
func PriorityByName(name string) (Priority, error) {
	switch name {
	case "", ir.PriorityCriticalPath:
		return CriticalPath, nil
	case ir.PriorityProgramOrder:
		return ProgramOrder, nil
	default:
		return nil, fmt.Errorf("unknown priority %q", name)
	}
}

// readyQueue holds ready tasks in priority order.
type readyQueue struct {
	q *priorityqueue.Queue[ReadyTask]
}

func newReadyQueue(p Priority) *readyQueue {
	return &readyQueue{q: priorityqueue.NewWith(func(a, b ReadyTask) int {
		return p(a, b)
	})}
}

func (r *readyQueue) push(t ReadyTask) {
	r.q.Enqueue(t)
}

func (r *readyQueue) len() int {
	return r.q.Size()
}

// drain removes every ready task and returns them in priority order.
func (r *readyQueue) drain() []ReadyTask {
	out := make([]ReadyTask, 0, r.q.Size())
	for {
		t, ok := r.q.Dequeue()
		if !ok {
			return out
		}
		out = append(out, t)
	}
}
