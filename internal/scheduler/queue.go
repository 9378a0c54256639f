package scheduler

import (
	"sort"
	"sync"
	"time"

	"github.com/timewave-computer/causality-sub006/internal/ids"
)

// Task is one pending or running sync of a relationship. Retries keep the
// task ID and bump RetryAttempt.
type Task struct {
	ID           string
	Relationship ids.RelationshipID
	SourceDomain ids.DomainID
	TargetDomain ids.DomainID
	ScheduledAt  time.Time
	ExecuteAt    time.Time
	RetryAttempt int
	// Priority orders tasks due at the same instant; lower runs first.
	Priority int
}

const (
	PriorityManual   = 0
	PriorityPeriodic = 10
)

func (t Task) before(o Task) bool {
	if !t.ExecuteAt.Equal(o.ExecuteAt) {
		return t.ExecuteAt.Before(o.ExecuteAt)
	}
	return t.Priority < o.Priority
}

// taskQueue keeps tasks ordered by (ExecuteAt, Priority), insertion order
// among equals. At most one task per relationship is queued.
//
// The signal channel wakes the run loop when a task is pushed; its buffer
// of one coalesces bursts.
type taskQueue struct {
	mu     sync.Mutex
	tasks  []Task
	signal chan struct{}
}

func newTaskQueue() *taskQueue {
	return &taskQueue{
		tasks:  make([]Task, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

func (q *taskQueue) insert(t Task) {
	i := sort.Search(len(q.tasks), func(i int) bool { return t.before(q.tasks[i]) })
	q.tasks = append(q.tasks, Task{})
	copy(q.tasks[i+1:], q.tasks[i:])
	q.tasks[i] = t
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *taskQueue) indexOf(id ids.RelationshipID) int {
	for i, t := range q.tasks {
		if t.Relationship == id {
			return i
		}
	}
	return -1
}

// Push queues t unless its relationship already has a queued task.
func (q *taskQueue) Push(t Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.indexOf(t.Relationship) >= 0 {
		return false
	}
	q.insert(t)
	return true
}

// Promote moves the queued task for id to run at now with priority, if
// that is sooner. It reports whether a task was queued.
func (q *taskQueue) Promote(id ids.RelationshipID, now time.Time, priority int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := q.indexOf(id)
	if i < 0 {
		return false
	}
	t := q.tasks[i]
	q.tasks = append(q.tasks[:i], q.tasks[i+1:]...)
	if now.Before(t.ExecuteAt) {
		t.ExecuteAt = now
	}
	if priority < t.Priority {
		t.Priority = priority
	}
	q.insert(t)
	return true
}

// Contains reports whether id has a queued task.
func (q *taskQueue) Contains(id ids.RelationshipID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.indexOf(id) >= 0
}

// PopReady removes up to max tasks due at now, in queue order, skipping
// tasks for which busy reports true.
func (q *taskQueue) PopReady(now time.Time, max int, busy func(ids.RelationshipID) bool) []Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []Task
	kept := q.tasks[:0]
	for _, t := range q.tasks {
		if len(out) < max && !t.ExecuteAt.After(now) && !busy(t.Relationship) {
			out = append(out, t)
			continue
		}
		kept = append(kept, t)
	}
	for i := len(kept); i < len(q.tasks); i++ {
		q.tasks[i] = Task{}
	}
	q.tasks = kept
	return out
}

// Snapshot returns the queued tasks in order.
func (q *taskQueue) Snapshot() []Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Task(nil), q.tasks...)
}

func (q *taskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Wait returns a channel that receives after a push.
func (q *taskQueue) Wait() <-chan struct{} {
	return q.signal
}
