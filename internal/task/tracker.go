package task

import (
	"errors"
	"sync"
	"time"
)

// Sentinel errors for tracker misuse.
var (
	// ErrInvalidPhase rejects SetTasks outside the planning phase. The
	// tracker itself only knows whether a plan already exists; the router
	// performs the phase check against workflow status.
	ErrInvalidPhase = errors.New("task: tasks may only be set during planning")
	// ErrNoMoreTasks rejects Advance past the end of the plan.
	ErrNoMoreTasks = errors.New("task: no more tasks")
	// ErrEmptyPlan rejects a plan with no tasks.
	ErrEmptyPlan = errors.New("task: plan is empty")
)

// Task is one planned unit of work. The plan is created once at the start of
// the coding phase and only ever appended before work begins; tasks are never
// reordered or deleted mid-run.
type Task struct {
	Description string     `json:"description"`
	File        string     `json:"file,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Status is derived from the task's position relative to the current index;
// it is never stored.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// View is a task plus its derived status, shaped for polling consumers.
type View struct {
	Task
	Status Status `json:"status"`
}

// Tracker holds the ordered task plan and the monotone current index.
type Tracker struct {
	clock func() time.Time

	mu    sync.RWMutex
	tasks []Task
	index int
}

// Option customizes a Tracker.
type Option func(*Tracker)

// WithClock overrides the completion timestamp source.
func WithClock(clock func() time.Time) Option {
	return func(tr *Tracker) {
		if clock != nil {
			tr.clock = clock
		}
	}
}

// NewTracker returns an empty tracker.
func NewTracker(opts ...Option) *Tracker {
	tr := &Tracker{clock: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(tr)
	}
	return tr
}

// SetTasks stores the ordered plan. It may be called exactly once per run; a
// second call fails because planning has already ended.
func (tr *Tracker) SetTasks(tasks []Task) error {
	if len(tasks) == 0 {
		return ErrEmptyPlan
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.tasks) > 0 {
		return ErrInvalidPhase
	}
	tr.tasks = make([]Task, len(tasks))
	copy(tr.tasks, tasks)
	tr.index = 0
	return nil
}

// Advance marks the in-progress task completed and moves the index forward.
// The index never decreases except through Reset.
func (tr *Tracker) Advance() error {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.index >= len(tr.tasks) {
		return ErrNoMoreTasks
	}
	done := tr.clock()
	tr.tasks[tr.index].CompletedAt = &done
	tr.index++
	return nil
}

// Index returns the current task index.
func (tr *Tracker) Index() int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return tr.index
}

// Len returns the number of planned tasks.
func (tr *Tracker) Len() int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.tasks)
}

// Done reports whether every task has been completed.
func (tr *Tracker) Done() bool {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.tasks) > 0 && tr.index >= len(tr.tasks)
}

// Progress returns the completed fraction, derived on demand.
func (tr *Tracker) Progress() float64 {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	if len(tr.tasks) == 0 {
		return 0
	}
	return float64(tr.index) / float64(len(tr.tasks))
}

// Snapshot returns a point-in-time copy of the plan with derived statuses
// plus the current index.
func (tr *Tracker) Snapshot() ([]View, int) {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	views := make([]View, len(tr.tasks))
	for i, t := range tr.tasks {
		status := StatusPending
		switch {
		case i < tr.index:
			status = StatusCompleted
		case i == tr.index:
			status = StatusInProgress
		}
		views[i] = View{Task: t, Status: status}
	}
	return views, tr.index
}

// Reset discards the plan and returns the index to zero.
func (tr *Tracker) Reset() {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.tasks = nil
	tr.index = 0
}
