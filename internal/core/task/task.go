package task

import (
	"sync/atomic"
	"time"

	"github.com/simcore/engine/internal/core/hashid"
)

// TickFunc is the body of a task. dt is the frame delta, or the fixed step
// when the task runs in FixedUpdate.
type TickFunc func(dt time.Duration)

// Task is a schedulable unit of work. It is created once, registered with a
// Scheduler and executed every frame its start stage runs.
type Task struct {
	ID         uint64
	Name       string
	StartStage Stage
	MainThread bool

	blocks Stage
	tick   TickFunc
	deps   []*Task

	completed atomic.Bool
	ticked    atomic.Bool
}

// Option configures a Task.
type Option func(*Task)

// OnStage sets the stage the task becomes eligible in.
func OnStage(s Stage) Option {
	return func(t *Task) { t.StartStage = s }
}

// Blocks overrides the stage that waits for the task. The default is the
// stage right after the start stage.
func Blocks(s Stage) Option {
	return func(t *Task) { t.blocks = s }
}

// MainThread pins the task to the goroutine driving the frame.
func MainThread() Option {
	return func(t *Task) { t.MainThread = true }
}

// New creates a task whose id is the hash of name.
func New(name string, tick TickFunc, opts ...Option) *Task {
	t := &Task{
		ID:         hashid.String(name),
		Name:       name,
		StartStage: FrameHead,
		blocks:     AutoNext,
		tick:       tick,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// BlocksStage returns the effective stage that must wait for this task.
func (t *Task) BlocksStage() Stage {
	if t.blocks != AutoNext {
		return t.blocks
	}
	return t.StartStage.Next()
}

// AddDependency attaches a child task. Children run synchronously right after
// the parent, on the same goroutine, in the order they were added.
func (t *Task) AddDependency(child *Task) *Task {
	t.deps = append(t.deps, child)
	return child
}

// Dependencies returns the child tasks.
func (t *Task) Dependencies() []*Task { return t.deps }

// Find returns the task with the given id from this task's tree.
func (t *Task) Find(id uint64) *Task {
	if t.ID == id {
		return t
	}
	for _, d := range t.deps {
		if found := d.Find(id); found != nil {
			return found
		}
	}
	return nil
}

// Execute runs the tick and then every dependency.
func (t *Task) Execute(dt time.Duration) {
	t.ticked.Store(true)
	t.completed.Store(false)
	if t.tick != nil {
		t.tick(dt)
	}
	for _, d := range t.deps {
		d.Execute(dt)
	}
	t.completed.Store(true)
}

// Completed reports whether the last execution finished.
func (t *Task) Completed() bool { return t.completed.Load() }

// TickedThisFrame reports whether the task started executing this frame.
func (t *Task) TickedThisFrame() bool { return t.ticked.Load() }
