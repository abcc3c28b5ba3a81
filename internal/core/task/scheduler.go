package task

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/simcore/engine/internal/core/worker"
	"go.uber.org/zap"
)

// Scheduler owns every registered task and drives one frame per TickFrame
// call, walking the stage ring in order.
//
// A stage does not begin until every task whose blocks-stage is that stage
// has completed. There is no timeout: a task that never returns stalls its
// blocked stage, and with it the frame, forever.
type Scheduler struct {
	mu       sync.Mutex
	tasks    []*Task
	byStart  map[Stage][]*Task
	byBlocks map[Stage][]*Task

	pool     *worker.Pool
	barriers [stageCount]sync.WaitGroup

	fixedStep     time.Duration
	maxFixedSteps int
	accumulator   time.Duration
	lastFrame     time.Time
	frameDelta    atomic.Int64
	frame         atomic.Uint64
	now           func() time.Time

	statsMu sync.Mutex
	stats   [stageCount]StageStats

	log *zap.Logger
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithFixedFPS sets the rate of the FixedUpdate stage.
func WithFixedFPS(fps float64) SchedulerOption {
	return func(s *Scheduler) {
		if fps > 0 {
			s.fixedStep = time.Duration(float64(time.Second) / fps)
		}
	}
}

// WithMaxFixedSteps clamps FixedUpdate catch-up iterations per frame. Zero
// means unlimited.
func WithMaxFixedSteps(n int) SchedulerOption {
	return func(s *Scheduler) { s.maxFixedSteps = n }
}

// WithClock replaces time.Now for frame timing.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// DefaultFixedFPS is the FixedUpdate rate when none is configured.
const DefaultFixedFPS = 50.0

func NewScheduler(pool *worker.Pool, log *zap.Logger, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		tasks:    make([]*Task, 0, 32),
		byStart:  make(map[Stage][]*Task),
		byBlocks: make(map[Stage][]*Task),
		pool:     pool,
		now:      time.Now,
		log:      log.Named("scheduler"),
	}
	WithFixedFPS(DefaultFixedFPS)(s)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a task at its StartStage. Tasks registered at the same stage
// are dispatched in registration order.
func (s *Scheduler) Register(t *Task) error {
	if !t.StartStage.Valid() {
		return fmt.Errorf("task %s: invalid start stage %s", t.Name, t.StartStage)
	}
	if b := t.BlocksStage(); !b.Valid() {
		return fmt.Errorf("task %s: invalid blocks stage %s", t.Name, b)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, t)
	s.byStart[t.StartStage] = append(s.byStart[t.StartStage], t)
	s.byBlocks[t.BlocksStage()] = append(s.byBlocks[t.BlocksStage()], t)
	s.log.Debug("task registered",
		zap.String("task", t.Name),
		zap.String("start", t.StartStage.String()),
		zap.String("blocks", t.BlocksStage().String()),
		zap.Bool("main_thread", t.MainThread),
	)
	return nil
}

// RegisterOn sets the task's start stage and registers it.
func (s *Scheduler) RegisterOn(stage Stage, t *Task) error {
	t.StartStage = stage
	return s.Register(t)
}

// Remove unregisters the task with the given id. A frame already in
// progress still runs it.
func (s *Scheduler) Remove(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	found := false
	s.tasks = without(s.tasks, id, &found)
	for stage, list := range s.byStart {
		s.byStart[stage] = without(list, id, nil)
	}
	for stage, list := range s.byBlocks {
		s.byBlocks[stage] = without(list, id, nil)
	}
	return found
}

func without(list []*Task, id uint64, found *bool) []*Task {
	out := make([]*Task, 0, len(list))
	for _, t := range list {
		if t.ID == id {
			if found != nil {
				*found = true
			}
			continue
		}
		out = append(out, t)
	}
	return out
}

// Find searches registered tasks and their dependencies.
func (s *Scheduler) Find(id uint64) *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if found := t.Find(id); found != nil {
			return found
		}
	}
	return nil
}

// Tasks returns the registered top-level tasks.
func (s *Scheduler) Tasks() []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Task(nil), s.tasks...)
}

// BlockersOf returns the registered tasks whose blocks-stage is stage.
func (s *Scheduler) BlockersOf(stage Stage) []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Task(nil), s.byBlocks[stage]...)
}

// FixedDelta is the FixedUpdate step.
func (s *Scheduler) FixedDelta() time.Duration { return s.fixedStep }

// FrameDelta is the wall time between the last two frames. It is safe to
// call from worker tasks.
func (s *Scheduler) FrameDelta() time.Duration { return time.Duration(s.frameDelta.Load()) }

// Frame returns the number of completed frames.
func (s *Scheduler) Frame() uint64 { return s.frame.Load() }

// IsIdle reports whether every worker is idle.
func (s *Scheduler) IsIdle() bool { return s.pool.IsIdle() }

// TickFrame runs one frame. It must be called from a single goroutine, which
// also executes every main-thread task.
func (s *Scheduler) TickFrame() {
	now := s.now()
	dt := s.fixedStep
	if !s.lastFrame.IsZero() {
		dt = now.Sub(s.lastFrame)
	}
	s.lastFrame = now
	s.frameDelta.Store(int64(dt))

	s.mu.Lock()
	starts := make(map[Stage][]*Task, len(s.byStart))
	for stage, list := range s.byStart {
		starts[stage] = list
	}
	all := s.tasks
	s.mu.Unlock()

	for _, t := range all {
		t.ticked.Store(false)
	}

	s.accumulator += dt
	for _, stage := range Stages() {
		if stage == FixedUpdate {
			s.runFixed(starts[stage])
			continue
		}
		s.runStage(stage, starts[stage], dt, nil)
	}
	s.frame.Add(1)
}

// runFixed runs FixedUpdate once per whole fixed step in the accumulator.
// Blockers of FixedUpdate are awaited even when no step is due, and each
// iteration waits for the previous one so a task never overlaps itself.
func (s *Scheduler) runFixed(tasks []*Task) {
	s.wait(FixedUpdate)
	var prev sync.WaitGroup
	steps := 0
	for s.accumulator >= s.fixedStep {
		if s.maxFixedSteps > 0 && steps >= s.maxFixedSteps {
			dropped := s.accumulator
			s.accumulator %= s.fixedStep
			s.log.Debug("fixed update behind, dropping time",
				zap.Duration("dropped", dropped-s.accumulator),
				zap.Int("steps", steps),
			)
			break
		}
		prev.Wait()
		s.runStage(FixedUpdate, tasks, s.fixedStep, &prev)
		s.accumulator -= s.fixedStep
		steps++
	}
}

func (s *Scheduler) wait(stage Stage) time.Duration {
	start := time.Now()
	s.barriers[stage].Wait()
	return time.Since(start)
}

func (s *Scheduler) runStage(stage Stage, tasks []*Task, dt time.Duration, iter *sync.WaitGroup) {
	start := time.Now()
	blocked := s.wait(stage)

	inline := make([]*run, 0, 4)
	for _, t := range tasks {
		r := &run{task: t, dt: dt, barrier: &s.barriers[t.BlocksStage()], iter: iter}
		r.barrier.Add(1)
		if iter != nil {
			iter.Add(1)
		}
		if t.MainThread {
			inline = append(inline, r)
			continue
		}
		s.pool.Dispatch(r)
	}
	for _, r := range inline {
		r.Run()
	}

	s.record(stage, len(tasks), time.Since(start), blocked)
}

// RunOneShot executes a task outside the stage ring, inline when it is a
// main-thread task and on a worker otherwise.
func (s *Scheduler) RunOneShot(t *Task) {
	if t == nil {
		return
	}
	r := &run{task: t, dt: s.FrameDelta()}
	if t.MainThread {
		r.Run()
		return
	}
	s.pool.Dispatch(r)
}

// run binds a task to the frame it was dispatched in.
type run struct {
	task    *Task
	dt      time.Duration
	barrier *sync.WaitGroup
	iter    *sync.WaitGroup
}

func (r *run) Run() {
	r.task.Execute(r.dt)
	if r.barrier != nil {
		r.barrier.Done()
	}
	if r.iter != nil {
		r.iter.Done()
	}
}
