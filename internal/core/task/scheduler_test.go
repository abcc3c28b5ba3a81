package task

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/simcore/engine/internal/core/worker"
	"go.uber.org/zap/zaptest"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestScheduler(t *testing.T, workers int, opts ...SchedulerOption) *Scheduler {
	t.Helper()
	log := zaptest.NewLogger(t)
	pool := worker.NewPool(workers, log)
	t.Cleanup(pool.Shutdown)
	return NewScheduler(pool, log, opts...)
}

func TestBlockingTaskGatesNextStage(t *testing.T) {
	s := newTestScheduler(t, 4)

	var dispatched time.Time
	var slowDone atomic.Bool
	slow := New("slow", func(time.Duration) {
		time.Sleep(50 * time.Millisecond)
		slowDone.Store(true)
	}, OnStage(Update))
	marker := New("marker", func(time.Duration) { dispatched = time.Now() }, OnStage(Update), MainThread())

	var sawIncomplete atomic.Bool
	var elapsed time.Duration
	next := New("next", func(time.Duration) {
		if !slow.Completed() || !slowDone.Load() {
			sawIncomplete.Store(true)
		}
		elapsed = time.Since(dispatched)
	}, OnStage(PostUpdate), MainThread())

	for _, tk := range []*Task{slow, marker, next} {
		if err := s.Register(tk); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 3; i++ {
		s.TickFrame()
		if sawIncomplete.Load() {
			t.Fatalf("frame %d: PostUpdate began before the Update blocker completed", i)
		}
		if elapsed < 45*time.Millisecond {
			t.Fatalf("frame %d: PostUpdate began %s after Update dispatch", i, elapsed)
		}
	}
}

func TestWorkerTasksBlockAcrossStages(t *testing.T) {
	s := newTestScheduler(t, 2)

	var produced atomic.Int32
	producer := New("producer", func(time.Duration) {
		time.Sleep(5 * time.Millisecond)
		produced.Add(1)
	}, OnStage(PreUpdate), Blocks(Draw))

	var observed []int32
	consumer := New("consumer", func(time.Duration) {
		observed = append(observed, produced.Load())
	}, OnStage(Draw), MainThread())

	_ = s.Register(producer)
	_ = s.Register(consumer)
	for i := 0; i < 5; i++ {
		s.TickFrame()
	}
	for i, v := range observed {
		if v != int32(i+1) {
			t.Fatalf("consumer saw %v, want 1..5", observed)
		}
	}
}

func TestMainThreadTasksRunInRegistrationOrder(t *testing.T) {
	s := newTestScheduler(t, 1)

	var order []string
	for _, name := range []string{"a", "b", "c"} {
		name := name
		_ = s.Register(New(name, func(time.Duration) { order = append(order, name) }, OnStage(PreDraw), MainThread()))
	}
	s.TickFrame()
	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Errorf("order = %v", order)
	}
}

func TestTickedThisFrameReset(t *testing.T) {
	s := newTestScheduler(t, 1)
	tk := New("late", nil, OnStage(Update), MainThread())

	var seenAtHead []bool
	probe := New("probe", func(time.Duration) {
		seenAtHead = append(seenAtHead, tk.TickedThisFrame())
	}, OnStage(FrameHead), MainThread())

	_ = s.Register(probe)
	_ = s.Register(tk)
	s.TickFrame()
	s.TickFrame()

	if !tk.TickedThisFrame() {
		t.Fatal("task should have ticked")
	}
	for i, seen := range seenAtHead {
		if seen {
			t.Errorf("frame %d: ticked flag not cleared before FrameHead", i)
		}
	}

	s.Remove(tk.ID)
	if s.Find(tk.ID) != nil {
		t.Error("removed task still found")
	}
}

func TestFixedUpdateCatchUp(t *testing.T) {
	clock := &fakeClock{now: time.Unix(100, 0)}
	s := newTestScheduler(t, 1, WithFixedFPS(50), WithClock(clock.Now))

	var fixed, variable atomic.Int32
	var lastDt time.Duration
	_ = s.Register(New("fixed", func(dt time.Duration) {
		fixed.Add(1)
		lastDt = dt
	}, OnStage(FixedUpdate), MainThread()))
	_ = s.Register(New("variable", func(time.Duration) { variable.Add(1) }, OnStage(Update), MainThread()))

	// the first frame starts with one step in the accumulator
	s.TickFrame()
	if fixed.Load() != 1 {
		t.Fatalf("first frame ran fixed %d times, want 1", fixed.Load())
	}
	if lastDt != 20*time.Millisecond {
		t.Errorf("fixed dt = %s, want 20ms", lastDt)
	}

	clock.Advance(65 * time.Millisecond)
	s.TickFrame()
	if fixed.Load() != 4 {
		t.Fatalf("after 65ms fixed ran %d times total, want 4", fixed.Load())
	}

	// 5ms left over plus 10ms is still short of a step
	clock.Advance(10 * time.Millisecond)
	s.TickFrame()
	if fixed.Load() != 4 {
		t.Errorf("fixed should not run with 15ms accumulated, total %d", fixed.Load())
	}
	if variable.Load() != 3 {
		t.Errorf("variable ran %d times, want 3", variable.Load())
	}
}

func TestFixedUpdateClamp(t *testing.T) {
	clock := &fakeClock{now: time.Unix(100, 0)}
	s := newTestScheduler(t, 1, WithFixedFPS(100), WithMaxFixedSteps(3), WithClock(clock.Now))

	var fixed atomic.Int32
	_ = s.Register(New("fixed", func(time.Duration) { fixed.Add(1) }, OnStage(FixedUpdate)))

	s.TickFrame()
	clock.Advance(time.Second)
	s.TickFrame()
	if got := fixed.Load(); got != 4 {
		t.Errorf("fixed ran %d times, want 1 + 3 clamped", got)
	}
}

func TestRunOneShot(t *testing.T) {
	s := newTestScheduler(t, 2)

	ran := make(chan struct{})
	s.RunOneShot(New("bg", func(time.Duration) { close(ran) }))
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("one-shot worker task did not run")
	}

	inline := false
	s.RunOneShot(New("fg", func(time.Duration) { inline = true }, MainThread()))
	if !inline {
		t.Error("main-thread one-shot should run synchronously")
	}
	s.RunOneShot(nil)
}

func TestRegisterRejectsInvalidStage(t *testing.T) {
	s := newTestScheduler(t, 1)
	if err := s.Register(New("bad", nil, OnStage(None))); err == nil {
		t.Error("expected error for None start stage")
	}
	if err := s.RegisterOn(Draw, New("ok", nil)); err != nil {
		t.Errorf("RegisterOn: %v", err)
	}
	if got := s.BlockersOf(Present); len(got) != 1 {
		t.Errorf("expected one Present blocker, got %d", len(got))
	}
}

func TestFindSearchesDependencies(t *testing.T) {
	s := newTestScheduler(t, 1)
	parent := New("parent", nil, OnStage(Update))
	child := parent.AddDependency(New("child", nil))
	_ = s.Register(parent)

	if s.Find(child.ID) != child {
		t.Error("Find should return the dependency")
	}
	if s.Find(12345) != nil {
		t.Error("Find should return nil for unknown id")
	}
}

func TestStatsRecorded(t *testing.T) {
	s := newTestScheduler(t, 1)
	_ = s.Register(New("a", func(time.Duration) { time.Sleep(2 * time.Millisecond) }, OnStage(Draw), MainThread()))
	s.TickFrame()

	st := s.Stats(Draw)
	if st.TaskCount != 1 || st.Runs != 1 {
		t.Errorf("stats = %+v", st)
	}
	if st.Duration < 2*time.Millisecond {
		t.Errorf("duration %s too short", st.Duration)
	}
	if s.Frame() != 1 {
		t.Errorf("frame counter = %d", s.Frame())
	}
}

func TestFrameCountersReadableFromWorkers(t *testing.T) {
	clock := &fakeClock{now: time.Unix(100, 0)}
	s := newTestScheduler(t, 2, WithClock(clock.Now))

	var mu sync.Mutex
	var frames []uint64
	var badDelta atomic.Bool
	_ = s.Register(New("reader", func(time.Duration) {
		for i := 0; i < 100; i++ {
			f := s.Frame()
			if d := s.FrameDelta(); d < 0 || d > time.Second {
				badDelta.Store(true)
			}
			mu.Lock()
			frames = append(frames, f)
			mu.Unlock()
		}
	}, OnStage(FrameTail)))

	for i := 0; i < 20; i++ {
		clock.Advance(16 * time.Millisecond)
		s.TickFrame()
	}
	s.TickFrame()

	mu.Lock()
	defer mu.Unlock()
	if len(frames) == 0 {
		t.Fatal("reader never ran")
	}
	for i := 1; i < len(frames); i++ {
		if frames[i] < frames[i-1] {
			t.Fatalf("frame counter went backwards: %d then %d", frames[i-1], frames[i])
		}
	}
	if badDelta.Load() {
		t.Error("worker observed an out-of-range frame delta")
	}
	if s.Frame() != 21 {
		t.Errorf("frame counter = %d, want 21", s.Frame())
	}
}
