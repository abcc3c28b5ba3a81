// Package engine wires the simulation subsystems into one context object.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/simcore/engine/internal/config"
	"github.com/simcore/engine/internal/core/ecs"
	"github.com/simcore/engine/internal/core/event"
	"github.com/simcore/engine/internal/core/task"
	"github.com/simcore/engine/internal/core/worker"
	"github.com/simcore/engine/internal/data"
	"github.com/simcore/engine/internal/prefab"
	"github.com/simcore/engine/internal/resource"
	"github.com/simcore/engine/internal/scripting"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Engine owns every subsystem. There is no global state: anything that
// needs the world or the scheduler gets it from here.
//
// Three main-thread tasks are always registered: resource completion and
// event dispatch at FrameHead, morgue flushing at FrameTail.
type Engine struct {
	RunID     uuid.UUID
	Pool      *worker.Pool
	Scheduler *task.Scheduler
	World     *ecs.World
	Resources *resource.Manager
	Events    *event.Bus
	Prefabs   *prefab.Loader

	scripts  *scripting.Engine
	preload  []*resource.Info
	frames   *FrameTracker
	interval time.Duration

	log *zap.Logger
}

// Option configures an Engine.
type Option func(*options)

type options struct {
	sched   []task.SchedulerOption
	tracked int
}

// WithSchedulerOptions passes extra options to the scheduler.
func WithSchedulerOptions(opts ...task.SchedulerOption) Option {
	return func(o *options) { o.sched = append(o.sched, opts...) }
}

// WithTrackedFrames sets the frame tracker window.
func WithTrackedFrames(n int) Option {
	return func(o *options) { o.tracked = n }
}

// New builds the engine from cfg and src. Scripts are loaded when
// cfg.Scripting.Enabled is set.
func New(ctx context.Context, cfg *config.Config, src resource.Source, log *zap.Logger, opts ...Option) (*Engine, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	runID := uuid.New()
	log = log.With(zap.String("run", runID.String()))

	e := &Engine{
		RunID:    runID,
		Events:   event.NewBus(),
		frames:   NewFrameTracker(o.tracked),
		interval: cfg.Engine.FrameInterval(),
		log:      log.Named("engine"),
	}

	e.Pool = worker.NewPool(cfg.Engine.Workers, log)
	schedOpts := []task.SchedulerOption{
		task.WithFixedFPS(cfg.Engine.FixedFPS),
		task.WithMaxFixedSteps(cfg.Engine.MaxFixedSteps),
	}
	e.Scheduler = task.NewScheduler(e.Pool, log, append(schedOpts, o.sched...)...)

	e.World = ecs.NewWorld(log)
	e.World.OnDestroy(func(id ecs.EntityID) {
		event.Emit(e.Events, event.EntityDestroyed{Entity: id})
	})

	e.Resources = resource.NewManager(ctx, src, log,
		resource.WithLoaders(cfg.Resources.Loaders),
		resource.OnLoaded(func(info *resource.Info) {
			event.Emit(e.Events, event.ResourceLoaded{
				Hash:   info.ID(),
				Kind:   info.Type().String(),
				Failed: info.Err() != nil,
			})
		}),
	)

	e.Prefabs = prefab.NewLoader(e.World, e.Resources, log,
		prefab.OnInstantiated(func(hash uint64, ids []ecs.EntityID) {
			event.Emit(e.Events, event.PrefabInstantiated{Resource: hash, Entities: ids})
		}),
	)

	if err := e.registerCoreTasks(); err != nil {
		e.Close()
		return nil, err
	}

	if cfg.Scripting.Enabled {
		scripts, err := scripting.NewEngine(cfg.Scripting.Dir, e.Scheduler, log, scripting.WithWorld(e.World))
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("scripting: %w", err)
		}
		e.scripts = scripts
	}

	e.log.Info("engine ready",
		zap.Int("workers", e.Pool.Size()),
		zap.Duration("fixed_step", e.Scheduler.FixedDelta()),
		zap.Duration("frame_interval", e.interval),
	)
	return e, nil
}

func (e *Engine) registerCoreTasks() error {
	core := []*task.Task{
		task.New("engine:resources", func(time.Duration) {
			e.Resources.Update()
		}, task.OnStage(task.FrameHead), task.MainThread()),
		task.New("engine:events", func(time.Duration) {
			e.Events.SwapBuffers()
			e.Events.DispatchAll()
		}, task.OnStage(task.FrameHead), task.MainThread()),
		task.New("engine:morgue", func(time.Duration) {
			if n := e.World.FlushMorgue(); n > 0 {
				e.log.Debug("morgue flushed", zap.Int("entities", n))
			}
		}, task.OnStage(task.FrameTail), task.MainThread()),
	}
	for _, t := range core {
		if err := e.Scheduler.Register(t); err != nil {
			return fmt.Errorf("register %s: %w", t.Name, err)
		}
	}
	return nil
}

// Frame runs one scheduler frame on the calling goroutine and records its
// duration.
func (e *Engine) Frame() {
	start := time.Now()
	e.Scheduler.TickFrame()
	e.frames.Add(time.Since(start))
}

// FrameInterval is the configured pacing of the main loop, zero when
// frames run back to back.
func (e *Engine) FrameInterval() time.Duration { return e.interval }

// FrameTimes summarises recent frame durations.
func (e *Engine) FrameTimes() FrameStats { return e.frames.Stats() }

// Run drives frames until ctx is cancelled, paced at the frame interval.
func (e *Engine) Run(ctx context.Context) error {
	if e.interval <= 0 {
		for {
			select {
			case <-ctx.Done():
				return nil
			default:
				e.Frame()
			}
		}
	}

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.Frame()
		case <-ctx.Done():
			return nil
		}
	}
}

// Preload starts every load the manifest names. Preloaded resources stay
// referenced until Close; scenes are instantiated once and prefabs Count
// times as their streams arrive.
func (e *Engine) Preload(m *data.Manifest) error {
	for _, entry := range m.Preload {
		typ, err := entry.ResourceType()
		if err != nil {
			return fmt.Errorf("preload %s: %w", entry.Name, err)
		}
		e.preload = append(e.preload, e.Resources.Load(entry.ResourceHash(), typ, nil))
	}
	for _, entry := range m.Scenes {
		e.Prefabs.LoadScene(entry.ResourceHash())
	}
	for _, entry := range m.Prefabs {
		e.Prefabs.LoadPrefabN(entry.ResourceHash(), entry.Count)
	}
	e.log.Info("preload started",
		zap.Int("resources", len(m.Preload)),
		zap.Int("scenes", len(m.Scenes)),
		zap.Int("prefabs", len(m.Prefabs)),
	)
	return nil
}

// Scripts returns the Lua engine, nil when scripting is disabled.
func (e *Engine) Scripts() *scripting.Engine { return e.scripts }

// Close tears the engine down: scripts, retained prefabs and preloads,
// the resource manager, the worker pool and finally the entities.
func (e *Engine) Close() error {
	var err error
	if e.scripts != nil {
		e.scripts.Close()
		e.scripts = nil
	}
	if e.Prefabs != nil {
		e.Prefabs.Close()
	}
	for _, info := range e.preload {
		info.Release()
	}
	e.preload = nil
	if e.Resources != nil {
		err = multierr.Append(err, e.Resources.Shutdown())
	}
	if e.Pool != nil {
		e.Pool.Shutdown()
	}
	if e.World != nil {
		e.World.ClearAllEntities()
	}
	st := e.frames.Stats()
	e.log.Info("engine stopped",
		zap.Uint64("frames", e.Scheduler.Frame()),
		zap.Duration("frame_avg", st.Average),
		zap.Duration("frame_max", st.Max),
	)
	return err
}
