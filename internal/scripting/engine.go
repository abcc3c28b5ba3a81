package scripting

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/simcore/engine/internal/core/ecs"
	"github.com/simcore/engine/internal/core/task"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Registrar accepts scheduler tasks.
type Registrar interface {
	Register(t *task.Task) error
}

// Engine wraps a single gopher-lua VM. Scripts register frame tasks with
// register_task; those tasks are main-thread tasks because an LState must
// only be used from one goroutine.
type Engine struct {
	vm    *lua.LState
	sched Registrar
	world *ecs.World
	tasks []*task.Task
	log   *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithWorld exposes entity functions to scripts.
func WithWorld(w *ecs.World) Option {
	return func(e *Engine) { e.world = w }
}

// NewEngine creates a Lua engine and loads every .lua file in scriptsDir,
// top level first, then each subdirectory in name order. A missing
// directory loads nothing.
func NewEngine(scriptsDir string, sched Registrar, log *zap.Logger, opts ...Option) (*Engine, error) {
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})
	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	e := &Engine{vm: vm, sched: sched, log: log.Named("lua")}
	for _, opt := range opts {
		opt(e)
	}
	e.registerAPI()

	if err := e.loadDir(scriptsDir); err != nil {
		vm.Close()
		return nil, fmt.Errorf("load scripts: %w", err)
	}
	subdirs, err := listSubdirs(scriptsDir)
	if err != nil {
		vm.Close()
		return nil, err
	}
	for _, sub := range subdirs {
		if err := e.loadDir(sub); err != nil {
			vm.Close()
			return nil, fmt.Errorf("load %s scripts: %w", filepath.Base(sub), err)
		}
	}
	e.log.Info("scripts loaded", zap.String("dir", scriptsDir), zap.Int("tasks", len(e.tasks)))
	return e, nil
}

func listSubdirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, entry := range entries {
		if entry.IsDir() {
			out = append(out, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// loadDir loads all .lua files in a directory.
func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // skip missing dirs
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("loaded lua script", zap.String("file", path))
	}
	return nil
}

// DoString runs a chunk of Lua, mainly for tests and the console.
func (e *Engine) DoString(src string) error {
	return e.vm.DoString(src)
}

// Tasks returns the tasks scripts have registered.
func (e *Engine) Tasks() []*task.Task {
	return append([]*task.Task(nil), e.tasks...)
}

func (e *Engine) registerAPI() {
	e.vm.SetGlobal("register_task", e.vm.NewFunction(e.luaRegisterTask))
	e.vm.SetGlobal("log_info", e.vm.NewFunction(func(L *lua.LState) int {
		e.log.Info(L.CheckString(1))
		return 0
	}))

	stages := e.vm.NewTable()
	for _, s := range task.Stages() {
		stages.RawSetString(s.String(), lua.LNumber(s))
	}
	e.vm.SetGlobal("Stage", stages)

	if e.world == nil {
		return
	}
	e.vm.SetGlobal("entity_count", e.vm.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LNumber(e.world.EntityCount()))
		return 1
	}))
	e.vm.SetGlobal("remove_entity", e.vm.NewFunction(func(L *lua.LState) int {
		e.world.RemoveEntity(ecs.EntityID(L.CheckInt64(1)))
		return 0
	}))
	e.vm.SetGlobal("entity_enabled", e.vm.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LBool(e.world.IsEntityEnabled(ecs.EntityID(L.CheckInt64(1)))))
		return 1
	}))
}

// register_task(name, stage, fn): stage is a stage name or a Stage value;
// fn is called with the frame delta in seconds.
func (e *Engine) luaRegisterTask(L *lua.LState) int {
	name := L.CheckString(1)
	var stage task.Stage
	switch v := L.Get(2).(type) {
	case lua.LString:
		s, ok := task.ParseStage(string(v))
		if !ok {
			L.ArgError(2, fmt.Sprintf("unknown stage %q", string(v)))
			return 0
		}
		stage = s
	case lua.LNumber:
		stage = task.Stage(int(v))
	default:
		L.ArgError(2, "stage name or number expected")
		return 0
	}
	fn := L.CheckFunction(3)

	t := task.New("lua:"+name, e.tick(name, fn), task.OnStage(stage), task.MainThread())
	if err := e.sched.Register(t); err != nil {
		L.RaiseError("register_task %s: %s", name, err.Error())
		return 0
	}
	e.tasks = append(e.tasks, t)
	e.log.Debug("lua task registered", zap.String("task", name), zap.String("stage", stage.String()))
	return 0
}

func (e *Engine) tick(name string, fn *lua.LFunction) task.TickFunc {
	return func(dt time.Duration) {
		if err := e.vm.CallByParam(lua.P{
			Fn:      fn,
			NRet:    0,
			Protect: true,
		}, lua.LNumber(dt.Seconds())); err != nil {
			e.log.Error("lua task error", zap.String("task", name), zap.Error(err))
		}
	}
}

// Close shuts down the Lua VM.
func (e *Engine) Close() {
	e.vm.Close()
}
