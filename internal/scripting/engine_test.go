package scripting

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/simcore/engine/internal/core/ecs"
	"github.com/simcore/engine/internal/core/task"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

type recorder struct {
	tasks []*task.Task
}

func (r *recorder) Register(t *task.Task) error {
	r.tasks = append(r.tasks, t)
	return nil
}

func writeScript(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRegisterTaskFromScript(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "a.lua", `
ticks = 0
total = 0
register_task("counter", "Update", function(dt)
  ticks = ticks + 1
  total = total + dt
end)
`)
	writeScript(t, filepath.Join(dir, "extra"), "b.lua", `
register_task("late", Stage.PostDraw, function(dt) end)
`)

	rec := &recorder{}
	e, err := NewEngine(dir, rec, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	if len(rec.tasks) != 2 || len(e.Tasks()) != 2 {
		t.Fatalf("registered %d tasks", len(rec.tasks))
	}
	counter, late := rec.tasks[0], rec.tasks[1]
	if counter.StartStage != task.Update || !counter.MainThread {
		t.Errorf("counter task = %+v", counter)
	}
	if late.StartStage != task.PostDraw {
		t.Errorf("late stage = %s", late.StartStage)
	}

	counter.Execute(500 * time.Millisecond)
	counter.Execute(250 * time.Millisecond)
	if err := e.DoString(`assert(ticks == 2 and total == 0.75)`); err != nil {
		t.Error(err)
	}
}

func TestBadStageFailsLoad(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "bad.lua", `register_task("x", "Sometime", function() end)`)
	if _, err := NewEngine(dir, &recorder{}, zaptest.NewLogger(t)); err == nil {
		t.Fatal("expected load error")
	}
}

func TestTaskErrorIsLogged(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "boom.lua", `register_task("boom", "Draw", function() error("kaboom") end)`)
	core, logs := observer.New(zap.ErrorLevel)
	rec := &recorder{}
	e, err := NewEngine(dir, rec, zap.New(core))
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()
	rec.tasks[0].Execute(time.Millisecond)
	if logs.FilterMessage("lua task error").Len() != 1 {
		t.Errorf("logs = %v", logs.All())
	}
}

func TestWorldBindings(t *testing.T) {
	w := ecs.NewWorld(zaptest.NewLogger(t))
	type Tag struct{}
	ecs.RegisterComponent[Tag](w)
	ecs.AddComponent[Tag](w, 4)

	e, err := NewEngine(t.TempDir(), &recorder{}, zaptest.NewLogger(t), WithWorld(w))
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()
	if err := e.DoString(`
assert(entity_count() == 1)
assert(entity_enabled(4))
remove_entity(4)
assert(not entity_enabled(4))
`); err != nil {
		t.Fatal(err)
	}
	if w.MorgueLen() != 1 {
		t.Error("remove_entity did not reach the morgue")
	}
}
