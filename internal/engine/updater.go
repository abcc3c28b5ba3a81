package engine

import (
	"time"

	"github.com/simcore/engine/internal/core/ecs"
	"github.com/simcore/engine/internal/core/task"
)

// Updater is a component that advances itself every frame.
type Updater interface {
	Update(dt time.Duration)
}

// RegisterUpdater registers component T and a task at stage that calls
// Update on every ready entity's T. With parallel set the table is split
// into chunks across goroutines, so Update must not touch other entities.
//
//	engine.RegisterUpdater[Spin](e, task.Update, true)
func RegisterUpdater[T any, P interface {
	*T
	Updater
}](e *Engine, stage task.Stage, parallel bool) (*ecs.Table[T], error) {
	tbl := ecs.RegisterComponent[T](e.World)

	opts := []ecs.IterOption{ecs.EnabledOnly()}
	if parallel {
		opts = append(opts, ecs.Parallel())
	}
	world := e.World
	t := task.New("component:"+ecs.TypeName[T](), func(dt time.Duration) {
		ecs.ForEach[T](world, func(_ ecs.EntityID, c *T) {
			P(c).Update(dt)
		}, opts...)
	}, task.OnStage(stage))

	if err := e.Scheduler.Register(t); err != nil {
		return nil, err
	}
	return tbl, nil
}
