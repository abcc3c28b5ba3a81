package event

import "github.com/simcore/engine/internal/core/ecs"

// EntityDestroyed is emitted for every entity FlushMorgue removes.
type EntityDestroyed struct {
	Entity ecs.EntityID
}

// ResourceLoaded is emitted when a resource load finishes, successfully or
// not.
type ResourceLoaded struct {
	Hash   uint64
	Kind   string
	Failed bool
}

// PrefabInstantiated is emitted after a prefab or scene stream created its
// entities.
type PrefabInstantiated struct {
	Resource uint64
	Entities []ecs.EntityID
}
