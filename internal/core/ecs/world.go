package ecs

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"
)

// ErrUnknownComponent is returned when a TypeID has no registered table.
var ErrUnknownComponent = errors.New("ecs: unknown component type")

// World owns the component tables, per-entity metadata and the morgue of
// entities waiting for removal. All methods are safe for concurrent use.
//
// RemoveEntity only disables the entity and queues it; its components stay
// readable until FlushMorgue, which the engine runs once per frame at the
// tail stage on the main thread.
type World struct {
	tablesMu sync.RWMutex
	tables   map[TypeID]storage

	mu     sync.RWMutex
	info   map[EntityID]EntityInfo
	morgue []EntityID
	dying  map[EntityID]struct{}
	pool   entityPool

	hooksMu   sync.Mutex
	onDestroy []func(EntityID)

	log *zap.Logger
}

func NewWorld(log *zap.Logger) *World {
	return &World{
		tables: make(map[TypeID]storage, 16),
		info:   make(map[EntityID]EntityInfo, 1024),
		morgue: make([]EntityID, 0, 64),
		dying:  make(map[EntityID]struct{}, 64),
		pool:   newEntityPool(),
		log:    log.Named("ecs"),
	}
}

// RegisterComponent installs an empty table for T. Registering a type again
// replaces its table and drops the old data.
func RegisterComponent[T any](w *World) *Table[T] {
	t := NewTable[T]()
	w.tablesMu.Lock()
	_, replaced := w.tables[t.id]
	w.tables[t.id] = t
	w.tablesMu.Unlock()
	if replaced {
		w.log.Warn("component table replaced", zap.String("component", t.name))
	} else {
		w.log.Debug("component registered", zap.String("component", t.name), zap.Uint64("type", uint64(t.id)))
	}
	return t
}

// Lookup returns the table of T, or nil when T is not registered.
func Lookup[T any](w *World) *Table[T] {
	s := w.storage(TypeOf[T]())
	if s == nil {
		return nil
	}
	t, ok := s.(*Table[T])
	if !ok {
		w.log.Warn("component type hash collision", zap.String("component", TypeName[T]()), zap.String("registered", s.Name()))
		return nil
	}
	return t
}

func (w *World) storage(id TypeID) storage {
	w.tablesMu.RLock()
	defer w.tablesMu.RUnlock()
	return w.tables[id]
}

func (w *World) storages() []storage {
	w.tablesMu.RLock()
	defer w.tablesMu.RUnlock()
	out := make([]storage, 0, len(w.tables))
	for _, s := range w.tables {
		out = append(out, s)
	}
	return out
}

// ComponentName returns the registered name for id.
func (w *World) ComponentName(id TypeID) (string, error) {
	s := w.storage(id)
	if s == nil {
		return "", fmt.Errorf("%w: %#x", ErrUnknownComponent, uint64(id))
	}
	return s.Name(), nil
}

// NewEntityID returns a recycled id when one is available, else a fresh one.
func (w *World) NewEntityID() EntityID {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pool.create()
}

// ReserveEntityID marks an externally chosen id as used.
func (w *World) ReserveEntityID(id EntityID) {
	if id.IsZero() {
		return
	}
	w.mu.Lock()
	w.pool.reserve(id)
	w.mu.Unlock()
}

// EnsureEntity creates the metadata of id (enabled, not awake) when it has
// none, so an entity can exist without components.
func (w *World) EnsureEntity(id EntityID) {
	if id.IsZero() {
		return
	}
	w.touch(id)
}

func (w *World) touch(id EntityID) {
	w.mu.RLock()
	_, ok := w.info[id]
	w.mu.RUnlock()
	if ok {
		return
	}
	w.mu.Lock()
	if _, ok := w.info[id]; !ok {
		w.info[id] = EntityInfo{Enabled: true}
		w.pool.reserve(id)
	}
	w.mu.Unlock()
}

// AddComponent attaches a zero T to id and returns it, or returns the
// existing T when id already has one. It returns nil when T is not
// registered.
func AddComponent[T any](w *World, id EntityID) *T {
	t := Lookup[T](w)
	if t == nil {
		w.log.Warn("add of unregistered component", zap.String("component", TypeName[T]()), zap.Uint64("entity", uint64(id)))
		return nil
	}
	w.touch(id)
	v, _ := t.Add(id)
	return v
}

// AddComponentByType is AddComponent for callers that only know the type
// hash, such as stream loaders. The result is a *T for the registered T.
func (w *World) AddComponentByType(id EntityID, typ TypeID) (any, error) {
	s := w.storage(typ)
	if s == nil {
		return nil, fmt.Errorf("%w: %#x", ErrUnknownComponent, uint64(typ))
	}
	w.touch(id)
	return s.addAny(id), nil
}

// ComponentByType returns the component of id for typ, or nil.
func (w *World) ComponentByType(id EntityID, typ TypeID) any {
	s := w.storage(typ)
	if s == nil {
		return nil
	}
	return s.getAny(id)
}

// HasComponentType reports whether id has a component of typ.
func (w *World) HasComponentType(id EntityID, typ TypeID) bool {
	s := w.storage(typ)
	return s != nil && s.Has(id)
}

// Get returns the T of id, creating it when absent. It returns nil only when
// T is not registered.
func Get[T any](w *World, id EntityID) *T {
	t := Lookup[T](w)
	if t == nil {
		return nil
	}
	if v := t.Get(id); v != nil {
		return v
	}
	w.touch(id)
	v, _ := t.Add(id)
	return v
}

// TryGet returns the T of id without creating it.
func TryGet[T any](w *World, id EntityID) (*T, bool) {
	t := Lookup[T](w)
	if t == nil {
		return nil, false
	}
	v := t.Get(id)
	return v, v != nil
}

// Has reports whether id has a T.
func Has[T any](w *World, id EntityID) bool {
	t := Lookup[T](w)
	return t != nil && t.Has(id)
}

// RemoveEntity disables id and queues it for FlushMorgue. Ids without
// metadata are ignored: they are either unknown or already destroyed, and a
// destroyed id may be waiting on the free list for its next owner.
func (w *World) RemoveEntity(id EntityID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, queued := w.dying[id]; queued {
		return
	}
	info, ok := w.info[id]
	if !ok {
		return
	}
	info.Enabled = false
	w.info[id] = info
	w.dying[id] = struct{}{}
	w.morgue = append(w.morgue, id)
}

// MorgueLen is the number of entities waiting for FlushMorgue.
func (w *World) MorgueLen() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.morgue)
}

// OnDestroy registers fn to be called for every entity FlushMorgue removes.
// Callbacks run after the world's locks are released.
func (w *World) OnDestroy(fn func(EntityID)) {
	w.hooksMu.Lock()
	w.onDestroy = append(w.onDestroy, fn)
	w.hooksMu.Unlock()
}

// FlushMorgue removes every queued entity from every table, forgets its
// metadata and returns its id to the free list. It returns the number of
// entities removed.
//
// An entity stays in the dying set until its metadata is gone, so removing
// it again while the flush runs is a no-op. Ids go back to the free list
// only after the OnDestroy hooks have run.
func (w *World) FlushMorgue() int {
	w.mu.Lock()
	dead := w.morgue
	w.morgue = make([]EntityID, 0, cap(dead))
	w.mu.Unlock()
	if len(dead) == 0 {
		return 0
	}

	tables := w.storages()
	for _, id := range dead {
		for _, s := range tables {
			s.Remove(id)
		}
	}

	w.mu.Lock()
	for _, id := range dead {
		delete(w.info, id)
		delete(w.dying, id)
	}
	w.mu.Unlock()

	w.hooksMu.Lock()
	hooks := slices.Clone(w.onDestroy)
	w.hooksMu.Unlock()
	for _, id := range dead {
		for _, fn := range hooks {
			fn(id)
		}
	}

	w.mu.Lock()
	for _, id := range dead {
		w.pool.release(id)
	}
	w.mu.Unlock()

	w.log.Debug("morgue flushed", zap.Int("entities", len(dead)))
	return len(dead)
}

// EnableEntity sets the enabled flag of id. Entities in the morgue stay
// disabled.
func (w *World) EnableEntity(id EntityID, enabled bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	info, ok := w.info[id]
	if !ok {
		return
	}
	if _, dying := w.dying[id]; dying {
		enabled = false
	}
	info.Enabled = enabled
	w.info[id] = info
}

// AwakeEntity marks id awake.
func (w *World) AwakeEntity(id EntityID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if info, ok := w.info[id]; ok {
		info.Awake = true
		w.info[id] = info
	}
}

// AwakeAllEntities marks every known entity awake.
func (w *World) AwakeAllEntities() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, info := range w.info {
		info.Awake = true
		w.info[id] = info
	}
}

// Info returns the metadata of id.
func (w *World) Info(id EntityID) (EntityInfo, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	info, ok := w.info[id]
	return info, ok
}

// IsEntityEnabled is false for unknown entities and for entities in the
// morgue.
func (w *World) IsEntityEnabled(id EntityID) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if _, dying := w.dying[id]; dying {
		return false
	}
	return w.info[id].Enabled
}

// IsEntityReady is true for awake, enabled entities.
func (w *World) IsEntityReady(id EntityID) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if _, dying := w.dying[id]; dying {
		return false
	}
	return w.info[id].Ready()
}

// EntityCount is the number of entities with metadata.
func (w *World) EntityCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.info)
}

// ClearAllEntities empties every table and forgets all metadata. Every known
// id goes back on the free list.
func (w *World) ClearAllEntities() {
	for _, s := range w.storages() {
		s.Clear()
	}
	w.mu.Lock()
	for id := range w.info {
		w.pool.release(id)
	}
	clear(w.info)
	clear(w.dying)
	w.morgue = w.morgue[:0]
	w.mu.Unlock()
	w.log.Info("all entities cleared")
}
