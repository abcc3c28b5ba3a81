package ecs

import "sync"

// Handle refers to one element of a Table. Unlike a *T obtained from the
// table, a handle survives swap-removal of other elements and resolves to
// nil once its own element is gone.
type Handle[T any] struct {
	slot uint32
	gen  uint32
}

// IsZero reports whether h was never issued by a table.
func (h Handle[T]) IsZero() bool { return h.gen == 0 }

type slot struct {
	gen    uint32
	dense  int32 // -1 while free or staged
	entity EntityID
}

type staged[T any] struct {
	slot uint32
	val  *T
}

// op is a structural change recorded while the table was being iterated.
type op struct {
	entity EntityID
	remove bool
}

// Table is the dense storage for one component type.
//
// Structural changes made while an iteration is in flight are deferred and
// applied, in call order, when the last iteration finishes. A value added
// during iteration lives in a staging area until then; the *T returned by
// Add points at the staged copy and is invalidated when it is moved in.
//
// A *T into the table is valid until the next structural change of the
// table. Keep a Handle when a reference has to outlive that.
type Table[T any] struct {
	id   TypeID
	name string

	mu        sync.Mutex
	dense     []T
	owners    []EntityID
	denseSlot []uint32
	slots     []slot
	freeSlots []uint32
	byEntity  map[EntityID]uint32

	readers  int
	ops      []op
	staged   map[EntityID]staged[T]
	removing map[EntityID]int
}

// NewTable creates an empty table for T.
func NewTable[T any]() *Table[T] {
	return &Table[T]{
		id:       TypeOf[T](),
		name:     TypeName[T](),
		dense:    make([]T, 0, 64),
		owners:   make([]EntityID, 0, 64),
		byEntity: make(map[EntityID]uint32, 64),
		staged:   make(map[EntityID]staged[T]),
		removing: make(map[EntityID]int),
	}
}

func (t *Table[T]) TypeID() TypeID { return t.id }
func (t *Table[T]) Name() string   { return t.name }

// Len is the number of stored elements, staged ones excluded.
func (t *Table[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.dense)
}

// Add appends a zero T for entity id. When id already has one, the existing
// element is returned instead.
func (t *Table[T]) Add(id EntityID) (*T, Handle[T]) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if v, h, ok := t.lookupLocked(id); ok {
		return v, h
	}
	s := t.allocSlotLocked(id)
	h := Handle[T]{slot: s, gen: t.slots[s].gen}
	if t.readers > 0 {
		val := new(T)
		t.staged[id] = staged[T]{slot: s, val: val}
		t.ops = append(t.ops, op{entity: id})
		return val, h
	}
	return t.insertLocked(id, s, *new(T)), h
}

// Get returns the element of id, or nil.
func (t *Table[T]) Get(id EntityID) *T {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, _, _ := t.lookupLocked(id)
	return v
}

// HandleOf returns a handle to the element of id.
func (t *Table[T]) HandleOf(id EntityID) (Handle[T], bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, h, ok := t.lookupLocked(id)
	return h, ok
}

// Has reports whether id has an element, staged or stored.
func (t *Table[T]) Has(id EntityID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, _, ok := t.lookupLocked(id)
	return ok
}

// Resolve returns the element h refers to, or nil when it has been removed.
func (t *Table[T]) Resolve(h Handle[T]) *T {
	if h.IsZero() {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if int(h.slot) >= len(t.slots) {
		return nil
	}
	s := t.slots[h.slot]
	if s.gen != h.gen {
		return nil
	}
	if s.dense >= 0 {
		return &t.dense[s.dense]
	}
	if st, ok := t.staged[s.entity]; ok && st.slot == h.slot {
		return st.val
	}
	return nil
}

// Remove drops the element of id. It reports whether there was one.
func (t *Table[T]) Remove(id EntityID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dropStagedLocked(id) {
		return true
	}
	if _, ok := t.byEntity[id]; !ok {
		return false
	}
	if t.readers > 0 {
		if t.removing[id] > 0 {
			return false
		}
		t.removing[id]++
		t.ops = append(t.ops, op{entity: id, remove: true})
		return true
	}
	t.removeLocked(id)
	return true
}

// Clear removes every element. Outstanding handles stop resolving.
func (t *Table[T]) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.readers > 0 {
		for id := range t.staged {
			t.dropStagedLocked(id)
		}
		for id := range t.byEntity {
			if t.removing[id] == 0 {
				t.removing[id]++
				t.ops = append(t.ops, op{entity: id, remove: true})
			}
		}
		return
	}
	for i := range t.slots {
		if t.slots[i].dense >= 0 {
			t.freeSlotLocked(uint32(i))
		}
	}
	var zero T
	for i := range t.dense {
		t.dense[i] = zero
	}
	t.dense = t.dense[:0]
	t.owners = t.owners[:0]
	t.denseSlot = t.denseSlot[:0]
	clear(t.byEntity)
}

func (t *Table[T]) dropStagedLocked(id EntityID) bool {
	st, ok := t.staged[id]
	if !ok {
		return false
	}
	delete(t.staged, id)
	t.freeSlotLocked(st.slot)
	return true
}

// Entities returns the owners of stored elements in dense order.
func (t *Table[T]) Entities() []EntityID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]EntityID(nil), t.owners...)
}

// acquire pins the current dense arrays for iteration. Every acquire must be
// paired with release.
func (t *Table[T]) acquire() ([]T, []EntityID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.readers++
	return t.dense, t.owners
}

func (t *Table[T]) release() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.readers--
	if t.readers == 0 && len(t.ops) > 0 {
		t.applyLocked()
	}
}

func (t *Table[T]) applyLocked() {
	ops := t.ops
	t.ops = nil
	for _, o := range ops {
		if o.remove {
			t.removing[o.entity]--
			if t.removing[o.entity] <= 0 {
				delete(t.removing, o.entity)
			}
			t.removeLocked(o.entity)
			continue
		}
		st, ok := t.staged[o.entity]
		if !ok {
			continue
		}
		delete(t.staged, o.entity)
		t.insertLocked(o.entity, st.slot, *st.val)
	}
}

// lookupLocked finds the live element of id: a staged value first, then a
// stored one that is not about to be removed.
func (t *Table[T]) lookupLocked(id EntityID) (*T, Handle[T], bool) {
	if st, ok := t.staged[id]; ok {
		return st.val, Handle[T]{slot: st.slot, gen: t.slots[st.slot].gen}, true
	}
	s, ok := t.byEntity[id]
	if !ok || t.removing[id] > 0 {
		return nil, Handle[T]{}, false
	}
	return &t.dense[t.slots[s].dense], Handle[T]{slot: s, gen: t.slots[s].gen}, true
}

func (t *Table[T]) allocSlotLocked(id EntityID) uint32 {
	if n := len(t.freeSlots); n > 0 {
		s := t.freeSlots[n-1]
		t.freeSlots = t.freeSlots[:n-1]
		t.slots[s].entity = id
		return s
	}
	t.slots = append(t.slots, slot{gen: 1, dense: -1, entity: id})
	return uint32(len(t.slots) - 1)
}

func (t *Table[T]) freeSlotLocked(s uint32) {
	sl := &t.slots[s]
	sl.gen++
	if sl.gen == 0 {
		sl.gen = 1
	}
	sl.dense = -1
	sl.entity = InvalidEntity
	t.freeSlots = append(t.freeSlots, s)
}

func (t *Table[T]) insertLocked(id EntityID, s uint32, v T) *T {
	t.dense = append(t.dense, v)
	t.owners = append(t.owners, id)
	t.denseSlot = append(t.denseSlot, s)
	t.slots[s].dense = int32(len(t.dense) - 1)
	t.byEntity[id] = s
	return &t.dense[len(t.dense)-1]
}

// removeLocked swap-removes the element of id.
func (t *Table[T]) removeLocked(id EntityID) {
	s, ok := t.byEntity[id]
	if !ok {
		return
	}
	i := int(t.slots[s].dense)
	last := len(t.dense) - 1
	if i != last {
		t.dense[i] = t.dense[last]
		t.owners[i] = t.owners[last]
		t.denseSlot[i] = t.denseSlot[last]
		t.slots[t.denseSlot[i]].dense = int32(i)
	}
	var zero T
	t.dense[last] = zero
	t.dense = t.dense[:last]
	t.owners = t.owners[:last]
	t.denseSlot = t.denseSlot[:last]
	delete(t.byEntity, id)
	t.freeSlotLocked(s)
}

func (t *Table[T]) addAny(id EntityID) any {
	v, _ := t.Add(id)
	return v
}

func (t *Table[T]) getAny(id EntityID) any {
	if v := t.Get(id); v != nil {
		return v
	}
	return nil
}
