package ecs

import (
	"sort"
	"sync"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

type Pos struct {
	X, Y float32
}

type Vel struct {
	DX, DY float32
}

type Health struct {
	HP int32
}

func (Health) ComponentName() string { return "Health" }

func newTestWorld(t *testing.T) *World {
	t.Helper()
	w := NewWorld(zaptest.NewLogger(t))
	RegisterComponent[Pos](w)
	RegisterComponent[Vel](w)
	return w
}

func TestTypeIDStable(t *testing.T) {
	if TypeName[Pos]() != "Pos" {
		t.Errorf("TypeName[Pos] = %q", TypeName[Pos]())
	}
	if TypeName[Health]() != "Health" {
		t.Errorf("TypeName[Health] = %q", TypeName[Health]())
	}
	if TypeOf[Pos]() != TypeOf[Pos]() || TypeOf[Pos]() == TypeOf[Vel]() {
		t.Error("type ids must be stable and distinct")
	}
}

func TestForEachScenario(t *testing.T) {
	w := newTestWorld(t)
	p := AddComponent[Pos](w, 1)
	p.X, p.Y = 1, 2

	type seen struct {
		id   EntityID
		x, y float32
	}
	var got []seen
	ForEach(w, func(id EntityID, p *Pos) {
		got = append(got, seen{id, p.X, p.Y})
	})
	if len(got) != 1 || got[0] != (seen{1, 1.0, 2.0}) {
		t.Fatalf("ForEach saw %+v", got)
	}
}

func TestAddReturnsExisting(t *testing.T) {
	w := newTestWorld(t)
	a := AddComponent[Pos](w, 7)
	a.X = 3
	b := AddComponent[Pos](w, 7)
	if b.X != 3 || Lookup[Pos](w).Len() != 1 {
		t.Error("second add should return the existing component")
	}
}

func TestNewEntityInfoDefaults(t *testing.T) {
	w := newTestWorld(t)
	id := w.NewEntityID()
	AddComponent[Pos](w, id)
	info, ok := w.Info(id)
	if !ok || info.Awake || !info.Enabled {
		t.Fatalf("info = %+v, %v", info, ok)
	}
	if !w.IsEntityEnabled(id) || w.IsEntityReady(id) {
		t.Error("new entity should be enabled and not ready")
	}
	w.AwakeEntity(id)
	if !w.IsEntityReady(id) {
		t.Error("awake entity should be ready")
	}
	w.EnableEntity(id, false)
	if w.IsEntityReady(id) || w.IsEntityEnabled(id) {
		t.Error("disabled entity should not be ready")
	}
}

func TestRemoveEntityDefersComponentRemoval(t *testing.T) {
	w := newTestWorld(t)
	id := w.NewEntityID()
	AddComponent[Pos](w, id)
	AddComponent[Vel](w, id)
	w.AwakeEntity(id)

	w.RemoveEntity(id)
	if w.IsEntityEnabled(id) {
		t.Error("removed entity must be disabled immediately")
	}
	if !Has[Pos](w, id) || !Has[Vel](w, id) {
		t.Error("components must survive until FlushMorgue")
	}
	w.EnableEntity(id, true)
	if w.IsEntityEnabled(id) {
		t.Error("entity in the morgue cannot be re-enabled")
	}

	var visited int
	ForEach(w, func(EntityID, *Pos) { visited++ }, EnabledOnly())
	if visited != 0 {
		t.Error("enabled-only iteration must skip removed entities")
	}

	if n := w.FlushMorgue(); n != 1 {
		t.Fatalf("FlushMorgue removed %d entities", n)
	}
	if Has[Pos](w, id) || Has[Vel](w, id) {
		t.Error("components must be gone after FlushMorgue")
	}
	if _, ok := w.Info(id); ok {
		t.Error("metadata must be gone after FlushMorgue")
	}
}

func TestIDReuseOnlyAfterFlush(t *testing.T) {
	w := newTestWorld(t)
	a := w.NewEntityID()
	AddComponent[Pos](w, a).X = 99
	w.RemoveEntity(a)

	b := w.NewEntityID()
	if b == a {
		t.Fatal("id reused before FlushMorgue")
	}
	w.FlushMorgue()

	c := w.NewEntityID()
	if c != a {
		t.Fatalf("expected recycled id %d, got %d", a, c)
	}
	if Has[Pos](w, c) {
		t.Fatal("recycled id carries stale component")
	}
	p := Get[Pos](w, c)
	if p == nil || p.X != 0 {
		t.Errorf("fresh component on recycled id = %+v", p)
	}
}

func TestFreeListIsLIFO(t *testing.T) {
	w := newTestWorld(t)
	ids := []EntityID{w.NewEntityID(), w.NewEntityID(), w.NewEntityID()}
	for _, id := range ids {
		AddComponent[Pos](w, id)
		w.RemoveEntity(id)
	}
	w.FlushMorgue()
	for i := len(ids) - 1; i >= 0; i-- {
		if got := w.NewEntityID(); got != ids[i] {
			t.Fatalf("got %d, want %d", got, ids[i])
		}
	}
}

func TestReserveEntityID(t *testing.T) {
	w := newTestWorld(t)
	w.ReserveEntityID(10)
	if id := w.NewEntityID(); id != 11 {
		t.Errorf("NewEntityID after reserving 10 = %d", id)
	}
}

func TestEnsureEntityWithoutComponents(t *testing.T) {
	w := newTestWorld(t)
	w.EnsureEntity(0)
	w.EnsureEntity(20)
	if w.EntityCount() != 1 || !w.IsEntityEnabled(20) || w.IsEntityReady(20) {
		t.Fatalf("count %d, enabled %v, ready %v", w.EntityCount(), w.IsEntityEnabled(20), w.IsEntityReady(20))
	}
	w.AwakeEntity(20)
	if !w.IsEntityReady(20) {
		t.Error("entity not ready after AwakeEntity")
	}
	if id := w.NewEntityID(); id != 21 {
		t.Errorf("NewEntityID = %d, want 21", id)
	}
}

func TestOnDestroyHook(t *testing.T) {
	w := newTestWorld(t)
	var destroyed []EntityID
	w.OnDestroy(func(id EntityID) {
		// hooks run outside the world's locks
		_ = w.IsEntityEnabled(id)
		destroyed = append(destroyed, id)
	})
	AddComponent[Pos](w, 3)
	w.RemoveEntity(3)
	w.RemoveEntity(3)
	w.FlushMorgue()
	if len(destroyed) != 1 || destroyed[0] != 3 {
		t.Errorf("destroyed = %v", destroyed)
	}
}

func TestStaleRemoveDoesNotKillRecycledID(t *testing.T) {
	w := newTestWorld(t)
	a := w.NewEntityID()
	AddComponent[Pos](w, a)
	w.RemoveEntity(a)
	w.FlushMorgue()

	// a second remove through an old reference
	w.RemoveEntity(a)
	if n := w.MorgueLen(); n != 0 {
		t.Fatalf("destroyed id queued again, morgue = %d", n)
	}

	b := w.NewEntityID()
	if b != a {
		t.Fatalf("expected recycled id %d, got %d", a, b)
	}
	AddComponent[Pos](w, b)
	if !w.IsEntityEnabled(b) {
		t.Fatal("recycled entity is disabled")
	}
	w.FlushMorgue()
	if !Has[Pos](w, b) {
		t.Error("recycled entity lost its component")
	}
	if _, ok := w.Info(b); !ok {
		t.Error("recycled entity lost its metadata")
	}
}

func TestRemoveUnknownEntityIsIgnored(t *testing.T) {
	w := newTestWorld(t)
	w.RemoveEntity(77)
	if n := w.MorgueLen(); n != 0 {
		t.Errorf("morgue = %d after removing an unknown id", n)
	}
	if n := w.FlushMorgue(); n != 0 {
		t.Errorf("FlushMorgue removed %d entities", n)
	}
}

func TestRemoveFromDestroyHook(t *testing.T) {
	w := newTestWorld(t)
	a, b := w.NewEntityID(), w.NewEntityID()
	AddComponent[Pos](w, a)
	AddComponent[Pos](w, b)
	calls := 0
	w.OnDestroy(func(id EntityID) {
		calls++
		w.RemoveEntity(a)
		w.RemoveEntity(b)
	})
	w.RemoveEntity(a)
	w.RemoveEntity(b)
	if n := w.FlushMorgue(); n != 2 {
		t.Fatalf("FlushMorgue removed %d entities", n)
	}
	if calls != 2 {
		t.Errorf("hook ran %d times", calls)
	}
	if n := w.MorgueLen(); n != 0 {
		t.Fatalf("hook re-queued destroyed ids, morgue = %d", n)
	}

	c := w.NewEntityID()
	AddComponent[Pos](w, c)
	w.FlushMorgue()
	if !Has[Pos](w, c) || !w.IsEntityEnabled(c) {
		t.Errorf("fresh entity %d destroyed by a stale remove", c)
	}
}

func TestGetAutoCreatesTryGetDoesNot(t *testing.T) {
	w := newTestWorld(t)
	if _, ok := TryGet[Vel](w, 5); ok {
		t.Fatal("TryGet created a component")
	}
	if Get[Vel](w, 5) == nil {
		t.Fatal("Get should create the component")
	}
	if _, ok := TryGet[Vel](w, 5); !ok {
		t.Error("component missing after Get")
	}
	if Get[Health](w, 5) != nil {
		t.Error("Get of unregistered type should be nil")
	}
}

func TestUnregisteredComponentIsLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	w := NewWorld(zap.New(core))

	if AddComponent[Health](w, 1) != nil {
		t.Fatal("add of unregistered type returned a component")
	}
	if logs.FilterMessage("add of unregistered component").Len() != 1 {
		t.Errorf("expected a warning, got %v", logs.All())
	}
	if _, err := w.AddComponentByType(1, TypeOf[Health]()); err == nil {
		t.Error("AddComponentByType should fail for unknown type")
	}
}

func TestAddComponentByType(t *testing.T) {
	w := newTestWorld(t)
	v, err := w.AddComponentByType(4, TypeOf[Pos]())
	if err != nil {
		t.Fatal(err)
	}
	p, ok := v.(*Pos)
	if !ok {
		t.Fatalf("got %T, want *Pos", v)
	}
	p.Y = 8
	if got, _ := TryGet[Pos](w, 4); got.Y != 8 {
		t.Error("typed and untyped access disagree")
	}
	if !w.HasComponentType(4, TypeOf[Pos]()) || w.HasComponentType(4, TypeOf[Vel]()) {
		t.Error("HasComponentType mismatch")
	}
	if w.ComponentByType(4, TypeOf[Vel]()) != nil {
		t.Error("ComponentByType should be nil for a missing component")
	}
}

func TestReRegisterReplacesTable(t *testing.T) {
	w := newTestWorld(t)
	AddComponent[Pos](w, 1)
	RegisterComponent[Pos](w)
	if Has[Pos](w, 1) {
		t.Error("re-registering should drop existing data")
	}
}

func TestAwakeAllAndForEachEntity(t *testing.T) {
	w := newTestWorld(t)
	for i := EntityID(1); i <= 3; i++ {
		AddComponent[Pos](w, i)
	}
	w.AwakeAllEntities()
	n := 0
	w.ForEachEntity(func(id EntityID, info EntityInfo) {
		if !info.Ready() {
			t.Errorf("entity %d not ready", id)
		}
		n++
	})
	if n != 3 || w.EntityCount() != 3 {
		t.Errorf("visited %d entities", n)
	}
}

func TestClearAllEntities(t *testing.T) {
	w := newTestWorld(t)
	AddComponent[Pos](w, w.NewEntityID())
	AddComponent[Vel](w, w.NewEntityID())
	w.ClearAllEntities()
	if Lookup[Pos](w).Len() != 0 || Lookup[Vel](w).Len() != 0 || w.EntityCount() != 0 {
		t.Error("world not empty after ClearAllEntities")
	}
	if _, _, ok := First[Pos](w); ok {
		t.Error("First on empty table")
	}
}

func TestFirst(t *testing.T) {
	w := newTestWorld(t)
	AddComponent[Pos](w, 9).X = 4
	AddComponent[Pos](w, 2)
	id, p, ok := First[Pos](w)
	if !ok || id != 9 || p.X != 4 {
		t.Errorf("First = %d %+v %v", id, p, ok)
	}
}

func TestParallelForEachVisitsAll(t *testing.T) {
	w := newTestWorld(t)
	const n = 2000
	for i := 1; i <= n; i++ {
		AddComponent[Vel](w, EntityID(i)).DX = 1
	}
	var sum atomic.Int64
	var mu sync.Mutex
	seen := make(map[EntityID]bool, n)
	ForEach(w, func(id EntityID, v *Vel) {
		v.DY = v.DX * 2
		sum.Add(int64(v.DY))
		mu.Lock()
		seen[id] = true
		mu.Unlock()
	}, Parallel(), ChunkSize(64))
	if sum.Load() != 2*n || len(seen) != n {
		t.Errorf("sum = %d, seen = %d", sum.Load(), len(seen))
	}
}

func TestStructuralChangesDuringIterationAreDeferred(t *testing.T) {
	w := newTestWorld(t)
	for i := EntityID(1); i <= 4; i++ {
		AddComponent[Pos](w, i).X = float32(i)
	}

	var visited []EntityID
	ForEach(w, func(id EntityID, p *Pos) {
		visited = append(visited, id)
		if id == 1 {
			n := AddComponent[Pos](w, 100)
			n.X = 100
			Lookup[Pos](w).Remove(2)
			if !Has[Pos](w, 100) {
				t.Error("staged component should be visible")
			}
			if Has[Pos](w, 2) {
				t.Error("pending removal should hide the component")
			}
		}
	})
	if len(visited) != 4 {
		t.Errorf("iteration visited %v, want the four original entities", visited)
	}

	tbl := Lookup[Pos](w)
	if tbl.Len() != 4 {
		t.Fatalf("Len = %d after applying deferred changes", tbl.Len())
	}
	if p, ok := TryGet[Pos](w, 100); !ok || p.X != 100 {
		t.Errorf("staged value lost: %+v", p)
	}
	ids := tbl.Entities()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	want := []EntityID{1, 3, 4, 100}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("entities = %v, want %v", ids, want)
		}
	}
}

func TestFlushDuringIterationDoesNotLeakStaleData(t *testing.T) {
	w := newTestWorld(t)
	a := w.NewEntityID()
	AddComponent[Pos](w, a).X = 42
	w.RemoveEntity(a)

	ForEach(w, func(EntityID, *Pos) {
		w.FlushMorgue()
		b := w.NewEntityID()
		if b != a {
			t.Fatalf("expected recycled id %d, got %d", a, b)
		}
		if Has[Pos](w, b) {
			t.Error("recycled id sees stale component during iteration")
		}
		AddComponent[Pos](w, b).X = 7
	})
	if p, _ := TryGet[Pos](w, a); p == nil || p.X != 7 {
		t.Errorf("recycled entity component = %+v", p)
	}
	if Lookup[Pos](w).Len() != 1 {
		t.Errorf("Len = %d", Lookup[Pos](w).Len())
	}
}
