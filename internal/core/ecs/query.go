package ecs

import (
	"runtime"

	"golang.org/x/sync/errgroup"
)

// IterOption configures ForEach.
type IterOption func(*iterConfig)

type iterConfig struct {
	parallel    bool
	enabledOnly bool
	chunk       int
}

// Parallel spreads the iteration over goroutines. fn is then called
// concurrently for different elements, in no particular order.
func Parallel() IterOption { return func(c *iterConfig) { c.parallel = true } }

// EnabledOnly skips entities that are not both awake and enabled.
func EnabledOnly() IterOption { return func(c *iterConfig) { c.enabledOnly = true } }

// ChunkSize sets how many elements each goroutine takes in a parallel pass.
func ChunkSize(n int) IterOption {
	return func(c *iterConfig) {
		if n > 0 {
			c.chunk = n
		}
	}
}

const defaultChunk = 256

// ForEach calls fn for every T in the table. Adds and removes made on the
// same table from inside fn, or from other goroutines while the pass runs,
// are applied once the pass is over.
func ForEach[T any](w *World, fn func(EntityID, *T), opts ...IterOption) {
	t := Lookup[T](w)
	if t == nil || fn == nil {
		return
	}
	cfg := iterConfig{chunk: defaultChunk}
	for _, opt := range opts {
		opt(&cfg)
	}

	dense, owners := t.acquire()
	defer t.release()

	visit := func(lo, hi int) {
		for i := lo; i < hi; i++ {
			if cfg.enabledOnly && !w.IsEntityReady(owners[i]) {
				continue
			}
			fn(owners[i], &dense[i])
		}
	}

	if !cfg.parallel || len(dense) <= cfg.chunk {
		visit(0, len(dense))
		return
	}

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for lo := 0; lo < len(dense); lo += cfg.chunk {
		lo, hi := lo, min(lo+cfg.chunk, len(dense))
		g.Go(func() error {
			visit(lo, hi)
			return nil
		})
	}
	_ = g.Wait()
}

// ForEachEntity calls fn for every entity with metadata. It works on a
// snapshot, so fn may add or remove entities.
func (w *World) ForEachEntity(fn func(EntityID, EntityInfo)) {
	w.mu.RLock()
	ids := make([]EntityID, 0, len(w.info))
	infos := make([]EntityInfo, 0, len(w.info))
	for id, info := range w.info {
		ids = append(ids, id)
		infos = append(infos, info)
	}
	w.mu.RUnlock()
	for i, id := range ids {
		fn(id, infos[i])
	}
}

// First returns the first stored T in dense order.
func First[T any](w *World) (EntityID, *T, bool) {
	t := Lookup[T](w)
	if t == nil {
		return InvalidEntity, nil, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.dense) == 0 {
		return InvalidEntity, nil, false
	}
	return t.owners[0], &t.dense[0], true
}
