// Package prefab instantiates entities from prefab and scene streams.
package prefab

import (
	"errors"
	"fmt"
	"sync"

	"github.com/simcore/engine/internal/core/ecs"
	"github.com/simcore/engine/internal/resource"
	"github.com/simcore/engine/internal/stream"
	"go.uber.org/zap"
)

// Decoder is implemented by components that can be read from a stream.
type Decoder interface {
	DecodeComponent(r *stream.Reader) error
}

// Encoder is implemented by components that can be written to a stream.
type Encoder interface {
	EncodeComponent(w *stream.Writer)
}

// ErrNotRetained is returned by Spawn for prefabs that are not loaded or
// not spawnable.
var ErrNotRetained = errors.New("prefab: not retained")

// Loader turns entity streams into entities of a World. Streams arrive as
// TypeFile resources; a spawnable prefab keeps its resource so Spawn can
// create more copies later, anything else releases it after use.
type Loader struct {
	world *ecs.World
	res   *resource.Manager

	mu       sync.Mutex
	retained map[uint64]*resource.Info

	onCreated func(hash uint64, ids []ecs.EntityID)
	log       *zap.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// OnInstantiated installs a hook called with the entities created from each
// stream.
func OnInstantiated(fn func(hash uint64, ids []ecs.EntityID)) Option {
	return func(l *Loader) { l.onCreated = fn }
}

func NewLoader(world *ecs.World, res *resource.Manager, log *zap.Logger, opts ...Option) *Loader {
	l := &Loader{
		world:    world,
		res:      res,
		retained: make(map[uint64]*resource.Info),
		log:      log.Named("prefab"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LoadPrefab requests the prefab stream hash and instantiates it once the
// resource manager delivers it.
func (l *Loader) LoadPrefab(hash uint64) {
	l.load(hash, stream.KindPrefab, 1)
}

// LoadScene requests the scene stream hash and instantiates it once.
func (l *Loader) LoadScene(hash uint64) {
	l.load(hash, stream.KindScene, 1)
}

// LoadPrefabN is LoadPrefab creating count copies. The extra copies get
// fresh entity ids.
func (l *Loader) LoadPrefabN(hash uint64, count int) {
	l.load(hash, stream.KindPrefab, count)
}

func (l *Loader) load(hash uint64, kind stream.Kind, count int) {
	l.log.Debug("stream requested", zap.Uint64("resource", hash), zap.String("kind", kind.String()))
	l.res.Load(hash, resource.TypeFile, func(info *resource.Info) {
		l.loaded(info, kind, count)
	})
}

func (l *Loader) loaded(info *resource.Info, kind stream.Kind, count int) {
	hash := info.ID()
	if err := info.Err(); err != nil {
		l.log.Warn("stream load failed", zap.Uint64("resource", hash), zap.Error(err))
		info.Release()
		return
	}
	data := info.Bytes()
	h, ids, err := l.Instantiate(hash, data, kind, false)
	if err != nil {
		info.Release()
		return
	}
	for i := 1; i < count; i++ {
		if _, _, err := l.Instantiate(hash, data, kind, true); err != nil {
			break
		}
	}
	l.log.Info("stream instantiated",
		zap.Uint64("resource", hash),
		zap.String("kind", kind.String()),
		zap.Int("entities", len(ids)),
		zap.Int("copies", count),
		zap.Bool("spawnable", h.Spawnable),
	)

	if kind != stream.KindPrefab || !h.Spawnable {
		info.Release()
		return
	}
	l.mu.Lock()
	if _, ok := l.retained[hash]; ok {
		// already holding a reference from an earlier load
		l.mu.Unlock()
		info.Release()
		return
	}
	l.retained[hash] = info
	l.mu.Unlock()
}

// Spawn instantiates another copy of a retained spawnable prefab with fresh
// entity ids.
func (l *Loader) Spawn(hash uint64) ([]ecs.EntityID, error) {
	l.mu.Lock()
	info, ok := l.retained[hash]
	l.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNotRetained, hash)
	}
	_, ids, err := l.Instantiate(hash, info.Bytes(), stream.KindPrefab, true)
	return ids, err
}

// Retained reports whether hash is held for Spawn.
func (l *Loader) Retained(hash uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.retained[hash]
	return ok
}

// Release drops a retained prefab.
func (l *Loader) Release(hash uint64) {
	l.mu.Lock()
	info, ok := l.retained[hash]
	delete(l.retained, hash)
	l.mu.Unlock()
	if ok {
		info.Release()
	}
}

// Close releases every retained prefab.
func (l *Loader) Close() {
	l.mu.Lock()
	held := l.retained
	l.retained = make(map[uint64]*resource.Info)
	l.mu.Unlock()
	for _, info := range held {
		info.Release()
	}
}

// Instantiate parses data completely and only then creates entities, so a
// malformed stream creates none. With fresh set, ids from the stream are
// ignored and every record gets a new id. Each created entity is awakened
// after its record has been applied.
func (l *Loader) Instantiate(hash uint64, data []byte, kind stream.Kind, fresh bool) (stream.Header, []ecs.EntityID, error) {
	h, records, err := stream.Parse(data, kind)
	if err != nil {
		l.log.Warn("malformed entity stream",
			zap.Uint64("resource", hash),
			zap.String("kind", kind.String()),
			zap.Error(err),
		)
		return h, nil, err
	}

	ids := make([]ecs.EntityID, 0, len(records))
	for _, rec := range records {
		id := ecs.EntityID(rec.EntityID)
		if fresh || rec.EntityID <= 0 {
			id = l.world.NewEntityID()
		}
		l.world.EnsureEntity(id)
		for _, c := range rec.Components {
			l.applyComponent(hash, id, c)
		}
		l.world.AwakeEntity(id)
		ids = append(ids, id)
	}

	if l.onCreated != nil {
		l.onCreated(hash, ids)
	}
	return h, ids, nil
}

func (l *Loader) applyComponent(hash uint64, id ecs.EntityID, c stream.Component) {
	typ := ecs.TypeID(c.Type)
	v, err := l.world.AddComponentByType(id, typ)
	if err != nil {
		l.log.Warn("stream references unregistered component",
			zap.Uint64("resource", hash),
			zap.Uint64("entity", uint64(id)),
			zap.Error(err),
		)
		return
	}
	dec, ok := v.(Decoder)
	if !ok {
		if len(c.Payload) > 0 {
			name, _ := l.world.ComponentName(typ)
			l.log.Warn("component has payload but no decoder",
				zap.String("component", name),
				zap.Uint64("entity", uint64(id)),
			)
		}
		return
	}
	r := stream.NewReader(c.Payload)
	err = dec.DecodeComponent(r)
	if err == nil {
		err = r.Err()
	}
	if err != nil {
		name, _ := l.world.ComponentName(typ)
		l.log.Warn("component decode failed",
			zap.Uint64("resource", hash),
			zap.String("component", name),
			zap.Uint64("entity", uint64(id)),
			zap.Error(err),
		)
	}
}
