// Package resource loads payloads asynchronously into a shared,
// reference-counted cache.
package resource

import (
	"context"
	"io"
	"sync"

	"github.com/simcore/engine/internal/core/processor"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// DefaultLoaders is the number of loader goroutines when none is configured.
const DefaultLoaders = 4

// Manager owns the resource cache and its loaders. Load, Release and the
// Info accessors are safe from any goroutine; Update must be called from the
// main thread once per frame.
type Manager struct {
	mu      sync.Mutex
	entries map[uint64]*Info
	next    int

	loaders []*processor.Processor[*Info, any]
	source  Source
	onDone  func(*Info)

	log *zap.Logger
}

// Option configures a Manager.
type Option func(*managerOptions)

type managerOptions struct {
	loaders int
	onDone  func(*Info)
}

// WithLoaders sets the number of loader goroutines.
func WithLoaders(n int) Option {
	return func(o *managerOptions) {
		if n > 0 {
			o.loaders = n
		}
	}
}

// OnLoaded installs a hook Update calls for every finished load, after the
// entry's own callbacks.
func OnLoaded(fn func(*Info)) Option {
	return func(o *managerOptions) { o.onDone = fn }
}

func NewManager(ctx context.Context, src Source, log *zap.Logger, opts ...Option) *Manager {
	o := managerOptions{loaders: DefaultLoaders}
	for _, opt := range opts {
		opt(&o)
	}
	m := &Manager{
		entries: make(map[uint64]*Info, 256),
		source:  src,
		onDone:  o.onDone,
		log:     log.Named("resource"),
	}
	load := func(ctx context.Context, info *Info) (any, error) {
		data, err := m.source.Fetch(ctx, Request{Hash: info.id, Type: info.typ})
		if err != nil {
			return nil, err
		}
		return decode(info.typ, data)
	}
	for i := 0; i < o.loaders; i++ {
		m.loaders = append(m.loaders, processor.New(ctx, "resource-loader", load, m.log))
	}
	m.log.Info("resource manager started", zap.Int("loaders", o.loaders))
	return m
}

// Load returns the entry for hash, creating it and queueing one load when
// it is not cached. It never blocks on I/O. onLoaded, when given, runs with
// the entry once it is ready: immediately if it already is, otherwise from
// the Update that completes the load.
func (m *Manager) Load(hash uint64, t Type, onLoaded Callback) *Info {
	m.mu.Lock()
	if info, ok := m.entries[hash]; ok {
		info.useCount.Add(1)
		m.mu.Unlock()
		if !info.whenReady(onLoaded) && onLoaded != nil {
			onLoaded(info)
		}
		return info
	}
	info := newInfo(m, hash, t)
	if onLoaded != nil {
		info.callbacks = append(info.callbacks, onLoaded)
	}
	m.entries[hash] = info
	loader := m.loaders[m.next]
	m.next = (m.next + 1) % len(m.loaders)
	m.mu.Unlock()

	loader.PushPending(info)
	m.log.Debug("resource queued",
		zap.Uint64("hash", hash),
		zap.String("type", t.String()),
	)
	return info
}

// Get returns the cached entry for hash without touching its use count.
func (m *Manager) Get(hash uint64) (*Info, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.entries[hash]
	return info, ok
}

// Len is the number of cached entries.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Pending is the number of loads not yet picked up by Update.
func (m *Manager) Pending() int {
	n := 0
	for _, l := range m.loaders {
		n += l.PendingCount() + l.CompletedCount()
	}
	return n
}

// Update drains finished loads, marks their entries ready and runs their
// callbacks. It returns the number of loads completed.
func (m *Manager) Update() int {
	n := 0
	for _, l := range m.loaders {
		for {
			r, ok := l.PopCompleted()
			if !ok {
				break
			}
			n++
			m.finish(r.Item, r.Value, r.Err)
		}
	}
	return n
}

func (m *Manager) finish(info *Info, data any, err error) {
	if err != nil {
		m.log.Warn("resource load failed",
			zap.Uint64("hash", info.id),
			zap.String("type", info.typ.String()),
			zap.Error(err),
		)
	}
	cbs := info.complete(data, err)
	for _, cb := range cbs {
		cb(info)
	}
	if m.onDone != nil {
		m.onDone(info)
	}
}

// evict drops info from the cache if nobody picked it up again since its
// use count reached zero.
func (m *Manager) evict(info *Info) {
	m.mu.Lock()
	if m.entries[info.id] != info || info.useCount.Load() > 0 {
		m.mu.Unlock()
		return
	}
	delete(m.entries, info.id)
	m.mu.Unlock()

	info.free()
	m.log.Debug("resource evicted", zap.Uint64("hash", info.id))
}

// Shutdown finishes queued loads, stops the loaders and empties the cache.
// A Source that is an io.Closer is closed.
func (m *Manager) Shutdown() error {
	for _, l := range m.loaders {
		l.Stop()
	}
	m.Update()

	m.mu.Lock()
	leaked := 0
	for _, info := range m.entries {
		if info.useCount.Load() > 0 {
			leaked++
		}
		info.free()
	}
	clear(m.entries)
	m.mu.Unlock()
	if leaked > 0 {
		m.log.Warn("resources still referenced at shutdown", zap.Int("count", leaked))
	}

	var err error
	if c, ok := m.source.(io.Closer); ok {
		err = multierr.Append(err, c.Close())
	}
	m.log.Info("resource manager stopped")
	return err
}
