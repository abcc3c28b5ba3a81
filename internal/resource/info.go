package resource

import (
	"image"
	"sync"
	"sync/atomic"

	"github.com/gopxl/beep"
)

// Callback receives an entry once its load has finished.
type Callback func(*Info)

// Info is a shared, reference-counted cache entry. It is returned by
// Manager.Load before the payload exists; Ready turns true when Update has
// stored the result of the load.
type Info struct {
	id  uint64
	typ Type

	useCount atomic.Int32
	ready    atomic.Bool

	mu        sync.Mutex
	data      any
	err       error
	callbacks []Callback

	mgr *Manager
}

func newInfo(m *Manager, id uint64, t Type) *Info {
	info := &Info{id: id, typ: t, mgr: m}
	info.useCount.Store(1)
	return info
}

func (i *Info) ID() uint64    { return i.id }
func (i *Info) Type() Type    { return i.typ }
func (i *Info) Ready() bool   { return i.ready.Load() }
func (i *Info) UseCount() int { return int(i.useCount.Load()) }

// Err is the load error, nil while loading or on success.
func (i *Info) Err() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.err
}

// Data returns the decoded payload, nil until ready or after a failed load.
func (i *Info) Data() any {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.data
}

// Bytes returns the payload of a TypeFile entry.
func (i *Info) Bytes() []byte {
	b, _ := i.Data().([]byte)
	return b
}

// Image returns the payload of a TypeImage entry.
func (i *Info) Image() image.Image {
	img, _ := i.Data().(image.Image)
	return img
}

// Audio returns the payload of a TypeMusic entry.
func (i *Info) Audio() *beep.Buffer {
	buf, _ := i.Data().(*beep.Buffer)
	return buf
}

// AddRef registers one more user of the entry.
func (i *Info) AddRef() { i.useCount.Add(1) }

// Release drops one use. The last release evicts the entry from the cache
// and frees its payload.
func (i *Info) Release() {
	n := i.useCount.Add(-1)
	if n > 0 {
		return
	}
	if n < 0 {
		i.useCount.Store(0)
		i.mgr.log.Warn("resource released too often")
		return
	}
	i.mgr.evict(i)
}

// whenReady queues cb, or reports false when the entry is already ready and
// the caller must invoke cb itself.
func (i *Info) whenReady(cb Callback) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.ready.Load() {
		return false
	}
	if cb != nil {
		i.callbacks = append(i.callbacks, cb)
	}
	return true
}

// complete stores the load result and hands back the queued callbacks.
func (i *Info) complete(data any, err error) []Callback {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.data, i.err = data, err
	i.ready.Store(true)
	cbs := i.callbacks
	i.callbacks = nil
	return cbs
}

func (i *Info) free() {
	i.mu.Lock()
	i.data = nil
	i.callbacks = nil
	i.ready.Store(false)
	i.mu.Unlock()
}
