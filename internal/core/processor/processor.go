// Package processor runs a transform over a queue of items on one
// background goroutine.
package processor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Func transforms one pending item.
type Func[In, Out any] func(ctx context.Context, item In) (Out, error)

// Result is a processed item. Err is set when the transform failed or
// panicked; Value is then the zero Out.
type Result[In, Out any] struct {
	Item  In
	Value Out
	Err   error
}

// Processor owns a pending queue, a completed queue and a goroutine that
// moves items from one to the other through fn. Both queues are FIFO.
type Processor[In, Out any] struct {
	name string
	fn   Func[In, Out]
	ctx  context.Context

	pendingMu sync.Mutex
	cond      *sync.Cond
	pending   []In

	completedMu sync.Mutex
	completed   []Result[In, Out]

	running atomic.Bool
	done    chan struct{}

	onStart func()
	onStop  func()

	log *zap.Logger
}

// Option configures a Processor.
type Option func(*options)

type options struct {
	onStart func()
	onStop  func()
}

// OnStart runs on the processor goroutine before the first item.
func OnStart(fn func()) Option { return func(o *options) { o.onStart = fn } }

// OnStop runs on the processor goroutine after the last item.
func OnStop(fn func()) Option { return func(o *options) { o.onStop = fn } }

// New starts a processor. ctx is handed to every fn call.
func New[In, Out any](ctx context.Context, name string, fn Func[In, Out], log *zap.Logger, opts ...Option) *Processor[In, Out] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	p := &Processor[In, Out]{
		name:    name,
		fn:      fn,
		ctx:     ctx,
		done:    make(chan struct{}),
		onStart: o.onStart,
		onStop:  o.onStop,
		log:     log.Named("processor").With(zap.String("processor", name)),
	}
	p.cond = sync.NewCond(&p.pendingMu)
	p.running.Store(true)
	go p.loop()
	return p
}

// Name returns the name given at construction.
func (p *Processor[In, Out]) Name() string { return p.name }

// PushPending queues an item and wakes the processor. Items pushed after
// Stop are never processed.
func (p *Processor[In, Out]) PushPending(item In) {
	p.pendingMu.Lock()
	p.pending = append(p.pending, item)
	p.pendingMu.Unlock()
	p.cond.Signal()
}

// PopPending removes the oldest unprocessed item.
func (p *Processor[In, Out]) PopPending() (In, bool) {
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	var zero In
	if len(p.pending) == 0 {
		return zero, false
	}
	item := p.pending[0]
	p.pending[0] = zero
	p.pending = p.pending[1:]
	return item, true
}

// PushCompleted places a result directly on the completed queue.
func (p *Processor[In, Out]) PushCompleted(r Result[In, Out]) {
	p.completedMu.Lock()
	p.completed = append(p.completed, r)
	p.completedMu.Unlock()
}

// PopCompleted removes the oldest result.
func (p *Processor[In, Out]) PopCompleted() (Result[In, Out], bool) {
	p.completedMu.Lock()
	defer p.completedMu.Unlock()
	if len(p.completed) == 0 {
		return Result[In, Out]{}, false
	}
	r := p.completed[0]
	p.completed[0] = Result[In, Out]{}
	p.completed = p.completed[1:]
	return r, true
}

// PendingCount is approximate; it may change right after the call.
func (p *Processor[In, Out]) PendingCount() int {
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	return len(p.pending)
}

// CompletedCount is approximate; it may change right after the call.
func (p *Processor[In, Out]) CompletedCount() int {
	p.completedMu.Lock()
	defer p.completedMu.Unlock()
	return len(p.completed)
}

// Stop processes whatever is still pending, then joins the goroutine.
// Completed results stay available. Safe to call more than once.
func (p *Processor[In, Out]) Stop() {
	if p.running.CompareAndSwap(true, false) {
		p.pendingMu.Lock()
		p.cond.Broadcast()
		p.pendingMu.Unlock()
	}
	<-p.done
}

func (p *Processor[In, Out]) loop() {
	defer close(p.done)
	if p.onStart != nil {
		p.onStart()
	}
	if p.onStop != nil {
		defer p.onStop()
	}
	for {
		p.pendingMu.Lock()
		for len(p.pending) == 0 && p.running.Load() {
			p.cond.Wait()
		}
		if len(p.pending) == 0 {
			p.pendingMu.Unlock()
			return
		}
		item := p.pending[0]
		var zero In
		p.pending[0] = zero
		p.pending = p.pending[1:]
		p.pendingMu.Unlock()

		p.PushCompleted(p.process(item))
	}
}

func (p *Processor[In, Out]) process(item In) (r Result[In, Out]) {
	r.Item = item
	defer func() {
		if v := recover(); v != nil {
			r.Err = fmt.Errorf("processor %s: panic: %v", p.name, v)
			p.log.Error("transform panicked", zap.Any("panic", v))
		}
	}()
	r.Value, r.Err = p.fn(p.ctx, item)
	if r.Err != nil {
		p.log.Debug("transform failed", zap.Error(r.Err))
	}
	return r
}
