package worker

import (
	"runtime"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Pool is a fixed set of symmetric workers created once at startup.
type Pool struct {
	workers  []*Worker
	next     atomic.Uint64
	stopOnce sync.Once
	log      *zap.Logger
}

// Option configures a Pool.
type Option func(*poolOptions)

type poolOptions struct {
	onComplete func(Job)
}

// OnComplete installs a callback invoked on the worker goroutine after every job.
func OnComplete(fn func(Job)) Option {
	return func(o *poolOptions) { o.onComplete = fn }
}

// NewPool starts size workers. A size below one uses runtime.NumCPU().
func NewPool(size int, log *zap.Logger, opts ...Option) *Pool {
	if size < 1 {
		size = runtime.NumCPU()
	}
	var o poolOptions
	for _, opt := range opts {
		opt(&o)
	}
	log = log.Named("worker")
	p := &Pool{
		workers: make([]*Worker, 0, size),
		log:     log,
	}
	for i := 0; i < size; i++ {
		p.workers = append(p.workers, newWorker(i, o.onComplete, log))
	}
	log.Info("worker pool started", zap.Int("workers", size))
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Worker returns worker i.
func (p *Pool) Worker(i int) *Worker { return p.workers[i] }

// Dispatch hands job to the first idle worker, or to the next worker in
// round-robin order when all of them are busy. Load balance is best effort.
func (p *Pool) Dispatch(job Job) int {
	i := p.pick()
	p.workers[i].AddTask(job)
	return i
}

func (p *Pool) pick() int {
	for i, w := range p.workers {
		if w.IsIdle() {
			return i
		}
	}
	return int(p.next.Add(1) % uint64(len(p.workers)))
}

// IsIdle is true when every worker has an empty queue and is not executing.
func (p *Pool) IsIdle() bool {
	for _, w := range p.workers {
		if !w.IsIdle() {
			return false
		}
	}
	return true
}

// Shutdown stops all workers and waits for their goroutines. Jobs still
// queued are dropped without running.
func (p *Pool) Shutdown() {
	p.stopOnce.Do(func() {
		for _, w := range p.workers {
			w.abortTasks()
		}
		p.log.Info("worker pool stopped")
	})
}
