package worker

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Job is a unit of work executed by a Worker.
type Job interface {
	Run()
}

// JobFunc adapts a plain function to Job.
type JobFunc func()

func (f JobFunc) Run() { f() }

// Worker owns one goroutine and a private FIFO queue. It sleeps on a
// condition variable while the queue is empty.
type Worker struct {
	ID int

	mu    sync.Mutex
	cond  *sync.Cond
	queue []Job

	running    atomic.Bool
	abort      atomic.Bool
	processing atomic.Bool

	onComplete func(Job)
	done       chan struct{}
	log        *zap.Logger
}

func newWorker(id int, onComplete func(Job), log *zap.Logger) *Worker {
	w := &Worker{
		ID:         id,
		queue:      make([]Job, 0, 16),
		onComplete: onComplete,
		done:       make(chan struct{}),
		log:        log,
	}
	w.cond = sync.NewCond(&w.mu)
	w.running.Store(true)
	go w.loop()
	return w
}

func (w *Worker) loop() {
	defer close(w.done)
	for {
		w.mu.Lock()
		for w.running.Load() && len(w.queue) == 0 {
			w.cond.Wait()
		}
		if w.abort.Load() || len(w.queue) == 0 {
			dropped := len(w.queue)
			w.queue = nil
			w.mu.Unlock()
			if dropped > 0 {
				w.log.Debug("worker stopped with queued jobs", zap.Int("worker", w.ID), zap.Int("dropped", dropped))
			}
			return
		}
		job := w.queue[0]
		w.queue[0] = nil
		w.queue = w.queue[1:]
		w.processing.Store(true)
		w.mu.Unlock()

		job.Run()
		if w.onComplete != nil {
			w.onComplete(job)
		}
		w.processing.Store(false)
	}
}

// AddTask queues a job and wakes the worker.
func (w *Worker) AddTask(job Job) {
	w.mu.Lock()
	w.queue = append(w.queue, job)
	w.mu.Unlock()
	w.cond.Signal()
}

// IsIdle reports whether the queue is empty and no job is executing.
func (w *Worker) IsIdle() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue) == 0 && !w.processing.Load()
}

// QueueLen returns the number of jobs waiting to run.
func (w *Worker) QueueLen() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

// abortTasks stops the worker and joins its goroutine. The job currently
// executing finishes; queued jobs are dropped.
func (w *Worker) abortTasks() {
	w.mu.Lock()
	w.running.Store(false)
	w.abort.Store(true)
	w.mu.Unlock()
	w.cond.Broadcast()
	<-w.done
}
