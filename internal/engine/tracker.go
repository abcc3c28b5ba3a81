package engine

import (
	"sync"
	"time"
)

// DefaultTrackedFrames is how many frame durations the tracker keeps.
const DefaultTrackedFrames = 300

// FrameTracker keeps the last N frame durations in a ring.
type FrameTracker struct {
	mu     sync.Mutex
	values []time.Duration
	next   int
	filled bool
}

func NewFrameTracker(size int) *FrameTracker {
	if size < 1 {
		size = DefaultTrackedFrames
	}
	return &FrameTracker{values: make([]time.Duration, size)}
}

// Add records one frame duration, overwriting the oldest once full.
func (f *FrameTracker) Add(d time.Duration) {
	f.mu.Lock()
	f.values[f.next] = d
	f.next++
	if f.next == len(f.values) {
		f.next = 0
		f.filled = true
	}
	f.mu.Unlock()
}

// FrameStats summarises the tracked window.
type FrameStats struct {
	Samples int
	Last    time.Duration
	Min     time.Duration
	Max     time.Duration
	Average time.Duration
}

// Stats returns min, max and average over the recorded samples. A tracker
// without samples returns the zero value.
func (f *FrameTracker) Stats() FrameStats {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := f.next
	if f.filled {
		n = len(f.values)
	}
	if n == 0 {
		return FrameStats{}
	}
	last := f.next - 1
	if last < 0 {
		last = len(f.values) - 1
	}
	st := FrameStats{Samples: n, Last: f.values[last], Min: f.values[0], Max: f.values[0]}
	var sum time.Duration
	for _, v := range f.values[:n] {
		sum += v
		if v < st.Min {
			st.Min = v
		}
		if v > st.Max {
			st.Max = v
		}
	}
	st.Average = sum / time.Duration(n)
	return st
}

// Values returns the samples oldest first.
func (f *FrameTracker) Values() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.filled {
		return append([]time.Duration(nil), f.values[:f.next]...)
	}
	out := make([]time.Duration, 0, len(f.values))
	out = append(out, f.values[f.next:]...)
	return append(out, f.values[:f.next]...)
}
