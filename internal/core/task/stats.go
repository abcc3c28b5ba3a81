package task

import (
	"time"

	"go.uber.org/zap"
)

// StageStats is timing for one stage, refreshed every frame.
type StageStats struct {
	TaskCount  int
	Runs       int
	Duration   time.Duration
	Blocked    time.Duration
	MaxDur     time.Duration
	MaxBlocked time.Duration
	Frame      uint64
}

func (s *Scheduler) record(stage Stage, tasks int, dur, blocked time.Duration) {
	s.statsMu.Lock()
	frame := s.frame.Load()
	st := &s.stats[stage]
	if st.Frame != frame || st.Runs == 0 {
		st.TaskCount, st.Runs, st.Duration, st.Blocked = 0, 0, 0, 0
	}
	st.Frame = frame
	st.Runs++
	st.TaskCount += tasks
	st.Duration += dur
	st.Blocked += blocked
	if st.Duration > st.MaxDur {
		st.MaxDur = st.Duration
	}
	if st.Blocked > st.MaxBlocked {
		st.MaxBlocked = st.Blocked
	}
	snapshot := *st
	s.statsMu.Unlock()

	if blocked > time.Millisecond {
		s.log.Debug("stage blocked",
			zap.String("stage", stage.String()),
			zap.Duration("blocked", blocked),
			zap.Duration("duration", snapshot.Duration),
			zap.Int("tasks", snapshot.TaskCount),
		)
	}
}

// Stats returns the latest timing for stage.
func (s *Scheduler) Stats(stage Stage) StageStats {
	if !stage.Valid() {
		return StageStats{}
	}
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats[stage]
}
