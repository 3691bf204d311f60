package runner

import (
	"sync/atomic"
	"time"
)

// Stats counts what the runner did since the process started.
type Stats struct {
	ticks      atomic.Int64
	duplicates atomic.Int64
	fired      atomic.Int64
	started    atomic.Int64
	stopped    atomic.Int64
	skipped    atomic.Int64
	failed     atomic.Int64

	lastTickDuration atomic.Int64 // milliseconds
	avgTickDuration  atomic.Int64 // milliseconds

	startedAt time.Time
}

func NewStats() *Stats {
	return &Stats{startedAt: time.Now()}
}

func (s *Stats) record(r *Report, d time.Duration) {
	s.ticks.Add(1)
	if r.Duplicate {
		s.duplicates.Add(1)
	}
	s.fired.Add(int64(len(r.Fired)))
	s.started.Add(int64(len(r.Started)))
	s.stopped.Add(int64(len(r.Stopped)))
	s.skipped.Add(int64(len(r.Skipped)))
	s.failed.Add(int64(len(r.Failed)))

	ms := d.Milliseconds()
	s.lastTickDuration.Store(ms)
	// Simple moving average
	old := s.avgTickDuration.Load()
	if old == 0 {
		s.avgTickDuration.Store(ms)
	} else {
		s.avgTickDuration.Store((old + ms) / 2)
	}
}

type Snapshot struct {
	Ticks            int64         `json:"ticks"`
	Duplicates       int64         `json:"duplicates"`
	Fired            int64         `json:"fired"`
	Started          int64         `json:"started"`
	Stopped          int64         `json:"stopped"`
	Skipped          int64         `json:"skipped"`
	Failed           int64         `json:"failed"`
	LastTickDuration int64         `json:"last_tick_duration_ms"`
	AvgTickDuration  int64         `json:"avg_tick_duration_ms"`
	Uptime           time.Duration `json:"uptime"`
}

func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Ticks:            s.ticks.Load(),
		Duplicates:       s.duplicates.Load(),
		Fired:            s.fired.Load(),
		Started:          s.started.Load(),
		Stopped:          s.stopped.Load(),
		Skipped:          s.skipped.Load(),
		Failed:           s.failed.Load(),
		LastTickDuration: s.lastTickDuration.Load(),
		AvgTickDuration:  s.avgTickDuration.Load(),
		Uptime:           time.Since(s.startedAt),
	}
}
