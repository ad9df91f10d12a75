package worker

import (
	"sync/atomic"
	"time"
)

// Stats counts lifecycle outcomes for the ops surface. Counters are
// monotonic for the life of the process; persisted task state remains the
// source of truth for auditing.
type Stats struct {
	started   time.Time
	processed atomic.Uint64
	succeeded atomic.Uint64
	failed    atomic.Uint64
	requeued  atomic.Uint64
}

func NewStats() *Stats {
	return &Stats{started: time.Now()}
}

func (s *Stats) recordSuccess() {
	s.processed.Add(1)
	s.succeeded.Add(1)
}

func (s *Stats) recordFailure() {
	s.processed.Add(1)
	s.failed.Add(1)
}

func (s *Stats) recordRequeue() {
	s.processed.Add(1)
	s.requeued.Add(1)
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	UptimeSec int64  `json:"uptimeSeconds"`
	Processed uint64 `json:"processed"`
	Succeeded uint64 `json:"succeeded"`
	Failed    uint64 `json:"failed"`
	Requeued  uint64 `json:"requeued"`
}

func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		UptimeSec: int64(time.Since(s.started).Seconds()),
		Processed: s.processed.Load(),
		Succeeded: s.succeeded.Load(),
		Failed:    s.failed.Load(),
		Requeued:  s.requeued.Load(),
	}
}
