package ecs

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// typeStats carries per-type access counters. The wait average is an
// exponential moving average smoothed over roughly the last 100 acquisitions.
type typeStats struct {
	reads     atomic.Uint64
	writes    atomic.Uint64
	timeouts  atomic.Uint64
	waits     atomic.Uint64
	waitAvgNs atomic.Uint64 // float64 bits
}

// AccessStats collects component access counters per type. Recording is
// lock-free after the first touch of a type.
type AccessStats struct {
	mu    sync.RWMutex
	types map[string]*typeStats
}

// TypeAccessStats is a point-in-time snapshot for one component type.
type TypeAccessStats struct {
	Reads       uint64
	Writes      uint64
	Timeouts    uint64
	AverageWait time.Duration
}

// NewAccessStats creates an empty collector.
func NewAccessStats() *AccessStats {
	return &AccessStats{types: make(map[string]*typeStats)}
}

func (s *AccessStats) statsFor(name string) *typeStats {
	s.mu.RLock()
	ts, ok := s.types[name]
	s.mu.RUnlock()
	if ok {
		return ts
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ts, ok = s.types[name]; ok {
		return ts
	}
	ts = &typeStats{}
	s.types[name] = ts
	return ts
}

func (s *AccessStats) recordRead(name string)  { s.statsFor(name).reads.Add(1) }
func (s *AccessStats) recordWrite(name string) { s.statsFor(name).writes.Add(1) }

func (s *AccessStats) recordTimeout(name string) { s.statsFor(name).timeouts.Add(1) }

func (s *AccessStats) recordWait(name string, wait time.Duration) {
	ts := s.statsFor(name)
	n := ts.waits.Add(1)

	alpha := 1.0 / math.Min(float64(n), 100)
	for {
		old := ts.waitAvgNs.Load()
		avg := math.Float64frombits(old)
		next := alpha*float64(wait.Nanoseconds()) + (1-alpha)*avg
		if ts.waitAvgNs.CompareAndSwap(old, math.Float64bits(next)) {
			return
		}
	}
}

// Snapshot returns current counters for every touched type.
func (s *AccessStats) Snapshot() map[string]TypeAccessStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]TypeAccessStats, len(s.types))
	for name, ts := range s.types {
		out[name] = TypeAccessStats{
			Reads:       ts.reads.Load(),
			Writes:      ts.writes.Load(),
			Timeouts:    ts.timeouts.Load(),
			AverageWait: time.Duration(math.Float64frombits(ts.waitAvgNs.Load())),
		}
	}
	return out
}

// Reset zeroes all counters.
func (s *AccessStats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.types = make(map[string]*typeStats)
}
