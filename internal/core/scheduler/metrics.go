package scheduler

import (
	"math"
	"sync/atomic"
	"time"
)

// emaRecord folds a sample into an exponential moving average stored as
// float64 bits. The smoothing factor is 1/n for the first hundred samples and
// then freezes at 1/100, so early readings converge fast and steady state
// stays responsive to drift.
func emaRecord(bits *atomic.Uint64, n uint64, sample float64) {
	if n > 100 {
		n = 100
	}
	alpha := 1.0 / float64(n)
	for {
		old := bits.Load()
		avg := math.Float64frombits(old)
		next := math.Float64bits(avg + alpha*(sample-avg))
		if bits.CompareAndSwap(old, next) {
			return
		}
	}
}

// systemPerf accumulates per-system update timings. All fields are atomic so
// pool and dedicated goroutines record without a shared lock.
type systemPerf struct {
	updates  atomic.Uint64
	failures atomic.Uint64
	avgBits  atomic.Uint64 // EMA, milliseconds
	peakNs   atomic.Int64
	lastNs   atomic.Int64
}

func (p *systemPerf) record(elapsed time.Duration) {
	n := p.updates.Add(1)
	p.lastNs.Store(int64(elapsed))
	for {
		old := p.peakNs.Load()
		if int64(elapsed) <= old || p.peakNs.CompareAndSwap(old, int64(elapsed)) {
			break
		}
	}
	emaRecord(&p.avgBits, n, float64(elapsed)/float64(time.Millisecond))
}

// SystemMetrics is a point-in-time snapshot of one system's counters.
type SystemMetrics struct {
	Name     string
	Strategy Strategy
	Enabled  bool

	Updates  uint64
	Failures uint64

	AvgUpdate  time.Duration
	PeakUpdate time.Duration
	LastUpdate time.Duration
}

func (p *systemPerf) snapshot() (updates, failures uint64, avg, peak, last time.Duration) {
	updates = p.updates.Load()
	failures = p.failures.Load()
	avgMs := math.Float64frombits(p.avgBits.Load())
	avg = time.Duration(avgMs * float64(time.Millisecond))
	peak = time.Duration(p.peakNs.Load())
	last = time.Duration(p.lastNs.Load())
	return
}

// frameMetrics tracks whole-frame timings on the frame goroutine.
type frameMetrics struct {
	frames    atomic.Uint64
	avgBits   atomic.Uint64 // EMA, milliseconds, full frame
	waitBits  atomic.Uint64 // EMA, milliseconds, pool barrier wait
	drainBits atomic.Uint64 // EMA, milliseconds, message drain
}

func (f *frameMetrics) record(frame, wait, drain time.Duration) {
	n := f.frames.Add(1)
	emaRecord(&f.avgBits, n, float64(frame)/float64(time.Millisecond))
	emaRecord(&f.waitBits, n, float64(wait)/float64(time.Millisecond))
	emaRecord(&f.drainBits, n, float64(drain)/float64(time.Millisecond))
}

// FrameMetrics is a snapshot of frame loop timings.
type FrameMetrics struct {
	Frames   uint64
	AvgFrame time.Duration
	AvgWait  time.Duration
	AvgDrain time.Duration
}

func (f *frameMetrics) snapshot() FrameMetrics {
	toDur := func(bits *atomic.Uint64) time.Duration {
		return time.Duration(math.Float64frombits(bits.Load()) * float64(time.Millisecond))
	}
	return FrameMetrics{
		Frames:   f.frames.Load(),
		AvgFrame: toDur(&f.avgBits),
		AvgWait:  toDur(&f.waitBits),
		AvgDrain: toDur(&f.drainBits),
	}
}
