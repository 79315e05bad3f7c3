package scheduler

import (
	"math"
	"sync/atomic"
)

// GameClock tracks simulation time. All fields advance together, once per
// frame, on the frame goroutine; reads are lock-free from any goroutine, so
// dedicated and background systems can time-stamp their work without touching
// the frame loop.
type GameClock struct {
	totalBits atomic.Uint64 // float64 seconds
	deltaBits atomic.Uint64 // float64 seconds
	frame     atomic.Uint64
}

// Advance moves the clock forward by dt seconds and bumps the frame counter.
func (c *GameClock) Advance(dt float64) {
	c.deltaBits.Store(math.Float64bits(dt))
	for {
		old := c.totalBits.Load()
		next := math.Float64bits(math.Float64frombits(old) + dt)
		if c.totalBits.CompareAndSwap(old, next) {
			break
		}
	}
	c.frame.Add(1)
}

// TotalTime returns the accumulated simulation time in seconds.
func (c *GameClock) TotalTime() float64 {
	return math.Float64frombits(c.totalBits.Load())
}

// DeltaTime returns the duration of the most recent frame in seconds.
func (c *GameClock) DeltaTime() float64 {
	return math.Float64frombits(c.deltaBits.Load())
}

// Frame returns the number of completed frames.
func (c *GameClock) Frame() uint64 {
	return c.frame.Load()
}
