package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/strategos/simcore/internal/core/config"
	"github.com/strategos/simcore/internal/core/observability/log"
)

// Phase is the frame state machine position. Transitions are strictly
// Idle -> Dispatch -> Wait -> MessageDrain -> Idle, driven by RunFrame.
type Phase uint32

const (
	PhaseIdle Phase = iota
	PhaseDispatch
	PhaseWait
	PhaseMessageDrain
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseDispatch:
		return "dispatch"
	case PhaseWait:
		return "wait"
	case PhaseMessageDrain:
		return "message_drain"
	default:
		return "unknown"
	}
}

// failureTracker counts recent failures inside a sliding window.
type failureTracker struct {
	mu    sync.Mutex
	times []time.Time
}

// record adds one failure and returns how many fall inside the window.
func (t *failureTracker) record(now time.Time, window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := now.Add(-window)
	kept := t.times[:0]
	for _, ts := range t.times {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	t.times = append(kept, now)
	return len(t.times)
}

func (t *failureTracker) reset() {
	t.mu.Lock()
	t.times = nil
	t.mu.Unlock()
}

// systemRecord is the manager's bookkeeping for one registered system.
type systemRecord struct {
	system   System
	hybrid   HybridSystem // set iff strategy is Hybrid
	strategy Strategy

	enabled  atomic.Bool
	perf     systemPerf
	failures failureTracker

	// Dedicated-thread lifecycle. Nil for every other strategy.
	stop chan struct{}
	done chan struct{}
}

// Manager drives the per-frame execution of every registered system according
// to its threading strategy, flushes deferred component writes, and drains the
// event bus at the frame sync point. One Manager owns one World.
//
// RunFrame must always be called from the same goroutine. Registration is
// allowed only before Start.
type Manager struct {
	world *World
	cfg   config.Config
	lg    log.Log

	mu      sync.RWMutex
	systems []*systemRecord
	byName  map[string]*systemRecord

	phase   atomic.Uint32
	started atomic.Bool

	bgSem  *semaphore.Weighted
	bgWait sync.WaitGroup

	frames frameMetrics
}

// NewManager builds a manager over the world using the given tuning.
func NewManager(world *World, cfg config.Config, lg log.Log) *Manager {
	return &Manager{
		world:  world,
		cfg:    cfg,
		lg:     lg,
		byName: make(map[string]*systemRecord),
		bgSem:  semaphore.NewWeighted(int64(cfg.BackgroundSlots)),
	}
}

// World returns the world this manager drives.
func (m *Manager) World() *World { return m.world }

// CurrentPhase returns the frame state machine position.
func (m *Manager) CurrentPhase() Phase { return Phase(m.phase.Load()) }

// AddSystem registers a system under its declared strategy. Names must be
// unique; hybrid systems must implement HybridSystem.
func (m *Manager) AddSystem(sys System) error {
	if m.started.Load() {
		return ErrAlreadyStarted
	}

	rec := &systemRecord{system: sys, strategy: sys.Strategy()}
	if rec.strategy == Hybrid {
		h, ok := sys.(HybridSystem)
		if !ok {
			return fmt.Errorf("add %s: %w", sys.Name(), ErrNotHybrid)
		}
		rec.hybrid = h
	}
	rec.enabled.Store(true)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.byName[sys.Name()]; dup {
		return fmt.Errorf("add %s: %w", sys.Name(), ErrSystemExists)
	}
	m.systems = append(m.systems, rec)
	m.byName[sys.Name()] = rec
	return nil
}

// Start initializes every system in registration order and launches the
// dedicated-thread loops. A failed Initialize aborts the start; systems that
// already initialized are shut down again in reverse order.
func (m *Manager) Start() error {
	if !m.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	m.mu.RLock()
	records := make([]*systemRecord, len(m.systems))
	copy(records, m.systems)
	m.mu.RUnlock()

	for i, rec := range records {
		if err := rec.system.Initialize(m.world); err != nil {
			for j := i - 1; j >= 0; j-- {
				records[j].system.Shutdown()
			}
			m.started.Store(false)
			return fmt.Errorf("initialize %s: %w", rec.system.Name(), err)
		}
		m.lg.Debug("system initialized",
			log.String("system", rec.system.Name()),
			log.String("strategy", rec.strategy.String()))
	}

	for _, rec := range records {
		if rec.strategy == DedicatedThread {
			rec.stop = make(chan struct{})
			rec.done = make(chan struct{})
			go m.dedicatedLoop(rec)
		}
	}
	return nil
}

// RunFrame advances the simulation by dt seconds: main-thread and hybrid-main
// portions run here in registration order while pool tasks fan out to the
// shared worker pool; the barrier joins them, deferred writes flush, and the
// event bus drains. Background systems are fire-and-forget and may be skipped.
func (m *Manager) RunFrame(dt float64) {
	frameStart := time.Now()
	m.phase.Store(uint32(PhaseDispatch))

	m.world.advanceTime(dt)

	m.mu.RLock()
	records := make([]*systemRecord, len(m.systems))
	copy(records, m.systems)
	m.mu.RUnlock()

	pool := &errgroup.Group{}
	pool.SetLimit(m.cfg.EffectiveWorkers())

	for _, rec := range records {
		rec := rec
		if !rec.enabled.Load() {
			continue
		}
		switch rec.strategy {
		case MainThread:
			m.runOne(rec, dt)
		case ThreadPool:
			pool.Go(func() error {
				m.runOne(rec, dt)
				return nil
			})
		case Hybrid:
			m.runHybrid(rec, dt, pool)
		case BackgroundThread:
			m.runBackground(rec, dt)
		}
	}

	m.phase.Store(uint32(PhaseWait))
	waitStart := time.Now()
	_ = pool.Wait() // tasks never return errors; failures are contained in runOne
	waitTime := time.Since(waitStart)

	applied, dropped := m.world.access.FlushDeferred()
	if dropped > 0 {
		m.lg.Debug("deferred writes dropped for stale handles",
			log.Int("applied", applied), log.Int("dropped", dropped))
	}

	m.phase.Store(uint32(PhaseMessageDrain))
	drainStart := time.Now()
	m.world.bus.Dispatch()
	drainTime := time.Since(drainStart)

	m.phase.Store(uint32(PhaseIdle))
	m.frames.record(time.Since(frameStart), waitTime, drainTime)
}

// Run drives frames at the configured interval until the context is canceled.
// dt is measured wall time between frames, not the nominal interval, so a
// slow frame does not compress simulated time.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.FrameInterval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			m.RunFrame(now.Sub(last).Seconds())
			last = now
		}
	}
}

// Shutdown stops the dedicated loops, waits for in-flight background work,
// and shuts systems down in reverse registration order.
func (m *Manager) Shutdown() {
	if !m.started.CompareAndSwap(true, false) {
		return
	}

	m.mu.RLock()
	records := make([]*systemRecord, len(m.systems))
	copy(records, m.systems)
	m.mu.RUnlock()

	for _, rec := range records {
		if rec.strategy == DedicatedThread && rec.stop != nil {
			close(rec.stop)
			<-rec.done
		}
	}
	m.bgWait.Wait()

	for i := len(records) - 1; i >= 0; i-- {
		records[i].system.Shutdown()
	}
	m.lg.Info("system manager stopped", log.Uint64("frames", m.frames.frames.Load()))
}

// EnableSystem re-enables a system after auto-disable, clearing its failure
// window so one old burst does not instantly trip it again.
func (m *Manager) EnableSystem(name string) error {
	rec, err := m.record(name)
	if err != nil {
		return err
	}
	rec.failures.reset()
	rec.enabled.Store(true)
	m.lg.Info("system enabled", log.String("system", name))
	return nil
}

// DisableSystem excludes a system from scheduling until re-enabled.
func (m *Manager) DisableSystem(name string) error {
	rec, err := m.record(name)
	if err != nil {
		return err
	}
	rec.enabled.Store(false)
	m.lg.Info("system disabled", log.String("system", name))
	return nil
}

// IsEnabled reports whether the named system is currently scheduled.
func (m *Manager) IsEnabled(name string) bool {
	rec, err := m.record(name)
	return err == nil && rec.enabled.Load()
}

// SystemMetrics returns a snapshot for one system.
func (m *Manager) SystemMetrics(name string) (SystemMetrics, error) {
	rec, err := m.record(name)
	if err != nil {
		return SystemMetrics{}, err
	}
	return m.snapshotRecord(rec), nil
}

// AllSystemMetrics returns snapshots in registration order.
func (m *Manager) AllSystemMetrics() []SystemMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]SystemMetrics, 0, len(m.systems))
	for _, rec := range m.systems {
		out = append(out, m.snapshotRecord(rec))
	}
	return out
}

// FrameStats returns the frame loop timing snapshot.
func (m *Manager) FrameStats() FrameMetrics { return m.frames.snapshot() }

func (m *Manager) snapshotRecord(rec *systemRecord) SystemMetrics {
	updates, failures, avg, peak, last := rec.perf.snapshot()
	return SystemMetrics{
		Name:       rec.system.Name(),
		Strategy:   rec.strategy,
		Enabled:    rec.enabled.Load(),
		Updates:    updates,
		Failures:   failures,
		AvgUpdate:  avg,
		PeakUpdate: peak,
		LastUpdate: last,
	}
}

func (m *Manager) record(name string) (*systemRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.byName[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrSystemNotFound)
	}
	return rec, nil
}

// runOne executes a single update with timing and failure containment. A
// panic or returned error is logged and counted; the system itself keeps
// running until the failure threshold trips.
func (m *Manager) runOne(rec *systemRecord, dt float64) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			m.handleFailure(rec, &panicError{value: r})
		}
	}()

	err := rec.system.Update(dt)
	rec.perf.record(time.Since(start))
	if err != nil {
		m.handleFailure(rec, err)
	}
}

// runHybrid runs the main-thread portion inline and hands the continuation,
// if any, to the pool. The pool barrier in RunFrame doubles as the join, so
// the offloaded result lands before the message drain.
func (m *Manager) runHybrid(rec *systemRecord, dt float64, pool *errgroup.Group) {
	start := time.Now()

	var cont *Continuation
	func() {
		defer func() {
			if r := recover(); r != nil {
				m.handleFailure(rec, &panicError{value: r})
			}
		}()
		var err error
		cont, err = rec.hybrid.UpdateMain(dt)
		if err != nil {
			m.handleFailure(rec, err)
			cont = nil
		}
	}()
	if cont == nil {
		rec.perf.record(time.Since(start))
		return
	}

	pool.Go(func() error {
		cont.complete()
		if err := cont.Join(); err != nil {
			m.handleFailure(rec, err)
		}
		rec.perf.record(time.Since(start))
		return nil
	})
}

// runBackground runs the update on its own goroutine when a background slot
// is free, and skips the frame entirely when all slots are busy. Skipped
// frames are normal operation for background systems, not failures.
func (m *Manager) runBackground(rec *systemRecord, dt float64) {
	if !m.bgSem.TryAcquire(1) {
		return
	}
	m.bgWait.Add(1)
	go func() {
		defer m.bgWait.Done()
		defer m.bgSem.Release(1)
		m.runOne(rec, dt)
	}()
}

// dedicatedLoop is the persistent goroutine of a dedicated-thread system. It
// ticks at the frame interval independently of the frame loop and talks to
// the rest of the simulation only through the access manager and the bus.
func (m *Manager) dedicatedLoop(rec *systemRecord) {
	defer close(rec.done)

	ticker := time.NewTicker(m.cfg.FrameInterval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-rec.stop:
			return
		case now := <-ticker.C:
			if rec.enabled.Load() {
				m.runOne(rec, now.Sub(last).Seconds())
			}
			last = now
		}
	}
}

// handleFailure logs one failed update and auto-disables the system once the
// threshold is crossed inside the sliding window.
func (m *Manager) handleFailure(rec *systemRecord, err error) {
	rec.perf.failures.Add(1)
	count := rec.failures.record(time.Now(), m.cfg.FailureWindow)

	m.lg.Error("system update failed",
		log.String("system", rec.system.Name()),
		log.Uint64("frame", m.world.clock.Frame()),
		log.Int("recent_failures", count),
		log.Error(err))

	if count >= m.cfg.FailureThreshold && rec.enabled.CompareAndSwap(true, false) {
		m.lg.Warn("system auto-disabled after repeated failures",
			log.String("system", rec.system.Name()),
			log.Int("failures", count),
			log.Duration("window", m.cfg.FailureWindow))
	}
}
