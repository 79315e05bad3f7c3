package scheduler

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strategos/simcore/internal/core/config"
	"github.com/strategos/simcore/internal/core/ecs"
	"github.com/strategos/simcore/internal/core/events/bus"
	"github.com/strategos/simcore/internal/core/observability/log"
)

// stubSystem is a configurable test double for every strategy.
type stubSystem struct {
	name     string
	strategy Strategy

	initErr  error
	updateFn func(dt float64) error

	updates   atomic.Uint64
	shutdowns atomic.Int32
	world     *World
}

func (s *stubSystem) Name() string       { return s.name }
func (s *stubSystem) Strategy() Strategy { return s.strategy }

func (s *stubSystem) Initialize(w *World) error {
	s.world = w
	return s.initErr
}

func (s *stubSystem) Update(dt float64) error {
	s.updates.Add(1)
	if s.updateFn != nil {
		return s.updateFn(dt)
	}
	return nil
}

func (s *stubSystem) Shutdown() { s.shutdowns.Add(1) }

// hybridStub pairs a main-thread step with an offloaded continuation.
type hybridStub struct {
	stubSystem
	mainFn func(dt float64) (*Continuation, error)
}

func (s *hybridStub) UpdateMain(dt float64) (*Continuation, error) {
	s.updates.Add(1)
	return s.mainFn(dt)
}

func newTestManager(t *testing.T, mutate func(*config.Config)) *Manager {
	t.Helper()
	cfg := config.Default()
	cfg.Workers = 4
	if mutate != nil {
		mutate(&cfg)
	}
	world := NewWorld(cfg, log.Nop())
	return NewManager(world, cfg, log.Nop())
}

func TestMainThreadOrderAndCounts(t *testing.T) {
	m := newTestManager(t, nil)

	var order []string
	first := &stubSystem{name: "first", strategy: MainThread,
		updateFn: func(float64) error { order = append(order, "first"); return nil }}
	second := &stubSystem{name: "second", strategy: MainThread,
		updateFn: func(float64) error { order = append(order, "second"); return nil }}

	require.NoError(t, m.AddSystem(first))
	require.NoError(t, m.AddSystem(second))
	require.NoError(t, m.Start())
	defer m.Shutdown()

	const frames = 100
	for i := 0; i < frames; i++ {
		m.RunFrame(0.016)
	}

	assert.Equal(t, uint64(frames), first.updates.Load())
	assert.Equal(t, uint64(frames), second.updates.Load())
	require.Len(t, order, 2*frames)
	for i := 0; i < len(order); i += 2 {
		require.Equal(t, "first", order[i])
		require.Equal(t, "second", order[i+1])
	}
	assert.Equal(t, PhaseIdle, m.CurrentPhase())
}

func TestThreadPoolJoinedByBarrier(t *testing.T) {
	m := newTestManager(t, nil)

	var finished atomic.Uint64
	slow := &stubSystem{name: "slow", strategy: ThreadPool,
		updateFn: func(float64) error {
			time.Sleep(5 * time.Millisecond)
			finished.Add(1)
			return nil
		}}
	require.NoError(t, m.AddSystem(slow))
	require.NoError(t, m.Start())
	defer m.Shutdown()

	for i := 0; i < 3; i++ {
		m.RunFrame(0.016)
		require.Equal(t, uint64(i+1), finished.Load(),
			"pool task must complete before RunFrame returns")
	}
}

func TestFailureAutoDisableAndReenable(t *testing.T) {
	m := newTestManager(t, func(c *config.Config) {
		c.FailureThreshold = 3
	})

	failing := &stubSystem{name: "flaky", strategy: MainThread,
		updateFn: func(float64) error { return errors.New("boom") }}
	require.NoError(t, m.AddSystem(failing))
	require.NoError(t, m.Start())
	defer m.Shutdown()

	for i := 0; i < 5; i++ {
		m.RunFrame(0.016)
	}

	assert.False(t, m.IsEnabled("flaky"))
	assert.Equal(t, uint64(3), failing.updates.Load(),
		"no updates after auto-disable")

	sm, err := m.SystemMetrics("flaky")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), sm.Failures)
	assert.False(t, sm.Enabled)

	require.NoError(t, m.EnableSystem("flaky"))
	m.RunFrame(0.016)
	assert.Equal(t, uint64(4), failing.updates.Load())
}

func TestPanicIsContained(t *testing.T) {
	m := newTestManager(t, nil)

	panicking := &stubSystem{name: "panics", strategy: ThreadPool,
		updateFn: func(float64) error { panic("kaboom") }}
	healthy := &stubSystem{name: "healthy", strategy: MainThread}
	require.NoError(t, m.AddSystem(panicking))
	require.NoError(t, m.AddSystem(healthy))
	require.NoError(t, m.Start())
	defer m.Shutdown()

	require.NotPanics(t, func() { m.RunFrame(0.016) })
	assert.Equal(t, uint64(1), healthy.updates.Load())

	sm, err := m.SystemMetrics("panics")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), sm.Failures)
}

func TestHybridContinuationJoinedBeforeDrain(t *testing.T) {
	m := newTestManager(t, nil)

	var offloaded atomic.Uint64
	h := &hybridStub{stubSystem: stubSystem{name: "hybrid", strategy: Hybrid}}
	h.mainFn = func(float64) (*Continuation, error) {
		return NewContinuation(func() error {
			time.Sleep(2 * time.Millisecond)
			offloaded.Add(1)
			bus.Publish(m.World().Bus(), "offload-done")
			return nil
		}), nil
	}
	require.NoError(t, m.AddSystem(h))

	drained := 0
	bus.Subscribe(m.World().Bus(), func(string) { drained++ })

	require.NoError(t, m.Start())
	defer m.Shutdown()

	m.RunFrame(0.016)

	assert.Equal(t, uint64(1), offloaded.Load(),
		"continuation must finish before the frame ends")
	assert.Equal(t, 1, drained,
		"event published by the continuation drains in the same frame")
}

func TestHybridContinuationErrorCounts(t *testing.T) {
	m := newTestManager(t, nil)

	h := &hybridStub{stubSystem: stubSystem{name: "hybrid", strategy: Hybrid}}
	h.mainFn = func(float64) (*Continuation, error) {
		return NewContinuation(func() error { return errors.New("offload failed") }), nil
	}
	require.NoError(t, m.AddSystem(h))
	require.NoError(t, m.Start())
	defer m.Shutdown()

	m.RunFrame(0.016)

	sm, err := m.SystemMetrics("hybrid")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), sm.Failures)
}

func TestBackgroundSkipsWhenSaturated(t *testing.T) {
	m := newTestManager(t, func(c *config.Config) {
		c.BackgroundSlots = 1
	})

	var started atomic.Uint64
	release := make(chan struct{})
	bg := &stubSystem{name: "bg", strategy: BackgroundThread,
		updateFn: func(float64) error {
			started.Add(1)
			<-release
			return nil
		}}
	require.NoError(t, m.AddSystem(bg))
	require.NoError(t, m.Start())

	m.RunFrame(0.016)
	require.Eventually(t, func() bool { return started.Load() == 1 },
		time.Second, time.Millisecond)

	// Slot is occupied: these frames must skip, not queue.
	m.RunFrame(0.016)
	m.RunFrame(0.016)
	assert.Equal(t, uint64(1), started.Load())

	close(release)
	m.Shutdown()
	assert.Equal(t, uint64(1), started.Load())
}

func TestDedicatedThreadLifecycle(t *testing.T) {
	m := newTestManager(t, func(c *config.Config) {
		c.FrameInterval = 2 * time.Millisecond
	})

	ded := &stubSystem{name: "dedicated", strategy: DedicatedThread}
	require.NoError(t, m.AddSystem(ded))
	require.NoError(t, m.Start())

	require.Eventually(t, func() bool { return ded.updates.Load() >= 3 },
		time.Second, time.Millisecond, "dedicated loop should tick on its own")

	m.Shutdown()
	assert.Equal(t, int32(1), ded.shutdowns.Load())

	after := ded.updates.Load()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, after, ded.updates.Load(), "no ticks after shutdown")
}

func TestRegistrationValidation(t *testing.T) {
	m := newTestManager(t, nil)

	require.NoError(t, m.AddSystem(&stubSystem{name: "a", strategy: MainThread}))
	err := m.AddSystem(&stubSystem{name: "a", strategy: MainThread})
	assert.ErrorIs(t, err, ErrSystemExists)

	err = m.AddSystem(&stubSystem{name: "fake-hybrid", strategy: Hybrid})
	assert.ErrorIs(t, err, ErrNotHybrid)

	require.NoError(t, m.Start())
	defer m.Shutdown()
	err = m.AddSystem(&stubSystem{name: "late", strategy: MainThread})
	assert.ErrorIs(t, err, ErrAlreadyStarted)

	assert.False(t, m.IsEnabled("ghost"))
	assert.ErrorIs(t, m.EnableSystem("ghost"), ErrSystemNotFound)
}

func TestInitializeFailureRollsBack(t *testing.T) {
	m := newTestManager(t, nil)

	ok := &stubSystem{name: "ok", strategy: MainThread}
	bad := &stubSystem{name: "bad", strategy: MainThread, initErr: errors.New("no disk")}
	require.NoError(t, m.AddSystem(ok))
	require.NoError(t, m.AddSystem(bad))

	err := m.Start()
	require.Error(t, err)
	assert.Equal(t, int32(1), ok.shutdowns.Load(),
		"already-initialized systems are shut down on a failed start")

	// The manager is reusable after the failed start.
	bad.initErr = nil
	require.NoError(t, m.Start())
	m.Shutdown()
}

func TestDeferredWritesFlushAtSyncPoint(t *testing.T) {
	m := newTestManager(t, nil)
	world := m.World()

	type supply struct{ Stock int }
	h := world.Entities().CreateEntity()
	require.NoError(t, ecs.AddComponent(world.Access(), h, supply{}))

	writer := &stubSystem{name: "writer", strategy: ThreadPool,
		updateFn: func(float64) error {
			return ecs.DeferWrite(world.Access(), h, func(s *supply) { s.Stock++ })
		}}

	var observed int
	reader := &stubSystem{name: "reader", strategy: MainThread,
		updateFn: func(float64) error {
			guard, err := ecs.GetComponentForRead[supply](world.Access(), h)
			if err != nil {
				return err
			}
			observed = guard.Component().Stock
			guard.Release()
			return nil
		}}

	require.NoError(t, m.AddSystem(reader))
	require.NoError(t, m.AddSystem(writer))
	require.NoError(t, m.Start())
	defer m.Shutdown()

	m.RunFrame(0.016)
	assert.Equal(t, 0, observed, "first frame reads pre-flush state")

	m.RunFrame(0.016)
	assert.Equal(t, 1, observed, "second frame sees the first frame's deferred write")
}

func TestGameTimeAdvances(t *testing.T) {
	m := newTestManager(t, nil)
	world := m.World()

	require.NoError(t, m.Start())
	defer m.Shutdown()

	for i := 0; i < 3; i++ {
		m.RunFrame(0.1)
	}

	assert.Equal(t, uint64(3), world.Clock().Frame())
	assert.InDelta(t, 0.3, world.Clock().TotalTime(), 1e-9)
	assert.InDelta(t, 0.1, world.Clock().DeltaTime(), 1e-9)

	guard, err := ecs.GetComponentForRead[GameTime](world.Access(), world.Global())
	require.NoError(t, err)
	defer guard.Release()
	assert.Equal(t, uint64(3), guard.Component().Frame)
	assert.InDelta(t, 0.3, guard.Component().Seconds, 1e-9)
}

func TestFrameMetricsAccumulate(t *testing.T) {
	m := newTestManager(t, nil)
	require.NoError(t, m.AddSystem(&stubSystem{name: "s", strategy: MainThread}))
	require.NoError(t, m.Start())
	defer m.Shutdown()

	for i := 0; i < 10; i++ {
		m.RunFrame(0.016)
	}

	fm := m.FrameStats()
	assert.Equal(t, uint64(10), fm.Frames)

	all := m.AllSystemMetrics()
	require.Len(t, all, 1)
	assert.Equal(t, "s", all[0].Name)
	assert.Equal(t, uint64(10), all[0].Updates)
}
