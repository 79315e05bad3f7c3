package scheduler

// Strategy selects where and how a system's Update executes each frame.
type Strategy uint8

const (
	// MainThread runs synchronously on the frame goroutine, in registration
	// order. Use where a fully consistent world view is required.
	MainThread Strategy = iota

	// ThreadPool submits the update as an independent task to the shared
	// worker pool. No relative order between two pool systems in the same
	// frame; only prior-frame component state is guaranteed visible.
	ThreadPool

	// DedicatedThread owns a persistent goroutine for the system's whole
	// lifetime, running at its own cadence. It interacts with the rest of
	// the simulation only through the access manager and the bus.
	DedicatedThread

	// BackgroundThread is lowest priority: updates may run slower than the
	// frame cadence and are skipped outright when all background slots are
	// busy. Background systems must tolerate arbitrary scheduling delay.
	BackgroundThread

	// Hybrid splits the update into a main-thread portion and an offloaded
	// continuation joined before the frame's message drain.
	Hybrid
)

func (s Strategy) String() string {
	switch s {
	case MainThread:
		return "main_thread"
	case ThreadPool:
		return "thread_pool"
	case DedicatedThread:
		return "dedicated_thread"
	case BackgroundThread:
		return "background_thread"
	case Hybrid:
		return "hybrid"
	default:
		return "unknown"
	}
}

// System is the interface every registered subsystem implements. Lifetime
// spans the whole session: Initialize once at startup, Update per frame (or
// per cadence for dedicated/background systems), Shutdown once at the end.
//
// Update must not block on I/O; blocking work belongs in a background or
// dedicated system that reports results back through components or events.
type System interface {
	Name() string
	Strategy() Strategy
	Initialize(w *World) error
	Update(dt float64) error
	Shutdown()
}

// HybridSystem is implemented by systems registered with the Hybrid strategy.
// UpdateMain runs on the frame goroutine; the returned continuation, if any,
// is offloaded to the worker pool and joined before the message drain, so its
// result is visible to the rest of the frame only after the join.
type HybridSystem interface {
	System
	UpdateMain(dt float64) (*Continuation, error)
}

// Serializer is optionally implemented by systems whose state the external
// save/load subsystem persists alongside component data.
type Serializer interface {
	Serialize() ([]byte, error)
	Deserialize([]byte) error
}
