package bus

// Bus is a thread-safe, in-process, typed publish/subscribe queue.
//
// Key characteristics:
//   - Type-based fan-out: handlers subscribe to a concrete Go payload type and
//     receive only events of that type.
//   - Queued delivery: Publish appends to a per-type FIFO queue under a brief
//     lock and returns; handlers run later, inside Dispatch.
//   - Ordered dispatch: within one Dispatch pass, events of a type reach each
//     handler in publish order, and handlers for one event never run
//     concurrently with each other.
//   - Failure containment: a panicking handler is recovered at the dispatch
//     boundary, logged, and does not abort the pass.
//
// Notes:
//   - Publish and Subscribe are safe from any goroutine, including worker
//     threads, concurrently with an in-flight Dispatch.
//   - Dispatch is driven by the frame scheduler, once per frame after every
//     system has had the chance to publish. Calling it from more than one
//     goroutine at a time is not supported.
//   - Events are transient: queued on Publish, discarded after dispatch,
//     never persisted.

// Handler is a user callback invoked once per delivered event of type T.
type Handler[T any] func(event T)

// Metrics is a snapshot of bus activity counters.
type Metrics struct {
	Published     uint64
	Dispatched    uint64
	HandlerPanics uint64
	Subscriptions uint64
}
