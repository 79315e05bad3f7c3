package bus

import (
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/strategos/simcore/internal/core/observability/log"
	"github.com/strategos/simcore/pkg/generic"
)

// subscription binds one handler to one payload type.
type subscription struct {
	id     string
	typ    reflect.Type
	invoke func(event any)
	active atomic.Bool
	bus    *Bus
}

// ID is the unique identifier of this subscription.
func (s *subscription) ID() string { return s.id }

// IsActive reports whether the handler is still registered.
func (s *subscription) IsActive() bool { return s.active.Load() }

// Cancel de-registers the handler. Safe to call concurrently with an
// in-flight dispatch; an event already being delivered may still arrive.
// Multiple calls are safe.
func (s *subscription) Cancel() {
	if !s.active.CompareAndSwap(true, false) {
		return
	}
	s.bus.removeSubscription(s)
}

// Subscription is the cancellation handle returned by Subscribe.
type Subscription interface {
	ID() string
	IsActive() bool
	Cancel()
}

// Bus implements the typed publish/subscribe queue described in
// interfaces.go.
type Bus struct {
	mu       sync.RWMutex
	handlers map[reflect.Type][]*subscription

	qmu    sync.Mutex
	queues map[reflect.Type][]any
	order  []reflect.Type // types in first-enqueue order, for deterministic drain

	slabPool *generic.Pool[[]any]

	published  atomic.Uint64
	dispatched atomic.Uint64
	panics     atomic.Uint64

	lg log.Log
}

// New creates an empty bus.
func New(lg log.Log) *Bus {
	return &Bus{
		handlers: make(map[reflect.Type][]*subscription),
		queues:   make(map[reflect.Type][]any),
		slabPool: generic.NewPool(func() []any { return make([]any, 0, 64) }),
		lg:       lg,
	}
}

// Subscribe registers a handler for events of type T and returns its
// cancellation handle.
func Subscribe[T any](b *Bus, handler Handler[T]) Subscription {
	typ := reflect.TypeOf((*T)(nil)).Elem()
	s := &subscription{
		id:     uuid.NewString(),
		typ:    typ,
		invoke: func(event any) { handler(event.(T)) },
		bus:    b,
	}
	s.active.Store(true)

	b.mu.Lock()
	b.handlers[typ] = append(b.handlers[typ], s)
	b.mu.Unlock()
	return s
}

// Publish appends the event to the type's queue. O(1) amortized; the caller
// is never blocked beyond the queue insertion lock.
func Publish[T any](b *Bus, event T) {
	typ := reflect.TypeOf((*T)(nil)).Elem()

	b.qmu.Lock()
	q, ok := b.queues[typ]
	if !ok {
		q = b.slabPool.Get()[:0]
		b.order = append(b.order, typ)
	}
	b.queues[typ] = append(q, event)
	b.qmu.Unlock()

	b.published.Add(1)
}

// PublishImmediate bypasses the queue and delivers to current subscribers in
// the caller's goroutine, with the same panic containment as Dispatch.
func PublishImmediate[T any](b *Bus, event T) {
	typ := reflect.TypeOf((*T)(nil)).Elem()
	b.published.Add(1)
	b.deliver(typ, event)
}

// Dispatch drains every queued event. Per type, events reach handlers
// sequentially in publish order. Returns the number of events delivered.
func (b *Bus) Dispatch() int {
	b.qmu.Lock()
	queues := b.queues
	order := b.order
	b.queues = make(map[reflect.Type][]any)
	b.order = nil
	b.qmu.Unlock()

	delivered := 0
	for _, typ := range order {
		events := queues[typ]
		for _, event := range events {
			b.deliver(typ, event)
			delivered++
		}
		b.slabPool.Put(events[:0])
	}
	return delivered
}

// QueuedCount returns the number of events waiting for the next dispatch.
func (b *Bus) QueuedCount() int {
	b.qmu.Lock()
	defer b.qmu.Unlock()
	n := 0
	for _, q := range b.queues {
		n += len(q)
	}
	return n
}

// GetMetrics returns a snapshot of the activity counters.
func (b *Bus) GetMetrics() Metrics {
	b.mu.RLock()
	subs := uint64(0)
	for _, list := range b.handlers {
		subs += uint64(len(list))
	}
	b.mu.RUnlock()

	return Metrics{
		Published:     b.published.Load(),
		Dispatched:    b.dispatched.Load(),
		HandlerPanics: b.panics.Load(),
		Subscriptions: subs,
	}
}

// Clear drops all queued events and cancels every subscription.
func (b *Bus) Clear() {
	b.qmu.Lock()
	b.queues = make(map[reflect.Type][]any)
	b.order = nil
	b.qmu.Unlock()

	b.mu.Lock()
	for _, list := range b.handlers {
		for _, s := range list {
			s.active.Store(false)
		}
	}
	b.handlers = make(map[reflect.Type][]*subscription)
	b.mu.Unlock()
}

// deliver invokes every active handler for typ sequentially, recovering
// panics at the boundary so one broken handler cannot take down the frame.
func (b *Bus) deliver(typ reflect.Type, event any) {
	b.mu.RLock()
	subs := make([]*subscription, len(b.handlers[typ]))
	copy(subs, b.handlers[typ])
	b.mu.RUnlock()

	for _, s := range subs {
		if !s.active.Load() {
			continue
		}
		b.invokeOne(s, event)
	}
	b.dispatched.Add(1)
}

func (b *Bus) invokeOne(s *subscription, event any) {
	defer func() {
		if r := recover(); r != nil {
			b.panics.Add(1)
			b.lg.Error("event handler panicked",
				log.String("event_type", s.typ.String()),
				log.String("subscription", s.id),
				log.Any("panic", r))
		}
	}()
	s.invoke(event)
}

func (b *Bus) removeSubscription(target *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.handlers[target.typ]
	for i, s := range list {
		if s == target {
			b.handlers[target.typ] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(b.handlers[target.typ]) == 0 {
		delete(b.handlers, target.typ)
	}
}
