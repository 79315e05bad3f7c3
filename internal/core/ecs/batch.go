package ecs

import (
	"fmt"
	"sync"
)

// deferredOp is one queued mutation against a single entity row.
type deferredOp struct {
	h     EntityID
	apply func(row any)
}

// deferredWrites accumulates mutations to be applied at a synchronization
// point instead of immediately. One exclusive lock per touched type covers
// the whole batch for that type, which beats per-entity lock churn when many
// systems write the same type across many entities in one pass.
type deferredWrites struct {
	mu      sync.Mutex
	byEntry map[*typeEntry][]deferredOp
}

func newDeferredWrites() *deferredWrites {
	return &deferredWrites{byEntry: make(map[*typeEntry][]deferredOp)}
}

// DeferWrite queues a mutation of the entity's T component. The mutation runs
// under the type's exclusive lock when FlushDeferred is called; the handle is
// re-validated at that point, so an entity destroyed in between is skipped
// silently. The queued closure must not acquire component locks itself.
func DeferWrite[T any](am *AccessManager, h EntityID, mutate func(*T)) error {
	if !am.em.IsValid(h) {
		return fmt.Errorf("defer write: %w", ErrStaleHandle)
	}
	entry := entryOf[T](am.registry)

	am.deferred.mu.Lock()
	am.deferred.byEntry[entry] = append(am.deferred.byEntry[entry], deferredOp{
		h:     h,
		apply: func(row any) { mutate(row.(*T)) },
	})
	am.deferred.mu.Unlock()
	return nil
}

// FlushDeferred applies every queued mutation and empties the queue. Returns
// how many mutations were applied and how many were dropped because their
// entity or component no longer existed. The scheduler calls this once per
// frame between the system join and the message drain.
func (am *AccessManager) FlushDeferred() (applied, dropped int) {
	am.deferred.mu.Lock()
	pending := am.deferred.byEntry
	am.deferred.byEntry = make(map[*typeEntry][]deferredOp)
	am.deferred.mu.Unlock()

	for entry, ops := range pending {
		entry.mu.Lock()
		for _, op := range ops {
			if !am.em.IsValid(op.h) {
				dropped++
				continue
			}
			row, ok := entry.rows[op.h.Slot]
			if !ok {
				dropped++
				continue
			}
			op.apply(row)
			applied++
		}
		entry.mu.Unlock()
		am.stats.recordWrite(entry.name)
	}
	return applied, dropped
}

// PendingDeferred returns how many mutations are currently queued.
func (am *AccessManager) PendingDeferred() int {
	am.deferred.mu.Lock()
	defer am.deferred.mu.Unlock()
	n := 0
	for _, ops := range am.deferred.byEntry {
		n += len(ops)
	}
	return n
}
