package ecs

import (
	"fmt"
	"time"

	"github.com/strategos/simcore/internal/core/observability/log"
)

// AccessManager is the sole mediator for component access. Every read or
// write goes through the per-type reader/writer lock of the component's
// table: any number of readers or exactly one writer per type.
//
// Guards returned by the accessors hold the type lock until Release is
// called. They are meant to live for the duration of one call scope; extract
// what you need and release promptly so systems contending on the same type
// are not serialized longer than necessary.
type AccessManager struct {
	em       *EntityManager
	registry *Registry
	held     *heldLocks
	stats    *AccessStats
	deferred *deferredWrites
	lg       log.Log

	// Default bound for try-variant acquisition when the caller passes zero.
	defaultLockTimeout time.Duration
}

// NewAccessManager builds the access mediator over a shared registry and
// entity manager.
func NewAccessManager(em *EntityManager, registry *Registry, lg log.Log) *AccessManager {
	return &AccessManager{
		em:       em,
		registry: registry,
		held:     newHeldLocks(),
		stats:    NewAccessStats(),
		deferred: newDeferredWrites(),
		lg:       lg,
	}
}

// EntityManager returns the entity authority this manager validates against.
func (am *AccessManager) EntityManager() *EntityManager { return am.em }

// SetDefaultLockTimeout sets the bound TryGetComponentForWrite uses when the
// caller passes a zero timeout. Meant to be called once at construction.
func (am *AccessManager) SetDefaultLockTimeout(d time.Duration) {
	am.defaultLockTimeout = d
}

// Stats returns the live access statistics collector.
func (am *AccessManager) Stats() *AccessStats { return am.stats }

// ReadGuard is a scoped read result: a validity flag and, while valid and
// unreleased, shared access to the component.
type ReadGuard[T any] struct {
	value    *T
	entry    *typeEntry
	am       *AccessManager
	owner    uint64
	released bool
}

// Component returns the guarded component, or nil after Release.
func (g *ReadGuard[T]) Component() *T {
	if g.released {
		return nil
	}
	return g.value
}

// Release drops the shared type lock. Safe to call more than once, and from a
// different goroutine than the one that acquired the guard.
func (g *ReadGuard[T]) Release() {
	if g.released {
		return
	}
	g.released = true
	g.value = nil
	g.am.held.drop(g.entry, lockRead, g.owner)
	g.entry.mu.RUnlock()
}

// WriteGuard is a scoped write result holding the exclusive type lock.
type WriteGuard[T any] struct {
	value    *T
	entry    *typeEntry
	am       *AccessManager
	owner    uint64
	released bool
}

// Component returns the guarded component for mutation, or nil after Release.
func (g *WriteGuard[T]) Component() *T {
	if g.released {
		return nil
	}
	return g.value
}

// Release drops the exclusive type lock. Safe to call more than once, and from
// a different goroutine than the one that acquired the guard.
func (g *WriteGuard[T]) Release() {
	if g.released {
		return
	}
	g.released = true
	g.value = nil
	g.am.held.drop(g.entry, lockWrite, g.owner)
	g.entry.mu.Unlock()
}

// AddComponent attaches a copy of value to the entity, replacing any existing
// component of the same type. The table owns the stored instance.
func AddComponent[T any](am *AccessManager, h EntityID, value T) error {
	entry := entryOf[T](am.registry)

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if !am.em.IsValid(h) {
		return fmt.Errorf("add %s: %w", entry.name, ErrStaleHandle)
	}
	entry.rows[h.Slot] = &value
	am.stats.recordWrite(entry.name)
	return nil
}

// RemoveComponent detaches the component of type T from the entity. Returns
// false when the entity is stale or has no such component.
func RemoveComponent[T any](am *AccessManager, h EntityID) bool {
	entry := entryOf[T](am.registry)

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if !am.em.IsValid(h) {
		return false
	}
	if _, ok := entry.rows[h.Slot]; !ok {
		return false
	}
	delete(entry.rows, h.Slot)
	am.stats.recordWrite(entry.name)
	return true
}

// HasComponent reports whether the entity is live and carries a T.
func HasComponent[T any](am *AccessManager, h EntityID) bool {
	entry := entryOf[T](am.registry)

	entry.mu.RLock()
	defer entry.mu.RUnlock()
	if !am.em.IsValid(h) {
		return false
	}
	_, ok := entry.rows[h.Slot]
	return ok
}

// GetComponentForRead acquires the shared lock on T's table, re-validates the
// handle under it, and returns a read guard. On any failure no lock is held.
func GetComponentForRead[T any](am *AccessManager, h EntityID) (*ReadGuard[T], error) {
	entry := entryOf[T](am.registry)
	if err := am.held.check(entry, lockRead); err != nil {
		return nil, fmt.Errorf("read %s: %w", entry.name, err)
	}

	wait := time.Now()
	entry.mu.RLock()
	am.stats.recordWait(entry.name, time.Since(wait))

	value, err := rowOf[T](am, entry, h)
	if err != nil {
		entry.mu.RUnlock()
		return nil, fmt.Errorf("read %s: %w", entry.name, err)
	}

	owner := am.held.add(entry, lockRead)
	am.stats.recordRead(entry.name)
	return &ReadGuard[T]{value: value, entry: entry, am: am, owner: owner}, nil
}

// GetComponentForWrite acquires the exclusive lock on T's table, re-validates
// the handle under it, and returns a write guard. On any failure no lock is
// held. Blocks until the lock is available; THREAD_POOL callers that must not
// block should use TryGetComponentForWrite.
func GetComponentForWrite[T any](am *AccessManager, h EntityID) (*WriteGuard[T], error) {
	entry := entryOf[T](am.registry)
	if err := am.held.check(entry, lockWrite); err != nil {
		return nil, fmt.Errorf("write %s: %w", entry.name, err)
	}

	wait := time.Now()
	entry.mu.Lock()
	am.stats.recordWait(entry.name, time.Since(wait))

	value, err := rowOf[T](am, entry, h)
	if err != nil {
		entry.mu.Unlock()
		return nil, fmt.Errorf("write %s: %w", entry.name, err)
	}

	owner := am.held.add(entry, lockWrite)
	am.stats.recordWrite(entry.name)
	return &WriteGuard[T]{value: value, entry: entry, am: am, owner: owner}, nil
}

// TryGetComponentForWrite is GetComponentForWrite with a bounded wait. A zero
// timeout falls back to the manager's configured default. Returns
// ErrLockTimeout when the exclusive lock cannot be taken in time.
func TryGetComponentForWrite[T any](am *AccessManager, h EntityID, timeout time.Duration) (*WriteGuard[T], error) {
	entry := entryOf[T](am.registry)
	if err := am.held.check(entry, lockWrite); err != nil {
		return nil, fmt.Errorf("try-write %s: %w", entry.name, err)
	}
	if timeout == 0 {
		timeout = am.defaultLockTimeout
	}

	wait := time.Now()
	if !lockWithTimeout(&entry.mu, timeout) {
		am.stats.recordTimeout(entry.name)
		return nil, fmt.Errorf("try-write %s: %w", entry.name, ErrLockTimeout)
	}
	am.stats.recordWait(entry.name, time.Since(wait))

	value, err := rowOf[T](am, entry, h)
	if err != nil {
		entry.mu.Unlock()
		return nil, fmt.Errorf("try-write %s: %w", entry.name, err)
	}

	owner := am.held.add(entry, lockWrite)
	am.stats.recordWrite(entry.name)
	return &WriteGuard[T]{value: value, entry: entry, am: am, owner: owner}, nil
}

// GetComponentForReadBySlot resolves a bare slot id to the current live
// handle before reading, re-validating on every call.
func GetComponentForReadBySlot[T any](am *AccessManager, slot uint64) (*ReadGuard[T], error) {
	h, ok := am.em.ResolveSlot(slot)
	if !ok {
		return nil, fmt.Errorf("slot %d: %w", slot, ErrStaleHandle)
	}
	return GetComponentForRead[T](am, h)
}

// rowOf validates the handle and fetches the typed row. Callers hold the
// entry lock in either mode.
func rowOf[T any](am *AccessManager, entry *typeEntry, h EntityID) (*T, error) {
	if !am.em.IsValid(h) {
		return nil, ErrStaleHandle
	}
	row, ok := entry.rows[h.Slot]
	if !ok {
		return nil, ErrMissingComponent
	}
	return row.(*T), nil
}
