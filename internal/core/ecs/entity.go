package ecs

import (
	"fmt"
	"math"
	"sync"

	"github.com/strategos/simcore/internal/core/observability/log"
)

// EntityID is a versioned handle to an entity slot. A handle is valid only
// while the slot is live and its stored version matches, so every copy of a
// handle goes stale the moment the entity is destroyed. The zero value is
// never a valid handle.
type EntityID struct {
	Slot    uint64
	Version uint32
}

// IsZero reports whether the handle is the default-constructed invalid handle.
func (id EntityID) IsZero() bool {
	return id.Slot == 0
}

func (id EntityID) String() string {
	return fmt.Sprintf("Entity(%dv%d)", id.Slot, id.Version)
}

// slotInfo tracks the lifecycle of one entity slot.
type slotInfo struct {
	version uint32
	alive   bool
	retired bool
	name    string
}

// EntityManager owns entity existence and lifetime. Component payloads live in
// the shared type registry; the manager is the single authority on which
// (slot, version) pairs are live.
//
// All methods are safe for concurrent use and non-panicking: invalid input
// yields a false/zero result, never a crash.
type EntityManager struct {
	mu       sync.RWMutex
	slots    []slotInfo // index 0 is a reserved sentinel
	freeList []uint64
	alive    uint64

	registry *Registry
	lg       log.Log
	strict   bool
}

// NewEntityManager builds an entity manager over the given component registry.
// With strict enabled, internal invariant violations are fatal; otherwise they
// are logged and degrade to no-ops.
func NewEntityManager(registry *Registry, lg log.Log, strict bool) *EntityManager {
	return &EntityManager{
		slots:    make([]slotInfo, 1),
		registry: registry,
		lg:       lg,
		strict:   strict,
	}
}

// CreateEntity allocates a free slot, reusing destroyed slots first, and
// returns a live handle. O(1) amortized.
func (m *EntityManager) CreateEntity() EntityID {
	return m.CreateNamedEntity("")
}

// CreateNamedEntity is CreateEntity with a debug name attached.
func (m *EntityManager) CreateNamedEntity(name string) EntityID {
	m.mu.Lock()
	defer m.mu.Unlock()

	var slot uint64
	if n := len(m.freeList); n > 0 {
		slot = m.freeList[n-1]
		m.freeList = m.freeList[:n-1]
	} else {
		slot = uint64(len(m.slots))
		m.slots = append(m.slots, slotInfo{})
	}

	info := &m.slots[slot]
	if info.alive || info.retired {
		// Free-list corruption. This is the reserved-fatal path: nothing
		// downstream can cope with a double-allocated slot.
		m.invariantViolation("free-list returned a live or retired slot", slot)
		return EntityID{}
	}

	info.version++
	info.alive = true
	info.name = name
	m.alive++

	return EntityID{Slot: slot, Version: info.version}
}

// DestroyEntity invalidates the handle and removes every component attached to
// it across all type tables. Returns false, with no effect, for a stale or
// unknown handle.
func (m *EntityManager) DestroyEntity(h EntityID) bool {
	m.mu.Lock()
	info, ok := m.lookupLocked(h)
	if !ok {
		m.mu.Unlock()
		return false
	}

	info.alive = false
	info.name = ""
	m.alive--
	m.mu.Unlock()

	// Component rows are dropped outside the entity lock; each table takes
	// its own write lock so in-flight typed access stays consistent. The slot
	// stays off the free list until the sweep finishes: if it were reusable
	// now, a fresh occupant could attach a row the sweep would then delete.
	m.registry.removeSlotEverywhere(h.Slot)

	m.mu.Lock()
	info = &m.slots[h.Slot]
	if info.version == math.MaxUint32 {
		// The slot can never issue a fresh (slot, version) pair again, so it
		// is retired instead of returning to the free list.
		info.retired = true
		m.mu.Unlock()
		m.invariantViolation("entity version counter overflow", h.Slot)
		return true
	}
	m.freeList = append(m.freeList, h.Slot)
	m.mu.Unlock()
	return true
}

// DestroyAllEntities destroys every live entity.
func (m *EntityManager) DestroyAllEntities() {
	for _, h := range m.AllEntities() {
		m.DestroyEntity(h)
	}
}

// IsValid reports whether the handle refers to a live entity. O(1).
func (m *EntityManager) IsValid(h EntityID) bool {
	m.mu.RLock()
	_, ok := m.lookupLocked(h)
	m.mu.RUnlock()
	return ok
}

// ResolveSlot maps a bare numeric slot id to the current live handle for that
// slot. Callers that persisted only the slot number use this to re-validate on
// every access instead of trusting a possibly stale raw id.
func (m *EntityManager) ResolveSlot(slot uint64) (EntityID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if slot == 0 || slot >= uint64(len(m.slots)) {
		return EntityID{}, false
	}
	info := &m.slots[slot]
	if !info.alive {
		return EntityID{}, false
	}
	return EntityID{Slot: slot, Version: info.version}, true
}

// EntityName returns the debug name attached at creation, if any.
func (m *EntityManager) EntityName(h EntityID) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.lookupLocked(h)
	if !ok {
		return "", false
	}
	return info.name, true
}

// ActiveCount returns the number of live entities.
func (m *EntityManager) ActiveCount() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.alive
}

// AllEntities returns a snapshot of every live handle.
func (m *EntityManager) AllEntities() []EntityID {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]EntityID, 0, m.alive)
	for slot := 1; slot < len(m.slots); slot++ {
		info := &m.slots[slot]
		if info.alive {
			out = append(out, EntityID{Slot: uint64(slot), Version: info.version})
		}
	}
	return out
}

// lookupLocked returns the slot info iff the handle is live at the stored
// version. Callers hold m.mu.
func (m *EntityManager) lookupLocked(h EntityID) (*slotInfo, bool) {
	if h.Slot == 0 || h.Slot >= uint64(len(m.slots)) {
		return nil, false
	}
	info := &m.slots[h.Slot]
	if !info.alive || info.version != h.Version {
		return nil, false
	}
	return info, true
}

func (m *EntityManager) invariantViolation(msg string, slot uint64) {
	if m.strict {
		m.lg.Fatal("entity manager invariant violation",
			log.String("detail", msg), log.Uint64("slot", slot))
		return
	}
	m.lg.Error("entity manager invariant violation",
		log.String("detail", msg), log.Uint64("slot", slot))
}
