package ecs

import (
	"reflect"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// typeEntry is the per-type component table plus the lock that guards it.
// The lock granularity of the whole runtime is exactly one entry: contention
// on one component type never blocks another type.
type typeEntry struct {
	name string
	id   uint64
	typ  reflect.Type

	mu   sync.RWMutex
	rows map[uint64]any // slot -> *T, owned by the table
}

// Registry maps component types to their tables. Types are registered lazily
// on first use; registration is idempotent.
type Registry struct {
	mu      sync.RWMutex
	entries map[reflect.Type]*typeEntry
	byName  map[string]*typeEntry
}

// NewRegistry creates an empty component registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[reflect.Type]*typeEntry),
		byName:  make(map[string]*typeEntry),
	}
}

// entryOf returns the table for T, creating it on first use.
func entryOf[T any](r *Registry) *typeEntry {
	typ := reflect.TypeOf((*T)(nil)).Elem()

	r.mu.RLock()
	entry, ok := r.entries[typ]
	r.mu.RUnlock()
	if ok {
		return entry
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok = r.entries[typ]; ok {
		return entry
	}

	name := typ.String()
	entry = &typeEntry{
		name: name,
		id:   xxhash.Sum64String(name),
		typ:  typ,
		rows: make(map[uint64]any),
	}
	r.entries[typ] = entry
	r.byName[name] = entry
	return entry
}

// entryByName resolves a table by its registered type name.
func (r *Registry) entryByName(name string) (*typeEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.byName[name]
	return entry, ok
}

// TypeNames returns the names of every registered component type.
func (r *Registry) TypeNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	return out
}

// TypeID returns the stable 64-bit id for a registered type name. The id is
// an xxhash of the type name, so it survives process restarts and is usable
// as a persistent table key by save/load collaborators.
func (r *Registry) TypeID(name string) (uint64, bool) {
	entry, ok := r.entryByName(name)
	if !ok {
		return 0, false
	}
	return entry.id, true
}

// ComponentCount returns the number of rows in the named table.
func (r *Registry) ComponentCount(name string) int {
	entry, ok := r.entryByName(name)
	if !ok {
		return 0
	}
	entry.mu.RLock()
	defer entry.mu.RUnlock()
	return len(entry.rows)
}

// snapshot returns all entries without holding the registry lock afterwards.
func (r *Registry) snapshot() []*typeEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*typeEntry, 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, entry)
	}
	return out
}

// removeSlotEverywhere drops the slot's row from every table. Each table is
// write-locked individually so typed access on other types is not serialized.
func (r *Registry) removeSlotEverywhere(slot uint64) {
	for _, entry := range r.snapshot() {
		entry.mu.Lock()
		delete(entry.rows, slot)
		entry.mu.Unlock()
	}
}
