package ecs

import (
	"fmt"
	"reflect"
)

// SerializableComponent is implemented by component types that external
// save/load collaborators can persist. The wire format is owned entirely by
// the component; the runtime only moves the bytes.
type SerializableComponent interface {
	Serialize() ([]byte, error)
	Deserialize([]byte) error
}

// ForEachComponent iterates every live row of the named component table under
// its shared lock, invoking fn with the current live handle and the component
// instance. Iteration stops early when fn returns false. The callback must
// not acquire locks on the same type.
func (am *AccessManager) ForEachComponent(typeName string, fn func(EntityID, any) bool) error {
	entry, ok := am.registry.entryByName(typeName)
	if !ok {
		return fmt.Errorf("iterate %s: %w", typeName, ErrTypeNotRegistered)
	}

	entry.mu.RLock()
	defer entry.mu.RUnlock()
	for slot, row := range entry.rows {
		h, live := am.em.ResolveSlot(slot)
		if !live {
			continue
		}
		if !fn(h, row) {
			break
		}
	}
	return nil
}

// ExportComponents serializes every live row of the named table, keyed by
// slot id. Only tables whose component type implements SerializableComponent
// can be exported.
func (am *AccessManager) ExportComponents(typeName string) (map[uint64][]byte, error) {
	out := make(map[uint64][]byte)
	var exportErr error

	err := am.ForEachComponent(typeName, func(h EntityID, row any) bool {
		sc, ok := row.(SerializableComponent)
		if !ok {
			exportErr = fmt.Errorf("export %s: %w", typeName, ErrNotSerializable)
			return false
		}
		data, err := sc.Serialize()
		if err != nil {
			exportErr = fmt.Errorf("export %s slot %d: %w", typeName, h.Slot, err)
			return false
		}
		out[h.Slot] = data
		return true
	})
	if err != nil {
		return nil, err
	}
	if exportErr != nil {
		return nil, exportErr
	}
	return out, nil
}

// RestoreComponent attaches a freshly deserialized component of the named
// type to the entity. The instance is built by reflection so callers do not
// need the concrete type at the call site.
func (am *AccessManager) RestoreComponent(h EntityID, typeName string, data []byte) error {
	entry, ok := am.registry.entryByName(typeName)
	if !ok {
		return fmt.Errorf("restore %s: %w", typeName, ErrTypeNotRegistered)
	}

	row := reflect.New(entry.typ).Interface()
	sc, ok := row.(SerializableComponent)
	if !ok {
		return fmt.Errorf("restore %s: %w", typeName, ErrNotSerializable)
	}
	if err := sc.Deserialize(data); err != nil {
		return fmt.Errorf("restore %s: %w", typeName, err)
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if !am.em.IsValid(h) {
		return fmt.Errorf("restore %s: %w", typeName, ErrStaleHandle)
	}
	entry.rows[h.Slot] = row
	am.stats.recordWrite(entry.name)
	return nil
}
