package ecs

import "fmt"

// Statistics is a point-in-time census of the entity world.
type Statistics struct {
	ActiveEntities  uint64
	TotalComponents int
	ComponentCounts map[string]int
}

// Statistics walks the registry and counts live entities and component rows.
// Computed on demand; callers that poll it every frame should cache.
func (m *EntityManager) Statistics() Statistics {
	stats := Statistics{
		ActiveEntities:  m.ActiveCount(),
		ComponentCounts: make(map[string]int),
	}
	for _, entry := range m.registry.snapshot() {
		entry.mu.RLock()
		n := len(entry.rows)
		entry.mu.RUnlock()
		stats.ComponentCounts[entry.name] = n
		stats.TotalComponents += n
	}
	return stats
}

// ValidationReport collects integrity findings. Errors are conditions the
// runtime treats as impossible; warnings are benign leftovers.
type ValidationReport struct {
	Errors   []string
	Warnings []string
}

// OK reports whether no errors were found.
func (r ValidationReport) OK() bool { return len(r.Errors) == 0 }

// ValidateIntegrity cross-checks the slot table against every component
// table: rows for dead or out-of-range slots, and free-list entries that are
// still marked alive.
func (m *EntityManager) ValidateIntegrity() ValidationReport {
	var report ValidationReport

	m.mu.RLock()
	slotCount := uint64(len(m.slots))
	for _, slot := range m.freeList {
		if slot < slotCount && m.slots[slot].alive {
			report.Errors = append(report.Errors,
				fmt.Sprintf("free-list contains live slot %d", slot))
		}
	}
	m.mu.RUnlock()

	for _, entry := range m.registry.snapshot() {
		entry.mu.RLock()
		for slot := range entry.rows {
			if slot == 0 || slot >= slotCount {
				report.Errors = append(report.Errors,
					fmt.Sprintf("%s: row for out-of-range slot %d", entry.name, slot))
				continue
			}
			if _, live := m.ResolveSlot(slot); !live {
				report.Warnings = append(report.Warnings,
					fmt.Sprintf("%s: orphaned row for dead slot %d", entry.name, slot))
			}
		}
		entry.mu.RUnlock()
	}
	return report
}
