// Package monitor implements the process-global exclusive-memory monitor
// spec.md §6.1 names as part of pkg/jit.Config (GlobalMonitor): the
// load-linked/store-conditional pairing that backs ARM's
// LDREX/STREX-family opcodes when more than one JIT instance — or more
// than one guest processor inside one instance — shares the same memory.
package monitor

import "sync"

// Monitor is the interface pkg/jit.Config.GlobalMonitor implements. A
// backend's exclusive-memory callbacks (pkg/backend's
// SlotExclusiveReadMemory*/SlotExclusiveWriteMemory* family) call through
// to it via the host's Callbacks, never directly — this package only
// supplies the bookkeeping, not the actual memory read/write.
type Monitor interface {
	// ReadAndMark registers an exclusive reservation for [addr, addr+size)
	// on behalf of processorID, replacing any reservation that processor
	// already held. It never fails: a new LDREX always wins its own slot.
	ReadAndMark(processorID int, addr uint64, size int)

	// DoExclusiveOperation runs op only if processorID's reservation is
	// still exactly [addr, addr+size) — i.e. nothing has written to it
	// since ReadAndMark, including this processor's own CLREX — and
	// reports whether op ran and returned true. A successful call also clears every other
	// processor's reservation that overlapped addr, mirroring a real
	// store-conditional's effect on the rest of the system.
	DoExclusiveOperation(processorID int, addr uint64, size int, op func() bool) bool

	// ClearProcessor releases processorID's reservation without
	// performing a store, matching the guest CLREX instruction and
	// pkg/jit.JIT.ClearExclusiveState's call into it.
	ClearProcessor(processorID int)
}

type reservation struct {
	addr uint64
	size int
}

// GlobalMonitor is the default Monitor: one mutex guarding a small map from
// processor ID to its current reservation, sized for the handful of
// processors a single host process plausibly runs, not for the page-table-
// scale address space the reservations key into.
type GlobalMonitor struct {
	mu           sync.Mutex
	reservations map[int]reservation
}

// NewGlobalMonitor returns an empty monitor ready to share across every JIT
// instance that should observe each other's exclusive accesses.
func NewGlobalMonitor() *GlobalMonitor {
	return &GlobalMonitor{reservations: make(map[int]reservation)}
}

func (m *GlobalMonitor) ReadAndMark(processorID int, addr uint64, size int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reservations[processorID] = reservation{addr: addr, size: size}
}

func (m *GlobalMonitor) DoExclusiveOperation(processorID int, addr uint64, size int, op func() bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, held := m.reservations[processorID]
	delete(m.reservations, processorID)
	if !held || r.addr != addr || r.size != size {
		return false
	}

	if !op() {
		return false
	}

	for id, other := range m.reservations {
		if rangesOverlap(other.addr, other.size, addr, size) {
			delete(m.reservations, id)
		}
	}
	return true
}

func (m *GlobalMonitor) ClearProcessor(processorID int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.reservations, processorID)
}

func rangesOverlap(aAddr uint64, aSize int, bAddr uint64, bSize int) bool {
	aEnd := aAddr + uint64(aSize)
	bEnd := bAddr + uint64(bSize)
	return aAddr < bEnd && bAddr < aEnd
}
