package main

import "github.com/oisee/armjit/pkg/jit"

// flatMemory is a Callbacks implementation backing guest addresses 0..len(buf)
// directly with file bytes, the simplest possible embedding for a CLI driver:
// no MMU, no device range, reads past the image return zero and writes past
// it are dropped. Real embedders (an emulator's core loop) bring their own
// Callbacks; this one exists so `armjit run/translate/disasm/stats` has
// something to point a JIT at without inventing a whole memory subsystem.
type flatMemory struct {
	buf   []byte
	svc   []uint32
	ticks int64
}

func newFlatMemory(buf []byte) *flatMemory {
	return &flatMemory{buf: buf, ticks: int64(1) << 40}
}

func (m *flatMemory) read(addr uint64, n int) uint64 {
	var v uint64
	for i := 0; i < n; i++ {
		a := addr + uint64(i)
		var b byte
		if a < uint64(len(m.buf)) {
			b = m.buf[a]
		}
		v |= uint64(b) << (8 * i)
	}
	return v
}

func (m *flatMemory) write(addr uint64, n int, v uint64) {
	for i := 0; i < n; i++ {
		a := addr + uint64(i)
		if a < uint64(len(m.buf)) {
			m.buf[a] = byte(v >> (8 * i))
		}
	}
}

func (m *flatMemory) MemoryRead8(addr uint64) uint8   { return uint8(m.read(addr, 1)) }
func (m *flatMemory) MemoryRead16(addr uint64) uint16 { return uint16(m.read(addr, 2)) }
func (m *flatMemory) MemoryRead32(addr uint64) uint32 { return uint32(m.read(addr, 4)) }
func (m *flatMemory) MemoryRead64(addr uint64) uint64 { return m.read(addr, 8) }
func (m *flatMemory) MemoryRead128(addr uint64) [16]byte {
	var out [16]byte
	for i := range out {
		out[i] = m.MemoryRead8(addr + uint64(i))
	}
	return out
}

func (m *flatMemory) MemoryWrite8(addr uint64, v uint8)   { m.write(addr, 1, uint64(v)) }
func (m *flatMemory) MemoryWrite16(addr uint64, v uint16) { m.write(addr, 2, uint64(v)) }
func (m *flatMemory) MemoryWrite32(addr uint64, v uint32) { m.write(addr, 4, uint64(v)) }
func (m *flatMemory) MemoryWrite64(addr uint64, v uint64) { m.write(addr, 8, v) }
func (m *flatMemory) MemoryWrite128(addr uint64, v [16]byte) {
	for i, b := range v {
		m.MemoryWrite8(addr+uint64(i), b)
	}
}

func (m *flatMemory) MemoryWriteExclusive8(addr uint64, v, expected uint8) bool {
	m.MemoryWrite8(addr, v)
	return true
}
func (m *flatMemory) MemoryWriteExclusive16(addr uint64, v, expected uint16) bool {
	m.MemoryWrite16(addr, v)
	return true
}
func (m *flatMemory) MemoryWriteExclusive32(addr uint64, v, expected uint32) bool {
	m.MemoryWrite32(addr, v)
	return true
}
func (m *flatMemory) MemoryWriteExclusive64(addr uint64, v, expected uint64) bool {
	m.MemoryWrite64(addr, v)
	return true
}
func (m *flatMemory) MemoryWriteExclusive128(addr uint64, v, expected [16]byte) bool {
	m.MemoryWrite128(addr, v)
	return true
}

func (m *flatMemory) MemoryReadCode(addr uint64) uint32 { return m.MemoryRead32(addr) }
func (m *flatMemory) IsReadOnlyMemory(addr uint64) bool  { return false }

func (m *flatMemory) InterpreterFallback(pc uint64, numInstructions int) {}
func (m *flatMemory) CallSVC(swi uint32)                                 { m.svc = append(m.svc, swi) }
func (m *flatMemory) ExceptionRaised(pc, kind uint64)                    {}
func (m *flatMemory) AddTicks(n uint64)                                  { m.ticks -= int64(n) }
func (m *flatMemory) GetTicksRemaining() int64                           { return m.ticks }
func (m *flatMemory) GetCNTPCT() uint64                                  { return 0 }

func (m *flatMemory) InstructionSynchronizationBarrierRaised()       {}
func (m *flatMemory) InstructionCacheOperationRaised(op, value uint64) {}
func (m *flatMemory) DataCacheOperationRaised(op, value uint64)        {}

var _ jit.Callbacks = (*flatMemory)(nil)
