// Package jit assembles pkg/frontend, pkg/optimizer, pkg/regalloc,
// pkg/backend/{amd64,arm64}, pkg/codecache, pkg/dispatcher, pkg/monitor and
// pkg/faultmem into the single embeddable type spec.md §6 names JIT: one
// New per guest CPU core, driven entirely through Config and the Run/Step/
// Halt/Reset/register-access surface below.
package jit

import (
	"github.com/oisee/armjit/pkg/monitor"
	"github.com/oisee/armjit/pkg/state"
)

// Callbacks is the host's complete memory, trap and timing surface, named
// to match spec.md §6.1's own enumeration. Every method is synchronous and
// contractually non-throwing (spec.md §7): a callback that panics leaves
// the guest's architectural state in an undefined condition, same as the
// original's "callback exceptions are UB".
type Callbacks interface {
	MemoryRead8(vaddr uint64) uint8
	MemoryRead16(vaddr uint64) uint16
	MemoryRead32(vaddr uint64) uint32
	MemoryRead64(vaddr uint64) uint64
	MemoryRead128(vaddr uint64) [16]byte

	MemoryWrite8(vaddr uint64, value uint8)
	MemoryWrite16(vaddr uint64, value uint16)
	MemoryWrite32(vaddr uint64, value uint32)
	MemoryWrite64(vaddr uint64, value uint64)
	MemoryWrite128(vaddr uint64, value [16]byte)

	// MemoryWriteExclusive{8..128} perform the store half of a guest
	// exclusive pair, returning whether it succeeded (the monitor having
	// already been consulted by pkg/monitor before these are reached).
	MemoryWriteExclusive8(vaddr uint64, value, expected uint8) bool
	MemoryWriteExclusive16(vaddr uint64, value, expected uint16) bool
	MemoryWriteExclusive32(vaddr uint64, value, expected uint32) bool
	MemoryWriteExclusive64(vaddr uint64, value, expected uint64) bool
	MemoryWriteExclusive128(vaddr uint64, value, expected [16]byte) bool

	MemoryReadCode(vaddr uint64) uint32
	IsReadOnlyMemory(vaddr uint64) bool

	InterpreterFallback(pc uint64, numInstructions int)
	CallSVC(swi uint32)
	ExceptionRaised(pc uint64, kind uint64)

	AddTicks(n uint64)
	GetTicksRemaining() int64
	GetCNTPCT() uint64

	// A64-only cache-maintenance and barrier hooks; A32 embeddings may
	// leave these as no-ops, same as dynarmic's own A32Interface omits
	// them from its UserCallbacks (original_source/src/dynarmic/interface).
	InstructionSynchronizationBarrierRaised()
	InstructionCacheOperationRaised(op, value uint64)
	DataCacheOperationRaised(op, value uint64)
}

// Optimization is a bitmask of the translation-time optimisations Config
// may enable or suppress, mirroring dynarmic's OptimizationFlag.
type Optimization uint32

const (
	OptimizeGetSetElimination Optimization = 1 << iota
	OptimizeConstProp
	OptimizeMergeInterpretBlocks
	OptimizeConstantMemoryReads

	OptimizeAll = OptimizeGetSetElimination | OptimizeConstProp |
		OptimizeMergeInterpretBlocks | OptimizeConstantMemoryReads
)

// Config is every piece of user-supplied configuration New consumes,
// spec.md §6.1's full field list.
type Config struct {
	Callbacks Callbacks

	// Arch selects A32 (ARM/Thumb) or A64 translation and register file
	// shape; every Descriptor New produces carries this.
	Arch state.Arch

	// PageTable, when non-nil, names a flat fastmem table the backend may
	// read/write directly instead of calling through Callbacks for every
	// guest memory access. This port never emits fastmem-path code (see
	// DESIGN.md's pkg/jit entry), so a non-nil PageTable is accepted but
	// unused; it's carried so a future backend can grow into it without
	// another Config field.
	PageTable []byte
	// FastmemPointer is the base address fastmem code would add PageTable
	// offsets to. Same status as PageTable above.
	FastmemPointer uintptr

	// CodeCacheSize and FarCodeOffset size pkg/codecache's arena: the near
	// region holds CodeCacheSize-FarCodeOffset bytes, the far region and
	// constant pool share the remainder.
	CodeCacheSize  int
	FarCodeOffset  int
	MaxBlockInsts  int

	Optimizations               Optimization
	EnableCycleCounting         bool
	DefineUnpredictableBehaviour bool

	// Hook/hint flags toggled independently of Optimizations, since they
	// change observable behaviour rather than just performance.
	HookHintInstructions bool
	HookDataAborts       bool
	HookXtheEnd          bool

	ProcessorID  int
	TPIDR_EL0    uint64
	TPIDRRO_EL0  uint64
	CNTFRQ_EL0   uint32
	DCZID_EL0    uint32
	CTR_EL0      uint32

	// GlobalMonitor is shared across every JIT in a multi-core emulation
	// and may be nil. Only JIT.ClearExclusiveState uses it, to release this
	// core's reservation; translation and execution do not consult it.
	GlobalMonitor monitor.Monitor
}
