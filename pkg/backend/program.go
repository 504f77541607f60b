// Package backend defines the host code emitter contract: the per-opcode
// emit surface a register allocator-driven translator walks over one block,
// and the Program it produces — raw host bytes plus the relocation records
// pkg/codecache patches once a block's final address is known.
//
// pkg/backend/amd64 and pkg/backend/arm64 each implement Backend for their
// target; neither this package nor its callers need to know which.
package backend

import (
	"github.com/oisee/armjit/pkg/ir"
	"github.com/oisee/armjit/pkg/regalloc"
	"github.com/oisee/armjit/pkg/state"
)

// RelocKind names the instruction-encoding shape a Relocation or
// BlockRelocation patches: two ARM64 branch-offset widths (26-bit and
// 19-bit) and the amd64 rel32 operand.
type RelocKind uint8

const (
	// RelocBranchArm64 patches a 26-bit word-aligned offset into an ARM64
	// unconditional B/BL (bits [25:0]).
	RelocBranchArm64 RelocKind = iota
	// RelocBranch19Arm64 patches a 19-bit word-aligned offset into an ARM64
	// conditional branch or CBZ/CBNZ (bits [23:5]).
	RelocBranch19Arm64
	// RelocRel32Amd64 patches a 32-bit byte offset following a 4-byte-wide
	// rel32 operand, measured from the byte after the operand.
	RelocRel32Amd64
)

// Relocation is an intra-Program fixup: Offset names a branch/call
// instruction whose displacement operand isn't known until Target (a byte
// offset into the same Program.Code) is fixed up, i.e. a forward label.
type Relocation struct {
	Offset int
	Kind   RelocKind
	Target int
}

// BlockRelocation is a LinkBlock/LinkBlockFast/Interpret terminal's
// reference to another guest block's translation, unresolved until
// pkg/codecache knows that block's host address. Fast marks a LinkBlockFast
// edge; pkg/codecache links it the same way as a LinkBlock edge, patching it
// at once when the target is already emitted and otherwise when the target
// block is emitted.
type BlockRelocation struct {
	Offset int
	Kind   RelocKind
	Target state.Descriptor
	Fast   bool
}

// Program is one translated block's host code plus the fixups it still
// needs. EntryOffset is almost always 0; it exists because a prologue may
// precede the first guest instruction's code (e.g. a flags-materialization
// stub shared by CheckHalt) that a re-entry path can skip.
type Program struct {
	Code             []byte
	Relocations      []Relocation
	BlockRelocations []BlockRelocation
	EntryOffset      int
}

// Backend translates one verified, optimized, register-allocated IR block
// into a Program of real host instruction bytes. ABI is fixed per backend
// instance (it never varies block to block), so callers construct a
// regalloc.Allocator from it once per block and pass both in.
type Backend interface {
	// Name identifies the target for logging, e.g. "amd64" or "arm64".
	Name() string

	// ABI is this backend's calling convention and register file shape,
	// used to construct the regalloc.Allocator the caller drives EmitBlock
	// with.
	ABI() regalloc.HostABI

	// SpaceFloor is the minimum number of free bytes a caller must confirm
	// remain in the code cache arena before calling EmitBlock; below it the
	// caller clears the cache and retries rather than risk a block spanning
	// torn-down memory mid-emission.
	SpaceFloor() int

	// EmitBlock walks block in program order, driving alloc's Use/Define
	// surface one instruction at a time, and emits the resulting host
	// bytes. alloc must have been constructed from this Backend's ABI over
	// the same block.
	EmitBlock(block *ir.Block, alloc *regalloc.Allocator) (*Program, error)
}

// MemoryCallbacks is the narrow subset of pkg/jit.Config's Callbacks a
// backend's memory emitters need to know exists, not call directly: both
// targets emit a call through a fixed callback-table pointer reserved in
// their HostABI, so the backend only needs the slot index each named
// callback lives at, given here as the canonical ordering every backend
// agrees on.
type MemoryCallbackSlot int

const (
	SlotReadMemory8 MemoryCallbackSlot = iota
	SlotReadMemory16
	SlotReadMemory32
	SlotReadMemory64
	SlotReadMemory128
	SlotWriteMemory8
	SlotWriteMemory16
	SlotWriteMemory32
	SlotWriteMemory64
	SlotWriteMemory128
	SlotExclusiveReadMemory8
	SlotExclusiveReadMemory16
	SlotExclusiveReadMemory32
	SlotExclusiveReadMemory64
	SlotExclusiveReadMemory128
	SlotExclusiveWriteMemory8
	SlotExclusiveWriteMemory16
	SlotExclusiveWriteMemory32
	SlotExclusiveWriteMemory64
	SlotExclusiveWriteMemory128
	SlotCallSupervisor
	SlotExceptionRaised
	SlotCount
)

// MemoryOpSlot maps a memory-family ir.Opcode to its callback slot. Callers
// that emit the callback-path (as opposed to fastmem-path) form of a memory
// op look up the slot here rather than re-deriving it from Op.
func MemoryOpSlot(op ir.Opcode) (MemoryCallbackSlot, bool) {
	switch op {
	case ir.ReadMemory8:
		return SlotReadMemory8, true
	case ir.ReadMemory16:
		return SlotReadMemory16, true
	case ir.ReadMemory32:
		return SlotReadMemory32, true
	case ir.ReadMemory64:
		return SlotReadMemory64, true
	case ir.ReadMemory128:
		return SlotReadMemory128, true
	case ir.WriteMemory8:
		return SlotWriteMemory8, true
	case ir.WriteMemory16:
		return SlotWriteMemory16, true
	case ir.WriteMemory32:
		return SlotWriteMemory32, true
	case ir.WriteMemory64:
		return SlotWriteMemory64, true
	case ir.WriteMemory128:
		return SlotWriteMemory128, true
	case ir.ExclusiveReadMemory8:
		return SlotExclusiveReadMemory8, true
	case ir.ExclusiveReadMemory16:
		return SlotExclusiveReadMemory16, true
	case ir.ExclusiveReadMemory32:
		return SlotExclusiveReadMemory32, true
	case ir.ExclusiveReadMemory64:
		return SlotExclusiveReadMemory64, true
	case ir.ExclusiveReadMemory128:
		return SlotExclusiveReadMemory128, true
	case ir.ExclusiveWriteMemory8:
		return SlotExclusiveWriteMemory8, true
	case ir.ExclusiveWriteMemory16:
		return SlotExclusiveWriteMemory16, true
	case ir.ExclusiveWriteMemory32:
		return SlotExclusiveWriteMemory32, true
	case ir.ExclusiveWriteMemory64:
		return SlotExclusiveWriteMemory64, true
	case ir.ExclusiveWriteMemory128:
		return SlotExclusiveWriteMemory128, true
	case ir.CallSupervisor:
		return SlotCallSupervisor, true
	case ir.ExceptionRaised:
		return SlotExceptionRaised, true
	default:
		return 0, false
	}
}

// IsExclusive reports whether op is one of the load-linked/store-conditional
// exclusive memory family, which backends must pair with pkg/monitor's
// global-monitor protocol rather than emit as a plain access.
func IsExclusive(op ir.Opcode) bool {
	switch op {
	case ir.ExclusiveReadMemory8, ir.ExclusiveReadMemory16, ir.ExclusiveReadMemory32,
		ir.ExclusiveReadMemory64, ir.ExclusiveReadMemory128,
		ir.ExclusiveWriteMemory8, ir.ExclusiveWriteMemory16, ir.ExclusiveWriteMemory32,
		ir.ExclusiveWriteMemory64, ir.ExclusiveWriteMemory128:
		return true
	default:
		return false
	}
}
