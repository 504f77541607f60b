// Package arm64 implements pkg/backend.Backend for AArch64 hosts, encoding
// each representative IR opcode and terminal as real A64 instruction words
// the way _examples/other_examples' jit-arm64 codegen builds its
// instruction stream: a flat []byte, forward branches recorded as
// relocations and patched once their target offset is known, and
// register-field values packed into a fixed opcode base with
// `opcode | (Rd<<0) | (Rn<<5) | (Rm<<16)`.
package arm64

import "github.com/oisee/armjit/pkg/regalloc"

// General-purpose register numbers, X0..X30, plus the zero/stack-pointer
// encoding SP shares with XZR depending on instruction class.
const (
	X0 = iota
	X1
	X2
	X3
	X4
	X5
	X6
	X7
	X8
	X9
	X10
	X11
	X12
	X13
	X14
	X15
	X16
	X17
	X18
	X19
	X20
	X21
	X22
	X23
	X24
	X25
	X26
	X27
	X28
	X29
	X30
	SP = 31
	XZR = 31
)

// StatePtr holds &state.State for the block currently executing, the A64
// port's analogue of dynarmic's JitState pointer convention: pinned so
// every GetRegister/SetRegister-family opcode can address a fixed field
// offset without reloading the pointer.
const StatePtr = X28

// FastmemPtr is reserved for the fastmem base mapping
// (pkg/jit.Config.FastmemPointer). The memory emitters in this backend do
// not use it; they always emit the callback path.
const FastmemPtr = X27

// SpillPtr holds the base of this block's spill area, a small per-run scratch
// region the dispatcher sets up alongside the guest state; regalloc.Location
// values with InReg false address SpillPtr+slot*8.
const SpillPtr = X26

// LR (X30) is reserved: backend-emitted code never runs under a standard
// AAPCS64 call/return convention (pkg/dispatcher invokes a block's Program
// directly as a called Go-side trampoline, not as a recursive call chain),
// but BL-based callback calls still clobber it, so it stays out of the
// allocatable pool to avoid a false "available register" that a nested
// callback call would silently stomp.
const LR = X30

// ABI is this backend's regalloc.HostABI: X0-X7 carry the first eight
// integer/pointer arguments per AAPCS64, X0 carries the return value, and
// X0-X17 are caller-saved exactly as AAPCS64 specifies.
func ABI() regalloc.HostABI {
	return regalloc.HostABI{
		GprCount:       31,
		FprCount:       32,
		CallerSavedGpr: []int{X0, X1, X2, X3, X4, X5, X6, X7, X8, X9, X10, X11, X12, X13, X14, X15, X16, X17},
		CallerSavedFpr: []int{0, 1, 2, 3, 4, 5, 6, 7, 16, 17, 18, 19, 20, 21, 22, 23, 24, 25, 26, 27, 28, 29, 30, 31},
		ArgGpr:         []int{X0, X1, X2, X3, X4, X5, X6, X7},
		ArgFpr:         []int{0, 1, 2, 3, 4, 5, 6, 7},
		ReturnGpr:      X0,
		ReturnFpr:      0,
		Reserved: []regalloc.PhysReg{
			{Class: regalloc.ClassGpr, Index: StatePtr},
			{Class: regalloc.ClassGpr, Index: FastmemPtr},
			{Class: regalloc.ClassGpr, Index: SpillPtr},
			{Class: regalloc.ClassGpr, Index: LR},
		},
	}
}
