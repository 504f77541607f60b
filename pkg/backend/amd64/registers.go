// Package amd64 implements pkg/backend.Backend for x86-64 hosts. Unlike
// ARM64's fixed-width words, x86-64 instructions are variable-length, so —
// following _examples/other_examples' linux/x86_64 codegen, which builds
// its stream by calling named per-instruction byte-sequence functions from
// a sibling amd64 helper package instead of bit-packing a uint32 — each
// encoder here returns the exact byte sequence for one instruction shape
// rather than composing a fixed opcode template.
package amd64

import "github.com/oisee/armjit/pkg/regalloc"

// General-purpose register numbers in x86-64's 4-bit encoding (REX.B/X/R
// extend these to 0-15): RAX..R15.
const (
	RAX = iota
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

// StatePtr pins the guest state pointer across a block, the port's analogue
// of dynarmic's x64 backend dedicating a callee-saved register to `this`.
const StatePtr = R15

// FastmemPtr holds the fastmem base mapping, paralleling arm64.FastmemPtr.
const FastmemPtr = R14

// SpillPtr is the base of this block's spill area; regalloc.Location values
// with InReg false address [SpillPtr+slot*8].
const SpillPtr = R13

// ABI is this backend's regalloc.HostABI, System V AMD64: RDI, RSI, RDX,
// RCX, R8, R9 carry the first six integer arguments, RAX carries the
// return value, and RAX/RCX/RDX/RSI/RDI/R8-R11 are caller-saved.
func ABI() regalloc.HostABI {
	return regalloc.HostABI{
		GprCount:       16,
		FprCount:       16,
		CallerSavedGpr: []int{RAX, RCX, RDX, RSI, RDI, R8, R9, R10, R11},
		CallerSavedFpr: []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15},
		ArgGpr:         []int{RDI, RSI, RDX, RCX, R8, R9},
		ArgFpr:         []int{0, 1, 2, 3, 4, 5, 6, 7},
		ReturnGpr:      RAX,
		ReturnFpr:      0,
		Reserved: []regalloc.PhysReg{
			{Class: regalloc.ClassGpr, Index: StatePtr},
			{Class: regalloc.ClassGpr, Index: FastmemPtr},
			{Class: regalloc.ClassGpr, Index: SpillPtr},
			{Class: regalloc.ClassGpr, Index: RSP},
			{Class: regalloc.ClassGpr, Index: RBP},
		},
	}
}
