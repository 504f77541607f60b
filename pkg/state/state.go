package state

import "sync/atomic"

// RSBSize is the number of entries in the Return-Stack-Buffer ring. Must be
// a power of two so RSBPtr wraps with a simple mask.
const RSBSize = 8
const rsbPtrMask = RSBSize - 1

// RSBEntry pairs a descriptor with the host code address the dispatcher
// should jump to on a hit.
type RSBEntry struct {
	Descriptor Descriptor
	HostCode   uintptr
}

// VecReg is a 128-bit SIMD/FP register split into two 64-bit halves so it
// can back A32's 64-bit D-registers (only Lo is meaningful) and A64's
// 128-bit Q-registers uniformly.
type VecReg struct {
	Lo, Hi uint64
}

// FPControl mirrors the host's floating-point control word (MXCSR on
// x86-64, FPCR on AArch64) plus the guest/host swap bookkeeping described in
// spec.md §4.6. This port never touches a real control register — there is
// no host machine code to run it on (see pkg/codecache's own doc comment) —
// so Save/Restore just hold the word the dispatcher's prelude hands them
// across a Run/Step call, standing in for the MXCSR/FPCR swap a real
// embedding's generated prelude performs in two instructions.
type FPControl struct {
	GuestWord     uint32
	SavedHostWord uint32
}

// Save records hostWord, the host control word active before this prelude
// installs the guest's, so Restore can hand it back on the way out.
func (f *FPControl) Save(hostWord uint32) { f.SavedHostWord = hostWord }

// Restore returns the host control word captured by the most recent Save.
func (f *FPControl) Restore() uint32 { return f.SavedHostWord }

// State is the POD guest CPU state record described in spec.md §3. One
// State exists per JIT instance; it is never shared across instances.
type State struct {
	Arch Arch

	// General registers. GPR32 is authoritative for ArchA32 (16 regs,
	// index 15 is PC); GPR64+SP64 is authoritative for ArchA64 (31 regs
	// plus a distinct stack pointer). PC is kept in both representations
	// in sync by SetPC/PC.
	GPR32 [16]uint32
	GPR64 [31]uint64
	SP64  uint64
	pc    uint64

	Vec [32]VecReg

	NZCV    uint32 // N,Z,C,V packed per flags.go
	Q       bool   // sticky saturation (cumulative, cleared only explicitly)
	GE      [4]uint8
	ITState uint8
	BigE    bool
	Thumb   bool

	FPCR uint32
	FPSR uint32
	FPControl

	ExclusiveHeld    bool
	ExclusiveAddress uint64

	RSB    [RSBSize]RSBEntry
	RSBPtr uint32

	CyclesToRun      int64
	CyclesRemaining  int64
	haltReason       atomic.Uint32
	InvalidCacheGen  uint64
}

// NewA32 returns a zeroed A32 guest state ready for use.
func NewA32() *State {
	s := &State{Arch: ArchA32}
	s.ResetRSB()
	s.FPCR = 0 // RMode=0 (round nearest), flush-to-zero off, default-NaN off
	return s
}

// NewA64 returns a zeroed A64 guest state ready for use.
func NewA64() *State {
	s := &State{Arch: ArchA64}
	s.ResetRSB()
	return s
}

// PC returns the current guest program counter.
func (s *State) PC() uint64 {
	return s.pc
}

// SetPC updates the program counter, keeping both register representations
// consistent (A32's R15 mirrors PC for code that reads it as a GPR).
func (s *State) SetPC(pc uint64) {
	s.pc = pc
	if s.Arch == ArchA32 {
		s.GPR32[15] = uint32(pc)
	}
}

// ResetRSB empties the return-stack-buffer ring, used on construction and on
// a full cache clear (spec.md §4.5).
func (s *State) ResetRSB() {
	s.RSBPtr = 0
	for i := range s.RSB {
		s.RSB[i] = RSBEntry{}
	}
}

// PushRSB records a (descriptor, host-code) pair at the ring's current
// write position and advances it.
func (s *State) PushRSB(d Descriptor, hostCode uintptr) {
	s.RSB[s.RSBPtr&rsbPtrMask] = RSBEntry{Descriptor: d, HostCode: hostCode}
	s.RSBPtr++
}

// PopRSB returns the most recently pushed entry and retreats the ring
// pointer, mirroring the PopRSBHint terminal's lookup.
func (s *State) PopRSB() RSBEntry {
	s.RSBPtr--
	return s.RSB[s.RSBPtr&rsbPtrMask]
}

// Halted returns the current halt-reason bitfield; see context.go for the
// named HaltReason bits.
func (s *State) Halted() HaltReason { return HaltReason(s.haltReason.Load()) }

// RequestHalt ORs reason into the halt bitfield. Safe to call from any
// goroutine and from inside a host callback (spec.md §5).
func (s *State) RequestHalt(reason HaltReason) { s.haltReason.Or(uint32(reason)) }

// ClearHalt atomically reads and clears the halt bitfield, returning the
// value observed before clearing — used by return_from_run_code.
func (s *State) ClearHalt() HaltReason { return HaltReason(s.haltReason.Swap(0)) }

// Cpsr packs the A32 status-register-visible bits (NZCV, Q, GE, IT, E, T)
// into the 32-bit CPSR layout.
func (s *State) Cpsr() uint32 {
	cpsr := s.NZCV
	if s.Q {
		cpsr |= 1 << 27
	}
	cpsr |= uint32(s.GE[0]&1) << 16
	cpsr |= uint32(s.GE[1]&1) << 17
	cpsr |= uint32(s.GE[2]&1) << 18
	cpsr |= uint32(s.GE[3]&1) << 19
	cpsr |= (uint32(s.ITState) & 0xFC) << 8
	cpsr |= (uint32(s.ITState) & 0x03) << 25
	if s.BigE {
		cpsr |= 1 << 9
	}
	if s.Thumb {
		cpsr |= 1 << 5
	}
	return cpsr
}

// SetCpsr is the inverse of Cpsr; set_cpsr(cpsr()) must be the identity
// (spec.md §8).
func (s *State) SetCpsr(cpsr uint32) {
	s.NZCV = cpsr & 0xF0000000
	s.Q = cpsr&(1<<27) != 0
	s.GE[0] = uint8((cpsr >> 16) & 1 * 0xFF)
	s.GE[1] = uint8((cpsr >> 17) & 1 * 0xFF)
	s.GE[2] = uint8((cpsr >> 18) & 1 * 0xFF)
	s.GE[3] = uint8((cpsr >> 19) & 1 * 0xFF)
	s.ITState = uint8((cpsr>>8)&0xFC) | uint8((cpsr>>25)&0x03)
	s.BigE = cpsr&(1<<9) != 0
	s.Thumb = cpsr&(1<<5) != 0
}

// Fpscr packs FPCR/FPSR and the host-facing mode bits into the A32 FPSCR
// layout.
func (s *State) Fpscr() uint32 {
	return (s.FPSR & 0x0000009F) | (s.FPCR &^ 0x0000009F)
}

// SetFpscr is the inverse of Fpscr. Per the Open Question recorded in
// DESIGN.md, this masks all exception-enable bits off (so guest FP
// exceptions always accumulate, never trap) and does not attempt to
// translate FZ/DN into a host DAZ/FTZ mode bit — the conservative choice
// the original implementation made and that this port preserves verbatim.
func (s *State) SetFpscr(fpscr uint32) {
	s.FPSR = fpscr & 0x0000009F
	s.FPCR = fpscr &^ 0x0000009F
	s.FPCR &^= 0x00009F00 // mask all exception-enable bits (IOE,DZE,OFE,UFE,IXE,IDE)
}
