package jit

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/oisee/armjit/pkg/state"
	"github.com/stretchr/testify/require"
)

// fakeCallbacks is a minimal, fully in-memory Callbacks: one flat byte map
// backs both code fetch and data access, matching how a real flat guest
// address space works. Most methods exist only to satisfy the interface;
// the tests below exercise memory, AddTicks/GetTicksRemaining and a halt
// hook triggered from a write.
type fakeCallbacks struct {
	mem            map[uint64]uint8
	ticksRemaining int64
	ticksAdded     uint64
	svc            []uint32
	onWrite32      func(addr uint64, v uint32)
}

func newFakeCallbacks() *fakeCallbacks {
	return &fakeCallbacks{mem: make(map[uint64]uint8)}
}

func (f *fakeCallbacks) putWord(addr uint64, v uint32) {
	f.mem[addr] = uint8(v)
	f.mem[addr+1] = uint8(v >> 8)
	f.mem[addr+2] = uint8(v >> 16)
	f.mem[addr+3] = uint8(v >> 24)
}

func (f *fakeCallbacks) putHalf(addr uint64, v uint16) {
	f.mem[addr] = uint8(v)
	f.mem[addr+1] = uint8(v >> 8)
}

func (f *fakeCallbacks) MemoryRead8(addr uint64) uint8 { return f.mem[addr] }
func (f *fakeCallbacks) MemoryRead16(addr uint64) uint16 {
	return uint16(f.MemoryRead8(addr)) | uint16(f.MemoryRead8(addr+1))<<8
}
func (f *fakeCallbacks) MemoryRead32(addr uint64) uint32 {
	return uint32(f.MemoryRead16(addr)) | uint32(f.MemoryRead16(addr+2))<<16
}
func (f *fakeCallbacks) MemoryRead64(addr uint64) uint64 {
	return uint64(f.MemoryRead32(addr)) | uint64(f.MemoryRead32(addr+4))<<32
}
func (f *fakeCallbacks) MemoryRead128(addr uint64) [16]byte {
	var out [16]byte
	for i := range out {
		out[i] = f.MemoryRead8(addr + uint64(i))
	}
	return out
}

func (f *fakeCallbacks) MemoryWrite8(addr uint64, v uint8) { f.mem[addr] = v }
func (f *fakeCallbacks) MemoryWrite16(addr uint64, v uint16) {
	f.MemoryWrite8(addr, uint8(v))
	f.MemoryWrite8(addr+1, uint8(v>>8))
}
func (f *fakeCallbacks) MemoryWrite32(addr uint64, v uint32) {
	f.MemoryWrite16(addr, uint16(v))
	f.MemoryWrite16(addr+2, uint16(v>>16))
	if f.onWrite32 != nil {
		f.onWrite32(addr, v)
	}
}
func (f *fakeCallbacks) MemoryWrite64(addr uint64, v uint64) {
	f.MemoryWrite32(addr, uint32(v))
	f.MemoryWrite32(addr+4, uint32(v>>32))
}
func (f *fakeCallbacks) MemoryWrite128(addr uint64, v [16]byte) {
	for i, b := range v {
		f.MemoryWrite8(addr+uint64(i), b)
	}
}

func (f *fakeCallbacks) MemoryWriteExclusive8(addr uint64, v, expected uint8) bool {
	f.MemoryWrite8(addr, v)
	return true
}
func (f *fakeCallbacks) MemoryWriteExclusive16(addr uint64, v, expected uint16) bool {
	f.MemoryWrite16(addr, v)
	return true
}
func (f *fakeCallbacks) MemoryWriteExclusive32(addr uint64, v, expected uint32) bool {
	f.MemoryWrite32(addr, v)
	return true
}
func (f *fakeCallbacks) MemoryWriteExclusive64(addr uint64, v, expected uint64) bool {
	f.MemoryWrite64(addr, v)
	return true
}
func (f *fakeCallbacks) MemoryWriteExclusive128(addr uint64, v, expected [16]byte) bool {
	f.MemoryWrite128(addr, v)
	return true
}

func (f *fakeCallbacks) MemoryReadCode(addr uint64) uint32   { return f.MemoryRead32(addr) }
func (f *fakeCallbacks) IsReadOnlyMemory(addr uint64) bool    { return false }
func (f *fakeCallbacks) InterpreterFallback(pc uint64, n int) {}
func (f *fakeCallbacks) CallSVC(swi uint32)                   { f.svc = append(f.svc, swi) }
func (f *fakeCallbacks) ExceptionRaised(pc, kind uint64)      {}
func (f *fakeCallbacks) AddTicks(n uint64)                    { f.ticksAdded += n }
func (f *fakeCallbacks) GetTicksRemaining() int64             { return f.ticksRemaining }
func (f *fakeCallbacks) GetCNTPCT() uint64                    { return 0 }

func (f *fakeCallbacks) InstructionSynchronizationBarrierRaised()   {}
func (f *fakeCallbacks) InstructionCacheOperationRaised(op, v uint64) {}
func (f *fakeCallbacks) DataCacheOperationRaised(op, v uint64)        {}

func a32Loc(pc uint64) state.Descriptor {
	return state.NewDescriptor(state.ArchA32, pc, false, 0, 0, false, false, false)
}

func thumbLoc(pc uint64) state.Descriptor {
	return state.NewDescriptor(state.ArchA32, pc, true, 0, 0, false, false, false)
}

// a32DPImm encodes cond 00 1 dpBits S Rn Rd rotate_imm imm8 (immediate
// data-processing), matching pkg/frontend's own test helper of the same
// shape.
func a32DPImm(cond uint32, dpBits uint32, s bool, rn, rd uint8, rot, imm8 uint32) uint32 {
	w := cond<<28 | 0x02000000 | dpBits<<21 | uint32(rn)&0xF<<16 | uint32(rd)&0xF<<12 | rot<<8 | imm8&0xFF
	if s {
		w |= 1 << 20
	}
	return w
}

// a32Branch encodes an unconditional B at pc targeting target.
func a32Branch(pc, target uint64) uint32 {
	offset := int64(target) - int64(pc) - 8
	imm24 := uint32(offset/4) & 0xFFFFFF
	return 0xE<<28 | 0x0A000000 | imm24
}

func TestRunExecutesArmDataProcessingThenHaltsOnBudget(t *testing.T) {
	// Scenario: an ARM data-processing instruction (MOVS R0, #5) followed
	// by a branch, run for exactly the two instructions' cycle cost.
	cb := newFakeCallbacks()
	cb.putWord(0, a32DPImm(0xE, 0b1101, true, 0, 0, 0, 5)) // MOVS R0, #5
	cb.putWord(4, a32Branch(4, 0x1000))                    // B 0x1000
	cb.ticksRemaining = 2

	j := New(Config{
		Callbacks:           cb,
		Arch:                state.ArchA32,
		CodeCacheSize:       4096,
		FarCodeOffset:       2048,
		EnableCycleCounting: true,
	}, nil)

	halt, err := j.Run(a32Loc(0))
	require.NoError(t, err)
	require.Equal(t, HaltReason(0), halt, "budget exhaustion is not itself a halt reason")
	require.Equal(t, uint64(5), j.Regs()[0])
	require.Equal(t, uint64(0x1000), j.state.PC())
	require.Equal(t, uint64(2), cb.ticksAdded)
}

func TestRunExecutesThumbShiftThenHaltsOnBudget(t *testing.T) {
	// Scenario: a Thumb shift-by-immediate instruction (LSLS R1, R0, #3)
	// followed by an unconditional branch.
	cb := newFakeCallbacks()
	cb.putHalf(0, uint16(3)<<6|uint16(0)<<3|1) // LSLS R1, R0, #3
	cb.putHalf(2, 0xE000|29)                   // B, target = 2+4+29*2 = 64
	cb.ticksRemaining = 2

	j := New(Config{
		Callbacks:           cb,
		Arch:                state.ArchA32,
		CodeCacheSize:       4096,
		FarCodeOffset:       2048,
		EnableCycleCounting: true,
	}, nil)
	j.SetReg(0, 0xF0)

	halt, err := j.Run(thumbLoc(0))
	require.NoError(t, err)
	require.Equal(t, HaltReason(0), halt)
	require.Equal(t, uint64(0xF0<<3), j.Regs()[1])
	require.Equal(t, uint64(64), j.state.PC())
}

func TestRunStopsAtNextBlockBoundaryOnHostRequestedHalt(t *testing.T) {
	// Scenario: MOVS R0,#1; STR R0,[R1]; B back to entry, forming a loop.
	// The write callback requests a halt, which must stop Run at the next
	// boundary rather than looping forever.
	cb := newFakeCallbacks()
	cb.putWord(0, a32DPImm(0xE, 0b1101, true, 0, 0, 0, 1)) // MOVS R0, #1
	cb.putWord(4, 0xE<<28|0x05000000|1<<23|1<<16|0<<12|0)  // STR R0, [R1]
	cb.putWord(8, a32Branch(8, 0))                         // B back to pc 0

	j := New(Config{
		Callbacks:     cb,
		Arch:          state.ArchA32,
		CodeCacheSize: 4096,
		FarCodeOffset: 2048,
	}, nil)
	j.SetReg(1, 0x8000)
	cb.onWrite32 = func(addr uint64, v uint32) {
		j.Halt(state.HaltUserDefined1)
	}

	halt, err := j.Run(a32Loc(0))
	require.NoError(t, err)
	require.True(t, halt.Has(state.HaltUserDefined1))
	require.Equal(t, uint32(1), cb.MemoryRead32(0x8000))
}

func TestRunReturnsImmediatelyOnZeroCycleBudget(t *testing.T) {
	cb := newFakeCallbacks()
	cb.ticksRemaining = 0

	j := New(Config{
		Callbacks:           cb,
		Arch:                state.ArchA32,
		CodeCacheSize:       4096,
		FarCodeOffset:       2048,
		EnableCycleCounting: true,
	}, nil)

	halt, err := j.Run(a32Loc(0))
	require.NoError(t, err)
	require.Equal(t, HaltReason(0), halt)
	require.Empty(t, j.cache.Blocks(), "a zero-cycle budget must return before translating anything")
}

func TestSaveLoadContextRoundTrips(t *testing.T) {
	cb := newFakeCallbacks()
	j := New(Config{
		Callbacks:     cb,
		Arch:          state.ArchA32,
		CodeCacheSize: 4096,
		FarCodeOffset: 2048,
	}, nil)

	j.SetReg(3, 0xDEADBEEF)
	j.SetCpsr(0x80000000)
	saved := j.SaveContext()

	j.SetReg(3, 0)
	j.SetCpsr(0)
	require.NotEqual(t, uint64(0xDEADBEEF), j.Regs()[3])

	j.LoadContext(saved)
	require.Equal(t, uint64(0xDEADBEEF), j.Regs()[3])
	require.Equal(t, uint32(0x80000000), j.Cpsr())

	if diff := cmp.Diff(saved, j.SaveContext()); diff != "" {
		t.Errorf("context after round-trip differs from the one saved (-want +got):\n%s", diff)
	}
}

func TestResetClearsRegistersButKeepsCodeCache(t *testing.T) {
	cb := newFakeCallbacks()
	cb.putWord(0, a32DPImm(0xE, 0b1101, true, 0, 0, 0, 5))
	cb.putWord(4, a32Branch(4, 0x1000))
	cb.ticksRemaining = 2

	j := New(Config{
		Callbacks:           cb,
		Arch:                state.ArchA32,
		CodeCacheSize:       4096,
		FarCodeOffset:       2048,
		EnableCycleCounting: true,
	}, nil)
	_, err := j.Run(a32Loc(0))
	require.NoError(t, err)
	require.NotEmpty(t, j.cache.Blocks())

	j.Reset()
	require.Equal(t, uint64(0), j.Regs()[0])
	require.NotEmpty(t, j.cache.Blocks(), "Reset must not discard translated blocks")
}

func TestDumpDisassemblyListsTranslatedBlocks(t *testing.T) {
	cb := newFakeCallbacks()
	cb.putWord(0, a32DPImm(0xE, 0b1101, true, 0, 0, 0, 5))
	cb.putWord(4, a32Branch(4, 0x1000))
	cb.ticksRemaining = 2

	j := New(Config{
		Callbacks:           cb,
		Arch:                state.ArchA32,
		CodeCacheSize:       4096,
		FarCodeOffset:       2048,
		EnableCycleCounting: true,
	}, nil)
	_, err := j.Run(a32Loc(0))
	require.NoError(t, err)

	dump := j.DumpDisassembly()
	require.Contains(t, dump, "terminal:")
}
