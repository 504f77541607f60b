package dispatcher

import (
	"testing"

	"github.com/oisee/armjit/pkg/backend"
	"github.com/oisee/armjit/pkg/codecache"
	"github.com/oisee/armjit/pkg/ir"
	"github.com/oisee/armjit/pkg/state"
	"github.com/stretchr/testify/require"
)

type fakeMem struct {
	mem map[uint64]uint8
	svc []uint32
}

func newFakeMem() *fakeMem { return &fakeMem{mem: make(map[uint64]uint8)} }

func (f *fakeMem) Read8(addr uint64) uint8 { return f.mem[addr] }
func (f *fakeMem) Read16(addr uint64) uint16 {
	return uint16(f.Read8(addr)) | uint16(f.Read8(addr+1))<<8
}
func (f *fakeMem) Read32(addr uint64) uint32 {
	return uint32(f.Read16(addr)) | uint32(f.Read16(addr+2))<<16
}
func (f *fakeMem) Read64(addr uint64) uint64 {
	return uint64(f.Read32(addr)) | uint64(f.Read32(addr+4))<<32
}
func (f *fakeMem) Write8(addr uint64, v uint8) { f.mem[addr] = v }
func (f *fakeMem) Write16(addr uint64, v uint16) {
	f.Write8(addr, uint8(v))
	f.Write8(addr+1, uint8(v>>8))
}
func (f *fakeMem) Write32(addr uint64, v uint32) {
	f.Write16(addr, uint16(v))
	f.Write16(addr+2, uint16(v>>16))
}
func (f *fakeMem) Write64(addr uint64, v uint64) {
	f.Write32(addr, uint32(v))
	f.Write32(addr+4, uint32(v>>32))
}
func (f *fakeMem) CallSupervisor(swi uint32)       { f.svc = append(f.svc, swi) }
func (f *fakeMem) ExceptionRaised(pc, kind uint64) {}

func descAt(pc uint64) state.Descriptor {
	return state.NewDescriptor(state.ArchA32, pc, false, 0, 0, false, false, false)
}

func newTestDispatcher(translate codecache.TranslateFunc) (*Dispatcher, *fakeMem) {
	cache := codecache.New(codecache.NewArena(codecache.NewSliceMemory(4096), 2048))
	mem := newFakeMem()
	return New(cache, NewIRExecutor(mem), translate, nil), mem
}

func TestRunExecutesAddAndReturnsToDispatcher(t *testing.T) {
	entry := descAt(0x1000)

	translate := func(loc state.Descriptor) (*ir.Block, *backend.Program, error) {
		b := ir.NewBlock(loc)
		r0 := b.Append(ir.GetRegister, ir.ImmU32(0))
		r1 := b.Append(ir.GetRegister, ir.ImmU32(1))
		sum := b.Append(ir.Add32, r0.Arg(), r1.Arg())
		b.Append(ir.SetRegister, ir.ImmU32(2), sum.Arg())
		b.Cycles = 1
		b.SetTerminal(ir.CheckHalt(ir.ReturnToDispatch()))
		return b, &backend.Program{Code: []byte{0x00}}, nil
	}

	d, _ := newTestDispatcher(translate)
	s := state.NewA32()
	s.GPR32[0] = 5
	s.GPR32[1] = 7

	halt, err := d.Run(s, entry, 1)
	require.NoError(t, err)
	require.Equal(t, state.HaltReason(0), halt)
	require.Equal(t, uint32(12), s.GPR32[2])
}

func TestRunFollowsLinkBlockToNextDescriptor(t *testing.T) {
	entry := descAt(0x1000)
	next := descAt(0x1004)

	translate := func(loc state.Descriptor) (*ir.Block, *backend.Program, error) {
		b := ir.NewBlock(loc)
		b.Cycles = 1
		if loc == entry {
			b.Append(ir.SetRegister, ir.ImmU32(0), ir.ImmU32(111))
			b.SetTerminal(ir.LinkBlock(next))
		} else {
			b.Append(ir.SetRegister, ir.ImmU32(1), ir.ImmU32(222))
			b.SetTerminal(ir.CheckHalt(ir.ReturnToDispatch()))
		}
		return b, &backend.Program{Code: []byte{0x00}}, nil
	}

	d, _ := newTestDispatcher(translate)
	s := state.NewA32()

	_, err := d.Run(s, entry, 2)
	require.NoError(t, err)
	require.Equal(t, uint32(111), s.GPR32[0])
	require.Equal(t, uint32(222), s.GPR32[1])
	require.Equal(t, next.PC(), s.PC())
}

func TestRunStopsOnRequestedHalt(t *testing.T) {
	entry := descAt(0x2000)

	translate := func(loc state.Descriptor) (*ir.Block, *backend.Program, error) {
		b := ir.NewBlock(loc)
		b.Cycles = 1
		b.SetTerminal(ir.CheckHalt(ir.ReturnToDispatch()))
		return b, &backend.Program{Code: []byte{0x00}}, nil
	}

	d, _ := newTestDispatcher(translate)
	s := state.NewA32()
	s.RequestHalt(state.HaltUserDefined1)

	halt, err := d.Run(s, entry, 1000)
	require.NoError(t, err)
	require.True(t, halt.Has(state.HaltUserDefined1))
	require.Equal(t, state.HaltReason(0), s.Halted(), "ClearHalt must have consumed the bit")
}

func TestStepReportsHaltStepAfterOneBlock(t *testing.T) {
	entry := descAt(0x3000)
	ran := false

	translate := func(loc state.Descriptor) (*ir.Block, *backend.Program, error) {
		b := ir.NewBlock(loc)
		b.Append(ir.SetRegister, ir.ImmU32(0), ir.ImmU32(42))
		b.SetTerminal(ir.CheckHalt(ir.ReturnToDispatch()))
		ran = true
		return b, &backend.Program{Code: []byte{0x00}}, nil
	}

	d, _ := newTestDispatcher(translate)
	s := state.NewA32()

	halt, err := d.Step(s, entry)
	require.NoError(t, err)
	require.True(t, ran)
	require.Equal(t, state.HaltStep, halt)
	require.Equal(t, uint32(42), s.GPR32[0])
}

func TestRunRejectsReentrantCall(t *testing.T) {
	d, _ := newTestDispatcher(func(loc state.Descriptor) (*ir.Block, *backend.Program, error) {
		b := ir.NewBlock(loc)
		b.SetTerminal(ir.CheckHalt(ir.ReturnToDispatch()))
		return b, &backend.Program{Code: []byte{0x00}}, nil
	})
	d.running.Store(true)

	_, err := d.Run(state.NewA32(), descAt(0x1000), 10)
	require.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestMemoryAndSupervisorOpsReachCallbacks(t *testing.T) {
	entry := descAt(0x4000)

	translate := func(loc state.Descriptor) (*ir.Block, *backend.Program, error) {
		b := ir.NewBlock(loc)
		b.Cycles = 1
		b.Append(ir.WriteMemory32, ir.ImmU64(0x8000), ir.ImmU32(0xCAFEBABE))
		read := b.Append(ir.ReadMemory32, ir.ImmU64(0x8000))
		b.Append(ir.SetRegister, ir.ImmU32(0), read.Arg())
		b.Append(ir.CallSupervisor, ir.ImmU32(7))
		b.SetTerminal(ir.CheckHalt(ir.ReturnToDispatch()))
		return b, &backend.Program{Code: []byte{0x00}}, nil
	}

	d, mem := newTestDispatcher(translate)
	s := state.NewA32()

	_, err := d.Run(s, entry, 1)
	require.NoError(t, err)
	require.Equal(t, uint32(0xCAFEBABE), s.GPR32[0])
	require.Equal(t, []uint32{7}, mem.svc)
}

func TestEnterExitPreludeSwapsFPControlWord(t *testing.T) {
	entry := descAt(0x5000)
	translate := func(loc state.Descriptor) (*ir.Block, *backend.Program, error) {
		b := ir.NewBlock(loc)
		b.Cycles = 1
		b.SetTerminal(ir.CheckHalt(ir.ReturnToDispatch()))
		return b, &backend.Program{Code: []byte{0x00}}, nil
	}

	d, _ := newTestDispatcher(translate)
	d.hostFPWord = 0x1F80
	s := state.NewA32()
	s.FPCR = 0xABCD

	_, err := d.Run(s, entry, 1)
	require.NoError(t, err)
	require.Equal(t, uint32(0x1F80), d.hostFPWord, "exitPrelude must restore the word captured before this Run")
}
