package state

import "testing"

func TestCpsrRoundTrips(t *testing.T) {
	s := NewA32()
	s.NZCV = FlagN | FlagC
	s.Q = true
	s.GE = [4]uint8{0xFF, 0, 0xFF, 0}
	s.ITState = 0x6A
	s.BigE = true
	s.Thumb = true

	cpsr := s.Cpsr()

	s2 := NewA32()
	s2.SetCpsr(cpsr)

	if s2.Cpsr() != cpsr {
		t.Fatalf("Cpsr/SetCpsr not idempotent: %#x != %#x", s2.Cpsr(), cpsr)
	}
	if s2.NZCV != s.NZCV || s2.Q != s.Q || s2.ITState != s.ITState ||
		s2.BigE != s.BigE || s2.Thumb != s.Thumb {
		t.Error("SetCpsr(Cpsr()) did not reproduce the original fields")
	}
}

func TestSetPCUpdatesGPR15OnA32(t *testing.T) {
	s := NewA32()
	s.SetPC(0x8010)
	if s.PC() != 0x8010 {
		t.Errorf("PC() = %#x, want 0x8010", s.PC())
	}
	if s.GPR32[15] != 0x8010 {
		t.Errorf("GPR32[15] = %#x, want 0x8010 (PC must mirror R15 on A32)", s.GPR32[15])
	}
}

func TestRSBPushPopOrder(t *testing.T) {
	s := NewA32()
	d1 := NewDescriptor(ArchA32, 0x100, false, 0, 0, false, false, false)
	d2 := NewDescriptor(ArchA32, 0x200, false, 0, 0, false, false, false)

	s.PushRSB(d1, 0x1000)
	s.PushRSB(d2, 0x2000)

	top := s.PopRSB()
	if top.Descriptor != d2 || top.HostCode != 0x2000 {
		t.Errorf("PopRSB = %+v, want the most recently pushed entry", top)
	}
	prev := s.PopRSB()
	if prev.Descriptor != d1 || prev.HostCode != 0x1000 {
		t.Errorf("PopRSB = %+v, want the first pushed entry", prev)
	}
}

func TestHaltReasonAtomicRequestAndClear(t *testing.T) {
	s := NewA32()
	if s.Halted().Any() {
		t.Fatal("fresh state should not be halted")
	}
	s.RequestHalt(HaltStep)
	s.RequestHalt(HaltMemoryAbort)
	if !s.Halted().Has(HaltStep) || !s.Halted().Has(HaltMemoryAbort) {
		t.Error("RequestHalt should OR in both reasons")
	}
	cleared := s.ClearHalt()
	if !cleared.Has(HaltStep) || !cleared.Has(HaltMemoryAbort) {
		t.Error("ClearHalt should return the pre-clear bitfield")
	}
	if s.Halted().Any() {
		t.Error("ClearHalt should reset the bitfield to zero")
	}
}

func TestFpscrMasksExceptionEnableBits(t *testing.T) {
	s := NewA32()
	s.SetFpscr(0xFFFFFFFF)
	if s.FPCR&0x00001F00 != 0 {
		t.Error("SetFpscr must mask off every exception-enable bit")
	}
}
