package state

import "testing"

func TestSaveLoadContextRoundTrip(t *testing.T) {
	s := NewA32()
	s.GPR32[0] = 0xDEADBEEF
	s.GPR32[13] = 0x2000
	s.SetPC(0x4000)
	s.NZCV = FlagZ | FlagV
	s.Q = true
	s.FPCR = 0x03000000
	s.FPSR = 0x00000008
	s.ExclusiveHeld = true
	s.ExclusiveAddress = 0x1000
	d := NewDescriptor(ArchA32, 0x4004, false, 0, 0, false, false, false)
	s.PushRSB(d, 0xABCD)

	ctx := s.SaveContext()

	other := NewA32()
	other.LoadContext(ctx)

	if other.GPR32 != s.GPR32 {
		t.Error("LoadContext did not restore GPR32")
	}
	if other.PC() != s.PC() {
		t.Errorf("PC() = %#x, want %#x", other.PC(), s.PC())
	}
	if other.NZCV != s.NZCV || other.Q != s.Q {
		t.Error("LoadContext did not restore flags")
	}
	if other.FPCR != s.FPCR || other.FPSR != s.FPSR {
		t.Error("LoadContext did not restore FP control/status")
	}
	if other.ExclusiveHeld != s.ExclusiveHeld || other.ExclusiveAddress != s.ExclusiveAddress {
		t.Error("LoadContext did not restore exclusive-monitor state")
	}
	top := other.PopRSB()
	if top.Descriptor != d {
		t.Errorf("RSB descriptor = %v, want %v", top.Descriptor, d)
	}
	if top.HostCode != 0 {
		t.Error("LoadContext must not trust serialized host-code pointers; they should come back as a miss (0)")
	}
}

func TestClearExclusiveState(t *testing.T) {
	s := NewA32()
	s.ExclusiveHeld = true
	s.ExclusiveAddress = 0x8000
	s.ClearExclusiveState()
	if s.ExclusiveHeld {
		t.Error("ClearExclusiveState should release the reservation")
	}
	if s.ExclusiveAddress != 0 {
		t.Error("ClearExclusiveState should zero the reservation address")
	}
}

func TestLoadContextLeavesCycleAccountingUntouched(t *testing.T) {
	s := NewA32()
	s.CyclesToRun = 1000
	s.CyclesRemaining = 42
	s.RequestHalt(HaltStep)

	ctx := s.SaveContext()
	s.LoadContext(ctx)

	if s.CyclesToRun != 1000 || s.CyclesRemaining != 42 {
		t.Error("LoadContext must not touch cycle-accounting fields")
	}
	if !s.Halted().Has(HaltStep) {
		t.Error("LoadContext must not touch the halt-reason bitfield")
	}
}
