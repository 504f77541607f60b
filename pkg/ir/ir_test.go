package ir

import (
	"testing"

	"github.com/oisee/armjit/pkg/state"
)

func testLoc() state.Descriptor {
	return state.NewDescriptor(state.ArchA32, 0x1000, false, 0, 0, false, false, false)
}

func TestAppendTracksUseCounts(t *testing.T) {
	b := NewBlock(testLoc())
	a := b.Append(GetRegister, ImmU32(0))
	sum := b.Append(Add32, a.Arg(), ImmU32(1))
	_ = sum

	if a.Inst().Uses() != 1 {
		t.Errorf("Uses() = %d, want 1 after one reference", a.Inst().Uses())
	}
}

func TestRemoveReleasesUses(t *testing.T) {
	b := NewBlock(testLoc())
	a := b.Append(GetRegister, ImmU32(0))
	sum := b.Append(Add32, a.Arg(), ImmU32(1))

	b.Remove(sum.Inst())
	if a.Inst().Uses() != 0 {
		t.Errorf("Uses() = %d, want 0 after removing the sole consumer", a.Inst().Uses())
	}
	if b.Len() != 1 {
		t.Errorf("Len() = %d, want 1 after Remove", b.Len())
	}
}

func TestAppendPanicsOnArityMismatch(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected a panic for wrong argument count")
		}
	}()
	b := NewBlock(testLoc())
	b.Append(Add32, ImmU32(1)) // Add32 takes 2 args
}

func TestAppendPseudoValidatesProducer(t *testing.T) {
	b := NewBlock(testLoc())
	sum := b.Append(Add32, ImmU32(1), ImmU32(2))
	carry := b.AppendPseudo(GetCarryFromOp, sum)
	if carry.Type() != TypeU1 {
		t.Errorf("GetCarryFromOp result type = %v, want u1", carry.Type())
	}
}

func TestAppendPseudoRejectsDisallowedProducer(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected a panic attaching GetCarryFromOp to a non-arithmetic producer")
		}
	}()
	b := NewBlock(testLoc())
	reg := b.Append(GetRegister, ImmU32(0))
	b.AppendPseudo(GetCarryFromOp, reg)
}

func TestSideEffectingInstructionSurvivesZeroUses(t *testing.T) {
	b := NewBlock(testLoc())
	write := b.Append(WriteMemory32, ImmU64(0x1000), ImmU32(42))
	if write.Inst().HasSideEffects() != true {
		t.Error("WriteMemory32 must report HasSideEffects")
	}
}

func TestEmitterAdvancesLocationAndCycles(t *testing.T) {
	b := NewBlock(testLoc())
	e := NewEmitter(b)
	start := e.Location().PC()
	e.Advance(4)
	if e.Location().PC() != start+4 {
		t.Errorf("Location().PC() = %#x, want %#x", e.Location().PC(), start+4)
	}
	if b.Cycles != 1 {
		t.Errorf("Cycles = %d, want 1", b.Cycles)
	}
}

func TestTerminalConstructorsSetKind(t *testing.T) {
	next := testLoc().WithPC(0x2000)
	cases := []struct {
		name string
		term Terminal
		want TerminalKind
	}{
		{"LinkBlock", LinkBlock(next), TermLinkBlock},
		{"LinkBlockFast", LinkBlockFast(next), TermLinkBlockFast},
		{"PopRSBHint", PopRSBHint(), TermPopRSBHint},
		{"FastDispatchHint", FastDispatchHint(), TermFastDispatchHint},
		{"ReturnToDispatch", ReturnToDispatch(), TermReturnToDispatch},
		{"Interpret", Interpret(next), TermInterpret},
		{"CheckHalt", CheckHalt(ReturnToDispatch()), TermCheckHalt},
	}
	for _, tc := range cases {
		if tc.term.Kind != tc.want {
			t.Errorf("%s: Kind = %v, want %v", tc.name, tc.term.Kind, tc.want)
		}
	}
}

func TestIfTerminalCarriesBothBranches(t *testing.T) {
	b := NewBlock(testLoc())
	cond := b.Append(GetZFlag)
	term := If(cond.Arg(), ReturnToDispatch(), PopRSBHint())
	if term.Then.Kind != TermReturnToDispatch || term.Else.Kind != TermPopRSBHint {
		t.Error("If terminal must preserve both branch terminals")
	}
}

func TestRaiseUndefinedReturnsToDispatch(t *testing.T) {
	b := NewBlock(testLoc())
	e := NewEmitter(b)
	term := e.RaiseUndefined(0x07)
	if term.Kind != TermReturnToDispatch {
		t.Errorf("RaiseUndefined terminal = %v, want ReturnToDispatch", term.Kind)
	}
	if b.Len() != 1 || b.Insts[0].Op != ExceptionRaised {
		t.Error("RaiseUndefined must emit exactly one ExceptionRaised instruction")
	}
}

func TestCatalogArityMatchesOpcodeCount(t *testing.T) {
	for op := Opcode(1); op < opcodeCount; op++ {
		if Catalog[op].Name == "" {
			t.Errorf("opcode %d has no catalog entry", op)
		}
	}
}
