package optimizer

import (
	"testing"

	"github.com/oisee/armjit/pkg/ir"
	"github.com/oisee/armjit/pkg/state"
)

func testLoc() state.Descriptor {
	return state.NewDescriptor(state.ArchA32, 0x1000, false, 0, 0, false, false, false)
}

func TestDeadCodeEliminationRemovesUnusedPureInst(t *testing.T) {
	b := ir.NewBlock(testLoc())
	dead := b.Append(ir.Add32, ir.ImmU32(1), ir.ImmU32(2))
	_ = dead
	b.SetTerminal(ir.ReturnToDispatch())

	if err := DeadCodeElimination(b); err != nil {
		t.Fatalf("DeadCodeElimination: %v", err)
	}
	if b.Len() != 0 {
		t.Errorf("Len() = %d, want 0 after removing the dead Add32", b.Len())
	}
}

func TestDeadCodeEliminationKeepsSideEffectingInst(t *testing.T) {
	b := ir.NewBlock(testLoc())
	b.Append(ir.WriteMemory32, ir.ImmU64(0x2000), ir.ImmU32(7))
	b.SetTerminal(ir.ReturnToDispatch())

	if err := DeadCodeElimination(b); err != nil {
		t.Fatalf("DeadCodeElimination: %v", err)
	}
	if b.Len() != 1 {
		t.Errorf("Len() = %d, want 1 (WriteMemory32 has side effects)", b.Len())
	}
}

func TestDeadCodeEliminationCascadesThroughReverseOrder(t *testing.T) {
	b := ir.NewBlock(testLoc())
	a := b.Append(ir.GetRegister, ir.ImmU8(0))
	sum := b.Append(ir.Add32, a.Arg(), ir.ImmU32(1))
	_ = sum
	b.SetTerminal(ir.ReturnToDispatch())

	if err := DeadCodeElimination(b); err != nil {
		t.Fatalf("DeadCodeElimination: %v", err)
	}
	if b.Len() != 0 {
		t.Errorf("Len() = %d, want 0: removing sum should make GetRegister dead too in the same pass", b.Len())
	}
}

func TestGetSetEliminationForwardsSetToGet(t *testing.T) {
	b := ir.NewBlock(testLoc())
	b.Append(ir.SetRegister, ir.ImmU8(3), ir.ImmU32(42))
	got := b.Append(ir.GetRegister, ir.ImmU8(3))
	used := b.Append(ir.Add32, got.Arg(), ir.ImmU32(0))
	_ = used
	b.SetTerminal(ir.ReturnToDispatch())

	if err := GetSetElimination(b); err != nil {
		t.Fatalf("GetSetElimination: %v", err)
	}
	if got.Inst().Uses() != 0 {
		t.Errorf("GetRegister Uses() = %d, want 0 after forwarding the Set's value", got.Inst().Uses())
	}
	if used.Inst().Args[0].Producer() != nil {
		t.Error("Add32's first arg should now be the immediate 42, not a producer reference")
	}
	if used.Inst().Args[0].ImmU64() != 42 {
		t.Errorf("forwarded value = %d, want 42", used.Inst().Args[0].ImmU64())
	}
}

func TestGetSetEliminationDropsOverwrittenSet(t *testing.T) {
	b := ir.NewBlock(testLoc())
	b.Append(ir.SetRegister, ir.ImmU8(3), ir.ImmU32(1))
	b.Append(ir.SetRegister, ir.ImmU8(3), ir.ImmU32(2))
	b.SetTerminal(ir.ReturnToDispatch())

	if err := GetSetElimination(b); err != nil {
		t.Fatalf("GetSetElimination: %v", err)
	}
	if b.Len() != 1 {
		t.Errorf("Len() = %d, want 1: the first SetRegister is dead, overwritten before any Get", b.Len())
	}
}

func TestGetSetEliminationTracksFlagsIndependentlyOfRegisters(t *testing.T) {
	b := ir.NewBlock(testLoc())
	b.Append(ir.SetZFlag, ir.ImmU1(true))
	z := b.Append(ir.GetZFlag)
	b.Append(ir.SetRegister, ir.ImmU8(0), ir.ImmU32(9))
	r := b.Append(ir.GetRegister, ir.ImmU8(0))
	b.Append(ir.SetCFlag, z.Arg())
	b.Append(ir.SetRegister, ir.ImmU8(1), r.Arg())
	b.SetTerminal(ir.ReturnToDispatch())

	if err := GetSetElimination(b); err != nil {
		t.Fatalf("GetSetElimination: %v", err)
	}
	if z.Inst().Uses() != 0 || r.Inst().Uses() != 0 {
		t.Error("both GetZFlag and GetRegister should have been forwarded away")
	}
}

func TestConstantMemoryReadsFoldsReadOnlyAddress(t *testing.T) {
	mem := fakeMemory{readOnly: map[uint64]bool{0x4000: true}, word32: map[uint64]uint32{0x4000: 0xCAFEBABE}}
	pass := constantMemoryReadsWith(mem)

	b := ir.NewBlock(testLoc())
	read := b.Append(ir.ReadMemory32, ir.ImmU64(0x4000))
	used := b.Append(ir.Add32, read.Arg(), ir.ImmU32(0))
	_ = used
	b.SetTerminal(ir.ReturnToDispatch())

	if err := pass(b); err != nil {
		t.Fatalf("ConstantMemoryReads: %v", err)
	}
	if used.Inst().Args[0].ImmU64() != 0xCAFEBABE {
		t.Errorf("folded value = %#x, want 0xCAFEBABE", used.Inst().Args[0].ImmU64())
	}
}

func TestConstantMemoryReadsSkipsWritableAddress(t *testing.T) {
	mem := fakeMemory{readOnly: map[uint64]bool{}, word32: map[uint64]uint32{0x4000: 0xCAFEBABE}}
	pass := constantMemoryReadsWith(mem)

	b := ir.NewBlock(testLoc())
	read := b.Append(ir.ReadMemory32, ir.ImmU64(0x4000))
	used := b.Append(ir.Add32, read.Arg(), ir.ImmU32(0))
	_ = used
	b.SetTerminal(ir.ReturnToDispatch())

	if err := pass(b); err != nil {
		t.Fatalf("ConstantMemoryReads: %v", err)
	}
	if used.Inst().Args[0].Producer() == nil {
		t.Error("a writable page's read must not be folded")
	}
}

func TestConstantPropagationFoldsArithmetic(t *testing.T) {
	b := ir.NewBlock(testLoc())
	sum := b.Append(ir.Add32, ir.ImmU32(2), ir.ImmU32(3))
	used := b.Append(ir.Or32, sum.Arg(), ir.ImmU32(0))
	_ = used
	b.SetTerminal(ir.ReturnToDispatch())

	if err := ConstantPropagation(b); err != nil {
		t.Fatalf("ConstantPropagation: %v", err)
	}
	if used.Inst().Args[0].ImmU64() != 5 {
		t.Errorf("folded sum = %d, want 5", used.Inst().Args[0].ImmU64())
	}
}

func TestConstantPropagationFoldsNZCVPseudo(t *testing.T) {
	b := ir.NewBlock(testLoc())
	sum := b.Append(ir.Add32, ir.ImmU32(0xFFFFFFFF), ir.ImmU32(1))
	nzcv := b.AppendPseudo(ir.GetNZCVFromOp, sum)
	used := b.Append(ir.And32, nzcv.Arg(), ir.ImmU32(0xFFFFFFFF))
	_ = used
	b.SetTerminal(ir.ReturnToDispatch())

	if err := ConstantPropagation(b); err != nil {
		t.Fatalf("ConstantPropagation: %v", err)
	}
	if used.Inst().Args[0].Producer() != nil {
		t.Fatal("NZCV pseudo should have folded to an immediate")
	}
	const wantZC = state.FlagZ | state.FlagC
	if used.Inst().Args[0].ImmU64() != uint64(wantZC) {
		t.Errorf("folded NZCV = %#x, want Z|C = %#x (0xFFFFFFFF+1 wraps to 0)", used.Inst().Args[0].ImmU64(), wantZC)
	}
}

func TestConstantPropagationFoldsShiftByZeroToIdentity(t *testing.T) {
	b := ir.NewBlock(testLoc())
	x := b.Append(ir.GetRegister, ir.ImmU8(0))
	shifted := b.Append(ir.LogicalShiftLeft32, x.Arg(), ir.ImmU32(0))
	used := b.Append(ir.Or32, shifted.Arg(), ir.ImmU32(0))
	_ = used
	b.SetTerminal(ir.ReturnToDispatch())

	if err := ConstantPropagation(b); err != nil {
		t.Fatalf("ConstantPropagation: %v", err)
	}
	if used.Inst().Args[0].Producer() != x.Inst() {
		t.Error("shift-by-0 should fold to its own first argument")
	}
}

func TestConstantPropagationSkipsShiftByZeroWhenCarryPseudoAttached(t *testing.T) {
	b := ir.NewBlock(testLoc())
	x := b.Append(ir.GetRegister, ir.ImmU8(0))
	shifted := b.Append(ir.LogicalShiftLeft32, x.Arg(), ir.ImmU32(0))
	b.AppendPseudo(ir.GetCarryFromOp, shifted)
	used := b.Append(ir.Or32, shifted.Arg(), ir.ImmU32(0))
	_ = used
	b.SetTerminal(ir.ReturnToDispatch())

	if err := ConstantPropagation(b); err != nil {
		t.Fatalf("ConstantPropagation: %v", err)
	}
	if used.Inst().Args[0].Producer() != shifted.Inst() {
		t.Error("a shift with an attached GetCarryFromOp must not be folded away")
	}
}

func TestConstantPropagationRemovesRedundantCFlagRoundTrip(t *testing.T) {
	b := ir.NewBlock(testLoc())
	c := b.Append(ir.GetCFlag)
	b.Append(ir.SetCFlag, c.Arg())
	b.SetTerminal(ir.ReturnToDispatch())

	if err := ConstantPropagation(b); err != nil {
		t.Fatalf("ConstantPropagation: %v", err)
	}
	if b.Len() != 1 {
		t.Errorf("Len() = %d, want 1: SetCFlag(GetCFlag()) is a no-op round trip", b.Len())
	}
}

func TestPolyfillExpandsRotateWhenEnabled(t *testing.T) {
	b := ir.NewBlock(testLoc())
	x := b.Append(ir.GetRegister, ir.ImmU8(0))
	n := b.Append(ir.GetRegister, ir.ImmU8(1))
	rot := b.Append(ir.RotateRight32, x.Arg(), n.Arg())
	used := b.Append(ir.Or32, rot.Arg(), ir.ImmU32(0))
	_ = used
	b.SetTerminal(ir.ReturnToDispatch())

	pass := PolyfillWith(PolyfillOptions{ExpandRotate: true})
	if err := pass(b); err != nil {
		t.Fatalf("Polyfill: %v", err)
	}
	if used.Inst().Args[0].Producer() == rot.Inst() {
		t.Error("Or32's operand should have been redirected to the expanded OR result")
	}
	if rot.Inst().Uses() != 0 {
		t.Error("the original RotateRight32 should have zero uses after expansion, ready for DeadCodeElimination")
	}
	if err := DeadCodeElimination(b); err != nil {
		t.Fatalf("DeadCodeElimination: %v", err)
	}
	for _, inst := range b.Insts {
		if inst.Op == ir.RotateRight32 {
			t.Error("RotateRight32 should be gone after the follow-up DeadCodeElimination pass")
		}
	}
}

func TestPolyfillLeavesRotateAloneWhenDisabled(t *testing.T) {
	b := ir.NewBlock(testLoc())
	x := b.Append(ir.GetRegister, ir.ImmU8(0))
	n := b.Append(ir.GetRegister, ir.ImmU8(1))
	rot := b.Append(ir.RotateRight32, x.Arg(), n.Arg())
	used := b.Append(ir.Or32, rot.Arg(), ir.ImmU32(0))
	_ = used
	b.SetTerminal(ir.ReturnToDispatch())

	if err := Polyfill(b); err != nil {
		t.Fatalf("Polyfill: %v", err)
	}
	if used.Inst().Args[0].Producer() != rot.Inst() {
		t.Error("Polyfill with no options enabled must not touch RotateRight32")
	}
}

func TestVerifyPassesACleanBlock(t *testing.T) {
	b := ir.NewBlock(testLoc())
	r := b.Append(ir.GetRegister, ir.ImmU8(0))
	b.Append(ir.SetRegister, ir.ImmU8(1), r.Arg())
	b.SetTerminal(ir.ReturnToDispatch())

	if err := Verify(b); err != nil {
		t.Fatalf("Verify on a clean block: %v", err)
	}
}

func TestVerifyRejectsDeadPureInstruction(t *testing.T) {
	b := ir.NewBlock(testLoc())
	b.Append(ir.Add32, ir.ImmU32(1), ir.ImmU32(2))
	b.SetTerminal(ir.ReturnToDispatch())

	if err := Verify(b); err == nil {
		t.Error("Verify must reject a block with an unused, side-effect-free instruction")
	}
}

func TestVerifyRejectsDisallowedPseudoProducer(t *testing.T) {
	b := ir.NewBlock(testLoc())
	reg := b.Append(ir.GetRegister, ir.ImmU8(0))
	// Hand-build a pseudo-op attached to a disallowed producer, bypassing
	// AppendPseudo's own guard, to exercise Verify's independent check.
	inst := &ir.Inst{Op: ir.GetCarryFromOp, Type: ir.TypeU1, Args: []ir.Arg{reg.Arg()}}
	b.Insts = append(b.Insts, inst)
	b.Append(ir.SetRegister, ir.ImmU8(2), ir.ImmU1(false))

	if err := Verify(b); err == nil {
		t.Error("Verify must reject a pseudo-op attached to a non-arithmetic producer")
	}
}

func TestPipelineEndToEndFoldsAndEliminates(t *testing.T) {
	b := ir.NewBlock(testLoc())
	b.Append(ir.SetRegister, ir.ImmU8(0), ir.ImmU32(10))
	v := b.Append(ir.GetRegister, ir.ImmU8(0))
	sum := b.Append(ir.Add32, v.Arg(), ir.ImmU32(5))
	b.Append(ir.SetRegister, ir.ImmU8(1), sum.Arg())
	b.SetTerminal(ir.ReturnToDispatch())

	passes := Pipeline(PolyfillOptions{}, nil, nil)
	if err := Run(b, passes); err != nil {
		t.Fatalf("Pipeline Run: %v", err)
	}
	// Both SetRegisters survive: they write persistent guest register state
	// observable after the block exits, even though nothing reads register
	// 0 again within this block. Everything in between — the GetRegister
	// and the Add32 — should have folded and been swept away.
	if b.Len() != 2 {
		t.Fatalf("Len() = %d, want 2 (SetRegister(0,10) and SetRegister(1,15) survive; GetRegister/Add32 fold away)", b.Len())
	}
	final := b.Insts[1]
	if final.Op != ir.SetRegister || final.Args[1].ImmU64() != 15 {
		t.Errorf("final instruction = %s(%v), want SetRegister(1, 15)", final.Op, final.Args)
	}
}

type fakeMemory struct {
	readOnly map[uint64]bool
	word32   map[uint64]uint32
}

func (f fakeMemory) IsReadOnlyMemory(addr uint64) bool { return f.readOnly[addr] }
func (f fakeMemory) Read8(addr uint64) uint8           { return uint8(f.word32[addr]) }
func (f fakeMemory) Read16(addr uint64) uint16         { return uint16(f.word32[addr]) }
func (f fakeMemory) Read32(addr uint64) uint32         { return f.word32[addr] }
func (f fakeMemory) Read64(addr uint64) uint64         { return uint64(f.word32[addr]) }
