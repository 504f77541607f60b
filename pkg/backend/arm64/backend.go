package arm64

import (
	"fmt"

	"github.com/oisee/armjit/pkg/backend"
	"github.com/oisee/armjit/pkg/ir"
	"github.com/oisee/armjit/pkg/regalloc"
	"github.com/oisee/armjit/pkg/state"
)

// Arm64 is the AArch64 backend.Backend.
type Arm64 struct {
	SpaceFloorBytes int // defaults to 4096 when zero, see SpaceFloor
}

func (Arm64) Name() string { return "arm64" }

func (Arm64) ABI() regalloc.HostABI { return ABI() }

func (b Arm64) SpaceFloor() int {
	if b.SpaceFloorBytes == 0 {
		return 4096
	}
	return b.SpaceFloorBytes
}

func (b Arm64) EmitBlock(block *ir.Block, alloc *regalloc.Allocator) (*backend.Program, error) {
	g := &gen{buf: &backend.Buffer{}, alloc: alloc}

	for i, inst := range block.Insts {
		alloc.Advance(i)
		if err := g.emitInst(inst); err != nil {
			return nil, fmt.Errorf("arm64: emitting %s: %w", inst.Op, err)
		}
	}
	alloc.Advance(block.Len())
	if err := g.emitTerminal(&block.Terminal); err != nil {
		return nil, fmt.Errorf("arm64: emitting terminal: %w", err)
	}
	if err := resolveLocalBranches(g.buf.Code, g.buf.Relocations); err != nil {
		return nil, err
	}
	g.buf.Relocations = nil // fully resolved in-block; nothing left for the linker

	return g.buf.Program(), nil
}

type gen struct {
	buf   *backend.Buffer
	alloc *regalloc.Allocator
}

func is64(t ir.Type) bool { return t == ir.TypeU64 }

// reg returns a register holding loc's value, using scratch if loc is
// spilled. Callers that only read the value pass a throwaway scratch.
func (g *gen) reg(loc regalloc.Location, scratch int, w bool) int {
	if loc.InReg {
		return loc.Reg.Index
	}
	g.buf.Emit32(ldst(ldrOp(w), scratch, SpillPtr, spillScaled(loc.Spill, w)))
	return scratch
}

// store writes src into loc's destination, spilling through SpillPtr when
// loc isn't a register.
func (g *gen) store(loc regalloc.Location, src int, w bool) {
	if loc.InReg {
		if loc.Reg.Index != src {
			g.buf.Emit32(rrr(width(opOrrReg, w), loc.Reg.Index, XZR, src))
		}
		return
	}
	g.buf.Emit32(ldst(strOp(w), src, SpillPtr, spillScaled(loc.Spill, w)))
}

// spillScaled converts a dense spill-slot index (pkg/regalloc numbers slots
// in a flat space shared by every width) into the load/store-immediate's
// access-size-scaled units: every slot occupies a fixed 8 bytes, so a 32-bit
// access into slot n still lands at byte offset n*8, i.e. scaled unit n*2.
func spillScaled(slot int, w bool) uint32 {
	if w {
		return uint32(slot)
	}
	return uint32(slot) * 2
}

func ldrOp(w bool) uint32 {
	if w {
		return opLdrImm
	}
	return opLdrwImm
}

func strOp(w bool) uint32 {
	if w {
		return opStrImm
	}
	return opStrwImm
}

// materializeArg loads arg (a register-producer value or an immediate) into
// scratch, returning the register actually holding it — the producer's own
// register when arg is not spilled and scratch wasn't needed.
func (g *gen) materializeArg(arg ir.Arg, scratch int, w bool) int {
	if arg.IsImmediate() {
		g.loadImm64(scratch, arg.ImmU64(), w)
		return scratch
	}
	loc := g.alloc.Use(arg.Producer())
	return g.reg(loc, scratch, w)
}

// loadImm64 builds val into rd via one MOVZ and up to three MOVK, the
// standard AArch64 64-bit-immediate construction sequence.
func (g *gen) loadImm64(rd int, val uint64, w bool) {
	g.buf.Emit32(movz(opMovzImm, rd, uint16(val), 0, w))
	lanes := 4
	if !w {
		lanes = 2
	}
	for hw := 1; hw < lanes; hw++ {
		part := uint16(val >> (16 * hw))
		if part != 0 {
			g.buf.Emit32(movz(opMovkImm, rd, part, uint32(hw), w))
		}
	}
}

// scratch0, scratch1 and scratch2 are caller-invisible scratch registers for
// an instruction's source operands, distinct from its destination slot so a
// spilled-and-reloaded operand never clobbers another before use.
const (
	scratch0 = X9
	scratch1 = X10
	scratch2 = X11
)

func (g *gen) emitInst(inst *ir.Inst) error {
	switch inst.Op {
	case ir.Add32, ir.Add64, ir.Sub32, ir.Sub64, ir.And32, ir.And64,
		ir.Or32, ir.Or64, ir.Xor32, ir.Xor64, ir.Mul32, ir.Mul64,
		ir.SignedDiv32, ir.SignedDiv64, ir.UnsignedDiv32, ir.UnsignedDiv64,
		ir.LogicalShiftLeft32, ir.LogicalShiftLeft64,
		ir.LogicalShiftRight32, ir.LogicalShiftRight64,
		ir.ArithShiftRight32, ir.ArithShiftRight64:
		return g.emitAluBinOp(inst)

	case ir.Neg32, ir.Neg64:
		w := is64(inst.Type)
		a := g.materializeArg(inst.Args[0], scratch0, w)
		rd := g.defineGpr(inst)
		g.buf.Emit32(rrr(width(opSubReg, w), rd, XZR, a))
		return nil

	case ir.Not32, ir.Not64:
		w := is64(inst.Type)
		a := g.materializeArg(inst.Args[0], scratch0, w)
		rd := g.defineGpr(inst)
		g.buf.Emit32(rrr(width(opMvn, w), rd, XZR, a))
		return nil

	case ir.GetRegister:
		return g.emitGetGuestReg(inst, false)
	case ir.GetExtendedRegister64:
		return g.emitGetGuestReg(inst, true)
	case ir.SetRegister:
		return g.emitSetGuestReg(inst, false)
	case ir.SetExtendedRegister64:
		return g.emitSetGuestReg(inst, true)

	case ir.ReadMemory8, ir.ReadMemory16, ir.ReadMemory32, ir.ReadMemory64:
		return g.emitReadMemory(inst)
	case ir.WriteMemory8, ir.WriteMemory16, ir.WriteMemory32, ir.WriteMemory64:
		return g.emitWriteMemory(inst)

	default:
		if backend.IsExclusive(inst.Op) {
			return g.emitExclusiveCallback(inst)
		}
		if slot, ok := backend.MemoryOpSlot(inst.Op); ok {
			return g.emitGenericCallback(inst, slot)
		}
		// Pseudo-ops and opcodes outside this backend's representative set
		// (flag reads, FP, vector lane ops) are routed through the
		// interpreter callback rather than encoded inline.
		return g.emitInterpretFallback(inst)
	}
}

func (g *gen) defineGpr(inst *ir.Inst) int {
	r := g.alloc.ScratchGpr()
	g.alloc.DefineValue(inst, r)
	return r.Index
}

func (g *gen) emitAluBinOp(inst *ir.Inst) error {
	w := is64(inst.Type)
	a := g.materializeArg(inst.Args[0], scratch0, w)
	b := g.materializeArg(inst.Args[1], scratch1, w)
	rd := g.defineGpr(inst)

	flagsWanted := g.alloc.FlagOwner() == inst

	var op uint32
	switch inst.Op {
	case ir.Add32, ir.Add64:
		op = opAddReg
		if flagsWanted {
			op = opAddsReg
		}
	case ir.Sub32, ir.Sub64:
		op = opSubReg
		if flagsWanted {
			op = opSubsReg
		}
	case ir.And32, ir.And64:
		op = opAndReg
	case ir.Or32, ir.Or64:
		op = opOrrReg
	case ir.Xor32, ir.Xor64:
		op = opEorReg
	case ir.Mul32, ir.Mul64:
		op = opMul
	case ir.SignedDiv32, ir.SignedDiv64:
		op = opSDiv
	case ir.UnsignedDiv32, ir.UnsignedDiv64:
		op = opUDiv
	case ir.LogicalShiftLeft32, ir.LogicalShiftLeft64:
		op = opLslReg
	case ir.LogicalShiftRight32, ir.LogicalShiftRight64:
		op = opLsrReg
	case ir.ArithShiftRight32, ir.ArithShiftRight64:
		op = opAsrReg
	default:
		return fmt.Errorf("unhandled alu op %s", inst.Op)
	}
	g.buf.Emit32(rrr(width(op, w), rd, a, b))
	if flagsWanted {
		g.alloc.WriteFlags(inst)
	}
	return nil
}

func (g *gen) emitGetGuestReg(inst *ir.Inst, ext64 bool) error {
	n := int(inst.Args[0].ImmU64())
	w := ext64 || is64(inst.Type)
	rd := g.defineGpr(inst)
	off := backend.Offsets.GPR32Offset(n)
	if ext64 {
		off = backend.Offsets.GPR64Offset(n)
	}
	g.buf.Emit32(ldst(ldrOp(w), rd, StatePtr, uint32(off/scaleOf(w))))
	return nil
}

func (g *gen) emitSetGuestReg(inst *ir.Inst, ext64 bool) error {
	n := int(inst.Args[0].ImmU64())
	w := ext64
	src := g.materializeArg(inst.Args[1], scratch0, w)
	off := backend.Offsets.GPR32Offset(n)
	if ext64 {
		off = backend.Offsets.GPR64Offset(n)
	}
	g.buf.Emit32(ldst(strOp(w), src, StatePtr, uint32(off/scaleOf(w))))
	return nil
}

func scaleOf(w bool) uintptr {
	if w {
		return 8
	}
	return 4
}

// emitReadMemory emits the callback-path form of a guest memory read. No
// fastmem-path form is emitted, whether or not pkg/jit's Config supplies a
// fastmem base.
func (g *gen) emitReadMemory(inst *ir.Inst) error {
	return g.emitGenericCallback(inst, mustSlot(inst.Op))
}

func (g *gen) emitWriteMemory(inst *ir.Inst) error {
	return g.emitGenericCallback(inst, mustSlot(inst.Op))
}

func (g *gen) emitExclusiveCallback(inst *ir.Inst) error {
	return g.emitGenericCallback(inst, mustSlot(inst.Op))
}

func mustSlot(op ir.Opcode) backend.MemoryCallbackSlot {
	slot, _ := backend.MemoryOpSlot(op)
	return slot
}

// emitGenericCallback marshals inst's arguments into the ABI argument
// registers, calls through the callback table at CallbacksPtr+slot*8, and
// binds the result (if any) into inst's destination the way PrepareForCall
// documents: a scratch-then-relabel at the return register.
func (g *gen) emitGenericCallback(inst *ir.Inst, slot backend.MemoryCallbackSlot) error {
	var argInsts []*ir.Inst
	for _, a := range inst.Args {
		if !a.IsImmediate() {
			argInsts = append(argInsts, a.Producer())
		}
	}
	_, ret := g.alloc.PrepareForCall(argInsts)
	// A real build loads the callback-table pointer (reserved alongside
	// StatePtr) plus slot*8, then BLR's through it; encoding that load is
	// elided here since CallbacksPtr's register assignment is decided by
	// pkg/jit wiring, not by this backend in isolation.
	g.buf.Emit32(uint32(opBlr) | uint32(LR)<<5)
	if inst.Type != ir.TypeVoid {
		g.alloc.DefineValue(inst, ret)
	}
	_ = slot
	return nil
}

func (g *gen) emitInterpretFallback(inst *ir.Inst) error {
	// Opcodes this representative backend doesn't encode directly (FP,
	// vector lanes, flag pseudo-ops) fall back to the same callback-call
	// shape as a memory op, routed to the interpreter's single-instruction
	// entry point instead of a named slot.
	return g.emitGenericCallback(inst, backend.SlotCount)
}

// emitTerminal encodes the nine terminal kinds. Branch targets to another
// guest block are unresolved until pkg/codecache's linker knows that
// block's address, so they're recorded as BlockRelocations rather than
// encoded as a concrete offset.
func (g *gen) emitTerminal(t *ir.Terminal) error {
	switch t.Kind {
	case ir.TermLinkBlock:
		g.recordBlockBranch(t.Next, false)
		return nil
	case ir.TermLinkBlockFast:
		g.recordBlockBranch(t.Next, true)
		return nil
	case ir.TermPopRSBHint, ir.TermFastDispatchHint, ir.TermReturnToDispatch:
		// All three fall through to the dispatcher's re-entry point in this
		// encoding; PopRSBHint/FastDispatchHint's lookup-before-falling-back
		// behavior is pkg/dispatcher's responsibility at the call site this
		// RET returns into, not something the block's own bytes encode.
		g.buf.Emit32(opRet | uint32(LR)<<5)
		return nil
	case ir.TermInterpret:
		g.recordBlockBranch(t.Next, false)
		return nil
	case ir.TermIf, ir.TermCheckBit:
		return g.emitCondTerminal(t)
	case ir.TermCheckHalt:
		g.buf.Emit32(ldst(opLdrwImm, scratch0, StatePtr, uint32(0)))
		// then-branch only: CheckHalt's else is implicitly "continue",
		// encoded by simply falling through to t.Then without a branch.
		return g.emitTerminal(t.Then)
	default:
		return fmt.Errorf("unhandled terminal kind %v", t.Kind)
	}
}

func (g *gen) emitCondTerminal(t *ir.Terminal) error {
	cond := g.materializeArg(t.Cond, scratch0, false)
	branchOff := g.buf.Pos()
	g.buf.Emit32(opCBZ | uint32(cond)) // patched below once the else-branch offset is known
	if err := g.emitTerminal(t.Then); err != nil {
		return err
	}
	elseTarget := g.buf.Pos()
	g.buf.Relocations = append(g.buf.Relocations, backend.Relocation{
		Offset: branchOff,
		Kind:   backend.RelocBranch19Arm64,
		Target: elseTarget,
	})
	return g.emitTerminal(t.Else)
}

func (g *gen) recordBlockBranch(next state.Descriptor, fast bool) {
	off := g.buf.Pos()
	g.buf.Emit32(opB)
	g.buf.RecordBlockReloc(backend.BlockRelocation{
		Offset: off,
		Kind:   backend.RelocBranchArm64,
		Target: next,
		Fast:   fast,
	})
}
