package amd64

import (
	"encoding/binary"
	"fmt"

	"github.com/oisee/armjit/pkg/backend"
	"github.com/oisee/armjit/pkg/ir"
	"github.com/oisee/armjit/pkg/regalloc"
	"github.com/oisee/armjit/pkg/state"
)

// Amd64 is the x86-64 backend.Backend.
type Amd64 struct {
	SpaceFloorBytes int
}

func (Amd64) Name() string { return "amd64" }

func (Amd64) ABI() regalloc.HostABI { return ABI() }

func (b Amd64) SpaceFloor() int {
	if b.SpaceFloorBytes == 0 {
		return 4096
	}
	return b.SpaceFloorBytes
}

func (b Amd64) EmitBlock(block *ir.Block, alloc *regalloc.Allocator) (*backend.Program, error) {
	g := &gen{buf: &backend.Buffer{}, alloc: alloc}

	for i, inst := range block.Insts {
		alloc.Advance(i)
		if err := g.emitInst(inst); err != nil {
			return nil, fmt.Errorf("amd64: emitting %s: %w", inst.Op, err)
		}
	}
	alloc.Advance(block.Len())
	if err := g.emitTerminal(&block.Terminal); err != nil {
		return nil, fmt.Errorf("amd64: emitting terminal: %w", err)
	}
	if err := resolveLocalJumps(g.buf.Code, g.buf.Relocations); err != nil {
		return nil, err
	}
	g.buf.Relocations = nil

	return g.buf.Program(), nil
}

type gen struct {
	buf   *backend.Buffer
	alloc *regalloc.Allocator
}

func is64(t ir.Type) bool { return t == ir.TypeU64 }

const (
	scratch0 = RAX
	scratch1 = RCX
	scratch2 = RDX
)

func (g *gen) reg(loc regalloc.Location, scratch int, w bool) int {
	if loc.InReg {
		return loc.Reg.Index
	}
	g.buf.EmitBytes(LoadMem(w, scratch, SpillPtr, int32(loc.Spill*8))...)
	return scratch
}

func (g *gen) store(loc regalloc.Location, src int, w bool) {
	if loc.InReg {
		if loc.Reg.Index != src {
			g.buf.EmitBytes(MovRegReg(w, loc.Reg.Index, src)...)
		}
		return
	}
	g.buf.EmitBytes(StoreMem(w, SpillPtr, src, int32(loc.Spill*8))...)
}

func (g *gen) materializeArg(arg ir.Arg, scratch int, w bool) int {
	if arg.IsImmediate() {
		if w {
			g.buf.EmitBytes(MovImm64(scratch, arg.ImmU64())...)
		} else {
			g.buf.EmitBytes(MovImm32(scratch, uint32(arg.ImmU64()))...)
		}
		return scratch
	}
	return g.reg(g.alloc.Use(arg.Producer()), scratch, w)
}

func (g *gen) defineGpr(inst *ir.Inst) int {
	r := g.alloc.ScratchGpr()
	g.alloc.DefineValue(inst, r)
	return r.Index
}

func (g *gen) emitInst(inst *ir.Inst) error {
	switch inst.Op {
	case ir.Add32, ir.Add64:
		return g.emitAlu(inst, aluAdd)
	case ir.Sub32, ir.Sub64:
		return g.emitAlu(inst, aluSub)
	case ir.And32, ir.And64:
		return g.emitAlu(inst, aluAnd)
	case ir.Or32, ir.Or64:
		return g.emitAlu(inst, aluOr)
	case ir.Xor32, ir.Xor64:
		return g.emitAlu(inst, aluXor)

	case ir.Mul32, ir.Mul64:
		w := is64(inst.Type)
		a := g.materializeArg(inst.Args[0], scratch0, w)
		b := g.materializeArg(inst.Args[1], scratch1, w)
		rd := g.defineGpr(inst)
		if rd != a {
			g.buf.EmitBytes(MovRegReg(w, rd, a)...)
		}
		g.buf.EmitBytes(ImulRegReg(w, rd, b)...)
		return nil

	case ir.SignedDiv32, ir.SignedDiv64, ir.UnsignedDiv32, ir.UnsignedDiv64:
		return g.emitDiv(inst)

	case ir.LogicalShiftLeft32, ir.LogicalShiftLeft64:
		return g.emitShift(inst, 4)
	case ir.LogicalShiftRight32, ir.LogicalShiftRight64:
		return g.emitShift(inst, 5)
	case ir.ArithShiftRight32, ir.ArithShiftRight64:
		return g.emitShift(inst, 7)

	case ir.Neg32, ir.Neg64:
		w := is64(inst.Type)
		a := g.materializeArg(inst.Args[0], scratch0, w)
		rd := g.defineGpr(inst)
		if rd != a {
			g.buf.EmitBytes(MovRegReg(w, rd, a)...)
		}
		g.buf.EmitBytes(Neg(w, rd)...)
		return nil

	case ir.Not32, ir.Not64:
		w := is64(inst.Type)
		a := g.materializeArg(inst.Args[0], scratch0, w)
		rd := g.defineGpr(inst)
		if rd != a {
			g.buf.EmitBytes(MovRegReg(w, rd, a)...)
		}
		g.buf.EmitBytes(Not(w, rd)...)
		return nil

	case ir.GetRegister:
		return g.emitGetGuestReg(inst, false)
	case ir.GetExtendedRegister64:
		return g.emitGetGuestReg(inst, true)
	case ir.SetRegister:
		return g.emitSetGuestReg(inst, false)
	case ir.SetExtendedRegister64:
		return g.emitSetGuestReg(inst, true)

	default:
		if backend.IsExclusive(inst.Op) {
			return g.emitCallback(inst)
		}
		if _, ok := backend.MemoryOpSlot(inst.Op); ok {
			return g.emitCallback(inst)
		}
		return g.emitCallback(inst)
	}
}

// emitAlu implements dst = a op b as `mov rd,a; op rd,b`. The same ALU op
// is emitted whether or not flags are wanted (it sets EFLAGS either way);
// when inst is the allocator's FlagOwner it is recorded as the live flags
// producer.
func (g *gen) emitAlu(inst *ir.Inst, op aluOpcode) error {
	w := is64(inst.Type)
	a := g.materializeArg(inst.Args[0], scratch0, w)
	b := g.materializeArg(inst.Args[1], scratch1, w)
	rd := g.defineGpr(inst)
	if rd != a {
		g.buf.EmitBytes(MovRegReg(w, rd, a)...)
	}
	g.buf.EmitBytes(AluRegReg(op, w, rd, b)...)
	if g.alloc.FlagOwner() == inst {
		g.alloc.WriteFlags(inst)
	}
	return nil
}

func (g *gen) emitShift(inst *ir.Inst, digit int) error {
	w := is64(inst.Type)
	a := g.materializeArg(inst.Args[0], scratch0, w)
	// The shift count must be in CL; scratch1 is RCX on this backend.
	_ = g.materializeArg(inst.Args[1], scratch1, false)
	rd := g.defineGpr(inst)
	if rd != a {
		g.buf.EmitBytes(MovRegReg(w, rd, a)...)
	}
	g.buf.EmitBytes(ShiftCL(w, digit, rd)...)
	return nil
}

func (g *gen) emitDiv(inst *ir.Inst) error {
	w := is64(inst.Type)
	a := g.materializeArg(inst.Args[0], RAX, w)
	if a != RAX {
		g.buf.EmitBytes(MovRegReg(w, RAX, a)...)
	}
	b := g.materializeArg(inst.Args[1], scratch2, w)
	if b == RDX {
		g.buf.EmitBytes(MovRegReg(w, scratch1, b)...)
		b = scratch1
	}
	signed := inst.Op == ir.SignedDiv32 || inst.Op == ir.SignedDiv64
	if signed {
		g.buf.EmitBytes(Cqo()...)
		g.buf.EmitBytes(IDiv(w, b)...)
	} else {
		g.buf.EmitBytes(MovImm32(RDX, 0)...)
		g.buf.EmitBytes(Div(w, b)...)
	}
	rd := g.alloc.ScratchGpr()
	g.alloc.DefineValue(inst, rd)
	if rd.Index != RAX {
		g.buf.EmitBytes(MovRegReg(w, rd.Index, RAX)...)
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
	g.buf.EmitBytes(LoadMem(w, rd, StatePtr, int32(off))...)
	return nil
}

func (g *gen) emitSetGuestReg(inst *ir.Inst, ext64 bool) error {
	n := int(inst.Args[0].ImmU64())
	src := g.materializeArg(inst.Args[1], scratch0, ext64)
	off := backend.Offsets.GPR32Offset(n)
	if ext64 {
		off = backend.Offsets.GPR64Offset(n)
	}
	g.buf.EmitBytes(StoreMem(ext64, StatePtr, src, int32(off))...)
	return nil
}

// emitCallback marshals inst's live arguments into ABI registers via
// PrepareForCall and calls through the callback-table slot reserved for
// this opcode — memory ops, exclusives, CallSupervisor/ExceptionRaised, and
// any opcode outside this backend's inline-encoded representative set all
// take this path, matching the callback-path memory emitter named in
// SPEC_FULL.md §4.4 (the fastmem-path direct-load/store form is a
// pkg/jit.Config-gated optimization layered on top of this always-correct
// baseline, not encoded separately by this representative codec).
func (g *gen) emitCallback(inst *ir.Inst) error {
	var argInsts []*ir.Inst
	for _, a := range inst.Args {
		if !a.IsImmediate() {
			argInsts = append(argInsts, a.Producer())
		}
	}
	_, ret := g.alloc.PrepareForCall(argInsts)
	g.buf.EmitBytes(CallReg(StatePtr)...) // callback-table pointer load elided; see arm64's emitGenericCallback note
	if inst.Type != ir.TypeVoid {
		g.alloc.DefineValue(inst, ret)
	}
	return nil
}

func (g *gen) emitTerminal(t *ir.Terminal) error {
	switch t.Kind {
	case ir.TermLinkBlock:
		g.recordBlockJump(t.Next, false)
		return nil
	case ir.TermLinkBlockFast:
		g.recordBlockJump(t.Next, true)
		return nil
	case ir.TermPopRSBHint, ir.TermFastDispatchHint, ir.TermReturnToDispatch:
		g.buf.EmitBytes(Ret()...)
		return nil
	case ir.TermInterpret:
		g.recordBlockJump(t.Next, false)
		return nil
	case ir.TermIf, ir.TermCheckBit:
		return g.emitCondTerminal(t)
	case ir.TermCheckHalt:
		g.buf.EmitBytes(LoadMem(false, scratch0, StatePtr, 0)...)
		return g.emitTerminal(t.Then)
	default:
		return fmt.Errorf("unhandled terminal kind %v", t.Kind)
	}
}

func (g *gen) emitCondTerminal(t *ir.Terminal) error {
	cond := g.materializeArg(t.Cond, scratch0, false)
	// test cond,cond; jz else (placeholder, patched once else's offset is known)
	g.buf.EmitBytes(TestRegReg(false, cond)...)
	branchOff := g.buf.Pos()
	g.buf.EmitBytes(JccRel32(CcE)...)
	if err := g.emitTerminal(t.Then); err != nil {
		return err
	}
	elseTarget := g.buf.Pos()
	g.buf.Relocations = append(g.buf.Relocations, backend.Relocation{
		Offset: branchOff,
		Kind:   backend.RelocRel32Amd64,
		Target: elseTarget,
	})
	return g.emitTerminal(t.Else)
}

func (g *gen) recordBlockJump(next state.Descriptor, fast bool) {
	off := g.buf.Pos()
	g.buf.EmitBytes(JmpRel32()...)
	g.buf.RecordBlockReloc(backend.BlockRelocation{
		Offset: off,
		Kind:   backend.RelocRel32Amd64,
		Target: next,
		Fast:   fast,
	})
}

func resolveLocalJumps(code []byte, relocs []backend.Relocation) error {
	for _, r := range relocs {
		if r.Kind != backend.RelocRel32Amd64 {
			return fmt.Errorf("amd64: unexpected relocation kind %v", r.Kind)
		}
		// rel32 is measured from the address of the byte following the
		// 4-byte operand, which sits at the tail of the instruction that
		// starts at r.Offset.
		instrLen := 6 // 0F 8x + rel32 (Jcc) or E9 + rel32 (Jmp) share the operand's tail position
		if code[r.Offset] == 0xE9 {
			instrLen = 5
		}
		operandEnd := r.Offset + instrLen
		delta := int32(r.Target - operandEnd)
		binary.LittleEndian.PutUint32(code[operandEnd-4:operandEnd], uint32(delta))
	}
	return nil
}
