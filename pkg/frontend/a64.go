package frontend

import (
	"github.com/oisee/armjit/pkg/ir"
)

// a64Table covers the AArch64 encodings this port translates directly:
// ADD/SUB (shifted register, shift amount 0), MOVZ (hw==0), unconditional
// and conditional branches, CBZ/CBNZ, BR/BLR/RET, LDR/STR unsigned
// immediate offset, and a representative FADD/FSUB/FMUL/FDIV/FCMP/FMOV
// single- and double-precision slice. AArch64 has no general predicated
// non-branch execution, so (unlike A32/Thumb) this table needs no
// interpreter-fallback guard for conditional execution.
var a64Table table

func init() {
	// ADD/SUB (shifted register, shift=0): sf op S 01011 shift 0 Rm imm6 Rn Rd
	const addSubMask = 0xFFE0FC00
	a64Table.add(addSubMask, 0x0B000000, "ADD.W", a64AddSubReg(false, false, 0))
	a64Table.add(addSubMask, 0x8B000000, "ADD.X", a64AddSubReg(false, false, 1))
	a64Table.add(addSubMask, 0x4B000000, "SUB.W", a64AddSubReg(true, false, 0))
	a64Table.add(addSubMask, 0xCB000000, "SUB.X", a64AddSubReg(true, false, 1))
	a64Table.add(addSubMask, 0x2B000000, "ADDS.W", a64AddSubReg(false, true, 0))
	a64Table.add(addSubMask, 0xAB000000, "ADDS.X", a64AddSubReg(false, true, 1))
	a64Table.add(addSubMask, 0x6B000000, "SUBS.W", a64AddSubReg(true, true, 0))
	a64Table.add(addSubMask, 0xEB000000, "SUBS.X", a64AddSubReg(true, true, 1))

	// MOVZ: sf 10 100101 hw imm16 Rd (hw==0 only, representative)
	a64Table.add(0xFFE00000, 0x52800000, "MOVZ.W", a64Movz(0))
	a64Table.add(0xFFE00000, 0xD2800000, "MOVZ.X", a64Movz(1))

	// B/BL: op 00101 imm26
	a64Table.add(0xFC000000, 0x14000000, "B", a64Branch(false))
	a64Table.add(0xFC000000, 0x94000000, "BL", a64Branch(true))

	// B.cond: 0101010 0 imm19 0 cond
	a64Table.add(0xFF000010, 0x54000000, "B.cond", a64CondBranchHandler)

	// CBZ/CBNZ: sf 011010 op imm19 Rt
	a64Table.add(0xFF000000, 0x34000000, "CBZ.W", a64CompareBranch(false, 0))
	a64Table.add(0xFF000000, 0xB4000000, "CBZ.X", a64CompareBranch(false, 1))
	a64Table.add(0xFF000000, 0x35000000, "CBNZ.W", a64CompareBranch(true, 0))
	a64Table.add(0xFF000000, 0xB5000000, "CBNZ.X", a64CompareBranch(true, 1))

	// BR/BLR/RET: 1101011 0 0 op 11111 000000 Rn 00000
	a64Table.add(0xFFFFFC1F, 0xD61F0000, "BR", a64BranchReg(false, false))
	a64Table.add(0xFFFFFC1F, 0xD63F0000, "BLR", a64BranchReg(true, false))
	a64Table.add(0xFFFFFC1F, 0xD65F0000, "RET", a64BranchReg(false, true))

	// LDR/STR unsigned immediate offset (64-bit X, 32-bit W):
	// size 111 0 01 opc imm12 Rn Rt
	a64Table.add(0xFFC00000, 0xB9400000, "LDR.W.imm", a64LoadStoreImm(true, 4))
	a64Table.add(0xFFC00000, 0xB9000000, "STR.W.imm", a64LoadStoreImm(false, 4))
	a64Table.add(0xFFC00000, 0xF9400000, "LDR.X.imm", a64LoadStoreImm(true, 8))
	a64Table.add(0xFFC00000, 0xF9000000, "STR.X.imm", a64LoadStoreImm(false, 8))

	// Representative FP data-processing (2-source): 0001111 0 ptype 1 Rm
	// opcode(4) 10 Rn Rd — ptype bits[23:22] select single(00)/double(01),
	// opcode bits[15:12] select FMUL(0000)/FDIV(0001)/FADD(0010)/FSUB(0011).
	const fp2SrcMask = 0xFFE0FC00
	a64Table.add(fp2SrcMask, 0x1E202800, "FADD.S", a64FpBinary(ir.FPAdd32))
	a64Table.add(fp2SrcMask, 0x1E602800, "FADD.D", a64FpBinary(ir.FPAdd64))
	a64Table.add(fp2SrcMask, 0x1E203800, "FSUB.S", a64FpBinary(ir.FPSub32))
	a64Table.add(fp2SrcMask, 0x1E603800, "FSUB.D", a64FpBinary(ir.FPSub64))
	a64Table.add(fp2SrcMask, 0x1E200800, "FMUL.S", a64FpBinary(ir.FPMul32))
	a64Table.add(fp2SrcMask, 0x1E600800, "FMUL.D", a64FpBinary(ir.FPMul64))
	a64Table.add(fp2SrcMask, 0x1E201800, "FDIV.S", a64FpBinary(ir.FPDiv32))
	a64Table.add(fp2SrcMask, 0x1E601800, "FDIV.D", a64FpBinary(ir.FPDiv64))
	// FMOV (register), 1-source: 0001111 0 ptype 1 000000 10000 Rn Rd.
	a64Table.add(0xFFFFFC00, 0x1E204000, "FMOV.S", a64FpUnary(ir.FPMove32))
	a64Table.add(0xFFFFFC00, 0x1E604000, "FMOV.D", a64FpUnary(ir.FPMove64))
	// FCMP (register-register form): 0001111 0 ptype 1 Rm 00 1000 Rn 01000.
	a64Table.add(0xFFE0FC1F, 0x1E202008, "FCMP.S", a64FpCompare(ir.FPCompare32))
	a64Table.add(0xFFE0FC1F, 0x1E602008, "FCMP.D", a64FpCompare(ir.FPCompare64))
}

func a64Rd(word uint32) uint8 { return uint8(word & 0x1F) }
func a64Rn(word uint32) uint8 { return uint8((word >> 5) & 0x1F) }
func a64Rm(word uint32) uint8 { return uint8((word >> 16) & 0x1F) }

func a64GetReg(e *ir.IREmitter, is64 int, r uint8) ir.Value {
	if r == 31 {
		if is64 == 1 {
			return e.Emit(ir.GetSP)
		}
		v := e.Emit(ir.GetSP)
		return e.Emit(ir.ZeroExtendToWord, v.Arg())
	}
	v := e.Emit(ir.GetRegister, ir.ImmU8(r))
	if is64 == 1 {
		return v
	}
	return e.Emit(ir.ZeroExtendToWord, v.Arg())
}

func a64SetReg(e *ir.IREmitter, r uint8, is64 int, v ir.Value) {
	if r == 31 {
		if is64 == 1 {
			e.Emit(ir.SetSP, v.Arg())
		} else {
			e.Emit(ir.SetSP, e.Emit(ir.ZeroExtendToLong, v.Arg()).Arg())
		}
		return
	}
	if is64 == 1 {
		e.Emit(ir.SetRegister, ir.ImmU8(r), v.Arg())
	} else {
		e.Emit(ir.SetRegister, ir.ImmU8(r), e.Emit(ir.ZeroExtendToLong, v.Arg()).Arg())
	}
}

func a64AddSubReg(sub, setFlags bool, is64 int) handlerFunc {
	return func(e *ir.IREmitter, word uint32) bool {
		rn := a64Rn(word)
		rm := a64Rm(word)
		rd := a64Rd(word)
		a := a64GetReg(e, is64, rn)
		b := a64GetReg(e, is64, rm)

		addOp, subOp := ir.Add32, ir.Sub32
		if is64 == 1 {
			addOp, subOp = ir.Add64, ir.Sub64
		}

		var result ir.Value
		if sub {
			result = e.Emit(subOp, a.Arg(), b.Arg())
		} else {
			result = e.Emit(addOp, a.Arg(), b.Arg())
		}
		a64SetReg(e, rd, is64, result)
		if setFlags {
			setFlagsFromNZCV(e, result)
		}
		e.Advance(4)
		return true
	}
}

func a64Movz(is64 int) handlerFunc {
	return func(e *ir.IREmitter, word uint32) bool {
		rd := a64Rd(word)
		imm16 := uint32((word >> 5) & 0xFFFF)
		var v ir.Value
		if is64 == 1 {
			v = e.Emit(ir.ZeroExtendToLong, ir.ImmU32(imm16))
		} else {
			v = e.Emit(ir.Or32, ir.ImmU32(imm16), ir.ImmU32(0))
		}
		a64SetReg(e, rd, is64, v)
		e.Advance(4)
		return true
	}
}

func a64Branch(link bool) handlerFunc {
	return func(e *ir.IREmitter, word uint32) bool {
		imm26 := int32(word & 0x3FFFFFF)
		imm26 <<= 6
		imm26 >>= 6 // sign-extend 26->32
		offset := int64(imm26) * 4
		pc := e.Location().PC()
		target := uint64(int64(pc) + offset)
		if link {
			e.Emit(ir.SetRegister, ir.ImmU8(30), ir.ImmU64(pc+4))
		}
		e.Block.Cycles++
		e.Terminate(ir.LinkBlock(e.Location().WithPC(target)))
		return false
	}
}

func a64CondBranchHandler(e *ir.IREmitter, word uint32) bool {
	cond := armCondFromA64(word & 0xF)
	imm19 := int32((word >> 5) & 0x7FFFF)
	imm19 <<= 13
	imm19 >>= 13 // sign-extend 19->32
	offset := int64(imm19) * 4
	pc := e.Location().PC()
	target := uint64(int64(pc) + offset)
	fallthroughLoc := e.Location().WithPC(pc + 4)
	targetLoc := e.Location().WithPC(target)
	e.Block.Cycles++

	condArg := buildCondition(e, cond)
	e.Terminate(ir.If(condArg, ir.LinkBlock(targetLoc), ir.LinkBlock(fallthroughLoc)))
	return false
}

func a64CompareBranch(nonZero bool, is64 int) handlerFunc {
	return func(e *ir.IREmitter, word uint32) bool {
		rt := a64Rd(word)
		imm19 := int32((word >> 5) & 0x7FFFF)
		imm19 <<= 13
		imm19 >>= 13
		offset := int64(imm19) * 4
		pc := e.Location().PC()
		target := uint64(int64(pc) + offset)
		fallthroughLoc := e.Location().WithPC(pc + 4)
		targetLoc := e.Location().WithPC(target)

		v := a64GetReg(e, is64, rt)
		// Sub against zero rather than reading v directly: GetNZCVFromOp
		// may only attach to the arithmetic/logical/shift producers
		// ir.AllowsPseudoProducer lists, so the register value has to
		// flow through one of them first.
		var isZero ir.Value
		if is64 == 1 {
			isZero = e.Emit(ir.Sub64, v.Arg(), ir.ImmU64(0))
		} else {
			isZero = e.Emit(ir.Sub32, v.Arg(), ir.ImmU32(0))
		}
		nzcv := e.EmitPseudo(ir.GetNZCVFromOp, isZero)
		z := e.Emit(ir.LogicalShiftRight32, nzcv.Arg(), ir.ImmU32(30))
		z = e.Emit(ir.And32, z.Arg(), ir.ImmU32(1))

		cond := z.Arg()
		if nonZero {
			cond = e.Emit(ir.Xor32, z.Arg(), ir.ImmU32(1)).Arg()
		}
		e.Block.Cycles++
		e.Terminate(ir.If(cond, ir.LinkBlock(targetLoc), ir.LinkBlock(fallthroughLoc)))
		return false
	}
}

func a64BranchReg(link, ret bool) handlerFunc {
	return func(e *ir.IREmitter, word uint32) bool {
		rn := a64Rn(word)
		pc := e.Location().PC()
		if link {
			e.Emit(ir.SetRegister, ir.ImmU8(30), ir.ImmU64(pc+4))
		}
		target := e.Emit(ir.GetRegister, ir.ImmU8(rn))
		e.Emit(ir.SetPC, target.Arg())
		e.Block.Cycles++
		if ret {
			e.Terminate(ir.PopRSBHint())
		} else {
			e.Terminate(ir.ReturnToDispatch())
		}
		return false
	}
}

func a64LoadStoreImm(load bool, size int) handlerFunc {
	return func(e *ir.IREmitter, word uint32) bool {
		rn := a64Rn(word)
		rt := a64Rd(word)
		imm12 := uint32((word >> 10) & 0xFFF) * uint32(size)

		base := e.Emit(ir.GetSP)
		if rn != 31 {
			base = e.Emit(ir.GetRegister, ir.ImmU8(rn))
		}
		addr := e.Emit(ir.Add64, base.Arg(), ir.ImmU64(uint64(imm12)))

		is64 := 0
		if size == 8 {
			is64 = 1
		}
		if load {
			var v ir.Value
			if size == 8 {
				v = e.Emit(ir.ReadMemory64, addr.Arg())
			} else {
				v = e.Emit(ir.ReadMemory32, addr.Arg())
			}
			a64SetReg(e, rt, is64, v)
		} else {
			v := a64GetReg(e, is64, rt)
			if size == 8 {
				e.Emit(ir.WriteMemory64, addr.Arg(), v.Arg())
			} else {
				e.Emit(ir.WriteMemory32, addr.Arg(), v.Arg())
			}
		}
		e.Advance(4)
		return true
	}
}

func a64FpBinary(op ir.Opcode) handlerFunc {
	return func(e *ir.IREmitter, word uint32) bool {
		rn := a64Rn(word)
		rm := a64Rm(word)
		rd := a64Rd(word)
		is64 := op == ir.FPAdd64 || op == ir.FPSub64 || op == ir.FPMul64 || op == ir.FPDiv64
		getOp, setOp := ir.GetExtendedRegister32, ir.SetExtendedRegister32
		if is64 {
			getOp, setOp = ir.GetExtendedRegister64, ir.SetExtendedRegister64
		}
		a := e.Emit(getOp, ir.ImmU8(rn))
		b := e.Emit(getOp, ir.ImmU8(rm))
		result := e.Emit(op, a.Arg(), b.Arg())
		e.Emit(setOp, ir.ImmU8(rd), result.Arg())
		e.Advance(4)
		return true
	}
}

func a64FpUnary(op ir.Opcode) handlerFunc {
	return func(e *ir.IREmitter, word uint32) bool {
		rn := a64Rn(word)
		rd := a64Rd(word)
		is64 := op == ir.FPMove64
		getOp, setOp := ir.GetExtendedRegister32, ir.SetExtendedRegister32
		if is64 {
			getOp, setOp = ir.GetExtendedRegister64, ir.SetExtendedRegister64
		}
		a := e.Emit(getOp, ir.ImmU8(rn))
		result := e.Emit(op, a.Arg())
		e.Emit(setOp, ir.ImmU8(rd), result.Arg())
		e.Advance(4)
		return true
	}
}

func a64FpCompare(op ir.Opcode) handlerFunc {
	return func(e *ir.IREmitter, word uint32) bool {
		rn := a64Rn(word)
		rm := a64Rm(word)
		is64 := op == ir.FPCompare64
		getOp := ir.GetExtendedRegister32
		if is64 {
			getOp = ir.GetExtendedRegister64
		}
		a := e.Emit(getOp, ir.ImmU8(rn))
		b := e.Emit(getOp, ir.ImmU8(rm))
		result := e.Emit(op, a.Arg(), b.Arg())
		setFlagsFromNZCV(e, result)
		e.Advance(4)
		return true
	}
}

// decodeA64 looks up word in a64Table, falling back to the interpreter for
// anything unmatched.
func decodeA64(e *ir.IREmitter, word uint32) bool {
	if ent, ok := a64Table.lookup(word); ok {
		return ent.handler(e, word)
	}
	e.Terminate(ir.Interpret(e.Location()))
	return false
}
