package frontend

import (
	"github.com/oisee/armjit/pkg/ir"
	"github.com/oisee/armjit/pkg/state"
)

// a32Table holds every ARM (A32, 32-bit-word) pattern this port translates
// directly. Anything that doesn't match falls back to the interpreter
// (decodeA32 below), per spec.md §4.1's InterpreterFallback.
var a32Table table

func init() {
	regDP := func(dpBits uint32, name string, build func(e *ir.IREmitter, rn, op2 ir.Arg) ir.Value, hasRn, hasRd, flagsAlwaysSet bool) {
		// Immediate operand2: cond 00 1 dpBits S Rn Rd rotate_imm imm8
		a32Table.add(0x0FE00000, 0x02000000|dpBits<<21, name+".imm", a32DPImmHandler(build, hasRn, hasRd, flagsAlwaysSet))
		// Register operand2, no shift (shift_imm=0, LSL, bit4=0): the
		// common "Rd = Rn OP Rm" case; a nonzero shift amount doesn't
		// match any entry here and falls back to the interpreter.
		a32Table.add(0x0FE00FF0, 0x00000000|dpBits<<21, name+".reg", a32DPRegHandler(build, hasRn, hasRd, flagsAlwaysSet))
	}

	add := func(e *ir.IREmitter, rn, op2 ir.Arg) ir.Value { return e.Emit(ir.Add32, rn, op2) }
	sub := func(e *ir.IREmitter, rn, op2 ir.Arg) ir.Value { return e.Emit(ir.Sub32, rn, op2) }
	and := func(e *ir.IREmitter, rn, op2 ir.Arg) ir.Value { return e.Emit(ir.And32, rn, op2) }
	orr := func(e *ir.IREmitter, rn, op2 ir.Arg) ir.Value { return e.Emit(ir.Or32, rn, op2) }
	eor := func(e *ir.IREmitter, rn, op2 ir.Arg) ir.Value { return e.Emit(ir.Xor32, rn, op2) }
	mov := func(e *ir.IREmitter, _, op2 ir.Arg) ir.Value { return e.Emit(ir.Or32, op2, ir.ImmU32(0)) }

	// dpBits values per the ARM data-processing opcode field (bits 24:21).
	regDP(0b0100, "ADD", add, true, true, false)
	regDP(0b0010, "SUB", sub, true, true, false)
	regDP(0b0000, "AND", and, true, true, false)
	regDP(0b1100, "ORR", orr, true, true, false)
	regDP(0b0001, "EOR", eor, true, true, false)
	regDP(0b1101, "MOV", mov, false, true, false)
	regDP(0b1010, "CMP", sub, true, false, true) // CMP: S forced to 1, Rd unused

	// B/BL: cond 101 L imm24 (target = PC+8+imm24*4, ARM pipeline offset).
	a32Table.add(0x0E000000, 0x0A000000, "B/BL", a32BranchHandler)

	// BX/BLX (register): cond 0001 0010 1111 1111 1111 000L Rm.
	a32Table.add(0x0FFFFFD0, 0x012FFF10, "BX/BLX", a32BranchExchangeHandler)

	// LDR/STR immediate offset, pre-indexed, no writeback:
	// cond 01 0 P U B 0 L Rn Rt imm12. P=1,W=0 fixed here for the common
	// "[Rn, #imm]" addressing mode; register-offset and writeback forms
	// fall back to the interpreter.
	a32Table.add(0x0F700000, 0x05100000, "LDR.imm", a32LoadStoreImmHandler(true, false))
	a32Table.add(0x0F700000, 0x05000000, "STR.imm", a32LoadStoreImmHandler(false, false))
	a32Table.add(0x0F700000, 0x05500000, "LDRB.imm", a32LoadStoreImmHandler(true, true))
	a32Table.add(0x0F700000, 0x05400000, "STRB.imm", a32LoadStoreImmHandler(false, true))

	// LDREX/STREX word: cond 0001 1001 Rn Rt 1111 1001 1111 / cond 0001
	// 1000 Rn Rd 1111 1001 1001 Rt.
	a32Table.add(0x0FF00FFF, 0x01900F9F, "LDREX", a32LoadExHandler)
	a32Table.add(0x0FF00FF0, 0x01800F90, "STREX", a32StoreExHandler)
}

func a32Cond(word uint32) state.Condition { return state.Condition(word >> 28) }

// a32Guard wraps a handler so that a non-AL condition hands the instruction
// to the interpreter instead: spec.md's representative IR has no way to
// make a single instruction's register/flag writes conditional mid-block
// (Terminal only ever closes out a whole block), so predicated execution of
// a non-branch instruction is exactly the case InterpreterFallback exists
// for. Branches still translate their own condition via buildCondition,
// since a branch's two outcomes are naturally two different terminals.
func a32Guard(inner handlerFunc) handlerFunc {
	return func(e *ir.IREmitter, word uint32) bool {
		cond := a32Cond(word)
		if cond != state.CondAL && cond != state.CondNV {
			e.Terminate(ir.Interpret(e.Location()))
			return false
		}
		return inner(e, word)
	}
}

func rotateRight32(v uint32, n uint) uint32 { return (v >> n) | (v << (32 - n)) }

func a32DPImmHandler(build func(e *ir.IREmitter, rn, op2 ir.Arg) ir.Value, hasRn, hasRd, alwaysFlags bool) handlerFunc {
	return a32Guard(func(e *ir.IREmitter, word uint32) bool {
		s := word&(1<<20) != 0 || alwaysFlags
		rn := (word >> 16) & 0xF
		rd := (word >> 12) & 0xF
		rotImm := (word >> 8) & 0xF
		imm8 := word & 0xFF
		op2 := ir.ImmU32(rotateRight32(imm8, uint(rotImm*2)))

		var rnArg ir.Arg
		if hasRn {
			rnArg = e.Emit(ir.GetRegister, ir.ImmU8(uint8(rn))).Arg()
		}
		result := build(e, rnArg, op2)
		if hasRd {
			e.Emit(ir.SetRegister, ir.ImmU8(uint8(rd)), result.Arg())
		}
		if s {
			setFlagsFromNZCV(e, result)
		}
		e.Advance(4)
		return true
	})
}

func a32DPRegHandler(build func(e *ir.IREmitter, rn, op2 ir.Arg) ir.Value, hasRn, hasRd, alwaysFlags bool) handlerFunc {
	return a32Guard(func(e *ir.IREmitter, word uint32) bool {
		s := word&(1<<20) != 0 || alwaysFlags
		rn := (word >> 16) & 0xF
		rd := (word >> 12) & 0xF
		rm := word & 0xF

		var rnArg ir.Arg
		if hasRn {
			rnArg = e.Emit(ir.GetRegister, ir.ImmU8(uint8(rn))).Arg()
		}
		op2 := e.Emit(ir.GetRegister, ir.ImmU8(uint8(rm))).Arg()
		result := build(e, rnArg, op2)
		if hasRd {
			e.Emit(ir.SetRegister, ir.ImmU8(uint8(rd)), result.Arg())
		}
		if s {
			setFlagsFromNZCV(e, result)
		}
		e.Advance(4)
		return true
	})
}

func a32BranchHandler(e *ir.IREmitter, word uint32) bool {
	cond := a32Cond(word)
	link := word&(1<<24) != 0
	imm24 := int32(word & 0xFFFFFF)
	imm24 <<= 8
	imm24 >>= 8 // sign-extend 24->32
	offset := int64(imm24) * 4

	pc := e.Location().PC()
	target := uint64(int64(pc) + 8 + offset)

	if link {
		e.Emit(ir.SetRegister, ir.ImmU8(14), ir.ImmU64(pc+4))
	}

	fallthroughLoc := e.Location().WithPC(pc + 4)
	targetLoc := e.Location().WithPC(target)
	e.Block.Cycles++

	if cond == state.CondAL || cond == state.CondNV {
		e.Terminate(ir.LinkBlock(targetLoc))
		return false
	}

	condArg := buildCondition(e, cond)
	e.Terminate(ir.If(condArg, ir.LinkBlock(targetLoc), ir.LinkBlock(fallthroughLoc)))
	return false
}

func a32BranchExchangeHandler(e *ir.IREmitter, word uint32) bool {
	cond := a32Cond(word)
	if cond != state.CondAL && cond != state.CondNV {
		e.Terminate(ir.Interpret(e.Location()))
		return false
	}
	link := word&(1<<5) != 0
	rm := word & 0xF
	pc := e.Location().PC()
	if link {
		e.Emit(ir.SetRegister, ir.ImmU8(14), ir.ImmU64(pc+4))
	}
	target := e.Emit(ir.GetRegister, ir.ImmU8(uint8(rm)))
	e.Emit(ir.SetPC, target.Arg())
	e.Block.Cycles++
	e.Terminate(ir.ReturnToDispatch())
	return false
}

func a32LoadStoreImmHandler(load, byteAccess bool) handlerFunc {
	return a32Guard(func(e *ir.IREmitter, word uint32) bool {
		up := word&(1<<23) != 0
		rn := (word >> 16) & 0xF
		rt := (word >> 12) & 0xF
		imm12 := word & 0xFFF

		base := e.Emit(ir.GetRegister, ir.ImmU8(uint8(rn)))
		var addr ir.Value
		if up {
			addr = e.Emit(ir.Add32, base.Arg(), ir.ImmU32(imm12))
		} else {
			addr = e.Emit(ir.Sub32, base.Arg(), ir.ImmU32(imm12))
		}
		addr64 := e.Emit(ir.ZeroExtendToLong, addr.Arg())

		if load {
			var v ir.Value
			if byteAccess {
				v = e.Emit(ir.ReadMemory8, addr64.Arg())
				v = e.Emit(ir.ZeroExtendToWord, v.Arg())
			} else {
				v = e.Emit(ir.ReadMemory32, addr64.Arg())
			}
			e.Emit(ir.SetRegister, ir.ImmU8(uint8(rt)), v.Arg())
		} else {
			v := e.Emit(ir.GetRegister, ir.ImmU8(uint8(rt)))
			if byteAccess {
				e.Emit(ir.WriteMemory8, addr64.Arg(), v.Arg())
			} else {
				e.Emit(ir.WriteMemory32, addr64.Arg(), v.Arg())
			}
		}
		e.Advance(4)
		return true
	})
}

var a32LoadExHandler = a32Guard(func(e *ir.IREmitter, word uint32) bool {
	rn := (word >> 16) & 0xF
	rt := (word >> 12) & 0xF
	addr := e.Emit(ir.GetRegister, ir.ImmU8(uint8(rn)))
	addr64 := e.Emit(ir.ZeroExtendToLong, addr.Arg())
	v := e.Emit(ir.ExclusiveReadMemory32, addr64.Arg())
	e.Emit(ir.SetRegister, ir.ImmU8(uint8(rt)), v.Arg())
	e.Advance(4)
	return true
})

var a32StoreExHandler = a32Guard(func(e *ir.IREmitter, word uint32) bool {
	rn := (word >> 16) & 0xF
	rd := (word >> 12) & 0xF
	rt := word & 0xF
	addr := e.Emit(ir.GetRegister, ir.ImmU8(uint8(rn)))
	addr64 := e.Emit(ir.ZeroExtendToLong, addr.Arg())
	v := e.Emit(ir.GetRegister, ir.ImmU8(uint8(rt)))
	status := e.Emit(ir.ExclusiveWriteMemory32, addr64.Arg(), v.Arg())
	e.Emit(ir.SetRegister, ir.ImmU8(uint8(rd)), status.Arg())
	e.Advance(4)
	return true
})

// decodeA32 looks up word in a32Table, falling back to the interpreter for
// anything unmatched (undecodable or deliberately out of this port's
// representative catalog).
func decodeA32(e *ir.IREmitter, word uint32) bool {
	if ent, ok := a32Table.lookup(word); ok {
		return ent.handler(e, word)
	}
	e.Terminate(ir.Interpret(e.Location()))
	return false
}
