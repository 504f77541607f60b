package frontend

import (
	"github.com/oisee/armjit/pkg/ir"
	"github.com/oisee/armjit/pkg/state"
)

// thumb16Table covers the 16-bit Thumb encodings this port translates
// directly: ADD/SUB/MOV/CMP immediate and low-register forms, unconditional
// and conditional branches, and word/byte immediate-offset load/store.
// Thumb-32 (BL/BLX prefix, most floating point) and IT-block-predicated
// non-branch instructions fall back to the interpreter.
var thumb16Table table

func init() {
	// Format 1: shift by immediate: 000 op(2) imm5(5) Rs(3) Rd(3).
	thumb16Table.add(0xF800, 0x0000, "LSLS.imm5", thumbShiftImm(ir.LogicalShiftLeft32))
	thumb16Table.add(0xF800, 0x0800, "LSRS.imm5", thumbShiftImm(ir.LogicalShiftRight32))
	thumb16Table.add(0xF800, 0x1000, "ASRS.imm5", thumbShiftImm(ir.ArithShiftRight32))

	// Format 2: ADD/SUB (register or 3-bit imm), bits[12:11]=11.
	// ADD Rd,Rs,Rn: 0001100 Rn Rs Rd
	thumb16Table.add(0xFE00, 0x1800, "ADDS.reg", thumbAddSubReg(false))
	// SUB Rd,Rs,Rn: 0001101 Rn Rs Rd
	thumb16Table.add(0xFE00, 0x1A00, "SUBS.reg", thumbAddSubReg(true))
	// ADD Rd,Rs,#imm3: 0001110 imm3 Rs Rd
	thumb16Table.add(0xFE00, 0x1C00, "ADDS.imm3", thumbAddSubImm3(false))
	// SUB Rd,Rs,#imm3: 0001111 imm3 Rs Rd
	thumb16Table.add(0xFE00, 0x1E00, "SUBS.imm3", thumbAddSubImm3(true))

	// Format 3: MOV/CMP/ADD/SUB Rd,#imm8: 001 op Rd imm8
	thumb16Table.add(0xF800, 0x2000, "MOVS.imm8", thumbImm8(thumbImm8Mov))
	thumb16Table.add(0xF800, 0x2800, "CMP.imm8", thumbImm8(thumbImm8Cmp))
	thumb16Table.add(0xF800, 0x3000, "ADDS.imm8", thumbImm8(thumbImm8Add))
	thumb16Table.add(0xF800, 0x3800, "SUBS.imm8", thumbImm8(thumbImm8Sub))

	// Format 9: word/byte load/store, immediate offset: 011 B L imm5 Rb Rd
	thumb16Table.add(0xF800, 0x6000, "STR.imm5", thumbLoadStoreImm5(false, false))
	thumb16Table.add(0xF800, 0x6800, "LDR.imm5", thumbLoadStoreImm5(true, false))
	thumb16Table.add(0xF800, 0x7000, "STRB.imm5", thumbLoadStoreImm5(false, true))
	thumb16Table.add(0xF800, 0x7800, "LDRB.imm5", thumbLoadStoreImm5(true, true))

	// Format 16: conditional branch: 1101 cond imm8 (cond 1110=undefined,
	// 1111=SWI; the handler hands both to the interpreter).
	thumb16Table.add(0xF000, 0xD000, "Bcond", thumbCondBranchHandler)

	// Format 18: unconditional branch: 11100 imm11
	thumb16Table.add(0xF800, 0xE000, "B", thumbBranchHandler)
}

func thumbReg(word uint16, shift uint) uint8 { return uint8((word >> shift) & 0x7) }

// thumbShiftImm builds the handler for Format 1's LSL/LSR/ASR #imm5 Rs, Rd,
// all three sharing the same operand layout and only differing in op.
func thumbShiftImm(op ir.Opcode) handlerFunc {
	return func(e *ir.IREmitter, word32 uint32) bool {
		word := uint16(word32)
		imm5 := uint32((word >> 6) & 0x1F)
		rs := thumbReg(word, 3)
		rd := thumbReg(word, 0)
		a := e.Emit(ir.GetRegister, ir.ImmU8(rs))
		result := e.Emit(op, a.Arg(), ir.ImmU32(imm5))
		e.Emit(ir.SetRegister, ir.ImmU8(rd), result.Arg())
		setFlagsFromNZCV(e, result)
		e.Advance(2)
		return true
	}
}

func thumbAddSubReg(sub bool) handlerFunc {
	return func(e *ir.IREmitter, word32 uint32) bool {
		word := uint16(word32)
		rn := thumbReg(word, 6)
		rs := thumbReg(word, 3)
		rd := thumbReg(word, 0)
		a := e.Emit(ir.GetRegister, ir.ImmU8(rs))
		b := e.Emit(ir.GetRegister, ir.ImmU8(rn))
		var result ir.Value
		if sub {
			result = e.Emit(ir.Sub32, a.Arg(), b.Arg())
		} else {
			result = e.Emit(ir.Add32, a.Arg(), b.Arg())
		}
		e.Emit(ir.SetRegister, ir.ImmU8(rd), result.Arg())
		setFlagsFromNZCV(e, result)
		e.Advance(2)
		return true
	}
}

func thumbAddSubImm3(sub bool) handlerFunc {
	return func(e *ir.IREmitter, word32 uint32) bool {
		word := uint16(word32)
		imm3 := uint32((word >> 6) & 0x7)
		rs := thumbReg(word, 3)
		rd := thumbReg(word, 0)
		a := e.Emit(ir.GetRegister, ir.ImmU8(rs))
		var result ir.Value
		if sub {
			result = e.Emit(ir.Sub32, a.Arg(), ir.ImmU32(imm3))
		} else {
			result = e.Emit(ir.Add32, a.Arg(), ir.ImmU32(imm3))
		}
		e.Emit(ir.SetRegister, ir.ImmU8(rd), result.Arg())
		setFlagsFromNZCV(e, result)
		e.Advance(2)
		return true
	}
}

type thumbImm8Kind uint8

const (
	thumbImm8Mov thumbImm8Kind = iota
	thumbImm8Cmp
	thumbImm8Add
	thumbImm8Sub
)

func thumbImm8(kind thumbImm8Kind) handlerFunc {
	return func(e *ir.IREmitter, word32 uint32) bool {
		word := uint16(word32)
		rd := uint8((word >> 8) & 0x7)
		imm8 := uint32(word & 0xFF)

		var result ir.Value
		writesRd := true
		switch kind {
		case thumbImm8Mov:
			result = e.Emit(ir.Or32, ir.ImmU32(imm8), ir.ImmU32(0))
		case thumbImm8Cmp:
			rdVal := e.Emit(ir.GetRegister, ir.ImmU8(rd))
			result = e.Emit(ir.Sub32, rdVal.Arg(), ir.ImmU32(imm8))
			writesRd = false
		case thumbImm8Add:
			rdVal := e.Emit(ir.GetRegister, ir.ImmU8(rd))
			result = e.Emit(ir.Add32, rdVal.Arg(), ir.ImmU32(imm8))
		case thumbImm8Sub:
			rdVal := e.Emit(ir.GetRegister, ir.ImmU8(rd))
			result = e.Emit(ir.Sub32, rdVal.Arg(), ir.ImmU32(imm8))
		}
		if writesRd {
			e.Emit(ir.SetRegister, ir.ImmU8(rd), result.Arg())
		}
		setFlagsFromNZCV(e, result)
		e.Advance(2)
		return true
	}
}

func thumbLoadStoreImm5(load, byteAccess bool) handlerFunc {
	return func(e *ir.IREmitter, word32 uint32) bool {
		word := uint16(word32)
		imm5 := uint32((word >> 6) & 0x1F)
		rb := thumbReg(word, 3)
		rd := thumbReg(word, 0)
		offset := imm5
		if !byteAccess {
			offset *= 4
		}

		base := e.Emit(ir.GetRegister, ir.ImmU8(rb))
		addr := e.Emit(ir.Add32, base.Arg(), ir.ImmU32(offset))
		addr64 := e.Emit(ir.ZeroExtendToLong, addr.Arg())

		if load {
			var v ir.Value
			if byteAccess {
				v = e.Emit(ir.ReadMemory8, addr64.Arg())
				v = e.Emit(ir.ZeroExtendToWord, v.Arg())
			} else {
				v = e.Emit(ir.ReadMemory32, addr64.Arg())
			}
			e.Emit(ir.SetRegister, ir.ImmU8(rd), v.Arg())
		} else {
			v := e.Emit(ir.GetRegister, ir.ImmU8(rd))
			if byteAccess {
				e.Emit(ir.WriteMemory8, addr64.Arg(), v.Arg())
			} else {
				e.Emit(ir.WriteMemory32, addr64.Arg(), v.Arg())
			}
		}
		e.Advance(2)
		return true
	}
}

func thumbBranchHandler(e *ir.IREmitter, word32 uint32) bool {
	word := uint16(word32)
	imm11 := int32(word & 0x7FF)
	imm11 <<= 21
	imm11 >>= 21 // sign-extend 11->32
	offset := int64(imm11) * 2

	pc := e.Location().PC()
	target := uint64(int64(pc) + 4 + offset)
	e.Block.Cycles++
	e.Terminate(ir.LinkBlock(e.Location().WithPC(target)))
	return false
}

func thumbCondBranchHandler(e *ir.IREmitter, word32 uint32) bool {
	word := uint16(word32)
	cond := state.Condition((word >> 8) & 0xF)
	if cond == state.CondAL || cond == state.CondNV {
		e.Terminate(ir.Interpret(e.Location()))
		return false
	}
	imm8 := int32(int8(word & 0xFF))
	offset := int64(imm8) * 2

	pc := e.Location().PC()
	target := uint64(int64(pc) + 4 + offset)
	fallthroughLoc := e.Location().WithPC(pc + 2)
	targetLoc := e.Location().WithPC(target)
	e.Block.Cycles++

	condArg := buildCondition(e, cond)
	e.Terminate(ir.If(condArg, ir.LinkBlock(targetLoc), ir.LinkBlock(fallthroughLoc)))
	return false
}

// decodeThumb16 looks up a 16-bit Thumb halfword in thumb16Table, falling
// back to the interpreter for unmatched (IT-predicated, Thumb-32-prefix, or
// otherwise out of catalog) encodings.
func decodeThumb16(e *ir.IREmitter, halfword uint16) bool {
	it := e.Location().ITState()
	inITBlock := it&0xF != 0
	if inITBlock {
		// IT-block predication is the Thumb analogue of a conditional
		// A32 instruction; this port hands the whole IT block to the
		// interpreter rather than threading per-instruction predicate
		// state through block splitting (see a32Guard's doc comment).
		e.Terminate(ir.Interpret(e.Location()))
		return false
	}
	if ent, ok := thumb16Table.lookup(uint32(halfword)); ok {
		return ent.handler(e, uint32(halfword))
	}
	e.Terminate(ir.Interpret(e.Location()))
	return false
}
