package arm64

// Instruction-base constants and the register-field layout below are the
// same shape as _examples/other_examples' jit-arm64 codegen: each 32-bit
// word is an opcode base ORed with Rd/Rn/Rm (or an immediate) shifted into
// their fixed bit positions.
const (
	opAddImm  = 0x91000000
	opSubImm  = 0xD1000000
	opAddsImm = 0xB1000000
	opSubsImm = 0xF1000000
	opAddReg  = 0x8B000000
	opSubReg  = 0xCB000000
	opAddsReg = 0xAB000000
	opSubsReg = 0xEB000000
	opAndReg  = 0x8A000000
	opOrrReg  = 0xAA000000
	opEorReg  = 0xCA000000
	opMul     = 0x9B007C00
	opSDiv    = 0x9AC00C00
	opUDiv    = 0x9AC00800
	opLslReg  = 0x9AC02000
	opLsrReg  = 0x9AC02400
	opAsrReg  = 0x9AC02800
	opRorReg  = 0x9AC02C00
	opMvn     = 0xAA2003E0
	opSubsRegZR = 0xEB00001F // CMP Rn,Rm == SUBS XZR,Rn,Rm

	opB    = 0x14000000
	opBL   = 0x94000000
	opBEQ  = 0x54000000
	opBNE  = 0x54000001
	opBLT  = 0x5400000B
	opBGE  = 0x5400000A
	opBGT  = 0x5400000C
	opBLE  = 0x5400000D
	opCBZ  = 0xB4000000
	opCBNZ = 0xB5000000

	opLdrImm  = 0xF9400000
	opStrImm  = 0xF9000000
	opLdrwImm = 0xB9400000
	opStrwImm = 0xB9000000
	opLdrbImm = 0x39400000
	opStrbImm = 0x39000000
	opLdrhImm = 0x79400000
	opStrhImm = 0x79000000

	opMovzImm = 0xD2800000
	opMovkImm = 0xF2800000
	opRet     = 0xD65F0000
	opBlr     = 0xD63F0000
	opBr      = 0xD61F0000
)

// width clears the sf (bit 31) flag on a 64-bit-form arithmetic opcode base
// to get its 32-bit form, matching the ARM64 encoding where the only
// difference between e.g. ADD (64-bit) and ADD (32-bit) is that bit.
func width(opcode uint32, is64 bool) uint32 {
	if is64 {
		return opcode
	}
	return opcode &^ (1 << 31)
}

func sizeBit64(is64 bool) uint32 {
	if is64 {
		return 1 << 31
	}
	return 0
}

// rrr packs a destination, first-source, and second-source register into
// opcode's Rd/Rn/Rm fields: `opcode | (Rd<<0) | (Rn<<5) | (Rm<<16)`.
func rrr(opcode uint32, rd, rn, rm int) uint32 {
	return opcode | uint32(rd) | uint32(rn)<<5 | uint32(rm)<<16
}

// rri packs a destination, source, and 12-bit unsigned immediate for the
// *_IMM arithmetic forms.
func rri(opcode uint32, rd, rn int, imm12 uint32) uint32 {
	return opcode | uint32(rd) | uint32(rn)<<5 | (imm12&0xFFF)<<10
}

// ldst packs a 64/32/16/8-bit unsigned-offset load/store: Rt, Rn (base),
// and a 12-bit scaled immediate offset.
func ldst(opcode uint32, rt, rn int, scaledOff uint32) uint32 {
	return opcode | uint32(rt) | uint32(rn)<<5 | (scaledOff&0xFFF)<<10
}

// movz packs a MOVZ/MOVK 16-bit immediate into the given 16-bit lane
// (hw selects which of the four 16-bit shifts, 0-3).
func movz(opcode uint32, rd int, imm16 uint16, hw uint32, is64 bool) uint32 {
	return opcode | sizeBit64(is64) | uint32(rd) | uint32(imm16)<<5 | (hw&3)<<21
}

func branchCond(opcode uint32, rt int) uint32 {
	return opcode | uint32(rt)<<5
}
