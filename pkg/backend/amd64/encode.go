package amd64

// rex builds a REX prefix: w selects the 64-bit operand-size override, r/x/b
// are the top bit of the ModRM.reg / SIB.index / ModRM.rm (or opcode+reg)
// fields respectively, needed whenever an operand is R8-R15.
func rex(w, r, x, b bool) byte {
	v := byte(0x40)
	if w {
		v |= 1 << 3
	}
	if r {
		v |= 1 << 2
	}
	if x {
		v |= 1 << 1
	}
	if b {
		v |= 1
	}
	return v
}

func modrmReg(mod, reg, rm int) byte {
	return byte(mod<<6) | byte(reg&7)<<3 | byte(rm&7)
}

func hi(reg int) bool { return reg >= 8 }

func le32(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

func le64(v uint64) []byte {
	return append(le32(uint32(v)), le32(uint32(v>>32))...)
}

// aluOpcode is the two-byte opcode pair (reg<-reg, reg<-imm32 /digit) for a
// System V integer ALU family; each entry mirrors the Intel manual's table.
type aluOpcode struct {
	regReg byte // op r/m64, r64
	digit  int  // /digit extension for the imm32 group-1 opcode 0x81
}

var (
	aluAdd = aluOpcode{regReg: 0x01, digit: 0}
	aluOr  = aluOpcode{regReg: 0x09, digit: 1}
	aluAnd = aluOpcode{regReg: 0x21, digit: 4}
	aluSub = aluOpcode{regReg: 0x29, digit: 5}
	aluXor = aluOpcode{regReg: 0x31, digit: 6}
	aluCmp = aluOpcode{regReg: 0x39, digit: 7}
)

// AluRegReg encodes `op dst, src` (dst op= src): `REX.W op %src,%dst` in
// Intel syntax with an AT&T-ordered ModRM.reg=src, ModRM.rm=dst (the op
// r/m64,r64 direction, i.e. ModRM.reg is the source in this opcode form).
func AluRegReg(op aluOpcode, w bool, dst, src int) []byte {
	return []byte{rex(w, hi(src), false, hi(dst)), op.regReg, modrmReg(3, src, dst)}
}

// MovRegReg encodes `mov dst, src` via `89 /r` (mov r/m64, r64).
func MovRegReg(w bool, dst, src int) []byte {
	return []byte{rex(w, hi(src), false, hi(dst)), 0x89, modrmReg(3, src, dst)}
}

// MovImm64 encodes `movabs dst, imm64` (opcode B8+rd with a REX.W prefix).
func MovImm64(dst int, imm uint64) []byte {
	b := []byte{rex(true, false, false, hi(dst)), 0xB8 + byte(dst&7)}
	return append(b, le64(imm)...)
}

// MovImm32 encodes a 32-bit `mov dst, imm32` (opcode B8+rd, zero-extended
// into the 64-bit register per x86-64's implicit-zero-extension rule).
func MovImm32(dst int, imm uint32) []byte {
	b := []byte{}
	if hi(dst) {
		b = append(b, rex(false, false, false, true))
	}
	b = append(b, 0xB8+byte(dst&7))
	return append(b, le32(imm)...)
}

// ImulRegReg encodes `imul dst, src` (two-byte opcode 0F AF /r, dst = dst*src).
func ImulRegReg(w bool, dst, src int) []byte {
	return []byte{rex(w, hi(dst), false, hi(src)), 0x0F, 0xAF, modrmReg(3, dst, src)}
}

// Cqo sign-extends RAX into RDX:RAX ahead of IDIV.
func Cqo() []byte { return []byte{rex(true, false, false, false), 0x99} }

// IDiv encodes `idiv src` (F7 /7): RDX:RAX / src, quotient in RAX.
func IDiv(w bool, src int) []byte {
	return []byte{rex(w, false, false, hi(src)), 0xF7, modrmReg(3, 7, src)}
}

// Div encodes `div src` (F7 /6), the unsigned counterpart of IDiv.
func Div(w bool, src int) []byte {
	return []byte{rex(w, false, false, hi(src)), 0xF7, modrmReg(3, 6, src)}
}

// ShiftCL encodes a group-2 shift `op dst, cl` (D3 /digit): 4=SHL, 5=SHR, 7=SAR.
func ShiftCL(w bool, digit, dst int) []byte {
	return []byte{rex(w, false, false, hi(dst)), 0xD3, modrmReg(3, digit, dst)}
}

// Neg encodes `neg dst` (F7 /3).
func Neg(w bool, dst int) []byte {
	return []byte{rex(w, false, false, hi(dst)), 0xF7, modrmReg(3, 3, dst)}
}

// Not encodes `not dst` (F7 /2).
func Not(w bool, dst int) []byte {
	return []byte{rex(w, false, false, hi(dst)), 0xF7, modrmReg(3, 2, dst)}
}

// LoadMem encodes `mov dst, [base+disp32]` (8B /r, mod=10).
func LoadMem(w bool, dst, base int, disp32 int32) []byte {
	b := []byte{rex(w, hi(dst), false, hi(base)), 0x8B, modrmReg(2, dst, base)}
	return append(b, le32(uint32(disp32))...)
}

// StoreMem encodes `mov [base+disp32], src` (89 /r, mod=10).
func StoreMem(w bool, base, src int, disp32 int32) []byte {
	b := []byte{rex(w, hi(src), false, hi(base)), 0x89, modrmReg(2, src, base)}
	return append(b, le32(uint32(disp32))...)
}

// JmpRel32 encodes a near unconditional jump with a placeholder (zero)
// rel32 operand at the 4 trailing bytes; the operand starts 1 byte after
// the returned slice's start (opcode E9, 4-byte rel32).
func JmpRel32() []byte { return []byte{0xE9, 0, 0, 0, 0} }

// JccRel32 encodes a near conditional jump (0F 8x) for condition cc (the
// low nibble of the Intel Jcc encoding, e.g. 0x4=JE, 0x5=JNE, 0xC=JL,
// 0xF=JG) with a placeholder rel32 operand.
func JccRel32(cc byte) []byte { return []byte{0x0F, 0x80 | cc, 0, 0, 0, 0} }

// CallReg encodes `call *reg` (FF /2).
func CallReg(reg int) []byte {
	b := []byte{}
	if hi(reg) {
		b = append(b, rex(false, false, false, true))
	}
	return append(b, 0xFF, modrmReg(3, 2, reg))
}

// TestRegReg encodes `test a, a` (85 /r), used to check a value for zero
// ahead of a conditional branch.
func TestRegReg(w bool, a int) []byte {
	return []byte{rex(w, hi(a), false, hi(a)), 0x85, modrmReg(3, a, a)}
}

// Ret encodes `ret`.
func Ret() []byte { return []byte{0xC3} }

const (
	CcE  = 0x4
	CcNE = 0x5
	CcL  = 0xC
	CcGE = 0xD
	CcLE = 0xE
	CcG  = 0xF
)
