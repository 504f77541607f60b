package optimizer

import (
	"math/bits"

	"github.com/oisee/armjit/pkg/fp"
	"github.com/oisee/armjit/pkg/ir"
	"github.com/oisee/armjit/pkg/state"
)

// ConstantPropagation folds arithmetic, bitwise, shift, pack/unpack, and FP
// ops whose arguments are all compile-time constants, plus a small set of
// identity reductions (shift/rotate by 0), propagating the associated
// carry/overflow/NZCV pseudo-ops along with the arithmetic that produced
// them (spec.md §4.2 step 5, grounded on
// original_source/src/ir_opt/constant_propagation_pass.cpp).
//
// Carry/NZCV pseudo-op folding is implemented only for Add32/64 and Sub32/64
// producers, where state.AddWithFlags/SubWithFlags (and their 64-bit
// analogues below) give an exact answer; a shift/rotate with any of
// GetCarryFromOp/GetOverflowFromOp/GetNZCVFromOp/GetGEFromOp attached is
// left untouched even when its operands are constant — this catalog's
// 2-arg shift opcodes have no carry-in operand to preserve across a
// shift-by-0 fold, unlike dynarmic's 3-arg LogicalShiftLeft/etc
// (documented in DESIGN.md as an accepted simplification).
func ConstantPropagation(block *ir.Block) error {
	for _, inst := range append([]*ir.Inst(nil), block.Insts...) {
		switch inst.Op {
		case ir.SetCFlag:
			if p := inst.Args[0].Producer(); p != nil && p.Op == ir.GetCFlag {
				block.Remove(inst)
			}

		case ir.LogicalShiftLeft32, ir.LogicalShiftRight32, ir.ArithShiftRight32, ir.RotateRight32:
			foldShift32(block, inst)
		case ir.LogicalShiftLeft64, ir.LogicalShiftRight64, ir.ArithShiftRight64, ir.RotateRight64:
			foldShift64(block, inst)

		case ir.Add32:
			foldAddSub32(block, inst, true)
		case ir.Sub32:
			foldAddSub32(block, inst, false)
		case ir.Add64:
			foldAddSub64(block, inst, true)
		case ir.Sub64:
			foldAddSub64(block, inst, false)

		case ir.Mul32:
			foldBin32(block, inst, func(a, b uint32) uint32 { return a * b })
		case ir.Mul64:
			foldBin64(block, inst, func(a, b uint64) uint64 { return a * b })
		case ir.And32:
			foldBin32(block, inst, func(a, b uint32) uint32 { return a & b })
		case ir.And64:
			foldBin64(block, inst, func(a, b uint64) uint64 { return a & b })
		case ir.Or32:
			foldBin32(block, inst, func(a, b uint32) uint32 { return a | b })
		case ir.Or64:
			foldBin64(block, inst, func(a, b uint64) uint64 { return a | b })
		case ir.Xor32:
			foldBin32(block, inst, func(a, b uint32) uint32 { return a ^ b })
		case ir.Xor64:
			foldBin64(block, inst, func(a, b uint64) uint64 { return a ^ b })

		case ir.Neg32:
			foldUnary32(block, inst, func(a uint32) uint32 { return -a })
		case ir.Neg64:
			foldUnary64(block, inst, func(a uint64) uint64 { return -a })
		case ir.Not32:
			foldUnary32(block, inst, func(a uint32) uint32 { return ^a })
		case ir.Not64:
			foldUnary64(block, inst, func(a uint64) uint64 { return ^a })
		case ir.ByteReverseWord:
			foldUnary32(block, inst, bits.ReverseBytes32)
		case ir.CountLeadingZeros32:
			foldUnary32(block, inst, func(a uint32) uint32 { return uint32(bits.LeadingZeros32(a)) })

		case ir.ZeroExtendToWord:
			foldExtend(block, inst, func(a ir.Arg) ir.Arg { return ir.ImmU32(uint32(a.ImmU64())) })
		case ir.ZeroExtendToLong:
			foldExtend(block, inst, func(a ir.Arg) ir.Arg { return ir.ImmU64(a.ImmU64()) })
		case ir.SignExtendToWord:
			foldExtend(block, inst, func(a ir.Arg) ir.Arg { return ir.ImmU32(uint32(signExtend(a))) })
		case ir.SignExtendToLong:
			foldExtend(block, inst, func(a ir.Arg) ir.Arg { return ir.ImmU64(signExtend(a)) })

		case ir.Pack2x32To1x64:
			if allImmediate(inst) {
				lo := uint64(uint32(inst.Args[0].ImmU64()))
				hi := uint64(uint32(inst.Args[1].ImmU64()))
				block.ReplaceUses(inst, ir.ImmU64(lo|hi<<32))
			}

		case ir.FPAdd32:
			foldFP32(block, inst, fp.Add32)
		case ir.FPSub32:
			foldFP32(block, inst, fp.Sub32)
		case ir.FPMul32:
			foldFP32(block, inst, fp.Mul32)
		case ir.FPDiv32:
			foldFP32(block, inst, fp.Div32)
		case ir.FPAdd64:
			foldFP64(block, inst, fp.Add64)
		case ir.FPSub64:
			foldFP64(block, inst, fp.Sub64)
		case ir.FPMul64:
			foldFP64(block, inst, fp.Mul64)
		case ir.FPDiv64:
			foldFP64(block, inst, fp.Div64)
		}
	}
	return nil
}

func allImmediate(inst *ir.Inst) bool {
	for _, a := range inst.Args {
		if !a.IsImmediate() {
			return false
		}
	}
	return true
}

// signExtend widens a's low a.Type()-width bits as a two's-complement
// signed value into a full 64-bit field.
func signExtend(a ir.Arg) uint64 {
	v := a.ImmU64()
	switch a.Type() {
	case ir.TypeU8:
		return uint64(int64(int8(v)))
	case ir.TypeU16:
		return uint64(int64(int16(v)))
	case ir.TypeU32:
		return uint64(int64(int32(v)))
	default:
		return v
	}
}

func foldExtend(block *ir.Block, inst *ir.Inst, f func(ir.Arg) ir.Arg) {
	if !allImmediate(inst) {
		return
	}
	block.ReplaceUses(inst, f(inst.Args[0]))
}

func foldUnary32(block *ir.Block, inst *ir.Inst, f func(uint32) uint32) {
	if !allImmediate(inst) {
		return
	}
	block.ReplaceUses(inst, ir.ImmU32(f(uint32(inst.Args[0].ImmU64()))))
}

func foldUnary64(block *ir.Block, inst *ir.Inst, f func(uint64) uint64) {
	if !allImmediate(inst) {
		return
	}
	block.ReplaceUses(inst, ir.ImmU64(f(inst.Args[0].ImmU64())))
}

func foldBin32(block *ir.Block, inst *ir.Inst, f func(a, b uint32) uint32) {
	if !allImmediate(inst) {
		return
	}
	a := uint32(inst.Args[0].ImmU64())
	b := uint32(inst.Args[1].ImmU64())
	block.ReplaceUses(inst, ir.ImmU32(f(a, b)))
}

func foldBin64(block *ir.Block, inst *ir.Inst, f func(a, b uint64) uint64) {
	if !allImmediate(inst) {
		return
	}
	block.ReplaceUses(inst, ir.ImmU64(f(inst.Args[0].ImmU64(), inst.Args[1].ImmU64())))
}

// findPseudoUser returns the block's instruction (if any) of kind pseudoOp
// whose sole argument is producer's result — the closest equivalent this
// port has to dynarmic's Inst::GetAssociatedPseudoOperation, since this
// catalog doesn't keep a back-reference from a producer to its pseudo-op
// users.
func findPseudoUser(block *ir.Block, producer *ir.Inst, pseudoOp ir.Opcode) *ir.Inst {
	for _, inst := range block.Insts {
		if inst.Op == pseudoOp && inst.Args[0].Producer() == producer {
			return inst
		}
	}
	return nil
}

func hasAnyPseudoUser(block *ir.Block, producer *ir.Inst) bool {
	for _, op := range []ir.Opcode{ir.GetCarryFromOp, ir.GetOverflowFromOp, ir.GetNZCVFromOp, ir.GetGEFromOp} {
		if findPseudoUser(block, producer, op) != nil {
			return true
		}
	}
	return false
}

func foldShift32(block *ir.Block, inst *ir.Inst) {
	if hasAnyPseudoUser(block, inst) {
		return
	}
	amount := inst.Args[1]
	if amount.IsImmediate() && amount.ImmU64() == 0 {
		block.ReplaceUses(inst, inst.Args[0])
		return
	}
	if !allImmediate(inst) {
		return
	}
	x, n := uint32(inst.Args[0].ImmU64()), uint(inst.Args[1].ImmU64())
	block.ReplaceUses(inst, ir.ImmU32(shift32(inst.Op, x, n)))
}

func foldShift64(block *ir.Block, inst *ir.Inst) {
	if hasAnyPseudoUser(block, inst) {
		return
	}
	amount := inst.Args[1]
	if amount.IsImmediate() && amount.ImmU64() == 0 {
		block.ReplaceUses(inst, inst.Args[0])
		return
	}
	if !allImmediate(inst) {
		return
	}
	x, n := inst.Args[0].ImmU64(), uint(inst.Args[1].ImmU64())
	block.ReplaceUses(inst, ir.ImmU64(shift64(inst.Op, x, n)))
}

func shift32(op ir.Opcode, x uint32, n uint) uint32 {
	switch op {
	case ir.LogicalShiftLeft32:
		if n >= 32 {
			return 0
		}
		return x << n
	case ir.LogicalShiftRight32:
		if n >= 32 {
			return 0
		}
		return x >> n
	case ir.ArithShiftRight32:
		if n >= 32 {
			n = 31
		}
		return uint32(int32(x) >> n)
	case ir.RotateRight32:
		return bits.RotateLeft32(x, -int(n%32))
	default:
		return x
	}
}

func shift64(op ir.Opcode, x uint64, n uint) uint64 {
	switch op {
	case ir.LogicalShiftLeft64:
		if n >= 64 {
			return 0
		}
		return x << n
	case ir.LogicalShiftRight64:
		if n >= 64 {
			return 0
		}
		return x >> n
	case ir.ArithShiftRight64:
		if n >= 64 {
			n = 63
		}
		return uint64(int64(x) >> n)
	case ir.RotateRight64:
		return bits.RotateLeft64(x, -int(n%64))
	default:
		return x
	}
}

// addWithFlags64/subWithFlags64 are Add64/Sub64's NZCV-computing analogues
// of state.AddWithFlags/SubWithFlags, hand-ported to 64 bits via math/bits
// since this port's state package only carries the 32-bit A32 version.
func addWithFlags64(a, b uint64, carryIn bool) (result uint64, nzcv uint32) {
	var c uint64
	if carryIn {
		c = 1
	}
	sum, carryOut1 := bits.Add64(a, b, 0)
	sum, carryOut2 := bits.Add64(sum, c, 0)
	carryOut := carryOut1 != 0 || carryOut2 != 0
	signA, signB, signR := a>>63, b>>63, sum>>63
	overflow := signA == signB && signR != signA
	return sum, packNZCV(sum>>63 != 0, sum == 0, carryOut, overflow)
}

func subWithFlags64(a, b uint64, carryIn bool) (result uint64, nzcv uint32) {
	result, nzcv = addWithFlags64(a, ^b, carryIn)
	return
}

func packNZCV(n, z, c, v bool) uint32 {
	var out uint32
	if n {
		out |= state.FlagN
	}
	if z {
		out |= state.FlagZ
	}
	if c {
		out |= state.FlagC
	}
	if v {
		out |= state.FlagV
	}
	return out
}

func foldAddSub32(block *ir.Block, inst *ir.Inst, add bool) {
	if !allImmediate(inst) {
		return
	}
	a, b := uint32(inst.Args[0].ImmU64()), uint32(inst.Args[1].ImmU64())
	var result, nzcv uint32
	if add {
		result, nzcv = state.AddWithFlags(a, b, false)
	} else {
		result, nzcv = state.SubWithFlags(a, b, true)
	}
	applyAddSubPseudos(block, inst, nzcv)
	block.ReplaceUses(inst, ir.ImmU32(result))
}

func foldAddSub64(block *ir.Block, inst *ir.Inst, add bool) {
	if !allImmediate(inst) {
		return
	}
	a, b := inst.Args[0].ImmU64(), inst.Args[1].ImmU64()
	var result uint64
	var nzcv uint32
	if add {
		result, nzcv = addWithFlags64(a, b, false)
	} else {
		result, nzcv = subWithFlags64(a, b, true)
	}
	applyAddSubPseudos(block, inst, nzcv)
	block.ReplaceUses(inst, ir.ImmU64(result))
}

func applyAddSubPseudos(block *ir.Block, producer *ir.Inst, nzcv uint32) {
	if u := findPseudoUser(block, producer, ir.GetNZCVFromOp); u != nil {
		block.ReplaceUses(u, ir.ImmU32(nzcv))
	}
	if u := findPseudoUser(block, producer, ir.GetCarryFromOp); u != nil {
		block.ReplaceUses(u, ir.ImmU1(nzcv&state.FlagC != 0))
	}
	if u := findPseudoUser(block, producer, ir.GetOverflowFromOp); u != nil {
		block.ReplaceUses(u, ir.ImmU1(nzcv&state.FlagV != 0))
	}
}

func foldFP32(block *ir.Block, inst *ir.Inst, op func(a, b uint32, fpcr fp.FPCR, fpsr *fp.FPSR) uint32) {
	if !allImmediate(inst) {
		return
	}
	var fpsr fp.FPSR
	a, b := uint32(inst.Args[0].ImmU64()), uint32(inst.Args[1].ImmU64())
	block.ReplaceUses(inst, ir.ImmU32(op(a, b, fp.FPCR{}, &fpsr)))
}

func foldFP64(block *ir.Block, inst *ir.Inst, op func(a, b uint64, fpcr fp.FPCR, fpsr *fp.FPSR) uint64) {
	if !allImmediate(inst) {
		return
	}
	var fpsr fp.FPSR
	block.ReplaceUses(inst, ir.ImmU64(op(inst.Args[0].ImmU64(), inst.Args[1].ImmU64(), fp.FPCR{}, &fpsr)))
}
