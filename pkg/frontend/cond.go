package frontend

import (
	"github.com/oisee/armjit/pkg/ir"
	"github.com/oisee/armjit/pkg/state"
)

// armCondFromA64 maps AArch64's 4-bit condition field to state.Condition:
// the two encodings agree bit-for-bit (EQ=0000 ... AL=1110, NV=1111), so
// this is a plain width conversion rather than a real translation.
func armCondFromA64(bits uint32) state.Condition { return state.Condition(bits) }

// buildCondition lowers an ARM condition code to a runtime IR value: 1 if
// the condition currently passes, 0 otherwise, read from the four flag
// getters and combined with the same bitwise ops the optimizer's constant
// folder already understands (spec.md §4.1's decoder has no direct u1
// boolean-combinator opcode, so conditions are carried as zero/one-valued
// u32s through And32/Or32/Xor32 rather than inventing one).
func buildCondition(e *ir.IREmitter, cond state.Condition) ir.Arg {
	if cond == state.CondAL || cond == state.CondNV {
		return ir.ImmU32(1)
	}

	zext := func(flag ir.Opcode) ir.Value {
		bit := e.Emit(flag)
		return e.Emit(ir.ZeroExtendToWord, bit.Arg())
	}
	not1 := func(v ir.Value) ir.Value {
		return e.Emit(ir.Xor32, v.Arg(), ir.ImmU32(1))
	}
	and := func(a, b ir.Value) ir.Value { return e.Emit(ir.And32, a.Arg(), b.Arg()) }
	or := func(a, b ir.Value) ir.Value { return e.Emit(ir.Or32, a.Arg(), b.Arg()) }
	xorv := func(a, b ir.Value) ir.Value { return e.Emit(ir.Xor32, a.Arg(), b.Arg()) }

	switch cond {
	case state.CondEQ:
		return zext(ir.GetZFlag).Arg()
	case state.CondNE:
		return not1(zext(ir.GetZFlag)).Arg()
	case state.CondCS:
		return zext(ir.GetCFlag).Arg()
	case state.CondCC:
		return not1(zext(ir.GetCFlag)).Arg()
	case state.CondMI:
		return zext(ir.GetNFlag).Arg()
	case state.CondPL:
		return not1(zext(ir.GetNFlag)).Arg()
	case state.CondVS:
		return zext(ir.GetVFlag).Arg()
	case state.CondVC:
		return not1(zext(ir.GetVFlag)).Arg()
	case state.CondHI:
		return and(zext(ir.GetCFlag), not1(zext(ir.GetZFlag))).Arg()
	case state.CondLS:
		return or(not1(zext(ir.GetCFlag)), zext(ir.GetZFlag)).Arg()
	case state.CondGE:
		return not1(xorv(zext(ir.GetNFlag), zext(ir.GetVFlag))).Arg()
	case state.CondLT:
		return xorv(zext(ir.GetNFlag), zext(ir.GetVFlag)).Arg()
	case state.CondGT:
		return and(not1(zext(ir.GetZFlag)), not1(xorv(zext(ir.GetNFlag), zext(ir.GetVFlag)))).Arg()
	case state.CondLE:
		return or(zext(ir.GetZFlag), xorv(zext(ir.GetNFlag), zext(ir.GetVFlag))).Arg()
	default:
		return ir.ImmU32(1)
	}
}

// setFlagsFromNZCV extracts N/Z/C/V out of a GetNZCVFromOp pseudo-op result
// and writes them back with the individual flag setters, letting every
// flag-setting data-processing handler share one implementation regardless
// of which arithmetic/logical op actually produced the result.
func setFlagsFromNZCV(e *ir.IREmitter, producer ir.Value) {
	nzcv := e.EmitPseudo(ir.GetNZCVFromOp, producer)
	bit := func(pos uint8) ir.Arg {
		shifted := e.Emit(ir.LogicalShiftRight32, nzcv.Arg(), ir.ImmU32(uint32(pos)))
		return e.Emit(ir.And32, shifted.Arg(), ir.ImmU32(1)).Arg()
	}
	e.Emit(ir.SetNFlag, bit(31))
	e.Emit(ir.SetZFlag, bit(30))
	e.Emit(ir.SetCFlag, bit(29))
	e.Emit(ir.SetVFlag, bit(28))
}
