package optimizer

import "github.com/oisee/armjit/pkg/ir"

// PolyfillOptions selects which IR ops get expanded into an equivalent
// sequence before the rest of the pipeline runs, mirroring dynarmic's own
// PolyfillOptions{.sha256 = !code.HasHostFeature(HostFeature::SHA)}
// (original_source/src/dynarmic/backend/x64/a32_interface.cpp): the actual
// backend probes what its host can do natively and only polyfills what's
// missing. This catalog carries no SHA256 opcode, so the concrete target
// here is RotateRight: amd64's ROR takes a variable shift-register amount
// natively, but arm64's ROR instruction only encodes an immediate rotate
// amount — a variable-amount rotate on that target has to be built from
// two shifts and an OR, so pkg/backend/arm64 sets ExpandRotate and
// pkg/backend/amd64 doesn't.
type PolyfillOptions struct {
	ExpandRotate bool
}

// PolyfillWith returns the Polyfill pass configured for opts. Pipeline
// wires whichever backend is targeted into this.
func PolyfillWith(opts PolyfillOptions) Pass {
	return func(block *ir.Block) error {
		if !opts.ExpandRotate {
			return nil
		}
		for _, inst := range append([]*ir.Inst(nil), block.Insts...) {
			switch inst.Op {
			case ir.RotateRight32:
				expandRotate(block, inst, ir.LogicalShiftRight32, ir.LogicalShiftLeft32, ir.Or32, 32)
			case ir.RotateRight64:
				expandRotate(block, inst, ir.LogicalShiftRight64, ir.LogicalShiftLeft64, ir.Or64, 64)
			}
		}
		return nil
	}
}

// Polyfill is the Polyfill pass with no expansions enabled, the same as
// PolyfillWith(PolyfillOptions{}). Pipeline does not use it; it always
// builds its first step with PolyfillWith.
func Polyfill(block *ir.Block) error { return nil }

// expandRotate rewrites x ROR n into (x LSR n) OR (x LSL (width-n)), using
// Block.InsertBefore to splice the replacement ahead of the original
// RotateRight so everything already emitted after it keeps seeing
// instructions in the order they execute. The original instruction is left
// in place with its uses redirected to the OR's result; DeadCodeElimination
// sweeps it once its use count reaches zero (mirroring dynarmic's own
// passes, which rewrite-then-leave-dead rather than erase immediately).
func expandRotate(block *ir.Block, inst *ir.Inst, lsr, lsl, or ir.Opcode, width uint32) {
	x, n := inst.Args[0], inst.Args[1]
	widthArg := immLike(n, width)
	complement := block.InsertBefore(inst, subOpFor(width), widthArg, n)
	right := block.InsertBefore(inst, lsr, x, n)
	left := block.InsertBefore(inst, lsl, x, complement.Arg())
	combined := block.InsertBefore(inst, or, right.Arg(), left.Arg())
	block.ReplaceUses(inst, combined.Arg())
}

func subOpFor(width uint32) ir.Opcode {
	if width == 64 {
		return ir.Sub64
	}
	return ir.Sub32
}

// immLike builds an immediate of the same type as n but holding v, so
// width-n's Sub matches n's own argument type.
func immLike(n ir.Arg, v uint32) ir.Arg {
	if n.Type() == ir.TypeU64 {
		return ir.ImmU64(uint64(v))
	}
	return ir.ImmU32(v)
}
