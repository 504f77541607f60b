package optimizer

import (
	"fmt"

	"github.com/oisee/armjit/pkg/ir"
)

// Verify asserts the four invariants spec.md §3 requires to hold after
// optimisation, failing loudly rather than letting a corrupted block reach
// the register allocator: every value used is defined earlier in the same
// block, every pseudo-op's producer is still in the fixed allowed set, and
// no instruction's tracked use count has drifted from its actual number of
// referencing args. It is the pipeline's final pass (spec.md §4.2 step 8).
func Verify(block *ir.Block) error {
	live := make(map[*ir.Inst]bool, block.Len())
	for _, inst := range block.Insts {
		live[inst] = true
	}

	actualUses := make(map[*ir.Inst]int, block.Len())
	checkArg := func(a ir.Arg, context string) error {
		if a.IsImmediate() {
			return nil
		}
		p := a.Producer()
		if p == nil {
			return fmt.Errorf("optimizer: %s references a nil producer", context)
		}
		if !live[p] {
			return fmt.Errorf("optimizer: %s references %s, which is no longer in the block (SSA-within-block violated)", context, p.Op)
		}
		actualUses[p]++
		return nil
	}

	for _, inst := range block.Insts {
		info := ir.Catalog[inst.Op]
		if len(inst.Args) != info.NumArgs {
			return fmt.Errorf("optimizer: %s has %d args, opcode declares %d", inst.Op, len(inst.Args), info.NumArgs)
		}
		for i, a := range inst.Args {
			if err := checkArg(a, fmt.Sprintf("%s arg %d", inst.Op, i)); err != nil {
				return err
			}
		}
		if isPseudoOpcode(inst.Op) {
			producer := inst.Args[0].Producer()
			if producer == nil || !ir.AllowsPseudoProducer(producer.Op) {
				return fmt.Errorf("optimizer: %s attaches to a disallowed producer", inst.Op)
			}
		}
	}
	switch block.Terminal.Kind {
	case ir.TermIf, ir.TermCheckBit:
		if err := checkArg(block.Terminal.Cond, "terminal condition"); err != nil {
			return err
		}
	}

	for _, inst := range block.Insts {
		if inst.Uses() != actualUses[inst] {
			return fmt.Errorf("optimizer: %s tracked %d uses but %d args actually reference it", inst.Op, inst.Uses(), actualUses[inst])
		}
		if inst.Uses() == 0 && !inst.HasSideEffects() {
			return fmt.Errorf("optimizer: %s is a dead value that survived optimisation", inst.Op)
		}
	}
	return nil
}

func isPseudoOpcode(op ir.Opcode) bool {
	switch op {
	case ir.GetCarryFromOp, ir.GetOverflowFromOp, ir.GetNZCVFromOp, ir.GetGEFromOp:
		return true
	}
	return false
}
