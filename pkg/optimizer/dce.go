package optimizer

import "github.com/oisee/armjit/pkg/ir"

// DeadCodeElimination walks a block's instructions in reverse and removes
// any instruction with zero uses and no side effects (spec.md §4.2 step 3,
// and again as step 6 after constant propagation creates fresh dead code).
// Reverse order means removing an instruction can immediately make an
// earlier one dead too, in one pass, exactly as dynarmic's
// DeadCodeElimination does it (original_source/src/ir_opt/dead_code_elimination_pass.cpp).
func DeadCodeElimination(block *ir.Block) error {
	for i := block.Len() - 1; i >= 0; i-- {
		inst := block.Insts[i]
		if inst.Uses() == 0 && !inst.HasSideEffects() {
			block.Remove(inst)
		}
	}
	return nil
}
