package optimizer

import (
	"github.com/oisee/armjit/pkg/frontend"
	"github.com/oisee/armjit/pkg/ir"
	"github.com/oisee/armjit/pkg/state"
)

// mergeInterpretBlocksWith returns the MergeInterpretBlocks pass bound to
// cr. If the block's own terminal isn't Interpret, or cr is nil, it's a
// no-op. Otherwise it speculatively translates one instruction at a time
// starting right after the terminal's first interpreted instruction,
// counting how many of them would also immediately bail out to the
// interpreter, and folds that whole run into the terminal's Count so the
// dispatcher interprets them all in one hop instead of re-entering
// translation after each one (spec.md §4.2 step 7, grounded on
// original_source/src/dynarmic/ir/opt/a64_merge_interpret_blocks.cpp).
func mergeInterpretBlocksWith(cr frontend.CodeReader) Pass {
	return func(block *ir.Block) error {
		if cr == nil || block.Terminal.Kind != ir.TermInterpret {
			return nil
		}

		loc := block.Terminal.Next
		count := 1
		for {
			probe := advanceDescriptor(loc, count)
			sub, err := frontend.Translate(cr, probe, 1)
			if err != nil || sub.Len() != 0 {
				break
			}
			if sub.Terminal.Kind != ir.TermInterpret || sub.Terminal.Next != probe {
				break
			}
			count++
		}

		block.Cycles += count - block.Terminal.InterpretCount()
		block.Terminal.Count = count
		return nil
	}
}

// advanceDescriptor returns loc's Descriptor n instructions further along,
// using the Thumb-vs-ARM/A64 instruction size the same way IREmitter.Advance
// does.
func advanceDescriptor(loc state.Descriptor, n int) state.Descriptor {
	size := uint64(4)
	if loc.Thumb() {
		size = 2
	}
	return loc.WithPC(loc.PC() + uint64(n)*size)
}
