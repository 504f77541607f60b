// Package optimizer implements the fixed-order IR optimisation pipeline run
// on every block immediately after translation: Polyfill, GetSetElimination,
// DeadCodeElimination, ConstantMemoryReads, ConstantPropagation,
// DeadCodeElimination again, MergeInterpretBlocks, Verify (spec.md §4.2).
// Every pass is idempotent — running the pipeline twice on an already
// optimised block changes nothing.
package optimizer

import (
	"github.com/oisee/armjit/pkg/frontend"
	"github.com/oisee/armjit/pkg/ir"
)

// Pass is one optimisation step over a single block. A pass must preserve
// observational equivalence under the ARM single-threaded-within-a-block
// memory model; it may mutate block in place.
type Pass func(block *ir.Block) error

// MemoryReader backs ConstantMemoryReads: the narrow slice of the host
// callback surface (pkg/jit.Config.Callbacks) that lets the optimiser fold
// a read of a known-constant, read-only address at compile time.
type MemoryReader interface {
	IsReadOnlyMemory(addr uint64) bool
	Read8(addr uint64) uint8
	Read16(addr uint64) uint16
	Read32(addr uint64) uint32
	Read64(addr uint64) uint64
}

// Pipeline is the fixed pass order from spec.md §4.2. mem and cr may be
// nil; ConstantMemoryReads and MergeInterpretBlocks then degrade to no-ops
// (there is nothing profitable to do without a memory oracle, or without a
// code reader to speculatively decode past the block's own end).
func Pipeline(polyfill PolyfillOptions, mem MemoryReader, cr frontend.CodeReader) []Pass {
	return []Pass{
		PolyfillWith(polyfill),
		GetSetElimination,
		DeadCodeElimination,
		constantMemoryReadsWith(mem),
		ConstantPropagation,
		DeadCodeElimination,
		mergeInterpretBlocksWith(cr),
		Verify,
	}
}

// Run applies every pass in order, stopping at the first error (Verify is
// the only pass expected to ever return one).
func Run(block *ir.Block, passes []Pass) error {
	for _, p := range passes {
		if err := p(block); err != nil {
			return err
		}
	}
	return nil
}
