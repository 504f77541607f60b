package frontend

import (
	"errors"

	"github.com/oisee/armjit/pkg/ir"
	"github.com/oisee/armjit/pkg/state"
)

// ErrBlockTooLarge is returned by Translate when a guest block would exceed
// maxInstructions without ever reaching a terminating instruction — a
// pathological straight-line run the codecache can't size for (spec.md
// §7's typed block-size-limit error).
var ErrBlockTooLarge = errors.New("frontend: block exceeds translation instruction limit")

// Translate decodes guest instructions starting at loc until a terminal is
// reached (a branch, an undecodable word handed to the interpreter, or the
// maxInstructions cap), returning the finished IR block. The caller
// (pkg/jit, ultimately the codecache) owns everything about where the
// block is placed; Translate only ever emits IR and sets one Terminal.
func Translate(cr CodeReader, loc state.Descriptor, maxInstructions int) (*ir.Block, error) {
	block := ir.NewBlock(loc)
	e := ir.NewEmitter(block)

	for i := 0; i < maxInstructions; i++ {
		var cont bool
		switch {
		case loc.Arch() == state.ArchA64:
			word := cr.ReadCode32(e.Location().PC())
			cont = decodeA64(e, word)
		case loc.Thumb():
			half := cr.ReadCode16(e.Location().PC())
			cont = decodeThumb16(e, half)
		default:
			word := cr.ReadCode32(e.Location().PC())
			cont = decodeA32(e, word)
		}
		if !cont {
			return block, nil
		}
	}

	// The cap was hit with every decoded instruction falling straight
	// through (no handler ever set a terminal) — link to wherever
	// translation left off rather than leaving the block unterminated,
	// but report it so the caller can see the cap was exhausted.
	block.SetTerminal(ir.LinkBlock(e.NextLocation()))
	return block, ErrBlockTooLarge
}
