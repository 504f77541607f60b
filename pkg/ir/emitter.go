package ir

import "github.com/oisee/armjit/pkg/state"

// IREmitter is handed to a decoder's instruction handler: it owns the block
// being built and the implicit "current location", advancing the location
// as instructions are appended so handlers never have to thread a
// descriptor through every call (spec.md §4.1: "emit IR via a small
// IREmitter API that appends instructions and manages the implicit current
// location").
type IREmitter struct {
	Block *Block
	loc   state.Descriptor
}

// NewEmitter starts emitting into block at its starting location.
func NewEmitter(block *Block) *IREmitter {
	return &IREmitter{Block: block, loc: block.Location}
}

// Location returns the descriptor the next instruction will be attributed
// to.
func (e *IREmitter) Location() state.Descriptor { return e.loc }

// Advance moves the implicit location to the next PC, preserving every
// other decode-affecting bit, and accounts one guest cycle against the
// block (the representative per-instruction cost used throughout this
// port; a full cycle model is out of CORE scope per spec.md §1).
func (e *IREmitter) Advance(instrSize uint64) {
	e.loc = e.loc.WithPC(e.loc.PC() + instrSize)
	e.Block.Cycles++
}

// AdvanceIT sets a new IT-state on the implicit location, used by Thumb
// IT-block handling (spec.md §4.1).
func (e *IREmitter) AdvanceIT(it uint8) {
	e.loc = e.loc.WithIT(it)
}

// Emit appends op(args...) to the block and returns its Value handle.
func (e *IREmitter) Emit(op Opcode, args ...Arg) Value {
	return e.Block.Append(op, args...)
}

// EmitPseudo appends a carry/overflow/nzcv/ge pseudo-op attached to
// producer.
func (e *IREmitter) EmitPseudo(op Opcode, producer Value) Value {
	return e.Block.AppendPseudo(op, producer)
}

// Terminate closes the block with t at the emitter's current location (the
// location a LinkBlock/Interpret terminal resumes at, when it names the
// next sequential instruction rather than a branch target).
func (e *IREmitter) Terminate(t Terminal) {
	e.Block.SetTerminal(t)
}

// NextLocation is a convenience for handlers that need to name "the very
// next instruction after this one" as a terminal target (fall-through,
// LinkBlock after a non-branching last instruction in a translation-size
// capped block).
func (e *IREmitter) NextLocation() state.Descriptor { return e.loc }

// RaiseUndefined emits an ExceptionRaised op for an unpredictable/undefined
// bit pattern and returns a terminal that hands off to the dispatcher, since
// no further guest instructions from this path are decodable. The decoders
// in pkg/frontend do not call it: they end the block with an Interpret
// terminal for every word their tables do not match.
func (e *IREmitter) RaiseUndefined(reasonCode uint32) Terminal {
	e.Emit(ExceptionRaised, ImmU64(e.loc.PC()), ImmU32(reasonCode))
	return ReturnToDispatch()
}
