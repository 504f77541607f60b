package ir

import (
	"fmt"

	"github.com/oisee/armjit/pkg/state"
)

// Block is one translation unit: an ordered sequence of IR instructions
// with one entry (its Location) and one Terminal (spec.md §3's "IR block").
type Block struct {
	Location state.Descriptor
	Insts    []*Inst
	Terminal Terminal

	// Cycles is the guest cycle cost this block accounts for; the
	// frontend increments it per translated instruction.
	Cycles int
}

// NewBlock starts an empty block at loc with no terminal set yet.
func NewBlock(loc state.Descriptor) *Block {
	return &Block{Location: loc}
}

// Append creates a new instruction, wires its use-count bookkeeping against
// any Arg referencing an earlier value in this block, appends it, and
// returns its Value handle. This is the sole way to produce a *Inst, which
// is what gives the IR its "every value used is defined earlier in the same
// block" invariant for free: a Value can only be constructed from an *Inst
// already present in Insts.
func (b *Block) Append(op Opcode, args ...Arg) Value {
	info := Catalog[op]
	if len(args) != info.NumArgs {
		panic(fmt.Sprintf("ir: %s takes %d args, got %d", op, info.NumArgs, len(args)))
	}
	inst := &Inst{Op: op, Type: info.ResultType, Args: args}
	for _, a := range args {
		addUse(a)
	}
	b.Insts = append(b.Insts, inst)
	return inst.Value()
}

// AppendPseudo is Append specialised for GetCarryFromOp/GetNZCVFromOp/
// GetOverflowFromOp/GetGEFromOp: it additionally validates that producer's
// opcode is in the allowed set (spec.md §3).
func (b *Block) AppendPseudo(op Opcode, producer Value) Value {
	if !isPseudoOp(op) {
		panic(fmt.Sprintf("ir: %s is not a pseudo-op", op))
	}
	if producer.inst == nil || !AllowsPseudoProducer(producer.inst.Op) {
		panic(fmt.Sprintf("ir: %s may not attach to producer %v", op, producer.inst))
	}
	return b.Append(op, producer.Arg())
}

// InsertBefore builds a new instruction the same way Append does, but
// splices it into the instruction list immediately ahead of target instead
// of appending it — the primitive the polyfill pass uses to expand one
// instruction into an equivalent sequence without disturbing program order
// for everything already emitted after the expansion point. Panics if
// target isn't present in this block.
func (b *Block) InsertBefore(target *Inst, op Opcode, args ...Arg) Value {
	info := Catalog[op]
	if len(args) != info.NumArgs {
		panic(fmt.Sprintf("ir: %s takes %d args, got %d", op, info.NumArgs, len(args)))
	}
	inst := &Inst{Op: op, Type: info.ResultType, Args: args}
	for _, a := range args {
		addUse(a)
	}
	for i, candidate := range b.Insts {
		if candidate == target {
			b.Insts = append(b.Insts, nil)
			copy(b.Insts[i+1:], b.Insts[i:])
			b.Insts[i] = inst
			return inst.Value()
		}
	}
	panic("ir: InsertBefore target not found in block")
}

// ReplaceUses rewrites every argument referencing old's result, across every
// instruction and the block's terminal condition, to repl instead —
// updating use counts so old ends up with zero uses whenever nothing else
// still needs it, ready for DeadCodeElimination to sweep away. This is how
// GetSetElimination forwards a Get to the value an earlier Set recorded and
// how ConstantPropagation replaces a folded instruction's result with the
// immediate it evaluated to.
func (b *Block) ReplaceUses(old *Inst, repl Arg) {
	for _, inst := range b.Insts {
		for i, a := range inst.Args {
			if a.def == old {
				removeUse(a)
				inst.Args[i] = repl
				addUse(repl)
			}
		}
	}
	if b.Terminal.Cond.def == old {
		removeUse(b.Terminal.Cond)
		b.Terminal.Cond = repl
		addUse(repl)
	}
}

// SetTerminal closes the block with t. Frontend translation calls this
// exactly once, as the final step of translating a basic block.
func (b *Block) SetTerminal(t Terminal) { b.Terminal = t }

// Remove deletes inst from the block's instruction list and releases the
// uses it was holding on its own arguments. Used by dead-code elimination;
// callers must have already verified inst.Uses()==0 and
// !inst.HasSideEffects().
func (b *Block) Remove(inst *Inst) {
	for _, a := range inst.Args {
		removeUse(a)
	}
	for i, candidate := range b.Insts {
		if candidate == inst {
			b.Insts = append(b.Insts[:i], b.Insts[i+1:]...)
			return
		}
	}
}

// ForEachValue calls fn once per live instruction.
func (b *Block) ForEachValue(fn func(*Inst)) {
	for _, inst := range b.Insts {
		fn(inst)
	}
}

// Len reports the number of live instructions.
func (b *Block) Len() int { return len(b.Insts) }
