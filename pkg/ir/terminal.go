package ir

import "github.com/oisee/armjit/pkg/state"

// TerminalKind tags which alternative of the Terminal union is populated.
type TerminalKind uint8

const (
	TermInvalid TerminalKind = iota
	TermLinkBlock
	TermLinkBlockFast
	TermPopRSBHint
	TermFastDispatchHint
	TermReturnToDispatch
	TermInterpret
	TermIf
	TermCheckBit
	TermCheckHalt
)

func (k TerminalKind) String() string {
	switch k {
	case TermLinkBlock:
		return "LinkBlock"
	case TermLinkBlockFast:
		return "LinkBlockFast"
	case TermPopRSBHint:
		return "PopRSBHint"
	case TermFastDispatchHint:
		return "FastDispatchHint"
	case TermReturnToDispatch:
		return "ReturnToDispatch"
	case TermInterpret:
		return "Interpret"
	case TermIf:
		return "If"
	case TermCheckBit:
		return "CheckBit"
	case TermCheckHalt:
		return "CheckHalt"
	default:
		return "<invalid terminal>"
	}
}

// Terminal is the tagged union closing out a Block, exactly as spec.md §3
// enumerates: LinkBlock{next}, LinkBlockFast{next}, PopRSBHint,
// FastDispatchHint, ReturnToDispatch, Interpret{next}, If{cond,then,else},
// CheckBit{then,else}, CheckHalt{then}.
//
// Only the fields relevant to Kind are meaningful; constructors below are
// the only supported way to build one so irrelevant fields stay zeroed.
type Terminal struct {
	Kind TerminalKind

	Next state.Descriptor // LinkBlock, LinkBlockFast, Interpret

	Cond Arg       // If, CheckBit: u1 condition value
	Then *Terminal // If, CheckBit, CheckHalt
	Else *Terminal // If, CheckBit

	// Count is the number of consecutive guest instructions an Interpret
	// terminal hands to the interpreter before the dispatcher re-enters
	// the JIT, starting at Next. Zero (the value every Interpret()-built
	// terminal starts with) means one instruction; MergeInterpretBlocks
	// raises it when it finds a run of interpret-only single-instruction
	// blocks immediately following this one, so the dispatcher interprets
	// the whole run without retranslating after each instruction.
	Count int
}

// LinkBlock emits an unconditional link to next, recorded as a
// block-relocation until next is emitted.
func LinkBlock(next state.Descriptor) Terminal {
	return Terminal{Kind: TermLinkBlock, Next: next}
}

// LinkBlockFast is LinkBlock but falls through to ReturnToDispatch on a
// cache miss instead of retranslating inline.
func LinkBlockFast(next state.Descriptor) Terminal {
	return Terminal{Kind: TermLinkBlockFast, Next: next}
}

// PopRSBHint pops the return-stack-buffer and jumps to the popped entry's
// host code on a descriptor match, else falls through to ReturnToDispatch.
func PopRSBHint() Terminal { return Terminal{Kind: TermPopRSBHint} }

// FastDispatchHint performs a hashed direct-mapped lookup before falling
// back to ReturnToDispatch on a miss.
func FastDispatchHint() Terminal { return Terminal{Kind: TermFastDispatchHint} }

// ReturnToDispatch branches to the dispatcher's re-entry point after
// checking halt and cycle budget.
func ReturnToDispatch() Terminal { return Terminal{Kind: TermReturnToDispatch} }

// Interpret hands the rest of the current instruction off to the
// interpreter fallback and resumes translation at next.
func Interpret(next state.Descriptor) Terminal {
	return Terminal{Kind: TermInterpret, Next: next}
}

// InterpretCount reports how many consecutive instructions t.Next starts an
// Interpret terminal's run over: the Count field defaults to zero meaning
// one, so callers should read through this rather than t.Count directly.
func (t Terminal) InterpretCount() int {
	if t.Count <= 0 {
		return 1
	}
	return t.Count
}

// If branches on cond (a u1 Arg), executing then or else.
func If(cond Arg, then, els Terminal) Terminal {
	return Terminal{Kind: TermIf, Cond: cond, Then: &then, Else: &els}
}

// CheckBit branches on cond, executing then or else — used by the
// optimizer-introduced checks (e.g. single-step) that don't correspond to a
// guest conditional but still need two-way control flow.
func CheckBit(cond Arg, then, els Terminal) Terminal {
	return Terminal{Kind: TermCheckBit, Cond: cond, Then: &then, Else: &els}
}

// CheckHalt atomically reads halt_reason; if non-zero, returns from
// run_code, else executes then.
func CheckHalt(then Terminal) Terminal {
	return Terminal{Kind: TermCheckHalt, Then: &then}
}
