package frontend

import (
	"fmt"

	"github.com/oisee/armjit/pkg/ir"
)

// handlerFunc translates a single decoded instruction into e's block,
// advancing e's implicit location itself (so it can choose whether the
// instruction is fixed-size or, for Thumb, needs an extra halfword). It
// returns false once it has set the block's terminal, telling the
// translation loop to stop; true means "keep decoding the next word".
type handlerFunc func(e *ir.IREmitter, word uint32) bool

// entry is one row of a mask/value decode table: word matches when
// word&mask == value. This is this port's adaptation of the dense
// opcodeTable[65536]opFunc array user-none-go-chip-m68k/decode.go uses for
// the 16-bit M68K opcode space — ARM's 32-bit encodings make a dense array
// of 4 billion entries infeasible, so entries are tried as a small ordered
// table of bit patterns instead, built once at init() the same way the
// M68K table is built by a handful of registration loops.
type entry struct {
	mask, value uint32
	name        string
	handler     handlerFunc
}

// table is a decode table for one instruction-word width. Registration
// happens once, at package init, through add; any two patterns whose
// constrained bits can be simultaneously satisfied are a decode ambiguity
// and add panics immediately, matching spec.md §4.1's "ambiguity is a
// build-time error, not a runtime race".
type table struct {
	entries []entry
}

func (t *table) add(mask, value uint32, name string, h handlerFunc) {
	for _, e := range t.entries {
		common := e.mask & mask
		if e.value&common == value&common {
			panic(fmt.Sprintf("frontend: decode pattern %q (mask=%#x val=%#x) ambiguous with %q (mask=%#x val=%#x)",
				name, mask, value, e.name, e.mask, e.value))
		}
	}
	t.entries = append(t.entries, entry{mask: mask, value: value, name: name, handler: h})
}

// lookup returns the first (and, given add's ambiguity check, only
// possible) matching entry.
func (t *table) lookup(word uint32) (entry, bool) {
	for _, e := range t.entries {
		if word&e.mask == e.value {
			return e, true
		}
	}
	return entry{}, false
}
