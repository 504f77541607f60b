// Package frontend decodes guest ARM (A32, Thumb-16, A64) instruction
// words into IR blocks: bit-pattern/mask dispatch tables built once at
// package init, construction-time panics on ambiguous table entries
// (spec.md §4.1's "ambiguity is a build-time error"), and an
// InterpreterFallback hand-off for anything outside the representative
// catalog.
package frontend

// CodeReader fetches guest code bytes for translation. It is the narrow
// slice of the dispatcher's full callback surface (pkg/jit.Config.Callbacks)
// the frontend actually needs, kept separate so this package never imports
// pkg/jit.
type CodeReader interface {
	ReadCode16(addr uint64) uint16
	ReadCode32(addr uint64) uint32
}
