package backend

// Buffer is the low-level byte-emission helper both architecture packages
// build their instruction encoders on: an append-only code slice plus label
// bookkeeping for forward branches, mirroring the label-then-resolve shape
// every retrieved example codegen (ARM64 and x86-64 alike) uses, just
// factored out so neither backend re-implements it.
type Buffer struct {
	Code        []byte
	Relocations []Relocation
	BlockRelocs []BlockRelocation
}

// Pos returns the current write offset, used both as a label target for a
// backward branch and as the Offset recorded in a Relocation for a forward
// one.
func (b *Buffer) Pos() int { return len(b.Code) }

// Emit8 appends one byte.
func (b *Buffer) Emit8(v uint8) { b.Code = append(b.Code, v) }

// Emit16 appends v little-endian.
func (b *Buffer) Emit16(v uint16) {
	b.Code = append(b.Code, byte(v), byte(v>>8))
}

// Emit32 appends v little-endian — the natural unit for a fixed-width ARM64
// instruction word.
func (b *Buffer) Emit32(v uint32) {
	b.Code = append(b.Code, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

// Emit64 appends v little-endian.
func (b *Buffer) Emit64(v uint64) {
	b.Emit32(uint32(v))
	b.Emit32(uint32(v >> 32))
}

// EmitBytes appends raw bytes verbatim, the shape x86-64's variable-length
// instruction encodings need.
func (b *Buffer) EmitBytes(bs ...byte) { b.Code = append(b.Code, bs...) }

// RecordBranch reserves placeholder space for a not-yet-resolved branch to
// target (a later Pos() in this same Program) and records a Relocation so
// the backend's local-branch resolver can patch it once target is known.
// placeholder is the instruction's pre-patch encoding (with a zero/sentinel
// displacement field); RecordBranch appends it.
func (b *Buffer) RecordBranch(kind RelocKind, target int, width int, placeholder func() []byte) {
	off := b.Pos()
	b.Relocations = append(b.Relocations, Relocation{Offset: off, Kind: kind, Target: target})
	b.EmitBytes(placeholder()...)
	_ = width
}

// RecordBlockReloc records a reference to another guest block's translation
// that pkg/codecache's linker resolves once (or, for a LinkBlockFast edge,
// if) that block exists. off is the byte offset of the branch/call
// instruction being patched.
func (b *Buffer) RecordBlockReloc(r BlockRelocation) {
	b.BlockRelocs = append(b.BlockRelocs, r)
}

// Program finalizes the buffer into an immutable Program.
func (b *Buffer) Program() *Program {
	return &Program{
		Code:             b.Code,
		Relocations:      b.Relocations,
		BlockRelocations: b.BlockRelocs,
	}
}
