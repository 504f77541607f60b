package jit

// callbackAdapter narrows Config.Callbacks down to the three small
// interfaces pkg/frontend, pkg/optimizer and pkg/dispatcher each declare for
// themselves, translating spec.md §6.1's MemoryRead8/CallSVC-style names to
// whatever each package calls the same operation. Keeping the adaptation in
// one small type means none of those three packages ever import pkg/jit or
// know Callbacks exists.
type callbackAdapter struct {
	cb Callbacks
}

// frontend.CodeReader.
func (a callbackAdapter) ReadCode16(addr uint64) uint16 { return a.cb.MemoryRead16(addr) }
func (a callbackAdapter) ReadCode32(addr uint64) uint32 { return a.cb.MemoryReadCode(addr) }

// optimizer.MemoryReader.
func (a callbackAdapter) IsReadOnlyMemory(addr uint64) bool { return a.cb.IsReadOnlyMemory(addr) }
func (a callbackAdapter) Read8(addr uint64) uint8           { return a.cb.MemoryRead8(addr) }
func (a callbackAdapter) Read16(addr uint64) uint16         { return a.cb.MemoryRead16(addr) }
func (a callbackAdapter) Read32(addr uint64) uint32         { return a.cb.MemoryRead32(addr) }
func (a callbackAdapter) Read64(addr uint64) uint64         { return a.cb.MemoryRead64(addr) }

// dispatcher.MemoryAccess.
func (a callbackAdapter) Write8(addr uint64, v uint8)   { a.cb.MemoryWrite8(addr, v) }
func (a callbackAdapter) Write16(addr uint64, v uint16) { a.cb.MemoryWrite16(addr, v) }
func (a callbackAdapter) Write32(addr uint64, v uint32) { a.cb.MemoryWrite32(addr, v) }
func (a callbackAdapter) Write64(addr uint64, v uint64) { a.cb.MemoryWrite64(addr, v) }
func (a callbackAdapter) CallSupervisor(swi uint32)     { a.cb.CallSVC(swi) }
func (a callbackAdapter) ExceptionRaised(pc, kind uint64) {
	a.cb.ExceptionRaised(pc, kind)
}
