package optimizer

import "github.com/oisee/armjit/pkg/ir"

// constantMemoryReadsWith returns the ConstantMemoryReads pass bound to
// mem. If mem is nil the pass is a no-op — there's nothing to fold without
// a way to ask the host whether an address is backed by read-only memory.
func constantMemoryReadsWith(mem MemoryReader) Pass {
	return func(block *ir.Block) error {
		if mem == nil {
			return nil
		}
		for _, inst := range append([]*ir.Inst(nil), block.Insts...) {
			switch inst.Op {
			case ir.ReadMemory8:
				foldRead(block, mem, inst, func(addr uint64) ir.Arg { return ir.ImmU8(mem.Read8(addr)) })
			case ir.ReadMemory16:
				foldRead(block, mem, inst, func(addr uint64) ir.Arg { return ir.ImmU16(mem.Read16(addr)) })
			case ir.ReadMemory32:
				foldRead(block, mem, inst, func(addr uint64) ir.Arg { return ir.ImmU32(mem.Read32(addr)) })
			case ir.ReadMemory64:
				foldRead(block, mem, inst, func(addr uint64) ir.Arg { return ir.ImmU64(mem.Read64(addr)) })
			}
		}
		return nil
	}
}

// foldRead substitutes a ReadMemoryN's result with the value fetched
// straight from the host, when the address is a compile-time constant and
// the host reports that page as read-only — matching
// A32ConstantMemoryReads's AreAllArgsImmediates()+IsReadOnlyMemory() guard
// (original_source/src/ir_opt/a32_constant_memory_reads_pass.cpp). A page
// can change between "read-only" checks only via a guest remap, which
// invalidates the code cache and retranslates; it can never flip mid-block.
func foldRead(block *ir.Block, mem MemoryReader, inst *ir.Inst, read func(addr uint64) ir.Arg) {
	addr := inst.Args[0]
	if !addr.IsImmediate() || !mem.IsReadOnlyMemory(addr.ImmU64()) {
		return
	}
	block.ReplaceUses(inst, read(addr.ImmU64()))
}
