package arm64

import (
	"encoding/binary"
	"testing"

	"github.com/oisee/armjit/pkg/ir"
	"github.com/oisee/armjit/pkg/regalloc"
	"github.com/oisee/armjit/pkg/state"
)

func testLoc() state.Descriptor {
	return state.NewDescriptor(state.ArchA32, 0x1000, false, 0, 0, false, false, false)
}

func TestEmitBlockAddProducesAddInstructionWord(t *testing.T) {
	b := ir.NewBlock(testLoc())
	sum := b.Append(ir.Add32, ir.ImmU32(2), ir.ImmU32(3))
	b.Append(ir.SetRegister, ir.ImmU64(0), sum.Arg())
	b.SetTerminal(ir.ReturnToDispatch())

	backend := Arm64{}
	alloc := regalloc.NewAllocator(backend.ABI(), b)
	prog, err := backend.EmitBlock(b, alloc)
	if err != nil {
		t.Fatalf("EmitBlock: %v", err)
	}
	if len(prog.Code)%4 != 0 {
		t.Fatalf("arm64 program length %d is not word-aligned", len(prog.Code))
	}

	var foundAdd, foundRet bool
	for off := 0; off+4 <= len(prog.Code); off += 4 {
		word := binary.LittleEndian.Uint32(prog.Code[off:])
		if word&0x7F000000 == opAddReg&0x7F000000 {
			foundAdd = true
		}
		if word == opRet|uint32(LR)<<5 {
			foundRet = true
		}
	}
	if !foundAdd {
		t.Errorf("expected an ADD (register) instruction word in %x", prog.Code)
	}
	if !foundRet {
		t.Errorf("expected a RET instruction word (ReturnToDispatch) in %x", prog.Code)
	}
}

func TestEmitBlockLinkBlockRecordsBlockRelocation(t *testing.T) {
	b := ir.NewBlock(testLoc())
	next := state.NewDescriptor(state.ArchA32, 0x2000, false, 0, 0, false, false, false)
	b.SetTerminal(ir.LinkBlock(next))

	backend := Arm64{}
	alloc := regalloc.NewAllocator(backend.ABI(), b)
	prog, err := backend.EmitBlock(b, alloc)
	if err != nil {
		t.Fatalf("EmitBlock: %v", err)
	}
	if len(prog.BlockRelocations) != 1 {
		t.Fatalf("BlockRelocations = %d, want 1", len(prog.BlockRelocations))
	}
	r := prog.BlockRelocations[0]
	if r.Target != next {
		t.Errorf("BlockRelocation.Target = %v, want %v", r.Target, next)
	}
	if r.Fast {
		t.Errorf("LinkBlock must not be marked Fast")
	}
	word := binary.LittleEndian.Uint32(prog.Code[r.Offset:])
	if word&0xFC000000 != opB&0xFC000000 {
		t.Errorf("instruction at relocation offset = %#x, want a B opcode", word)
	}
}

func TestEmitBlockIfResolvesBothBranchTargets(t *testing.T) {
	b := ir.NewBlock(testLoc())
	cond := b.Append(ir.Add32, ir.ImmU32(1), ir.ImmU32(0))
	b.SetTerminal(ir.If(cond.Arg(), ir.ReturnToDispatch(), ir.ReturnToDispatch()))

	backend := Arm64{}
	alloc := regalloc.NewAllocator(backend.ABI(), b)
	prog, err := backend.EmitBlock(b, alloc)
	if err != nil {
		t.Fatalf("EmitBlock: %v", err)
	}
	if len(prog.Relocations) != 0 {
		t.Errorf("Relocations = %d, want 0: intra-block branches must be fully resolved by EmitBlock", len(prog.Relocations))
	}
}
