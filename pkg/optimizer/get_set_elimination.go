package optimizer

import "github.com/oisee/armjit/pkg/ir"

// slot tracks one register/flag's last known value within a block, mirroring
// dynarmic's GetSetElimination RegisterInfo
// (original_source/src/ir_opt/get_set_elimination_pass.cpp): empty until
// either a Set is seen (records the set value and the instruction that
// produced it, so a later Set can erase it as dead) or a Get is seen with
// no known value yet (that Get becomes the canonical value for any Get
// that follows before the next Set).
type slot struct {
	value   ir.Arg
	present bool
	lastSet *ir.Inst
}

func doSet(block *ir.Block, s *slot, value ir.Arg, setInst *ir.Inst) {
	if s.present && s.lastSet != nil {
		block.Remove(s.lastSet)
	}
	s.value = value
	s.present = true
	s.lastSet = setInst
}

func doGet(block *ir.Block, s *slot, getInst *ir.Inst) {
	if !s.present {
		s.value = getInst.Value().Arg()
		s.present = true
		return
	}
	block.ReplaceUses(getInst, s.value)
}

// GetSetElimination forwards each Set<x>(v) to the Get<x>()s that follow it
// before the next Set<x>, and removes the superseded Set once a later one
// is seen (spec.md §4.2 step 2). Registers, extended (SIMD) registers, and
// each condition flag are tracked in independent slot spaces keyed by
// register index, matching the generic (non-architecture-specific) scope
// of dynarmic's pass rather than a32_get_set_elimination_pass.cpp's richer
// overlapping Sn/Dn/Qn view tracking — this catalog models extended
// registers as flat 32-bit/64-bit slots with no aliasing between them, so
// there is no overlap to invalidate (documented in DESIGN.md).
func GetSetElimination(block *ir.Block) error {
	regs := map[uint64]*slot{}
	ext32 := map[uint64]*slot{}
	ext64 := map[uint64]*slot{}
	vectors := map[uint64]*slot{}
	var sp, pc, fpcr, fpsr slot
	var n, z, c, v, ge slot

	insts := append([]*ir.Inst(nil), block.Insts...)
	for _, inst := range insts {
		switch inst.Op {
		case ir.SetRegister:
			doSet(block, slotFor(regs, inst.Args[0].ImmU64()), inst.Args[1], inst)
		case ir.GetRegister:
			doGet(block, slotFor(regs, inst.Args[0].ImmU64()), inst)
		case ir.SetExtendedRegister32:
			doSet(block, slotFor(ext32, inst.Args[0].ImmU64()), inst.Args[1], inst)
		case ir.GetExtendedRegister32:
			doGet(block, slotFor(ext32, inst.Args[0].ImmU64()), inst)
		case ir.SetExtendedRegister64:
			doSet(block, slotFor(ext64, inst.Args[0].ImmU64()), inst.Args[1], inst)
		case ir.GetExtendedRegister64:
			doGet(block, slotFor(ext64, inst.Args[0].ImmU64()), inst)
		case ir.SetVector:
			doSet(block, slotFor(vectors, inst.Args[0].ImmU64()), inst.Args[1], inst)
		case ir.GetVector:
			doGet(block, slotFor(vectors, inst.Args[0].ImmU64()), inst)
		case ir.SetSP:
			doSet(block, &sp, inst.Args[0], inst)
		case ir.GetSP:
			doGet(block, &sp, inst)
		case ir.SetPC:
			doSet(block, &pc, inst.Args[0], inst)
		case ir.GetPC:
			doGet(block, &pc, inst)
		case ir.SetFPCR:
			doSet(block, &fpcr, inst.Args[0], inst)
		case ir.GetFPCR:
			doGet(block, &fpcr, inst)
		case ir.SetFPSR:
			doSet(block, &fpsr, inst.Args[0], inst)
		case ir.GetFPSR:
			doGet(block, &fpsr, inst)
		case ir.SetNFlag:
			doSet(block, &n, inst.Args[0], inst)
		case ir.GetNFlag:
			doGet(block, &n, inst)
		case ir.SetZFlag:
			doSet(block, &z, inst.Args[0], inst)
		case ir.GetZFlag:
			doGet(block, &z, inst)
		case ir.SetCFlag:
			doSet(block, &c, inst.Args[0], inst)
		case ir.GetCFlag:
			doGet(block, &c, inst)
		case ir.SetVFlag:
			doSet(block, &v, inst.Args[0], inst)
		case ir.GetVFlag:
			doGet(block, &v, inst)
		case ir.SetGEFlags:
			doSet(block, &ge, inst.Args[0], inst)
		case ir.GetGEFlags:
			doGet(block, &ge, inst)
		}
	}
	return nil
}

func slotFor(m map[uint64]*slot, key uint64) *slot {
	if s, ok := m[key]; ok {
		return s
	}
	s := &slot{}
	m[key] = s
	return s
}
