// Package regalloc implements the linear-scan register allocator described
// in spec.md §4.3: over one IR block, it assigns each live value to a host
// general-purpose register, a host vector register, or a numbered spill slot,
// and exposes the request surface a backend emitter drives one instruction
// at a time — Use, UseScratch, ScratchGpr, ScratchFpr, UseOpArg, a pinning
// variant, DefineValue, DefineAsExisting, flag-register tracking, and
// PrepareForCall.
package regalloc

import "github.com/oisee/armjit/pkg/ir"

// Class names a physical register file: general-purpose or vector/FP.
type Class uint8

const (
	ClassGpr Class = iota
	ClassFpr
)

func (c Class) String() string {
	if c == ClassFpr {
		return "fpr"
	}
	return "gpr"
}

// PhysReg names one physical register within a Class. Index is a backend
// register number (e.g. 0 for RAX/X0); pkg/backend/amd64 and
// pkg/backend/arm64 each map Index through their own register tables.
type PhysReg struct {
	Class Class
	Index int
}

// Location is where a value currently lives: either a physical register or
// a numbered spill slot in the guest-state record's spill area.
type Location struct {
	InReg bool
	Reg   PhysReg
	Spill int
}

// HostABI describes the register file and calling convention of one backend
// target, grounded in spec.md §4.3/§4.4's examples (RCX pinning on x86-64,
// X0 for trampoline returns) without hard-coding either architecture here —
// pkg/backend/amd64 and pkg/backend/arm64 each build their own HostABI.
type HostABI struct {
	GprCount int
	FprCount int

	// CallerSavedGpr/CallerSavedFpr list register indices PrepareForCall
	// must spill if they hold a value still live across the call.
	CallerSavedGpr []int
	CallerSavedFpr []int

	// ArgGpr/ArgFpr list the integer/float argument registers in ABI
	// order, consumed left to right by PrepareForCall.
	ArgGpr []int
	ArgFpr []int

	ReturnGpr int
	ReturnFpr int

	// Reserved registers (stack pointer, guest-state base pointer, ...)
	// are never handed out by Use/UseScratch/ScratchGpr/ScratchFpr.
	Reserved []PhysReg
}

func (abi HostABI) reserved(r PhysReg) bool {
	for _, x := range abi.Reserved {
		if x == r {
			return true
		}
	}
	return false
}

// liveRange is one IR value's linearly-scanned live range within the block:
// defined at instruction index Def, last read at instruction index LastUse
// (LastUse == Def when the value has no uses at all but survives because
// it's side-effecting).
type liveRange struct {
	inst    *ir.Inst
	def     int
	lastUse int
}

// binding is an active register or spill assignment the allocator is
// currently tracking for one still-live value.
type binding struct {
	inst    *ir.Inst
	reg     PhysReg
	spill   int
	inReg   bool
	lastUse int
}

// Allocator drives linear-scan allocation over exactly one ir.Block.
type Allocator struct {
	abi   HostABI
	block *ir.Block

	ranges map[*ir.Inst]*liveRange
	pos    int

	freeGpr map[int]bool
	freeFpr map[int]bool

	activeGpr []*binding
	activeFpr []*binding

	bindings map[*ir.Inst]*binding

	freeSpillSlots []int
	nextSpill      int

	flagOwner *ir.Inst
}

// NewAllocator builds an Allocator for block under abi, precomputing every
// value's linear-scan live range by walking the block's instructions and
// its terminal condition once.
func NewAllocator(abi HostABI, block *ir.Block) *Allocator {
	a := &Allocator{
		abi:      abi,
		block:    block,
		ranges:   computeLiveRanges(block),
		freeGpr:  map[int]bool{},
		freeFpr:  map[int]bool{},
		bindings: map[*ir.Inst]*binding{},
	}
	for i := 0; i < abi.GprCount; i++ {
		if !abi.reserved(PhysReg{ClassGpr, i}) {
			a.freeGpr[i] = true
		}
	}
	for i := 0; i < abi.FprCount; i++ {
		if !abi.reserved(PhysReg{ClassFpr, i}) {
			a.freeFpr[i] = true
		}
	}
	return a
}

func computeLiveRanges(block *ir.Block) map[*ir.Inst]*liveRange {
	ranges := make(map[*ir.Inst]*liveRange, block.Len())
	for i, inst := range block.Insts {
		ranges[inst] = &liveRange{inst: inst, def: i, lastUse: i}
	}
	mark := func(a ir.Arg, use int) {
		if a.IsImmediate() {
			return
		}
		if lr, ok := ranges[a.Producer()]; ok && use > lr.lastUse {
			lr.lastUse = use
		}
	}
	for i, inst := range block.Insts {
		for _, arg := range inst.Args {
			mark(arg, i)
		}
	}
	term := block.Len()
	switch block.Terminal.Kind {
	case ir.TermIf, ir.TermCheckBit:
		mark(block.Terminal.Cond, term)
	}
	return ranges
}

// Advance expires every active binding whose live range ended strictly
// before index, returning its register or spill slot to the free pool, then
// moves the allocator's current position to index. A backend emitter calls
// this once per IR instruction, immediately before requesting that
// instruction's operands.
func (a *Allocator) Advance(index int) {
	a.pos = index
	a.activeGpr = a.expire(a.activeGpr, a.freeGpr)
	a.activeFpr = a.expire(a.activeFpr, a.freeFpr)
}

func (a *Allocator) expire(active []*binding, free map[int]bool) []*binding {
	kept := active[:0]
	for _, b := range active {
		if b.lastUse < a.pos {
			a.release(b, free)
			continue
		}
		kept = append(kept, b)
	}
	return kept
}

func (a *Allocator) release(b *binding, free map[int]bool) {
	if b.inReg {
		free[b.reg.Index] = true
	} else {
		a.freeSpillSlots = append(a.freeSpillSlots, b.spill)
	}
	delete(a.bindings, b.inst)
}

// classOf maps an Inst's result type to the register class an emitter would
// place it in: FP/SIMD types go to ClassFpr, everything else (including
// single-bit flag values, which the flag-tracking API handles separately
// but may still need a GPR home when spilled) to ClassGpr.
func classOf(t ir.Type) Class {
	if t == ir.TypeU128 {
		return ClassFpr
	}
	return ClassGpr
}

func (a *Allocator) poolsFor(class Class) (free map[int]bool, active *[]*binding) {
	if class == ClassFpr {
		return a.freeFpr, &a.activeFpr
	}
	return a.freeGpr, &a.activeGpr
}

// allocSlot assigns inst a fresh register if one is free, otherwise spills
// the active binding in the same class whose live range extends furthest
// past the current position — the standard linear-scan spill heuristic
// (Poletto & Sarkar), which spec.md §4.3 describes loosely as "LRU-style":
// the binding not needed again for the longest time is the one evicted.
func (a *Allocator) allocSlot(class Class) *binding {
	free, activePtr := a.poolsFor(class)
	limit := a.abi.GprCount
	if class == ClassFpr {
		limit = a.abi.FprCount
	}
	for idx := 0; idx < limit; idx++ {
		if free[idx] {
			delete(free, idx)
			return &binding{reg: PhysReg{class, idx}, inReg: true}
		}
	}

	active := *activePtr
	victim := -1
	for i, b := range active {
		if victim == -1 || b.lastUse > active[victim].lastUse {
			victim = i
		}
	}
	b := active[victim]
	*activePtr = append(active[:victim], active[victim+1:]...)
	reg := b.reg
	a.evictToSpill(b)
	return &binding{reg: reg, inReg: true}
}

// evictToSpill moves a live binding still tracked in a.bindings out of its
// register and into a freshly assigned spill slot, replacing the map entry
// in place. Unlike release, the value survives — whoever next calls
// bindingFor for the same Inst gets the spilled copy back instead of
// silently losing it.
func (a *Allocator) evictToSpill(b *binding) {
	slot := a.allocSpillSlot()
	a.bindings[b.inst] = &binding{inst: b.inst, spill: slot, lastUse: b.lastUse}
}

func (a *Allocator) allocSpillSlot() int {
	if n := len(a.freeSpillSlots); n > 0 {
		slot := a.freeSpillSlots[n-1]
		a.freeSpillSlots = a.freeSpillSlots[:n-1]
		return slot
	}
	slot := a.nextSpill
	a.nextSpill++
	return slot
}

func (a *Allocator) bindingFor(inst *ir.Inst) *binding {
	if b, ok := a.bindings[inst]; ok {
		return b
	}
	lr := a.ranges[inst]
	class := classOf(inst.Type)
	slot := a.allocSlot(class)
	slot.inst = inst
	if lr != nil {
		slot.lastUse = lr.lastUse
	} else {
		slot.lastUse = a.pos
	}
	a.bindings[inst] = slot
	if slot.inReg {
		_, activePtr := a.poolsFor(class)
		*activePtr = append(*activePtr, slot)
	}
	return slot
}

func (b *binding) location() Location {
	if b.inReg {
		return Location{InReg: true, Reg: b.reg}
	}
	return Location{InReg: false, Spill: b.spill}
}

// Use returns inst's current location for a read-only operand, allocating
// one on first reference. The location stays valid at least through the
// instruction currently being emitted (Advance has not yet moved past it).
func (a *Allocator) Use(inst *ir.Inst) Location {
	return a.bindingFor(inst).location()
}

// UseOpArg is Use, documented separately for emitters (e.g. x86-64's
// register/memory addressing forms) that can consume a spill-slot operand
// directly and so should prefer whatever location a value already has
// instead of always forcing a reload into a register.
func (a *Allocator) UseOpArg(inst *ir.Inst) Location {
	return a.Use(inst)
}

// UseScratch returns a location for inst that the caller is free to clobber.
// If inst is still used after the current position, it is a fresh scratch
// register (another value is spilled if none is free) into which the caller
// copies inst's value, so that destructively overwriting it does not corrupt
// the binding a later instruction still needs; the allocator emits no copy
// itself. Otherwise inst's own location is handed back.
func (a *Allocator) UseScratch(inst *ir.Inst) Location {
	b := a.bindingFor(inst)
	lr := a.ranges[inst]
	if lr == nil || lr.lastUse <= a.pos {
		return b.location()
	}
	if classOf(inst.Type) == ClassFpr {
		return Location{InReg: true, Reg: a.ScratchFpr()}
	}
	return Location{InReg: true, Reg: a.ScratchGpr()}
}

// UsePinned is Use, but the value must end up in exactly reg — the ABI- or
// instruction-mandated placement (RCX for a variable shift count on x86-64,
// X0 for a trampoline's return value). The caller's backend emitter is
// responsible for emitting the move/reload if the returned flag reports the
// value wasn't already there; the allocator records the new location either
// way so later Use calls see it in reg.
func (a *Allocator) UsePinned(inst *ir.Inst, reg PhysReg) (loc Location, alreadyInPlace bool) {
	b := a.bindingFor(inst)
	if b.inReg && b.reg == reg {
		return b.location(), true
	}
	free, activePtr := a.poolsFor(reg.Class)
	delete(free, reg.Index)
	for i, x := range *activePtr {
		if x.inReg && x.reg == reg && x != b {
			a.evictToSpill(x)
			*activePtr = append((*activePtr)[:i], (*activePtr)[i+1:]...)
			break
		}
	}
	wasInReg, oldReg := b.inReg, b.reg
	b.inReg = true
	b.reg = reg
	if !wasInReg {
		*activePtr = append(*activePtr, b)
	} else if oldReg != reg {
		free[oldReg.Index] = true
	}
	return b.location(), false
}

// ScratchGpr hands out a temporary general-purpose register with no IR
// value attached. It belongs to the caller only for the current
// instruction; the next Advance call may recycle it.
func (a *Allocator) ScratchGpr() PhysReg {
	b := a.allocSlot(ClassGpr)
	a.activeGpr = append(a.activeGpr, &binding{reg: b.reg, inReg: true, lastUse: a.pos})
	return b.reg
}

// ScratchFpr is ScratchGpr for the vector/FP register file.
func (a *Allocator) ScratchFpr() PhysReg {
	b := a.allocSlot(ClassFpr)
	a.activeFpr = append(a.activeFpr, &binding{reg: b.reg, inReg: true, lastUse: a.pos})
	return b.reg
}

// DefineValue records that inst's result now resides in reg. If reg is
// already tracked as an active (unbound) scratch register — the common case
// when a backend emitter calls ScratchGpr/UseScratch to get a clobberable
// register, emits an instruction that writes its result there, and only
// then learns which Inst that result belongs to — the existing binding is
// relabelled in place rather than duplicated in the active list.
func (a *Allocator) DefineValue(inst *ir.Inst, reg PhysReg) {
	lr := a.ranges[inst]
	lastUse := a.pos
	if lr != nil {
		lastUse = lr.lastUse
	}

	free, activePtr := a.poolsFor(reg.Class)
	for _, b := range *activePtr {
		if b.inReg && b.reg == reg {
			b.inst = inst
			b.lastUse = lastUse
			a.bindings[inst] = b
			return
		}
	}

	delete(free, reg.Index)
	b := &binding{inst: inst, reg: reg, inReg: true, lastUse: lastUse}
	a.bindings[inst] = b
	*activePtr = append(*activePtr, b)
}

// DefineAsExisting aliases inst's result to src's current location, used
// for zero-cost moves (e.g. a bitcast-shaped Set immediately following a Get
// of the same width) where no host instruction needs to be emitted at all.
// inst's live range is folded into src's: whichever of the two is used
// later keeps the binding alive.
func (a *Allocator) DefineAsExisting(inst, src *ir.Inst) {
	b := a.bindingFor(src)
	if lr := a.ranges[inst]; lr != nil && lr.lastUse > b.lastUse {
		b.lastUse = lr.lastUse
	}
	a.bindings[inst] = b
}

// ReadWriteFlags records that inst both reads and then overwrites the host
// flag register — spilling out whatever instruction currently owns it
// first, since only one IR value can hold the host's NZCV bits at a time.
func (a *Allocator) ReadWriteFlags(owner *ir.Inst) {
	a.SpillFlags()
	a.flagOwner = owner
}

// WriteFlags records that inst overwrites the host flags without reading
// their previous value; like ReadWriteFlags it evicts whatever owned them.
func (a *Allocator) WriteFlags(owner *ir.Inst) {
	a.SpillFlags()
	a.flagOwner = owner
}

// SpillFlags evicts the host flag register's current owner, forcing it (if
// still live) into a normal GPR/spill binding the next time it's used via
// GetNZCVFromOp or similar — the allocator's way of enforcing that an
// instruction whose emitter is about to clobber host flags only does so
// once nothing still expects to read them for free off the flag register
// itself.
func (a *Allocator) SpillFlags() {
	a.flagOwner = nil
}

// FlagOwner reports which instruction, if any, currently owns the host
// flag register — nil means the flags must be recomputed (materialised
// from a Get*Flag sequence) rather than read directly.
func (a *Allocator) FlagOwner() *ir.Inst { return a.flagOwner }

// PrepareForCall spills every caller-saved register (per abi) still live
// across a call site, marshals args into the ABI's argument registers in
// left-to-right order, and reserves the return register so the
// instruction's DefineValue/DefineAsExisting binds to it without
// contention — spec.md §4.3's call-site contract, exercised by pkg/backend
// before emitting a memory-callback, SVC, or tick-source call.
func (a *Allocator) PrepareForCall(args []*ir.Inst) (argLocs []Location, ret PhysReg) {
	a.spillCallerSaved(a.abi.CallerSavedGpr, ClassGpr)
	a.spillCallerSaved(a.abi.CallerSavedFpr, ClassFpr)

	gprArgs, fprArgs := 0, 0
	argLocs = make([]Location, len(args))
	for i, arg := range args {
		class := classOf(arg.Type)
		var reg PhysReg
		if class == ClassFpr {
			reg = PhysReg{ClassFpr, a.abi.ArgFpr[fprArgs]}
			fprArgs++
		} else {
			reg = PhysReg{ClassGpr, a.abi.ArgGpr[gprArgs]}
			gprArgs++
		}
		loc, _ := a.UsePinned(arg, reg)
		argLocs[i] = loc
	}
	ret = PhysReg{ClassGpr, a.abi.ReturnGpr}
	free, activePtr := a.poolsFor(ClassGpr)
	delete(free, ret.Index)
	for i, b := range *activePtr {
		if b.inReg && b.reg == ret {
			a.evictToSpill(b)
			*activePtr = append((*activePtr)[:i], (*activePtr)[i+1:]...)
			break
		}
	}
	return argLocs, ret
}

func (a *Allocator) spillCallerSaved(indices []int, class Class) {
	callerSaved := make(map[int]bool, len(indices))
	for _, idx := range indices {
		callerSaved[idx] = true
	}
	_, activePtr := a.poolsFor(class)
	kept := (*activePtr)[:0]
	free, _ := a.poolsFor(class)
	for _, b := range *activePtr {
		if b.inReg && callerSaved[b.reg.Index] {
			slot := a.allocSpillSlot()
			free[b.reg.Index] = true
			b.inReg = false
			b.spill = slot
			continue
		}
		kept = append(kept, b)
	}
	*activePtr = kept
}
