package state

// HaltReason is a bitfield describing why run_code/step_code returned
// control to the caller, per spec.md §5. Multiple reasons can be set
// simultaneously (e.g. a host-requested halt racing a single-step).
type HaltReason uint32

const (
	// HaltUserDefined1 through HaltUserDefined5 are reserved for
	// Callbacks-driven halts (e.g. a debugger breakpoint, an SVC handler
	// that wants to hand control back to the host). The caller chooses
	// which bit(s) to set via RequestHalt; the JIT never sets these
	// itself.
	HaltUserDefined1 HaltReason = 1 << iota
	HaltUserDefined2
	HaltUserDefined3
	HaltUserDefined4
	HaltUserDefined5

	// HaltStep is set when step_code returns after executing exactly one
	// block.
	HaltStep HaltReason = 1 << 30

	// HaltCacheInvalidation names a cache invalidation deferred while the
	// JIT was mid-run. Nothing in this module requests it: pkg/codecache
	// applies a deferred invalidation when the run ends, without a halt.
	HaltCacheInvalidation HaltReason = 1 << 31

	// HaltMemoryAbort names a guest memory access that no registered
	// code-block handler could service. Nothing in this module requests
	// it; pkg/faultmem's PanicOnFaultSource re-panics such a fault instead.
	HaltMemoryAbort HaltReason = 1 << 29
)

// Has reports whether every bit in want is set in r.
func (r HaltReason) Has(want HaltReason) bool { return r&want == want }

// Any reports whether r has any bit set.
func (r HaltReason) Any() bool { return r != 0 }

// Context is a deep-copy snapshot of a State suitable for save/load and for
// moving a guest execution context between JIT instances that share the
// same code cache (spec.md §6.2). It never carries code-cache pointers: RSB
// entries reference descriptors only, and are revalidated (or discarded, if
// InvalidCacheGen has moved on) by LoadContext rather than trusted as raw
// host addresses.
type Context struct {
	Arch Arch

	GPR32 [16]uint32
	GPR64 [31]uint64
	SP64  uint64
	PC    uint64

	Vec [32]VecReg

	NZCV    uint32
	Q       bool
	GE      [4]uint8
	ITState uint8
	BigE    bool
	Thumb   bool

	FPCR uint32
	FPSR uint32

	ExclusiveHeld    bool
	ExclusiveAddress uint64

	// RSBDescriptors holds only the descriptor half of each RSB slot;
	// the host-code half is never serialized; LoadContext rebuilds it as
	// zero (a miss), so the next PopRSBHint simply falls through to
	// dispatch-by-descriptor instead of jumping to stale host code.
	RSBDescriptors [RSBSize]Descriptor
	RSBPtr         uint32
}

// SaveContext captures a deep copy of s. The returned Context shares no
// memory with s; mutating s afterwards does not affect it.
func (s *State) SaveContext() Context {
	c := Context{
		Arch:             s.Arch,
		GPR32:            s.GPR32,
		GPR64:            s.GPR64,
		SP64:             s.SP64,
		PC:               s.pc,
		Vec:              s.Vec,
		NZCV:             s.NZCV,
		Q:                s.Q,
		GE:               s.GE,
		ITState:          s.ITState,
		BigE:             s.BigE,
		Thumb:            s.Thumb,
		FPCR:             s.FPCR,
		FPSR:             s.FPSR,
		ExclusiveHeld:    s.ExclusiveHeld,
		ExclusiveAddress: s.ExclusiveAddress,
		RSBPtr:           s.RSBPtr,
	}
	for i, e := range s.RSB {
		c.RSBDescriptors[i] = e.Descriptor
	}
	return c
}

// LoadContext overwrites s's architectural state with c's. Cycle-accounting
// fields, the halt-reason bitfield, and the invalid-cache generation
// counter are left untouched — they belong to the run loop, not to the
// guest-visible context.
func (s *State) LoadContext(c Context) {
	s.Arch = c.Arch
	s.GPR32 = c.GPR32
	s.GPR64 = c.GPR64
	s.SP64 = c.SP64
	s.SetPC(c.PC)
	s.Vec = c.Vec
	s.NZCV = c.NZCV
	s.Q = c.Q
	s.GE = c.GE
	s.ITState = c.ITState
	s.BigE = c.BigE
	s.Thumb = c.Thumb
	s.FPCR = c.FPCR
	s.FPSR = c.FPSR
	s.ExclusiveHeld = c.ExclusiveHeld
	s.ExclusiveAddress = c.ExclusiveAddress

	s.RSBPtr = c.RSBPtr
	for i, d := range c.RSBDescriptors {
		s.RSB[i] = RSBEntry{Descriptor: d}
	}
}

// ClearExclusiveState releases any exclusive-monitor reservation this
// State holds, mirroring the guest CLREX instruction and the JIT-level
// ClearExclusiveState operation from spec.md §6.1.
func (s *State) ClearExclusiveState() {
	s.ExclusiveHeld = false
	s.ExclusiveAddress = 0
}
