// Package faultmem implements the host-memory exception handler spec.md
// §4.7 describes: a process-global registry mapping a guest code block's
// host address range to the callback that knows how to recover from a
// fastmem access that faulted somewhere inside it, plus the FakeCall rewind
// contract a recovered fault hands back to the dispatcher.
package faultmem

import (
	"runtime/debug"
	"sync"
)

// FakeCall is the rewind a fault handler hands back to the dispatcher:
// synthesize a call that looks like it branched to CallRIP and is about to
// return to RetRIP, without ever really executing CallRIP. This lets a
// faulted fastmem access fall back to the slow callback-path access as if
// the backend had emitted a call there in the first place.
type FakeCall struct {
	CallRIP uintptr
	RetRIP  uintptr
}

// FaultCallback is invoked with the faulting PC (guaranteed to fall inside
// the code range it was registered under) and must produce the FakeCall the
// dispatcher applies to resume.
type FaultCallback func(faultingPC uintptr) FakeCall

type entry struct {
	begin, end uintptr
	callback   FaultCallback
}

// Registry is the process-wide (code_begin, code_end, callback) table
// spec.md §4.7/§5 describe: a single mutex-guarded slice whose entries are
// added with AddCodeBlock and removed with RemoveCodeBlock. Nothing in this
// module outside its tests calls either; pkg/jit holds the registry but
// registers no code ranges.
type Registry struct {
	mu      sync.Mutex
	entries []entry
}

var global Registry

// Global returns the process-global registry every JIT instance sharing a
// fastmem mapping must register its blocks with, matching spec.md §5's
// "process-global ... guarded by a mutex" requirement. It is lazily valid
// from program start; there is no explicit init step.
func Global() *Registry { return &global }

// AddCodeBlock registers callback for faults whose PC falls in [begin, end).
func (r *Registry) AddCodeBlock(begin, end uintptr, callback FaultCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry{begin: begin, end: end, callback: callback})
}

// RemoveCodeBlock undoes a prior AddCodeBlock for the exact same range, so
// a stale PC is never looked up again.
func (r *Registry) RemoveCodeBlock(begin, end uintptr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.entries[:0]
	for _, e := range r.entries {
		if e.begin == begin && e.end == end {
			continue
		}
		kept = append(kept, e)
	}
	r.entries = kept
}

// Lookup returns the callback registered for the block containing pc, or
// nil if no registered range claims it — an unrecoverable fault.
func (r *Registry) Lookup(pc uintptr) FaultCallback {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if pc >= e.begin && pc < e.end {
			return e.callback
		}
	}
	return nil
}

// FaultSource delivers a faulting PC to a Registry and recovers control
// afterwards. Go's runtime does not let user code install a raw
// SIGSEGV/VEH trampoline that safely rewrites an arbitrary goroutine's
// register state the way §4.7 assumes a C++ host can; this interface is the
// seam that replaces it. PanicOnFaultSource is the real implementation;
// SimulatedFaultSource lets tests inject a fault deterministically without
// ever touching unmapped memory.
type FaultSource interface {
	// Guard runs fn with fault delivery armed. If fn faults and the fault
	// resolves against the registry, Guard returns the resulting FakeCall
	// and true; otherwise it returns (FakeCall{}, false) once fn has run
	// to completion.
	Guard(fn func()) (FakeCall, bool)
}

// PanicOnFaultSource implements FaultSource using runtime/debug's
// SetPanicOnFault: a SIGSEGV/SIGBUS arising from an ordinary memory access
// inside Guard's fn becomes a Go runtime panic instead of crashing the
// process, which Guard recovers and looks up in Registry. FaultingAddr
// extracts the faulting PC from the recovered value — the standard library
// does not expose it as part of the public runtime.Error surface, so the
// caller supplies the extraction, keeping this package portable across the
// Linux/Darwin, amd64/arm64 combinations spec.md §4.7 names without an
// unsafe dependency baked in here.
type PanicOnFaultSource struct {
	Registry     *Registry
	FaultingAddr func(recovered any) (pc uintptr, ok bool)
}

// NewPanicOnFaultSource returns a PanicOnFaultSource consulting registry.
func NewPanicOnFaultSource(registry *Registry, faultingAddr func(recovered any) (uintptr, bool)) *PanicOnFaultSource {
	return &PanicOnFaultSource{Registry: registry, FaultingAddr: faultingAddr}
}

// Guard implements FaultSource. A recovered value this source can't resolve
// to a registered block — either FaultingAddr doesn't recognize it or no
// block claims the address — is re-panicked rather than absorbed, the
// SA_HANDLER-equivalent "chain to the previously installed handler" branch
// §4.7 requires of any handler that doesn't own the fault.
func (s *PanicOnFaultSource) Guard(fn func()) (fc FakeCall, faulted bool) {
	debug.SetPanicOnFault(true)
	defer debug.SetPanicOnFault(false)
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		pc, ok := s.FaultingAddr(r)
		if !ok {
			panic(r)
		}
		cb := s.Registry.Lookup(pc)
		if cb == nil {
			panic(r)
		}
		fc = cb(pc)
		faulted = true
	}()
	fn()
	return fc, faulted
}

// SimulatedFaultSource lets tests exercise the registry/FakeCall contract
// deterministically: the first Guard call reports FaultAt as the faulting
// PC (skipping fn's body entirely, mirroring a fault that happens before fn
// would otherwise return) when FaultAt resolves against Registry; a zero
// FaultAt, or one no block claims, just runs fn normally.
type SimulatedFaultSource struct {
	Registry *Registry
	FaultAt  uintptr
}

func (s *SimulatedFaultSource) Guard(fn func()) (FakeCall, bool) {
	if s.FaultAt != 0 {
		if cb := s.Registry.Lookup(s.FaultAt); cb != nil {
			return cb(s.FaultAt), true
		}
	}
	fn()
	return FakeCall{}, false
}
