// Package dispatcher implements the run loop spec.md §4.6 describes:
// run_code/step_code's prelude, the return_to_dispatcher re-entry check,
// and return_from_run_code's exit path, expressed as ordinary Go methods
// instead of generated host assembly.
//
// A real embedding's prelude is a handful of host instructions that swap
// the MXCSR/FPCR control word and tail-jump straight into a cached block's
// machine code. pkg/codecache's arena never holds real executable memory in
// this port (see its own doc comment), so BlockExecutor is the seam that
// stands in for "jump to the block's host code": the default IRExecutor
// interprets the block's retained IR against state.State directly. A
// production embedding that does map the arena executable supplies its own
// BlockExecutor and nothing else here changes.
package dispatcher

import (
	"errors"
	"sync/atomic"

	"github.com/oisee/armjit/pkg/codecache"
	"github.com/oisee/armjit/pkg/state"
	"go.uber.org/zap"
)

// ErrAlreadyRunning is returned by Run/Step when a call is already in
// progress on this Dispatcher. spec.md §5 leaves re-entrant Run/Step as
// undefined behaviour in the original C++ prelude; this port turns that
// into a checked, typed error instead of a corrupted pinned-register stack.
var ErrAlreadyRunning = errors.New("dispatcher: Run or Step already in progress")

// MemoryAccess is the narrow slice of a host's callback surface IRExecutor
// needs: memory access and the two trap-like hand-offs (SVC, a raised
// guest exception). It mirrors pkg/backend.MemoryCallbackSlot's read/write
// family without pulling in all of pkg/jit.Config's Callbacks.
type MemoryAccess interface {
	Read8(addr uint64) uint8
	Read16(addr uint64) uint16
	Read32(addr uint64) uint32
	Read64(addr uint64) uint64
	Write8(addr uint64, v uint8)
	Write16(addr uint64, v uint16)
	Write32(addr uint64, v uint32)
	Write64(addr uint64, v uint64)
	CallSupervisor(swi uint32)
	ExceptionRaised(pc uint64, kind uint64)
}

// BlockExecutor runs one linked block's translation against s until its
// terminal either resolves to a concrete next descriptor or falls through
// to the dispatcher.
type BlockExecutor interface {
	// Execute runs info against s and reports the resolved next descriptor.
	// ok is false when the block's terminal bottomed out at
	// ReturnToDispatch, CheckHalt, PopRSBHint, or FastDispatchHint — cases
	// the dispatcher itself must resolve (by re-deriving the descriptor
	// from s, or by returning to the host) rather than the executor.
	Execute(info *codecache.EmittedBlockInfo, s *state.State) (next state.Descriptor, ok bool)
}

// Dispatcher drives Cache.LookupOrTranslate/Executor.Execute in a loop,
// implementing run_code/step_code.
type Dispatcher struct {
	Cache     *codecache.Cache
	Executor  BlockExecutor
	Translate codecache.TranslateFunc
	Log       *zap.Logger

	running atomic.Bool

	// hostFPWord simulates the host's own floating-point control register:
	// the word active just before the most recent enterPrelude call,
	// restored by the matching exitPrelude. See pkg/state.FPControl's doc
	// comment for why this port never touches a real control register.
	hostFPWord uint32
}

// New returns a Dispatcher driving cache via executor, translating cache
// misses with translate. log may be nil.
func New(cache *codecache.Cache, executor BlockExecutor, translate codecache.TranslateFunc, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{Cache: cache, Executor: executor, Translate: translate, Log: log}
}

// Run implements run_code: execute blocks starting at entry until a halt is
// observed or the cycle budget given by cyclesToRun is exhausted.
func (d *Dispatcher) Run(s *state.State, entry state.Descriptor, cyclesToRun int64) (state.HaltReason, error) {
	if !d.running.CompareAndSwap(false, true) {
		return 0, ErrAlreadyRunning
	}
	defer d.running.Store(false)

	d.enterPrelude(s)
	d.Cache.BeginRun()
	defer d.Cache.EndRun()

	s.CyclesToRun = cyclesToRun
	s.CyclesRemaining = cyclesToRun

	cur := entry
	for {
		if halt, stop := d.returnToDispatcher(s); stop {
			return d.returnFromRunCode(s, halt), nil
		}

		info, err := d.Cache.LookupOrTranslate(cur, d.Translate)
		if err != nil {
			return d.returnFromRunCode(s, 0), err
		}

		next, resolved := d.Executor.Execute(info, s)
		s.CyclesRemaining -= int64(info.Cycles())
		d.Log.Debug("dispatcher: executed block",
			zap.Uint64("pc", info.Location.PC()),
			zap.Int("cycles", info.Cycles()),
			zap.Int64("cycles_remaining", s.CyclesRemaining))

		if resolved {
			cur = next
			continue
		}
		cur = d.descriptorFor(s)
	}
}

// Step implements step_code: translate and execute exactly one block,
// regardless of cycle budget, and report HaltStep.
func (d *Dispatcher) Step(s *state.State, entry state.Descriptor) (state.HaltReason, error) {
	if !d.running.CompareAndSwap(false, true) {
		return 0, ErrAlreadyRunning
	}
	defer d.running.Store(false)

	d.enterPrelude(s)
	d.Cache.BeginRun()
	defer d.Cache.EndRun()

	info, err := d.Cache.LookupOrTranslate(entry, d.Translate)
	if err != nil {
		return d.returnFromRunCode(s, 0), err
	}
	d.Executor.Execute(info, s)
	return d.returnFromRunCode(s, state.HaltStep), nil
}

// returnToDispatcher is the checkpoint run after every block: atomically
// read-and-clear the halt bitfield and check the remaining cycle budget,
// reporting whether the run loop should exit now.
func (d *Dispatcher) returnToDispatcher(s *state.State) (state.HaltReason, bool) {
	if h := s.Halted(); h.Any() {
		return s.ClearHalt(), true
	}
	if s.CyclesRemaining <= 0 {
		return 0, true
	}
	return 0, false
}

// returnFromRunCode undoes enterPrelude's FP-control swap and hands halt
// back to the caller; the single exit path out of Run/Step.
func (d *Dispatcher) returnFromRunCode(s *state.State, halt state.HaltReason) state.HaltReason {
	d.exitPrelude(s)
	return halt
}

// enterPrelude captures the word simulating the host's previously-active FP
// control register and installs the guest's FPCR in its place.
func (d *Dispatcher) enterPrelude(s *state.State) {
	s.FPControl.Save(d.hostFPWord)
	d.hostFPWord = s.FPCR
}

// exitPrelude restores the host FP control word captured by enterPrelude.
func (d *Dispatcher) exitPrelude(s *state.State) {
	d.hostFPWord = s.FPControl.Restore()
}

// descriptorFor rebuilds a state.Descriptor from s's current architectural
// state, used when a block's terminal falls through to the dispatcher
// instead of naming its successor directly.
func (d *Dispatcher) descriptorFor(s *state.State) state.Descriptor {
	roundMode := uint8((s.FPCR >> 22) & 0x3)
	fz := s.FPCR&(1<<24) != 0
	return state.NewDescriptor(s.Arch, s.PC(), s.Thumb, s.ITState, roundMode, fz, s.BigE, false)
}
