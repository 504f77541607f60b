package jit

import (
	"errors"
	"fmt"
	"strings"

	"github.com/oisee/armjit/pkg/backend"
	"github.com/oisee/armjit/pkg/backend/amd64"
	"github.com/oisee/armjit/pkg/backend/arm64"
	"github.com/oisee/armjit/pkg/codecache"
	"github.com/oisee/armjit/pkg/dispatcher"
	"github.com/oisee/armjit/pkg/faultmem"
	"github.com/oisee/armjit/pkg/frontend"
	"github.com/oisee/armjit/pkg/ir"
	"github.com/oisee/armjit/pkg/optimizer"
	"github.com/oisee/armjit/pkg/regalloc"
	"github.com/oisee/armjit/pkg/state"
	"go.uber.org/zap"
)

// ErrBlockTooLarge is returned by Run/Step when a block still won't fit in
// the code cache arena after one ClearCache-and-retry, spec.md §7's
// "program aborts — this is a configuration error" turned into a typed
// error instead of a host-process abort: the caller almost certainly sized
// Config.CodeCacheSize too small for a block this large and should grow it,
// not retry again.
var ErrBlockTooLarge = errors.New("jit: block does not fit the code cache even after a clear")

const defaultMaxBlockInsts = 4096

// HaltReason is spec.md §6.2's bitflag halt-reason type.
type HaltReason = state.HaltReason

// JIT is one guest CPU core: Config plus the frontend/optimizer/regalloc/
// backend pipeline, the code cache it feeds, and the dispatcher that drives
// it. New is cheap enough to call once per core in a multi-core embedding,
// each sharing Config.GlobalMonitor but owning an independent Cache,
// Dispatcher and faultmem.Registry entry set.
type JIT struct {
	Config Config
	Log    *zap.Logger

	state *state.State

	backend backend.Backend
	cache   *codecache.Cache
	disp    *dispatcher.Dispatcher

	// faults is the process-global fault registry this core's code range
	// would register with if the arena were ever mapped executable (see
	// pkg/codecache's own doc comment on why it isn't in this port); kept
	// here so a production backend only has to add AddCodeBlock/
	// RemoveCodeBlock calls around EmitBlock, not introduce the registry.
	faults *faultmem.Registry
}

// New constructs a JIT from cfg. log may be nil.
func New(cfg Config, log *zap.Logger) *JIT {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.MaxBlockInsts == 0 {
		cfg.MaxBlockInsts = defaultMaxBlockInsts
	}

	var be backend.Backend
	var s *state.State
	if cfg.Arch == state.ArchA64 {
		be = arm64.Arm64{}
		s = state.NewA64()
	} else {
		be = amd64.Amd64{}
		s = state.NewA32()
	}

	arena := codecache.NewArena(codecache.NewSliceMemory(cfg.CodeCacheSize), cfg.FarCodeOffset)
	cache := codecache.New(arena)

	j := &JIT{
		Config:  cfg,
		Log:     log,
		state:   s,
		backend: be,
		cache:   cache,
		faults:  faultmem.Global(),
	}

	mem := callbackAdapter{cb: cfg.Callbacks}
	exec := dispatcher.NewIRExecutor(mem)
	j.disp = dispatcher.New(cache, exec, j.translateAndEmit, log)
	return j
}

// translateAndEmit is the codecache.TranslateFunc this JIT feeds its Cache:
// decode guest instructions into IR (pkg/frontend), run the fixed
// optimisation pipeline (pkg/optimizer), allocate host registers and emit
// machine code for the configured target (pkg/regalloc + pkg/backend).
// pkg/dispatcher's IRExecutor never runs the returned Program's bytes (see
// its own doc comment) but pkg/codecache still links and relocates them, so
// a production embedding that does branch into the arena gets real code.
func (j *JIT) translateAndEmit(loc state.Descriptor) (*ir.Block, *backend.Program, error) {
	adapter := callbackAdapter{cb: j.Config.Callbacks}

	block, err := frontend.Translate(adapter, loc, j.Config.MaxBlockInsts)
	if err != nil && !errors.Is(err, frontend.ErrBlockTooLarge) {
		return nil, nil, err
	}
	if err != nil {
		j.Log.Warn("jit: block hit the per-translation instruction cap",
			zap.Uint64("pc", loc.PC()), zap.Int("cap", j.Config.MaxBlockInsts))
	}

	polyfill := optimizer.PolyfillOptions{ExpandRotate: j.backend.Name() == "arm64"}
	passes := optimizer.Pipeline(polyfill, adapter, adapter)
	if err := optimizer.Run(block, passes); err != nil {
		return nil, nil, fmt.Errorf("jit: optimizing block at pc %#x: %w", loc.PC(), err)
	}

	alloc := regalloc.NewAllocator(j.backend.ABI(), block)
	prog, err := j.backend.EmitBlock(block, alloc)
	if err != nil {
		return nil, nil, fmt.Errorf("jit: emitting block at pc %#x: %w", loc.PC(), err)
	}
	return block, prog, nil
}

// unmeteredBudget stands in for "run until halted" when
// Config.EnableCycleCounting is false and the embedder never wired up a
// ticks callback worth consulting.
const unmeteredBudget = int64(1) << 48

// Run implements run_code end to end: query Config.Callbacks.
// GetTicksRemaining for the cycle budget, drive the dispatcher until a halt
// or the budget is exhausted, then report ticks spent back via AddTicks.
// Retries once against a freshly cleared cache if a block doesn't fit
// (spec.md §7's cache-exhaustion contract).
func (j *JIT) Run(entry state.Descriptor) (HaltReason, error) {
	for attempt := 0; ; attempt++ {
		budget := unmeteredBudget
		if j.Config.EnableCycleCounting {
			budget = j.Config.Callbacks.GetTicksRemaining()
		}

		halt, err := j.disp.Run(j.state, entry, budget)

		if j.Config.EnableCycleCounting {
			if spent := budget - j.state.CyclesRemaining; spent > 0 {
				j.Config.Callbacks.AddTicks(uint64(spent))
			}
		}

		if errors.Is(err, codecache.ErrCacheFull) {
			if attempt > 0 {
				return 0, ErrBlockTooLarge
			}
			j.ClearCache()
			continue
		}
		return halt, err
	}
}

// Step implements step_code: translate and execute exactly one block
// regardless of cycle budget, reporting one tick spent. Same cache-full
// retry contract as Run.
func (j *JIT) Step(entry state.Descriptor) (HaltReason, error) {
	for attempt := 0; ; attempt++ {
		halt, err := j.disp.Step(j.state, entry)
		if errors.Is(err, codecache.ErrCacheFull) {
			if attempt > 0 {
				return 0, ErrBlockTooLarge
			}
			j.ClearCache()
			continue
		}
		if err == nil && j.Config.EnableCycleCounting {
			j.Config.Callbacks.AddTicks(1)
		}
		return halt, err
	}
}

// ClearCache discards every translated block.
func (j *JIT) ClearCache() { j.cache.ClearCache() }

// InvalidateCacheRange discards translated blocks overlapping the given
// arena-offset range, the response to a guest self-modifying-code write.
func (j *JIT) InvalidateCacheRange(start, length int) { j.cache.InvalidateCacheRange(start, length) }

// Halt requests that Run/Step stop at the next block boundary. Safe to call
// from any goroutine, including from inside a Callbacks method.
func (j *JIT) Halt(reason HaltReason) { j.state.RequestHalt(reason) }

// Reset restores this core's architectural state to power-on defaults and
// drops its exclusive-monitor reservation, but leaves the code cache intact
// (translated blocks don't depend on register contents).
func (j *JIT) Reset() {
	if j.Config.Arch == state.ArchA64 {
		j.state = state.NewA64()
	} else {
		j.state = state.NewA32()
	}
	j.ClearExclusiveState()
}

// Regs returns the general-purpose register file, widened to 64 bits. For
// an A64 core this is a live view: writes through the returned slice are
// visible to the next Run/Step. For an A32 core (32-bit native storage)
// it's a snapshot; use SetReg to write one back. This asymmetry is a
// recorded Open Question resolution (DESIGN.md), not an oversight — a
// single Go method can't return a live view over two different native
// widths without a third allocation on every call.
func (j *JIT) Regs() []uint64 {
	if j.Config.Arch == state.ArchA64 {
		return j.state.GPR64[:]
	}
	out := make([]uint64, len(j.state.GPR32))
	for i, v := range j.state.GPR32 {
		out[i] = uint64(v)
	}
	return out
}

// SetReg writes register i, the inverse of Regs for an A32 core (a no-op
// correctness-wise on A64, where Regs already returns a live view, but
// provided so callers don't need an arch switch of their own).
func (j *JIT) SetReg(i int, v uint64) {
	if j.Config.Arch == state.ArchA64 {
		j.state.GPR64[i] = v
		return
	}
	j.state.GPR32[i] = uint32(v)
}

// ExtRegs returns the vector/FP register file as a live view — VFP/NEON
// S/D/Q regs for A32, V0-V31 for A64 — both already stored uniformly as
// state.VecReg regardless of architecture.
func (j *JIT) ExtRegs() []state.VecReg { return j.state.Vec[:] }

// Cpsr packs the A32 status-register-visible bits. For an A64 core this
// still reports the same NZCV/Q bits PSTATE shares with CPSR; the A64-only
// fields (SP_EL0 selection, exception level) aren't modeled.
func (j *JIT) Cpsr() uint32 { return j.state.Cpsr() }

// SetCpsr is the inverse of Cpsr.
func (j *JIT) SetCpsr(cpsr uint32) { j.state.SetCpsr(cpsr) }

// Fpscr returns the packed FPCR/FPSR view.
func (j *JIT) Fpscr() uint32 { return j.state.Fpscr() }

// SetFpscr is the inverse of Fpscr.
func (j *JIT) SetFpscr(fpscr uint32) { j.state.SetFpscr(fpscr) }

// SaveContext snapshots every piece of architectural state Run/Step can
// observe or mutate, for a caller implementing guest thread context
// switches.
func (j *JIT) SaveContext() state.Context { return j.state.SaveContext() }

// LoadContext is the inverse of SaveContext.
func (j *JIT) LoadContext(c state.Context) { j.state.LoadContext(c) }

// ClearExclusiveState drops this core's exclusive-monitor reservation
// without performing a store, e.g. on a guest context switch.
func (j *JIT) ClearExclusiveState() {
	j.state.ClearExclusiveState()
	if j.Config.GlobalMonitor != nil {
		j.Config.GlobalMonitor.ClearProcessor(j.Config.ProcessorID)
	}
}

// DumpDisassembly renders every currently cached block's retained IR and
// terminal as text, for debugging a translation gone wrong. There is no
// host-code disassembler in this port (the arena never holds real machine
// code a caller could feed to one — see pkg/codecache's own doc comment),
// so this reports the IR pkg/dispatcher actually executes instead.
func (j *JIT) DumpDisassembly() string {
	var sb strings.Builder
	for _, info := range j.cache.Blocks() {
		block := info.Block()
		fmt.Fprintf(&sb, "block %#x (arena offset %#x, %d bytes, %d cycles):\n",
			block.Location.PC(), info.Offset, info.Length, block.Cycles)
		for _, inst := range block.Insts {
			fmt.Fprintf(&sb, "  %s\n", inst.String())
		}
		fmt.Fprintf(&sb, "  terminal: %s\n", block.Terminal.Kind.String())
	}
	return sb.String()
}
