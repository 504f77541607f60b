package codecache

import (
	"errors"
	"sync"

	"github.com/oisee/armjit/pkg/backend"
	"github.com/oisee/armjit/pkg/ir"
	"github.com/oisee/armjit/pkg/state"
)

// ErrCacheFull is returned by LookupOrTranslate when a freshly translated
// block can't fit in either the near or far region; the caller (pkg/jit) is
// expected to ClearCache and retry, per spec.md §4.5's SpaceFloor check.
var ErrCacheFull = errors.New("codecache: arena has no room for this block")

// EmittedBlockInfo is everything the cache keeps about one linked block:
// where its bytes live in the arena and the retained IR pkg/dispatcher's
// default BlockExecutor interprets in place of branching into those bytes.
type EmittedBlockInfo struct {
	Location   state.Descriptor
	Offset     int
	Length     int
	Generation uint64

	block *ir.Block
}

// Block returns the IR this info was linked from.
func (info *EmittedBlockInfo) Block() *ir.Block { return info.block }

// Cycles reports the guest cycle cost pkg/dispatcher should deduct from the
// run's remaining budget after executing this block.
func (info *EmittedBlockInfo) Cycles() int { return info.block.Cycles }

// pendingReloc is a BlockRelocation this cache hasn't been able to resolve
// yet because its target descriptor hasn't been emitted.
type pendingReloc struct {
	siteOffset int
	kind       backend.RelocKind
}

type invalidateRange struct {
	start, length int
}

// TranslateFunc produces a block's IR and host Program for a descriptor
// pkg/codecache has never seen before. pkg/jit supplies the closure that
// chains pkg/frontend, pkg/optimizer, and pkg/regalloc, keeping this package
// decoupled from those three — it only needs to know pkg/backend's Program
// shape to link the result.
type TranslateFunc func(loc state.Descriptor) (*ir.Block, *backend.Program, error)

// Cache is the arena plus the three indices spec.md §4.5 describes: a
// descriptor-to-offset table, an offset-to-info table, and a table of
// relocation sites still waiting on a descriptor that hasn't been emitted
// yet. ClearCache/InvalidateCacheRange are deferred while a Run is on the
// call stack (BeginRun/EndRun bracket it) and applied the moment the run
// loop unwinds, matching "if a Run is currently on the stack ... set a halt
// bit and perform once the dispatcher unwinds".
type Cache struct {
	mu    sync.Mutex
	arena *Arena

	blockEntries    map[state.Descriptor]int
	blockInfos      map[int]*EmittedBlockInfo
	blockReferences map[state.Descriptor][]pendingReloc

	generation uint64

	runDepth          int
	pendingClear      bool
	pendingInvalidate []invalidateRange
}

// New returns an empty Cache over arena.
func New(arena *Arena) *Cache {
	return &Cache{
		arena:           arena,
		blockEntries:    make(map[state.Descriptor]int),
		blockInfos:      make(map[int]*EmittedBlockInfo),
		blockReferences: make(map[state.Descriptor][]pendingReloc),
	}
}

// Generation reports how many times the cache has been wiped or had a range
// invalidated — pkg/dispatcher compares this against a stale RSB/FastDispatch
// hit before trusting it.
func (c *Cache) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// BeginRun marks that a Run/Step is now on the call stack, deferring any
// ClearCache/InvalidateCacheRange requested while it's active.
func (c *Cache) BeginRun() {
	c.mu.Lock()
	c.runDepth++
	c.mu.Unlock()
}

// EndRun marks that a Run/Step has returned, applying any clear or
// invalidation that was deferred while it ran.
func (c *Cache) EndRun() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runDepth--
	if c.runDepth > 0 {
		return
	}
	doClear := c.pendingClear
	ranges := c.pendingInvalidate
	c.pendingClear = false
	c.pendingInvalidate = nil
	if doClear {
		c.clearLocked()
		return
	}
	for _, r := range ranges {
		c.invalidateRangeLocked(r.start, r.length)
	}
}

// ClearCache wipes every linked block and resets the arena, or defers the
// wipe if a Run is currently executing.
func (c *Cache) ClearCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.runDepth > 0 {
		c.pendingClear = true
		return
	}
	c.clearLocked()
}

func (c *Cache) clearLocked() {
	c.arena.Reset()
	c.blockEntries = make(map[state.Descriptor]int)
	c.blockInfos = make(map[int]*EmittedBlockInfo)
	c.blockReferences = make(map[state.Descriptor][]pendingReloc)
	c.generation++
}

// InvalidateCacheRange discards every linked block whose bytes overlap
// [start, start+length) in arena-offset space — the Go-native stand-in for
// a host virtual-address range, since this arena never holds a real mapped
// address (see arena.go's package doc). A backend embedding that does map
// the arena would translate its real addresses to arena offsets before
// calling this.
func (c *Cache) InvalidateCacheRange(start, length int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.runDepth > 0 {
		c.pendingInvalidate = append(c.pendingInvalidate, invalidateRange{start, length})
		return
	}
	c.invalidateRangeLocked(start, length)
}

func (c *Cache) invalidateRangeLocked(start, length int) {
	end := start + length
	for off, info := range c.blockInfos {
		if info.Offset < end && info.Offset+info.Length > start {
			delete(c.blockInfos, off)
			delete(c.blockEntries, info.Location)
		}
	}
	c.generation++
}

// Blocks returns every currently linked block's info, in no particular
// order. pkg/jit's DumpDisassembly walks this to render each block's
// retained IR.
func (c *Cache) Blocks() []*EmittedBlockInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*EmittedBlockInfo, 0, len(c.blockInfos))
	for _, info := range c.blockInfos {
		out = append(out, info)
	}
	return out
}

// LookupOrTranslate returns the EmittedBlockInfo for loc, translating and
// linking it via translate on a cache miss.
func (c *Cache) LookupOrTranslate(loc state.Descriptor, translate TranslateFunc) (*EmittedBlockInfo, error) {
	c.mu.Lock()
	if off, ok := c.blockEntries[loc]; ok {
		info := c.blockInfos[off]
		c.mu.Unlock()
		return info, nil
	}
	c.mu.Unlock()

	block, prog, err := translate(loc)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if off, ok := c.blockEntries[loc]; ok {
		return c.blockInfos[off], nil
	}
	return c.linkLocked(loc, block, prog)
}
