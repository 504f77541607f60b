// Package codecache implements the code cache and linker spec.md §4.5
// describes: a growable arena that holds every translated block's host
// bytes, the indices that map a guest state.Descriptor to its emitted
// block, and the relocation bookkeeping that patches a block's
// BlockRelocations (LinkBlockFast edges included) as soon as the target
// block exists.
//
// A real embedding maps this arena with mmap(PROT_EXEC) and branches into
// it directly from generated host code. This port has no generated host
// code to branch from — pkg/dispatcher interprets a block's retained IR
// instead of jumping into its bytes — so Arena is backed by a plain []byte
// behind the ExecMemory interface below. Swapping in a real mmap-backed
// ExecMemory, and a pkg/dispatcher.BlockExecutor that actually branches
// into it, is a drop-in behind these two interfaces; nothing else in this
// package's layout or linking logic would need to change.
package codecache

import "fmt"

// ExecMemory abstracts the backing store an Arena carves blocks out of.
// SliceMemory is the only implementation in this port; a production
// embedding's mmap-backed implementation satisfies the same interface.
type ExecMemory interface {
	// Bytes returns the full backing buffer. Writes through the returned
	// slice are visible to future reads at the same offsets.
	Bytes() []byte
	// Len reports the buffer's total capacity in bytes.
	Len() int
}

// SliceMemory is an ExecMemory backed by an ordinary heap-allocated slice.
type SliceMemory struct {
	buf []byte
}

// NewSliceMemory allocates size bytes of backing store.
func NewSliceMemory(size int) *SliceMemory {
	return &SliceMemory{buf: make([]byte, size)}
}

func (m *SliceMemory) Bytes() []byte { return m.buf }
func (m *SliceMemory) Len() int      { return len(m.buf) }

// arenaRegion names one of the three regions spec.md §4.5 lays an arena out
// into: near code grows up from the bottom, the constant pool grows down
// from the top, and far code (emitted when near code fills up, or for
// blocks the allocator decided not to keep near) occupies whatever the
// caller reserved for it.
type arenaRegion int

const (
	regionNear arenaRegion = iota
	regionFar
)

// Arena is one contiguous ExecMemory split into near code, far code, and a
// constant pool, per spec.md §4.5's "near/far/constant-pool" layout. Near
// and far code bump-allocate upward from their own offsets; the constant
// pool bump-allocates downward from the top of the buffer so the two
// growth directions can never collide without also exhausting the whole
// arena.
type Arena struct {
	mem ExecMemory

	nearOffset int
	nearEnd    int // exclusive upper bound of the near region
	farOffset  int
	farEnd     int // exclusive upper bound of the far region; also constant pool's starting ceiling

	poolOffset int // next free byte below the constant pool's high-water mark

	// constants interns 128-bit literals so two blocks referencing the same
	// rotate mask or FP immediate share one pool slot instead of each
	// paying for their own copy.
	constants map[[16]byte]int
}

// NewArena carves size bytes into a near region (farOffset bytes) and a far
// region occupying the remainder, matching spec.md §4.5's FarCodeOffset
// configuration knob (see pkg/jit.Config.FarCodeOffset).
func NewArena(mem ExecMemory, farCodeOffset int) *Arena {
	total := mem.Len()
	if farCodeOffset > total {
		farCodeOffset = total
	}
	return &Arena{
		mem:        mem,
		nearOffset: 0,
		nearEnd:    farCodeOffset,
		farOffset:  farCodeOffset,
		farEnd:     total,
		poolOffset: total,
		constants:  make(map[[16]byte]int),
	}
}

// Reset empties every region without reallocating the backing store,
// matching ClearCache's full-wipe semantics.
func (a *Arena) Reset() {
	a.nearOffset = 0
	a.farOffset = a.nearEnd
	a.poolOffset = a.farEnd
	a.constants = make(map[[16]byte]int)
}

// allocCode bump-allocates n bytes from region, failing if the region would
// collide with the constant pool's current high-water mark.
func (a *Arena) allocCode(region arenaRegion, n int) (offset int, ok bool) {
	switch region {
	case regionNear:
		if a.nearOffset+n > a.nearEnd || a.nearOffset+n > a.poolOffset {
			return 0, false
		}
		offset = a.nearOffset
		a.nearOffset += n
		return offset, true
	case regionFar:
		if a.farOffset+n > a.farEnd || a.farOffset+n > a.poolOffset {
			return 0, false
		}
		offset = a.farOffset
		a.farOffset += n
		return offset, true
	default:
		return 0, false
	}
}

// internConstant returns the pool offset of v's bytes, allocating a new
// 16-byte slot on first use and reusing it on every later call with the
// same bits.
func (a *Arena) internConstant(v [16]byte) (offset int, ok bool) {
	if existing, found := a.constants[v]; found {
		return existing, true
	}
	const width = 16
	if a.poolOffset-width < a.farOffset {
		return 0, false
	}
	a.poolOffset -= width
	copy(a.mem.Bytes()[a.poolOffset:], v[:])
	a.constants[v] = a.poolOffset
	return a.poolOffset, true
}

// Bytes exposes the backing buffer for a linked block's copy-in.
func (a *Arena) Bytes() []byte { return a.mem.Bytes() }

func (a *Arena) String() string {
	return fmt.Sprintf("arena{near=%d/%d far=%d/%d pool<%d}", a.nearOffset, a.nearEnd, a.farOffset, a.farEnd, a.poolOffset)
}
