package codecache

import (
	"errors"
	"testing"

	"github.com/oisee/armjit/pkg/backend"
	"github.com/oisee/armjit/pkg/ir"
	"github.com/oisee/armjit/pkg/state"
	"github.com/stretchr/testify/require"
)

func descAt(pc uint64) state.Descriptor {
	return state.NewDescriptor(state.ArchA32, pc, false, 0, 0, false, false, false)
}

func jmpProgram(targetDesc state.Descriptor, fast bool) *backend.Program {
	return &backend.Program{
		Code: []byte{0xE9, 0, 0, 0, 0},
		BlockRelocations: []backend.BlockRelocation{
			{Offset: 0, Kind: backend.RelocRel32Amd64, Target: targetDesc, Fast: fast},
		},
	}
}

func retProgram() *backend.Program {
	return &backend.Program{Code: []byte{0xC3}}
}

func TestArenaAllocSplitsNearFarAndRejectsOverflow(t *testing.T) {
	a := NewArena(NewSliceMemory(32), 16)
	off, ok := a.allocCode(regionNear, 8)
	require.True(t, ok)
	require.Equal(t, 0, off)

	off, ok = a.allocCode(regionNear, 16)
	require.False(t, ok, "near region only has 8 bytes left of its 16-byte budget")

	off, ok = a.allocCode(regionFar, 8)
	require.True(t, ok)
	require.Equal(t, 16, off)
}

func TestArenaInternConstantDeduplicates(t *testing.T) {
	a := NewArena(NewSliceMemory(64), 32)
	var v [16]byte
	v[0] = 0xAB

	off1, ok := a.internConstant(v)
	require.True(t, ok)
	off2, ok := a.internConstant(v)
	require.True(t, ok)
	require.Equal(t, off1, off2, "the same constant bits must reuse one pool slot")
	require.Equal(t, byte(0xAB), a.Bytes()[off1])
}

func TestLookupOrTranslateLinksAndCachesBlock(t *testing.T) {
	c := New(NewArena(NewSliceMemory(256), 128))
	loc := descAt(0x1000)
	calls := 0
	translate := func(state.Descriptor) (*ir.Block, *backend.Program, error) {
		calls++
		return ir.NewBlock(loc), retProgram(), nil
	}

	info1, err := c.LookupOrTranslate(loc, translate)
	require.NoError(t, err)
	require.Equal(t, loc, info1.Location)

	info2, err := c.LookupOrTranslate(loc, translate)
	require.NoError(t, err)
	require.Same(t, info1, info2, "a second lookup of the same descriptor must hit the cache")
	require.Equal(t, 1, calls, "translate must run exactly once per descriptor")
}

func TestLinkResolvesForwardReferenceImmediately(t *testing.T) {
	c := New(NewArena(NewSliceMemory(256), 128))
	target := descAt(0x2000)

	_, err := c.LookupOrTranslate(target, func(loc state.Descriptor) (*ir.Block, *backend.Program, error) {
		return ir.NewBlock(loc), retProgram(), nil
	})
	require.NoError(t, err)

	caller := descAt(0x1000)
	callerInfo, err := c.LookupOrTranslate(caller, func(loc state.Descriptor) (*ir.Block, *backend.Program, error) {
		return ir.NewBlock(loc), jmpProgram(target, false), nil
	})
	require.NoError(t, err)

	targetOff := c.blockEntries[target]
	code := c.arena.Bytes()
	delta := int32(code[callerInfo.Offset+1]) | int32(code[callerInfo.Offset+2])<<8 |
		int32(code[callerInfo.Offset+3])<<16 | int32(code[callerInfo.Offset+4])<<24
	require.Equal(t, int32(targetOff-(callerInfo.Offset+5)), delta)
}

func TestLinkPatchesPendingBackReferenceOnceTargetAppears(t *testing.T) {
	c := New(NewArena(NewSliceMemory(256), 128))
	target := descAt(0x2000)
	caller := descAt(0x1000)

	callerInfo, err := c.LookupOrTranslate(caller, func(loc state.Descriptor) (*ir.Block, *backend.Program, error) {
		return ir.NewBlock(loc), jmpProgram(target, false), nil
	})
	require.NoError(t, err)
	require.NotEmpty(t, c.blockReferences[target], "an edge to an unemitted block must be deferred")

	_, err = c.LookupOrTranslate(target, func(loc state.Descriptor) (*ir.Block, *backend.Program, error) {
		return ir.NewBlock(loc), retProgram(), nil
	})
	require.NoError(t, err)
	require.Empty(t, c.blockReferences[target], "emitting the target must drain its pending references")

	targetOff := c.blockEntries[target]
	code := c.arena.Bytes()
	delta := int32(code[callerInfo.Offset+1]) | int32(code[callerInfo.Offset+2])<<8 |
		int32(code[callerInfo.Offset+3])<<16 | int32(code[callerInfo.Offset+4])<<24
	require.Equal(t, int32(targetOff-(callerInfo.Offset+5)), delta)
}

func TestClearCacheWipesEntriesAndBumpsGeneration(t *testing.T) {
	c := New(NewArena(NewSliceMemory(256), 128))
	loc := descAt(0x1000)
	_, err := c.LookupOrTranslate(loc, func(state.Descriptor) (*ir.Block, *backend.Program, error) {
		return ir.NewBlock(loc), retProgram(), nil
	})
	require.NoError(t, err)
	genBefore := c.Generation()

	c.ClearCache()

	require.Empty(t, c.blockEntries)
	require.Greater(t, c.Generation(), genBefore)
}

func TestClearCacheDeferredWhileRunIsActive(t *testing.T) {
	c := New(NewArena(NewSliceMemory(256), 128))
	loc := descAt(0x1000)
	_, err := c.LookupOrTranslate(loc, func(state.Descriptor) (*ir.Block, *backend.Program, error) {
		return ir.NewBlock(loc), retProgram(), nil
	})
	require.NoError(t, err)

	c.BeginRun()
	c.ClearCache()
	require.Contains(t, c.blockEntries, loc, "ClearCache must be deferred while a run is active")

	c.EndRun()
	require.Empty(t, c.blockEntries, "the deferred clear must apply once the run unwinds")
}

func TestInvalidateCacheRangeDropsOverlappingBlocksOnly(t *testing.T) {
	c := New(NewArena(NewSliceMemory(256), 128))
	locA := descAt(0x1000)
	locB := descAt(0x2000)

	infoA, err := c.LookupOrTranslate(locA, func(state.Descriptor) (*ir.Block, *backend.Program, error) {
		return ir.NewBlock(locA), retProgram(), nil
	})
	require.NoError(t, err)
	_, err = c.LookupOrTranslate(locB, func(state.Descriptor) (*ir.Block, *backend.Program, error) {
		return ir.NewBlock(locB), retProgram(), nil
	})
	require.NoError(t, err)

	c.InvalidateCacheRange(infoA.Offset, infoA.Length)

	require.NotContains(t, c.blockEntries, locA)
	require.Contains(t, c.blockEntries, locB)
}

func TestLookupOrTranslatePropagatesTranslateError(t *testing.T) {
	c := New(NewArena(NewSliceMemory(256), 128))
	wantErr := errors.New("translate failed")
	_, err := c.LookupOrTranslate(descAt(0x1000), func(state.Descriptor) (*ir.Block, *backend.Program, error) {
		return nil, nil, wantErr
	})
	require.ErrorIs(t, err, wantErr)
}
