package arena

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestArena(t *testing.T, poolUnits uint64) *Arena {
	t.Helper()
	a, err := New(poolUnits, false)
	require.NoError(t, err)
	return a
}

func TestCarveAdvancesBumpByExactUnitCount(t *testing.T) {
	a := newTestArena(t, 1<<16)

	off1, err := a.Carve(2)
	require.NoError(t, err)
	require.EqualValues(t, 0, off1)
	require.EqualValues(t, 2*UnitSize, a.Bump())

	off2, err := a.Carve(3)
	require.NoError(t, err)
	require.EqualValues(t, 2, off2)
	require.EqualValues(t, 5*UnitSize, a.Bump())
}

func TestCarveNeverReturnsOverlappingRanges(t *testing.T) {
	a := newTestArena(t, 1<<16)

	seen := map[uint64]bool{}
	for i := 0; i < 100; i++ {
		off, err := a.Carve(1)
		require.NoError(t, err)
		require.False(t, seen[off], "offset %d carved twice", off)
		seen[off] = true
	}
}

func TestCarveGrowsMappedRegionAcrossChunkBoundary(t *testing.T) {
	a := newTestArena(t, 1<<20)

	unitsPerChunk := uint64(growthChunkBytes / UnitSize)
	_, err := a.Carve(unitsPerChunk + 1)
	require.NoError(t, err)
	require.True(t, a.Mapped(0))
	require.True(t, a.Mapped(uintptr(unitsPerChunk)*UnitSize))
}

func TestCarveFailsWhenPoolExhausted(t *testing.T) {
	a := newTestArena(t, 4)

	_, err := a.Carve(3)
	require.NoError(t, err)

	_, err = a.Carve(2)
	require.ErrorIs(t, err, ErrOutOfMemory)
}

func TestContainsBoundsCheck(t *testing.T) {
	a := newTestArena(t, 16)

	require.True(t, a.Contains(a.Base()))
	require.True(t, a.Contains(a.Base()+16*UnitSize-1))
	require.False(t, a.Contains(a.Base()+16*UnitSize))
	require.False(t, a.Contains(a.Base()-1))
}

func TestPointerOfAndOffsetOfRoundTrip(t *testing.T) {
	a := newTestArena(t, 1<<16)

	off, err := a.Carve(4)
	require.NoError(t, err)

	ptr := a.PointerOf(off)
	require.Equal(t, off, a.OffsetOf(ptr))
}

func TestBytesCarvedAccumulates(t *testing.T) {
	a := newTestArena(t, 1<<16)

	_, err := a.Carve(2)
	require.NoError(t, err)
	_, err = a.Carve(3)
	require.NoError(t, err)

	require.EqualValues(t, 5*UnitSize, a.BytesCarved())
}

func TestSlotAtReadsZeroFromFreshlyCarvedWord(t *testing.T) {
	a := newTestArena(t, 1<<16)
	_, err := a.Carve(1)
	require.NoError(t, err)

	slot := a.SlotAt(0)
	require.EqualValues(t, 0, slot.Load())
}
