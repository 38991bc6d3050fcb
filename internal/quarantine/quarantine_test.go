package quarantine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestQuarantine(t *testing.T) *Quarantine {
	t.Helper()
	q, err := New()
	require.NoError(t, err)
	return q
}

func TestSizeClassBucketing(t *testing.T) {
	require.Equal(t, 0, SizeClass(0))
	require.Equal(t, 1, SizeClass(1))
	require.Equal(t, 2, SizeClass(2))
	require.Equal(t, 2, SizeClass(3))
	require.Equal(t, 3, SizeClass(4))
	require.Equal(t, NumBuckets-1, SizeClass(1<<30))
}

func TestInsertThenExactMatchAllocate(t *testing.T) {
	q := newTestQuarantine(t)

	ok := q.Insert(100, 4)
	require.True(t, ok)
	require.EqualValues(t, 4, q.UsageUnits())

	off, split, ok := q.TryAllocate(4)
	require.True(t, ok)
	require.False(t, split)
	require.EqualValues(t, 100, off)
	require.EqualValues(t, 0, q.UsageUnits())
}

func TestTryAllocateFailsWhenNothingFits(t *testing.T) {
	q := newTestQuarantine(t)
	_, _, ok := q.TryAllocate(4)
	require.False(t, ok)
}

func TestTryAllocateSplitsOversizedNode(t *testing.T) {
	q := newTestQuarantine(t)

	require.True(t, q.Insert(0, 10))

	off, split, ok := q.TryAllocate(4)
	require.True(t, ok)
	require.True(t, split)
	// The returned portion is the high end of the capsule.
	require.EqualValues(t, 6, off)
	require.EqualValues(t, 6, q.UsageUnits())

	// The residual (6 units, offset 0) should still be findable.
	off2, split2, ok := q.TryAllocate(6)
	require.True(t, ok)
	require.False(t, split2)
	require.EqualValues(t, 0, off2)
	require.EqualValues(t, 0, q.UsageUnits())
}

func TestFIFOOrderingWithinBucket(t *testing.T) {
	q := newTestQuarantine(t)

	require.True(t, q.Insert(10, 1))
	require.True(t, q.Insert(20, 1))
	require.True(t, q.Insert(30, 1))

	off, _, ok := q.TryAllocate(1)
	require.True(t, ok)
	require.EqualValues(t, 10, off, "first inserted should be first reused")
}

func TestRecycledNodeIsReusedByLaterInsert(t *testing.T) {
	q := newTestQuarantine(t)

	require.True(t, q.Insert(0, 4))
	_, _, ok := q.TryAllocate(4)
	require.True(t, ok)

	// The node backing the exact-match allocation above should now be on
	// the recycle list and get handed back out here instead of bumping
	// the underlying node pool.
	before := q.pool.bump
	require.True(t, q.Insert(16, 4))
	require.Equal(t, before, q.pool.bump)
}

func TestInsertLeaksSilentlyWhenNodePoolExhausted(t *testing.T) {
	q := newTestQuarantine(t)

	// Fast-forward the node pool's bump pointer to its reservation limit
	// instead of actually inserting millions of nodes.
	q.pool.bump = uintptr(len(q.pool.mem))

	ok := q.Insert(0, 1)
	require.False(t, ok)
	require.EqualValues(t, 1, q.LeakedCapsules())
}

func TestUsageBytesMatchesUnitsTimesUnitSize(t *testing.T) {
	q := newTestQuarantine(t)
	require.True(t, q.Insert(0, 4))
	require.EqualValues(t, 4*16, q.UsageBytes())
}
