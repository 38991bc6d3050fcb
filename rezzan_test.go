package rezzan

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func newTestSanitizer(t *testing.T) *Sanitizer {
	t.Helper()
	s, err := New([]string{
		"REZZAN_POOL_SIZE=1048576",
		"REZZAN_QUARANTINE_SIZE=65536",
	})
	require.NoError(t, err)
	return s
}

func TestSentinelCapsuleIsPoisoned(t *testing.T) {
	s := newTestSanitizer(t)
	defer s.Close()
	require.True(t, s.poisoned(s.arena.SlotAt(0)))
	require.True(t, s.poisoned(s.arena.SlotAt(8)))
}

func TestAllocateReleaseRoundTrip(t *testing.T) {
	s := newTestSanitizer(t)
	defer s.Close()

	p := s.Allocate(10)
	require.NotNil(t, p)
	*(*byte)(unsafe.Add(p, 9)) = 'x'
	s.Release(p)
}

func TestAllocateEstablishesSentinels(t *testing.T) {
	s := newTestSanitizer(t)
	defer s.Close()

	p := s.Allocate(10)
	off := uintptr(p) - s.arena.Base()

	require.True(t, s.poisoned(s.arena.SlotAt(off-8)), "base sentinel")
	require.False(t, s.poisoned(s.arena.SlotAt(off)), "first payload word")

	trailingOff := off + 16 // ceil(10/8)*8
	require.True(t, s.poisoned(s.arena.SlotAt(trailingOff)), "trailing sentinel")
}

func TestWritePastEndTraps(t *testing.T) {
	s := newTestSanitizer(t)
	defer s.Close()

	p := s.Allocate(10)
	require.Panics(t, func() { s.Check(p, 11) })
}

func TestReadFreedPointerTraps(t *testing.T) {
	s := newTestSanitizer(t)
	defer s.Close()

	p := s.Allocate(10)
	s.Release(p)
	require.Panics(t, func() { s.Check(p, 1) })
}

func TestDoubleFreeTraps(t *testing.T) {
	s := newTestSanitizer(t)
	defer s.Close()

	p := s.Allocate(10)
	s.Release(p)
	require.Panics(t, func() { s.Release(p) })
}

func TestFreeNotAtBaseTraps(t *testing.T) {
	s := newTestSanitizer(t)
	defer s.Close()

	p := s.Allocate(10)
	require.Panics(t, func() { s.Release(unsafe.Add(p, 8)) })
}

func TestFreeUnalignedTraps(t *testing.T) {
	s := newTestSanitizer(t)
	defer s.Close()

	p := s.Allocate(10)
	require.Panics(t, func() { s.Release(unsafe.Add(p, 1)) })
}

func TestMemcpyAcrossTrailingRedzoneTraps(t *testing.T) {
	s := newTestSanitizer(t)
	defer s.Close()

	p := s.Allocate(10)
	q := s.Allocate(10)
	require.Panics(t, func() { s.Check(q, 32); s.Check(p, 32) })
}

func TestResizeCopiesAndPreservesData(t *testing.T) {
	s := newTestSanitizer(t)
	defer s.Close()

	p := s.Allocate(8)
	for i := 0; i < 8; i++ {
		*(*byte)(unsafe.Add(p, i)) = byte(i)
	}

	q := s.Resize(p, 16)
	require.NotNil(t, q)
	for i := 0; i < 8; i++ {
		require.Equal(t, byte(i), *(*byte)(unsafe.Add(q, i)))
	}
	s.Release(q)
}

func TestZeroedAllocateZeroesPayload(t *testing.T) {
	s := newTestSanitizer(t)
	defer s.Close()

	p := s.ZeroedAllocate(4, 8)
	for i := 0; i < 32; i++ {
		require.Equal(t, byte(0), *(*byte)(unsafe.Add(p, i)))
	}
	s.Release(p)
}

func TestIdempotentAllocateReleaseKeepsArenaBumpMonotone(t *testing.T) {
	s := newTestSanitizer(t)
	defer s.Close()

	prevBump := uint64(s.arena.Bump())
	for i := 0; i < 64; i++ {
		p := s.Allocate(32)
		s.Release(p)
		newBump := uint64(s.arena.Bump())
		require.GreaterOrEqual(t, newBump, prevBump)
		prevBump = newBump
	}
}

func TestDisabledSanitizerPassesThrough(t *testing.T) {
	s, err := New([]string{"REZZAN_DISABLED=1"})
	require.NoError(t, err)
	defer s.Close()

	p := s.Allocate(32)
	require.NotNil(t, p)
	require.EqualValues(t, 32, s.UsableSize(p))
	s.Release(p)
}

func TestForeignPointerReleaseIsNoop(t *testing.T) {
	s := newTestSanitizer(t)
	defer s.Close()

	buf := make([]byte, 32)
	base := unsafe.Pointer(&buf[0])
	off := (16 - uintptr(base)%16) % 16
	s.Release(unsafe.Add(base, off))
}

func TestReleaseNilIsNoop(t *testing.T) {
	s := newTestSanitizer(t)
	defer s.Close()
	s.Release(nil)
}
