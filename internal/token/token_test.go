package token

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func newSlot() *Slot {
	var v uint64
	return SlotAt(unsafe.Pointer(&v))
}

func TestSet64RoundTrips(t *testing.T) {
	s := newSlot()
	const nonce = 0xdeadbeefcafef00d
	Set64(s, nonce)
	require.True(t, Test64(s, nonce))
	require.False(t, Test64(s, nonce+1))
}

func TestSet61RoundTripsWithBoundary(t *testing.T) {
	s := newSlot()
	const nonce = 0x1122334455667700 // low 3 bits already zero
	for b := uint8(0); b < 8; b++ {
		Set61(s, nonce, b)
		require.True(t, Test61(s, nonce), "boundary=%d", b)
		require.Equal(t, b, Boundary61(s))
	}
}

func TestZeroIsNeverAValidToken(t *testing.T) {
	s := newSlot()
	Zero(s)
	require.Equal(t, uint64(0), s.Load())
	// zero only looks like a valid token for the degenerate nonce 0,
	// which the nonce page must never produce.
	require.False(t, Test64(s, 0xabc))
	require.False(t, Test61(s, 0xabc))
}

func TestSet61ZeroesLowBitsOfNonceContribution(t *testing.T) {
	s := newSlot()
	const nonce = 0x0102030405060708
	Set61(s, nonce, 3)
	require.True(t, Test61(s, nonce&^boundaryMask))
}
