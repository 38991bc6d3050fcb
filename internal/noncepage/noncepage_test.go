package noncepage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewProducesNonZeroNonce(t *testing.T) {
	p, err := New()
	require.NoError(t, err)
	defer p.Close()

	require.NotZero(t, p.Nonce64())
}

func TestNonce61HasLowThreeBitsClear(t *testing.T) {
	p, err := New()
	require.NoError(t, err)
	defer p.Close()

	require.Zero(t, p.Nonce61()&0x7)
}

func TestNonce61MatchesNonce64AboveLowThreeBits(t *testing.T) {
	p, err := New()
	require.NoError(t, err)
	defer p.Close()

	require.Equal(t, p.Nonce64()&^uint64(0x7), p.Nonce61())
}

func TestCloseUnmapsWithoutError(t *testing.T) {
	p, err := New()
	require.NoError(t, err)
	require.NoError(t, p.Close())
}
