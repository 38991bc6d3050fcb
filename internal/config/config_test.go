package config

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	got, err := Load(nil)
	require.NoError(t, err)
	if diff := cmp.Diff(Defaults(), got); diff != "" {
		t.Fatalf("Load(nil) mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadOverrides(t *testing.T) {
	env := []string{
		"REZZAN_DISABLED=1",
		"REZZAN_NONCE_SIZE=64",
		"REZZAN_QUARANTINE_SIZE=1024",
		"REZZAN_POOL_SIZE=4096000",
		"REZZAN_POPULATE=1",
		"REZZAN_DEBUG=1",
		"REZZAN_CHECKS=1",
		"REZZAN_STATS=1",
		"REZZAN_PRINTF=1",
		"UNRELATED=ignored",
	}
	got, err := Load(env)
	require.NoError(t, err)
	require.True(t, got.Disabled)
	require.Equal(t, Nonce64, got.NonceSize)
	require.EqualValues(t, 1024, got.QuarantineSize)
	require.EqualValues(t, 4096000, got.PoolSize)
	require.True(t, got.Populate)
	require.True(t, got.Debug)
	require.True(t, got.Checks)
	require.True(t, got.Stats)
	require.True(t, got.Printf)
}

func TestLoadRejectsBadNonceSize(t *testing.T) {
	_, err := Load([]string{"REZZAN_NONCE_SIZE=63"})
	require.ErrorIs(t, err, ErrUnrecognizedValue)
}

func TestLoadRejectsBadBool(t *testing.T) {
	_, err := Load([]string{"REZZAN_DEBUG=maybe"})
	require.ErrorIs(t, err, ErrUnrecognizedValue)
}

func TestValidateRejectsUnalignedPool(t *testing.T) {
	o := Defaults()
	o.PoolSize = 4097
	require.ErrorIs(t, o.Validate(0), ErrPoolNotAligned)
}

func TestValidateRejectsTinyPool(t *testing.T) {
	o := Defaults()
	o.PoolSize = 4096
	require.ErrorIs(t, o.Validate(0), ErrPoolTooSmall)
}

func TestValidateRejectsOversizedPool(t *testing.T) {
	o := Defaults()
	o.PoolSize = 8 << 30
	require.ErrorIs(t, o.Validate(4<<30), ErrPoolExceedsMemory)
}

func TestPoolUnits(t *testing.T) {
	o := Defaults()
	o.PoolSize = 1 << 20
	require.EqualValues(t, (1<<20)/16, o.PoolUnits())
}
