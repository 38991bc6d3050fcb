package stats

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSampleAndDump(t *testing.T) {
	c := New()
	require.NoError(t, c.Sample(4096, 1024, 3))

	var buf bytes.Buffer
	c.Dump(&buf)

	out := buf.String()
	require.Contains(t, out, "bytes_carved=4096\n")
	require.Contains(t, out, "quarantined_bytes=1024\n")
	require.NotContains(t, out, "leaked_capsules=")
	require.True(t, strings.HasPrefix(out, "peak_resident_bytes="))
}

func TestDumpOnExitSamplesThenDumps(t *testing.T) {
	c := New()

	var buf bytes.Buffer
	require.NoError(t, c.DumpOnExit(&buf, 4096, 1024, 3))

	out := buf.String()
	require.Contains(t, out, "bytes_carved=4096\n")
	require.Contains(t, out, "quarantined_bytes=1024\n")
	require.NotContains(t, out, "leaked_capsules=")
}

func TestRegistryExposesGauges(t *testing.T) {
	c := New()
	require.NoError(t, c.Sample(0, 0, 0))
	mfs, err := c.Registry().Gather()
	require.NoError(t, err)
	require.NotEmpty(t, mfs)
}
