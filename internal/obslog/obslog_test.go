package obslog

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTraceSilentWhenDebugDisabled(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, false)
	l.Trace(OpAllocate, 64, 0x1000, 4)
	require.Empty(t, buf.String())
}

func TestTraceWritesStructuredLineWhenDebugEnabled(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, true)
	l.Trace(OpQuarantineSplit, 32, 0x2000, 2)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "quarantine_split", line["op"])
	require.EqualValues(t, 32, line["n"])
	require.EqualValues(t, 2, line["unit_count"])
}

func TestFatalAlwaysWritesRegardlessOfDebugFlag(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, false)
	l.Fatal("heap-buffer-overflow", 0x3000, "access crosses the byte-accurate trailing boundary")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "heap-buffer-overflow", line["kind"])
}

func TestFatalDoesNotColorWhenWriterIsNotATerminal(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, false)
	require.Nil(t, l.color)
	l.Fatal("double-free", 0x4000, "capsule already quarantined")
	require.NotContains(t, buf.String(), "\x1b[")
}
