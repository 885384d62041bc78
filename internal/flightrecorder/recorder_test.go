package flightrecorder

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/tanayshah11/mercury-stream/internal/ticker"
)

func tk(seq int64) ticker.Ticker {
	return ticker.Ticker{ProductID: "BTC-USD", TradeID: seq, Sequence: seq, Time: seq}
}

// TestCaptureWritesAtomicBundle mirrors invariants 8 and 9: pre_count<=PRE,
// post_count<=POST, and no bundle directory is observable without its
// events.jsonl and meta.json already written (no .tmp suffix remains).
func TestCaptureWritesAtomicBundle(t *testing.T) {
	root := t.TempDir()
	r := New(Config{Pre: 5, Post: 3, CooldownS: 60, IncidentsRoot: root}, nil, nil, zerolog.Nop())

	for i := int64(1); i <= 10; i++ {
		r.OnEvent(tk(i))
	}
	r.Trigger("sequence_gap", tk(10))
	for i := int64(11); i <= 13; i++ {
		r.OnEvent(tk(i))
	}

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NotContains(t, entries[0].Name(), ".tmp")

	bundleDir := filepath.Join(root, entries[0].Name())
	metaBytes, err := os.ReadFile(filepath.Join(bundleDir, "meta.json"))
	require.NoError(t, err)

	var meta incidentBundle
	require.NoError(t, json.Unmarshal(metaBytes, &meta))
	require.Equal(t, "sequence_gap", meta.Type)
	require.LessOrEqual(t, meta.PreCount, 5)
	require.LessOrEqual(t, meta.PostCount, 3)
	require.Equal(t, 5, meta.PreCount)
	require.Equal(t, 3, meta.PostCount)

	eventsBytes, err := os.ReadFile(filepath.Join(bundleDir, "events.jsonl"))
	require.NoError(t, err)
	require.NotEmpty(t, eventsBytes)
}

// TestTriggerIgnoredWhileCapturing mirrors the FSM table: a second trigger
// while already Capturing is ignored, not a second bundle.
func TestTriggerIgnoredWhileCapturing(t *testing.T) {
	root := t.TempDir()
	r := New(Config{Pre: 5, Post: 100, CooldownS: 60, IncidentsRoot: root}, nil, nil, zerolog.Nop())

	r.Trigger("duplicate_detected", tk(1))
	r.Trigger("latency_spike", tk(2))
	require.Equal(t, "duplicate_detected", r.captureType)
}

// TestShutdownFinalizesPartialCapture mirrors the shutdown-order requirement:
// an in-progress capture is best-effort finalized with a truncated post_count.
func TestShutdownFinalizesPartialCapture(t *testing.T) {
	root := t.TempDir()
	r := New(Config{Pre: 5, Post: 100, CooldownS: 60, IncidentsRoot: root}, nil, nil, zerolog.Nop())

	r.Trigger("latency_spike", tk(1))
	r.OnEvent(tk(2))
	r.OnEvent(tk(3))
	r.Shutdown()

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	metaBytes, err := os.ReadFile(filepath.Join(root, entries[0].Name(), "meta.json"))
	require.NoError(t, err)
	var meta incidentBundle
	require.NoError(t, json.Unmarshal(metaBytes, &meta))
	require.Equal(t, 2, meta.PostCount)
}
