package forensics

import (
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/tanayshah11/mercury-stream/internal/ticker"
)

type fakeRecorder struct {
	events    []ticker.Ticker
	triggered []string
}

func (f *fakeRecorder) OnEvent(t ticker.Ticker) { f.events = append(f.events, t) }
func (f *fakeRecorder) Trigger(incidentType string, t ticker.Ticker) {
	f.triggered = append(f.triggered, incidentType)
}

func rawFor(t ticker.Ticker) map[string]json.RawMessage {
	b, _ := json.Marshal(t)
	var raw map[string]json.RawMessage
	_ = json.Unmarshal(b, &raw)
	return raw
}

func newDetector(rec Recorder) *Detector {
	return New(Config{DriftSamplesFile: "/tmp/mercury-stream-test-drift.jsonl"}, rec, zerolog.Nop())
}

// TestDuplicateTriggersIncident mirrors S1-style duplicate coverage: a
// repeated trade_id increments dup and fires duplicate_detected.
func TestDuplicateTriggersIncident(t *testing.T) {
	rec := &fakeRecorder{}
	d := newDetector(rec)

	tk := ticker.Ticker{ProductID: "BTC-USD", TradeID: 1, Sequence: 1, Time: 1000}
	d.Process(tk, rawFor(tk))
	d.Process(tk, rawFor(tk))

	require.Equal(t, int64(1), d.Counters().Dup)
	require.Equal(t, []string{"duplicate_detected"}, rec.triggered)
}

// TestSequenceGapCountsMissingAndTriggers mirrors invariant coverage for D4:
// a jump from sequence 1 to 5 counts 3 missing events and fires once.
func TestSequenceGapCountsMissingAndTriggers(t *testing.T) {
	rec := &fakeRecorder{}
	d := newDetector(rec)

	first := ticker.Ticker{ProductID: "BTC-USD", TradeID: 1, Sequence: 1, Time: 1000}
	second := ticker.Ticker{ProductID: "BTC-USD", TradeID: 2, Sequence: 5, Time: 1001}
	d.Process(first, rawFor(first))
	d.Process(second, rawFor(second))

	require.Equal(t, int64(3), d.Counters().Gaps)
	require.Equal(t, []string{"sequence_gap"}, rec.triggered)
}

// TestOutOfOrderCountsOnlyNeverTriggers mirrors D3's count-only semantics.
func TestOutOfOrderCountsOnlyNeverTriggers(t *testing.T) {
	rec := &fakeRecorder{}
	d := newDetector(rec)

	first := ticker.Ticker{ProductID: "BTC-USD", TradeID: 1, Sequence: 1, Time: 2000}
	second := ticker.Ticker{ProductID: "BTC-USD", TradeID: 2, Sequence: 2, Time: 1000}
	d.Process(first, rawFor(first))
	d.Process(second, rawFor(second))

	require.Equal(t, int64(1), d.Counters().OOO)
	require.Empty(t, rec.triggered)
}

// TestSchemaDriftCountsButNeverTriggers mirrors D1: a missing required field
// increments drift without ever calling Trigger.
func TestSchemaDriftCountsButNeverTriggers(t *testing.T) {
	rec := &fakeRecorder{}
	d := newDetector(rec)

	raw := map[string]json.RawMessage{
		"product_id": json.RawMessage(`"BTC-USD"`),
		// trade_id, sequence, price, last_size, time, side, ingest_ts_ms all missing.
	}
	tk := ticker.Ticker{ProductID: "BTC-USD", TradeID: 1, Sequence: 1}
	d.Process(tk, raw)

	require.Equal(t, int64(1), d.Counters().Drift)
	require.Empty(t, rec.triggered)
}

// TestLatencySpikeRequiresTwoConsecutiveBreaches mirrors S4/D5: a single
// evaluation above threshold must not trigger; a second consecutive one must.
func TestLatencySpikeRequiresTwoConsecutiveBreaches(t *testing.T) {
	rec := &fakeRecorder{}
	d := New(Config{LatencyThresholdMs: 50, DriftSamplesFile: "/tmp/mercury-stream-test-drift2.jsonl"}, rec, zerolog.Nop())

	seq := int64(1)
	feed := func(n int, recvAge int64) {
		for i := 0; i < n; i++ {
			tk := ticker.Ticker{
				ProductID:  "BTC-USD",
				TradeID:    seq,
				Sequence:   seq,
				Time:       seq,
				IngestTsMs: 0,
				RecvTsMs:   recvAge,
			}
			seq++
			d.Process(tk, rawFor(tk))
		}
	}

	feed(200, 10)
	require.Equal(t, int64(0), d.Counters().Spikes)

	feed(200, 500)
	require.Equal(t, int64(1), d.Counters().Spikes)
	require.Equal(t, []string{"latency_spike"}, rec.triggered)
}
