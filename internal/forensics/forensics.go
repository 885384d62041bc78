// Package forensics implements the multi-signal anomaly detector: schema
// drift, duplicate trade IDs, out-of-order arrivals, sequence gaps, and
// latency spikes. It owns all detector state and drives the FlightRecorder.
package forensics

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/rs/zerolog"

	"github.com/tanayshah11/mercury-stream/internal/metrics"
	"github.com/tanayshah11/mercury-stream/internal/percentile"
	"github.com/tanayshah11/mercury-stream/internal/ticker"
)

// Recorder is the subset of FlightRecorder's API the detectors need. Kept as
// an interface so forensics and flightrecorder don't import each other.
type Recorder interface {
	OnEvent(t ticker.Ticker)
	Trigger(incidentType string, t ticker.Ticker)
}

// Counters mirrors the per-process detector counters.
type Counters struct {
	Processed int64
	Drift     int64
	Dup       int64
	OOO       int64
	Gaps      int64
	Spikes    int64
}

type symbolState struct {
	lastTradeTime  int64
	haveLastTime   bool
	lastSequence   int64
	haveLastSeq    bool
	window         *percentile.Window
	sinceEval      int
	consecutiveHit int
}

// Config controls detector thresholds; zero values take spec defaults.
type Config struct {
	LatencyThresholdMs int64
	DuplicateLRUMax    int
	DriftSamplesFile   string
}

// Detector runs the five detectors against a single stream of events. Not
// safe for concurrent use: the owning consumer task runs it single-threaded.
type Detector struct {
	cfg     Config
	log     zerolog.Logger
	rec     Recorder
	dups    *lru
	symbols map[string]*symbolState
	limiter *rate.Limiter
	driftFh *os.File

	counters Counters
}

const (
	evalEvery        = 100
	windowCapacity   = 1000
	spikeConsecutive = 2
)

// New builds a Detector. driftSamplesFile is opened append-only and created
// (with parent directories) if missing; failures to open it are logged but
// not fatal — drift sampling degrades to counter-only.
func New(cfg Config, rec Recorder, log zerolog.Logger) *Detector {
	if cfg.LatencyThresholdMs <= 0 {
		cfg.LatencyThresholdMs = 100
	}
	if cfg.DuplicateLRUMax <= 0 {
		cfg.DuplicateLRUMax = 50000
	}
	if cfg.DriftSamplesFile == "" {
		cfg.DriftSamplesFile = "data/drift_samples.jsonl"
	}

	d := &Detector{
		cfg:     cfg,
		log:     log,
		rec:     rec,
		dups:    newLRU(cfg.DuplicateLRUMax),
		symbols: make(map[string]*symbolState),
		limiter: rate.NewLimiter(rate.Limit(10), 1),
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DriftSamplesFile), 0o755); err != nil {
		log.Warn().Err(err).Str("file", cfg.DriftSamplesFile).Msg("cannot create drift samples directory")
	} else if fh, err := os.OpenFile(cfg.DriftSamplesFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644); err != nil {
		log.Warn().Err(err).Str("file", cfg.DriftSamplesFile).Msg("cannot open drift samples file")
	} else {
		d.driftFh = fh
	}

	return d
}

func (d *Detector) Close() error {
	if d.driftFh != nil {
		return d.driftFh.Close()
	}
	return nil
}

func (d *Detector) Counters() Counters {
	return Counters{
		Processed: atomic.LoadInt64(&d.counters.Processed),
		Drift:     atomic.LoadInt64(&d.counters.Drift),
		Dup:       atomic.LoadInt64(&d.counters.Dup),
		OOO:       atomic.LoadInt64(&d.counters.OOO),
		Gaps:      atomic.LoadInt64(&d.counters.Gaps),
		Spikes:    atomic.LoadInt64(&d.counters.Spikes),
	}
}

func (d *Detector) stateFor(symbol string) *symbolState {
	s, ok := d.symbols[symbol]
	if !ok {
		s = &symbolState{window: percentile.NewWindow(windowCapacity)}
		d.symbols[symbol] = s
	}
	return s
}

// Process runs all five detectors against raw (for D1's key-level view) and
// t (the decoded event). Callers must push t to the FlightRecorder via
// OnEvent before calling Process, so the ring buffer sees every event ahead
// of any incident it might trigger.
func (d *Detector) Process(t ticker.Ticker, raw map[string]json.RawMessage) {
	d.counters.Processed++

	d.checkDrift(t, raw)
	dup := d.checkDuplicate(t)
	if dup {
		t.Dup = true
	}
	d.checkOutOfOrder(t)
	d.checkSequenceGap(t)
	d.checkLatencySpike(t)
}

func (d *Detector) checkDrift(t ticker.Ticker, raw map[string]json.RawMessage) {
	reason := ticker.CheckDrift(raw)
	if reason == "" {
		return
	}
	d.counters.Drift++
	metrics.IncrAnomaly(metrics.AnomalyDrift)

	if d.driftFh != nil && d.limiter.Allow() {
		sample := struct {
			Reason    string          `json:"reason"`
			ProductID string          `json:"product_id"`
			TradeID   int64           `json:"trade_id"`
			At        int64           `json:"at_ms"`
			Raw       json.RawMessage `json:"raw"`
		}{Reason: reason, ProductID: t.ProductID, TradeID: t.TradeID, At: t.RecvTsMs}
		if b, err := json.Marshal(raw); err == nil {
			sample.Raw = b
		}
		if line, err := json.Marshal(sample); err == nil {
			line = append(line, '\n')
			if _, err := d.driftFh.Write(line); err != nil {
				d.log.Warn().Err(err).Msg("drift sample write failed")
			}
		}
	}
}

func (d *Detector) checkDuplicate(t ticker.Ticker) bool {
	if d.dups.seenOrAdd(t.TradeID) {
		d.counters.Dup++
		metrics.IncrAnomaly(metrics.AnomalyDup)
		d.rec.Trigger("duplicate_detected", t)
		return true
	}
	return false
}

func (d *Detector) checkOutOfOrder(t ticker.Ticker) {
	s := d.stateFor(t.ProductID)
	if s.haveLastTime && t.Time < s.lastTradeTime {
		d.counters.OOO++
		metrics.IncrAnomaly(metrics.AnomalyOOO)
		return
	}
	s.lastTradeTime = t.Time
	s.haveLastTime = true
}

func (d *Detector) checkSequenceGap(t ticker.Ticker) {
	s := d.stateFor(t.ProductID)
	if s.haveLastSeq && t.Sequence > s.lastSequence+1 {
		missed := t.Sequence - s.lastSequence - 1
		d.counters.Gaps += missed
		metrics.IncrAnomaly(metrics.AnomalyGaps)
		d.rec.Trigger("sequence_gap", t)
	}
	s.lastSequence = t.Sequence
	s.haveLastSeq = true
}

func (d *Detector) checkLatencySpike(t ticker.Ticker) {
	s := d.stateFor(t.ProductID)
	age := float64(t.RecvTsMs - t.IngestTsMs)
	s.window.Add(age)
	s.sinceEval++
	if s.sinceEval < evalEvery {
		return
	}
	s.sinceEval = 0

	p99 := s.window.Percentile(99)
	if p99 > float64(d.cfg.LatencyThresholdMs) {
		s.consecutiveHit++
		if s.consecutiveHit == spikeConsecutive {
			d.counters.Spikes++
			metrics.IncrAnomaly(metrics.AnomalySpikes)
			d.rec.Trigger("latency_spike", t)
			s.consecutiveHit = 0
		}
	} else {
		s.consecutiveHit = 0
	}
}
