// Package flightrecorder implements the pre-window ring buffer and the
// incident capture state machine that turns an anomaly trigger into an
// atomically-written IncidentBundle on disk.
package flightrecorder

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tanayshah11/mercury-stream/internal/metrics"
	"github.com/tanayshah11/mercury-stream/internal/ticker"
)

// state is the FlightRecorder's capture state machine position.
type state int

const (
	stateIdle state = iota
	stateCapturing
	stateCooldown
)

// Stats is the counter snapshot embedded in meta.json, mirroring
// forensics.Counters without importing that package (avoids a cycle).
type Stats struct {
	Processed int64 `json:"processed"`
	Drift     int64 `json:"drift"`
	Dup       int64 `json:"dup"`
	OOO       int64 `json:"ooo"`
	Gaps      int64 `json:"gaps"`
	Spikes    int64 `json:"spikes"`
	Incidents int64 `json:"incidents"`
}

// StatsFunc is called at finalization time to embed current detector
// counters into the bundle's meta.json.
type StatsFunc func() Stats

// NotifyFunc is called after a bundle is successfully finalized, e.g. to
// mirror it to an alerting sink. Never called on write failure.
type NotifyFunc func(incidentType, symbol, triggeredAt string, preCount, postCount int)

// Config controls bundle sizing and location.
type Config struct {
	Pre           int
	Post          int
	CooldownS     int
	IncidentsRoot string
}

// Recorder owns the pre-window ring and the capture FSM. Not safe for
// concurrent use: the Forensics consumer is its single owner.
type Recorder struct {
	cfg    Config
	ring   *Ring
	log    zerolog.Logger
	stats  StatsFunc
	notify NotifyFunc

	st            state
	captureType   string
	triggerEvent  ticker.Ticker
	pre           []ticker.Ticker
	post          []ticker.Ticker
	cooldownUntil time.Time
}

// New builds a Recorder. statsFn may be nil, in which case meta.json's
// stats block is left zeroed.
func New(cfg Config, statsFn StatsFunc, notify NotifyFunc, log zerolog.Logger) *Recorder {
	if cfg.Pre <= 0 {
		cfg.Pre = 5000
	}
	if cfg.Post <= 0 {
		cfg.Post = 3000
	}
	if cfg.CooldownS < 0 {
		cfg.CooldownS = 60
	}
	if cfg.IncidentsRoot == "" {
		cfg.IncidentsRoot = "data/incidents"
	}
	return &Recorder{
		cfg:    cfg,
		ring:   NewRing(cfg.Pre),
		log:    log,
		stats:  statsFn,
		notify: notify,
		st:     stateIdle,
	}
}

// OnEvent pushes t to the ring (always) and, if a capture is in progress,
// appends it to the post window too. Must be called before any detector
// logic runs for t, per the ring's push-before-detect ordering rule.
func (r *Recorder) OnEvent(t ticker.Ticker) {
	r.ring.Push(t)

	switch r.st {
	case stateCapturing:
		r.post = append(r.post, t)
		if len(r.post) >= r.cfg.Post {
			r.finalize()
		}
	case stateCooldown:
		if time.Since(r.cooldownUntil) >= 0 {
			r.st = stateIdle
		}
	}
}

// Trigger starts a capture if idle; ignored while Capturing or in Cooldown.
func (r *Recorder) Trigger(incidentType string, t ticker.Ticker) {
	if r.st != stateIdle {
		return
	}
	r.captureType = incidentType
	r.triggerEvent = t
	r.pre = r.ring.Snapshot()
	r.post = r.post[:0]
	r.st = stateCapturing
}

// Shutdown best-effort finalizes any in-progress capture, writing whatever
// events the post window collected so far.
func (r *Recorder) Shutdown() {
	if r.st == stateCapturing {
		r.finalize()
	}
}

func (r *Recorder) finalize() {
	bundle := incidentBundle{
		Type:         r.captureType,
		TriggeredAt:  time.Now().UTC().Format(time.RFC3339),
		TriggerEvent: r.triggerEvent,
		PreCount:     len(r.pre),
		PostCount:    len(r.post),
		Symbol:       r.triggerEvent.ProductID,
	}
	if r.stats != nil {
		bundle.Stats = r.stats()
	}

	events := make([]ticker.Ticker, 0, len(r.pre)+len(r.post))
	events = append(events, r.pre...)
	events = append(events, r.post...)

	if err := writeBundle(r.cfg.IncidentsRoot, bundle, events); err != nil {
		r.log.Error().Err(err).Str("type", r.captureType).Msg("incident bundle write failed")
		metrics.IncidentCaptureFailuresTotal.Inc()
	} else {
		metrics.IncidentsTotal.Inc()
		r.log.Info().
			Str("type", r.captureType).
			Int("pre_count", bundle.PreCount).
			Int("post_count", bundle.PostCount).
			Msg("incident captured")
		if r.notify != nil {
			r.notify(bundle.Type, bundle.Symbol, bundle.TriggeredAt, bundle.PreCount, bundle.PostCount)
		}
	}

	r.pre = nil
	r.post = nil
	r.st = stateCooldown
	r.cooldownUntil = time.Now().Add(time.Duration(r.cfg.CooldownS) * time.Second)
}

type incidentBundle struct {
	Type         string        `json:"type"`
	TriggeredAt  string        `json:"triggered_at"`
	TriggerEvent ticker.Ticker `json:"trigger_event"`
	PreCount     int           `json:"pre_count"`
	PostCount    int           `json:"post_count"`
	Symbol       string        `json:"symbol"`
	Stats        Stats         `json:"stats"`
}

// writeBundle builds the IncidentBundle in a `.tmp`-suffixed directory and
// renames it into place once both files are fully written, so no partially
// written bundle is ever observable under incidentsRoot.
func writeBundle(incidentsRoot string, meta incidentBundle, events []ticker.Ticker) error {
	name := fmt.Sprintf("%s_%s", time.Now().UTC().Format("20060102_150405"), uuid.New().String()[:8])
	finalDir := filepath.Join(incidentsRoot, name)
	tmpDir := finalDir + ".tmp"

	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	eventsPath := filepath.Join(tmpDir, "events.jsonl")
	if err := writeEventsJSONL(eventsPath, events); err != nil {
		os.RemoveAll(tmpDir)
		return fmt.Errorf("events.jsonl: %w", err)
	}

	metaPath := filepath.Join(tmpDir, "meta.json")
	metaBytes, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		os.RemoveAll(tmpDir)
		return fmt.Errorf("marshal meta: %w", err)
	}
	if err := os.WriteFile(metaPath, metaBytes, 0o644); err != nil {
		os.RemoveAll(tmpDir)
		return fmt.Errorf("meta.json: %w", err)
	}

	if err := os.Rename(tmpDir, finalDir); err != nil {
		os.RemoveAll(tmpDir)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

func writeEventsJSONL(path string, events []ticker.Ticker) error {
	fh, err := os.Create(path)
	if err != nil {
		return err
	}
	defer fh.Close()

	w := bufio.NewWriter(fh)
	enc := json.NewEncoder(w)
	for _, e := range events {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	return w.Flush()
}
