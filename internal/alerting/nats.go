// Package alerting mirrors finalized incidents onto an optional NATS subject
// for downstream paging/dashboards. It is additive: nothing in the core
// pipeline depends on it, and a broker outage never blocks forensics.
package alerting

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

const subject = "mercurystream.incidents"

// Mirror publishes incident notifications to NATS when configured. A nil
// Mirror (or one built with an empty URL) is a safe no-op.
type Mirror struct {
	conn *nats.Conn
	log  zerolog.Logger
}

// Incident is the payload published to the incidents subject.
type Incident struct {
	Type        string `json:"type"`
	Symbol      string `json:"symbol"`
	TriggeredAt string `json:"triggered_at"`
	PreCount    int    `json:"pre_count"`
	PostCount   int    `json:"post_count"`
}

// Connect dials url and returns a Mirror. If url is empty, it returns a
// disabled Mirror whose Publish calls are no-ops — callers don't need to
// branch on whether NATS_URL was set.
func Connect(url string, log zerolog.Logger) *Mirror {
	if url == "" {
		return &Mirror{log: log}
	}

	conn, err := nats.Connect(url,
		nats.MaxReconnects(5),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(3*time.Second),
	)
	if err != nil {
		log.Warn().Err(err).Str("url", url).Msg("nats connect failed, incident mirror disabled")
		return &Mirror{log: log}
	}

	log.Info().Str("url", url).Msg("nats incident mirror connected")
	return &Mirror{conn: conn, log: log}
}

// Publish best-effort mirrors an incident; errors are logged, never
// propagated, since alerting is additive to the pipeline's correctness.
func (m *Mirror) Publish(inc Incident) {
	if m == nil || m.conn == nil {
		return
	}
	b, err := json.Marshal(inc)
	if err != nil {
		m.log.Warn().Err(err).Msg("incident marshal failed")
		return
	}
	if err := m.conn.Publish(subject, b); err != nil {
		m.log.Warn().Err(err).Msg("incident publish failed")
	}
}

// Close closes the underlying connection, if any.
func (m *Mirror) Close() {
	if m != nil && m.conn != nil {
		m.conn.Close()
	}
}
