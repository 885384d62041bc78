// Package ticker defines the decoded trade-event record that flows through
// the rest of the pipeline.
package ticker

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Side is the taker side of a trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Ticker is one decoded market trade event. Price and LastSize are decimal,
// never float64 — the exchange's notion of equality must survive re-encoding
// without rounding drift.
type Ticker struct {
	ProductID  string          `json:"product_id"`
	TradeID    int64           `json:"trade_id"`
	Sequence   int64           `json:"sequence"`
	Price      decimal.Decimal `json:"price"`
	LastSize   decimal.Decimal `json:"last_size"`
	Time       int64           `json:"time"`
	Side       Side            `json:"side"`
	IngestTsMs int64           `json:"ingest_ts_ms"`
	RecvTsMs   int64           `json:"recv_ts_ms"`

	// Extra carries any field not named above, so the processor never drops
	// data it doesn't understand. Re-encoded after the named fields.
	Extra map[string]json.RawMessage `json:"-"`

	// Dup is set by the Forensics duplicate detector (D2) when this exact
	// trade_id has been seen before. Not part of the wire format.
	Dup bool `json:"dup,omitempty"`
}

// schemaField describes one of the 17 keys the reference schema (D1) expects.
type schemaField struct {
	name     string
	required bool
}

// ReferenceSchema is the fixed 17-key schema Forensics' D1 detector checks
// incoming payloads against. Keys beyond these are tolerated via Extra;
// these are the ones whose absence or type mismatch counts as drift.
var ReferenceSchema = []schemaField{
	{"product_id", true},
	{"trade_id", true},
	{"sequence", true},
	{"price", true},
	{"last_size", true},
	{"time", true},
	{"side", true},
	{"ingest_ts_ms", true},
	{"recv_ts_ms", false}, // stamped by the processor itself, absent on the wire
	{"type", false},
	{"maker_order_id", false},
	{"taker_order_id", false},
	{"trade_type", false},
	{"reason", false},
	{"best_bid", false},
	{"best_ask", false},
	{"channel", false},
}

// Decode parses one frame payload into a Ticker, preserving unrecognized
// fields in Extra and stamping RecvTsMs to now (caller supplies the clock via
// recvTsMs so tests stay deterministic).
func Decode(payload []byte, recvTsMs int64) (Ticker, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Ticker{}, fmt.Errorf("ticker: invalid json: %w", err)
	}

	var t Ticker
	if err := json.Unmarshal(payload, &t); err != nil {
		return Ticker{}, fmt.Errorf("ticker: invalid ticker shape: %w", err)
	}
	t.RecvTsMs = recvTsMs

	known := map[string]struct{}{
		"product_id": {}, "trade_id": {}, "sequence": {}, "price": {},
		"last_size": {}, "time": {}, "side": {}, "ingest_ts_ms": {}, "recv_ts_ms": {},
	}
	extra := make(map[string]json.RawMessage)
	for k, v := range raw {
		if _, ok := known[k]; !ok {
			extra[k] = v
		}
	}
	if len(extra) > 0 {
		t.Extra = extra
	}

	return t, nil
}

// MarshalJSON re-emits the Ticker with its named fields followed by Extra,
// approximating original key order: known fields first (wire order), then
// whatever the source sent that we didn't model.
func (t Ticker) MarshalJSON() ([]byte, error) {
	type alias Ticker
	named, err := json.Marshal(alias(t))
	if err != nil {
		return nil, err
	}
	if len(t.Extra) == 0 {
		return named, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(named, &merged); err != nil {
		return nil, err
	}
	for k, v := range t.Extra {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// CheckDrift compares the raw payload's key set and value kinds against
// ReferenceSchema. It returns a human-readable reason when a required key is
// missing or a present key's JSON kind doesn't match what's expected; an
// empty reason means no drift.
func CheckDrift(raw map[string]json.RawMessage) string {
	for _, f := range ReferenceSchema {
		v, present := raw[f.name]
		if !present {
			if f.required {
				return "missing required field: " + f.name
			}
			continue
		}
		if len(v) == 0 {
			continue
		}
		switch f.name {
		case "product_id", "side", "type", "maker_order_id", "taker_order_id",
			"trade_type", "reason", "channel":
			if v[0] != '"' {
				return "field " + f.name + " expected string"
			}
		case "trade_id", "sequence", "time", "ingest_ts_ms", "recv_ts_ms":
			if v[0] == '"' {
				continue // exchanges commonly send numeric ids as strings; tolerated
			}
			if !(v[0] == '-' || (v[0] >= '0' && v[0] <= '9')) {
				return "field " + f.name + " expected number"
			}
		}
	}
	return ""
}
