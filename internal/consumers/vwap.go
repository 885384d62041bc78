// Package consumers implements the Bus subscriber tasks: VWAP (the
// reference aggregate), Volatility, Volume, and Health.
package consumers

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/tanayshah11/mercury-stream/internal/bus"
	"github.com/tanayshah11/mercury-stream/internal/metrics"
	"github.com/tanayshah11/mercury-stream/internal/percentile"
	"github.com/tanayshah11/mercury-stream/internal/ticker"
)

// LogInterval is the default number of events between VWAP summary lines.
const LogInterval = 1000

type vwapState struct {
	sumPV decimal.Decimal
	sumV  decimal.Decimal
}

// VWAP tracks a volume-weighted average price per symbol plus pipeline and
// processing latency percentiles, logging a summary every LogInterval events.
type VWAP struct {
	log         zerolog.Logger
	logInterval int
	symbols     map[string]*vwapState
	age         *percentile.Window
	proc        *percentile.Window
	count       int
}

// NewVWAP builds a VWAP consumer. logInterval<=0 uses LogInterval.
func NewVWAP(logInterval int, log zerolog.Logger) *VWAP {
	if logInterval <= 0 {
		logInterval = LogInterval
	}
	return &VWAP{
		log:         log,
		logInterval: logInterval,
		symbols:     make(map[string]*vwapState),
		age:         percentile.NewWindow(1000),
		proc:        percentile.NewWindow(1000),
	}
}

// Run consumes from sub until ctx is done or the subscription is closed.
func (v *VWAP) Run(ctx context.Context, sub *bus.Subscription) {
	for {
		t, err := sub.Receive(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, bus.ErrUnsubscribed) {
				v.log.Warn().Err(err).Msg("vwap subscription ended")
			}
			return
		}
		v.process(t)
	}
}

func (v *VWAP) process(t ticker.Ticker) {
	s, ok := v.symbols[t.ProductID]
	if !ok {
		s = &vwapState{}
		v.symbols[t.ProductID] = s
	}
	pv := t.Price.Mul(t.LastSize)
	s.sumPV = s.sumPV.Add(pv)
	s.sumV = s.sumV.Add(t.LastSize)

	age := float64(t.RecvTsMs - t.IngestTsMs)
	v.age.Add(age)
	v.proc.Add(float64(nowMs() - t.RecvTsMs))
	metrics.LatencyMs.Observe(age)

	v.count++
	if v.count%v.logInterval == 0 {
		v.logSummary(t.ProductID)
	}
}

func (v *VWAP) logSummary(lastSymbol string) {
	s := v.symbols[lastSymbol]
	var vwap decimal.Decimal
	if !s.sumV.IsZero() {
		vwap = s.sumPV.Div(s.sumV)
	}

	ageSnap := v.age.Summary()
	procSnap := v.proc.Summary()

	v.log.Info().
		Str("symbol", lastSymbol).
		Str("vwap", vwap.String()).
		Int("count", v.count).
		Float64("age_p50_ms", ageSnap.P50).
		Float64("age_p95_ms", ageSnap.P95).
		Float64("age_p99_ms", ageSnap.P99).
		Float64("proc_p50_ms", procSnap.P50).
		Float64("proc_p95_ms", procSnap.P95).
		Float64("proc_p99_ms", procSnap.P99).
		Msg("vwap summary")
}
