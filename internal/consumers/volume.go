package consumers

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/tanayshah11/mercury-stream/internal/bus"
	"github.com/tanayshah11/mercury-stream/internal/ticker"
)

type minuteBucket struct {
	minute int64
	usd    decimal.Decimal
	trades int64
}

// Volume tracks per-symbol, per-minute traded USD and trade counts. Each
// symbol holds only its current bucket; rolling to a new minute flushes
// the prior one to the log.
type Volume struct {
	log     zerolog.Logger
	symbols map[string]*minuteBucket
}

func NewVolume(log zerolog.Logger) *Volume {
	return &Volume{log: log, symbols: make(map[string]*minuteBucket)}
}

func (v *Volume) Run(ctx context.Context, sub *bus.Subscription) {
	for {
		t, err := sub.Receive(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, bus.ErrUnsubscribed) {
				v.log.Warn().Err(err).Msg("volume subscription ended")
			}
			return
		}
		v.process(t)
	}
}

func (v *Volume) process(t ticker.Ticker) {
	minute := t.Time / 60000

	b, ok := v.symbols[t.ProductID]
	if !ok {
		v.symbols[t.ProductID] = &minuteBucket{minute: minute}
		b = v.symbols[t.ProductID]
	} else if b.minute != minute {
		v.flush(t.ProductID, b)
		b.minute = minute
		b.usd = decimal.Zero
		b.trades = 0
	}

	b.usd = b.usd.Add(t.Price.Mul(t.LastSize))
	b.trades++
}

func (v *Volume) flush(symbol string, b *minuteBucket) {
	v.log.Info().
		Str("symbol", symbol).
		Int64("minute", b.minute).
		Str("usd_volume", b.usd.String()).
		Int64("trades", b.trades).
		Msg("volume summary")
}
