package consumers

import (
	"context"
	"errors"
	"math"

	"github.com/rs/zerolog"

	"github.com/tanayshah11/mercury-stream/internal/bus"
	"github.com/tanayshah11/mercury-stream/internal/ticker"
)

const returnsWindowSize = 1000

// returnsWindow is a fixed-capacity ring of log-returns with a running sum
// and sum-of-squares, so std-dev is O(1) per sample rather than a full pass.
type returnsWindow struct {
	buf   []float64
	next  int
	full  bool
	sum   float64
	sumSq float64
}

func newReturnsWindow(capacity int) *returnsWindow {
	return &returnsWindow{buf: make([]float64, capacity)}
}

func (w *returnsWindow) add(v float64) {
	if w.full {
		old := w.buf[w.next]
		w.sum -= old
		w.sumSq -= old * old
	}
	w.buf[w.next] = v
	w.sum += v
	w.sumSq += v * v
	w.next = (w.next + 1) % len(w.buf)
	if w.next == 0 {
		w.full = true
	}
}

func (w *returnsWindow) len() int {
	if w.full {
		return len(w.buf)
	}
	return w.next
}

func (w *returnsWindow) stddev() float64 {
	n := float64(w.len())
	if n < 2 {
		return 0
	}
	mean := w.sum / n
	variance := w.sumSq/n - mean*mean
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance)
}

type volState struct {
	lastPrice float64
	haveLast  bool
	returns   *returnsWindow
}

// Volatility tracks per-symbol rolling standard deviation of log-returns.
type Volatility struct {
	log     zerolog.Logger
	symbols map[string]*volState
}

func NewVolatility(log zerolog.Logger) *Volatility {
	return &Volatility{log: log, symbols: make(map[string]*volState)}
}

func (v *Volatility) Run(ctx context.Context, sub *bus.Subscription) {
	for {
		t, err := sub.Receive(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, bus.ErrUnsubscribed) {
				v.log.Warn().Err(err).Msg("volatility subscription ended")
			}
			return
		}
		v.process(t)
	}
}

func (v *Volatility) process(t ticker.Ticker) {
	s, ok := v.symbols[t.ProductID]
	if !ok {
		s = &volState{returns: newReturnsWindow(returnsWindowSize)}
		v.symbols[t.ProductID] = s
	}

	price, _ := t.Price.Float64()
	if s.haveLast && s.lastPrice > 0 && price > 0 {
		logReturn := math.Log(price / s.lastPrice)
		s.returns.add(logReturn)
	}
	s.lastPrice = price
	s.haveLast = true
}

// Stddev returns the current rolling log-return std-dev for symbol.
func (v *Volatility) Stddev(symbol string) float64 {
	s, ok := v.symbols[symbol]
	if !ok {
		return 0
	}
	return s.returns.stddev()
}
