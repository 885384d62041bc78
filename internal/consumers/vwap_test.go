package consumers

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/tanayshah11/mercury-stream/internal/ticker"
)

func TestVWAPComputesWeightedAverage(t *testing.T) {
	v := NewVWAP(2, zerolog.Nop())

	v.process(ticker.Ticker{
		ProductID: "BTC-USD",
		Price:     decimal.NewFromInt(100),
		LastSize:  decimal.NewFromInt(1),
	})
	v.process(ticker.Ticker{
		ProductID: "BTC-USD",
		Price:     decimal.NewFromInt(200),
		LastSize:  decimal.NewFromInt(1),
	})

	s := v.symbols["BTC-USD"]
	vwap := s.sumPV.Div(s.sumV)
	require.True(t, vwap.Equal(decimal.NewFromInt(150)))
}

func TestVolatilityStddevZeroForSinglePrice(t *testing.T) {
	vol := NewVolatility(zerolog.Nop())
	vol.process(ticker.Ticker{ProductID: "BTC-USD", Price: decimal.NewFromInt(100)})
	require.Equal(t, float64(0), vol.Stddev("BTC-USD"))
}

func TestVolumeAccumulatesWithinMinute(t *testing.T) {
	vol := NewVolume(zerolog.Nop())
	vol.process(ticker.Ticker{ProductID: "BTC-USD", Time: 0, Price: decimal.NewFromInt(100), LastSize: decimal.NewFromInt(2)})
	vol.process(ticker.Ticker{ProductID: "BTC-USD", Time: 30000, Price: decimal.NewFromInt(100), LastSize: decimal.NewFromInt(3)})

	b := vol.symbols["BTC-USD"]
	require.Equal(t, int64(2), b.trades)
	require.True(t, b.usd.Equal(decimal.NewFromInt(500)))
}
