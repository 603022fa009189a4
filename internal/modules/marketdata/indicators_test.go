package marketdata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// makeCandles builds n one-minute bars with closes walking from start by
// step per bar and a constant volume, oldest first.
func makeCandles(n int, start, step, volume float64) []Candle {
	base := time.Date(2024, 3, 12, 14, 0, 0, 0, time.UTC)
	candles := make([]Candle, n)
	for i := 0; i < n; i++ {
		c := start + step*float64(i)
		candles[i] = Candle{
			Ts:     base.Add(time.Duration(i) * time.Minute),
			Open:   c - step/2,
			High:   c + 0.5,
			Low:    c - 0.5,
			Close:  c,
			Volume: volume,
		}
	}
	return candles
}

func TestComputeIndicators_EmptyWindow(t *testing.T) {
	ind := ComputeIndicators(nil)

	assert.Equal(t, 50.0, ind.RSI14)
	assert.Equal(t, 1.0, ind.RelativeVolume)
	assert.Equal(t, 0.0, ind.ATR14)
	assert.Equal(t, 0.0, ind.SMA20)
	assert.Equal(t, 0.0, ind.SMA50)
	assert.Equal(t, 0.0, ind.RealizedVol)
}

func TestComputeIndicators_ShortWindowKeepsNeutralDefaults(t *testing.T) {
	// 5 bars is below every indicator period.
	ind := ComputeIndicators(makeCandles(5, 100, 0.1, 1000))

	assert.Equal(t, 50.0, ind.RSI14)
	assert.Equal(t, 0.0, ind.ATR14)
	assert.Equal(t, 0.0, ind.SMA20)
	assert.Equal(t, 0.0, ind.SMA50)
}

func TestComputeIndicators_RisingCloses(t *testing.T) {
	ind := ComputeIndicators(makeCandles(60, 100, 0.25, 1000))

	// Every bar closed higher, so momentum reads strongly overbought and
	// the fast average sits above the slow one.
	assert.Greater(t, ind.RSI14, 70.0)
	assert.Greater(t, ind.SMA20, ind.SMA50)
	assert.Greater(t, ind.ATR14, 0.0)
	assert.Greater(t, ind.RealizedVol, 0.0)
}

func TestComputeIndicators_FallingCloses(t *testing.T) {
	ind := ComputeIndicators(makeCandles(60, 200, -0.25, 1000))

	assert.Less(t, ind.RSI14, 30.0)
	assert.Less(t, ind.SMA20, ind.SMA50)
}

func TestComputeIndicators_RelativeVolume(t *testing.T) {
	candles := makeCandles(30, 100, 0.1, 1000)
	candles[len(candles)-1].Volume = 2000

	ind := ComputeIndicators(candles)

	assert.InDelta(t, 2.0, ind.RelativeVolume, 0.001)
}

func TestComputeIndicators_FlatClosesHaveZeroVolatility(t *testing.T) {
	ind := ComputeIndicators(makeCandles(30, 100, 0, 1000))

	assert.Equal(t, 0.0, ind.RealizedVol)
}

func TestSpreadBps(t *testing.T) {
	testCases := []struct {
		name     string
		bid      float64
		ask      float64
		expected float64
	}{
		{"ten bps spread", 449.8, 450.25, 10.0},
		{"tight spread", 100.0, 100.01, 1.0},
		{"missing bid", 0, 450.25, 0},
		{"missing ask", 449.8, 0, 0},
		{"crossed book", 450.25, 449.8, 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.expected, spreadBps(tc.bid, tc.ask), 0.05)
		})
	}
}

func TestDegradedSnapshot_IsNeutral(t *testing.T) {
	asOf := time.Date(2024, 3, 12, 14, 30, 0, 0, time.UTC)
	snap := DegradedSnapshot("SPY", asOf)

	assert.True(t, snap.IsDegraded())
	assert.Equal(t, SourceDegraded, snap.Source)
	assert.Equal(t, 50.0, snap.RSI14)
	assert.Equal(t, 1.0, snap.RelativeVolume)
	assert.Equal(t, 0.0, snap.Price)

	var none *Snapshot
	assert.True(t, none.IsDegraded())
}
