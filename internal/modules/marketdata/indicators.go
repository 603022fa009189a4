package marketdata

import (
	"math"

	"github.com/markcheno/go-talib"
	"gonum.org/v1/gonum/stat"
)

const (
	rsiPeriod = 14
	atrPeriod = 14
	smaFast   = 20
	smaSlow   = 50

	// minutesPerTradingYear annualizes one-minute log returns:
	// 252 sessions of 390 regular-session minutes.
	minutesPerTradingYear = 252 * 390
)

// Indicators holds the values derived from a candle window.
type Indicators struct {
	RSI14          float64
	ATR14          float64
	SMA20          float64
	SMA50          float64
	RealizedVol    float64
	RelativeVolume float64
}

// ComputeIndicators derives snapshot indicators from a candle window,
// oldest bar first. Neutral defaults stand in when the window is too short
// for a given indicator, so a thin buffer never blocks a snapshot.
func ComputeIndicators(candles []Candle) Indicators {
	ind := Indicators{RSI14: 50, RelativeVolume: 1}
	n := len(candles)
	if n == 0 {
		return ind
	}

	closes := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	vols := make([]float64, n)
	for i, c := range candles {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
		vols[i] = c.Volume
	}

	if n > rsiPeriod {
		if rsi := talib.Rsi(closes, rsiPeriod); len(rsi) > 0 && !math.IsNaN(rsi[n-1]) {
			ind.RSI14 = rsi[n-1]
		}
	}
	if n > atrPeriod {
		if atr := talib.Atr(highs, lows, closes, atrPeriod); len(atr) > 0 && !math.IsNaN(atr[n-1]) {
			ind.ATR14 = atr[n-1]
		}
	}
	if n >= smaFast {
		if sma := talib.Sma(closes, smaFast); len(sma) > 0 && !math.IsNaN(sma[n-1]) {
			ind.SMA20 = sma[n-1]
		}
	}
	if n >= smaSlow {
		if sma := talib.Sma(closes, smaSlow); len(sma) > 0 && !math.IsNaN(sma[n-1]) {
			ind.SMA50 = sma[n-1]
		}
	}

	ind.RealizedVol = realizedVolatility(closes)
	ind.RelativeVolume = relativeVolume(vols)
	return ind
}

// realizedVolatility annualizes the standard deviation of one-minute log
// returns. Returns 0 when the window cannot produce two valid returns.
func realizedVolatility(closes []float64) float64 {
	if len(closes) < 3 {
		return 0
	}
	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] > 0 && closes[i] > 0 {
			returns = append(returns, math.Log(closes[i]/closes[i-1]))
		}
	}
	if len(returns) < 2 {
		return 0
	}
	return stat.StdDev(returns, nil) * math.Sqrt(minutesPerTradingYear)
}

// relativeVolume compares the latest bar's volume to the window average.
func relativeVolume(vols []float64) float64 {
	if len(vols) < 2 {
		return 1
	}
	avg := stat.Mean(vols[:len(vols)-1], nil)
	if avg <= 0 {
		return 1
	}
	return vols[len(vols)-1] / avg
}
