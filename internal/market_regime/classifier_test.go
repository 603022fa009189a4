package market_regime

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/aristath/signald/internal/modules/marketdata"
)

func newTestClassifier() *Classifier {
	return NewClassifier(DefaultConfig(), zerolog.Nop())
}

func liveSnapshot(price, sma20, sma50, realizedVol float64) *marketdata.Snapshot {
	return &marketdata.Snapshot{
		Ticker:      "SPY",
		AsOf:        time.Now().UTC(),
		Source:      marketdata.SourceLive,
		Price:       price,
		SMA20:       sma20,
		SMA50:       sma50,
		RealizedVol: realizedVol,
	}
}

func TestClassifier_Classify(t *testing.T) {
	testCases := []struct {
		name               string
		snap               *marketdata.Snapshot
		expectedTrend      Trend
		expectedVol        VolState
		expectedConfidence float64
	}{
		{
			name:               "bullish confirmed by price",
			snap:               liveSnapshot(452, 450, 445, 0.20),
			expectedTrend:      TrendBullish,
			expectedVol:        VolNormal,
			expectedConfidence: 1.0,
		},
		{
			name:               "bullish averages but price below fast",
			snap:               liveSnapshot(448, 450, 445, 0.20),
			expectedTrend:      TrendBullish,
			expectedVol:        VolNormal,
			expectedConfidence: 0.5,
		},
		{
			name:               "bearish confirmed by price",
			snap:               liveSnapshot(440, 442, 450, 0.20),
			expectedTrend:      TrendBearish,
			expectedVol:        VolNormal,
			expectedConfidence: 1.0,
		},
		{
			name:               "bearish averages but price above fast",
			snap:               liveSnapshot(444, 442, 450, 0.20),
			expectedTrend:      TrendBearish,
			expectedVol:        VolNormal,
			expectedConfidence: 0.5,
		},
		{
			name:               "entangled averages are choppy",
			snap:               liveSnapshot(450, 450.1, 450, 0.20),
			expectedTrend:      TrendChoppy,
			expectedVol:        VolNormal,
			expectedConfidence: 0,
		},
		{
			name:               "elevated volatility",
			snap:               liveSnapshot(452, 450, 445, 0.60),
			expectedTrend:      TrendBullish,
			expectedVol:        VolElevated,
			expectedConfidence: 1.0,
		},
	}

	c := newTestClassifier()
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := c.Classify(tc.snap)

			assert.Equal(t, tc.expectedTrend, got.Trend)
			assert.Equal(t, tc.expectedVol, got.VolState)
			assert.Equal(t, tc.expectedConfidence, got.Confidence)
			assert.False(t, got.Degraded)
			assert.Equal(t, tc.snap.Price, got.Price)
			assert.False(t, got.ClassifiedAt.IsZero())
		})
	}
}

func TestClassifier_DegradedSnapshotIsNeutral(t *testing.T) {
	c := newTestClassifier()

	got := c.Classify(marketdata.DegradedSnapshot("SPY", time.Now().UTC()))

	assert.Equal(t, TrendChoppy, got.Trend)
	assert.Equal(t, VolNormal, got.VolState)
	assert.Equal(t, 0.0, got.Confidence)
	assert.True(t, got.Degraded)
}

func TestClassifier_ThinWindowIsNeutral(t *testing.T) {
	c := newTestClassifier()

	// Live snapshot, but the candle buffer was too short for a slow average.
	snap := liveSnapshot(450, 449, 0, 0.20)
	got := c.Classify(snap)

	assert.Equal(t, TrendChoppy, got.Trend)
	assert.True(t, got.Degraded)
}

func TestClassifier_SameInputsSameRead(t *testing.T) {
	c := newTestClassifier()
	snap := liveSnapshot(452, 450, 445, 0.20)

	first := c.Classify(snap)
	second := c.Classify(snap)

	assert.Equal(t, first.Trend, second.Trend)
	assert.Equal(t, first.VolState, second.VolState)
	assert.Equal(t, first.Confidence, second.Confidence)
}
