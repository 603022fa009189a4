package market_regime

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/signald/internal/modules/marketdata"
)

// Trend labels the directional regime read from moving-average structure.
type Trend string

const (
	// TrendBullish - fast average holds above slow with price confirming
	TrendBullish Trend = "bullish"
	// TrendBearish - fast average holds below slow with price confirming
	TrendBearish Trend = "bearish"
	// TrendChoppy - averages entangled, no durable direction
	TrendChoppy Trend = "choppy"
)

// VolState labels the volatility regime.
type VolState string

const (
	// VolNormal - realized volatility within the configured band
	VolNormal VolState = "normal"
	// VolElevated - realized volatility above the elevated threshold
	VolElevated VolState = "elevated"
)

// Snapshot is the regime read at decision time. It is embedded in every
// ledger entry so a decision can be audited against the regime inputs that
// were actually visible, not a later recompute.
type Snapshot struct {
	Trend      Trend    `json:"trend"`
	VolState   VolState `json:"vol_state"`
	Confidence float64  `json:"confidence"` // 0.0-1.0, vote agreement

	// Inputs the votes were cast on.
	Price       float64 `json:"price"`
	SMA20       float64 `json:"sma20"`
	SMA50       float64 `json:"sma50"`
	RealizedVol float64 `json:"realized_vol"`

	// Degraded marks a neutral fallback read from missing market data.
	Degraded     bool      `json:"degraded,omitempty"`
	ClassifiedAt time.Time `json:"classified_at"`
}

// Config holds the classification thresholds.
type Config struct {
	// TrendBand is the minimum fast/slow average separation, as a fraction
	// of the slow average, before a direction is called. Inside the band
	// the trend is choppy.
	TrendBand float64 `yaml:"trend_band"`
	// ElevatedVol is the annualized realized volatility above which the
	// volatility state is elevated.
	ElevatedVol float64 `yaml:"elevated_vol"`
}

// DefaultConfig returns the thresholds used when no config file overrides
// them.
func DefaultConfig() Config {
	return Config{
		TrendBand:   0.0015,
		ElevatedVol: 0.35,
	}
}

// Classifier derives the market regime from snapshot inputs. It holds no
// state between calls; the same snapshot always classifies the same way.
type Classifier struct {
	config Config
	log    zerolog.Logger
}

// NewClassifier creates a regime classifier.
func NewClassifier(config Config, log zerolog.Logger) *Classifier {
	return &Classifier{
		config: config,
		log:    log.With().Str("component", "regime_classifier").Logger(),
	}
}

// Classify reads trend and volatility state from a market snapshot.
//
// Trend is voted by two signals: the fast/slow average separation and the
// price position against the fast average. Agreement yields full confidence;
// a split read keeps the direction of the average structure at half
// confidence. A degraded or too-thin snapshot returns a neutral choppy read
// with Degraded set so downstream gates fall back instead of failing.
func (c *Classifier) Classify(snap *marketdata.Snapshot) Snapshot {
	now := time.Now().UTC()

	if snap.IsDegraded() || snap.SMA50 <= 0 || snap.SMA20 <= 0 {
		c.log.Debug().Msg("Regime classified from degraded inputs, returning neutral")
		return Snapshot{
			Trend:        TrendChoppy,
			VolState:     VolNormal,
			Confidence:   0,
			Degraded:     true,
			ClassifiedAt: now,
		}
	}

	separation := (snap.SMA20 - snap.SMA50) / snap.SMA50

	trend := TrendChoppy
	switch {
	case separation > c.config.TrendBand:
		trend = TrendBullish
	case separation < -c.config.TrendBand:
		trend = TrendBearish
	}

	confidence := 0.0
	if trend != TrendChoppy {
		// The price-position vote either confirms or halves the read.
		confidence = 1.0
		priceAbove := snap.Price > snap.SMA20
		if (trend == TrendBullish && !priceAbove) || (trend == TrendBearish && priceAbove) {
			confidence = 0.5
		}
	}

	volState := VolNormal
	if snap.RealizedVol > c.config.ElevatedVol {
		volState = VolElevated
	}

	result := Snapshot{
		Trend:        trend,
		VolState:     volState,
		Confidence:   confidence,
		Price:        snap.Price,
		SMA20:        snap.SMA20,
		SMA50:        snap.SMA50,
		RealizedVol:  snap.RealizedVol,
		ClassifiedAt: now,
	}

	c.log.Debug().
		Str("trend", string(trend)).
		Str("vol_state", string(volState)).
		Float64("confidence", confidence).
		Msg("Regime classified")

	return result
}
