// Package signals converts raw sender events into canonical Signal records.
package signals

import (
	"time"

	"github.com/aristath/signald/internal/domain"
)

// Signal is the canonical representation of one trading opportunity candidate.
// It is immutable once constructed: the normalizer is the only producer, and
// downstream consumers (gates, engine, ledger) treat it as read-only.
type Signal struct {
	Source    string             `json:"source"`
	Ticker    string             `json:"ticker"`
	Direction domain.Direction   `json:"direction"`
	Timeframe domain.Timeframe   `json:"timeframe"`
	Quality   domain.QualityTier `json:"quality"`
	AIScore   float64            `json:"ai_score"` // 0-10 upstream model score

	Price  float64 `json:"price"`
	Entry  float64 `json:"entry"`
	Stop   float64 `json:"stop,omitempty"`   // 0 = sender provided no stop
	Target float64 `json:"target,omitempty"` // 0 = sender provided no target

	RiskPercent float64 `json:"risk_percent"`          // fraction of equity at risk
	RewardRisk  float64 `json:"reward_risk,omitempty"` // target distance / stop distance

	TrendScore     float64 `json:"trend_score"`     // -1 (down) .. +1 (up)
	RelativeVolume float64 `json:"relative_volume"` // volume vs average, 1.0 = average
	VWAPDeviation  float64 `json:"vwap_deviation"`  // percent distance from VWAP
	Volatility     float64 `json:"volatility"`      // annualized fraction

	Components map[string]float64 `json:"components,omitempty"` // per-component score breakdown
	Tags       []string           `json:"tags,omitempty"`       // contributing component tags

	BarTime    time.Time `json:"bar_time"`
	ReceivedAt time.Time `json:"received_at"`

	// Derived fields, always computed from BarTime (falling back to
	// ReceivedAt), never copied from sender-supplied strings.
	DayOfWeek      time.Weekday         `json:"day_of_week"`
	Session        domain.MarketSession `json:"session"`
	TimeframeLabel string               `json:"timeframe_label"`

	// Coercions records every safe-positive clamp applied during
	// normalization, for auditability.
	Coercions []Coercion `json:"coercions,omitempty"`
}

// Coercion records one safe-positive clamp applied to a numeric field
type Coercion struct {
	Field string  `json:"field"`
	From  float64 `json:"from"`
	To    float64 `json:"to"`
}

// HasStop reports whether the sender provided a protective stop level
func (s *Signal) HasStop() bool {
	return s.Stop > 0
}

// HasTarget reports whether the sender provided a profit target level
func (s *Signal) HasTarget() bool {
	return s.Target > 0
}

// StopDistance returns the absolute distance between entry and stop,
// as a fraction of the entry price. Zero when no stop is set.
func (s *Signal) StopDistance() float64 {
	if !s.HasStop() || s.Entry <= 0 {
		return 0
	}
	dist := s.Entry - s.Stop
	if dist < 0 {
		dist = -dist
	}
	return dist / s.Entry
}
