// Package domain provides core domain models and types.
package domain

import (
	"strings"
	"time"
)

// Direction represents the side of a trading signal
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// ParseDirection normalizes sender direction variants ("LONG", "buy", "bearish", ...)
// into a canonical Direction. The second return value is false for unrecognized input.
func ParseDirection(raw string) (Direction, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "long", "buy", "bull", "bullish":
		return DirectionLong, true
	case "short", "sell", "bear", "bearish":
		return DirectionShort, true
	}
	return "", false
}

// QualityTier classifies the upstream quality grade of a signal
type QualityTier string

const (
	QualityLow    QualityTier = "LOW"
	QualityMedium QualityTier = "MEDIUM"
	QualityHigh   QualityTier = "HIGH"
)

// Rank returns the ordinal of the tier (LOW=1 .. HIGH=3, unknown=0)
func (q QualityTier) Rank() int {
	switch q {
	case QualityLow:
		return 1
	case QualityMedium:
		return 2
	case QualityHigh:
		return 3
	}
	return 0
}

// ParseQualityTier normalizes sender quality variants ("high", "HIGH", "h", "3")
func ParseQualityTier(raw string) (QualityTier, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "low", "l", "1":
		return QualityLow, true
	case "medium", "med", "m", "2":
		return QualityMedium, true
	case "high", "h", "3":
		return QualityHigh, true
	}
	return "", false
}

// DecisionKind is the engine's final verdict for one signal
type DecisionKind string

const (
	DecisionActLong  DecisionKind = "ACT_LONG"
	DecisionActShort DecisionKind = "ACT_SHORT"
	DecisionWait     DecisionKind = "WAIT"
	DecisionSkip     DecisionKind = "SKIP"
)

// Actionable reports whether the decision opens a position
func (k DecisionKind) Actionable() bool {
	return k == DecisionActLong || k == DecisionActShort
}

// Valid reports whether k is one of the four decision kinds
func (k DecisionKind) Valid() bool {
	switch k {
	case DecisionActLong, DecisionActShort, DecisionWait, DecisionSkip:
		return true
	}
	return false
}

// MarketSession buckets a timestamp within the US equities trading day
type MarketSession string

const (
	SessionPreMarket  MarketSession = "pre_market"
	SessionRegular    MarketSession = "regular"
	SessionAfterHours MarketSession = "after_hours"
	SessionClosed     MarketSession = "closed"
)

// marketTZ defines session boundaries in New York wall-clock time.
// Falls back to UTC when the tz database is unavailable (stripped containers).
var marketTZ = loadMarketLocation()

func loadMarketLocation() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.UTC
	}
	return loc
}

// SessionAt derives the market session from a timestamp.
// Pre-market 04:00-09:30 ET, regular 09:30-16:00, after-hours 16:00-20:00,
// otherwise closed. Weekends are always closed. Holidays are not modeled;
// the market-conditions gate covers dead tape via its volume thresholds.
func SessionAt(t time.Time) MarketSession {
	et := t.In(marketTZ)
	if wd := et.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return SessionClosed
	}

	mins := et.Hour()*60 + et.Minute()
	switch {
	case mins >= 4*60 && mins < 9*60+30:
		return SessionPreMarket
	case mins >= 9*60+30 && mins < 16*60:
		return SessionRegular
	case mins >= 16*60 && mins < 20*60:
		return SessionAfterHours
	default:
		return SessionClosed
	}
}

// MarketDay returns the weekday of t in market wall-clock time. A Tuesday
// 01:00 UTC bar is still Monday in New York, so derived day-of-week fields
// must go through this rather than t.Weekday().
func MarketDay(t time.Time) time.Weekday {
	return t.In(marketTZ).Weekday()
}

// Timeframe is the canonical chart-interval bucket. Stored values are the
// minute count as a string ("1", "5", "15", "60", "240") or "D" for daily.
type Timeframe string

const (
	Timeframe1   Timeframe = "1"
	Timeframe5   Timeframe = "5"
	Timeframe15  Timeframe = "15"
	Timeframe60  Timeframe = "60"
	Timeframe240 Timeframe = "240"
	TimeframeDay Timeframe = "D"
)

// ParseTimeframe normalizes sender timeframe variants ("15m", "15min", "1h", "4H", "daily")
func ParseTimeframe(raw string) (Timeframe, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "1m", "1min":
		return Timeframe1, true
	case "5", "5m", "5min":
		return Timeframe5, true
	case "15", "15m", "15min":
		return Timeframe15, true
	case "60", "1h", "60m", "60min":
		return Timeframe60, true
	case "240", "4h", "240m":
		return Timeframe240, true
	case "d", "1d", "day", "daily":
		return TimeframeDay, true
	}
	return "", false
}

// Label returns the human-readable interval name used in logs and queries
func (t Timeframe) Label() string {
	switch t {
	case Timeframe1:
		return "1m"
	case Timeframe5:
		return "5m"
	case Timeframe15:
		return "15m"
	case Timeframe60:
		return "1h"
	case Timeframe240:
		return "4h"
	case TimeframeDay:
		return "daily"
	}
	return string(t)
}
