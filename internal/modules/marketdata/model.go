// Package marketdata supplies point-in-time market context for gate
// evaluation: live quotes from the stream feed, derived indicators, and a
// cache layer that keeps decisions flowing through feed outages.
package marketdata

import "time"

// SnapshotSource tells consumers how fresh a snapshot is.
type SnapshotSource string

const (
	// SourceLive snapshots come straight from the quote stream.
	SourceLive SnapshotSource = "live"
	// SourceCache snapshots were served from the cache database.
	SourceCache SnapshotSource = "cache"
	// SourceDegraded snapshots are neutral stand-ins; no data was available.
	SourceDegraded SnapshotSource = "degraded"
)

// Snapshot is the market context for one ticker at one instant. Gates read
// it during evaluation and the ledger stores it alongside the decision.
type Snapshot struct {
	Ticker string         `json:"ticker" msgpack:"ticker"`
	AsOf   time.Time      `json:"as_of" msgpack:"as_of"`
	Source SnapshotSource `json:"source" msgpack:"source"`

	Price        float64 `json:"price" msgpack:"price"`
	Bid          float64 `json:"bid" msgpack:"bid"`
	Ask          float64 `json:"ask" msgpack:"ask"`
	SpreadBps    float64 `json:"spread_bps" msgpack:"spread_bps"`
	Volume       float64 `json:"volume" msgpack:"volume"`
	DollarVolume float64 `json:"dollar_volume" msgpack:"dollar_volume"`

	RelativeVolume float64 `json:"relative_volume" msgpack:"relative_volume"`
	RSI14          float64 `json:"rsi14" msgpack:"rsi14"`
	ATR14          float64 `json:"atr14" msgpack:"atr14"`
	SMA20          float64 `json:"sma20" msgpack:"sma20"`
	SMA50          float64 `json:"sma50" msgpack:"sma50"`
	RealizedVol    float64 `json:"realized_vol" msgpack:"realized_vol"`
}

// IsDegraded reports whether this snapshot carries real market data.
func (s *Snapshot) IsDegraded() bool {
	return s == nil || s.Source == SourceDegraded
}

// DegradedSnapshot is the neutral-context stand-in recorded when no market
// data is available. RSI sits at the 50 midpoint and relative volume at
// average so gates neither reward nor punish the signal for missing data.
func DegradedSnapshot(ticker string, asOf time.Time) *Snapshot {
	return &Snapshot{
		Ticker:         ticker,
		AsOf:           asOf,
		Source:         SourceDegraded,
		RelativeVolume: 1,
		RSI14:          50,
	}
}

// Quote is the latest trade and book state for one ticker.
type Quote struct {
	Ticker    string    `json:"ticker" msgpack:"ticker"`
	Price     float64   `json:"price" msgpack:"price"`
	Bid       float64   `json:"bid" msgpack:"bid"`
	Ask       float64   `json:"ask" msgpack:"ask"`
	Volume    float64   `json:"volume" msgpack:"volume"`
	UpdatedAt time.Time `json:"updated_at" msgpack:"updated_at"`
}

// Candle is one OHLCV bar from the stream feed.
type Candle struct {
	Ts     time.Time `json:"ts" msgpack:"ts"`
	Open   float64   `json:"open" msgpack:"open"`
	High   float64   `json:"high" msgpack:"high"`
	Low    float64   `json:"low" msgpack:"low"`
	Close  float64   `json:"close" msgpack:"close"`
	Volume float64   `json:"volume" msgpack:"volume"`
}

// spreadBps returns the bid/ask spread in basis points of the midpoint.
func spreadBps(bid, ask float64) float64 {
	if bid <= 0 || ask <= 0 || ask < bid {
		return 0
	}
	mid := (bid + ask) / 2
	return (ask - bid) / mid * 10000
}
