package gates

import "fmt"

// MarketConditionsGate checks that the book is liquid and orderly enough to
// trade into. It evaluates every condition and reports all violations, so an
// operator sees the full picture instead of the first complaint.
type MarketConditionsGate struct{}

func (MarketConditionsGate) Name() string { return GateMarketConditions }

func (MarketConditionsGate) Evaluate(in Inputs, cfg *GateConfig) *GateResult {
	result := &GateResult{Name: GateMarketConditions}

	if in.Snapshot.IsDegraded() {
		result.Passed = true
		result.Score = cfg.NeutralScore
		result.Degraded = true
		result.DegradedReason = "no market data, neutral fallback"
		return result
	}

	snap := in.Snapshot
	checks := 0
	passed := 0

	check := func(ok bool, failure string) {
		checks++
		if ok {
			passed++
		} else {
			result.FailureReasons = append(result.FailureReasons, failure)
		}
	}

	check(snap.RelativeVolume >= cfg.Market.MinRelativeVolume,
		fmt.Sprintf("relative volume %.2f below minimum %.2f", snap.RelativeVolume, cfg.Market.MinRelativeVolume))
	check(snap.SpreadBps <= cfg.Market.MaxSpreadBps,
		fmt.Sprintf("spread %.1f bps above maximum %.1f", snap.SpreadBps, cfg.Market.MaxSpreadBps))
	check(snap.RealizedVol <= cfg.Market.MaxRealizedVol,
		fmt.Sprintf("realized volatility %.2f above maximum %.2f", snap.RealizedVol, cfg.Market.MaxRealizedVol))
	check(snap.DollarVolume >= cfg.Market.MinDollarVolume,
		fmt.Sprintf("dollar volume %.0f below minimum %.0f", snap.DollarVolume, cfg.Market.MinDollarVolume))

	result.Passed = passed == checks
	if result.Passed {
		result.Score = 100
		result.Reason = "market conditions acceptable"
	} else {
		result.Score = cfg.FailureScore
		result.HardFail = cfg.Market.HardFail
		result.Reason = fmt.Sprintf("%d of %d market checks failed", checks-passed, checks)
	}

	result.Details = map[string]interface{}{
		"relative_volume": snap.RelativeVolume,
		"spread_bps":      snap.SpreadBps,
		"realized_vol":    snap.RealizedVol,
		"dollar_volume":   snap.DollarVolume,
		"source":          string(snap.Source),
	}
	return result
}
