package gates

import (
	"fmt"

	"github.com/aristath/signald/internal/domain"
	"github.com/aristath/signald/internal/market_regime"
)

// RegimeGate checks that the signal's direction is compatible with the
// classified market regime. Strictness is config-driven: hard_fail mode
// forces SKIP on an incompatible regime, down_weight mode only lowers the
// contribution.
type RegimeGate struct{}

func (RegimeGate) Name() string { return GateRegime }

func (RegimeGate) Evaluate(in Inputs, cfg *GateConfig) *GateResult {
	result := &GateResult{Name: GateRegime}
	regime := in.Regime

	result.Details = map[string]interface{}{
		"trend":      string(regime.Trend),
		"vol_state":  string(regime.VolState),
		"confidence": regime.Confidence,
		"direction":  string(in.Signal.Direction),
	}

	if regime.Degraded {
		result.Passed = true
		result.Score = cfg.NeutralScore
		result.Degraded = true
		result.DegradedReason = "regime unavailable, neutral fallback"
		return result
	}

	if regime.Trend == market_regime.TrendChoppy {
		result.Passed = true
		result.Score = cfg.Regime.ChoppyScore
		result.Reason = "no directional regime"
		return result
	}

	aligned := (in.Signal.Direction == domain.DirectionLong && regime.Trend == market_regime.TrendBullish) ||
		(in.Signal.Direction == domain.DirectionShort && regime.Trend == market_regime.TrendBearish)

	if aligned {
		result.Passed = true
		// Scales from the neutral choppy baseline up to 100 as the
		// classifier's vote agreement rises.
		result.Score = cfg.Regime.ChoppyScore + (100-cfg.Regime.ChoppyScore)*regime.Confidence
		result.Reason = fmt.Sprintf("%s signal aligned with %s regime", in.Signal.Direction, regime.Trend)
		return result
	}

	result.Passed = false
	result.Reason = fmt.Sprintf("%s signal against %s regime", in.Signal.Direction, regime.Trend)
	result.FailureReasons = []string{result.Reason}

	switch cfg.Regime.Mode {
	case RegimeModeHardFail:
		result.HardFail = true
		result.Score = cfg.FailureScore
	default:
		result.Score = cfg.Regime.DownWeightScore
	}
	return result
}
