package gates

import "fmt"

// RiskGate checks the geometry of the trade: stop distance, reward/risk
// ratio and risk allocation must sit inside configured bounds. Like the
// market gate it reports every violation.
type RiskGate struct{}

func (RiskGate) Name() string { return GateRisk }

func (RiskGate) Evaluate(in Inputs, cfg *GateConfig) *GateResult {
	result := &GateResult{Name: GateRisk}
	sig := in.Signal

	var failures []string

	stopDistPct := 0.0
	if sig.HasStop() && sig.Entry > 0 {
		stopDistPct = sig.StopDistance()
		if stopDistPct > cfg.Risk.MaxStopDistancePct {
			failures = append(failures,
				fmt.Sprintf("stop distance %.1f%% above maximum %.1f%%", stopDistPct*100, cfg.Risk.MaxStopDistancePct*100))
		}
	}

	if sig.RewardRisk > 0 && sig.RewardRisk < cfg.Risk.MinRewardRisk {
		failures = append(failures,
			fmt.Sprintf("reward/risk %.2f below minimum %.2f", sig.RewardRisk, cfg.Risk.MinRewardRisk))
	}

	if sig.RiskPercent > cfg.Risk.MaxRiskPercent {
		failures = append(failures,
			fmt.Sprintf("risk percent %.2f%% above maximum %.2f%%", sig.RiskPercent*100, cfg.Risk.MaxRiskPercent*100))
	}

	result.Details = map[string]interface{}{
		"stop_distance_pct": stopDistPct,
		"reward_risk":       sig.RewardRisk,
		"risk_percent":      sig.RiskPercent,
		"has_stop":          sig.HasStop(),
	}

	if len(failures) > 0 {
		result.Passed = false
		result.Score = cfg.FailureScore
		result.HardFail = cfg.Risk.HardFail
		result.FailureReasons = failures
		result.Reason = fmt.Sprintf("%d risk checks failed", len(failures))
		return result
	}

	result.Passed = true
	result.Score = 100
	result.Reason = "risk parameters within bounds"
	return result
}
