package gates

import (
	"time"

	"github.com/aristath/signald/internal/market_regime"
	"github.com/aristath/signald/internal/modules/marketdata"
	"github.com/aristath/signald/internal/modules/signals"
)

// Gate names, in evaluation order.
const (
	GateMarketConditions = "market_conditions"
	GateRegime           = "regime"
	GateQuality          = "quality"
	GateRisk             = "risk"
)

// GateResult is one gate's verdict for one signal.
type GateResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`

	// Score is the gate's effective confluence contribution in [0,100],
	// with the config's failure/neutral/down-weight defaults already
	// applied. The aggregate weighs these as they stand.
	Score float64 `json:"score"`

	Reason string `json:"reason,omitempty"`

	// FailureReasons collects every violated condition, not just the
	// first; the market gate routinely fills several.
	FailureReasons []string `json:"failure_reasons,omitempty"`

	// HardFail marks a failure whose configured mode forces SKIP.
	HardFail bool `json:"hard_fail,omitempty"`

	// Degraded marks a neutral fallback taken on missing market data.
	Degraded       bool   `json:"degraded,omitempty"`
	DegradedReason string `json:"degraded_reason,omitempty"`

	Details map[string]interface{} `json:"details,omitempty"`
}

// GateResults is the ordered outcome of one evaluation pass. Computed once
// per decision and cached on it; never re-run downstream.
type GateResults []*GateResult

// Get returns the result for a gate name, or nil.
func (rs GateResults) Get(name string) *GateResult {
	for _, r := range rs {
		if r.Name == name {
			return r
		}
	}
	return nil
}

// HardFailed returns the gates that failed in hard-fail mode.
func (rs GateResults) HardFailed() []*GateResult {
	var failed []*GateResult
	for _, r := range rs {
		if !r.Passed && r.HardFail {
			failed = append(failed, r)
		}
	}
	return failed
}

// FailureReasonUnion collects the failure reasons of every failed gate, in
// gate order. This is the reason set a SKIP decision carries.
func (rs GateResults) FailureReasonUnion() []string {
	var reasons []string
	for _, r := range rs {
		if r.Passed {
			continue
		}
		if len(r.FailureReasons) > 0 {
			reasons = append(reasons, r.FailureReasons...)
		} else if r.Reason != "" {
			reasons = append(reasons, r.Reason)
		}
	}
	return reasons
}

// Inputs is everything a gate may read. Snapshot is never nil: when market
// data is unavailable the caller passes a degraded snapshot and
// market-dependent gates record the neutral fallback.
type Inputs struct {
	Signal   *signals.Signal
	Snapshot *marketdata.Snapshot
	Regime   market_regime.Snapshot
	Now      time.Time
}

// Gate is one admission check. Implementations are stateless and
// deterministic: identical inputs and config produce identical results.
type Gate interface {
	Name() string
	Evaluate(in Inputs, cfg *GateConfig) *GateResult
}

// DefaultGates returns the configured gate chain in evaluation order.
func DefaultGates() []Gate {
	return []Gate{
		MarketConditionsGate{},
		RegimeGate{},
		QualityGate{},
		RiskGate{},
	}
}

// EvaluateAll runs each gate exactly once, in order.
func EvaluateAll(gates []Gate, in Inputs, cfg *GateConfig) GateResults {
	results := make(GateResults, 0, len(gates))
	for _, g := range gates {
		results = append(results, g.Evaluate(in, cfg))
	}
	return results
}
