// Package engine turns normalized signals into decisions: it runs the gate
// chain once, aggregates the confluence score, derives the decision state
// and, for actionable decisions, builds the sizing plan. Engines are
// immutable after construction and safe for unbounded parallel Decide calls.
package engine

import (
	"math"
	"time"

	"github.com/aristath/signald/internal/domain"
	"github.com/aristath/signald/internal/market_regime"
	"github.com/aristath/signald/internal/modules/gates"
	"github.com/aristath/signald/internal/modules/signals"
)

// BreakdownRow records one gate's contribution to the confluence score.
type BreakdownRow struct {
	Gate     string  `json:"gate"`
	Weight   float64 `json:"weight"`
	Score    float64 `json:"score"`
	Weighted float64 `json:"weighted"`
}

// ExecutionPlan is the sizing side of an actionable decision. The quality
// boost lives here and only here; the confluence score is computed before
// any sizing and never sees it.
type ExecutionPlan struct {
	Direction    domain.Direction `json:"direction"`
	Entry        float64          `json:"entry"`
	Stop         float64          `json:"stop,omitempty"`
	Target       float64          `json:"target,omitempty"`
	RiskPercent  float64          `json:"risk_percent"`
	QualityBoost float64          `json:"quality_boost"`
	PositionPct  float64          `json:"position_pct"`
}

// Decision is the engine's verdict for one signal, with the evidence that
// produced it. Plan is set only for ACT decisions; Hypothetical carries the
// plan that would have been used, recorded for WAIT/SKIP so the miss can be
// analyzed offline.
type Decision struct {
	Kind            domain.DecisionKind    `json:"kind"`
	Reason          string                 `json:"reason"`
	ConfluenceScore float64                `json:"confluence_score"`
	Breakdown       []BreakdownRow         `json:"breakdown"`
	GateResults     gates.GateResults      `json:"gate_results"`
	Regime          market_regime.Snapshot `json:"regime"`
	Plan            *ExecutionPlan         `json:"plan,omitempty"`
	Hypothetical    *ExecutionPlan         `json:"hypothetical,omitempty"`
	EngineVersion   string                 `json:"engine_version"`
	DecidedAt       time.Time              `json:"decided_at"`
}

// BuildPlan derives the sizing plan for a signal under a config. The quality
// tier scales the base position through the configured boost map, capped at
// the configured maximum.
func BuildPlan(sig *signals.Signal, cfg *gates.GateConfig) *ExecutionPlan {
	boost, ok := cfg.Sizing.QualityBoost[string(sig.Quality)]
	if !ok || boost <= 0 {
		boost = 1.0
	}

	positionPct := math.Min(cfg.Sizing.BasePositionPct*boost, cfg.Sizing.MaxPositionPct)
	riskPct := math.Min(sig.RiskPercent, cfg.Risk.MaxRiskPercent)

	return &ExecutionPlan{
		Direction:    sig.Direction,
		Entry:        sig.Entry,
		Stop:         sig.Stop,
		Target:       sig.Target,
		RiskPercent:  riskPct,
		QualityBoost: boost,
		PositionPct:  positionPct,
	}
}

// buildBreakdown lays out each gate's weighted contribution for audit.
func buildBreakdown(results gates.GateResults, cfg *gates.GateConfig) []BreakdownRow {
	rows := make([]BreakdownRow, 0, len(results))
	for _, r := range results {
		w := cfg.WeightFor(r.Name)
		rows = append(rows, BreakdownRow{
			Gate:     r.Name,
			Weight:   w,
			Score:    r.Score,
			Weighted: w * r.Score,
		})
	}
	return rows
}
