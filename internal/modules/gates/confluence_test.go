package gates

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScore_WeightedAggregate(t *testing.T) {
	cfg := DefaultGateConfig()
	results := GateResults{
		{Name: GateMarketConditions, Passed: true, Score: 100},
		{Name: GateRegime, Passed: true, Score: 100},
		{Name: GateQuality, Passed: true, Score: 85},
		{Name: GateRisk, Passed: true, Score: 100},
	}

	// 0.30*100 + 0.25*100 + 0.25*85 + 0.20*100 = 96.25
	assert.InDelta(t, 96.25, Score(results, cfg), 0.001)
}

func TestScore_FailedGateDragsAggregate(t *testing.T) {
	cfg := DefaultGateConfig()
	results := GateResults{
		{Name: GateMarketConditions, Passed: true, Score: 100},
		{Name: GateRegime, Passed: false, Score: cfg.Regime.DownWeightScore},
		{Name: GateQuality, Passed: true, Score: 85},
		{Name: GateRisk, Passed: true, Score: 100},
	}

	// 0.30*100 + 0.25*20 + 0.25*85 + 0.20*100 = 76.25
	assert.InDelta(t, 76.25, Score(results, cfg), 0.001)
}

func TestScore_UnknownGateCarriesNoWeight(t *testing.T) {
	cfg := DefaultGateConfig()
	results := GateResults{
		{Name: GateMarketConditions, Passed: true, Score: 100},
		{Name: "experimental", Passed: true, Score: 0},
	}

	assert.InDelta(t, 100.0, Score(results, cfg), 0.001)
}

func TestScore_EmptyResultsScoreZero(t *testing.T) {
	assert.Equal(t, 0.0, Score(GateResults{}, DefaultGateConfig()))
}

func TestScore_PureFunctionOfInputs(t *testing.T) {
	cfg := DefaultGateConfig()
	results := EvaluateAll(DefaultGates(), testInputs(), cfg)

	first := Score(results, cfg)
	second := Score(results, cfg)

	assert.Equal(t, first, second)
}
