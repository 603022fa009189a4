// Package gates holds the admission gates a signal must clear before the
// engine will act on it, plus the confluence scoring that aggregates their
// verdicts. Every threshold, weight and default score lives in GateConfig so
// an engine version is fully described by its config, never by inline
// constants.
package gates

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/aristath/signald/internal/domain"
)

// RegimeMode selects how a regime-incompatible signal is treated.
type RegimeMode string

const (
	// RegimeModeHardFail - an incompatible regime forces SKIP
	RegimeModeHardFail RegimeMode = "hard_fail"
	// RegimeModeDownWeight - an incompatible regime only lowers the
	// confluence contribution
	RegimeModeDownWeight RegimeMode = "down_weight"
)

// GateConfig is a named, versioned, immutable gate configuration. One config
// is bound to one engine instance; a change means a new version and a new
// instance, never in-place mutation mid-evaluation.
type GateConfig struct {
	Name    string `yaml:"name"`
	Version int    `yaml:"version"`

	// ActionThreshold is the confluence score below which the decision is
	// WAIT even when no gate hard-failed.
	ActionThreshold float64 `yaml:"action_threshold"`

	// NeutralScore replaces a gate's contribution when it ran degraded on
	// missing market data. FailureScore is the contribution of a failed
	// soft gate.
	NeutralScore float64 `yaml:"neutral_score"`
	FailureScore float64 `yaml:"failure_score"`

	// Weights aggregate gate scores into the confluence score.
	Weights struct {
		MarketConditions float64 `yaml:"market_conditions"`
		Regime           float64 `yaml:"regime"`
		Quality          float64 `yaml:"quality"`
		Risk             float64 `yaml:"risk"`
	} `yaml:"weights"`

	Market struct {
		HardFail          bool    `yaml:"hard_fail"`
		MinRelativeVolume float64 `yaml:"min_relative_volume"`
		MaxSpreadBps      float64 `yaml:"max_spread_bps"`
		MaxRealizedVol    float64 `yaml:"max_realized_vol"`
		MinDollarVolume   float64 `yaml:"min_dollar_volume"`
	} `yaml:"market"`

	Regime struct {
		Mode RegimeMode `yaml:"mode"`
		// DownWeightScore is the contribution of an incompatible regime
		// in down_weight mode.
		DownWeightScore float64 `yaml:"down_weight_score"`
		// ChoppyScore is the contribution when no directional regime is
		// present; neither a reward nor a punishment.
		ChoppyScore float64 `yaml:"choppy_score"`
	} `yaml:"regime"`

	Quality struct {
		HardFail   bool    `yaml:"hard_fail"`
		MinTier    string  `yaml:"min_tier"`
		MinAIScore float64 `yaml:"min_ai_score"`
	} `yaml:"quality"`

	Risk struct {
		HardFail           bool    `yaml:"hard_fail"`
		MaxStopDistancePct float64 `yaml:"max_stop_distance_pct"`
		MinRewardRisk      float64 `yaml:"min_reward_risk"`
		MaxRiskPercent     float64 `yaml:"max_risk_percent"`
	} `yaml:"risk"`

	// Sizing parameters feed the execution plan only. They never touch the
	// confluence score.
	Sizing struct {
		BasePositionPct float64            `yaml:"base_position_pct"`
		MaxPositionPct  float64            `yaml:"max_position_pct"`
		QualityBoost    map[string]float64 `yaml:"quality_boost"`
	} `yaml:"sizing"`
}

// DefaultGateConfig mirrors the shipped config file defaults.
//
// Weight philosophy:
// - Market conditions (30%): a signal into a dead or disorderly book is
//   worthless no matter how good it looks.
// - Regime (25%): direction against the tape needs to argue hard.
// - Quality (25%): the upstream model's own conviction.
// - Risk (20%): sane geometry is necessary but says little about edge.
func DefaultGateConfig() *GateConfig {
	cfg := &GateConfig{
		Name:            "default",
		Version:         1,
		ActionThreshold: 70,
		NeutralScore:    50,
		FailureScore:    0,
	}

	cfg.Weights.MarketConditions = 0.30
	cfg.Weights.Regime = 0.25
	cfg.Weights.Quality = 0.25
	cfg.Weights.Risk = 0.20

	cfg.Market.HardFail = true
	cfg.Market.MinRelativeVolume = 0.5
	cfg.Market.MaxSpreadBps = 50
	cfg.Market.MaxRealizedVol = 1.5
	cfg.Market.MinDollarVolume = 1000000

	cfg.Regime.Mode = RegimeModeDownWeight
	cfg.Regime.DownWeightScore = 20
	cfg.Regime.ChoppyScore = 50

	cfg.Quality.HardFail = false
	cfg.Quality.MinTier = string(domain.QualityLow)
	cfg.Quality.MinAIScore = 3

	cfg.Risk.HardFail = true
	cfg.Risk.MaxStopDistancePct = 0.10
	cfg.Risk.MinRewardRisk = 1.0
	cfg.Risk.MaxRiskPercent = 0.02

	cfg.Sizing.BasePositionPct = 0.05
	cfg.Sizing.MaxPositionPct = 0.10
	cfg.Sizing.QualityBoost = map[string]float64{
		string(domain.QualityLow):    0.75,
		string(domain.QualityMedium): 1.0,
		string(domain.QualityHigh):   1.25,
	}

	return cfg
}

// LoadGateConfig reads a YAML gate config, layered over the defaults so a
// partial file only overrides what it names.
func LoadGateConfig(path string) (*GateConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read gate config %s: %w", path, err)
	}

	cfg := DefaultGateConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse gate config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid gate config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configs that cannot produce sane decisions.
func (c *GateConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("gate config needs a name")
	}
	if c.Version < 1 {
		return fmt.Errorf("gate config version must be >= 1, got %d", c.Version)
	}
	if c.ActionThreshold < 0 || c.ActionThreshold > 100 {
		return fmt.Errorf("action_threshold must be in [0,100], got %g", c.ActionThreshold)
	}
	totalWeight := c.Weights.MarketConditions + c.Weights.Regime + c.Weights.Quality + c.Weights.Risk
	if totalWeight <= 0 {
		return fmt.Errorf("gate weights must sum to a positive value, got %g", totalWeight)
	}
	if c.Regime.Mode != RegimeModeHardFail && c.Regime.Mode != RegimeModeDownWeight {
		return fmt.Errorf("regime mode must be %q or %q, got %q", RegimeModeHardFail, RegimeModeDownWeight, c.Regime.Mode)
	}
	if _, ok := domain.ParseQualityTier(c.Quality.MinTier); !ok {
		return fmt.Errorf("quality min_tier %q is not a known tier", c.Quality.MinTier)
	}
	if c.Sizing.BasePositionPct <= 0 || c.Sizing.MaxPositionPct < c.Sizing.BasePositionPct {
		return fmt.Errorf("sizing must have 0 < base_position_pct <= max_position_pct")
	}
	return nil
}

// WeightFor returns the confluence weight of a gate by name.
func (c *GateConfig) WeightFor(gate string) float64 {
	switch gate {
	case GateMarketConditions:
		return c.Weights.MarketConditions
	case GateRegime:
		return c.Weights.Regime
	case GateQuality:
		return c.Weights.Quality
	case GateRisk:
		return c.Weights.Risk
	default:
		return 0
	}
}
