package gates

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultGateConfig_IsValid(t *testing.T) {
	cfg := DefaultGateConfig()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 70.0, cfg.ActionThreshold)
	assert.InDelta(t, 1.0, cfg.Weights.MarketConditions+cfg.Weights.Regime+cfg.Weights.Quality+cfg.Weights.Risk, 0.001)
	assert.Equal(t, RegimeModeDownWeight, cfg.Regime.Mode)
	assert.Equal(t, 1.25, cfg.Sizing.QualityBoost["HIGH"])
}

func TestLoadGateConfig_PartialOverrideKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gates.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: strict
version: 3
action_threshold: 80
regime:
  mode: hard_fail
`), 0644))

	cfg, err := LoadGateConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "strict", cfg.Name)
	assert.Equal(t, 3, cfg.Version)
	assert.Equal(t, 80.0, cfg.ActionThreshold)
	assert.Equal(t, RegimeModeHardFail, cfg.Regime.Mode)

	// Everything the file does not name keeps its default.
	assert.Equal(t, 0.30, cfg.Weights.MarketConditions)
	assert.Equal(t, 50.0, cfg.Market.MaxSpreadBps)
	assert.True(t, cfg.Market.HardFail)
}

func TestLoadGateConfig_RejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gates.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
regime:
  mode: sometimes
`), 0644))

	_, err := LoadGateConfig(path)
	assert.ErrorContains(t, err, "regime mode")
}

func TestLoadGateConfig_MissingFile(t *testing.T) {
	_, err := LoadGateConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestGateConfig_Validate(t *testing.T) {
	testCases := []struct {
		name     string
		mutate   func(*GateConfig)
		expected string
	}{
		{"missing name", func(c *GateConfig) { c.Name = "" }, "needs a name"},
		{"bad version", func(c *GateConfig) { c.Version = 0 }, "version"},
		{"threshold out of range", func(c *GateConfig) { c.ActionThreshold = 130 }, "action_threshold"},
		{"zero weights", func(c *GateConfig) {
			c.Weights.MarketConditions = 0
			c.Weights.Regime = 0
			c.Weights.Quality = 0
			c.Weights.Risk = 0
		}, "weights"},
		{"unknown tier", func(c *GateConfig) { c.Quality.MinTier = "amazing" }, "min_tier"},
		{"inverted sizing", func(c *GateConfig) { c.Sizing.MaxPositionPct = 0.01 }, "sizing"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultGateConfig()
			tc.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tc.expected)
		})
	}
}

func TestGateConfig_WeightFor(t *testing.T) {
	cfg := DefaultGateConfig()

	assert.Equal(t, 0.30, cfg.WeightFor(GateMarketConditions))
	assert.Equal(t, 0.25, cfg.WeightFor(GateRegime))
	assert.Equal(t, 0.0, cfg.WeightFor("unknown"))
}
