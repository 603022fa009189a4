package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseDirection(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected Direction
		ok       bool
	}{
		{name: "canonical long", raw: "long", expected: DirectionLong, ok: true},
		{name: "uppercase long", raw: "LONG", expected: DirectionLong, ok: true},
		{name: "buy alias", raw: "buy", expected: DirectionLong, ok: true},
		{name: "bullish alias", raw: "Bullish", expected: DirectionLong, ok: true},
		{name: "canonical short", raw: "short", expected: DirectionShort, ok: true},
		{name: "sell alias", raw: "SELL", expected: DirectionShort, ok: true},
		{name: "padded input", raw: "  short  ", expected: DirectionShort, ok: true},
		{name: "unknown", raw: "sideways", ok: false},
		{name: "empty", raw: "", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir, ok := ParseDirection(tt.raw)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.expected, dir)
			}
		})
	}
}

func TestParseQualityTier(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected QualityTier
		ok       bool
	}{
		{name: "high", raw: "high", expected: QualityHigh, ok: true},
		{name: "uppercase high", raw: "HIGH", expected: QualityHigh, ok: true},
		{name: "numeric high", raw: "3", expected: QualityHigh, ok: true},
		{name: "medium", raw: "medium", expected: QualityMedium, ok: true},
		{name: "med abbreviation", raw: "med", expected: QualityMedium, ok: true},
		{name: "low", raw: "low", expected: QualityLow, ok: true},
		{name: "unknown", raw: "premium", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tier, ok := ParseQualityTier(tt.raw)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.expected, tier)
			}
		})
	}
}

func TestQualityTier_Rank(t *testing.T) {
	assert.Equal(t, 1, QualityLow.Rank())
	assert.Equal(t, 2, QualityMedium.Rank())
	assert.Equal(t, 3, QualityHigh.Rank())
	assert.Equal(t, 0, QualityTier("BOGUS").Rank())

	// Ordering is what the quality gate relies on
	assert.Greater(t, QualityHigh.Rank(), QualityMedium.Rank())
	assert.Greater(t, QualityMedium.Rank(), QualityLow.Rank())
}

func TestDecisionKind(t *testing.T) {
	assert.True(t, DecisionActLong.Actionable())
	assert.True(t, DecisionActShort.Actionable())
	assert.False(t, DecisionWait.Actionable())
	assert.False(t, DecisionSkip.Actionable())

	assert.True(t, DecisionActLong.Valid())
	assert.True(t, DecisionSkip.Valid())
	assert.False(t, DecisionKind("MAYBE").Valid())
}

func TestParseTimeframe(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected Timeframe
		ok       bool
	}{
		{name: "bare minutes", raw: "15", expected: Timeframe15, ok: true},
		{name: "minute suffix", raw: "15m", expected: Timeframe15, ok: true},
		{name: "min suffix", raw: "15min", expected: Timeframe15, ok: true},
		{name: "hour alias", raw: "1h", expected: Timeframe60, ok: true},
		{name: "four hour", raw: "4H", expected: Timeframe240, ok: true},
		{name: "daily word", raw: "daily", expected: TimeframeDay, ok: true},
		{name: "daily letter", raw: "D", expected: TimeframeDay, ok: true},
		{name: "one minute", raw: "1", expected: Timeframe1, ok: true},
		{name: "unsupported", raw: "2m", ok: false},
		{name: "empty", raw: "", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tf, ok := ParseTimeframe(tt.raw)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.expected, tf)
			}
		})
	}
}

func TestTimeframe_Label(t *testing.T) {
	assert.Equal(t, "15m", Timeframe15.Label())
	assert.Equal(t, "1h", Timeframe60.Label())
	assert.Equal(t, "daily", TimeframeDay.Label())
	// Unknown values pass through so logs stay readable
	assert.Equal(t, "7", Timeframe("7").Label())
}

func TestSessionAt(t *testing.T) {
	// All instants below are expressed in UTC and land on a Tuesday
	// (2024-03-12). EDT applies, so ET = UTC-4.
	tests := []struct {
		name     string
		instant  time.Time
		expected MarketSession
	}{
		{
			name:     "pre-market open",
			instant:  time.Date(2024, 3, 12, 8, 0, 0, 0, time.UTC), // 04:00 ET
			expected: SessionPreMarket,
		},
		{
			name:     "regular open",
			instant:  time.Date(2024, 3, 12, 13, 30, 0, 0, time.UTC), // 09:30 ET
			expected: SessionRegular,
		},
		{
			name:     "mid session",
			instant:  time.Date(2024, 3, 12, 17, 0, 0, 0, time.UTC), // 13:00 ET
			expected: SessionRegular,
		},
		{
			name:     "after hours",
			instant:  time.Date(2024, 3, 12, 20, 30, 0, 0, time.UTC), // 16:30 ET
			expected: SessionAfterHours,
		},
		{
			name:     "overnight",
			instant:  time.Date(2024, 3, 12, 6, 0, 0, 0, time.UTC), // 02:00 ET
			expected: SessionClosed,
		},
		{
			name:     "saturday",
			instant:  time.Date(2024, 3, 16, 15, 0, 0, 0, time.UTC),
			expected: SessionClosed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SessionAt(tt.instant))
		})
	}
}

func TestSessionAt_Deterministic(t *testing.T) {
	// Same instant in different zones must bucket identically
	instant := time.Date(2024, 3, 12, 17, 0, 0, 0, time.UTC)
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Skip("tz database unavailable")
	}
	assert.Equal(t, SessionAt(instant), SessionAt(instant.In(tokyo)))
}
