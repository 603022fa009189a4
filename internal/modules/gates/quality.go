package gates

import (
	"fmt"
	"math"

	"github.com/aristath/signald/internal/domain"
)

// QualityGate checks the signal's quality tier floor and AI score floor.
//
// The passing score derives from the AI score alone. The tier is only a
// floor check here: its boost applies to position sizing downstream, and
// folding it into the score would let sizing policy leak into confidence.
type QualityGate struct{}

func (QualityGate) Name() string { return GateQuality }

func (QualityGate) Evaluate(in Inputs, cfg *GateConfig) *GateResult {
	result := &GateResult{Name: GateQuality}
	sig := in.Signal

	minTier, ok := domain.ParseQualityTier(cfg.Quality.MinTier)
	if !ok {
		minTier = domain.QualityLow
	}

	if sig.Quality.Rank() < minTier.Rank() {
		result.FailureReasons = append(result.FailureReasons,
			fmt.Sprintf("quality tier %s below minimum %s", sig.Quality, minTier))
	}
	if sig.AIScore < cfg.Quality.MinAIScore {
		result.FailureReasons = append(result.FailureReasons,
			fmt.Sprintf("ai score %.1f below minimum %.1f", sig.AIScore, cfg.Quality.MinAIScore))
	}

	result.Details = map[string]interface{}{
		"tier":     string(sig.Quality),
		"ai_score": sig.AIScore,
	}

	if len(result.FailureReasons) > 0 {
		result.Passed = false
		result.Score = cfg.FailureScore
		result.HardFail = cfg.Quality.HardFail
		result.Reason = result.FailureReasons[0]
		return result
	}

	result.Passed = true
	result.Score = math.Max(0, math.Min(100, sig.AIScore*10))
	result.Reason = fmt.Sprintf("ai score %.1f", sig.AIScore)
	return result
}
