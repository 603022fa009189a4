package gates

import "math"

// Score aggregates gate results into the confluence score in [0,100].
//
// Pure function of the results and config: gate scores already carry the
// config's failure/neutral defaults, so the aggregate is the weight-
// normalized sum and nothing else. Quality boost never appears here; it
// belongs to sizing.
func Score(results GateResults, cfg *GateConfig) float64 {
	totalWeight := 0.0
	weightedSum := 0.0

	for _, r := range results {
		w := cfg.WeightFor(r.Name)
		if w <= 0 {
			continue
		}
		weightedSum += w * r.Score
		totalWeight += w
	}

	if totalWeight == 0 {
		return 0
	}
	return math.Max(0, math.Min(100, weightedSum/totalWeight))
}
