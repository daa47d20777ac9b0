package engine

import "sort"

// Threshold selection constants.
const (
	fixedThreshold     = 80.0
	thresholdFloor     = 65.0
	thresholdCeiling   = 85.0
	medianPenaltyBelow = 70.0
	medianPenalty      = 10.0

	// topCutoffFraction keeps roughly the top 30% of survivors.
	topCutoffFraction = 0.30
)

// Threshold methods reported for observability.
const (
	ThresholdMethodFixed   = "fixed"
	ThresholdMethodDynamic = "dynamic"
)

// SelectThreshold derives the acceptance score cutoff from the live score
// distribution. With fewer than three scores, or when the dynamic feature is
// disabled, the fixed threshold applies. The dynamic value is the
// top-30%-cutoff score clamped into [65, 85], lowered by a further ten
// points (never below the floor) when the median shows a low-quality news
// day.
func SelectThreshold(scores []float64, dynamicEnabled bool) (float64, string) {
	if !dynamicEnabled || len(scores) < 3 {
		return fixedThreshold, ThresholdMethodFixed
	}

	sorted := make([]float64, len(scores))
	copy(sorted, scores)
	sort.Float64s(sorted)

	// Score at the cutoff between the top 30% and the rest.
	cut := len(sorted) - int(float64(len(sorted))*topCutoffFraction)
	if cut >= len(sorted) {
		cut = len(sorted) - 1
	}
	if cut < 0 {
		cut = 0
	}
	threshold := sorted[cut]

	if threshold < thresholdFloor {
		threshold = thresholdFloor
	}
	if threshold > thresholdCeiling {
		threshold = thresholdCeiling
	}

	median := sorted[len(sorted)/2]
	if len(sorted)%2 == 0 {
		median = (sorted[len(sorted)/2-1] + sorted[len(sorted)/2]) / 2
	}
	if median < medianPenaltyBelow {
		threshold -= medianPenalty
		if threshold < thresholdFloor {
			threshold = thresholdFloor
		}
	}

	return threshold, ThresholdMethodDynamic
}
