package detectors

import (
	"fmt"
	"sort"
)

// Calibrate computes the score threshold for a target false-positive rate:
// the (1-fpr)*100 percentile of the training scores, with linear
// interpolation between the two nearest order statistics. Every detector
// calls this once at the end of Fit, so the threshold is always derived from
// the scores the fitted parameters produce on the training data.
func Calibrate(scores []float64, fpr float64) (float64, error) {
	if fpr < 0 || fpr > 1 {
		return 0, fmt.Errorf("%w: fpr must be in [0, 1], got %g", ErrInvalidParameter, fpr)
	}
	if len(scores) == 0 {
		return 0, fmt.Errorf("%w: no scores to calibrate on", ErrInvalidInput)
	}
	return percentile(scores, 100*(1-fpr)), nil
}

// percentile returns the p-th percentile (p in [0, 100]) of data, linearly
// interpolated between order statistics.
func percentile(data []float64, p float64) float64 {
	sorted := make([]float64, len(data))
	copy(sorted, data)
	sort.Float64s(sorted)

	if len(sorted) == 1 {
		return sorted[0]
	}

	h := p / 100 * float64(len(sorted)-1)
	lo := int(h)
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := h - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}
