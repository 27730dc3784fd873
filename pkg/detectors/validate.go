package detectors

import (
	"fmt"
	"math"
)

// CheckMatrix validates a sample matrix: non-empty, rectangular, and free of
// NaN or infinite values. It returns the number of samples and features.
func CheckMatrix(data [][]float64) (nSamples, nFeatures int, err error) {
	if len(data) == 0 {
		return 0, 0, fmt.Errorf("%w: empty data", ErrInvalidInput)
	}
	nFeatures = len(data[0])
	if nFeatures == 0 {
		return 0, 0, fmt.Errorf("%w: zero features", ErrInvalidInput)
	}
	for i, row := range data {
		if len(row) != nFeatures {
			return 0, 0, fmt.Errorf("%w: row %d has %d features, expected %d",
				ErrInvalidInput, i, len(row), nFeatures)
		}
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return 0, 0, fmt.Errorf("%w: non-finite value at (%d, %d)",
					ErrInvalidInput, i, j)
			}
		}
	}
	return len(data), nFeatures, nil
}
