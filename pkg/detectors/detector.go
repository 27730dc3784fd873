// Package detectors provides unsupervised outlier detection algorithms.
//
// Every algorithm implements the Detector interface: Fit estimates model
// parameters from a training matrix and calibrates a score threshold from the
// training scores, AnomalyScore computes one real-valued score per sample
// (higher means more anomalous), and Classify compares scores against the
// calibrated threshold.
package detectors

import "fmt"

// Classification labels. Outliers are labeled -1 by convention.
const (
	Inlier  = 1
	Outlier = -1
)

// Detector is the common interface for all outlier detection algorithms.
type Detector interface {
	// Fit estimates model parameters from training data and calibrates the
	// threshold on the training scores. data is a 2D slice where each row
	// is a sample and each column is a feature.
	Fit(data [][]float64) error

	// AnomalyScore returns anomaly scores for the given samples. Higher
	// values indicate more anomalous samples. Detectors that retain their
	// training matrix accept nil and score the training data.
	AnomalyScore(data [][]float64) ([]float64, error)

	// Classify returns Inlier or Outlier for each sample by comparing its
	// anomaly score against the calibrated threshold.
	Classify(data [][]float64) ([]int, error)

	// Threshold returns the calibrated score threshold.
	Threshold() float64
}

// FeatureAnalyzer is an optional capability for detectors whose anomaly
// score decomposes (approximately) additively over features. Callers assert
// for it at the call site; detectors without it simply do not implement it.
type FeatureAnalyzer interface {
	// Analyze returns a per-(sample, feature) contribution matrix whose row
	// sums approximately reproduce the aggregate anomaly scores.
	Analyze(data [][]float64) ([][]float64, error)
}

// LikelihoodScorer is an optional capability for detectors that expose a
// mean log-likelihood diagnostic distinct from the anomaly score.
type LikelihoodScorer interface {
	Score(data [][]float64) (float64, error)
}

// Reconstructor is an optional capability for detectors that project
// samples onto a learned subspace and back.
type Reconstructor interface {
	Reconstruct(data [][]float64) ([][]float64, error)
}

// Analyze dispatches to the detector's FeatureAnalyzer capability. It
// returns ErrUnsupportedOperation for detectors whose score does not
// decompose over features, such as the mixture and reconstruction models.
func Analyze(d Detector, data [][]float64) ([][]float64, error) {
	analyzer, ok := d.(FeatureAnalyzer)
	if !ok {
		return nil, fmt.Errorf("%w: %T does not support feature-wise analysis",
			ErrUnsupportedOperation, d)
	}
	return analyzer.Analyze(data)
}

// Score dispatches to the detector's LikelihoodScorer capability. It
// returns ErrUnsupportedOperation for detectors without a log-likelihood
// diagnostic.
func Score(d Detector, data [][]float64) (float64, error) {
	scorer, ok := d.(LikelihoodScorer)
	if !ok {
		return 0, fmt.Errorf("%w: %T does not expose a likelihood diagnostic",
			ErrUnsupportedOperation, d)
	}
	return scorer.Score(data)
}

// ClassifyScores converts anomaly scores to labels using the given
// threshold: score > threshold means Outlier.
func ClassifyScores(scores []float64, threshold float64) []int {
	labels := make([]int, len(scores))
	for i, s := range scores {
		if s > threshold {
			labels[i] = Outlier
		} else {
			labels[i] = Inlier
		}
	}
	return labels
}
