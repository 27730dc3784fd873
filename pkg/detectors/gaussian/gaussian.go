// Package gaussian implements outlier detection with a single multivariate
// normal distribution fitted by maximum likelihood. The anomaly score of a
// sample is the negative log-density of the fitted distribution, i.e. half
// the squared Mahalanobis distance plus a constant depending on the
// covariance determinant and the dimensionality.
package gaussian

import (
	"fmt"

	"github.com/hmori/odkit/pkg/detectors"
	"github.com/hmori/odkit/pkg/detectors/mvn"
)

// Detector fits a single multivariate normal to the training data.
type Detector struct {
	detectors.FittedState

	// Configuration
	fpr float64

	// Fitted model
	dist      *mvn.Normal
	threshold float64
}

// Option configures a Detector.
type Option func(*Detector)

// WithFPR sets the target false-positive rate used to calibrate the
// threshold on the training scores.
func WithFPR(fpr float64) Option {
	return func(d *Detector) {
		d.fpr = fpr
	}
}

// New creates a Gaussian outlier detector. Hyperparameters are validated
// eagerly; an out-of-range false-positive rate fails here, not at fit time.
func New(opts ...Option) (*Detector, error) {
	d := &Detector{fpr: 0.01}

	for _, opt := range opts {
		opt(d)
	}

	if d.fpr < 0 || d.fpr > 1 {
		return nil, fmt.Errorf("%w: fpr must be in [0, 1], got %g",
			detectors.ErrInvalidParameter, d.fpr)
	}
	return d, nil
}

// Fit estimates the mean and covariance from data and calibrates the
// threshold. A singular sample covariance fails with ErrDegenerateModel and
// leaves the detector unfitted.
func (d *Detector) Fit(data [][]float64) error {
	d.Reset()

	_, nFeatures, err := detectors.CheckMatrix(data)
	if err != nil {
		return err
	}

	mean, cov := mvn.MLECovariance(data)
	dist, err := mvn.New(mean, cov)
	if err != nil {
		return err
	}

	scores := make([]float64, len(data))
	for i, row := range data {
		scores[i] = dist.NegLogProb(row)
	}
	threshold, err := detectors.Calibrate(scores, d.fpr)
	if err != nil {
		return err
	}

	d.dist = dist
	d.threshold = threshold
	d.MarkFitted(nFeatures)
	return nil
}

// AnomalyScore returns the negative log-density of each sample under the
// fitted distribution.
func (d *Detector) AnomalyScore(data [][]float64) ([]float64, error) {
	if err := d.check(data); err != nil {
		return nil, err
	}

	scores := make([]float64, len(data))
	for i, row := range data {
		scores[i] = d.dist.NegLogProb(row)
	}
	return scores, nil
}

// Classify labels each sample Inlier or Outlier against the calibrated
// threshold.
func (d *Detector) Classify(data [][]float64) ([]int, error) {
	scores, err := d.AnomalyScore(data)
	if err != nil {
		return nil, err
	}
	return detectors.ClassifyScores(scores, d.threshold), nil
}

// Analyze returns a per-feature breakdown of each sample's anomaly score:
// half the squared centered feature value scaled by the precision-matrix
// diagonal, with the normalizing constant spread evenly across features.
// Row sums reproduce the aggregate score exactly only when the covariance is
// diagonal; for correlated features the cross terms are ignored, so treat
// the breakdown as a diagnostic approximation.
func (d *Detector) Analyze(data [][]float64) ([][]float64, error) {
	if err := d.check(data); err != nil {
		return nil, err
	}

	precDiag := d.dist.PrecisionDiag()
	mean := d.dist.Mean()
	nFeatures := d.NumFeatures()
	constShare := (0.5*d.dist.LogDet() + 0.5*float64(nFeatures)*mvn.Log2Pi) / float64(nFeatures)

	contrib := make([][]float64, len(data))
	for i, row := range data {
		contrib[i] = make([]float64, nFeatures)
		for j := range row {
			dx := row[j] - mean[j]
			contrib[i][j] = 0.5*precDiag[j]*dx*dx + constShare
		}
	}
	return contrib, nil
}

// Threshold returns the calibrated score threshold.
func (d *Detector) Threshold() float64 { return d.threshold }

// Mean returns the fitted mean vector, or nil if unfitted.
func (d *Detector) Mean() []float64 {
	if !d.IsFitted() {
		return nil
	}
	return d.dist.Mean()
}

func (d *Detector) check(data [][]float64) error {
	if err := d.RequireFitted(); err != nil {
		return err
	}
	if data == nil {
		return fmt.Errorf("%w: data is required, the detector does not retain its training matrix",
			detectors.ErrInvalidInput)
	}
	_, nFeatures, err := detectors.CheckMatrix(data)
	if err != nil {
		return err
	}
	return d.CheckWidth(nFeatures)
}
