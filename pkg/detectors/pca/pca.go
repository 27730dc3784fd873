// Package pca implements reconstruction-based outlier detection. Fit learns
// the orthogonal directions of maximal variance of the training data via a
// singular value decomposition of the centered matrix; the anomaly score of
// a sample is the Euclidean norm of its reconstruction residual after
// projecting onto the retained directions and back. Points poorly explained
// by the dominant variance structure score high, which catches linear
// structure that pure density models miss in high dimensions.
package pca

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/hmori/odkit/pkg/detectors"
	"github.com/hmori/odkit/pkg/detectors/mvn"
)

// Detector fits a principal-direction subspace to the training data. The
// training matrix is retained so that AnomalyScore(nil) and Classify(nil)
// score the training set, matching the calibration data.
type Detector struct {
	detectors.FittedState

	// Configuration
	nComponents int // 0 means keep all
	fpr         float64

	// Fitted model
	mean              []float64
	components        *mat.Dense // d x k, orthonormal columns
	explainedVariance []float64
	singularValues    []float64
	noiseVariance     float64
	training          [][]float64
	threshold         float64
}

// Option configures a Detector.
type Option func(*Detector)

// WithComponents sets the number of leading principal directions to retain.
// The default retains all of them, which makes the reconstruction exact.
func WithComponents(k int) Option {
	return func(d *Detector) {
		d.nComponents = k
	}
}

// WithFPR sets the target false-positive rate used to calibrate the
// threshold on the training scores.
func WithFPR(fpr float64) Option {
	return func(d *Detector) {
		d.fpr = fpr
	}
}

// New creates a reconstruction-based outlier detector. Hyperparameters are
// validated eagerly.
func New(opts ...Option) (*Detector, error) {
	d := &Detector{fpr: 0.01}

	for _, opt := range opts {
		opt(d)
	}

	if d.nComponents < 0 {
		return nil, fmt.Errorf("%w: components must be >= 1 (or unset to keep all), got %d",
			detectors.ErrInvalidParameter, d.nComponents)
	}
	if d.fpr < 0 || d.fpr > 1 {
		return nil, fmt.Errorf("%w: fpr must be in [0, 1], got %g",
			detectors.ErrInvalidParameter, d.fpr)
	}
	return d, nil
}

// Fit decomposes the centered training matrix and calibrates the threshold
// on the training reconstruction errors.
func (d *Detector) Fit(data [][]float64) error {
	d.Reset()

	nSamples, nFeatures, err := detectors.CheckMatrix(data)
	if err != nil {
		return err
	}
	if nSamples < 2 {
		return fmt.Errorf("%w: at least 2 samples are required, got %d",
			detectors.ErrInvalidInput, nSamples)
	}

	maxRank := nSamples
	if nFeatures < maxRank {
		maxRank = nFeatures
	}
	k := d.nComponents
	if k == 0 {
		k = maxRank
	}
	if k > maxRank {
		return fmt.Errorf("%w: %d components exceed max rank %d for %dx%d data",
			detectors.ErrInvalidParameter, k, maxRank, nSamples, nFeatures)
	}

	// Own a copy of the training data for default scoring.
	training := make([][]float64, nSamples)
	for i, row := range data {
		training[i] = append([]float64(nil), row...)
	}

	mean := make([]float64, nFeatures)
	for _, row := range training {
		for j, v := range row {
			mean[j] += v
		}
	}
	for j := range mean {
		mean[j] /= float64(nSamples)
	}

	centered := mat.NewDense(nSamples, nFeatures, nil)
	for i, row := range training {
		for j, v := range row {
			centered.Set(i, j, v-mean[j])
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(centered, mat.SVDThin); !ok {
		return fmt.Errorf("%w: SVD of the centered training matrix failed",
			detectors.ErrDegenerateModel)
	}

	var v mat.Dense
	svd.VTo(&v)
	singular := svd.Values(nil)

	components := mat.NewDense(nFeatures, k, nil)
	explained := make([]float64, k)
	for c := 0; c < k; c++ {
		for j := 0; j < nFeatures; j++ {
			components.Set(j, c, v.At(j, c))
		}
		explained[c] = singular[c] * singular[c] / float64(nSamples-1)
	}

	// Average variance of the discarded directions, the noise term of the
	// probabilistic PCA model (Tipping & Bishop).
	noise := 0.0
	if k < maxRank {
		for c := k; c < maxRank; c++ {
			noise += singular[c] * singular[c] / float64(nSamples-1)
		}
		noise /= float64(maxRank - k)
	}

	d.mean = mean
	d.components = components
	d.explainedVariance = explained
	d.singularValues = singular[:k]
	d.noiseVariance = noise
	d.training = training

	scores, err := d.residuals(training)
	if err != nil {
		return err
	}
	threshold, err := detectors.Calibrate(scores, d.fpr)
	if err != nil {
		return err
	}
	d.threshold = threshold
	d.MarkFitted(nFeatures)
	return nil
}

// Reconstruct projects samples onto the retained principal directions and
// back to the original space.
func (d *Detector) Reconstruct(data [][]float64) ([][]float64, error) {
	if err := d.RequireFitted(); err != nil {
		return nil, err
	}
	if data == nil {
		data = d.training
	}
	if _, nFeatures, err := detectors.CheckMatrix(data); err != nil {
		return nil, err
	} else if err := d.CheckWidth(nFeatures); err != nil {
		return nil, err
	}
	return d.reconstruct(data), nil
}

// AnomalyScore returns the reconstruction residual norm of each sample. A
// nil input scores the stored training matrix.
func (d *Detector) AnomalyScore(data [][]float64) ([]float64, error) {
	if err := d.RequireFitted(); err != nil {
		return nil, err
	}
	if data == nil {
		data = d.training
	}
	if _, nFeatures, err := detectors.CheckMatrix(data); err != nil {
		return nil, err
	} else if err := d.CheckWidth(nFeatures); err != nil {
		return nil, err
	}
	return d.residuals(data)
}

// Classify labels each sample Inlier or Outlier against the calibrated
// threshold. A nil input classifies the stored training matrix.
func (d *Detector) Classify(data [][]float64) ([]int, error) {
	scores, err := d.AnomalyScore(data)
	if err != nil {
		return nil, err
	}
	return detectors.ClassifyScores(scores, d.threshold), nil
}

// Score returns the mean log-likelihood of the samples under the implied
// probabilistic-PCA model. It is a secondary diagnostic and plays no part in
// classification.
func (d *Detector) Score(data [][]float64) (float64, error) {
	if err := d.RequireFitted(); err != nil {
		return 0, err
	}
	if data == nil {
		data = d.training
	}
	if _, nFeatures, err := detectors.CheckMatrix(data); err != nil {
		return 0, err
	} else if err := d.CheckWidth(nFeatures); err != nil {
		return 0, err
	}

	dim := len(d.mean)
	k := len(d.explainedVariance)

	logDet := 0.0
	for _, ev := range d.explainedVariance {
		if ev <= 0 {
			return 0, fmt.Errorf("%w: zero explained variance, likelihood is undefined",
				detectors.ErrDegenerateModel)
		}
		logDet += math.Log(ev)
	}
	if k < dim {
		if d.noiseVariance <= 0 {
			return 0, fmt.Errorf("%w: zero noise variance, likelihood is undefined",
				detectors.ErrDegenerateModel)
		}
		logDet += float64(dim-k) * math.Log(d.noiseVariance)
	}

	var total float64
	centered := make([]float64, dim)
	for _, row := range data {
		var centeredSq float64
		for j, v := range row {
			centered[j] = v - d.mean[j]
			centeredSq += centered[j] * centered[j]
		}

		var mahaSq, projSq float64
		for c := 0; c < k; c++ {
			var z float64
			for j := 0; j < dim; j++ {
				z += d.components.At(j, c) * centered[j]
			}
			projSq += z * z
			mahaSq += z * z / d.explainedVariance[c]
		}
		if k < dim {
			mahaSq += (centeredSq - projSq) / d.noiseVariance
		}
		total += -0.5 * (mahaSq + logDet + float64(dim)*mvn.Log2Pi)
	}
	return total / float64(len(data)), nil
}

// Threshold returns the calibrated score threshold.
func (d *Detector) Threshold() float64 { return d.threshold }

// Mean returns the per-feature training mean, or nil if unfitted.
func (d *Detector) Mean() []float64 {
	if !d.IsFitted() {
		return nil
	}
	return d.mean
}

// ExplainedVariance returns the variance captured by each retained
// direction, or nil if unfitted.
func (d *Detector) ExplainedVariance() []float64 {
	if !d.IsFitted() {
		return nil
	}
	return d.explainedVariance
}

// SingularValues returns the singular values of the retained directions, or
// nil if unfitted.
func (d *Detector) SingularValues() []float64 {
	if !d.IsFitted() {
		return nil
	}
	return d.singularValues
}

// NoiseVariance returns the probabilistic-PCA noise term: the average
// variance of the discarded directions, zero when all are retained.
func (d *Detector) NoiseVariance() float64 { return d.noiseVariance }

// NumComponents returns the number of retained directions, or 0 if unfitted.
func (d *Detector) NumComponents() int { return len(d.explainedVariance) }

func (d *Detector) reconstruct(data [][]float64) [][]float64 {
	dim := len(d.mean)
	k := len(d.explainedVariance)

	recon := make([][]float64, len(data))
	centered := make([]float64, dim)
	proj := make([]float64, k)
	for i, row := range data {
		for j, v := range row {
			centered[j] = v - d.mean[j]
		}
		for c := 0; c < k; c++ {
			var z float64
			for j := 0; j < dim; j++ {
				z += d.components.At(j, c) * centered[j]
			}
			proj[c] = z
		}
		out := make([]float64, dim)
		for j := 0; j < dim; j++ {
			var r float64
			for c := 0; c < k; c++ {
				r += d.components.At(j, c) * proj[c]
			}
			out[j] = r + d.mean[j]
		}
		recon[i] = out
	}
	return recon
}

func (d *Detector) residuals(data [][]float64) ([]float64, error) {
	recon := d.reconstruct(data)
	scores := make([]float64, len(data))
	for i, row := range data {
		var sum float64
		for j, v := range row {
			diff := v - recon[i][j]
			sum += diff * diff
		}
		scores[i] = math.Sqrt(sum)
	}
	return scores, nil
}
