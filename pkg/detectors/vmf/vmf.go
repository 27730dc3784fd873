// Package vmf implements outlier detection for directional data with a
// mixture of von Mises-Fisher distributions. Samples are unit-normalized
// before fitting and scoring; a component is a mean direction plus a
// concentration parameter, the spherical analogue of a Gaussian's mean and
// covariance. The anomaly score of a sample is the negative log of the
// weighted mixture density on the unit hypersphere.
//
// Euclidean Gaussian mixtures model angular data poorly because density
// there depends on direction rather than position; this detector exists for
// inputs where only the direction of a vector is meaningful.
package vmf

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"

	"github.com/hmori/odkit/pkg/detectors"
)

// Concentration bounds. The lower bound keeps log(kappa) finite for nearly
// uniform components; a resultant length at the upper end means every
// responsibility-weighted sample points the same way, i.e. collapse.
const (
	minKappa      = 1e-8
	maxKappa      = 1e12
	collapseRatio = 1 - 1e-12
	zeroNormTol   = 1e-12
)

// Detector fits a K-component von Mises-Fisher mixture to unit-normalized
// training data.
type Detector struct {
	detectors.FittedState

	// Configuration
	nComponents int
	maxIter     int
	tol         float64
	fpr         float64
	rng         *rand.Rand

	// Fitted model
	weights        []float64
	meanDirections [][]float64
	concentrations []float64
	threshold      float64
	converged      bool
	iterations     int
}

// Option configures a Detector.
type Option func(*Detector)

// WithComponents sets the number of mixture components.
func WithComponents(k int) Option {
	return func(d *Detector) {
		d.nComponents = k
	}
}

// WithMaxIter caps the number of EM iterations. Reaching the cap is not an
// error; the best parameters found so far are kept.
func WithMaxIter(n int) Option {
	return func(d *Detector) {
		d.maxIter = n
	}
}

// WithTol sets the convergence tolerance on the mean log-likelihood
// improvement between EM iterations.
func WithTol(tol float64) Option {
	return func(d *Detector) {
		d.tol = tol
	}
}

// WithFPR sets the target false-positive rate used to calibrate the
// threshold on the training scores.
func WithFPR(fpr float64) Option {
	return func(d *Detector) {
		d.fpr = fpr
	}
}

// WithSeed seeds the random source used for initialization, making fits
// reproducible.
func WithSeed(seed int64) Option {
	return func(d *Detector) {
		d.rng = rand.New(rand.NewSource(seed))
	}
}

// New creates a directional-mixture outlier detector. Hyperparameters are
// validated eagerly.
func New(opts ...Option) (*Detector, error) {
	d := &Detector{
		nComponents: 1,
		maxIter:     100,
		tol:         1e-3,
		fpr:         0.01,
		rng:         rand.New(rand.NewSource(42)),
	}

	for _, opt := range opts {
		opt(d)
	}

	switch {
	case d.nComponents < 1:
		return nil, fmt.Errorf("%w: components must be >= 1, got %d",
			detectors.ErrInvalidParameter, d.nComponents)
	case d.maxIter < 1:
		return nil, fmt.Errorf("%w: max iterations must be >= 1, got %d",
			detectors.ErrInvalidParameter, d.maxIter)
	case d.tol <= 0:
		return nil, fmt.Errorf("%w: tolerance must be > 0, got %g",
			detectors.ErrInvalidParameter, d.tol)
	case d.fpr < 0 || d.fpr > 1:
		return nil, fmt.Errorf("%w: fpr must be in [0, 1], got %g",
			detectors.ErrInvalidParameter, d.fpr)
	}
	return d, nil
}

// Fit unit-normalizes the training rows, runs EM to convergence, and
// calibrates the threshold on the training scores. Rows with (near-)zero
// norm fail with ErrInvalidInput since they have no direction.
func (d *Detector) Fit(data [][]float64) error {
	d.Reset()
	d.converged = false
	d.iterations = 0

	nSamples, nFeatures, err := detectors.CheckMatrix(data)
	if err != nil {
		return err
	}
	if nSamples < d.nComponents {
		return fmt.Errorf("%w: %d samples for %d components",
			detectors.ErrInvalidInput, nSamples, d.nComponents)
	}

	unit, err := normalizeRows(data)
	if err != nil {
		return err
	}

	weights := make([]float64, d.nComponents)
	concentrations := make([]float64, d.nComponents)
	meanDirections := make([][]float64, d.nComponents)
	for k, idx := range d.rng.Perm(nSamples)[:d.nComponents] {
		weights[k] = 1 / float64(d.nComponents)
		concentrations[k] = 1
		meanDirections[k] = append([]float64(nil), unit[idx]...)
	}

	resp := make([][]float64, nSamples)
	for i := range resp {
		resp[i] = make([]float64, d.nComponents)
	}

	prevLL := math.Inf(-1)
	for iter := 0; iter < d.maxIter; iter++ {
		d.iterations = iter + 1

		ll := eStep(unit, weights, meanDirections, concentrations, resp)
		if err := mStep(unit, resp, weights, meanDirections, concentrations); err != nil {
			return err
		}

		if math.Abs(ll-prevLL) < d.tol {
			d.converged = true
			break
		}
		prevLL = ll
	}

	scores := make([]float64, nSamples)
	logs := make([]float64, d.nComponents)
	for i, row := range unit {
		scores[i] = mixtureScore(row, weights, meanDirections, concentrations, logs)
	}
	threshold, err := detectors.Calibrate(scores, d.fpr)
	if err != nil {
		return err
	}

	d.weights = weights
	d.meanDirections = meanDirections
	d.concentrations = concentrations
	d.threshold = threshold
	d.MarkFitted(nFeatures)
	return nil
}

// AnomalyScore unit-normalizes the samples and returns the negative log
// mixture density of each on the hypersphere.
func (d *Detector) AnomalyScore(data [][]float64) ([]float64, error) {
	if err := d.check(data); err != nil {
		return nil, err
	}

	unit, err := normalizeRows(data)
	if err != nil {
		return nil, err
	}

	scores := make([]float64, len(unit))
	logs := make([]float64, d.nComponents)
	for i, row := range unit {
		scores[i] = mixtureScore(row, d.weights, d.meanDirections, d.concentrations, logs)
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

// Threshold returns the calibrated score threshold.
func (d *Detector) Threshold() float64 { return d.threshold }

// Converged reports whether the last fit stopped on the log-likelihood
// tolerance rather than on the iteration cap.
func (d *Detector) Converged() bool { return d.converged }

// Iterations returns the number of EM iterations the last fit ran.
func (d *Detector) Iterations() int { return d.iterations }

// Weights returns the fitted mixture weights, or nil if unfitted.
func (d *Detector) Weights() []float64 {
	if !d.IsFitted() {
		return nil
	}
	return d.weights
}

// MeanDirections returns the fitted component mean directions, or nil if
// unfitted.
func (d *Detector) MeanDirections() [][]float64 {
	if !d.IsFitted() {
		return nil
	}
	return d.meanDirections
}

// Concentrations returns the fitted component concentrations, or nil if
// unfitted.
func (d *Detector) Concentrations() []float64 {
	if !d.IsFitted() {
		return nil
	}
	return d.concentrations
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

// normalizeRows projects each row onto the unit hypersphere.
func normalizeRows(data [][]float64) ([][]float64, error) {
	unit := make([][]float64, len(data))
	for i, row := range data {
		norm := floats.Norm(row, 2)
		if norm < zeroNormTol {
			return nil, fmt.Errorf("%w: row %d has zero norm and no direction",
				detectors.ErrInvalidInput, i)
		}
		u := make([]float64, len(row))
		for j, v := range row {
			u[j] = v / norm
		}
		unit[i] = u
	}
	return unit, nil
}

// logNormalizer returns log C_d(kappa), the log normalizing constant of a
// d-dimensional von Mises-Fisher density.
func logNormalizer(dim int, kappa float64) float64 {
	v := float64(dim)/2 - 1
	return v*math.Log(kappa) - float64(dim)/2*math.Log(2*math.Pi) - logBesselI(v, kappa)
}

// logDensity returns the log vMF density of unit vector x under one
// component.
func logDensity(x, mu []float64, kappa float64) float64 {
	return logNormalizer(len(x), kappa) + kappa*floats.Dot(mu, x)
}

// eStep fills resp with component responsibilities and returns the mean
// log-likelihood under the current parameters.
func eStep(unit [][]float64, weights []float64, mus [][]float64, kappas []float64, resp [][]float64) float64 {
	k := len(weights)
	var total float64
	logs := make([]float64, k)
	for i, row := range unit {
		for c := 0; c < k; c++ {
			logs[c] = math.Log(weights[c]) + logDensity(row, mus[c], kappas[c])
		}
		norm := floats.LogSumExp(logs)
		total += norm
		for c := 0; c < k; c++ {
			resp[i][c] = math.Exp(logs[c] - norm)
		}
	}
	return total / float64(len(unit))
}

// mStep re-estimates weights, mean directions and concentrations. The
// concentration update uses the Banerjee et al. approximation
// kappa = rbar(d - rbar^2) / (1 - rbar^2) from the mean resultant length.
func mStep(unit [][]float64, resp [][]float64, weights []float64, mus [][]float64, kappas []float64) error {
	n := len(unit)
	dim := len(unit[0])

	for c := range weights {
		var nk float64
		resultant := make([]float64, dim)
		for i, row := range unit {
			r := resp[i][c]
			nk += r
			for j, v := range row {
				resultant[j] += r * v
			}
		}
		if nk < 1e-10 {
			return fmt.Errorf("%w: component %d collapsed (no responsibility mass)",
				detectors.ErrDegenerateModel, c)
		}
		weights[c] = nk / float64(n)

		rNorm := floats.Norm(resultant, 2)
		if rNorm < zeroNormTol {
			// Perfectly dispersed responsibilities leave the direction
			// undefined; keep the previous one and treat as uniform.
			kappas[c] = minKappa
			continue
		}
		for j := range resultant {
			mus[c][j] = resultant[j] / rNorm
		}

		rbar := rNorm / nk
		if rbar >= collapseRatio {
			return fmt.Errorf("%w: component %d collapsed onto a single direction",
				detectors.ErrDegenerateModel, c)
		}
		kappa := rbar * (float64(dim) - rbar*rbar) / (1 - rbar*rbar)
		kappas[c] = math.Min(math.Max(kappa, minKappa), maxKappa)
	}
	return nil
}

// mixtureScore computes -log sum_k w_k f_k(x) with log-sum-exp.
func mixtureScore(x []float64, weights []float64, mus [][]float64, kappas []float64, logs []float64) float64 {
	for c := range weights {
		logs[c] = math.Log(weights[c]) + logDensity(x, mus[c], kappas[c])
	}
	return -floats.LogSumExp(logs)
}
