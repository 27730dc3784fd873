// Package gmm implements outlier detection with a mixture of multivariate
// normal distributions fitted by expectation-maximization. The anomaly score
// of a sample is the negative log of the weighted mixture density, which
// aggregates multiple local density modes and therefore handles inlier data
// with more than one cluster.
package gmm

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/hmori/odkit/pkg/detectors"
	"github.com/hmori/odkit/pkg/detectors/mvn"
)

// regCovar is added to covariance diagonals during the M-step to keep the
// factorization stable when a component concentrates on few samples.
const regCovar = 1e-6

// Detector fits a K-component Gaussian mixture to the training data.
type Detector struct {
	detectors.FittedState

	// Configuration
	nComponents int
	maxIter     int
	tol         float64
	fpr         float64
	rng         *rand.Rand

	weightsInit    []float64
	meansInit      [][]float64
	precisionsInit [][][]float64

	// Fitted model
	weights    []float64
	components []*mvn.Normal
	threshold  float64
	converged  bool
	iterations int
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

// WithWeightsInit provides initial mixture weights instead of uniform ones.
func WithWeightsInit(weights []float64) Option {
	return func(d *Detector) {
		d.weightsInit = weights
	}
}

// WithMeansInit provides initial component means instead of randomly chosen
// training rows.
func WithMeansInit(means [][]float64) Option {
	return func(d *Detector) {
		d.meansInit = means
	}
}

// WithPrecisionsInit provides initial component precision (inverse
// covariance) matrices instead of the pooled sample covariance.
func WithPrecisionsInit(precisions [][][]float64) Option {
	return func(d *Detector) {
		d.precisionsInit = precisions
	}
}

// New creates a Gaussian-mixture outlier detector. Hyperparameters are
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
	if d.weightsInit != nil && len(d.weightsInit) != d.nComponents {
		return nil, fmt.Errorf("%w: weights init has %d entries, expected %d",
			detectors.ErrInvalidParameter, len(d.weightsInit), d.nComponents)
	}
	if d.meansInit != nil && len(d.meansInit) != d.nComponents {
		return nil, fmt.Errorf("%w: means init has %d entries, expected %d",
			detectors.ErrInvalidParameter, len(d.meansInit), d.nComponents)
	}
	if d.precisionsInit != nil && len(d.precisionsInit) != d.nComponents {
		return nil, fmt.Errorf("%w: precisions init has %d entries, expected %d",
			detectors.ErrInvalidParameter, len(d.precisionsInit), d.nComponents)
	}
	return d, nil
}

// Fit runs expectation-maximization to convergence and calibrates the
// threshold on the training scores. Hitting the iteration cap is treated as
// early stopping, not an error; Converged reports which way the loop ended.
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

	weights, means, covs, err := d.initialize(data, nSamples, nFeatures)
	if err != nil {
		return err
	}

	resp := make([][]float64, nSamples)
	for i := range resp {
		resp[i] = make([]float64, d.nComponents)
	}

	prevLL := math.Inf(-1)
	for iter := 0; iter < d.maxIter; iter++ {
		d.iterations = iter + 1

		ll, err := eStep(data, weights, means, covs, resp)
		if err != nil {
			return err
		}
		if err := mStep(data, resp, weights, means, covs); err != nil {
			return err
		}

		if math.Abs(ll-prevLL) < d.tol {
			d.converged = true
			break
		}
		prevLL = ll
	}

	components := make([]*mvn.Normal, d.nComponents)
	for k := range components {
		components[k], err = mvn.New(means[k], covs[k])
		if err != nil {
			return err
		}
	}

	scores := make([]float64, nSamples)
	logs := make([]float64, d.nComponents)
	for i, row := range data {
		scores[i] = mixtureScore(row, weights, components, logs)
	}
	threshold, err := detectors.Calibrate(scores, d.fpr)
	if err != nil {
		return err
	}

	d.weights = weights
	d.components = components
	d.threshold = threshold
	d.MarkFitted(nFeatures)
	return nil
}

// AnomalyScore returns the negative log mixture density of each sample.
func (d *Detector) AnomalyScore(data [][]float64) ([]float64, error) {
	if err := d.check(data); err != nil {
		return nil, err
	}

	scores := make([]float64, len(data))
	logs := make([]float64, d.nComponents)
	for i, row := range data {
		scores[i] = mixtureScore(row, d.weights, d.components, logs)
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

// Means returns the fitted component means, or nil if unfitted.
func (d *Detector) Means() [][]float64 {
	if !d.IsFitted() {
		return nil
	}
	means := make([][]float64, len(d.components))
	for k, c := range d.components {
		means[k] = c.Mean()
	}
	return means
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

// initialize produces starting weights, means and covariances, honoring any
// user-provided initial values.
func (d *Detector) initialize(data [][]float64, nSamples, nFeatures int) ([]float64, [][]float64, []*mat.SymDense, error) {
	weights := make([]float64, d.nComponents)
	if d.weightsInit != nil {
		total := 0.0
		for _, w := range d.weightsInit {
			if w <= 0 {
				return nil, nil, nil, fmt.Errorf("%w: initial weights must be positive",
					detectors.ErrInvalidParameter)
			}
			total += w
		}
		for k, w := range d.weightsInit {
			weights[k] = w / total
		}
	} else {
		for k := range weights {
			weights[k] = 1 / float64(d.nComponents)
		}
	}

	means := make([][]float64, d.nComponents)
	if d.meansInit != nil {
		for k, m := range d.meansInit {
			if len(m) != nFeatures {
				return nil, nil, nil, fmt.Errorf("%w: initial mean %d has %d features, expected %d",
					detectors.ErrInvalidParameter, k, len(m), nFeatures)
			}
			means[k] = append([]float64(nil), m...)
		}
	} else {
		for k, idx := range d.rng.Perm(nSamples)[:d.nComponents] {
			means[k] = append([]float64(nil), data[idx]...)
		}
	}

	covs := make([]*mat.SymDense, d.nComponents)
	if d.precisionsInit != nil {
		for k, p := range d.precisionsInit {
			cov, err := invertPrecision(p, nFeatures)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("initial precision %d: %w", k, err)
			}
			covs[k] = cov
		}
	} else {
		_, pooled := mvn.MLECovariance(data)
		for j := 0; j < nFeatures; j++ {
			pooled.SetSym(j, j, pooled.At(j, j)+regCovar)
		}
		for k := range covs {
			covs[k] = mat.NewSymDense(nFeatures, nil)
			covs[k].CopySym(pooled)
		}
	}

	return weights, means, covs, nil
}

func invertPrecision(prec [][]float64, nFeatures int) (*mat.SymDense, error) {
	if len(prec) != nFeatures {
		return nil, fmt.Errorf("%w: precision is %dx, expected %dx%d",
			detectors.ErrInvalidParameter, len(prec), nFeatures, nFeatures)
	}
	sym := mat.NewSymDense(nFeatures, nil)
	for i := 0; i < nFeatures; i++ {
		if len(prec[i]) != nFeatures {
			return nil, fmt.Errorf("%w: precision row %d has %d entries, expected %d",
				detectors.ErrInvalidParameter, i, len(prec[i]), nFeatures)
		}
		for j := i; j < nFeatures; j++ {
			sym.SetSym(i, j, prec[i][j])
		}
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(sym); !ok {
		return nil, fmt.Errorf("%w: initial precision is not positive definite",
			detectors.ErrInvalidParameter)
	}
	var cov mat.SymDense
	if err := chol.InverseTo(&cov); err != nil {
		return nil, fmt.Errorf("%w: initial precision cannot be inverted",
			detectors.ErrInvalidParameter)
	}
	return &cov, nil
}

// eStep fills resp with component responsibilities and returns the mean
// log-likelihood of the data under the current parameters.
func eStep(data [][]float64, weights []float64, means [][]float64, covs []*mat.SymDense, resp [][]float64) (float64, error) {
	k := len(weights)
	dists := make([]*mvn.Normal, k)
	var err error
	for c := 0; c < k; c++ {
		dists[c], err = mvn.New(means[c], covs[c])
		if err != nil {
			return 0, err
		}
	}

	var total float64
	logs := make([]float64, k)
	for i, row := range data {
		for c := 0; c < k; c++ {
			logs[c] = math.Log(weights[c]) + dists[c].LogProb(row)
		}
		norm := floats.LogSumExp(logs)
		total += norm
		for c := 0; c < k; c++ {
			resp[i][c] = math.Exp(logs[c] - norm)
		}
	}
	return total / float64(len(data)), nil
}

// mStep re-estimates weights, means and covariances from responsibilities.
func mStep(data [][]float64, resp [][]float64, weights []float64, means [][]float64, covs []*mat.SymDense) error {
	n := len(data)
	d := len(data[0])
	k := len(weights)

	for c := 0; c < k; c++ {
		var nk float64
		for i := 0; i < n; i++ {
			nk += resp[i][c]
		}
		if nk < 10*regCovar {
			return fmt.Errorf("%w: component %d collapsed (no responsibility mass)",
				detectors.ErrDegenerateModel, c)
		}
		weights[c] = nk / float64(n)

		mean := means[c]
		for j := range mean {
			mean[j] = 0
		}
		for i, row := range data {
			r := resp[i][c]
			for j, v := range row {
				mean[j] += r * v
			}
		}
		for j := range mean {
			mean[j] /= nk
		}

		cov := covs[c]
		for i := 0; i < d; i++ {
			for j := i; j < d; j++ {
				cov.SetSym(i, j, 0)
			}
		}
		centered := make([]float64, d)
		for i, row := range data {
			r := resp[i][c]
			for j := range centered {
				centered[j] = row[j] - mean[j]
			}
			for x := 0; x < d; x++ {
				for y := x; y < d; y++ {
					cov.SetSym(x, y, cov.At(x, y)+r*centered[x]*centered[y])
				}
			}
		}
		for x := 0; x < d; x++ {
			for y := x; y < d; y++ {
				cov.SetSym(x, y, cov.At(x, y)/nk)
			}
			cov.SetSym(x, x, cov.At(x, x)+regCovar)
		}
	}
	return nil
}

// mixtureScore computes -log sum_k w_k N_k(x) with log-sum-exp so distant
// components underflowing to zero density do not poison the result.
func mixtureScore(x []float64, weights []float64, components []*mvn.Normal, logs []float64) float64 {
	for k, c := range components {
		logs[k] = math.Log(weights[k]) + c.LogProb(x)
	}
	return -floats.LogSumExp(logs)
}
