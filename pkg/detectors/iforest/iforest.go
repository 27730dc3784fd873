// Package iforest implements isolation-forest outlier detection. Unlike the
// density and reconstruction detectors, it scores a sample by how few random
// axis-aligned splits isolate it from the training data; anomalies isolate
// in short paths. Scores live in (0, 1) with higher meaning more anomalous,
// and the threshold is calibrated on the training scores like every other
// detector.
package iforest

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/hmori/odkit/pkg/detectors"
)

// eulerMascheroni appears in the expected path length of an unsuccessful
// binary search tree lookup.
const eulerMascheroni = 0.5772156649015329

// Detector is an ensemble of isolation trees.
type Detector struct {
	detectors.FittedState

	// Configuration
	nTrees     int
	sampleSize int
	fpr        float64
	rng        *rand.Rand

	// Fitted model
	trees     []*treeNode
	pathScale float64
	maxDepth  int
	threshold float64
}

// treeNode is one node of an isolation tree; leaves have nil children.
type treeNode struct {
	splitFeature int
	splitValue   float64
	left, right  *treeNode
	size         int
}

// Option configures a Detector.
type Option func(*Detector)

// WithTrees sets the ensemble size.
func WithTrees(n int) Option {
	return func(d *Detector) {
		d.nTrees = n
	}
}

// WithSampleSize sets the subsample size each tree is grown from.
func WithSampleSize(n int) Option {
	return func(d *Detector) {
		d.sampleSize = n
	}
}

// WithFPR sets the target false-positive rate used to calibrate the
// threshold on the training scores.
func WithFPR(fpr float64) Option {
	return func(d *Detector) {
		d.fpr = fpr
	}
}

// WithSeed seeds the random source used to grow trees, making fits
// reproducible.
func WithSeed(seed int64) Option {
	return func(d *Detector) {
		d.rng = rand.New(rand.NewSource(seed))
	}
}

// New creates an isolation-forest detector. Hyperparameters are validated
// eagerly.
func New(opts ...Option) (*Detector, error) {
	d := &Detector{
		nTrees:     100,
		sampleSize: 256,
		fpr:        0.01,
		rng:        rand.New(rand.NewSource(42)),
	}

	for _, opt := range opts {
		opt(d)
	}

	switch {
	case d.nTrees < 1:
		return nil, fmt.Errorf("%w: trees must be >= 1, got %d",
			detectors.ErrInvalidParameter, d.nTrees)
	case d.sampleSize < 2:
		return nil, fmt.Errorf("%w: sample size must be >= 2, got %d",
			detectors.ErrInvalidParameter, d.sampleSize)
	case d.fpr < 0 || d.fpr > 1:
		return nil, fmt.Errorf("%w: fpr must be in [0, 1], got %g",
			detectors.ErrInvalidParameter, d.fpr)
	}
	return d, nil
}

// Fit grows the ensemble on subsamples of data and calibrates the threshold
// on the training scores.
func (d *Detector) Fit(data [][]float64) error {
	d.Reset()

	nSamples, nFeatures, err := detectors.CheckMatrix(data)
	if err != nil {
		return err
	}

	sampleSize := d.sampleSize
	if sampleSize > nSamples {
		sampleSize = nSamples
	}
	d.maxDepth = int(math.Ceil(math.Log2(float64(sampleSize))))
	if d.maxDepth < 1 {
		d.maxDepth = 1
	}

	d.trees = make([]*treeNode, d.nTrees)
	subsample := make([][]float64, sampleSize)
	for t := range d.trees {
		for i, idx := range d.rng.Perm(nSamples)[:sampleSize] {
			subsample[i] = data[idx]
		}
		d.trees[t] = d.grow(subsample, nFeatures, 0)
	}
	d.pathScale = expectedPathLength(float64(sampleSize))

	d.MarkFitted(nFeatures)

	scores, err := d.AnomalyScore(data)
	if err != nil {
		d.Reset()
		return err
	}
	threshold, err := detectors.Calibrate(scores, d.fpr)
	if err != nil {
		d.Reset()
		return err
	}
	d.threshold = threshold
	return nil
}

// AnomalyScore returns 2^(-E[path]/c(n)) for each sample, where E[path] is
// the mean isolation depth across trees.
func (d *Detector) AnomalyScore(data [][]float64) ([]float64, error) {
	if err := d.RequireFitted(); err != nil {
		return nil, err
	}
	if data == nil {
		return nil, fmt.Errorf("%w: data is required, the detector does not retain its training matrix",
			detectors.ErrInvalidInput)
	}
	_, nFeatures, err := detectors.CheckMatrix(data)
	if err != nil {
		return nil, err
	}
	if err := d.CheckWidth(nFeatures); err != nil {
		return nil, err
	}

	scores := make([]float64, len(data))
	for i, row := range data {
		var total float64
		for _, tree := range d.trees {
			total += isolationDepth(row, tree, 0)
		}
		mean := total / float64(len(d.trees))
		scores[i] = math.Pow(2, -mean/d.pathScale)
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

func (d *Detector) grow(data [][]float64, nFeatures, depth int) *treeNode {
	n := len(data)
	if depth >= d.maxDepth || n <= 1 {
		return &treeNode{size: n}
	}

	feature := d.rng.Intn(nFeatures)
	minVal, maxVal := data[0][feature], data[0][feature]
	for _, row := range data[1:] {
		if row[feature] < minVal {
			minVal = row[feature]
		}
		if row[feature] > maxVal {
			maxVal = row[feature]
		}
	}
	if minVal == maxVal {
		return &treeNode{size: n}
	}

	splitValue := minVal + d.rng.Float64()*(maxVal-minVal)
	var left, right [][]float64
	for _, row := range data {
		if row[feature] < splitValue {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}

	return &treeNode{
		splitFeature: feature,
		splitValue:   splitValue,
		left:         d.grow(left, nFeatures, depth+1),
		right:        d.grow(right, nFeatures, depth+1),
	}
}

func isolationDepth(sample []float64, n *treeNode, depth int) float64 {
	if n.left == nil && n.right == nil {
		return float64(depth) + expectedPathLength(float64(n.size))
	}
	if sample[n.splitFeature] < n.splitValue {
		return isolationDepth(sample, n.left, depth+1)
	}
	return isolationDepth(sample, n.right, depth+1)
}

// expectedPathLength is c(n), the average unsuccessful-search path length of
// a binary search tree over n points.
func expectedPathLength(n float64) float64 {
	if n <= 1 {
		return 0
	}
	return 2*(math.Log(n-1)+eulerMascheroni) - 2*(n-1)/n
}
