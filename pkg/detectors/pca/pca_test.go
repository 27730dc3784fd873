package pca

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hmori/odkit/pkg/detectors"
)

var _ detectors.Detector = (*Detector)(nil)
var _ detectors.Reconstructor = (*Detector)(nil)
var _ detectors.LikelihoodScorer = (*Detector)(nil)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		opts    []Option
		wantErr bool
	}{
		{
			name: "defaults",
		},
		{
			name: "custom components",
			opts: []Option{WithComponents(2), WithFPR(0.1)},
		},
		{
			name:    "negative components",
			opts:    []Option{WithComponents(-1)},
			wantErr: true,
		},
		{
			name:    "fpr above one",
			opts:    []Option{WithFPR(1.5)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts...)
			if tt.wantErr {
				assert.ErrorIs(t, err, detectors.ErrInvalidParameter)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNotFittedBeforeFit(t *testing.T) {
	d, err := New()
	require.NoError(t, err)

	_, err = d.AnomalyScore(nil)
	assert.ErrorIs(t, err, detectors.ErrNotFitted)
	_, err = d.Classify(nil)
	assert.ErrorIs(t, err, detectors.ErrNotFitted)
	_, err = d.Reconstruct(nil)
	assert.ErrorIs(t, err, detectors.ErrNotFitted)
	_, err = d.Score(nil)
	assert.ErrorIs(t, err, detectors.ErrNotFitted)
}

func TestFullRankRoundTrip(t *testing.T) {
	// Retaining every principal direction makes projection a bijection, so
	// all training residuals vanish.
	data := correlated(t, 200, 97)

	d, err := New()
	require.NoError(t, err)
	require.NoError(t, d.Fit(data))

	assert.Equal(t, 3, d.NumComponents())
	assert.InDelta(t, 0.0, d.NoiseVariance(), 1e-12)

	scores, err := d.AnomalyScore(nil)
	require.NoError(t, err)
	require.Len(t, scores, len(data))
	for i, s := range scores {
		assert.InDelta(t, 0.0, s, 1e-9, "training residual %d", i)
	}

	recon, err := d.Reconstruct(data)
	require.NoError(t, err)
	for i := range data {
		assert.InDeltaSlice(t, data[i], recon[i], 1e-9)
	}
}

func TestReducedComponentsDetectOffPlane(t *testing.T) {
	// Training data lives close to the plane x3 = 0; a point far off the
	// plane reconstructs poorly with two retained directions.
	rng := rand.New(rand.NewSource(101))
	data := make([][]float64, 500)
	for i := range data {
		data[i] = []float64{
			5 * rng.NormFloat64(),
			3 * rng.NormFloat64(),
			0.01 * rng.NormFloat64(),
		}
	}

	d, err := New(WithComponents(2), WithFPR(0.05))
	require.NoError(t, err)
	require.NoError(t, d.Fit(data))

	scores, err := d.AnomalyScore([][]float64{
		{1, 1, 0},
		{1, 1, 10},
	})
	require.NoError(t, err)
	assert.Greater(t, scores[1], scores[0])
	assert.InDelta(t, 10.0, scores[1], 0.5, "off-plane residual is dominated by the x3 offset")

	labels, err := d.Classify([][]float64{{1, 1, 10}})
	require.NoError(t, err)
	assert.Equal(t, detectors.Outlier, labels[0])

	assert.Greater(t, d.NoiseVariance(), 0.0)
	assert.Len(t, d.ExplainedVariance(), 2)
	assert.Len(t, d.SingularValues(), 2)
}

func TestNilDefaultsToTraining(t *testing.T) {
	data := correlated(t, 150, 103)

	d, err := New(WithComponents(2))
	require.NoError(t, err)
	require.NoError(t, d.Fit(data))

	fromNil, err := d.AnomalyScore(nil)
	require.NoError(t, err)
	fromData, err := d.AnomalyScore(data)
	require.NoError(t, err)
	assert.Equal(t, fromData, fromNil)

	labels, err := d.Classify(nil)
	require.NoError(t, err)
	assert.Len(t, labels, len(data))
}

func TestTrainingMatrixIsCopied(t *testing.T) {
	data := correlated(t, 100, 107)

	d, err := New(WithComponents(2))
	require.NoError(t, err)
	require.NoError(t, d.Fit(data))

	before, err := d.AnomalyScore(nil)
	require.NoError(t, err)

	// Mutating the caller's matrix must not change the stored training set.
	data[0][0] += 1000
	after, err := d.AnomalyScore(nil)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestScoreLikelihood(t *testing.T) {
	data := correlated(t, 400, 109)

	d, err := New(WithComponents(2))
	require.NoError(t, err)
	require.NoError(t, d.Fit(data))

	trainLL, err := d.Score(nil)
	require.NoError(t, err)
	assert.False(t, math.IsNaN(trainLL) || math.IsInf(trainLL, 0))

	farLL, err := d.Score([][]float64{{1e3, -1e3, 1e3}})
	require.NoError(t, err)
	assert.Less(t, farLL, trainLL, "far data is less likely under the PPCA model")
}

func TestTrainingOutlierFraction(t *testing.T) {
	data := correlated(t, 1000, 113)

	d, err := New(WithComponents(2), WithFPR(0.05))
	require.NoError(t, err)
	require.NoError(t, d.Fit(data))

	labels, err := d.Classify(nil)
	require.NoError(t, err)
	var outliers int
	for _, l := range labels {
		if l == detectors.Outlier {
			outliers++
		}
	}
	assert.InDelta(t, 0.05, float64(outliers)/float64(len(labels)), 0.01)
}

func TestInvalidInput(t *testing.T) {
	d, err := New(WithComponents(10))
	require.NoError(t, err)
	assert.ErrorIs(t, d.Fit(correlated(t, 50, 127)), detectors.ErrInvalidParameter,
		"components beyond the data rank")

	d, err = New(WithComponents(2))
	require.NoError(t, err)
	assert.ErrorIs(t, d.Fit([][]float64{{1, 2, 3}}), detectors.ErrInvalidInput,
		"a single sample has no variance structure")

	require.NoError(t, d.Fit(correlated(t, 50, 131)))
	_, err = d.AnomalyScore([][]float64{{1, 2}})
	assert.ErrorIs(t, err, detectors.ErrInvalidInput)
}

// correlated samples 3D points with strong linear structure plus noise.
func correlated(t testing.TB, n int, seed int64) [][]float64 {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	data := make([][]float64, n)
	for i := range data {
		u := rng.NormFloat64()
		v := rng.NormFloat64()
		data[i] = []float64{
			u,
			2*u + 0.3*v,
			v + 0.1*rng.NormFloat64(),
		}
	}
	return data
}

func BenchmarkFit(b *testing.B) {
	data := correlated(b, 2000, 1)
	d, _ := New(WithComponents(2))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		d.Fit(data)
	}
}
