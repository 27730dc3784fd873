package gaussian

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hmori/odkit/pkg/detectors"
)

var _ detectors.Detector = (*Detector)(nil)
var _ detectors.FeatureAnalyzer = (*Detector)(nil)

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
			name: "custom fpr",
			opts: []Option{WithFPR(0.05)},
		},
		{
			name: "boundary fpr zero",
			opts: []Option{WithFPR(0.0)},
		},
		{
			name: "boundary fpr one",
			opts: []Option{WithFPR(1.0)},
		},
		{
			name:    "fpr above one",
			opts:    []Option{WithFPR(1.5)},
			wantErr: true,
		},
		{
			name:    "negative fpr",
			opts:    []Option{WithFPR(-0.2)},
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

	data := [][]float64{{1, 2}, {3, 4}}

	_, err = d.AnomalyScore(data)
	assert.ErrorIs(t, err, detectors.ErrNotFitted)
	_, err = d.Classify(data)
	assert.ErrorIs(t, err, detectors.ErrNotFitted)
	_, err = d.Analyze(data)
	assert.ErrorIs(t, err, detectors.ErrNotFitted)
}

func TestFitAndScore(t *testing.T) {
	data := blob(t, 500, 3, 42)

	d, err := New(WithFPR(0.1))
	require.NoError(t, err)
	require.NoError(t, d.Fit(data))

	scores, err := d.AnomalyScore(data)
	require.NoError(t, err)
	assert.Len(t, scores, len(data))
	for _, s := range scores {
		assert.False(t, math.IsNaN(s) || math.IsInf(s, 0), "scores must be finite")
	}

	far := [][]float64{{100, 100, 100}}
	farScores, err := d.AnomalyScore(far)
	require.NoError(t, err)
	assert.Greater(t, farScores[0], scores[0])

	labels, err := d.Classify(far)
	require.NoError(t, err)
	assert.Equal(t, detectors.Outlier, labels[0])
}

func TestTrainingOutlierFraction(t *testing.T) {
	data := blob(t, 1000, 4, 7)

	for _, fpr := range []float64{0.01, 0.05, 0.2} {
		d, err := New(WithFPR(fpr))
		require.NoError(t, err)
		require.NoError(t, d.Fit(data))

		labels, err := d.Classify(data)
		require.NoError(t, err)

		var outliers int
		for _, l := range labels {
			if l == detectors.Outlier {
				outliers++
			}
		}
		assert.InDelta(t, fpr, float64(outliers)/float64(len(data)), 0.01,
			"training outlier fraction should track the fpr")
	}
}

func TestEndToEndFarCluster(t *testing.T) {
	// 100 points tightly around the origin plus 5 far away; at fpr 0.05 the
	// threshold is the 95th percentile of all 105 training scores and the 5
	// far points must sit above it.
	rng := rand.New(rand.NewSource(1))
	data := make([][]float64, 0, 105)
	for i := 0; i < 100; i++ {
		data = append(data, []float64{
			2*rng.Float64() - 1,
			2*rng.Float64() - 1,
		})
	}
	for i := 0; i < 5; i++ {
		data = append(data, []float64{
			50 + rng.Float64(),
			50 + rng.Float64(),
		})
	}

	d, err := New(WithFPR(0.05))
	require.NoError(t, err)
	require.NoError(t, d.Fit(data))

	scores, err := d.AnomalyScore(data)
	require.NoError(t, err)

	wantThreshold, err := detectors.Calibrate(scores, 0.05)
	require.NoError(t, err)
	assert.InDelta(t, wantThreshold, d.Threshold(), 1e-12)

	labels, err := d.Classify(data)
	require.NoError(t, err)
	for i := 100; i < 105; i++ {
		assert.Equal(t, detectors.Outlier, labels[i], "far point %d must be an outlier", i)
	}
}

func TestRotationInvariance(t *testing.T) {
	// The Gaussian score depends only on relative geometry, so rotating
	// training and test data by the same orthonormal matrix must not
	// change it.
	train := blob(t, 300, 2, 3)
	test := blob(t, 50, 2, 4)

	theta := 0.7
	rot := func(rows [][]float64) [][]float64 {
		out := make([][]float64, len(rows))
		for i, r := range rows {
			out[i] = []float64{
				math.Cos(theta)*r[0] - math.Sin(theta)*r[1],
				math.Sin(theta)*r[0] + math.Cos(theta)*r[1],
			}
		}
		return out
	}

	d1, err := New()
	require.NoError(t, err)
	require.NoError(t, d1.Fit(train))
	s1, err := d1.AnomalyScore(test)
	require.NoError(t, err)

	d2, err := New()
	require.NoError(t, err)
	require.NoError(t, d2.Fit(rot(train)))
	s2, err := d2.AnomalyScore(rot(test))
	require.NoError(t, err)

	for i := range s1 {
		assert.InDelta(t, s1[i], s2[i], 1e-8)
	}
}

func TestAnalyze(t *testing.T) {
	// Independent features: the decomposition is exact and row sums must
	// reproduce the aggregate scores.
	rng := rand.New(rand.NewSource(11))
	data := make([][]float64, 400)
	for i := range data {
		data[i] = []float64{rng.NormFloat64(), 3 * rng.NormFloat64(), 0.5 * rng.NormFloat64()}
	}

	d, err := New()
	require.NoError(t, err)
	require.NoError(t, d.Fit(data))

	test := [][]float64{{0.5, -2, 1}, {4, 0, 0}}
	scores, err := d.AnomalyScore(test)
	require.NoError(t, err)
	contrib, err := d.Analyze(test)
	require.NoError(t, err)

	require.Len(t, contrib, len(test))
	for i := range test {
		require.Len(t, contrib[i], 3)
		var sum float64
		for _, c := range contrib[i] {
			sum += c
		}
		// Near-diagonal covariance: row sums track the aggregate closely.
		assert.InDelta(t, scores[i], sum, 0.05*math.Abs(scores[i])+0.05)
	}
}

func TestFitDegenerateCovariance(t *testing.T) {
	// Second column duplicates the first, so the covariance is singular.
	data := [][]float64{
		{1, 1}, {2, 2}, {3, 3}, {4, 4},
	}

	d, err := New()
	require.NoError(t, err)
	err = d.Fit(data)
	assert.ErrorIs(t, err, detectors.ErrDegenerateModel)
	assert.False(t, d.IsFitted())

	_, err = d.AnomalyScore(data)
	assert.ErrorIs(t, err, detectors.ErrNotFitted)
}

func TestInvalidInput(t *testing.T) {
	d, err := New()
	require.NoError(t, err)
	require.NoError(t, d.Fit(blob(t, 100, 2, 5)))

	_, err = d.AnomalyScore([][]float64{{1, 2, 3}})
	assert.ErrorIs(t, err, detectors.ErrInvalidInput, "width mismatch")

	_, err = d.AnomalyScore(nil)
	assert.ErrorIs(t, err, detectors.ErrInvalidInput, "nil data is not supported")

	_, err = d.AnomalyScore([][]float64{{math.NaN(), 1}})
	assert.ErrorIs(t, err, detectors.ErrInvalidInput, "non-finite input")

	assert.ErrorIs(t, d.Fit([][]float64{}), detectors.ErrInvalidInput)
}

func TestRefitOverwrites(t *testing.T) {
	d, err := New()
	require.NoError(t, err)

	require.NoError(t, d.Fit(blob(t, 200, 2, 8)))
	first := d.Threshold()

	shifted := blob(t, 200, 2, 9)
	for _, row := range shifted {
		row[0] += 100
	}
	require.NoError(t, d.Fit(shifted))

	assert.NotEqual(t, first, d.Threshold())
	assert.InDelta(t, 100, d.Mean()[0], 1.0)
}

func blob(t *testing.T, n, features int, seed int64) [][]float64 {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	data := make([][]float64, n)
	for i := range data {
		data[i] = make([]float64, features)
		for j := range data[i] {
			data[i][j] = rng.NormFloat64()
		}
	}
	return data
}

func BenchmarkFit(b *testing.B) {
	rng := rand.New(rand.NewSource(1))
	data := make([][]float64, 5000)
	for i := range data {
		data[i] = []float64{rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64()}
	}
	d, _ := New()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		d.Fit(data)
	}
}

func BenchmarkAnomalyScore(b *testing.B) {
	rng := rand.New(rand.NewSource(1))
	data := make([][]float64, 5000)
	for i := range data {
		data[i] = []float64{rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64()}
	}
	d, _ := New()
	d.Fit(data)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		d.AnomalyScore(data)
	}
}
