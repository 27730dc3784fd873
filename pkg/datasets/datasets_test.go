package datasets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hmori/odkit/pkg/detectors"
)

func TestMakeBlobs(t *testing.T) {
	cfg := DefaultBlobsConfig()
	cfg.Samples = 200
	cfg.Outliers = 20
	cfg.Features = 3
	cfg.Centers = 2

	ds, err := MakeBlobs(cfg)
	require.NoError(t, err)

	assert.Len(t, ds.Data, 220)
	assert.Len(t, ds.Labels, 220)
	for _, row := range ds.Data {
		assert.Len(t, row, 3)
	}

	var outliers int
	for _, l := range ds.Labels {
		if l == detectors.Outlier {
			outliers++
		}
	}
	assert.Equal(t, 20, outliers)
	assert.InDelta(t, 20.0/220.0, ds.Contamination(), 1e-12)
}

func TestMakeBlobsReproducible(t *testing.T) {
	cfg := DefaultBlobsConfig()

	a, err := MakeBlobs(cfg)
	require.NoError(t, err)
	b, err := MakeBlobs(cfg)
	require.NoError(t, err)
	assert.Equal(t, a.Data, b.Data)

	cfg.Seed = 7
	c, err := MakeBlobs(cfg)
	require.NoError(t, err)
	assert.NotEqual(t, a.Data, c.Data)
}

func TestMakeBlobsValidation(t *testing.T) {
	cfg := DefaultBlobsConfig()
	cfg.Samples = 0
	_, err := MakeBlobs(cfg)
	assert.ErrorIs(t, err, detectors.ErrInvalidParameter)

	cfg = DefaultBlobsConfig()
	cfg.ClusterStd = -1
	_, err = MakeBlobs(cfg)
	assert.ErrorIs(t, err, detectors.ErrInvalidParameter)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus.csv")
	content := "1.0,2.0,0\n3.0,4.0,1\n5.0,6.0,4\n7.0,8.0,1\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	ds, err := Load(path, 4)
	require.NoError(t, err)

	assert.Equal(t, [][]float64{{1, 2}, {3, 4}, {5, 6}, {7, 8}}, ds.Data)
	assert.Equal(t, []int{
		detectors.Inlier,
		detectors.Inlier,
		detectors.Outlier,
		detectors.Inlier,
	}, ds.Labels)
	assert.InDelta(t, 0.25, ds.Contamination(), 1e-12)
}

func TestLoadMultipleAnomalousClasses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus.csv")
	content := "1,0\n2,1\n3,2\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	ds, err := Load(path, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{detectors.Inlier, detectors.Outlier, detectors.Outlier}, ds.Labels)
}

func TestLoadRejectsNarrowRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus.csv")
	require.NoError(t, os.WriteFile(path, []byte("1\n2\n"), 0o644))

	_, err := Load(path)
	assert.ErrorIs(t, err, detectors.ErrInvalidInput)
}
