// Package datasets loads labeled sample corpora and generates synthetic
// data for the detectors. Corpus files are numeric CSVs (optionally
// gzip-compressed) whose trailing column is a class label; loading remaps
// the classes of interest to the outlier label (-1) and everything else to
// the inlier label (+1).
package datasets

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/hmori/odkit/pkg/detectors"
	"github.com/hmori/odkit/pkg/io/csv"
)

// Dataset is a loaded corpus: a feature matrix plus one label per row,
// +1 for inliers and -1 for outliers.
type Dataset struct {
	Data     [][]float64
	Labels   []int
	Features []string
}

// Contamination returns the fraction of outlier rows.
func (d *Dataset) Contamination() float64 {
	if len(d.Labels) == 0 {
		return 0
	}
	var n int
	for _, l := range d.Labels {
		if l == detectors.Outlier {
			n++
		}
	}
	return float64(n) / float64(len(d.Labels))
}

// Load reads a CSV or CSV.gz corpus whose last column is a numeric class
// label. Rows whose class appears in anomalousClasses are labeled Outlier,
// the rest Inlier.
func Load(path string, anomalousClasses ...float64) (*Dataset, error) {
	reader, err := csv.NewReader(path, csv.WithHeader(false))
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	rows, err := reader.Read()
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s contains no parsable rows", detectors.ErrInvalidInput, path)
	}
	if len(rows[0]) < 2 {
		return nil, fmt.Errorf("%w: %s needs at least one feature column and a label column",
			detectors.ErrInvalidInput, path)
	}

	anomalous := make(map[float64]bool, len(anomalousClasses))
	for _, c := range anomalousClasses {
		anomalous[c] = true
	}

	ds := &Dataset{
		Data:   make([][]float64, len(rows)),
		Labels: make([]int, len(rows)),
	}
	for i, row := range rows {
		last := len(row) - 1
		ds.Data[i] = row[:last]
		if anomalous[row[last]] {
			ds.Labels[i] = detectors.Outlier
		} else {
			ds.Labels[i] = detectors.Inlier
		}
	}
	return ds, nil
}

// BlobsConfig controls MakeBlobs.
type BlobsConfig struct {
	// Samples is the number of inlier points, split evenly across centers.
	Samples int
	// Outliers is the number of uniform outlier points.
	Outliers int
	// Features is the dimensionality.
	Features int
	// Centers is the number of inlier clusters.
	Centers int
	// ClusterStd is the standard deviation of each cluster.
	ClusterStd float64
	// CenterBox bounds the uniform placement of cluster centers and
	// outliers: each coordinate is drawn from [-CenterBox, CenterBox].
	CenterBox float64
	// Seed makes generation reproducible.
	Seed int64
}

// DefaultBlobsConfig mirrors the shape of typical toy corpora: one tight
// cluster with a few far outliers.
func DefaultBlobsConfig() BlobsConfig {
	return BlobsConfig{
		Samples:    100,
		Outliers:   10,
		Features:   2,
		Centers:    1,
		ClusterStd: 1,
		CenterBox:  10,
		Seed:       42,
	}
}

// MakeBlobs generates isotropic Gaussian clusters plus uniformly placed
// outliers, with labels (+1 inlier, -1 outlier). Generation is fully
// determined by cfg.Seed.
func MakeBlobs(cfg BlobsConfig) (*Dataset, error) {
	if cfg.Samples < 1 || cfg.Features < 1 || cfg.Centers < 1 {
		return nil, fmt.Errorf("%w: samples, features and centers must be >= 1",
			detectors.ErrInvalidParameter)
	}
	if cfg.Outliers < 0 || cfg.ClusterStd <= 0 || cfg.CenterBox <= 0 {
		return nil, fmt.Errorf("%w: outliers must be >= 0, cluster std and center box > 0",
			detectors.ErrInvalidParameter)
	}

	rng := rand.New(rand.NewSource(cfg.Seed))

	centers := make([][]float64, cfg.Centers)
	for c := range centers {
		centers[c] = make([]float64, cfg.Features)
		for j := range centers[c] {
			centers[c][j] = uniform(rng, -cfg.CenterBox, cfg.CenterBox)
		}
	}

	total := cfg.Samples + cfg.Outliers
	ds := &Dataset{
		Data:   make([][]float64, 0, total),
		Labels: make([]int, 0, total),
	}

	for i := 0; i < cfg.Samples; i++ {
		center := centers[i%cfg.Centers]
		row := make([]float64, cfg.Features)
		for j := range row {
			row[j] = center[j] + cfg.ClusterStd*rng.NormFloat64()
		}
		ds.Data = append(ds.Data, row)
		ds.Labels = append(ds.Labels, detectors.Inlier)
	}

	// Outliers are drawn uniformly but rejected if they land within three
	// cluster standard deviations of a center, so labels stay meaningful.
	for i := 0; i < cfg.Outliers; i++ {
		row := make([]float64, cfg.Features)
		for attempt := 0; attempt < 100; attempt++ {
			for j := range row {
				row[j] = uniform(rng, -cfg.CenterBox, cfg.CenterBox)
			}
			if minCenterDistance(row, centers) > 3*cfg.ClusterStd {
				break
			}
		}
		ds.Data = append(ds.Data, row)
		ds.Labels = append(ds.Labels, detectors.Outlier)
	}

	return ds, nil
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}

func minCenterDistance(row []float64, centers [][]float64) float64 {
	best := math.Inf(1)
	for _, c := range centers {
		var sum float64
		for j := range row {
			d := row[j] - c[j]
			sum += d * d
		}
		if dist := math.Sqrt(sum); dist < best {
			best = dist
		}
	}
	return best
}
