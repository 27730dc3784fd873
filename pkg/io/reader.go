// Package io provides data ingestion and result output for the detectors.
package io

import "context"

// Reader is the interface for loading sample matrices from a data source.
type Reader interface {
	// Read returns the complete dataset, one feature vector per row.
	Read() ([][]float64, error)

	// Stream returns a channel of samples for sources that produce rows
	// incrementally.
	Stream(ctx context.Context) (<-chan []float64, error)

	// Close releases resources.
	Close() error
}

// FeatureExtractor converts raw records of a source-specific type into
// numeric feature vectors.
type FeatureExtractor interface {
	// Extract converts a raw record into a feature vector.
	Extract(record any) ([]float64, error)

	// FeatureNames returns the names of the extracted features, in order.
	FeatureNames() []string
}

// Writer is the interface for persisting detection results.
type Writer interface {
	// Write outputs a single result.
	Write(result Result) error

	// WriteAll outputs multiple results.
	WriteAll(results []Result) error

	// Close flushes and releases resources.
	Close() error
}

// Result is one scored sample: its anomaly score, the inlier/outlier label
// (+1/-1) assigned against the calibrated threshold, and the input features.
type Result struct {
	Index    int       `json:"index"`
	Score    float64   `json:"score"`
	Label    int       `json:"label"`
	Features []float64 `json:"features,omitempty"`
}
