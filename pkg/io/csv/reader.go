// Package csv provides CSV file reading for tabular numeric data. Files
// with a .gz suffix are decompressed transparently, since sample corpora
// commonly ship gzip-compressed.
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// errSkippedRow marks a row Next dropped in lenient mode.
var errSkippedRow = errors.New("skipped malformed row")

// Reader reads numeric rows from a CSV file.
type Reader struct {
	closers   []io.Closer
	rd        *csv.Reader
	hasHeader bool
	strict    bool
	headers   []string
	skipped   int
}

// Option configures a CSV reader.
type Option func(*Reader)

// WithHeader indicates whether the CSV has a header row. Defaults to true.
func WithHeader(has bool) Option {
	return func(r *Reader) {
		r.hasHeader = has
	}
}

// WithStrict makes Read fail on a malformed row instead of skipping it.
func WithStrict(strict bool) Option {
	return func(r *Reader) {
		r.strict = strict
	}
}

// NewReader opens a CSV (or gzip-compressed CSV) file.
func NewReader(filename string, opts ...Option) (*Reader, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}

	r := &Reader{hasHeader: true}
	r.closers = append(r.closers, file)

	var src io.Reader = file
	if strings.HasSuffix(filename, ".gz") {
		gz, err := gzip.NewReader(file)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("open %s: %w", filename, err)
		}
		r.closers = append(r.closers, gz)
		src = gz
	}
	r.rd = csv.NewReader(src)

	for _, opt := range opts {
		opt(r)
	}

	if r.hasHeader {
		headers, err := r.rd.Read()
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("read header of %s: %w", filename, err)
		}
		r.headers = headers
	}

	return r, nil
}

// Headers returns the column headers, or nil when the file has none.
func (r *Reader) Headers() []string {
	return r.headers
}

// Skipped returns the number of malformed rows dropped by the last Read.
func (r *Reader) Skipped() int {
	return r.skipped
}

// next reads one row. It returns io.EOF at end of input and errSkippedRow
// for a malformed row in lenient mode.
func (r *Reader) next() ([]float64, error) {
	record, err := r.rd.Read()
	if err != nil {
		return nil, err
	}
	row, err := parseRow(record)
	if err != nil {
		if r.strict {
			return nil, err
		}
		return nil, errSkippedRow
	}
	return row, nil
}

// Read returns all remaining rows as a 2D float slice.
func (r *Reader) Read() ([][]float64, error) {
	var data [][]float64
	r.skipped = 0

	for {
		row, err := r.next()
		switch {
		case err == io.EOF:
			return data, nil
		case errors.Is(err, errSkippedRow):
			r.skipped++
		case err != nil:
			return nil, err
		default:
			data = append(data, row)
		}
	}
}

// Stream returns a channel of rows. Malformed rows are skipped. The
// channel closes at end of input or when ctx is cancelled.
func (r *Reader) Stream(ctx context.Context) (<-chan []float64, error) {
	out := make(chan []float64, 100)

	go func() {
		defer close(out)
		for {
			row, err := r.next()
			if err == io.EOF {
				return
			}
			if err != nil {
				continue
			}
			select {
			case out <- row:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// Close releases the underlying file and any decompressor.
func (r *Reader) Close() error {
	var first error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func parseRow(record []string) ([]float64, error) {
	if len(record) == 0 {
		return nil, errors.New("empty row")
	}

	row := make([]float64, len(record))
	for i, val := range record {
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return nil, fmt.Errorf("column %d: %w", i, err)
		}
		row[i] = f
	}
	return row, nil
}
