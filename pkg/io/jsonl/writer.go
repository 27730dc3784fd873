// Package jsonl writes detection results as JSON lines, one result per line.
package jsonl

import (
	"bufio"
	"encoding/json"
	stdio "io"
	"os"

	"github.com/hmori/odkit/pkg/io"
)

// Writer emits io.Result values as newline-delimited JSON.
type Writer struct {
	w     *bufio.Writer
	close func() error
}

// NewWriter wraps an io.Writer destination.
func NewWriter(dst stdio.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(dst)}
}

// NewFileWriter creates (or truncates) a file destination.
func NewFileWriter(filename string) (*Writer, error) {
	f, err := os.Create(filename)
	if err != nil {
		return nil, err
	}
	return &Writer{w: bufio.NewWriter(f), close: f.Close}, nil
}

// Write outputs a single result.
func (w *Writer) Write(result io.Result) error {
	line, err := json.Marshal(result)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(line); err != nil {
		return err
	}
	return w.w.WriteByte('\n')
}

// WriteAll outputs multiple results.
func (w *Writer) WriteAll(results []io.Result) error {
	for _, r := range results {
		if err := w.Write(r); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes buffered output and closes the underlying file, if any.
func (w *Writer) Close() error {
	if err := w.w.Flush(); err != nil {
		return err
	}
	if w.close != nil {
		return w.close()
	}
	return nil
}
