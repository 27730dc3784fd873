package csv

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string, compress bool) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	if compress {
		gz := gzip.NewWriter(f)
		_, err = gz.Write([]byte(content))
		require.NoError(t, err)
		require.NoError(t, gz.Close())
		return path
	}
	_, err = f.WriteString(content)
	require.NoError(t, err)
	return path
}

const sample = "a,b,c\n1,2,3\n4,5,6\n7,8,9\n"

func TestRead(t *testing.T) {
	path := writeFile(t, "data.csv", sample, false)

	r, err := NewReader(path)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, []string{"a", "b", "c"}, r.Headers())

	data, err := r.Read()
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 2, 3}, {4, 5, 6}, {7, 8, 9}}, data)
	assert.Zero(t, r.Skipped())
}

func TestReadGzip(t *testing.T) {
	path := writeFile(t, "data.csv.gz", sample, true)

	r, err := NewReader(path)
	require.NoError(t, err)
	defer r.Close()

	data, err := r.Read()
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 2, 3}, {4, 5, 6}, {7, 8, 9}}, data)
}

func TestReadNoHeader(t *testing.T) {
	path := writeFile(t, "data.csv", "1,2\n3,4\n", false)

	r, err := NewReader(path, WithHeader(false))
	require.NoError(t, err)
	defer r.Close()

	assert.Nil(t, r.Headers())

	data, err := r.Read()
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 2}, {3, 4}}, data)
}

func TestReadSkipsMalformedRows(t *testing.T) {
	path := writeFile(t, "data.csv", "a,b\n1,2\nx,y\n3,4\n", false)

	r, err := NewReader(path)
	require.NoError(t, err)
	defer r.Close()

	data, err := r.Read()
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 2}, {3, 4}}, data)
	assert.Equal(t, 1, r.Skipped())
}

func TestReadStrict(t *testing.T) {
	path := writeFile(t, "data.csv", "a,b\n1,2\nx,y\n", false)

	r, err := NewReader(path, WithStrict(true))
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Read()
	assert.Error(t, err)
}

func TestStream(t *testing.T) {
	path := writeFile(t, "data.csv", sample, false)

	r, err := NewReader(path)
	require.NoError(t, err)
	defer r.Close()

	rows, err := r.Stream(context.Background())
	require.NoError(t, err)

	var got [][]float64
	for row := range rows {
		got = append(got, row)
	}
	assert.Equal(t, [][]float64{{1, 2, 3}, {4, 5, 6}, {7, 8, 9}}, got)
}

func TestMissingFile(t *testing.T) {
	_, err := NewReader(filepath.Join(t.TempDir(), "nope.csv"))
	assert.Error(t, err)
}
