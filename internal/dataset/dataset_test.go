package dataset

import (
	"bytes"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/quiver/internal/core"
	qerrors "github.com/23skdu/quiver/internal/errors"
)

func randomMatrix(rows, dims int, seed int64) core.Matrix {
	rng := rand.New(rand.NewSource(seed))
	m := core.NewMatrix(rows, dims)
	for i := range m.Data {
		m.Data[i] = rng.Float32()
	}
	return m
}

func TestFBinRoundTrip(t *testing.T) {
	m := randomMatrix(37, 5, 1)
	var buf bytes.Buffer
	require.NoError(t, WriteFBin(&buf, m))
	assert.Equal(t, 8+37*5*4, buf.Len())

	got, err := ReadFBin(bytes.NewReader(buf.Bytes()), 0)
	require.NoError(t, err)
	assert.Equal(t, m, got)

	head, err := ReadFBin(bytes.NewReader(buf.Bytes()), 10)
	require.NoError(t, err)
	assert.Equal(t, 10, head.Rows)
	assert.Equal(t, m.Data[:50], head.Data)
}

func TestFBinTruncated(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFBin(&buf, randomMatrix(4, 3, 2)))
	_, err := ReadFBin(bytes.NewReader(buf.Bytes()[:buf.Len()-3]), 0)
	require.Error(t, err)
	assert.True(t, qerrors.IsType(err, qerrors.ErrorTypeIOFailure))
}

func TestGroundTruthRoundTrip(t *testing.T) {
	ids := [][]int64{{3, 1, 2}, {9, 8, 7}}
	var buf bytes.Buffer
	require.NoError(t, WriteGroundTruth(&buf, ids))
	got, err := ReadGroundTruth(&buf, 0)
	require.NoError(t, err)
	assert.Equal(t, ids, got)

	assert.Error(t, WriteGroundTruth(&bytes.Buffer{}, [][]int64{{1, 2}, {3}}))
}

func TestArrowRoundTrip(t *testing.T) {
	ds := &Dataset{Vectors: randomMatrix(20, 8, 3), IDs: make([]int64, 20)}
	for i := range ds.IDs {
		ds.IDs[i] = int64(100 + i)
	}
	var buf bytes.Buffer
	require.NoError(t, WriteArrow(&buf, ds))

	got, err := ReadArrow(bytes.NewReader(buf.Bytes()), 0)
	require.NoError(t, err)
	assert.Equal(t, ds.Vectors, got.Vectors)
	assert.Equal(t, ds.IDs, got.IDs)

	head, err := ReadArrow(bytes.NewReader(buf.Bytes()), 7)
	require.NoError(t, err)
	assert.Equal(t, 7, head.Vectors.Rows)
	assert.Equal(t, ds.IDs[:7], head.IDs)
}

func TestArrowDefaultIDs(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteArrow(&buf, &Dataset{Vectors: randomMatrix(3, 2, 4)}))
	got, err := ReadArrow(&buf, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 1, 2}, got.IDs)
}

func TestParquetRoundTrip(t *testing.T) {
	ds := &Dataset{Vectors: randomMatrix(parquetBatch+11, 4, 5)}
	var buf bytes.Buffer
	require.NoError(t, WriteParquet(&buf, ds))

	r := bytes.NewReader(buf.Bytes())
	got, err := ReadParquet(r, int64(buf.Len()), 0)
	require.NoError(t, err)
	assert.Equal(t, ds.Vectors, got.Vectors)
	require.Len(t, got.IDs, ds.Vectors.Rows)
	assert.Equal(t, int64(parquetBatch+10), got.IDs[len(got.IDs)-1])

	head, err := ReadParquet(r, int64(buf.Len()), 5)
	require.NoError(t, err)
	assert.Equal(t, 5, head.Vectors.Rows)
}

func TestWriteRejectsMismatchedIDs(t *testing.T) {
	ds := &Dataset{Vectors: randomMatrix(3, 2, 6), IDs: []int64{1}}
	err := WriteArrow(&bytes.Buffer{}, ds)
	assert.True(t, qerrors.IsType(err, qerrors.ErrorTypeInvalidParameters))
	err = WriteParquet(&bytes.Buffer{}, ds)
	assert.True(t, qerrors.IsType(err, qerrors.ErrorTypeInvalidParameters))
}

func TestLoadDispatchesOnExtension(t *testing.T) {
	dir := t.TempDir()
	m := randomMatrix(12, 3, 7)
	ds := &Dataset{Vectors: m}

	write := func(name string, fn func(*os.File) error) string {
		p := filepath.Join(dir, name)
		f, err := os.Create(p)
		require.NoError(t, err)
		require.NoError(t, fn(f))
		require.NoError(t, f.Close())
		return p
	}
	paths := []string{
		write("base.fbin", func(f *os.File) error { return WriteFBin(f, m) }),
		write("base.arrow", func(f *os.File) error { return WriteArrow(f, ds) }),
		write("base.parquet", func(f *os.File) error { return WriteParquet(f, ds) }),
	}
	for _, p := range paths {
		got, err := Load(p, Options{})
		require.NoError(t, err, p)
		assert.Equal(t, m, got.Vectors, p)
	}

	_, err := Load(filepath.Join(dir, "base.csv"), Options{})
	assert.True(t, qerrors.IsType(err, qerrors.ErrorTypeInvalidParameters))

	_, err = Load(filepath.Join(dir, "missing.fbin"), Options{})
	assert.True(t, qerrors.IsType(err, qerrors.ErrorTypeIOFailure))
}
