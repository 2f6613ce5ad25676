package pq

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/23skdu/quiver/internal/codec"
	"github.com/23skdu/quiver/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomMatrix(rng *rand.Rand, rows, dims int) core.Matrix {
	m := core.NewMatrix(rows, dims)
	for i := range m.Data {
		m.Data[i] = rng.Float32()
	}
	return m
}

func TestPQEncoder_Configuration(t *testing.T) {
	_, err := NewPQEncoder(128, 16, 256)
	assert.NoError(t, err)

	_, err = NewPQEncoder(128, 10, 256) // 128 is not divisible by 10
	assert.Error(t, err)

	_, err = NewPQEncoder(128, 16, 257) // codes are one byte
	assert.Error(t, err)
}

func TestPQEncoder_TrainAndEncode(t *testing.T) {
	dims, M, K := 32, 4, 256
	rng := rand.New(rand.NewSource(11))
	data := randomMatrix(rng, 1000, dims)

	encoder, err := NewPQEncoder(dims, M, K)
	require.NoError(t, err)
	require.NoError(t, encoder.Train(data, 20, rng))

	vec := data.Row(0)
	codes, err := encoder.Encode(vec)
	require.NoError(t, err)
	assert.Len(t, codes, M)

	rec, err := encoder.Decode(codes)
	require.NoError(t, err)
	assert.Len(t, rec, dims)

	var mse float32
	for i := range vec {
		diff := vec[i] - rec[i]
		mse += diff * diff
	}
	mse /= float32(dims)

	// For random uniform [0,1], variance is 1/12 ~= 0.083.
	assert.Less(t, mse, float32(0.05), "MSE should be reasonably low")
}

func TestPQEncoder_DimensionErrors(t *testing.T) {
	encoder, err := NewPQEncoder(8, 2, 4)
	require.NoError(t, err)

	_, err = encoder.Encode(make([]float32, 7))
	assert.Error(t, err)
	_, err = encoder.Decode(make([]byte, 3))
	assert.Error(t, err)
	assert.Error(t, encoder.Train(core.NewMatrix(10, 4), 5, rand.New(rand.NewSource(1))))
	assert.Error(t, encoder.Train(core.Matrix{Dims: 8}, 5, rand.New(rand.NewSource(1))))
}

func TestPQEncoder_Persistence(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	data := randomMatrix(rng, 200, 16)
	encoder, err := NewPQEncoder(16, 4, 16)
	require.NoError(t, err)
	require.NoError(t, encoder.Train(data, 10, rng))

	var buf bytes.Buffer
	n, err := encoder.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(buf.Len()), n)

	restored, err := ReadPQEncoder(codec.NewReader(&buf))
	require.NoError(t, err)
	assert.Equal(t, encoder.Dims, restored.Dims)
	assert.Equal(t, encoder.Codebooks, restored.Codebooks)

	a, _ := encoder.Encode(data.Row(3))
	b, _ := restored.Encode(data.Row(3))
	assert.Equal(t, a, b)
}

func TestReadPQEncoder_Truncated(t *testing.T) {
	var buf bytes.Buffer
	w := codec.NewWriter(&buf)
	w.U32(16)
	w.U32(3) // 16 not divisible by 3
	w.U32(4)
	_, err := ReadPQEncoder(codec.NewReader(&buf))
	assert.Error(t, err)

	_, err = ReadPQEncoder(codec.NewReader(bytes.NewReader([]byte{1, 2})))
	assert.Error(t, err)
}
