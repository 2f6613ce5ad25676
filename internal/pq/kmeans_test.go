package pq

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clusteredData(rng *rand.Rand, perCluster int, centers [][]float32) []float32 {
	dim := len(centers[0])
	data := make([]float32, 0, perCluster*len(centers)*dim)
	for _, c := range centers {
		for i := 0; i < perCluster; i++ {
			for j := 0; j < dim; j++ {
				data = append(data, c[j]+(rng.Float32()-0.5)*0.1)
			}
		}
	}
	return data
}

func TestTrainKMeans_Basic(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	dim := 16
	centers := make([][]float32, 3)
	for i, v := range []float32{1, -1, 0} {
		centers[i] = make([]float32, dim)
		for j := range centers[i] {
			centers[i][j] = v
		}
	}
	data := clusteredData(rng, 100, centers)

	result, err := TrainKMeans(data, 300, dim, 3, 20, rng)
	require.NoError(t, err)
	require.Len(t, result, 3*dim)

	// Verify centroids are reasonable (close to original cluster centers)
	matchCount := 0
	for i := 0; i < 3; i++ {
		cent := result[i*dim : (i+1)*dim]
		for _, orig := range centers {
			var dist float32
			for j := 0; j < dim; j++ {
				d := cent[j] - orig[j]
				dist += d * d
			}
			if dist < 1.0 {
				matchCount++
				break
			}
		}
	}
	assert.GreaterOrEqual(t, matchCount, 2, "centroids should land on the generated clusters")
}

func TestTrainKMeans_InsufficientData(t *testing.T) {
	rng := rand.New(rand.NewSource(123))
	data := make([]float32, 5*8)
	_, err := TrainKMeans(data, 5, 8, 10, 5, rng)
	assert.ErrorIs(t, err, ErrInsufficientData)

	_, err = TrainKMeans(data, 5, 8, 0, 5, rng)
	assert.Error(t, err)

	_, err = TrainKMeans(data[:7], 5, 8, 2, 5, rng)
	assert.Error(t, err)
}

func TestTrainKMeans_Deterministic(t *testing.T) {
	gen := rand.New(rand.NewSource(1))
	n, dim, k := 500, 8, 12
	data := make([]float32, n*dim)
	for i := range data {
		data[i] = gen.Float32()
	}

	a, err := TrainKMeans(data, n, dim, k, 10, rand.New(rand.NewSource(99)))
	require.NoError(t, err)
	b, err := TrainKMeans(data, n, dim, k, 10, rand.New(rand.NewSource(99)))
	require.NoError(t, err)
	assert.Equal(t, a, b, "same seed must yield identical centroids")
}

func TestTrainKMeans_CentroidsFinite(t *testing.T) {
	rng := rand.New(rand.NewSource(999))
	n, dim, k := 1000, 32, 16
	data := make([]float32, n*dim)
	for i := range data {
		data[i] = rng.Float32()
	}

	result, err := TrainKMeans(data, n, dim, k, 5, rng)
	require.NoError(t, err)
	require.Len(t, result, k*dim)
	for i, v := range result {
		assert.False(t, v != v, "centroid[%d] is NaN", i)
		assert.Less(t, v, float32(1e10))
	}
}

func TestNearestCentroidTiesPickLowest(t *testing.T) {
	centroids := []float32{1, 0, 1, 0, 5, 5}
	idx, d := NearestCentroid([]float32{1, 0}, centroids, 2, func(a, b []float32) float32 {
		var s float32
		for i := range a {
			x := a[i] - b[i]
			s += x * x
		}
		return s
	})
	assert.Equal(t, 0, idx)
	assert.Equal(t, float32(0), d)
}

func TestSampleRows(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	all := SampleRows(10, 1, 0, rng)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, all)

	half := SampleRows(100, 0.5, 0, rng)
	assert.Len(t, half, 50)
	for i := 1; i < len(half); i++ {
		assert.Less(t, half[i-1], half[i])
	}

	// minRows wins over a tiny fraction
	assert.Len(t, SampleRows(100, 0.01, 20, rng), 20)
}

func BenchmarkTrainKMeans(b *testing.B) {
	rng := rand.New(rand.NewSource(42))
	n, dim, k := 10000, 128, 64
	data := make([]float32, n*dim)
	for i := range data {
		data[i] = rng.Float32()
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = TrainKMeans(data, n, dim, k, 10, rand.New(rand.NewSource(int64(i))))
	}
}
