package pq

import (
	"errors"
	"math"
	"math/rand"
	"slices"
	"sync"

	"github.com/23skdu/quiver/internal/simd"
)

// Buffer pool for K-Means training to reduce allocations
var kmeansBufferPool = sync.Pool{
	New: func() any {
		return &kmeansBuffers{}
	},
}

// kmeansBuffers holds reusable buffers for K-Means training
type kmeansBuffers struct {
	assignments []int
	counts      []int
	sums        []float32
}

func getKMeansBuffers(n, k, dim int) *kmeansBuffers {
	buf := kmeansBufferPool.Get().(*kmeansBuffers)

	if cap(buf.assignments) < n {
		buf.assignments = make([]int, n)
	}
	buf.assignments = buf.assignments[:n]
	for i := range buf.assignments {
		buf.assignments[i] = -1
	}

	if cap(buf.counts) < k {
		buf.counts = make([]int, k)
	}
	buf.counts = buf.counts[:k]

	if cap(buf.sums) < k*dim {
		buf.sums = make([]float32, k*dim)
	}
	buf.sums = buf.sums[:k*dim]

	return buf
}

func putKMeansBuffers(buf *kmeansBuffers) {
	kmeansBufferPool.Put(buf)
}

// ErrInsufficientData is returned when there are fewer training rows than centroids.
var ErrInsufficientData = errors.New("insufficient data for k-means: n < k")

// TrainKMeans runs Lloyd's K-Means on flattened data (n * dim) and returns k*dim centroids.
// All randomness comes from rng, so a fixed seed yields identical centroids.
func TrainKMeans(data []float32, n, dim, k, maxIter int, rng *rand.Rand) ([]float32, error) {
	if k <= 0 {
		return nil, errors.New("k-means: k must be positive")
	}
	if n < k {
		return nil, ErrInsufficientData
	}
	if len(data) != n*dim {
		return nil, errors.New("data length mismatch")
	}
	if maxIter <= 0 {
		maxIter = 20
	}

	centroids := make([]float32, k*dim)

	// Initialization: distinct random rows
	perm := rng.Perm(n)
	for i := 0; i < k; i++ {
		idx := perm[i]
		copy(centroids[i*dim:(i+1)*dim], data[idx*dim:(idx+1)*dim])
	}

	buf := getKMeansBuffers(n, k, dim)
	defer putKMeansBuffers(buf)

	assignments := buf.assignments
	counts := buf.counts
	sums := buf.sums

	for iter := 0; iter < maxIter; iter++ {
		clear(sums)
		clear(counts)

		changed := 0

		// E-step: Assign vectors to nearest centroid
		for i := 0; i < n; i++ {
			vec := data[i*dim : (i+1)*dim]
			bestC, _ := NearestCentroid(vec, centroids, dim, simd.L2Squared)

			if assignments[i] != bestC {
				changed++
				assignments[i] = bestC
			}

			counts[bestC]++
			centSum := sums[bestC*dim : (bestC+1)*dim]
			for j := 0; j < dim; j++ {
				centSum[j] += vec[j]
			}
		}

		// M-step: Update centroids
		for c := 0; c < k; c++ {
			count := float32(counts[c])
			if count > 0 {
				cent := centroids[c*dim : (c+1)*dim]
				sum := sums[c*dim : (c+1)*dim]
				for j := 0; j < dim; j++ {
					cent[j] = sum[j] / count
				}
			} else {
				// Re-initialize empty cluster with a random vector from data
				idx := rng.Intn(n)
				copy(centroids[c*dim:(c+1)*dim], data[idx*dim:(idx+1)*dim])
			}
		}

		// Early stop if few assignments changed (e.g. < 0.1%)
		if iter > 0 && changed < (n/1000)+1 {
			break
		}
	}

	return centroids, nil
}

// NearestCentroid returns the index of, and distance to, the closest centroid.
// Ties resolve to the lowest centroid index.
func NearestCentroid(vec, centroids []float32, dim int, dist simd.DistanceFunc) (int, float32) {
	k := len(centroids) / dim
	best := 0
	bestDist := float32(math.MaxFloat32)
	for c := 0; c < k; c++ {
		d := dist(vec, centroids[c*dim:(c+1)*dim])
		if d < bestDist {
			bestDist = d
			best = c
		}
	}
	return best, bestDist
}

// SampleRows picks a deterministic subset of row indices of size ceil(n*fraction),
// never fewer than minRows (capped at n). The returned indices are sorted.
func SampleRows(n int, fraction float64, minRows int, rng *rand.Rand) []int {
	if fraction <= 0 || fraction > 1 {
		fraction = 1
	}
	want := int(math.Ceil(float64(n) * fraction))
	if want < minRows {
		want = minRows
	}
	if want >= n {
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		return out
	}
	perm := rng.Perm(n)[:want]
	slices.Sort(perm)
	return perm
}
