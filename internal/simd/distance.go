// Package simd provides the vector distance kernels used by every backend.
// Kernels delegate to vek32, which selects AVX2/NEON implementations at runtime.
package simd

import (
	"sync"

	"github.com/23skdu/quiver/internal/core"
	"github.com/viterin/vek/vek32"
)

// DistanceFunc returns the distance between two equal-length vectors; lower is closer.
type DistanceFunc func(a, b []float32) float32

var scratchPool = sync.Pool{
	New: func() any {
		buf := make([]float32, 0, 256)
		return &buf
	},
}

// L2Squared calculates the squared Euclidean distance between two vectors.
// Callers guarantee len(a) == len(b).
func L2Squared(a, b []float32) float32 {
	if len(a) == 0 {
		return 0
	}
	bp := scratchPool.Get().(*[]float32)
	buf := *bp
	if cap(buf) < len(a) {
		buf = make([]float32, len(a))
	}
	buf = buf[:len(a)]
	vek32.Sub_Into(buf, a, b)
	d := vek32.Dot(buf, buf)
	*bp = buf
	scratchPool.Put(bp)
	return d
}

// DotProduct calculates the dot product of two vectors.
func DotProduct(a, b []float32) float32 {
	if len(a) == 0 {
		return 0
	}
	return vek32.Dot(a, b)
}

// NegativeDotProduct turns inner product into a distance.
func NegativeDotProduct(a, b []float32) float32 {
	return -DotProduct(a, b)
}

// CosineDistance calculates the cosine distance (1 - similarity) between two vectors.
// Zero vectors are maximally distant.
func CosineDistance(a, b []float32) float32 {
	if len(a) == 0 {
		return 1
	}
	na := vek32.Norm(a)
	nb := vek32.Norm(b)
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - vek32.Dot(a, b)/(na*nb)
}

// ForMetric returns the kernel for a metric. Unknown metrics fall back to squared L2.
func ForMetric(m core.DistanceMetric) DistanceFunc {
	switch m {
	case core.MetricCosine:
		return CosineDistance
	case core.MetricDotProduct:
		return NegativeDotProduct
	default:
		return L2Squared
	}
}

// DistanceBatchFlat computes the distance from query to each row of a flat row-major block.
// results must have room for len(flat)/dims entries.
func DistanceBatchFlat(fn DistanceFunc, query, flat []float32, dims int, results []float32) {
	n := len(flat) / dims
	for i := 0; i < n; i++ {
		results[i] = fn(query, flat[i*dims:(i+1)*dims])
	}
}

// ADCDistanceBatch sums per-subspace table entries for each PQ code.
// table is m*k entries laid out subspace-major; flatCodes holds len(results)*m bytes.
func ADCDistanceBatch(table []float32, flatCodes []byte, m int, results []float32) {
	k := len(table) / m
	for i := range results {
		code := flatCodes[i*m : (i+1)*m]
		var sum float32
		for j, c := range code {
			sum += table[j*k+int(c)]
		}
		results[i] = sum
	}
}
