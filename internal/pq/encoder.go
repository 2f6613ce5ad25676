package pq

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/23skdu/quiver/internal/core"
	"github.com/23skdu/quiver/internal/simd"
)

// MaxCentroids is the largest codebook a one-byte code can address.
const MaxCentroids = 256

// PQEncoder implements Product Quantization.
type PQEncoder struct {
	Dims      int         // Total vector dimensions
	M         int         // Number of subvectors (subspaces)
	K         int         // Number of centroids per subspace
	SubDim    int         // Dimension of each subvector
	Codebooks [][]float32 // M codebooks, each K * SubDim
}

// NewPQEncoder creates a new PQ encoder.
func NewPQEncoder(dims, m, k int) (*PQEncoder, error) {
	if m <= 0 || dims <= 0 {
		return nil, errors.New("dimension and M must be positive")
	}
	if dims%m != 0 {
		return nil, errors.New("dimension must be divisible by M")
	}
	if k <= 0 || k > MaxCentroids {
		return nil, fmt.Errorf("K must be in [1, %d], got %d", MaxCentroids, k)
	}
	e := &PQEncoder{
		Dims:      dims,
		M:         m,
		K:         k,
		SubDim:    dims / m,
		Codebooks: make([][]float32, m),
	}
	for i := 0; i < m; i++ {
		e.Codebooks[i] = make([]float32, k*(dims/m))
	}
	return e, nil
}

// Train fits one K-Means codebook per subspace on the rows of data.
func (e *PQEncoder) Train(data core.Matrix, maxIter int, rng *rand.Rand) error {
	if data.Rows == 0 {
		return errors.New("empty training data")
	}
	if data.Dims != e.Dims {
		return errors.New("training data dimension mismatch")
	}

	n := data.Rows
	flatSubData := make([]float32, n*e.SubDim)

	for m := 0; m < e.M; m++ {
		for i := 0; i < n; i++ {
			src := data.Row(i)[m*e.SubDim : (m+1)*e.SubDim]
			copy(flatSubData[i*e.SubDim:(i+1)*e.SubDim], src)
		}

		centroids, err := TrainKMeans(flatSubData, n, e.SubDim, e.K, maxIter, rng)
		if err != nil {
			return fmt.Errorf("subspace %d: %w", m, err)
		}
		e.Codebooks[m] = centroids
	}

	return nil
}

// EncodeInto writes the M-byte code for vector into dst.
func (e *PQEncoder) EncodeInto(dst []byte, vector []float32) error {
	if len(vector) != e.Dims {
		return errors.New("vector dimension mismatch")
	}
	if len(dst) < e.M {
		return errors.New("code buffer too small")
	}
	for m := 0; m < e.M; m++ {
		subVec := vector[m*e.SubDim : (m+1)*e.SubDim]
		best, _ := NearestCentroid(subVec, e.Codebooks[m], e.SubDim, simd.L2Squared)
		dst[m] = byte(best)
	}
	return nil
}

// Encode compresses a vector into M bytes (indices).
func (e *PQEncoder) Encode(vector []float32) ([]byte, error) {
	codes := make([]byte, e.M)
	if err := e.EncodeInto(codes, vector); err != nil {
		return nil, err
	}
	return codes, nil
}

// DecodeInto reconstructs the approximated vector from codes into dst.
func (e *PQEncoder) DecodeInto(dst []float32, codes []byte) error {
	if len(codes) != e.M {
		return errors.New("code length mismatch")
	}
	if len(dst) < e.Dims {
		return errors.New("decode buffer too small")
	}
	for m := 0; m < e.M; m++ {
		c := int(codes[m])
		copy(dst[m*e.SubDim:], e.Codebooks[m][c*e.SubDim:(c+1)*e.SubDim])
	}
	return nil
}

// Decode reconstructs the approximated vector from the codes.
func (e *PQEncoder) Decode(codes []byte) ([]float32, error) {
	vec := make([]float32, e.Dims)
	if err := e.DecodeInto(vec, codes); err != nil {
		return nil, err
	}
	return vec, nil
}

// CodeSize returns the number of bytes for an encoded vector.
func (e *PQEncoder) CodeSize() int {
	return e.M
}
