package pq

import (
	"errors"

	"github.com/23skdu/quiver/internal/simd"
)

// BuildADCTable computes the distance table for Asymmetric Distance Computation (ADC).
//
// table[m*K + k] stores the squared L2 distance between query_subvector[m] and centroid[m][k].
func (e *PQEncoder) BuildADCTable(query []float32) ([]float32, error) {
	table := make([]float32, e.M*e.K)
	if err := e.BuildADCTableInto(table, query); err != nil {
		return nil, err
	}
	return table, nil
}

// BuildADCTableInto fills a caller-provided table of size M*K.
func (e *PQEncoder) BuildADCTableInto(table, query []float32) error {
	if len(query) != e.Dims {
		return errors.New("query dimension mismatch")
	}
	if len(table) != e.M*e.K {
		return errors.New("invalid table size")
	}
	for i := 0; i < e.M; i++ {
		querySub := query[i*e.SubDim : (i+1)*e.SubDim]
		centroids := e.Codebooks[i]
		for j := 0; j < e.K; j++ {
			table[i*e.K+j] = simd.L2Squared(querySub, centroids[j*e.SubDim:(j+1)*e.SubDim])
		}
	}
	return nil
}

// ADCDistanceBatch calculates asymmetric distances for multiple PQ-encoded vectors.
func (e *PQEncoder) ADCDistanceBatch(table []float32, flatCodes []byte, results []float32) error {
	if len(results) == 0 {
		return nil
	}
	if len(flatCodes) < len(results)*e.M {
		return errors.New("flatCodes buffer too small")
	}
	if len(table) != e.M*e.K {
		return errors.New("invalid table size")
	}
	simd.ADCDistanceBatch(table, flatCodes, e.M, results)
	return nil
}

// ADCDistance computes ADC distance for a single code.
func (e *PQEncoder) ADCDistance(table []float32, code []byte) (float32, error) {
	if len(code) != e.M {
		return 0, errors.New("invalid code length")
	}
	var sum float32
	for m := 0; m < e.M; m++ {
		sum += table[m*e.K+int(code[m])]
	}
	return sum, nil
}
