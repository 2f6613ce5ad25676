package pq

import (
	"errors"
	"io"

	"github.com/23skdu/quiver/internal/codec"
)

// WriteTo serializes the encoder.
// Layout: Dims, M, K as uint32 followed by M length-prefixed float32 codebooks.
func (e *PQEncoder) WriteTo(w io.Writer) (int64, error) {
	bw := codec.NewWriter(w)
	bw.U32(uint32(e.Dims))
	bw.U32(uint32(e.M))
	bw.U32(uint32(e.K))
	for _, cb := range e.Codebooks {
		bw.F32s(cb)
	}
	return bw.Len(), bw.Err()
}

// ReadPQEncoder reconstructs an encoder written by WriteTo.
func ReadPQEncoder(r *codec.Reader) (*PQEncoder, error) {
	dims := int(r.U32())
	m := int(r.U32())
	k := int(r.U32())
	if err := r.Err(); err != nil {
		return nil, err
	}
	if m == 0 || dims%m != 0 {
		return nil, errors.New("invalid PQ parameters in serialized data")
	}
	e, err := NewPQEncoder(dims, m, k)
	if err != nil {
		return nil, err
	}
	for i := 0; i < m; i++ {
		cb := r.F32s()
		if r.Err() != nil {
			return nil, r.Err()
		}
		if len(cb) != k*e.SubDim {
			return nil, errors.New("invalid PQ data: codebook size mismatch")
		}
		e.Codebooks[i] = cb
	}
	return e, nil
}
