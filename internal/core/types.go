package core

import "fmt"

// Matrix is a dense row-major matrix of float32 vectors.
type Matrix struct {
	Rows int
	Dims int
	Data []float32
}

// NewMatrix allocates a zeroed rows x dims matrix.
func NewMatrix(rows, dims int) Matrix {
	return Matrix{Rows: rows, Dims: dims, Data: make([]float32, rows*dims)}
}

// MatrixFromRows copies a slice of equal-length vectors into a Matrix.
func MatrixFromRows(rows [][]float32) (Matrix, error) {
	if len(rows) == 0 {
		return Matrix{}, nil
	}
	dims := len(rows[0])
	m := NewMatrix(len(rows), dims)
	for i, r := range rows {
		if len(r) != dims {
			return Matrix{}, fmt.Errorf("row %d has %d dims, want %d", i, len(r), dims)
		}
		copy(m.Data[i*dims:], r)
	}
	return m, nil
}

// Row returns a view of row i.
func (m Matrix) Row(i int) []float32 {
	return m.Data[i*m.Dims : (i+1)*m.Dims]
}

// Slice returns a view over rows [start, end).
func (m Matrix) Slice(start, end int) Matrix {
	return Matrix{Rows: end - start, Dims: m.Dims, Data: m.Data[start*m.Dims : end*m.Dims]}
}

// Validate checks that the backing slice matches the declared shape.
func (m Matrix) Validate() error {
	if m.Rows < 0 || m.Dims < 0 {
		return fmt.Errorf("negative matrix shape %dx%d", m.Rows, m.Dims)
	}
	if len(m.Data) != m.Rows*m.Dims {
		return fmt.Errorf("matrix data length %d does not match shape %dx%d", len(m.Data), m.Rows, m.Dims)
	}
	return nil
}

// Neighbor is one search hit.
type Neighbor struct {
	ID       int64
	Distance float32
}

// Less orders neighbors by distance, then by identifier.
func (n Neighbor) Less(o Neighbor) bool {
	if n.Distance != o.Distance {
		return n.Distance < o.Distance
	}
	return n.ID < o.ID
}

// Range is a half-open row range [Start, End).
type Range struct {
	Start int
	End   int
}

// Len returns the number of rows in the range.
func (r Range) Len() int {
	return r.End - r.Start
}
