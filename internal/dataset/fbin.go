package dataset

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/23skdu/quiver/internal/core"
	qerrors "github.com/23skdu/quiver/internal/errors"
)

type binHeader struct {
	Rows uint32
	Dims uint32
}

func readBinHeader(r io.Reader, op string) (binHeader, error) {
	var h binHeader
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return h, qerrors.WrapIOFailure(err, op, "read header")
	}
	if h.Dims == 0 && h.Rows > 0 {
		return h, qerrors.NewInvalidParameters(op, "zero dims with %d rows", h.Rows)
	}
	return h, nil
}

// ReadFBin decodes an fbin stream, keeping at most maxRows rows (0 keeps all).
func ReadFBin(r io.Reader, maxRows int) (core.Matrix, error) {
	br := bufio.NewReaderSize(r, 1<<20)
	h, err := readBinHeader(br, "dataset.ReadFBin")
	if err != nil {
		return core.Matrix{}, err
	}
	m := core.NewMatrix(limitRows(int(h.Rows), maxRows), int(h.Dims))
	if err := binary.Read(br, binary.LittleEndian, m.Data); err != nil {
		return core.Matrix{}, qerrors.WrapIOFailure(err, "dataset.ReadFBin", "read vectors").
			WithContext("rows", m.Rows).WithContext("dims", m.Dims)
	}
	return m, nil
}

// WriteFBin encodes m as fbin.
func WriteFBin(w io.Writer, m core.Matrix) error {
	if err := m.Validate(); err != nil {
		return qerrors.WrapInvalidParameters(err, "dataset.WriteFBin", "invalid matrix")
	}
	bw := bufio.NewWriter(w)
	h := binHeader{Rows: uint32(m.Rows), Dims: uint32(m.Dims)}
	if err := binary.Write(bw, binary.LittleEndian, h); err != nil {
		return qerrors.WrapIOFailure(err, "dataset.WriteFBin", "write header")
	}
	if err := binary.Write(bw, binary.LittleEndian, m.Data); err != nil {
		return qerrors.WrapIOFailure(err, "dataset.WriteFBin", "write vectors")
	}
	if err := bw.Flush(); err != nil {
		return qerrors.WrapIOFailure(err, "dataset.WriteFBin", "flush")
	}
	return nil
}

// ReadGroundTruth decodes an ibin neighbor file: uint32 rows, uint32 k, then rows*k int32 ids.
func ReadGroundTruth(r io.Reader, maxRows int) ([][]int64, error) {
	br := bufio.NewReaderSize(r, 1<<20)
	h, err := readBinHeader(br, "dataset.ReadGroundTruth")
	if err != nil {
		return nil, err
	}
	rows := limitRows(int(h.Rows), maxRows)
	flat := make([]int32, rows*int(h.Dims))
	if err := binary.Read(br, binary.LittleEndian, flat); err != nil {
		return nil, qerrors.WrapIOFailure(err, "dataset.ReadGroundTruth", "read ids")
	}
	out := make([][]int64, rows)
	k := int(h.Dims)
	for i := range out {
		out[i] = make([]int64, k)
		for j := 0; j < k; j++ {
			out[i][j] = int64(flat[i*k+j])
		}
	}
	return out, nil
}

// WriteGroundTruth encodes neighbor ids as ibin. Every row must have the same length.
func WriteGroundTruth(w io.Writer, ids [][]int64) error {
	k := 0
	if len(ids) > 0 {
		k = len(ids[0])
	}
	flat := make([]int32, 0, len(ids)*k)
	for i, row := range ids {
		if len(row) != k {
			return qerrors.NewInvalidParameters("dataset.WriteGroundTruth", "row %d has %d ids, want %d", i, len(row), k)
		}
		for _, id := range row {
			flat = append(flat, int32(id))
		}
	}
	bw := bufio.NewWriter(w)
	if err := binary.Write(bw, binary.LittleEndian, binHeader{Rows: uint32(len(ids)), Dims: uint32(k)}); err != nil {
		return qerrors.WrapIOFailure(err, "dataset.WriteGroundTruth", "write header")
	}
	if err := binary.Write(bw, binary.LittleEndian, flat); err != nil {
		return qerrors.WrapIOFailure(err, "dataset.WriteGroundTruth", "write ids")
	}
	if err := bw.Flush(); err != nil {
		return qerrors.WrapIOFailure(err, "dataset.WriteGroundTruth", "flush")
	}
	return nil
}
