package dataset

import (
	"errors"
	"io"

	"github.com/parquet-go/parquet-go"

	"github.com/23skdu/quiver/internal/core"
	qerrors "github.com/23skdu/quiver/internal/errors"
)

// VectorRecord represents a single row for Parquet serialization
type VectorRecord struct {
	ID     int64     `parquet:"id"`
	Vector []float32 `parquet:"vector"`
}

const parquetBatch = 4096

// ReadParquet decodes VectorRecord rows from a Parquet file.
func ReadParquet(r io.ReaderAt, size int64, maxRows int) (*Dataset, error) {
	pf, err := parquet.OpenFile(r, size)
	if err != nil {
		return nil, qerrors.WrapIOFailure(err, "dataset.ReadParquet", "open parquet file")
	}

	pr := parquet.NewGenericReader[VectorRecord](pf)
	defer pr.Close()

	total := limitRows(int(pr.NumRows()), maxRows)
	ds := &Dataset{IDs: make([]int64, 0, total)}
	var data []float32
	dims := -1

	buf := make([]VectorRecord, parquetBatch)
	for len(ds.IDs) < total {
		want := min(parquetBatch, total-len(ds.IDs))
		n, err := pr.Read(buf[:want])
		for _, row := range buf[:n] {
			if dims < 0 {
				dims = len(row.Vector)
				data = make([]float32, 0, total*dims)
			}
			if len(row.Vector) != dims {
				return nil, qerrors.NewInvalidParameters("dataset.ReadParquet",
					"row %d has %d dims, want %d", len(ds.IDs), len(row.Vector), dims)
			}
			ds.IDs = append(ds.IDs, row.ID)
			data = append(data, row.Vector...)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, qerrors.WrapIOFailure(err, "dataset.ReadParquet", "read rows")
		}
		if n == 0 {
			break
		}
	}
	if dims < 0 {
		dims = 0
		data = []float32{}
	}
	ds.Vectors = core.Matrix{Rows: len(ds.IDs), Dims: dims, Data: data}
	return ds, nil
}

// WriteParquet encodes ds as zstd-compressed Parquet. Missing IDs are written as row numbers.
func WriteParquet(w io.Writer, ds *Dataset) error {
	if err := checkDataset("dataset.WriteParquet", ds); err != nil {
		return err
	}
	pw := parquet.NewGenericWriter[VectorRecord](w, parquet.Compression(&parquet.Zstd))

	rows := make([]VectorRecord, 0, parquetBatch)
	flush := func() error {
		if len(rows) == 0 {
			return nil
		}
		if _, err := pw.Write(rows); err != nil {
			return err
		}
		rows = rows[:0]
		return nil
	}
	for i := 0; i < ds.Vectors.Rows; i++ {
		rows = append(rows, VectorRecord{ID: rowID(ds, i), Vector: ds.Vectors.Row(i)})
		if len(rows) == parquetBatch {
			if err := flush(); err != nil {
				_ = pw.Close()
				return qerrors.WrapIOFailure(err, "dataset.WriteParquet", "write rows")
			}
		}
	}
	if err := flush(); err != nil {
		_ = pw.Close()
		return qerrors.WrapIOFailure(err, "dataset.WriteParquet", "write rows")
	}
	if err := pw.Close(); err != nil {
		return qerrors.WrapIOFailure(err, "dataset.WriteParquet", "close writer")
	}
	return nil
}
