package dataset

import (
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/quiver/internal/core"
	qerrors "github.com/23skdu/quiver/internal/errors"
)

const (
	idColumn     = "id"
	vectorColumn = "vector"
)

// Schema returns the Arrow schema written by WriteArrow for the given dimensionality.
func Schema(dims int) *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: idColumn, Type: arrow.PrimitiveTypes.Int64},
		{Name: vectorColumn, Type: arrow.FixedSizeListOf(int32(dims), arrow.PrimitiveTypes.Float32)},
	}, nil)
}

// ReadArrow decodes an Arrow IPC stream. The vector column is the one named "vector",
// falling back to the first FixedSizeList column.
func ReadArrow(r io.Reader, maxRows int) (*Dataset, error) {
	rdr, err := ipc.NewReader(r, ipc.WithAllocator(memory.NewGoAllocator()))
	if err != nil {
		return nil, qerrors.WrapIOFailure(err, "dataset.ReadArrow", "open ipc stream")
	}
	defer rdr.Release()

	vecIdx, idIdx, dims, err := locateColumns(rdr.Schema())
	if err != nil {
		return nil, err
	}

	var data []float32
	var ids []int64
	rows := 0
	for rdr.Next() && (maxRows <= 0 || rows < maxRows) {
		rec := rdr.Record()
		n := int(rec.NumRows())
		if maxRows > 0 {
			n = limitRows(n, maxRows-rows)
		}
		vecs, err := appendVectors(data, rec.Column(vecIdx), dims, n)
		if err != nil {
			return nil, err
		}
		data = vecs
		if idIdx >= 0 {
			if ids, err = appendIDs(ids, rec.Column(idIdx), n); err != nil {
				return nil, err
			}
		}
		rows += n
	}
	if err := rdr.Err(); err != nil && err != io.EOF {
		return nil, qerrors.WrapIOFailure(err, "dataset.ReadArrow", "read record batch")
	}
	if data == nil {
		data = []float32{}
	}
	return &Dataset{Vectors: core.Matrix{Rows: rows, Dims: dims, Data: data}, IDs: ids}, nil
}

func locateColumns(schema *arrow.Schema) (vecIdx, idIdx, dims int, err error) {
	vecIdx, idIdx = -1, -1
	for i, f := range schema.Fields() {
		switch {
		case f.Name == idColumn:
			idIdx = i
		case f.Name == vectorColumn:
			vecIdx = i
		case vecIdx < 0 && f.Type.ID() == arrow.FIXED_SIZE_LIST:
			vecIdx = i
		}
	}
	if vecIdx < 0 {
		return 0, 0, 0, qerrors.NewInvalidParameters("dataset.ReadArrow", "no vector column in schema %s", schema)
	}
	fsl, ok := schema.Field(vecIdx).Type.(*arrow.FixedSizeListType)
	if !ok {
		return 0, 0, 0, qerrors.NewInvalidParameters("dataset.ReadArrow", "vector column has type %s, want fixed_size_list", schema.Field(vecIdx).Type)
	}
	return vecIdx, idIdx, int(fsl.Len()), nil
}

func appendVectors(dst []float32, col arrow.Array, dims, n int) ([]float32, error) {
	fsl, ok := col.(*array.FixedSizeList)
	if !ok {
		return nil, qerrors.NewInvalidParameters("dataset.ReadArrow", "vector column is %T", col)
	}
	base := fsl.Offset() * dims
	switch values := fsl.ListValues().(type) {
	case *array.Float32:
		raw := values.Float32Values()
		for i := 0; i < n; i++ {
			if fsl.IsNull(i) {
				return nil, qerrors.NewInvalidParameters("dataset.ReadArrow", "null vector at row %d", i)
			}
			start := base + i*dims
			dst = append(dst, raw[start:start+dims]...)
		}
	case *array.Float16:
		raw := values.Values()
		for i := 0; i < n; i++ {
			if fsl.IsNull(i) {
				return nil, qerrors.NewInvalidParameters("dataset.ReadArrow", "null vector at row %d", i)
			}
			start := base + i*dims
			for _, v := range raw[start : start+dims] {
				dst = append(dst, v.Float32())
			}
		}
	case *array.Float64:
		raw := values.Float64Values()
		for i := 0; i < n; i++ {
			if fsl.IsNull(i) {
				return nil, qerrors.NewInvalidParameters("dataset.ReadArrow", "null vector at row %d", i)
			}
			start := base + i*dims
			for _, v := range raw[start : start+dims] {
				dst = append(dst, float32(v))
			}
		}
	default:
		return nil, qerrors.NewInvalidParameters("dataset.ReadArrow", "unsupported vector element type %s", values.DataType())
	}
	return dst, nil
}

func appendIDs(dst []int64, col arrow.Array, n int) ([]int64, error) {
	switch ids := col.(type) {
	case *array.Int64:
		dst = append(dst, ids.Int64Values()[:n]...)
	case *array.Int32:
		for _, v := range ids.Int32Values()[:n] {
			dst = append(dst, int64(v))
		}
	case *array.Uint32:
		for _, v := range ids.Uint32Values()[:n] {
			dst = append(dst, int64(v))
		}
	default:
		return nil, qerrors.NewInvalidParameters("dataset.ReadArrow", "unsupported id column type %s", col.DataType())
	}
	return dst, nil
}

// WriteArrow encodes ds as a single-batch Arrow IPC stream. Missing IDs are written as row numbers.
func WriteArrow(w io.Writer, ds *Dataset) error {
	if err := checkDataset("dataset.WriteArrow", ds); err != nil {
		return err
	}
	mem := memory.NewGoAllocator()
	schema := Schema(ds.Vectors.Dims)

	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()

	idBuilder := b.Field(0).(*array.Int64Builder)
	vecBuilder := b.Field(1).(*array.FixedSizeListBuilder)
	valBuilder := vecBuilder.ValueBuilder().(*array.Float32Builder)
	for i := 0; i < ds.Vectors.Rows; i++ {
		idBuilder.Append(rowID(ds, i))
		vecBuilder.Append(true)
		valBuilder.AppendValues(ds.Vectors.Row(i), nil)
	}
	rec := b.NewRecord()
	defer rec.Release()

	writer := ipc.NewWriter(w, ipc.WithSchema(schema), ipc.WithAllocator(mem))
	if err := writer.Write(rec); err != nil {
		_ = writer.Close()
		return qerrors.WrapIOFailure(err, "dataset.WriteArrow", "write record batch")
	}
	if err := writer.Close(); err != nil {
		return qerrors.WrapIOFailure(err, "dataset.WriteArrow", "close ipc stream")
	}
	return nil
}

func rowID(ds *Dataset, i int) int64 {
	if ds.IDs != nil {
		return ds.IDs[i]
	}
	return int64(i)
}

func checkDataset(op string, ds *Dataset) error {
	if ds == nil {
		return qerrors.NewInvalidParameters(op, "nil dataset")
	}
	if err := ds.Vectors.Validate(); err != nil {
		return qerrors.WrapInvalidParameters(err, op, "invalid vectors")
	}
	if ds.IDs != nil && len(ds.IDs) != ds.Vectors.Rows {
		return qerrors.NewInvalidParameters(op, "%d ids for %d rows", len(ds.IDs), ds.Vectors.Rows)
	}
	return nil
}
