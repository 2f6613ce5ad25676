// Package dataset loads vector datasets for the benchmark driver.
//
// Three on-disk formats are understood:
//
//   - fbin: little-endian uint32 rows, uint32 dims, then rows*dims float32 values
//   - Arrow IPC stream with a FixedSizeList<float32> "vector" column and optional int64 "id"
//   - Parquet with a repeated float "vector" column and optional int64 "id"
package dataset

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/23skdu/quiver/internal/core"
	qerrors "github.com/23skdu/quiver/internal/errors"
	"github.com/23skdu/quiver/internal/metrics"
)

// Format identifies an on-disk dataset encoding.
type Format string

const (
	FormatFBin    Format = "fbin"
	FormatArrow   Format = "arrow"
	FormatParquet Format = "parquet"
)

// Dataset is a loaded set of vectors. IDs is nil when the file carries none.
type Dataset struct {
	Vectors core.Matrix
	IDs     []int64
}

// DetectFormat infers the format from a file extension.
func DetectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".fbin":
		return FormatFBin, nil
	case ".arrow", ".arrows", ".ipc":
		return FormatArrow, nil
	case ".parquet":
		return FormatParquet, nil
	default:
		return "", qerrors.NewInvalidParameters("dataset.DetectFormat", "unrecognized dataset extension %q", filepath.Ext(path))
	}
}

// Options limits how much of a file is read.
type Options struct {
	// MaxRows caps the number of rows returned; 0 reads everything.
	MaxRows int
}

// Load reads the dataset at path, choosing the decoder by extension.
func Load(path string, opts Options) (*Dataset, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, qerrors.WrapIOFailure(err, "dataset.Load", "open dataset").WithContext("path", path)
	}
	defer f.Close()

	var ds *Dataset
	switch format {
	case FormatFBin:
		var m core.Matrix
		m, err = ReadFBin(f, opts.MaxRows)
		ds = &Dataset{Vectors: m}
	case FormatArrow:
		ds, err = ReadArrow(f, opts.MaxRows)
	case FormatParquet:
		var st os.FileInfo
		if st, err = f.Stat(); err == nil {
			ds, err = ReadParquet(f, st.Size(), opts.MaxRows)
		}
	}
	if err != nil {
		if qerrors.TypeOf(err) == "" {
			err = qerrors.WrapIOFailure(err, "dataset.Load", "decode dataset")
		}
		return nil, err
	}
	metrics.DatasetRowsLoaded.WithLabelValues(string(format)).Add(float64(ds.Vectors.Rows))
	return ds, nil
}

func limitRows(rows, maxRows int) int {
	if maxRows > 0 && maxRows < rows {
		return maxRows
	}
	return rows
}
