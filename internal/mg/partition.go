package mg

import (
	"github.com/23skdu/quiver/internal/core"
	qerrors "github.com/23skdu/quiver/internal/errors"
)

// Partition splits rows into n contiguous ranges of rows/n, the last absorbing the
// remainder. When rows < n the leading ranges are empty.
func Partition(rows, n int) ([]core.Range, error) {
	if n <= 0 {
		return nil, qerrors.NewInvalidParameters("mg.Partition", "participant count must be positive, got %d", n)
	}
	if rows < 0 {
		return nil, qerrors.NewInvalidParameters("mg.Partition", "row count must not be negative, got %d", rows)
	}
	base := rows / n
	out := make([]core.Range, n)
	for i := range out {
		out[i] = core.Range{Start: i * base, End: (i + 1) * base}
	}
	out[n-1].End = rows
	return out, nil
}
