// Package ann is the index facade: one build/extend/search/serialize/size contract over
// every backend kind. The kind is fixed when the facade is constructed and every call
// re-checks the tag of the parameters it is given.
package ann

import (
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/rs/zerolog"

	"github.com/23skdu/quiver/internal/codec"
	"github.com/23skdu/quiver/internal/core"
	qerrors "github.com/23skdu/quiver/internal/errors"
	"github.com/23skdu/quiver/internal/metrics"
	"github.com/23skdu/quiver/internal/resources"
)

// Index is a facade over exactly one backend index. Operations on one Index are sequential.
type Index struct {
	mu          sync.Mutex
	kind        core.Kind
	dims        int
	impl        backend
	ids         *roaring64.Bitmap
	compression codec.Compression
	logger      zerolog.Logger
}

// Option configures an Index.
type Option func(*Index)

// WithCompression sets the payload compression used by Serialize.
func WithCompression(c codec.Compression) Option {
	return func(idx *Index) { idx.compression = c }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(idx *Index) { idx.logger = l }
}

// New creates an empty facade whose kind is taken from params.
func New(params IndexParams, dims int, opts ...Option) (*Index, error) {
	kind := kindOf(params)
	if !kind.Valid() {
		return nil, qerrors.NewInvalidParameters("ann.New", "parameters %T carry no backend kind", params)
	}
	return newIndex(kind, dims, opts...)
}

func newIndex(kind core.Kind, dims int, opts ...Option) (*Index, error) {
	if dims <= 0 {
		return nil, qerrors.NewInvalidParameters("ann.New", "dims must be positive, got %d", dims)
	}
	idx := &Index{
		kind:   kind,
		dims:   dims,
		ids:    roaring64.New(),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	idx.logger = idx.logger.With().Str("kind", kind.String()).Logger()
	return idx, nil
}

// Kind returns the backend kind fixed at construction.
func (idx *Index) Kind() core.Kind { return idx.kind }

// Dims returns the vector dimensionality.
func (idx *Index) Dims() int { return idx.dims }

// Built reports whether a backend index is present.
func (idx *Index) Built() bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.impl != nil
}

// Build replaces any existing backend index with one built from dataset.
// Rows are identified 0..rows-1.
func (idx *Index) Build(res *resources.Handle, params IndexParams, dataset core.Matrix) error {
	return idx.BuildWithIDs(res, params, dataset, nil)
}

// BuildWithIDs is Build with explicit identifiers, which must be distinct and non-negative.
func (idx *Index) BuildWithIDs(res *resources.Handle, params IndexParams, dataset core.Matrix, ids []int64) (err error) {
	const op = "ann.Build"
	defer idx.observe("build", time.Now(), &err)

	if k := kindOf(params); k != idx.kind {
		return qerrors.NewInvalidParameters(op, "parameters tagged %s, index is %s", k, idx.kind)
	}
	if err := idx.checkMatrix(op, dataset); err != nil {
		return err
	}
	set := roaring64.New()
	if ids != nil {
		if len(ids) != dataset.Rows {
			return qerrors.NewInvalidParameters(op, "got %d ids for %d rows", len(ids), dataset.Rows)
		}
		if err := addDistinct(op, set, nil, ids); err != nil {
			return err
		}
	} else {
		set.AddRange(0, uint64(dataset.Rows))
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	var built backend
	if err := res.Run(func() error {
		var berr error
		built, berr = buildBackend(res, params, dataset, ids)
		return berr
	}); err != nil {
		return err
	}
	idx.impl = built
	idx.ids = set
	metrics.IndexVectors.WithLabelValues(idx.kind.String()).Set(float64(built.size()))
	idx.logger.Debug().Int("rows", dataset.Rows).Int("dims", dataset.Dims).Msg("index built")
	return nil
}

// Extend appends vectors. When ids is nil they continue from the largest existing id.
func (idx *Index) Extend(res *resources.Handle, vectors core.Matrix, ids []int64) (err error) {
	const op = "ann.Extend"
	defer idx.observe("extend", time.Now(), &err)

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.impl == nil {
		return qerrors.NewNotBuilt(op)
	}
	if !idx.kind.SupportsExtend() {
		return errExtendUnsupported()
	}
	if err := idx.checkMatrix(op, vectors); err != nil {
		return err
	}

	set := idx.ids.Clone()
	if ids == nil {
		start := uint64(0)
		if !idx.ids.IsEmpty() {
			start = idx.ids.Maximum() + 1
		}
		ids = make([]int64, vectors.Rows)
		for i := range ids {
			ids[i] = int64(start) + int64(i)
		}
		set.AddRange(start, start+uint64(vectors.Rows))
	} else {
		if len(ids) != vectors.Rows {
			return qerrors.NewInvalidParameters(op, "got %d ids for %d rows", len(ids), vectors.Rows)
		}
		if err := addDistinct(op, set, idx.ids, ids); err != nil {
			return err
		}
	}

	var next backend
	if err := res.Run(func() error {
		var eerr error
		next, eerr = idx.impl.extend(res, vectors, ids)
		return eerr
	}); err != nil {
		return err
	}
	idx.impl = next
	idx.ids = set
	metrics.IndexVectors.WithLabelValues(idx.kind.String()).Set(float64(next.size()))
	idx.logger.Debug().Int("rows", vectors.Rows).Int64("size", next.size()).Msg("index extended")
	return nil
}

// Search returns up to k neighbors per query row, nearest first. When k exceeds the
// index size every stored vector reachable by the search is returned.
func (idx *Index) Search(res *resources.Handle, params SearchParams, queries core.Matrix, k int) (out [][]core.Neighbor, err error) {
	defer idx.observe("search", time.Now(), &err)

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if err := idx.validateSearch(params, queries, k); err != nil {
		return nil, err
	}
	if err := res.Run(func() error {
		var serr error
		out, serr = idx.impl.search(res, params, queries, k)
		return serr
	}); err != nil {
		return nil, err
	}
	metrics.SearchQueriesTotal.WithLabelValues(idx.kind.String()).Add(float64(queries.Rows))
	return out, nil
}

// ValidateSearch runs every check Search performs before issuing work, so a caller
// coordinating several indexes can reject bad parameters up front.
func (idx *Index) ValidateSearch(params SearchParams, queries core.Matrix, k int) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.validateSearch(params, queries, k)
}

func (idx *Index) validateSearch(params SearchParams, queries core.Matrix, k int) error {
	const op = "ann.Search"
	if idx.impl == nil {
		return qerrors.NewNotBuilt(op)
	}
	if pk := kindOf(params); pk != idx.kind {
		return errParamMismatch(op, idx.kind, params)
	}
	if err := queries.Validate(); err != nil {
		return qerrors.WrapInvalidParameters(err, op, "invalid queries")
	}
	if queries.Dims != idx.dims {
		return qerrors.NewInvalidParameters(op, "query dims %d, index dims %d", queries.Dims, idx.dims)
	}
	if k <= 0 {
		return qerrors.NewInvalidParameters(op, "k must be positive, got %d", k)
	}
	return idx.impl.checkSearch(params)
}

// Size returns the number of stored vectors.
func (idx *Index) Size() (int64, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.impl == nil {
		return 0, qerrors.NewNotBuilt("ann.Size")
	}
	return idx.impl.size(), nil
}

// Contains reports whether id is stored.
func (idx *Index) Contains(id int64) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return id >= 0 && idx.ids.Contains(uint64(id))
}

func (idx *Index) checkMatrix(op string, m core.Matrix) error {
	if err := m.Validate(); err != nil {
		return qerrors.WrapInvalidParameters(err, op, "invalid matrix")
	}
	if m.Rows == 0 {
		return qerrors.NewInvalidParameters(op, "matrix has no rows")
	}
	if m.Dims != idx.dims {
		return qerrors.NewInvalidParameters(op, "matrix dims %d, index dims %d", m.Dims, idx.dims)
	}
	return nil
}

// addDistinct adds ids to set, rejecting negatives, repeats within ids and ids already in existing.
func addDistinct(op string, set, existing *roaring64.Bitmap, ids []int64) error {
	for i, id := range ids {
		if id < 0 {
			return qerrors.NewInvalidParameters(op, "id %d at row %d is negative", id, i)
		}
		if existing != nil && existing.Contains(uint64(id)) {
			return qerrors.NewInvalidParameters(op, "id %d at row %d already exists", id, i)
		}
		if !set.CheckedAdd(uint64(id)) {
			return qerrors.NewInvalidParameters(op, "id %d at row %d is repeated", id, i)
		}
	}
	return nil
}

func (idx *Index) observe(op string, start time.Time, err *error) {
	kind := idx.kind.String()
	status := "ok"
	if *err != nil {
		status = string(qerrors.TypeOf(*err))
		if status == "" {
			status = "error"
		}
		idx.logger.Warn().Err(*err).Str("op", op).Msg("index operation failed")
	}
	metrics.IndexOpsTotal.WithLabelValues(kind, op, status).Inc()
	metrics.IndexOpDuration.WithLabelValues(kind, op).Observe(time.Since(start).Seconds())
}

// Clone returns an independent facade sharing the current backend value. Backend values
// are never mutated in place, so extending the clone leaves the receiver unchanged.
func (idx *Index) Clone() *Index {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return &Index{
		kind:        idx.kind,
		dims:        idx.dims,
		impl:        idx.impl,
		ids:         idx.ids.Clone(),
		compression: idx.compression,
		logger:      idx.logger,
	}
}

// IDs returns a copy of the stored identifier set.
func (idx *Index) IDs() *roaring64.Bitmap {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.ids.Clone()
}
