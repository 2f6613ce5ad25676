// Package mg is the distributed index: one index facade per clique participant, driven in
// lockstep, with per-shard results merged at the root.
package mg

import (
	"strconv"
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/rs/zerolog"

	"github.com/23skdu/quiver/internal/ann"
	"github.com/23skdu/quiver/internal/clique"
	"github.com/23skdu/quiver/internal/codec"
	"github.com/23skdu/quiver/internal/core"
	qerrors "github.com/23skdu/quiver/internal/errors"
	"github.com/23skdu/quiver/internal/merge"
	"github.com/23skdu/quiver/internal/metrics"
)

// Options configures a distributed index.
type Options struct {
	Mode        DistributionMode
	Merge       MergeMode
	Compression codec.Compression
	Logger      zerolog.Logger
}

// Index is a distributed index over a clique. It is not safe for concurrent use.
type Index struct {
	mu     sync.Mutex
	clique *clique.Clique
	kind   core.Kind
	dims   int
	opts   Options
	logger zerolog.Logger

	state  State
	shards []*ann.Index
	ids    *roaring64.Bitmap
}

// New creates an unformed distributed index of params' kind.
//
//nolint:gocritic // Options carries a logger by value
func New(c *clique.Clique, params ann.IndexParams, dims int, opts Options) (*Index, error) {
	const op = "mg.New"
	if c == nil {
		return nil, qerrors.NewInvalidParameters(op, "clique is required")
	}
	if params == nil || !params.Kind().Valid() {
		return nil, qerrors.NewInvalidParameters(op, "parameters %T carry no backend kind", params)
	}
	if dims <= 0 {
		return nil, qerrors.NewInvalidParameters(op, "dims must be positive, got %d", dims)
	}
	if !opts.Merge.Valid() {
		return nil, qerrors.NewInvalidParameters(op, "unknown merge mode %s", opts.Merge)
	}
	if opts.Mode != Sharded && opts.Mode != Replicated {
		return nil, qerrors.NewInvalidParameters(op, "unknown distribution mode %s", opts.Mode)
	}
	return &Index{
		clique: c,
		kind:   params.Kind(),
		dims:   dims,
		opts:   opts,
		logger: opts.Logger.With().
			Str("kind", params.Kind().String()).
			Str("mode", opts.Mode.String()).
			Str("merge", opts.Merge.String()).
			Logger(),
		ids: roaring64.New(),
	}, nil
}

// State returns the lifecycle state.
func (idx *Index) State() State {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.state
}

// Kind returns the backend kind.
func (idx *Index) Kind() core.Kind { return idx.kind }

// Mode returns the distribution mode.
func (idx *Index) Mode() DistributionMode { return idx.opts.Mode }

// MergeMode returns the merge mode used by Search.
func (idx *Index) MergeMode() MergeMode {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.opts.Merge
}

// SetMergeMode changes how later searches combine shard results.
func (idx *Index) SetMergeMode(m MergeMode) error {
	if !m.Valid() {
		return qerrors.NewInvalidParameters("mg.SetMergeMode", "unknown merge mode %s", m)
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.opts.Merge = m
	return nil
}

// Size returns the number of distinct vectors in the index.
func (idx *Index) Size() (int64, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.state == Unformed {
		return 0, qerrors.NewNotBuilt("mg.Size")
	}
	return int64(idx.ids.GetCardinality()), nil
}

func (idx *Index) facadeOpts() []ann.Option {
	return []ann.Option{ann.WithCompression(idx.opts.Compression), ann.WithLogger(idx.logger)}
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

func globalIDs(r core.Range) []int64 {
	ids := make([]int64, r.Len())
	for i := range ids {
		ids[i] = int64(r.Start + i)
	}
	return ids
}

// Build partitions dataset and builds every participant's facade from the parameters
// broadcast by the root. Either every participant builds or the index is left as it was.
func (idx *Index) Build(params ann.IndexParams, dataset core.Matrix) error {
	const op = "mg.Build"
	if params == nil || params.Kind() != idx.kind {
		return qerrors.NewInvalidParameters(op, "parameters tagged %v, index is %s", kindOf(params), idx.kind)
	}
	if err := idx.checkMatrix(op, dataset); err != nil {
		return err
	}
	n := idx.clique.Size()
	if idx.opts.Mode == Sharded && dataset.Rows < n {
		return qerrors.NewInvalidParameters(op, "%d rows cannot be split across %d participants", dataset.Rows, n)
	}
	ranges, err := Partition(dataset.Rows, n)
	if err != nil {
		return err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	built := make([]*ann.Index, n)
	err = idx.clique.Run("build", func(comm *clique.Comm) error {
		var p ann.IndexParams
		if comm.IsRoot() {
			p = params
		}
		p, err := clique.Broadcast(comm, p)
		if err != nil {
			return err
		}
		local, err := ann.New(p, idx.dims, idx.facadeOpts()...)
		if err != nil {
			return err
		}
		if idx.opts.Mode == Replicated {
			err = local.Build(comm.Handle(), p, dataset)
		} else {
			r := ranges[comm.Rank()]
			err = local.BuildWithIDs(comm.Handle(), p, dataset.Slice(r.Start, r.End), globalIDs(r))
		}
		if err != nil {
			return err
		}
		built[comm.Rank()] = local
		// nobody reports success until every shard is built
		return comm.Barrier()
	})
	if err != nil {
		return err
	}

	idx.shards = built
	idx.ids = roaring64.New()
	idx.ids.AddRange(0, uint64(dataset.Rows))
	idx.state = Built
	idx.recordShardRows()
	idx.logger.Info().Int("rows", dataset.Rows).Int("participants", n).Msg("distributed index built")
	return nil
}

// Extend appends vectors. Sharded indexes split the new rows the same way Build does;
// replicated indexes add them everywhere. ids default to continuing after the largest id.
// Either every participant extends or none does.
func (idx *Index) Extend(vectors core.Matrix, ids []int64) error {
	const op = "mg.Extend"
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.state == Unformed {
		return qerrors.NewNotBuilt(op)
	}
	if !idx.kind.SupportsExtend() {
		return qerrors.NewUnsupported(op, "graph indexes cannot be extended; rebuild instead")
	}
	if err := idx.checkMatrix(op, vectors); err != nil {
		return err
	}

	set := idx.ids.Clone()
	if ids == nil {
		start := int64(0)
		if !idx.ids.IsEmpty() {
			start = int64(idx.ids.Maximum()) + 1
		}
		ids = globalIDs(core.Range{Start: int(start), End: int(start) + vectors.Rows})
		set.AddRange(uint64(start), uint64(start)+uint64(vectors.Rows))
	} else {
		if len(ids) != vectors.Rows {
			return qerrors.NewInvalidParameters(op, "got %d ids for %d rows", len(ids), vectors.Rows)
		}
		for i, id := range ids {
			if id < 0 || !set.CheckedAdd(uint64(id)) {
				return qerrors.NewInvalidParameters(op, "id %d at row %d is negative or already present", id, i)
			}
		}
	}

	n := idx.clique.Size()
	ranges, err := Partition(vectors.Rows, n)
	if err != nil {
		return err
	}

	next := make([]*ann.Index, n)
	err = idx.clique.Run("extend", func(comm *clique.Comm) error {
		rank := comm.Rank()
		local := idx.shards[rank].Clone()
		if idx.opts.Mode == Replicated {
			if err := local.Extend(comm.Handle(), vectors, ids); err != nil {
				return err
			}
		} else if r := ranges[rank]; r.Len() > 0 {
			if err := local.Extend(comm.Handle(), vectors.Slice(r.Start, r.End), ids[r.Start:r.End]); err != nil {
				return err
			}
		}
		next[rank] = local
		return comm.Barrier()
	})
	if err != nil {
		return err
	}

	idx.shards = next
	idx.ids = set
	idx.state = Extended
	idx.recordShardRows()
	idx.logger.Info().Int("rows", vectors.Rows).Uint64("size", set.GetCardinality()).Msg("distributed index extended")
	return nil
}

// Search returns up to k neighbors per query.
//
// Sharded: every participant searches its shard with the full query set and the root
// merges the per-shard lists with the configured merge mode.
// Replicated: queries are split across participants and the root concatenates the
// results in query order.
func (idx *Index) Search(params ann.SearchParams, queries core.Matrix, k int) ([][]core.Neighbor, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.search(params, idx.opts.Merge, queries, k)
}

// SearchWithMerge is Search with a per-call merge mode.
func (idx *Index) SearchWithMerge(params ann.SearchParams, mode MergeMode, queries core.Matrix, k int) ([][]core.Neighbor, error) {
	if !mode.Valid() {
		return nil, qerrors.NewInvalidParameters("mg.Search", "unknown merge mode %s", mode)
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.search(params, mode, queries, k)
}

func (idx *Index) search(params ann.SearchParams, mode MergeMode, queries core.Matrix, k int) ([][]core.Neighbor, error) {
	const op = "mg.Search"
	if idx.state == Unformed {
		return nil, qerrors.NewNotBuilt(op)
	}
	if params == nil || params.Kind() != idx.kind {
		return nil, qerrors.NewInvalidParameters(op, "parameters tagged %v, index is %s", kindOf(params), idx.kind)
	}
	if err := queries.Validate(); err != nil {
		return nil, qerrors.WrapInvalidParameters(err, op, "invalid queries")
	}
	if queries.Dims != idx.dims {
		return nil, qerrors.NewInvalidParameters(op, "query dims %d, index dims %d", queries.Dims, idx.dims)
	}
	if k <= 0 {
		return nil, qerrors.NewInvalidParameters(op, "k must be positive, got %d", k)
	}
	// shard-level checks (probe counts) run here so they surface as plain parameter
	// errors rather than a failed collective
	for _, shard := range idx.shards {
		if err := shard.ValidateSearch(params, queries, k); err != nil {
			return nil, err
		}
	}

	var out [][]core.Neighbor
	var err error
	if idx.opts.Mode == Replicated {
		out, err = idx.searchReplicated(params, queries, k)
	} else {
		out, err = idx.searchSharded(params, mode, queries, k)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (idx *Index) searchSharded(params ann.SearchParams, mode MergeMode, queries core.Matrix, k int) ([][]core.Neighbor, error) {
	var out [][]core.Neighbor
	err := idx.clique.Run("search", func(comm *clique.Comm) error {
		local, err := idx.shards[comm.Rank()].Search(comm.Handle(), params, queries, k)
		if err != nil {
			return err
		}
		if mode == MergeTree {
			merged, err := treeReduce(comm, local, k)
			if err != nil {
				return err
			}
			if comm.IsRoot() {
				out = merged
			}
			return nil
		}

		all, err := clique.Gather(comm, local)
		if err != nil || !comm.IsRoot() {
			return err
		}
		out = make([][]core.Neighbor, queries.Rows)
		lists := make([][]core.Neighbor, len(all))
		for q := range out {
			for s := range all {
				lists[s] = all[s][q]
			}
			if out[q], err = merge.Merge(mode, k, lists); err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

// treeReduce merges per-query candidate lists pairwise over point-to-point messages.
// Ranks are taken relative to the root so the final list lands there. Candidates keep
// their shard rank, so the result matches a global-distance merge.
func treeReduce(comm *clique.Comm, local [][]core.Neighbor, k int) ([][]core.Neighbor, error) {
	n := comm.Size()
	rel := (comm.Rank() - comm.Root() + n) % n
	abs := func(r int) int { return (r + comm.Root()) % n }

	cands := make([][]merge.Candidate, len(local))
	for q, l := range local {
		cands[q] = merge.FromShard(comm.Rank(), l)
	}
	for step := 1; step < n; step *= 2 {
		if rel%(2*step) != 0 {
			return nil, clique.Send(comm, abs(rel-step), cands)
		}
		if rel+step >= n {
			continue
		}
		other, err := clique.Recv[[][]merge.Candidate](comm, abs(rel+step))
		if err != nil {
			return nil, err
		}
		metrics.MergeCandidatesTotal.WithLabelValues(MergeTree.String()).Add(float64(countCandidates(other)))
		for q := range cands {
			cands[q] = merge.Combine(k, cands[q], other[q])
		}
	}
	out := make([][]core.Neighbor, len(cands))
	for q, c := range cands {
		out[q] = merge.Neighbors(c)
	}
	return out, nil
}

func countCandidates(c [][]merge.Candidate) int {
	n := 0
	for _, l := range c {
		n += len(l)
	}
	return n
}

func (idx *Index) searchReplicated(params ann.SearchParams, queries core.Matrix, k int) ([][]core.Neighbor, error) {
	ranges, err := Partition(queries.Rows, idx.clique.Size())
	if err != nil {
		return nil, err
	}
	var out [][]core.Neighbor
	err = idx.clique.Run("search", func(comm *clique.Comm) error {
		var local [][]core.Neighbor
		if r := ranges[comm.Rank()]; r.Len() > 0 {
			var err error
			local, err = idx.shards[comm.Rank()].Search(comm.Handle(), params, queries.Slice(r.Start, r.End), k)
			if err != nil {
				return err
			}
		}
		parts, err := clique.Gather(comm, local)
		if err != nil || !comm.IsRoot() {
			return err
		}
		out = make([][]core.Neighbor, 0, queries.Rows)
		for _, p := range parts {
			out = append(out, p...)
		}
		return nil
	})
	return out, err
}

func (idx *Index) recordShardRows() {
	for rank, s := range idx.shards {
		if size, err := s.Size(); err == nil {
			metrics.ShardRows.WithLabelValues(strconv.Itoa(rank)).Set(float64(size))
		}
	}
}

func kindOf(p interface{ Kind() core.Kind }) core.Kind {
	if p == nil {
		return core.KindUnknown
	}
	return p.Kind()
}
