// Package graph implements the proximity-graph backend on top of github.com/coder/hnsw.
package graph

import (
	"bytes"
	"io"
	"math/rand"
	"slices"
	"sync"

	"github.com/coder/hnsw"

	"github.com/23skdu/quiver/internal/codec"
	"github.com/23skdu/quiver/internal/core"
	qerrors "github.com/23skdu/quiver/internal/errors"
	"github.com/23skdu/quiver/internal/resources"
	"github.com/23skdu/quiver/internal/simd"
)

func init() {
	// names are persisted by Export, so they must stay stable
	hnsw.RegisterDistanceFunc("quiver.l2sq", simd.L2Squared)
	hnsw.RegisterDistanceFunc("quiver.cosine", simd.CosineDistance)
	hnsw.RegisterDistanceFunc("quiver.neg_dot", simd.NegativeDotProduct)
}

func distanceFor(m core.DistanceMetric) hnsw.DistanceFunc {
	switch m {
	case core.MetricCosine:
		return simd.CosineDistance
	case core.MetricDotProduct:
		return simd.NegativeDotProduct
	default:
		return simd.L2Squared
	}
}

// Index wraps an hnsw graph keyed by identifier. Graph indexes do not support Extend.
// An Index is immutable once built apart from the graph's search width, so one value
// may back several facades.
type Index struct {
	params IndexParams
	dims   int
	graph  *hnsw.Graph[int64]
	dist   simd.DistanceFunc

	// searchMu guards graph.EfSearch, which hnsw reads on every query.
	searchMu sync.Mutex
}

// Build inserts every row in order. Level assignment draws from a generator seeded with
// params.Seed, so identical inputs produce identical graphs.
func Build(res *resources.Handle, params IndexParams, dataset core.Matrix, ids []int64) (*Index, error) {
	const op = "graph.Build"
	if err := dataset.Validate(); err != nil {
		return nil, qerrors.WrapInvalidParameters(err, op, "invalid dataset")
	}
	if dataset.Rows == 0 || dataset.Dims == 0 {
		return nil, qerrors.NewInvalidParameters(op, "empty dataset %dx%d", dataset.Rows, dataset.Dims)
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if ids != nil && len(ids) != dataset.Rows {
		return nil, qerrors.NewInvalidParameters(op, "got %d ids for %d rows", len(ids), dataset.Rows)
	}
	params.Metric, _ = core.ParseMetric(string(params.Metric))

	g := hnsw.NewGraph[int64]()
	g.M = params.GraphDegree
	g.Ml = params.LevelFactor
	g.Distance = distanceFor(params.Metric)
	g.Rng = rand.New(rand.NewSource(params.Seed))
	if params.BuildItopkSize > 0 {
		g.EfSearch = params.BuildItopkSize
	}

	for i := 0; i < dataset.Rows; i++ {
		id := int64(i)
		if ids != nil {
			id = ids[i]
		}
		// the graph keeps the slice, so hand it a private copy
		g.Add(hnsw.MakeNode(id, slices.Clone(dataset.Row(i))))
	}

	return &Index{
		params: params,
		dims:   dataset.Dims,
		graph:  g,
		dist:   simd.ForMetric(params.Metric),
	}, nil
}

// Search returns up to k neighbors per query. The graph does not report distances,
// so they are recomputed against the stored vectors and the hits re-sorted.
func (idx *Index) Search(res *resources.Handle, params SearchParams, queries core.Matrix, k int) ([][]core.Neighbor, error) {
	const op = "graph.Search"
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if queries.Dims != idx.dims {
		return nil, qerrors.NewInvalidParameters(op, "query dims %d, index dims %d", queries.Dims, idx.dims)
	}
	if k <= 0 {
		return nil, qerrors.NewInvalidParameters(op, "k must be positive, got %d", k)
	}

	// the width must hold for the whole batch, so searches on one graph take turns
	idx.searchMu.Lock()
	defer idx.searchMu.Unlock()
	idx.graph.EfSearch = max(params.ItopkSize, k)

	out := make([][]core.Neighbor, queries.Rows)
	err := res.Launch(queries.Rows, func(lo, hi int) error {
		for q := lo; q < hi; q++ {
			query := queries.Row(q)
			nodes := idx.graph.Search(query, k)
			hits := make([]core.Neighbor, len(nodes))
			for i, n := range nodes {
				hits[i] = core.Neighbor{ID: n.Key, Distance: idx.dist(query, n.Value)}
			}
			slices.SortFunc(hits, func(a, b core.Neighbor) int {
				switch {
				case a.Less(b):
					return -1
				case b.Less(a):
					return 1
				}
				return 0
			})
			out[q] = hits
		}
		return nil
	})
	return out, err
}

// Size returns the number of nodes in the graph.
func (idx *Index) Size() int64 { return int64(idx.graph.Len()) }

// Dims returns the vector dimensionality.
func (idx *Index) Dims() int { return idx.dims }

// Metric returns the distance metric.
func (idx *Index) Metric() core.DistanceMetric { return idx.params.Metric }

// Degree returns the configured neighbor count per node.
func (idx *Index) Degree() int { return idx.graph.M }

// Serialize writes the index body: our own header followed by the hnsw export.
func (idx *Index) Serialize(res *resources.Handle, w io.Writer) error {
	var g bytes.Buffer
	idx.searchMu.Lock()
	err := idx.graph.Export(&g)
	idx.searchMu.Unlock()
	if err != nil {
		return err
	}
	bw := codec.NewWriter(w)
	bw.U32(uint32(idx.dims))
	bw.String(string(idx.params.Metric))
	bw.U32(uint32(idx.params.BuildItopkSize))
	bw.I64(idx.params.Seed)
	bw.Bytes(g.Bytes())
	return bw.Err()
}

// Deserialize reads an index written by Serialize.
func Deserialize(res *resources.Handle, r io.Reader) (*Index, error) {
	br := codec.NewReader(r)
	dims := int(br.U32())
	metric := core.DistanceMetric(br.String())
	buildItopk := int(br.U32())
	seed := br.I64()
	body := br.Bytes()
	if err := br.Err(); err != nil {
		return nil, err
	}

	g := hnsw.NewGraph[int64]()
	if err := g.Import(bytes.NewReader(body)); err != nil {
		return nil, err
	}
	if g.Len() > 0 && g.Dims() != dims {
		return nil, codec.ErrCorrupt
	}
	g.Rng = rand.New(rand.NewSource(seed))

	return &Index{
		params: IndexParams{
			GraphDegree:    g.M,
			LevelFactor:    g.Ml,
			BuildItopkSize: buildItopk,
			Metric:         metric,
			Seed:           seed,
		},
		dims:  dims,
		graph: g,
		dist:  simd.ForMetric(metric),
	}, nil
}
