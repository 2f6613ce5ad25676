// Package ivfflat implements the clustered backend: vectors are grouped into inverted
// lists by their nearest k-means centroid and stored uncompressed.
package ivfflat

import (
	"io"
	"slices"

	"github.com/23skdu/quiver/internal/codec"
	"github.com/23skdu/quiver/internal/core"
	qerrors "github.com/23skdu/quiver/internal/errors"
	"github.com/23skdu/quiver/internal/ivf"
	"github.com/23skdu/quiver/internal/resources"
	"github.com/23skdu/quiver/internal/simd"
	"github.com/23skdu/quiver/internal/topk"
)

type list struct {
	ids     []int64
	vectors []float32
}

// Index is an immutable IVF-Flat index value. Extend returns a new value and leaves the
// receiver untouched.
type Index struct {
	params IndexParams
	dims   int
	coarse *ivf.Coarse
	lists  []list
	size   int64
}

// Build trains the coarse quantizer on a sample of dataset and fills the lists.
// ids may be nil, in which case rows are numbered from zero.
func Build(res *resources.Handle, params IndexParams, dataset core.Matrix, ids []int64) (*Index, error) {
	if err := dataset.Validate(); err != nil {
		return nil, qerrors.WrapInvalidParameters(err, "ivfflat.Build", "invalid dataset")
	}
	if err := params.Validate(dataset.Rows); err != nil {
		return nil, err
	}
	if ids != nil && len(ids) != dataset.Rows {
		return nil, qerrors.NewInvalidParameters("ivfflat.Build", "got %d ids for %d rows", len(ids), dataset.Rows)
	}
	params.Metric, _ = core.ParseMetric(string(params.Metric))

	coarse, _, err := ivf.Train(dataset, ivf.TrainConfig{
		NLists:           params.NLists,
		Iters:            params.KMeansNIters,
		TrainsetFraction: params.KMeansTrainsetFraction,
		Metric:           params.Metric,
		Seed:             params.Seed,
	})
	if err != nil {
		return nil, qerrors.WrapInvalidParameters(err, "ivfflat.Build", "k-means training failed")
	}

	idx := &Index{
		params: params,
		dims:   dataset.Dims,
		coarse: coarse,
		lists:  make([]list, params.NLists),
	}
	if ids == nil {
		ids = sequentialIDs(0, dataset.Rows)
	}
	idx.insert(res, dataset, ids)
	return idx, nil
}

// Extend returns a new index holding the receiver's vectors plus the new ones.
// Lists that receive no vectors are shared with the receiver.
func (idx *Index) Extend(res *resources.Handle, vectors core.Matrix, ids []int64) (*Index, error) {
	if err := vectors.Validate(); err != nil {
		return nil, qerrors.WrapInvalidParameters(err, "ivfflat.Extend", "invalid vectors")
	}
	if vectors.Dims != idx.dims {
		return nil, qerrors.NewInvalidParameters("ivfflat.Extend", "vector dims %d, index dims %d", vectors.Dims, idx.dims)
	}
	if ids == nil {
		ids = sequentialIDs(idx.size, vectors.Rows)
	}
	if len(ids) != vectors.Rows {
		return nil, qerrors.NewInvalidParameters("ivfflat.Extend", "got %d ids for %d rows", len(ids), vectors.Rows)
	}

	next := &Index{
		params: idx.params,
		dims:   idx.dims,
		coarse: idx.coarse,
		lists:  slices.Clone(idx.lists),
		size:   idx.size,
	}
	// clip capacity so appends copy instead of writing into the receiver's arrays
	for i := range next.lists {
		l := &next.lists[i]
		l.ids = l.ids[:len(l.ids):len(l.ids)]
		l.vectors = l.vectors[:len(l.vectors):len(l.vectors)]
	}
	next.insert(res, vectors, ids)
	return next, nil
}

func (idx *Index) insert(res *resources.Handle, vectors core.Matrix, ids []int64) {
	labels := make([]int, vectors.Rows)
	_ = res.Launch(vectors.Rows, func(lo, hi int) error {
		for i := lo; i < hi; i++ {
			labels[i] = idx.coarse.Assign(vectors.Row(i))
		}
		return nil
	})
	for i, l := range labels {
		idx.lists[l].ids = append(idx.lists[l].ids, ids[i])
		idx.lists[l].vectors = append(idx.lists[l].vectors, vectors.Row(i)...)
	}
	idx.size += int64(vectors.Rows)
}

// Search returns up to k neighbors per query, probing params.NProbes lists.
func (idx *Index) Search(res *resources.Handle, params SearchParams, queries core.Matrix, k int) ([][]core.Neighbor, error) {
	if err := params.Validate(idx.coarse.NLists); err != nil {
		return nil, err
	}
	if queries.Dims != idx.dims {
		return nil, qerrors.NewInvalidParameters("ivfflat.Search", "query dims %d, index dims %d", queries.Dims, idx.dims)
	}
	if k <= 0 {
		return nil, qerrors.NewInvalidParameters("ivfflat.Search", "k must be positive, got %d", k)
	}

	dist := simd.ForMetric(idx.params.Metric)
	out := make([][]core.Neighbor, queries.Rows)
	err := res.Launch(queries.Rows, func(lo, hi int) error {
		probeSel := topk.New(params.NProbes)
		sel := topk.New(k)
		var scratch []float32
		for q := lo; q < hi; q++ {
			query := queries.Row(q)
			sel.Reset(k)
			for _, li := range idx.coarse.Probe(query, params.NProbes, probeSel) {
				l := idx.lists[li]
				n := len(l.ids)
				if n == 0 {
					continue
				}
				if cap(scratch) < n {
					scratch = make([]float32, n)
				}
				scratch = scratch[:n]
				simd.DistanceBatchFlat(dist, query, l.vectors, idx.dims, scratch)
				for j, d := range scratch {
					sel.Push(core.Neighbor{ID: l.ids[j], Distance: d})
				}
			}
			out[q] = sel.Sorted()
		}
		return nil
	})
	return out, err
}

// Size returns the number of indexed vectors.
func (idx *Index) Size() int64 { return idx.size }

// Dims returns the vector dimensionality.
func (idx *Index) Dims() int { return idx.dims }

// NLists returns the number of inverted lists.
func (idx *Index) NLists() int { return idx.coarse.NLists }

// Metric returns the distance metric.
func (idx *Index) Metric() core.DistanceMetric { return idx.params.Metric }

// IDs returns every stored identifier in list order.
func (idx *Index) IDs() []int64 {
	out := make([]int64, 0, idx.size)
	for _, l := range idx.lists {
		out = append(out, l.ids...)
	}
	return out
}

// Serialize writes the index body. Framing is the caller's concern.
func (idx *Index) Serialize(res *resources.Handle, w io.Writer) error {
	bw := codec.NewWriter(w)
	bw.U32(uint32(idx.dims))
	bw.U32(uint32(idx.params.KMeansNIters))
	bw.F64(idx.params.KMeansTrainsetFraction)
	bw.I64(idx.params.Seed)
	idx.coarse.WriteTo(bw)
	for _, l := range idx.lists {
		bw.I64s(l.ids)
		bw.F32s(l.vectors)
	}
	return bw.Err()
}

// Deserialize reads an index written by Serialize.
func Deserialize(res *resources.Handle, r io.Reader) (*Index, error) {
	br := codec.NewReader(r)
	dims := int(br.U32())
	iters := int(br.U32())
	fraction := br.F64()
	seed := br.I64()
	if err := br.Err(); err != nil {
		return nil, err
	}
	coarse, err := ivf.Read(br)
	if err != nil {
		return nil, err
	}
	if coarse.Dims != dims {
		return nil, codec.ErrCorrupt
	}

	idx := &Index{
		params: IndexParams{
			NLists:                 coarse.NLists,
			KMeansNIters:           iters,
			KMeansTrainsetFraction: fraction,
			Metric:                 coarse.Metric(),
			Seed:                   seed,
		},
		dims:   dims,
		coarse: coarse,
		lists:  make([]list, coarse.NLists),
	}
	for i := range idx.lists {
		ids := br.I64s()
		vecs := br.F32s()
		if err := br.Err(); err != nil {
			return nil, err
		}
		if len(vecs) != len(ids)*dims {
			return nil, codec.ErrCorrupt
		}
		idx.lists[i] = list{ids: ids, vectors: vecs}
		idx.size += int64(len(ids))
	}
	return idx, nil
}

func sequentialIDs(start int64, n int) []int64 {
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = start + int64(i)
	}
	return ids
}
