// Package ivfpq implements the quantized-clustered backend: an inverted file whose lists
// hold product-quantized residuals against the list centroid.
package ivfpq

import (
	"bytes"
	"io"
	"slices"

	"github.com/23skdu/quiver/internal/codec"
	"github.com/23skdu/quiver/internal/core"
	qerrors "github.com/23skdu/quiver/internal/errors"
	"github.com/23skdu/quiver/internal/ivf"
	"github.com/23skdu/quiver/internal/pq"
	"github.com/23skdu/quiver/internal/resources"
	"github.com/23skdu/quiver/internal/simd"
	"github.com/23skdu/quiver/internal/topk"
)

type list struct {
	ids   []int64
	codes []byte
}

// Index is an immutable IVF-PQ index value. Extend returns a new value.
type Index struct {
	params  IndexParams
	dims    int
	coarse  *ivf.Coarse
	encoder *pq.PQEncoder
	lists   []list
	size    int64
}

// Build trains the coarse quantizer, then a product quantizer over the training
// residuals, and encodes every row. ids may be nil.
func Build(res *resources.Handle, params IndexParams, dataset core.Matrix, ids []int64) (*Index, error) {
	const op = "ivfpq.Build"
	if err := dataset.Validate(); err != nil {
		return nil, qerrors.WrapInvalidParameters(err, op, "invalid dataset")
	}
	if err := params.Validate(dataset.Rows, dataset.Dims); err != nil {
		return nil, err
	}
	if ids != nil && len(ids) != dataset.Rows {
		return nil, qerrors.NewInvalidParameters(op, "got %d ids for %d rows", len(ids), dataset.Rows)
	}
	params.Metric, _ = core.ParseMetric(string(params.Metric))
	params.PQDim = params.subspaces(dataset.Dims)

	coarse, rng, err := ivf.Train(dataset, ivf.TrainConfig{
		NLists:           params.NLists,
		Iters:            params.KMeansNIters,
		TrainsetFraction: params.KMeansTrainsetFraction,
		Metric:           params.Metric,
		Seed:             params.Seed,
	})
	if err != nil {
		return nil, qerrors.WrapInvalidParameters(err, op, "coarse k-means training failed")
	}

	rows := pq.SampleRows(dataset.Rows, params.KMeansTrainsetFraction, params.NLists, rng)
	residuals := core.NewMatrix(len(rows), dataset.Dims)
	for i, r := range rows {
		residual(residuals.Row(i), dataset.Row(r), coarse)
	}

	// the codebook cannot have more entries than there are training rows
	k := min(1<<params.PQBits, residuals.Rows)
	encoder, err := pq.NewPQEncoder(dataset.Dims, params.PQDim, k)
	if err != nil {
		return nil, qerrors.WrapInvalidParameters(err, op, "product quantizer")
	}
	if err := encoder.Train(residuals, params.KMeansNIters, rng); err != nil {
		return nil, qerrors.WrapInvalidParameters(err, op, "product quantizer training failed")
	}

	idx := &Index{
		params:  params,
		dims:    dataset.Dims,
		coarse:  coarse,
		encoder: encoder,
		lists:   make([]list, params.NLists),
	}
	if ids == nil {
		ids = sequentialIDs(0, dataset.Rows)
	}
	if err := idx.insert(res, dataset, ids); err != nil {
		return nil, err
	}
	return idx, nil
}

// residual writes vec minus its list centroid into dst and returns the list.
func residual(dst, vec []float32, coarse *ivf.Coarse) int {
	l := coarse.Assign(vec)
	c := coarse.Centroid(l)
	for i := range dst {
		dst[i] = vec[i] - c[i]
	}
	return l
}

// Extend returns a new index holding the receiver's vectors plus the new ones.
func (idx *Index) Extend(res *resources.Handle, vectors core.Matrix, ids []int64) (*Index, error) {
	const op = "ivfpq.Extend"
	if err := vectors.Validate(); err != nil {
		return nil, qerrors.WrapInvalidParameters(err, op, "invalid vectors")
	}
	if vectors.Dims != idx.dims {
		return nil, qerrors.NewInvalidParameters(op, "vector dims %d, index dims %d", vectors.Dims, idx.dims)
	}
	if ids == nil {
		ids = sequentialIDs(idx.size, vectors.Rows)
	}
	if len(ids) != vectors.Rows {
		return nil, qerrors.NewInvalidParameters(op, "got %d ids for %d rows", len(ids), vectors.Rows)
	}

	next := &Index{
		params:  idx.params,
		dims:    idx.dims,
		coarse:  idx.coarse,
		encoder: idx.encoder,
		lists:   slices.Clone(idx.lists),
		size:    idx.size,
	}
	for i := range next.lists {
		l := &next.lists[i]
		l.ids = l.ids[:len(l.ids):len(l.ids)]
		l.codes = l.codes[:len(l.codes):len(l.codes)]
	}
	if err := next.insert(res, vectors, ids); err != nil {
		return nil, err
	}
	return next, nil
}

func (idx *Index) insert(res *resources.Handle, vectors core.Matrix, ids []int64) error {
	m := idx.encoder.CodeSize()
	labels := make([]int, vectors.Rows)
	codes := make([]byte, vectors.Rows*m)
	err := res.Launch(vectors.Rows, func(lo, hi int) error {
		r := make([]float32, idx.dims)
		for i := lo; i < hi; i++ {
			labels[i] = residual(r, vectors.Row(i), idx.coarse)
			if err := idx.encoder.EncodeInto(codes[i*m:(i+1)*m], r); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return qerrors.WrapInvalidParameters(err, "ivfpq.insert", "encoding failed")
	}
	for i, l := range labels {
		idx.lists[l].ids = append(idx.lists[l].ids, ids[i])
		idx.lists[l].codes = append(idx.lists[l].codes, codes[i*m:(i+1)*m]...)
	}
	idx.size += int64(vectors.Rows)
	return nil
}

// Search returns up to k neighbors per query. Euclidean distances come from per-list ADC
// tables over the query residual; other metrics score the reconstructed vectors.
func (idx *Index) Search(res *resources.Handle, params SearchParams, queries core.Matrix, k int) ([][]core.Neighbor, error) {
	const op = "ivfpq.Search"
	if err := params.Validate(idx.coarse.NLists); err != nil {
		return nil, err
	}
	if queries.Dims != idx.dims {
		return nil, qerrors.NewInvalidParameters(op, "query dims %d, index dims %d", queries.Dims, idx.dims)
	}
	if k <= 0 {
		return nil, qerrors.NewInvalidParameters(op, "k must be positive, got %d", k)
	}

	useADC := idx.params.Metric == core.MetricEuclidean
	dist := simd.ForMetric(idx.params.Metric)
	m := idx.encoder.CodeSize()
	out := make([][]core.Neighbor, queries.Rows)
	err := res.Launch(queries.Rows, func(lo, hi int) error {
		probeSel := topk.New(params.NProbes)
		sel := topk.New(k)
		table := make([]float32, idx.encoder.M*idx.encoder.K)
		r := make([]float32, idx.dims)
		recon := make([]float32, idx.dims)
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

				c := idx.coarse.Centroid(li)
				if useADC {
					for i := range r {
						r[i] = query[i] - c[i]
					}
					if err := idx.encoder.BuildADCTableInto(table, r); err != nil {
						return err
					}
					if err := idx.encoder.ADCDistanceBatch(table, l.codes, scratch); err != nil {
						return err
					}
				} else {
					for j := 0; j < n; j++ {
						if err := idx.encoder.DecodeInto(recon, l.codes[j*m:(j+1)*m]); err != nil {
							return err
						}
						for i := range recon {
							recon[i] += c[i]
						}
						scratch[j] = dist(query, recon)
					}
				}
				for j, d := range scratch {
					sel.Push(core.Neighbor{ID: l.ids[j], Distance: d})
				}
			}
			out[q] = sel.Sorted()
		}
		return nil
	})
	if err != nil {
		return nil, qerrors.WrapInvalidParameters(err, op, "distance computation failed")
	}
	return out, nil
}

// Size returns the number of indexed vectors.
func (idx *Index) Size() int64 { return idx.size }

// Dims returns the vector dimensionality.
func (idx *Index) Dims() int { return idx.dims }

// NLists returns the number of inverted lists.
func (idx *Index) NLists() int { return idx.coarse.NLists }

// Metric returns the distance metric.
func (idx *Index) Metric() core.DistanceMetric { return idx.params.Metric }

// CodebookSize returns the number of centroids per subspace after clamping.
func (idx *Index) CodebookSize() int { return idx.encoder.K }

// IDs returns every stored identifier in list order.
func (idx *Index) IDs() []int64 {
	out := make([]int64, 0, idx.size)
	for _, l := range idx.lists {
		out = append(out, l.ids...)
	}
	return out
}

// Serialize writes the index body.
func (idx *Index) Serialize(res *resources.Handle, w io.Writer) error {
	var enc bytes.Buffer
	if _, err := idx.encoder.WriteTo(&enc); err != nil {
		return err
	}

	bw := codec.NewWriter(w)
	bw.U32(uint32(idx.dims))
	bw.U32(uint32(idx.params.PQBits))
	bw.U32(uint32(idx.params.KMeansNIters))
	bw.F64(idx.params.KMeansTrainsetFraction)
	bw.I64(idx.params.Seed)
	idx.coarse.WriteTo(bw)
	bw.Bytes(enc.Bytes())
	for _, l := range idx.lists {
		bw.I64s(l.ids)
		bw.Bytes(l.codes)
	}
	return bw.Err()
}

// Deserialize reads an index written by Serialize.
func Deserialize(res *resources.Handle, r io.Reader) (*Index, error) {
	br := codec.NewReader(r)
	dims := int(br.U32())
	bits := int(br.U32())
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
	encBytes := br.Bytes()
	if err := br.Err(); err != nil {
		return nil, err
	}
	encoder, err := pq.ReadPQEncoder(codec.NewReader(bytes.NewReader(encBytes)))
	if err != nil {
		return nil, err
	}
	if coarse.Dims != dims || encoder.Dims != dims {
		return nil, codec.ErrCorrupt
	}

	idx := &Index{
		params: IndexParams{
			NLists:                 coarse.NLists,
			PQDim:                  encoder.M,
			PQBits:                 bits,
			KMeansNIters:           iters,
			KMeansTrainsetFraction: fraction,
			Metric:                 coarse.Metric(),
			Seed:                   seed,
		},
		dims:    dims,
		coarse:  coarse,
		encoder: encoder,
		lists:   make([]list, coarse.NLists),
	}
	for i := range idx.lists {
		ids := br.I64s()
		codes := br.Bytes()
		if err := br.Err(); err != nil {
			return nil, err
		}
		if len(codes) != len(ids)*encoder.M {
			return nil, codec.ErrCorrupt
		}
		idx.lists[i] = list{ids: ids, codes: codes}
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
