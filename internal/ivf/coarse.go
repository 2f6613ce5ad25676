// Package ivf implements the coarse quantizer shared by the inverted-file backends:
// centroid training, list assignment and probe selection.
package ivf

import (
	"fmt"
	"math/rand"

	"github.com/23skdu/quiver/internal/codec"
	"github.com/23skdu/quiver/internal/core"
	"github.com/23skdu/quiver/internal/pq"
	"github.com/23skdu/quiver/internal/simd"
	"github.com/23skdu/quiver/internal/topk"
)

// Coarse holds the list centroids.
type Coarse struct {
	NLists    int
	Dims      int
	Centroids []float32
	metric    core.DistanceMetric
	probeDist simd.DistanceFunc
}

// TrainConfig controls centroid training.
type TrainConfig struct {
	NLists           int
	Iters            int
	TrainsetFraction float64
	Metric           core.DistanceMetric
	Seed             int64
}

// Train fits NLists centroids on a deterministic sample of dataset.
func Train(dataset core.Matrix, cfg TrainConfig) (*Coarse, *rand.Rand, error) {
	if cfg.NLists <= 0 {
		return nil, nil, fmt.Errorf("n_lists must be positive, got %d", cfg.NLists)
	}
	if dataset.Rows < cfg.NLists {
		return nil, nil, fmt.Errorf("n_lists %d exceeds dataset rows %d", cfg.NLists, dataset.Rows)
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	rows := pq.SampleRows(dataset.Rows, cfg.TrainsetFraction, cfg.NLists, rng)

	sample := make([]float32, 0, len(rows)*dataset.Dims)
	for _, r := range rows {
		sample = append(sample, dataset.Row(r)...)
	}
	centroids, err := pq.TrainKMeans(sample, len(rows), dataset.Dims, cfg.NLists, cfg.Iters, rng)
	if err != nil {
		return nil, nil, err
	}
	return New(cfg.NLists, dataset.Dims, centroids, cfg.Metric), rng, nil
}

// New wraps existing centroids.
func New(nLists, dims int, centroids []float32, metric core.DistanceMetric) *Coarse {
	c := &Coarse{NLists: nLists, Dims: dims, Centroids: centroids, metric: metric}
	c.probeDist = simd.ForMetric(metric)
	return c
}

// Centroid returns list i's centroid.
func (c *Coarse) Centroid(i int) []float32 {
	return c.Centroids[i*c.Dims : (i+1)*c.Dims]
}

// Assign returns the list a vector belongs to. Assignment always uses squared L2,
// matching how the centroids were trained.
func (c *Coarse) Assign(vec []float32) int {
	idx, _ := pq.NearestCentroid(vec, c.Centroids, c.Dims, simd.L2Squared)
	return idx
}

// Probe returns the nProbes lists closest to query under the index metric, nearest first.
func (c *Coarse) Probe(query []float32, nProbes int, sel *topk.Selector) []int {
	sel.Reset(nProbes)
	for i := 0; i < c.NLists; i++ {
		sel.Push(core.Neighbor{ID: int64(i), Distance: c.probeDist(query, c.Centroid(i))})
	}
	hits := sel.Sorted()
	out := make([]int, len(hits))
	for i, h := range hits {
		out[i] = int(h.ID)
	}
	return out
}

// Metric returns the metric used for probing.
func (c *Coarse) Metric() core.DistanceMetric {
	return c.metric
}

// WriteTo serializes the centroids.
func (c *Coarse) WriteTo(w *codec.Writer) {
	w.U32(uint32(c.NLists))
	w.U32(uint32(c.Dims))
	w.String(string(c.metric))
	w.F32s(c.Centroids)
}

// Read restores a quantizer written by WriteTo.
func Read(r *codec.Reader) (*Coarse, error) {
	nLists := int(r.U32())
	dims := int(r.U32())
	metric := core.DistanceMetric(r.String())
	centroids := r.F32s()
	if err := r.Err(); err != nil {
		return nil, err
	}
	if nLists <= 0 || dims <= 0 || len(centroids) != nLists*dims {
		return nil, fmt.Errorf("%w: coarse quantizer shape %dx%d with %d values", codec.ErrCorrupt, nLists, dims, len(centroids))
	}
	return New(nLists, dims, centroids, metric), nil
}
