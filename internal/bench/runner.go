package bench

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/23skdu/quiver/internal/core"
	qerrors "github.com/23skdu/quiver/internal/errors"
	"github.com/23skdu/quiver/internal/resources"
	"github.com/23skdu/quiver/internal/simd"
	"github.com/23skdu/quiver/internal/topk"
)

// Result is the outcome of one search configuration.
type Result struct {
	Search   string        `json:"search" yaml:"search"`
	K        int           `json:"k" yaml:"k"`
	Queries  int           `json:"queries" yaml:"queries"`
	Duration time.Duration `json:"duration" yaml:"duration"`
	QPS      float64       `json:"qps" yaml:"qps"`
	// Recall is -1 when no ground truth was supplied.
	Recall float64 `json:"recall" yaml:"recall"`
}

// Describe renders a search configuration for reports.
func (p SearchParam) Describe() string {
	return fmt.Sprintf("%T%+v merge=%s", p.Params, p.Params, p.Merge)
}

// timed runs fn, synchronizing the algorithm's stream around it when it has one.
func timed(a Algo, fn func() error) (time.Duration, error) {
	if a.UsesStream() {
		if err := a.SyncStream().Synchronize(); err != nil {
			return 0, err
		}
	}
	start := time.Now()
	if err := fn(); err != nil {
		return 0, err
	}
	if a.UsesStream() {
		if err := a.SyncStream().Synchronize(); err != nil {
			return 0, err
		}
	}
	return time.Since(start), nil
}

// Build builds a and reports how long it took.
func Build(a Algo, dataset core.Matrix, logger zerolog.Logger) (time.Duration, error) {
	d, err := timed(a, func() error { return a.Build(dataset) })
	if err != nil {
		return 0, err
	}
	logger.Info().Int("rows", dataset.Rows).Dur("elapsed", d).Msg("index built")
	return d, nil
}

// Run searches queries once per configuration and reports throughput and recall.
func Run(a Algo, queries core.Matrix, k int, params []SearchParam, truth [][]int64, logger zerolog.Logger) ([]Result, error) {
	results := make([]Result, 0, len(params))
	for _, p := range params {
		if err := a.SetSearchParam(p); err != nil {
			return results, err
		}
		var found [][]core.Neighbor
		d, err := timed(a, func() error {
			var err error
			found, err = a.Search(queries, k)
			return err
		})
		if err != nil {
			return results, err
		}
		r := Result{Search: p.Describe(), K: k, Queries: queries.Rows, Duration: d, Recall: -1}
		if d > 0 {
			r.QPS = float64(queries.Rows) / d.Seconds()
		}
		if truth != nil {
			r.Recall = Recall(found, truth, k)
		}
		logger.Info().
			Str("search", r.Search).
			Float64("qps", r.QPS).
			Float64("recall", r.Recall).
			Msg("search configuration finished")
		results = append(results, r)
	}
	return results, nil
}

// GroundTruth computes exact k-nearest neighbors by brute force. Row numbers are the ids.
func GroundTruth(res *resources.Handle, base, queries core.Matrix, k int, metric core.DistanceMetric) ([][]int64, error) {
	const op = "bench.GroundTruth"
	if base.Dims != queries.Dims {
		return nil, qerrors.NewInvalidParameters(op, "base dims %d, query dims %d", base.Dims, queries.Dims)
	}
	if k <= 0 {
		return nil, qerrors.NewInvalidParameters(op, "k must be positive, got %d", k)
	}
	dist := simd.ForMetric(metric)
	out := make([][]int64, queries.Rows)
	err := res.Launch(queries.Rows, func(lo, hi int) error {
		sel := topk.New(k)
		dists := make([]float32, base.Rows)
		for q := lo; q < hi; q++ {
			sel.Reset(k)
			simd.DistanceBatchFlat(dist, queries.Row(q), base.Data, base.Dims, dists)
			for i, d := range dists {
				sel.Push(core.Neighbor{ID: int64(i), Distance: d})
			}
			sorted := sel.Sorted()
			ids := make([]int64, len(sorted))
			for i, n := range sorted {
				ids[i] = n.ID
			}
			out[q] = ids
		}
		return nil
	})
	return out, err
}

// Recall is the mean fraction of each query's true top-k found in its results.
func Recall(found [][]core.Neighbor, truth [][]int64, k int) float64 {
	n := min(len(found), len(truth))
	if n == 0 {
		return 0
	}
	var total float64
	for q := 0; q < n; q++ {
		want := truth[q][:min(k, len(truth[q]))]
		if len(want) == 0 {
			total++
			continue
		}
		set := make(map[int64]struct{}, len(want))
		for _, id := range want {
			set[id] = struct{}{}
		}
		hits := 0
		for _, nb := range found[q] {
			if _, ok := set[nb.ID]; ok {
				hits++
			}
		}
		total += float64(hits) / float64(len(want))
	}
	return total / float64(n)
}
