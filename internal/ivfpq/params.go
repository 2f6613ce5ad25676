package ivfpq

import (
	"github.com/23skdu/quiver/internal/core"
	qerrors "github.com/23skdu/quiver/internal/errors"
)

// IndexParams configures how an IVF-PQ index is built.
// PQDim is the number of subspaces; zero picks one from the dimensionality.
// PQBits sets the codebook size per subspace to 1<<PQBits.
type IndexParams struct {
	NLists                 int                 `yaml:"nlist"`
	PQDim                  int                 `yaml:"pq_dim"`
	PQBits                 int                 `yaml:"pq_bits"`
	KMeansNIters           int                 `yaml:"niter"`
	KMeansTrainsetFraction float64             `yaml:"ratio"`
	Metric                 core.DistanceMetric `yaml:"metric"`
	Seed                   int64               `yaml:"seed"`
}

// DefaultIndexParams returns the usual build settings.
func DefaultIndexParams() IndexParams {
	return IndexParams{
		NLists:                 1024,
		PQBits:                 8,
		KMeansNIters:           20,
		KMeansTrainsetFraction: 0.5,
		Metric:                 core.MetricEuclidean,
	}
}

// Kind tags the parameters.
func (IndexParams) Kind() core.Kind { return core.KindIVFPQ }

// Validate checks the parameters against a dataset shape.
func (p IndexParams) Validate(rows, dims int) error {
	const op = "ivfpq.Build"
	if p.NLists <= 0 {
		return qerrors.NewInvalidParameters(op, "n_lists must be positive, got %d", p.NLists)
	}
	if rows < p.NLists {
		return qerrors.NewInvalidParameters(op, "n_lists %d exceeds dataset rows %d", p.NLists, rows)
	}
	if p.PQBits < 4 || p.PQBits > 8 {
		return qerrors.NewInvalidParameters(op, "pq_bits must be in [4, 8], got %d", p.PQBits)
	}
	if m := p.subspaces(dims); m <= 0 || dims%m != 0 {
		return qerrors.NewInvalidParameters(op, "pq_dim %d does not divide dims %d", p.PQDim, dims)
	}
	if _, err := core.ParseMetric(string(p.Metric)); err != nil {
		return qerrors.WrapInvalidParameters(err, op, "unknown metric")
	}
	return nil
}

// subspaces resolves PQDim, choosing the largest divisor of dims not above dims/2 when unset.
func (p IndexParams) subspaces(dims int) int {
	if p.PQDim > 0 {
		return p.PQDim
	}
	for m := dims / 2; m > 1; m-- {
		if dims%m == 0 {
			return m
		}
	}
	return 1
}

// SearchParams configures a search.
type SearchParams struct {
	NProbes int `yaml:"nprobe"`
}

// DefaultSearchParams returns the usual search settings.
func DefaultSearchParams() SearchParams {
	return SearchParams{NProbes: 20}
}

// Kind tags the parameters.
func (SearchParams) Kind() core.Kind { return core.KindIVFPQ }

// Validate rejects probe counts outside [1, nLists].
func (p SearchParams) Validate(nLists int) error {
	if p.NProbes <= 0 {
		return qerrors.NewInvalidParameters("ivfpq.Search", "n_probes must be positive, got %d", p.NProbes)
	}
	if p.NProbes > nLists {
		return qerrors.NewInvalidParameters("ivfpq.Search", "n_probes %d exceeds n_lists %d", p.NProbes, nLists).
			WithContext("n_lists", nLists)
	}
	return nil
}
