package ivfflat

import (
	"github.com/23skdu/quiver/internal/core"
	qerrors "github.com/23skdu/quiver/internal/errors"
)

// IndexParams configures how an IVF-Flat index is built.
type IndexParams struct {
	NLists                 int                 `yaml:"nlist"`
	KMeansNIters           int                 `yaml:"niter"`
	KMeansTrainsetFraction float64             `yaml:"ratio"`
	Metric                 core.DistanceMetric `yaml:"metric"`
	Seed                   int64               `yaml:"seed"`
}

// DefaultIndexParams returns the usual build settings.
func DefaultIndexParams() IndexParams {
	return IndexParams{
		NLists:                 1024,
		KMeansNIters:           20,
		KMeansTrainsetFraction: 0.5,
		Metric:                 core.MetricEuclidean,
	}
}

// Kind tags the parameters.
func (IndexParams) Kind() core.Kind { return core.KindIVFFlat }

// Validate checks the parameters against a dataset shape.
func (p IndexParams) Validate(rows int) error {
	if p.NLists <= 0 {
		return qerrors.NewInvalidParameters("ivfflat.Build", "n_lists must be positive, got %d", p.NLists)
	}
	if rows < p.NLists {
		return qerrors.NewInvalidParameters("ivfflat.Build", "n_lists %d exceeds dataset rows %d", p.NLists, rows)
	}
	if _, err := core.ParseMetric(string(p.Metric)); err != nil {
		return qerrors.WrapInvalidParameters(err, "ivfflat.Build", "unknown metric")
	}
	return nil
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
func (SearchParams) Kind() core.Kind { return core.KindIVFFlat }

// Validate rejects probe counts outside [1, nLists].
func (p SearchParams) Validate(nLists int) error {
	if p.NProbes <= 0 {
		return qerrors.NewInvalidParameters("ivfflat.Search", "n_probes must be positive, got %d", p.NProbes)
	}
	if p.NProbes > nLists {
		return qerrors.NewInvalidParameters("ivfflat.Search", "n_probes %d exceeds n_lists %d", p.NProbes, nLists).
			WithContext("n_lists", nLists)
	}
	return nil
}
