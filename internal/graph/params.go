package graph

import (
	"github.com/23skdu/quiver/internal/core"
	qerrors "github.com/23skdu/quiver/internal/errors"
)

// IndexParams configures graph construction.
// GraphDegree is the neighbor count per node; LevelFactor is the layer generation
// factor; BuildItopkSize is the candidate list width used while inserting.
type IndexParams struct {
	GraphDegree    int                 `yaml:"graph_degree"`
	LevelFactor    float64             `yaml:"level_factor"`
	BuildItopkSize int                 `yaml:"build_itopk_size"`
	Metric         core.DistanceMetric `yaml:"metric"`
	Seed           int64               `yaml:"seed"`
}

// DefaultIndexParams returns the usual build settings.
func DefaultIndexParams() IndexParams {
	return IndexParams{
		GraphDegree:    16,
		LevelFactor:    0.25,
		BuildItopkSize: 64,
		Metric:         core.MetricEuclidean,
	}
}

// Kind tags the parameters.
func (IndexParams) Kind() core.Kind { return core.KindGraph }

// Validate checks the parameters.
func (p IndexParams) Validate() error {
	const op = "graph.Build"
	if p.GraphDegree < 2 {
		return qerrors.NewInvalidParameters(op, "graph_degree must be at least 2, got %d", p.GraphDegree)
	}
	if p.LevelFactor <= 0 || p.LevelFactor > 1 {
		return qerrors.NewInvalidParameters(op, "level_factor must be in (0, 1], got %g", p.LevelFactor)
	}
	if p.BuildItopkSize < 0 {
		return qerrors.NewInvalidParameters(op, "build_itopk_size must not be negative, got %d", p.BuildItopkSize)
	}
	if _, err := core.ParseMetric(string(p.Metric)); err != nil {
		return qerrors.WrapInvalidParameters(err, op, "unknown metric")
	}
	return nil
}

// SearchParams configures a search. ItopkSize is the candidate list width; it is raised
// to k when smaller.
type SearchParams struct {
	ItopkSize int `yaml:"itopk"`
}

// DefaultSearchParams returns the usual search settings.
func DefaultSearchParams() SearchParams {
	return SearchParams{ItopkSize: 64}
}

// Kind tags the parameters.
func (SearchParams) Kind() core.Kind { return core.KindGraph }

// Validate checks the parameters.
func (p SearchParams) Validate() error {
	if p.ItopkSize < 0 {
		return qerrors.NewInvalidParameters("graph.Search", "itopk_size must not be negative, got %d", p.ItopkSize)
	}
	return nil
}
