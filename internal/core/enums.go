package core

import (
	"fmt"
	"strings"
)

// DistanceMetric defines the distance metric used for vector comparison.
// Every metric is reported as a distance: lower is closer.
type DistanceMetric string

const (
	// MetricEuclidean is squared L2 distance.
	MetricEuclidean DistanceMetric = "euclidean"
	// MetricCosine is the Cosine distance (1.0 - cosine_similarity).
	MetricCosine DistanceMetric = "cosine"
	// MetricDotProduct is the negated inner product so that larger products sort first.
	MetricDotProduct DistanceMetric = "dot_product"
)

// ParseMetric accepts the canonical names plus the short aliases used by ANN benchmark configs.
func ParseMetric(s string) (DistanceMetric, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "euclidean", "l2", "sqeuclidean":
		return MetricEuclidean, nil
	case "cosine", "angular":
		return MetricCosine, nil
	case "dot_product", "inner_product", "ip":
		return MetricDotProduct, nil
	default:
		return "", fmt.Errorf("unknown distance metric %q", s)
	}
}

// Kind identifies the backend algorithm behind an index.
type Kind uint8

const (
	KindUnknown Kind = iota
	// KindIVFFlat is the clustered backend (inverted file over raw vectors).
	KindIVFFlat
	// KindIVFPQ is the quantized-clustered backend (inverted file over PQ codes).
	KindIVFPQ
	// KindGraph is the proximity-graph backend.
	KindGraph
)

func (k Kind) String() string {
	switch k {
	case KindIVFFlat:
		return "ivf_flat"
	case KindIVFPQ:
		return "ivf_pq"
	case KindGraph:
		return "graph"
	default:
		return "unknown"
	}
}

// Valid reports whether k names a real backend.
func (k Kind) Valid() bool {
	return k >= KindIVFFlat && k <= KindGraph
}

// SupportsExtend reports whether the backend can append vectors in place.
func (k Kind) SupportsExtend() bool {
	return k == KindIVFFlat || k == KindIVFPQ
}

// ParseKind maps a backend name to its Kind. "cagra" is accepted as an alias for the graph backend.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ivf_flat", "ivf-flat", "ivfflat":
		return KindIVFFlat, nil
	case "ivf_pq", "ivf-pq", "ivfpq":
		return KindIVFPQ, nil
	case "graph", "cagra", "hnsw":
		return KindGraph, nil
	default:
		return KindUnknown, fmt.Errorf("unknown index kind %q", s)
	}
}
