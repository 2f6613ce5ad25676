package ann

import (
	"io"

	"github.com/23skdu/quiver/internal/core"
	"github.com/23skdu/quiver/internal/graph"
	"github.com/23skdu/quiver/internal/ivfflat"
	"github.com/23skdu/quiver/internal/ivfpq"
	"github.com/23skdu/quiver/internal/resources"
)

// IndexParams is the build parameter variant. The concrete type selects the backend.
type IndexParams interface {
	Kind() core.Kind
}

// SearchParams is the search parameter variant.
type SearchParams interface {
	Kind() core.Kind
}

// backend is the tagged variant held by a built Index. Each case wraps exactly one
// backend index value and asserts its own parameter types.
type backend interface {
	kind() core.Kind
	size() int64
	extend(res *resources.Handle, vectors core.Matrix, ids []int64) (backend, error)
	// checkSearch validates params against the built index without touching the stream.
	checkSearch(params SearchParams) error
	search(res *resources.Handle, params SearchParams, queries core.Matrix, k int) ([][]core.Neighbor, error)
	serialize(res *resources.Handle, w io.Writer) error
}

func buildBackend(res *resources.Handle, params IndexParams, dataset core.Matrix, ids []int64) (backend, error) {
	switch p := params.(type) {
	case ivfflat.IndexParams:
		idx, err := ivfflat.Build(res, p, dataset, ids)
		if err != nil {
			return nil, err
		}
		return flatBackend{idx}, nil
	case ivfpq.IndexParams:
		idx, err := ivfpq.Build(res, p, dataset, ids)
		if err != nil {
			return nil, err
		}
		return pqBackend{idx}, nil
	case graph.IndexParams:
		idx, err := graph.Build(res, p, dataset, ids)
		if err != nil {
			return nil, err
		}
		return graphBackend{idx}, nil
	default:
		return nil, errUnknownParams("ann.Build", params)
	}
}

func deserializeBackend(res *resources.Handle, kind core.Kind, r io.Reader) (backend, error) {
	switch kind {
	case core.KindIVFFlat:
		idx, err := ivfflat.Deserialize(res, r)
		if err != nil {
			return nil, err
		}
		return flatBackend{idx}, nil
	case core.KindIVFPQ:
		idx, err := ivfpq.Deserialize(res, r)
		if err != nil {
			return nil, err
		}
		return pqBackend{idx}, nil
	case core.KindGraph:
		idx, err := graph.Deserialize(res, r)
		if err != nil {
			return nil, err
		}
		return graphBackend{idx}, nil
	default:
		return nil, errUnknownKind("ann.Deserialize", kind)
	}
}

type flatBackend struct{ idx *ivfflat.Index }

func (b flatBackend) kind() core.Kind { return core.KindIVFFlat }
func (b flatBackend) size() int64     { return b.idx.Size() }

func (b flatBackend) extend(res *resources.Handle, vectors core.Matrix, ids []int64) (backend, error) {
	next, err := b.idx.Extend(res, vectors, ids)
	if err != nil {
		return nil, err
	}
	return flatBackend{next}, nil
}

func (b flatBackend) checkSearch(params SearchParams) error {
	if p, ok := params.(ivfflat.SearchParams); ok {
		return p.Validate(b.idx.NLists())
	}
	return errParamMismatch("ann.Search", core.KindIVFFlat, params)
}

func (b flatBackend) search(res *resources.Handle, params SearchParams, queries core.Matrix, k int) ([][]core.Neighbor, error) {
	if p, ok := params.(ivfflat.SearchParams); ok {
		return b.idx.Search(res, p, queries, k)
	}
	return nil, errParamMismatch("ann.Search", core.KindIVFFlat, params)
}

func (b flatBackend) serialize(res *resources.Handle, w io.Writer) error {
	return b.idx.Serialize(res, w)
}

type pqBackend struct{ idx *ivfpq.Index }

func (b pqBackend) kind() core.Kind { return core.KindIVFPQ }
func (b pqBackend) size() int64     { return b.idx.Size() }

func (b pqBackend) extend(res *resources.Handle, vectors core.Matrix, ids []int64) (backend, error) {
	next, err := b.idx.Extend(res, vectors, ids)
	if err != nil {
		return nil, err
	}
	return pqBackend{next}, nil
}

func (b pqBackend) checkSearch(params SearchParams) error {
	if p, ok := params.(ivfpq.SearchParams); ok {
		return p.Validate(b.idx.NLists())
	}
	return errParamMismatch("ann.Search", core.KindIVFPQ, params)
}

func (b pqBackend) search(res *resources.Handle, params SearchParams, queries core.Matrix, k int) ([][]core.Neighbor, error) {
	if p, ok := params.(ivfpq.SearchParams); ok {
		return b.idx.Search(res, p, queries, k)
	}
	return nil, errParamMismatch("ann.Search", core.KindIVFPQ, params)
}

func (b pqBackend) serialize(res *resources.Handle, w io.Writer) error {
	return b.idx.Serialize(res, w)
}

type graphBackend struct{ idx *graph.Index }

func (b graphBackend) kind() core.Kind { return core.KindGraph }
func (b graphBackend) size() int64     { return b.idx.Size() }

func (b graphBackend) extend(*resources.Handle, core.Matrix, []int64) (backend, error) {
	return nil, errExtendUnsupported()
}

func (b graphBackend) checkSearch(params SearchParams) error {
	if p, ok := params.(graph.SearchParams); ok {
		return p.Validate()
	}
	return errParamMismatch("ann.Search", core.KindGraph, params)
}

func (b graphBackend) search(res *resources.Handle, params SearchParams, queries core.Matrix, k int) ([][]core.Neighbor, error) {
	if p, ok := params.(graph.SearchParams); ok {
		return b.idx.Search(res, p, queries, k)
	}
	return nil, errParamMismatch("ann.Search", core.KindGraph, params)
}

func (b graphBackend) serialize(res *resources.Handle, w io.Writer) error {
	return b.idx.Serialize(res, w)
}
