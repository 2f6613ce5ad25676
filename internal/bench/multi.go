package bench

import (
	"io"

	"github.com/23skdu/quiver/internal/ann"
	"github.com/23skdu/quiver/internal/clique"
	"github.com/23skdu/quiver/internal/core"
	qerrors "github.com/23skdu/quiver/internal/errors"
	"github.com/23skdu/quiver/internal/mg"
	"github.com/23skdu/quiver/internal/resources"
)

// Multi drives a distributed index across a clique. Inputs stay in host memory; the
// distributed index stages them onto each participant itself.
type Multi struct {
	clique *clique.Clique
	params ann.IndexParams
	index  *mg.Index
	search ann.SearchParams
	merge  mg.MergeMode
}

// NewMulti creates an unformed distributed algorithm over c.
//
//nolint:gocritic // mg.Options carries a logger by value
func NewMulti(c *clique.Clique, params ann.IndexParams, dims int, opts mg.Options) (*Multi, error) {
	idx, err := mg.New(c, params, dims, opts)
	if err != nil {
		return nil, err
	}
	return &Multi{clique: c, params: params, index: idx, merge: opts.Merge}, nil
}

func (a *Multi) Build(dataset core.Matrix) error {
	return a.index.Build(a.params, dataset)
}

func (a *Multi) SetSearchParam(p SearchParam) error {
	if p.Params == nil || p.Params.Kind() != a.index.Kind() {
		return qerrors.NewInvalidParameters("bench.SetSearchParam", "search parameters %T do not match %s index", p.Params, a.index.Kind())
	}
	if !p.Merge.Valid() {
		return qerrors.NewInvalidParameters("bench.SetSearchParam", "unknown merge mode %s", p.Merge)
	}
	a.search = p.Params
	a.merge = p.Merge
	return nil
}

func (a *Multi) Search(queries core.Matrix, k int) ([][]core.Neighbor, error) {
	if a.search == nil {
		return nil, qerrors.NewInvalidParameters("bench.Search", "search parameters not set")
	}
	return a.index.SearchWithMerge(a.search, a.merge, queries, k)
}

func (a *Multi) Save(w io.Writer) error { return a.index.Save(w) }

func (a *Multi) Load(r io.Reader) error { return a.index.Load(r) }

func (a *Multi) Preference() Property {
	return Property{DatasetMemory: MemoryHost, QueryMemory: MemoryHost}
}

func (a *Multi) UsesStream() bool { return false }

// SyncStream returns the root participant's handle.
func (a *Multi) SyncStream() *resources.Handle {
	return a.clique.Participant(a.clique.Root()).Handle
}

func (a *Multi) Copy() Algo {
	cp := *a
	return &cp
}

// Close shuts down the clique.
func (a *Multi) Close() error { return a.clique.Close() }

// Index exposes the underlying distributed index.
func (a *Multi) Index() *mg.Index { return a.index }
