package bench

import (
	"io"

	"github.com/rs/zerolog"

	"github.com/23skdu/quiver/internal/ann"
	"github.com/23skdu/quiver/internal/core"
	qerrors "github.com/23skdu/quiver/internal/errors"
	"github.com/23skdu/quiver/internal/resources"
)

// Single drives one index facade on one device.
type Single struct {
	res    *resources.Handle
	params ann.IndexParams
	index  *ann.Index
	search ann.SearchParams
	logger zerolog.Logger
}

// NewSingle creates an unbuilt single-device algorithm.
func NewSingle(res *resources.Handle, params ann.IndexParams, dims int, opts ...ann.Option) (*Single, error) {
	if res == nil {
		return nil, qerrors.NewInvalidParameters("bench.NewSingle", "resource handle is required")
	}
	idx, err := ann.New(params, dims, opts...)
	if err != nil {
		return nil, err
	}
	return &Single{res: res, params: params, index: idx, logger: zerolog.Nop()}, nil
}

func (a *Single) Build(dataset core.Matrix) error {
	return a.index.Build(a.res, a.params, dataset)
}

func (a *Single) SetSearchParam(p SearchParam) error {
	if p.Params == nil || p.Params.Kind() != a.index.Kind() {
		return qerrors.NewInvalidParameters("bench.SetSearchParam", "search parameters %T do not match %s index", p.Params, a.index.Kind())
	}
	a.search = p.Params
	return nil
}

func (a *Single) Search(queries core.Matrix, k int) ([][]core.Neighbor, error) {
	if a.search == nil {
		return nil, qerrors.NewInvalidParameters("bench.Search", "search parameters not set")
	}
	return a.index.Search(a.res, a.search, queries, k)
}

func (a *Single) Save(w io.Writer) error { return a.index.Serialize(a.res, w) }

func (a *Single) Load(r io.Reader) error { return a.index.Deserialize(a.res, r) }

func (a *Single) Preference() Property {
	return Property{DatasetMemory: MemoryDevice, QueryMemory: MemoryDevice}
}

func (a *Single) UsesStream() bool { return true }

func (a *Single) SyncStream() *resources.Handle { return a.res }

func (a *Single) Copy() Algo {
	cp := *a
	return &cp
}

// Close is a no-op; the handle belongs to the caller.
func (a *Single) Close() error { return nil }

// Index exposes the underlying facade.
func (a *Single) Index() *ann.Index { return a.index }
