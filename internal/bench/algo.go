// Package bench adapts single-device and distributed indexes to one benchmark driver
// interface.
package bench

import (
	"io"

	"github.com/23skdu/quiver/internal/ann"
	"github.com/23skdu/quiver/internal/core"
	"github.com/23skdu/quiver/internal/mg"
	"github.com/23skdu/quiver/internal/resources"
)

// MemoryType says where an algorithm wants its inputs to live.
type MemoryType uint8

const (
	MemoryHost MemoryType = iota
	MemoryDevice
)

func (m MemoryType) String() string {
	if m == MemoryDevice {
		return "device"
	}
	return "host"
}

// Property describes the input placement an algorithm expects.
type Property struct {
	DatasetMemory MemoryType
	QueryMemory   MemoryType
}

// SearchParam is one search configuration. Merge only affects distributed algorithms.
type SearchParam struct {
	Params ann.SearchParams
	Merge  mg.MergeMode
}

// Algo is the driver-facing view of an index.
type Algo interface {
	Build(dataset core.Matrix) error
	SetSearchParam(p SearchParam) error
	Search(queries core.Matrix, k int) ([][]core.Neighbor, error)
	Save(w io.Writer) error
	Load(r io.Reader) error
	// Preference reports where the caller should place datasets and queries.
	Preference() Property
	// UsesStream reports whether the caller must synchronize SyncStream around timings.
	UsesStream() bool
	// SyncStream returns the handle whose stream the caller synchronizes.
	SyncStream() *resources.Handle
	// Copy returns an algorithm sharing the built index with its own search settings.
	Copy() Algo
	// Close releases resources the algorithm created. Copies share them.
	Close() error
}
