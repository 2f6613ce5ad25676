package mg

import (
	"fmt"
	"strings"

	qerrors "github.com/23skdu/quiver/internal/errors"
	"github.com/23skdu/quiver/internal/merge"
)

// MergeMode selects how per-shard results are combined.
type MergeMode = merge.Mode

const (
	MergeGlobalDistance = merge.GlobalDistance
	MergeDeduplicate    = merge.Deduplicate
	MergeTree           = merge.Tree
)

// ParseMergeMode maps a config string to a MergeMode.
func ParseMergeMode(s string) (MergeMode, error) { return merge.ParseMode(s) }

// DistributionMode selects how the dataset is laid out across participants.
type DistributionMode uint8

const (
	// Sharded splits rows into contiguous shards, one per participant.
	Sharded DistributionMode = iota
	// Replicated builds the full dataset on every participant and splits queries instead.
	Replicated
)

func (m DistributionMode) String() string {
	switch m {
	case Sharded:
		return "sharded"
	case Replicated:
		return "replicated"
	default:
		return fmt.Sprintf("distribution(%d)", uint8(m))
	}
}

// ParseDistributionMode maps a config string to a DistributionMode.
func ParseDistributionMode(s string) (DistributionMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sharded", "shard":
		return Sharded, nil
	case "replicated", "replication":
		return Replicated, nil
	default:
		return Sharded, qerrors.NewInvalidParameters("mg.ParseDistributionMode", "unknown distribution mode %q", s)
	}
}

// State is the lifecycle position of a distributed index.
type State uint8

const (
	Unformed State = iota
	Built
	Extended
)

func (s State) String() string {
	switch s {
	case Unformed:
		return "unformed"
	case Built:
		return "built"
	case Extended:
		return "extended"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}
