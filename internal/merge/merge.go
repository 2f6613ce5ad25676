// Package merge combines per-shard top-k lists into one global top-k.
//
// Candidates are ordered by distance, then shard index, then rank within the shard.
// That order is total, so every mode here is deterministic.
package merge

import (
	"fmt"
	"slices"
	"strings"

	"github.com/23skdu/quiver/internal/core"
	qerrors "github.com/23skdu/quiver/internal/errors"
	"github.com/23skdu/quiver/internal/metrics"
)

// Mode is the closed set of merge policies.
type Mode uint8

const (
	// GlobalDistance keeps the k globally nearest candidates.
	GlobalDistance Mode = iota
	// Deduplicate drops repeated identifiers, keeping the first in candidate order, before
	// selecting k. Useful when shards overlap.
	Deduplicate
	// Tree reduces lists pairwise. The result equals GlobalDistance.
	Tree
)

func (m Mode) String() string {
	switch m {
	case GlobalDistance:
		return "global_distance"
	case Deduplicate:
		return "deduplicate"
	case Tree:
		return "tree"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool { return m <= Tree }

// ParseMode maps a config string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "global_distance", "global":
		return GlobalDistance, nil
	case "deduplicate", "dedup":
		return Deduplicate, nil
	case "tree":
		return Tree, nil
	default:
		return GlobalDistance, qerrors.NewInvalidParameters("merge.ParseMode", "unknown merge mode %q", s)
	}
}

// Candidate is a neighbor tagged with where it came from.
type Candidate struct {
	core.Neighbor
	Shard int
	Rank  int
}

func compare(a, b Candidate) int {
	switch {
	case a.Distance < b.Distance:
		return -1
	case a.Distance > b.Distance:
		return 1
	case a.Shard != b.Shard:
		return a.Shard - b.Shard
	default:
		return a.Rank - b.Rank
	}
}

// FromShard tags one shard's list.
func FromShard(shard int, list []core.Neighbor) []Candidate {
	out := make([]Candidate, len(list))
	for i, n := range list {
		out[i] = Candidate{Neighbor: n, Shard: shard, Rank: i}
	}
	return out
}

// Neighbors strips the tags.
func Neighbors(cands []Candidate) []core.Neighbor {
	out := make([]core.Neighbor, len(cands))
	for i, c := range cands {
		out[i] = c.Neighbor
	}
	return out
}

// Combine merges two candidate lists, each already in candidate order, keeping at most k.
func Combine(k int, a, b []Candidate) []Candidate {
	out := make([]Candidate, 0, min(k, len(a)+len(b)))
	i, j := 0, 0
	for len(out) < k && (i < len(a) || j < len(b)) {
		if j >= len(b) || (i < len(a) && compare(a[i], b[j]) <= 0) {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	return out
}

func flatten(lists [][]core.Neighbor) []Candidate {
	total := 0
	for _, l := range lists {
		total += len(l)
	}
	all := make([]Candidate, 0, total)
	for shard, l := range lists {
		all = append(all, FromShard(shard, l)...)
	}
	slices.SortFunc(all, compare)
	return all
}

// GlobalDistanceMerge returns the k nearest candidates across lists.
func GlobalDistanceMerge(k int, lists [][]core.Neighbor) []core.Neighbor {
	all := flatten(lists)
	return Neighbors(all[:min(k, len(all))])
}

// DeduplicateMerge is GlobalDistanceMerge after dropping repeated identifiers.
func DeduplicateMerge(k int, lists [][]core.Neighbor) []core.Neighbor {
	all := flatten(lists)
	seen := make(map[int64]struct{}, min(k, len(all)))
	out := make([]core.Neighbor, 0, min(k, len(all)))
	for _, c := range all {
		if len(out) == k {
			break
		}
		if _, dup := seen[c.ID]; dup {
			continue
		}
		seen[c.ID] = struct{}{}
		out = append(out, c.Neighbor)
	}
	return out
}

// TreeMerge reduces adjacent lists pairwise, truncating to k at every level.
func TreeMerge(k int, lists [][]core.Neighbor) []core.Neighbor {
	if len(lists) == 0 || k <= 0 {
		return []core.Neighbor{}
	}
	level := make([][]Candidate, len(lists))
	for shard, l := range lists {
		c := FromShard(shard, l)
		slices.SortFunc(c, compare)
		level[shard] = c[:min(k, len(c))]
	}
	for len(level) > 1 {
		next := make([][]Candidate, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			next = append(next, Combine(k, level[i], level[i+1]))
		}
		level = next
	}
	return Neighbors(level[0])
}

// Merge dispatches on mode. Every returned list is sorted by ascending distance and holds
// min(k, available) entries.
func Merge(mode Mode, k int, lists [][]core.Neighbor) ([]core.Neighbor, error) {
	if k < 0 {
		return nil, qerrors.NewInvalidParameters("merge.Merge", "k must not be negative, got %d", k)
	}
	n := 0
	for _, l := range lists {
		n += len(l)
	}
	var out []core.Neighbor
	switch mode {
	case GlobalDistance:
		out = GlobalDistanceMerge(k, lists)
	case Deduplicate:
		out = DeduplicateMerge(k, lists)
	case Tree:
		out = TreeMerge(k, lists)
	default:
		return nil, qerrors.NewInvalidParameters("merge.Merge", "unknown merge mode %s", mode)
	}
	metrics.MergeCandidatesTotal.WithLabelValues(mode.String()).Add(float64(n))
	return out, nil
}
