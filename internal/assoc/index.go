// Package assoc maintains the undirected association graph between memory
// records. Edges live in a side table keyed by id pairs, never as embedded
// references, so the structure is cycle-free and serializes trivially.
package assoc

import (
	"context"
	"time"

	"github.com/xiy/persona-memory/pkg/types"
)

// EdgeStore is the persistence surface the index needs.
type EdgeStore interface {
	RecordsByTag(ctx context.Context, tags []string, limit int, now time.Time) ([]types.MemoryRecord, error)
	InsertEdge(ctx context.Context, a, b string, now time.Time) error
	Neighbors(ctx context.Context, id string) ([]string, error)
}

// Index links records by tag overlap or explicit reference.
type Index struct {
	store     EdgeStore
	threshold float64
	maxLinks  int
}

// New returns an Index creating edges at the given Jaccard threshold, at most
// maxLinks per record.
func New(store EdgeStore, threshold float64, maxLinks int) *Index {
	if threshold <= 0 {
		threshold = 0.3
	}
	if maxLinks <= 0 {
		maxLinks = 10
	}
	return &Index{store: store, threshold: threshold, maxLinks: maxLinks}
}

// Link records an explicit undirected edge between two records.
func (ix *Index) Link(ctx context.Context, a, b string, now time.Time) error {
	return ix.store.InsertEdge(ctx, a, b, now)
}

// LinkByTags creates edges from rec to existing records whose tag sets overlap
// above the threshold. The candidate scan is bounded and the returned slice
// lists the linked ids in store order.
func (ix *Index) LinkByTags(ctx context.Context, rec types.MemoryRecord, now time.Time) ([]string, error) {
	if len(rec.Tags) == 0 {
		return nil, nil
	}
	cands, err := ix.store.RecordsByTag(ctx, rec.Tags, ix.maxLinks*4, now)
	if err != nil {
		return nil, err
	}

	linked := make([]string, 0, ix.maxLinks)
	for _, cand := range cands {
		if cand.ID == rec.ID {
			continue
		}
		if Jaccard(rec.Tags, cand.Tags) < ix.threshold {
			continue
		}
		if err := ix.store.InsertEdge(ctx, rec.ID, cand.ID, now); err != nil {
			return linked, err
		}
		linked = append(linked, cand.ID)
		if len(linked) >= ix.maxLinks {
			break
		}
	}
	return linked, nil
}

// Neighbors returns the ids one hop away. Depth is capped at one hop to bound
// retrieval cost regardless of graph density.
func (ix *Index) Neighbors(ctx context.Context, id string) ([]string, error) {
	return ix.store.Neighbors(ctx, id)
}

// Jaccard computes set overlap between two tag slices.
func Jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(a))
	for _, t := range a {
		set[t] = struct{}{}
	}
	inter := 0
	union := len(set)
	seen := make(map[string]struct{}, len(b))
	for _, t := range b {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := set[t]; ok {
			inter++
		} else {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
