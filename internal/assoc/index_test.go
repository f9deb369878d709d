package assoc

import (
	"context"
	"testing"
	"time"

	"github.com/xiy/persona-memory/pkg/types"
)

type fakeEdgeStore struct {
	byTag []types.MemoryRecord
	edges [][2]string
}

func (f *fakeEdgeStore) RecordsByTag(_ context.Context, _ []string, _ int, _ time.Time) ([]types.MemoryRecord, error) {
	return f.byTag, nil
}

func (f *fakeEdgeStore) InsertEdge(_ context.Context, a, b string, _ time.Time) error {
	f.edges = append(f.edges, [2]string{a, b})
	return nil
}

func (f *fakeEdgeStore) Neighbors(_ context.Context, id string) ([]string, error) {
	var out []string
	for _, e := range f.edges {
		switch id {
		case e[0]:
			out = append(out, e[1])
		case e[1]:
			out = append(out, e[0])
		}
	}
	return out, nil
}

func TestJaccard(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		a, b []string
		want float64
	}{
		{"identical", []string{"x", "y"}, []string{"x", "y"}, 1.0},
		{"half", []string{"x", "y"}, []string{"x", "z"}, 1.0 / 3.0},
		{"disjoint", []string{"x"}, []string{"y"}, 0},
		{"empty", nil, []string{"y"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Jaccard(tt.a, tt.b); got != tt.want {
				t.Fatalf("Jaccard(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestLinkByTags_ThresholdAndSelfSkip(t *testing.T) {
	t.Parallel()
	st := &fakeEdgeStore{byTag: []types.MemoryRecord{
		{ID: "self", Tags: []string{"space", "stars"}},
		{ID: "close", Tags: []string{"space", "stars", "night"}},
		{ID: "far", Tags: []string{"cooking"}},
	}}
	ix := New(st, 0.3, 10)

	rec := types.MemoryRecord{ID: "self", Tags: []string{"space", "stars"}}
	linked, err := ix.LinkByTags(context.Background(), rec, time.Now())
	if err != nil {
		t.Fatalf("LinkByTags() error = %v", err)
	}
	if len(linked) != 1 || linked[0] != "close" {
		t.Fatalf("expected [close], got %v", linked)
	}

	// Edges are symmetric through Neighbors from either endpoint.
	n, err := ix.Neighbors(context.Background(), "close")
	if err != nil {
		t.Fatalf("Neighbors() error = %v", err)
	}
	if len(n) != 1 || n[0] != "self" {
		t.Fatalf("expected symmetric edge to self, got %v", n)
	}
}
