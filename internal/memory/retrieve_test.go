package memory

import (
	"context"
	"testing"
	"time"

	"github.com/xiy/persona-memory/pkg/types"
)

func TestRetrieve_RanksLexicalMatchFirst(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _ := newTestService(t, nil)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc.SetClock(func() time.Time { return base })

	comet, err := svc.Ingest(ctx, types.IngestInput{
		Text:      "the comet appeared over the northern ridge",
		SessionID: "s1",
	})
	if err != nil {
		t.Fatalf("Ingest(comet) error = %v", err)
	}
	if _, err := svc.Ingest(ctx, types.IngestInput{
		Text:      "baked sourdough with the new starter",
		SessionID: "s1",
	}); err != nil {
		t.Fatalf("Ingest(bread) error = %v", err)
	}
	if _, err := svc.Ingest(ctx, types.IngestInput{
		Text:      "My name is Alex",
		SessionID: "s1",
	}); err != nil {
		t.Fatalf("Ingest(name) error = %v", err)
	}

	first, err := svc.Retrieve(ctx, types.RetrieveInput{Query: "comet northern ridge"})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(first) == 0 || first[0].Record.ID != comet.ID {
		t.Fatalf("expected comet record ranked first, got %v", first)
	}
	if first[0].MatchScore != 1 {
		t.Fatalf("expected full lexical match, got %v", first[0].MatchScore)
	}

	// With a fixed clock a repeat query returns the identical ordering.
	second, err := svc.Retrieve(ctx, types.RetrieveInput{Query: "comet northern ridge"})
	if err != nil {
		t.Fatalf("Retrieve(repeat) error = %v", err)
	}
	if len(second) != len(first) {
		t.Fatalf("result count changed between calls: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Record.ID != second[i].Record.ID {
			t.Fatalf("ordering changed at %d: %s vs %s", i, first[i].Record.ID, second[i].Record.ID)
		}
	}
}

func TestRetrieve_TemporalCuesGoChronological(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _ := newTestService(t, nil)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc.SetClock(func() time.Time { return base })

	early, err := svc.Ingest(ctx, types.IngestInput{
		Text:      "counted seventeen ducks by the pond",
		SessionID: "s1",
	})
	if err != nil {
		t.Fatalf("Ingest(early) error = %v", err)
	}

	svc.SetClock(func() time.Time { return base.Add(time.Hour) })
	late, err := svc.Ingest(ctx, types.IngestInput{
		Text:      "folded laundry while humming quietly",
		SessionID: "s1",
	})
	if err != nil {
		t.Fatalf("Ingest(late) error = %v", err)
	}

	newest, err := svc.Retrieve(ctx, types.RetrieveInput{Query: "what did we talk about last time"})
	if err != nil {
		t.Fatalf("Retrieve(newest) error = %v", err)
	}
	if len(newest) != 2 || newest[0].Record.ID != late.ID {
		t.Fatalf("expected newest-first chronology, got %v", newest)
	}

	oldest, err := svc.Retrieve(ctx, types.RetrieveInput{Query: "what was the earliest thing I told you"})
	if err != nil {
		t.Fatalf("Retrieve(oldest) error = %v", err)
	}
	if len(oldest) != 2 || oldest[0].Record.ID != early.ID {
		t.Fatalf("expected oldest-first chronology, got %v", oldest)
	}
}

func TestRetrieve_ExpandsAssociations(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _ := newTestService(t, nil)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc.SetClock(func() time.Time { return base })

	desert, err := svc.Ingest(ctx, types.IngestInput{
		Text:      "counted meteors over the desert flats",
		SessionID: "s1",
	})
	if err != nil {
		t.Fatalf("Ingest(desert) error = %v", err)
	}
	telescope, err := svc.Ingest(ctx, types.IngestInput{
		Text:       "telescope tripod wobbled all night",
		SessionID:  "s1",
		References: []string{desert.ID},
	})
	if err != nil {
		t.Fatalf("Ingest(telescope) error = %v", err)
	}

	results, err := svc.Retrieve(ctx, types.RetrieveInput{Query: "telescope", Limit: 2})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected direct hit plus neighbor, got %d results", len(results))
	}
	if results[0].Record.ID != telescope.ID {
		t.Fatalf("expected the direct hit first, got %s", results[0].Record.ID)
	}
	if results[1].Record.ID != desert.ID {
		t.Fatalf("expected the linked record second, got %s", results[1].Record.ID)
	}
}

func TestRetrieve_FallsBackToRecent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _ := newTestService(t, nil)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc.SetClock(func() time.Time { return base })

	if _, err := svc.Ingest(ctx, types.IngestInput{
		Text:      "watched clouds drift past the window",
		SessionID: "s1",
	}); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	results, err := svc.Retrieve(ctx, types.RetrieveInput{Query: "zeppelin dirigible"})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected recency fallback to surface the only live memory, got %d", len(results))
	}
	if results[0].MatchScore != 0 {
		t.Fatalf("fallback result should carry no lexical match, got %v", results[0].MatchScore)
	}
}
