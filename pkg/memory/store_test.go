package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/MrWong99/glyphoxa/pkg/memory"
	memmock "github.com/MrWong99/glyphoxa/pkg/memory/mock"
	embmock "github.com/MrWong99/glyphoxa/pkg/provider/embeddings/mock"
)

func TestAddBatchEmbedsAndUpserts(t *testing.T) {
	embed := &embmock.Provider{EmbedBatchResult: [][]float32{{0.1, 0.2}, {0.3, 0.4}}}
	idx := &memmock.Index{}
	svc := memory.New(embed, idx)

	entries := []memory.Entry{
		{ID: "a", Content: "hello"},
		{ID: "b", Content: "world"},
	}
	if err := svc.AddBatch(context.Background(), entries); err != nil {
		t.Fatalf("AddBatch: %v", err)
	}

	if len(embed.EmbedBatchCalls) != 1 {
		t.Fatalf("expected 1 EmbedBatch call, got %d", len(embed.EmbedBatchCalls))
	}
	if got := embed.EmbedBatchCalls[0].Texts; len(got) != 2 || got[0] != "hello" || got[1] != "world" {
		t.Fatalf("unexpected texts passed to EmbedBatch: %v", got)
	}
	if idx.CallCount("Upsert") != 1 {
		t.Fatalf("expected 1 Upsert call, got %d", idx.CallCount("Upsert"))
	}
	if len(idx.Upserted) != 2 {
		t.Fatalf("expected 2 upserted entries, got %d", len(idx.Upserted))
	}
}

func TestAddBatchEmptyIsNoop(t *testing.T) {
	embed := &embmock.Provider{}
	idx := &memmock.Index{}
	svc := memory.New(embed, idx)

	if err := svc.AddBatch(context.Background(), nil); err != nil {
		t.Fatalf("AddBatch: %v", err)
	}
	if len(embed.EmbedBatchCalls) != 0 {
		t.Fatalf("expected no EmbedBatch call for empty input")
	}
	if idx.CallCount("Upsert") != 0 {
		t.Fatalf("expected no Upsert call for empty input")
	}
}

func TestSearchReturnsRawSimilarity(t *testing.T) {
	embed := &embmock.Provider{EmbedResult: []float32{0.5}}
	idx := &memmock.Index{
		SearchResult: []memory.SearchResult{
			{Entry: memory.Entry{ID: "x"}, Score: 0.8},
		},
	}
	svc := memory.New(embed, idx)

	results, err := svc.Search(context.Background(), "query", 5, memory.Filter{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Score != 0.8 {
		t.Fatalf("unexpected results: %+v", results)
	}
}

// TestSearchWithTimeDecayRanksBySimilarityAtEqualAge verifies property 7a
// from the retrieval spec: when two candidates have the same age, the one
// with higher raw semantic similarity must rank first.
func TestSearchWithTimeDecayRanksBySimilarityAtEqualAge(t *testing.T) {
	now := time.Now()
	embed := &embmock.Provider{EmbedResult: []float32{0.1}}
	idx := &memmock.Index{
		SearchResult: []memory.SearchResult{
			{Entry: memory.Entry{ID: "low", CreatedAt: now.Add(-time.Hour)}, Score: 0.5},
			{Entry: memory.Entry{ID: "high", CreatedAt: now.Add(-time.Hour)}, Score: 0.9},
		},
	}
	svc := memory.New(embed, idx)

	results, err := svc.SearchWithTimeDecay(context.Background(), "query", memory.DecayOptions{}, memory.Filter{})
	if err != nil {
		t.Fatalf("SearchWithTimeDecay: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Entry.ID != "high" {
		t.Fatalf("expected higher-similarity entry to rank first, got %q", results[0].Entry.ID)
	}
}

// TestSearchWithTimeDecayRanksByRecencyAtEqualSimilarity verifies property
// 7b: when two candidates have identical semantic similarity, the more
// recent one must rank first.
func TestSearchWithTimeDecayRanksByRecencyAtEqualSimilarity(t *testing.T) {
	now := time.Now()
	embed := &embmock.Provider{EmbedResult: []float32{0.1}}
	idx := &memmock.Index{
		SearchResult: []memory.SearchResult{
			{Entry: memory.Entry{ID: "old", CreatedAt: now.Add(-200 * time.Hour)}, Score: 0.7},
			{Entry: memory.Entry{ID: "new", CreatedAt: now.Add(-1 * time.Minute)}, Score: 0.7},
		},
	}
	svc := memory.New(embed, idx)

	results, err := svc.SearchWithTimeDecay(context.Background(), "query", memory.DecayOptions{}, memory.Filter{})
	if err != nil {
		t.Fatalf("SearchWithTimeDecay: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Entry.ID != "new" {
		t.Fatalf("expected more recent entry to rank first, got %q", results[0].Entry.ID)
	}
}

func TestSearchWithTimeDecayTruncatesToFinal(t *testing.T) {
	now := time.Now()
	embed := &embmock.Provider{EmbedResult: []float32{0.1}}
	results := make([]memory.SearchResult, 10)
	for i := range results {
		results[i] = memory.SearchResult{
			Entry: memory.Entry{ID: string(rune('a' + i)), CreatedAt: now},
			Score: float64(i) / 10,
		}
	}
	idx := &memmock.Index{SearchResult: results}
	svc := memory.New(embed, idx)

	out, err := svc.SearchWithTimeDecay(context.Background(), "query", memory.DecayOptions{Final: 3}, memory.Filter{})
	if err != nil {
		t.Fatalf("SearchWithTimeDecay: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 results after truncation, got %d", len(out))
	}
}

func TestSearchWithTimeDecayPassesOversampleToIndex(t *testing.T) {
	embed := &embmock.Provider{EmbedResult: []float32{0.1}}
	idx := &memmock.Index{}
	svc := memory.New(embed, idx)

	if _, err := svc.SearchWithTimeDecay(context.Background(), "query", memory.DecayOptions{Oversample: 15}, memory.Filter{}); err != nil {
		t.Fatalf("SearchWithTimeDecay: %v", err)
	}
	calls := idx.Calls()
	if len(calls) != 1 || calls[0].Method != "Search" {
		t.Fatalf("expected 1 Search call, got %v", calls)
	}
	if got := calls[0].Args[1].(int); got != 15 {
		t.Fatalf("expected topK=15 passed through, got %d", got)
	}
}
