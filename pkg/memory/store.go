package memory

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/MrWong99/glyphoxa/pkg/provider/embeddings"
)

// Index is the vector storage backend a Service embeds entries into. An
// implementation must support cosine-distance search and filtering by type,
// conversation, and creation time — see pkg/memory/postgres for the
// pgvector-backed implementation.
//
// Search must return results ordered by descending similarity (Score is
// cosine similarity, 1 - distance, in [-1, 1]).
type Index interface {
	Upsert(ctx context.Context, entries []Entry, embeddings [][]float32) error
	Search(ctx context.Context, embedding []float32, topK int, filter Filter) ([]SearchResult, error)
}

// Service is the memory component's public surface: embed text, upsert and
// search a vector store, and rerank search results by a blend of semantic
// similarity and recency.
type Service struct {
	index embeddings.Provider
	store Index
}

// New constructs a Service over an embeddings provider and a vector Index.
func New(embed embeddings.Provider, store Index) *Service {
	return &Service{index: embed, store: store}
}

// AddBatch embeds every entry's Content in a single provider call and
// upserts the resulting points into the vector store.
func (s *Service) AddBatch(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	texts := make([]string, len(entries))
	for i, e := range entries {
		texts[i] = e.Content
	}
	vectors, err := s.index.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("memory: embed batch: %w", err)
	}
	if err := s.store.Upsert(ctx, entries, vectors); err != nil {
		return fmt.Errorf("memory: upsert: %w", err)
	}
	return nil
}

// Search performs pure semantic top-k retrieval: embed query, search the
// vector index, return results as-is.
func (s *Service) Search(ctx context.Context, query string, k int, filter Filter) ([]SearchResult, error) {
	vec, err := s.index.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("memory: embed query: %w", err)
	}
	results, err := s.store.Search(ctx, vec, k, filter)
	if err != nil {
		return nil, fmt.Errorf("memory: search: %w", err)
	}
	return results, nil
}

// SearchWithTimeDecay oversamples by semantic similarity, then rescores
// each candidate as `(1-w)*semantic + w*recency` where recency is
// `2^(-ageSeconds / (halfLifeHours*3600))`, returning the top opts.Final by
// blended score. The returned SearchResult.Score holds the blended score,
// not the raw similarity.
func (s *Service) SearchWithTimeDecay(ctx context.Context, query string, opts DecayOptions, filter Filter) ([]SearchResult, error) {
	opts = opts.withDefaults()

	vec, err := s.index.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("memory: embed query: %w", err)
	}
	candidates, err := s.store.Search(ctx, vec, opts.Oversample, filter)
	if err != nil {
		return nil, fmt.Errorf("memory: search: %w", err)
	}

	now := time.Now()
	halfLifeSeconds := opts.HalfLifeHours * 3600
	for i := range candidates {
		age := now.Sub(candidates[i].Entry.CreatedAt).Seconds()
		if age < 0 {
			age = 0
		}
		recency := math.Exp2(-age / halfLifeSeconds)
		semantic := candidates[i].Score
		candidates[i].Score = (1-opts.RecencyWeight)*semantic + opts.RecencyWeight*recency
	}

	sortByScoreDesc(candidates)
	if len(candidates) > opts.Final {
		candidates = candidates[:opts.Final]
	}
	return candidates, nil
}

func sortByScoreDesc(results []SearchResult) {
	// Insertion sort: result sets are small (bounded by Oversample, default
	// 40) so an O(n^2) pass avoids pulling in sort for a handful of swaps.
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && results[j].Score > results[j-1].Score; j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}
