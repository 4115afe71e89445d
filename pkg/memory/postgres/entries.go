package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/MrWong99/glyphoxa/pkg/memory"
)

// Upsert implements memory.Index. entries and embeddings must be the same
// length and index-aligned (the shape AddBatch produces).
func (s *Store) Upsert(ctx context.Context, entries []memory.Entry, vectors [][]float32) error {
	if len(entries) != len(vectors) {
		return fmt.Errorf("postgres: entries/vectors length mismatch (%d vs %d)", len(entries), len(vectors))
	}

	batch := &pgx.Batch{}
	const q = `
		INSERT INTO memory_entries
		    (id, content, embedding, type, conversation_id, session_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
		    content         = EXCLUDED.content,
		    embedding       = EXCLUDED.embedding,
		    type            = EXCLUDED.type,
		    conversation_id = EXCLUDED.conversation_id,
		    session_id      = EXCLUDED.session_id,
		    metadata        = EXCLUDED.metadata,
		    created_at      = EXCLUDED.created_at`

	for i, e := range entries {
		meta, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("postgres: marshal metadata: %w", err)
		}
		batch.Queue(q, e.ID, e.Content, pgvector.NewVector(vectors[i]), e.Type,
			e.ConversationID, e.SessionID, meta, e.CreatedAt)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range entries {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert: %w", err)
		}
	}
	return nil
}

// Search implements memory.Index: finds the topK entries whose embeddings
// are closest (cosine distance) to embedding, filtered by filter, ordered
// by descending similarity (Score = 1 - distance).
func (s *Store) Search(ctx context.Context, embedding []float32, topK int, filter memory.Filter) ([]memory.SearchResult, error) {
	queryVec := pgvector.NewVector(embedding)

	args := []any{queryVec}
	bind := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var conditions []string
	if len(filter.Types) > 0 {
		placeholders := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			placeholders[i] = bind(t)
		}
		conditions = append(conditions, "type IN ("+strings.Join(placeholders, ", ")+")")
	}
	if filter.ConversationID != "" {
		conditions = append(conditions, "conversation_id = "+bind(filter.ConversationID))
	}
	if !filter.After.IsZero() {
		conditions = append(conditions, "created_at >= "+bind(filter.After))
	}
	if !filter.Before.IsZero() {
		conditions = append(conditions, "created_at <= "+bind(filter.Before))
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	args = append(args, topK)
	limitArg := fmt.Sprintf("$%d", len(args))

	q := fmt.Sprintf(`
		SELECT id, content, type, conversation_id, session_id, metadata, created_at,
		       1 - (embedding <=> $1) AS score
		FROM   memory_entries
		%s
		ORDER  BY embedding <=> $1
		LIMIT  %s`, whereClause, limitArg)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: search: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.SearchResult, error) {
		var (
			sr   memory.SearchResult
			meta []byte
		)
		if err := row.Scan(
			&sr.Entry.ID, &sr.Entry.Content, &sr.Entry.Type, &sr.Entry.ConversationID,
			&sr.Entry.SessionID, &meta, &sr.Entry.CreatedAt, &sr.Score,
		); err != nil {
			return memory.SearchResult{}, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &sr.Entry.Metadata); err != nil {
				return memory.SearchResult{}, fmt.Errorf("unmarshal metadata: %w", err)
			}
		}
		return sr, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan rows: %w", err)
	}
	if results == nil {
		results = []memory.SearchResult{}
	}
	return results, nil
}
