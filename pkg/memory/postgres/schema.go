// Package postgres provides a PostgreSQL/pgvector-backed implementation of
// the memory.Index interface: a single `memory_entries` table with indexed
// payload columns (type, conversation_id, created_at) and an HNSW cosine
// index over the embedding column.
//
// The pgvector extension must be available in the target database;
// [Migrate] installs it automatically via CREATE EXTENSION IF NOT EXISTS.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

func ddlMemoryEntries(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS memory_entries (
    id              TEXT         PRIMARY KEY,
    content         TEXT         NOT NULL,
    embedding       vector(%d),
    type            TEXT         NOT NULL DEFAULT '',
    conversation_id TEXT         NOT NULL DEFAULT '',
    session_id      TEXT         NOT NULL DEFAULT '',
    metadata        JSONB        NOT NULL DEFAULT '{}',
    created_at      TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_memory_entries_type
    ON memory_entries (type);

CREATE INDEX IF NOT EXISTS idx_memory_entries_conversation_id
    ON memory_entries (conversation_id);

CREATE INDEX IF NOT EXISTS idx_memory_entries_created_at
    ON memory_entries (created_at);

CREATE INDEX IF NOT EXISTS idx_memory_entries_embedding
    ON memory_entries USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures the memory_entries table and its indexes exist.
// Idempotent and safe to call on every application start.
//
// embeddingDimensions must match the configured embeddings provider's output
// dimension (e.g. 1024). Changing it after the first migration requires a
// manual schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if _, err := pool.Exec(ctx, ddlMemoryEntries(embeddingDimensions)); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}
