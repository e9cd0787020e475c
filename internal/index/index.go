// Package index provides the relational mirror of memory metadata and
// embeddings: fast listing and filtering without touching the durable store,
// and linear-scan cosine similarity ranking. Two implementations exist, a
// postgres one for production and an in-memory one for development and tests.
package index

import (
	"context"

	"github.com/lewisedginton/memory_vault/internal/engine"
)

// MetadataIndex mirrors memory metadata, one row per memory. It performs pure
// CRUD; keeping it in step with the durable store is the orchestrator's job.
type MetadataIndex interface {
	// Upsert inserts or replaces the row for row.ID.
	Upsert(ctx context.Context, row engine.MetadataRow) error

	// Delete removes the row for id. Deleting an absent row is not an error.
	Delete(ctx context.Context, id string) error

	// Get returns the row for a user's memory, or engine.ErrNotFound.
	Get(ctx context.Context, userID, id string) (engine.MetadataRow, error)

	// List returns rows for a user ordered by created_at descending,
	// narrowed by filters. Tag filtering is substring matching.
	List(ctx context.Context, userID string, filters engine.ListFilters) ([]engine.MetadataRow, error)

	// Count returns how many rows match the filters.
	Count(ctx context.Context, userID string, filters engine.ListFilters) (int, error)

	// IDs returns all memory ids for a user. Used by the reconciler.
	IDs(ctx context.Context, userID string) ([]string, error)
}

// VectorIndex mirrors embeddings keyed by memory id.
type VectorIndex interface {
	// Upsert stores the embedding for a memory. Idempotent: at most one row
	// per memory id results. Fails with engine.ErrNotFound when no metadata
	// row exists for the memory, guarding against orphan creation.
	Upsert(ctx context.Context, memoryID string, embedding []float32, model string) error

	// Delete removes the embedding row(s) for a memory id.
	Delete(ctx context.Context, memoryID string) error

	// Get returns the embedding row for a memory id, or engine.ErrNotFound.
	Get(ctx context.Context, memoryID string) (engine.EmbeddingRow, error)

	// Rank scores every embedding owned by userID against queryEmbedding
	// (linear scan), keeps scores >= minScore, sorts descending by score with
	// ties kept in natural row order, and truncates to limit.
	Rank(ctx context.Context, userID string, queryEmbedding []float32, limit int, minScore float64) ([]engine.ScoredID, error)

	// Neighbors ranks the user's other memories against the stored embedding
	// of memoryID, excluding memoryID itself.
	Neighbors(ctx context.Context, memoryID, userID string, limit int, minScore float64) ([]engine.ScoredID, error)

	// Rows returns every embedding row reachable through a user's metadata,
	// in natural row order. Used by the reconciler, which also needs
	// duplicates visible.
	Rows(ctx context.Context, userID string) ([]engine.EmbeddingRow, error)

	// OrphanIDs returns memory ids that have embedding rows but no metadata
	// row. Used by the reconciler.
	OrphanIDs(ctx context.Context) ([]string, error)
}
