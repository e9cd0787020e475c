package index

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lewisedginton/memory_vault/internal/engine"
	"github.com/lewisedginton/memory_vault/pkg/logger"
)

// PostgresMetadata implements MetadataIndex against postgres. Single-row
// operations rely on the database's own transaction guarantees; the engine
// never wraps durable and index writes in one transaction.
type PostgresMetadata struct {
	db  *pgxpool.Pool
	log logger.Logger
}

// NewPostgresMetadata creates a postgres-backed metadata index.
func NewPostgresMetadata(db *pgxpool.Pool, log logger.Logger) *PostgresMetadata {
	return &PostgresMetadata{db: db, log: log}
}

// Upsert inserts or replaces a metadata row.
func (p *PostgresMetadata) Upsert(ctx context.Context, row engine.MetadataRow) error {
	const q = `
		INSERT INTO memory_metadata (id, user_id, category, source, tags, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			category = EXCLUDED.category,
			source = EXCLUDED.source,
			tags = EXCLUDED.tags,
			updated_at = EXCLUDED.updated_at`

	_, err := p.db.Exec(ctx, q, row.ID, row.UserID, row.Category, row.Source, row.Tags, row.CreatedAt, row.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert metadata row: %w", err)
	}
	return nil
}

// Delete removes a metadata row.
func (p *PostgresMetadata) Delete(ctx context.Context, id string) error {
	if _, err := p.db.Exec(ctx, `DELETE FROM memory_metadata WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete metadata row: %w", err)
	}
	return nil
}

// Get returns the metadata row for a user's memory.
func (p *PostgresMetadata) Get(ctx context.Context, userID, id string) (engine.MetadataRow, error) {
	const q = `
		SELECT id, user_id, category, source, tags, created_at, updated_at
		FROM memory_metadata WHERE id = $1 AND user_id = $2`

	var row engine.MetadataRow
	err := p.db.QueryRow(ctx, q, id, userID).Scan(
		&row.ID, &row.UserID, &row.Category, &row.Source, &row.Tags, &row.CreatedAt, &row.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return engine.MetadataRow{}, fmt.Errorf("metadata row %s: %w", id, engine.ErrNotFound)
		}
		return engine.MetadataRow{}, fmt.Errorf("get metadata row: %w", err)
	}
	return row, nil
}

// List returns metadata rows ordered by created_at descending.
func (p *PostgresMetadata) List(ctx context.Context, userID string, filters engine.ListFilters) ([]engine.MetadataRow, error) {
	where, args := buildFilterClause(userID, filters)

	q := fmt.Sprintf(`
		SELECT id, user_id, category, source, tags, created_at, updated_at
		FROM memory_metadata WHERE %s
		ORDER BY created_at DESC`, where)

	if filters.Limit > 0 {
		args = append(args, filters.Limit)
		q += " LIMIT $" + strconv.Itoa(len(args))
	}
	if filters.Offset > 0 {
		args = append(args, filters.Offset)
		q += " OFFSET $" + strconv.Itoa(len(args))
	}

	rows, err := p.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list metadata rows: %w", err)
	}
	defer rows.Close()

	var result []engine.MetadataRow
	for rows.Next() {
		var row engine.MetadataRow
		if err := rows.Scan(&row.ID, &row.UserID, &row.Category, &row.Source, &row.Tags, &row.CreatedAt, &row.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan metadata row: %w", err)
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// Count returns how many metadata rows match the filters.
func (p *PostgresMetadata) Count(ctx context.Context, userID string, filters engine.ListFilters) (int, error) {
	where, args := buildFilterClause(userID, filters)

	var count int
	err := p.db.QueryRow(ctx, "SELECT COUNT(*) FROM memory_metadata WHERE "+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count metadata rows: %w", err)
	}
	return count, nil
}

// IDs returns all memory ids for a user.
func (p *PostgresMetadata) IDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := p.db.Query(ctx, `SELECT id FROM memory_metadata WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list metadata ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan metadata id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// buildFilterClause assembles the WHERE clause shared by List and Count.
// Tag filtering is substring matching by contract.
func buildFilterClause(userID string, filters engine.ListFilters) (string, []any) {
	where := []string{"user_id = $1"}
	args := []any{userID}

	if filters.Category != "" {
		args = append(args, filters.Category)
		where = append(where, "category = $"+strconv.Itoa(len(args)))
	}
	if filters.Source != "" {
		args = append(args, filters.Source)
		where = append(where, "source = $"+strconv.Itoa(len(args)))
	}
	if filters.Tag != "" {
		args = append(args, "%"+filters.Tag+"%")
		where = append(where, "tags LIKE $"+strconv.Itoa(len(args)))
	}
	return strings.Join(where, " AND "), args
}

// PostgresVectors implements VectorIndex against postgres. Ranking loads the
// user's embedding rows in natural row order and scores them in-process: a
// linear scan, not an approximate index.
type PostgresVectors struct {
	db  *pgxpool.Pool
	log logger.Logger
}

// NewPostgresVectors creates a postgres-backed vector index.
func NewPostgresVectors(db *pgxpool.Pool, log logger.Logger) *PostgresVectors {
	return &PostgresVectors{db: db, log: log}
}

// Upsert updates the existing row if one exists, inserts otherwise. Runs
// under the orchestrator's per-user lock; the table has no unique constraint
// to lean on (see migration notes).
func (p *PostgresVectors) Upsert(ctx context.Context, memoryID string, embedding []float32, model string) error {
	// Guard against orphan creation: the memory must already be indexed.
	var exists bool
	err := p.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM memory_metadata WHERE id = $1)`, memoryID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check metadata existence: %w", err)
	}
	if !exists {
		return fmt.Errorf("upsert embedding for unknown memory %s: %w", memoryID, engine.ErrNotFound)
	}

	now := time.Now().UTC()
	tag, err := p.db.Exec(ctx, `
		UPDATE memory_embeddings
		SET embedding = $2, dimensions = $3, model = $4, updated_at = $5
		WHERE memory_id = $1`,
		memoryID, embedding, len(embedding), model, now)
	if err != nil {
		return fmt.Errorf("update embedding row: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	_, err = p.db.Exec(ctx, `
		INSERT INTO memory_embeddings (memory_id, embedding, dimensions, model, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		memoryID, embedding, len(embedding), model, now, now)
	if err != nil {
		return fmt.Errorf("insert embedding row: %w", err)
	}
	return nil
}

// Delete removes the embedding row(s) for a memory id.
func (p *PostgresVectors) Delete(ctx context.Context, memoryID string) error {
	if _, err := p.db.Exec(ctx, `DELETE FROM memory_embeddings WHERE memory_id = $1`, memoryID); err != nil {
		return fmt.Errorf("delete embedding row: %w", err)
	}
	return nil
}

// Get returns the embedding row for a memory id.
func (p *PostgresVectors) Get(ctx context.Context, memoryID string) (engine.EmbeddingRow, error) {
	const q = `
		SELECT memory_id, embedding, dimensions, model, created_at, updated_at
		FROM memory_embeddings WHERE memory_id = $1
		ORDER BY row_id LIMIT 1`

	var row engine.EmbeddingRow
	err := p.db.QueryRow(ctx, q, memoryID).Scan(
		&row.MemoryID, &row.Embedding, &row.Dimensions, &row.Model, &row.CreatedAt, &row.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return engine.EmbeddingRow{}, fmt.Errorf("embedding row %s: %w", memoryID, engine.ErrNotFound)
		}
		return engine.EmbeddingRow{}, fmt.Errorf("get embedding row: %w", err)
	}
	return row, nil
}

// Rank is the linear scan over a user's embeddings.
func (p *PostgresVectors) Rank(ctx context.Context, userID string, queryEmbedding []float32, limit int, minScore float64) ([]engine.ScoredID, error) {
	rows, err := p.Rows(ctx, userID)
	if err != nil {
		return nil, err
	}
	return rankRows(rows, queryEmbedding, limit, minScore), nil
}

// Neighbors ranks against a stored embedding, excluding its owner.
func (p *PostgresVectors) Neighbors(ctx context.Context, memoryID, userID string, limit int, minScore float64) ([]engine.ScoredID, error) {
	anchor, err := p.Get(ctx, memoryID)
	if err != nil {
		return nil, err
	}

	rows, err := p.Rows(ctx, userID)
	if err != nil {
		return nil, err
	}
	others := rows[:0]
	for _, row := range rows {
		if row.MemoryID != memoryID {
			others = append(others, row)
		}
	}
	return rankRows(others, anchor.Embedding, limit, minScore), nil
}

// Rows returns every embedding row reachable through a user's metadata, in
// natural row order, duplicates included.
func (p *PostgresVectors) Rows(ctx context.Context, userID string) ([]engine.EmbeddingRow, error) {
	const q = `
		SELECT e.memory_id, e.embedding, e.dimensions, e.model, e.created_at, e.updated_at
		FROM memory_embeddings e
		JOIN memory_metadata m ON m.id = e.memory_id
		WHERE m.user_id = $1
		ORDER BY e.row_id`

	rows, err := p.db.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("scan user embeddings: %w", err)
	}
	defer rows.Close()

	var result []engine.EmbeddingRow
	for rows.Next() {
		var row engine.EmbeddingRow
		if err := rows.Scan(&row.MemoryID, &row.Embedding, &row.Dimensions, &row.Model, &row.CreatedAt, &row.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan embedding row: %w", err)
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// OrphanIDs returns memory ids with embedding rows but no metadata row.
func (p *PostgresVectors) OrphanIDs(ctx context.Context) ([]string, error) {
	const q = `
		SELECT DISTINCT e.memory_id
		FROM memory_embeddings e
		LEFT JOIN memory_metadata m ON m.id = e.memory_id
		WHERE m.id IS NULL
		ORDER BY e.memory_id`

	rows, err := p.db.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("scan orphan embeddings: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan orphan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
