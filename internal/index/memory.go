package index

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lewisedginton/memory_vault/internal/engine"
)

// MemoryIndex is an in-memory implementation of both index stores, used for
// development mode and tests. It mirrors the postgres behavior including
// natural row order for embeddings and the possibility of duplicate rows.
type MemoryIndex struct {
	mu        sync.RWMutex
	metadata  map[string]engine.MetadataRow
	vectors   []vectorRow
	nextRowID int64
}

type vectorRow struct {
	rowID int64
	row   engine.EmbeddingRow
}

// NewMemoryIndex creates an empty in-memory index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		metadata: make(map[string]engine.MetadataRow),
	}
}

// Metadata returns the MetadataIndex view.
func (m *MemoryIndex) Metadata() MetadataIndex { return (*memoryMetadata)(m) }

// Vectors returns the VectorIndex view.
func (m *MemoryIndex) Vectors() VectorIndex { return (*memoryVectors)(m) }

// SeedEmbedding inserts an embedding row directly, bypassing the existence
// guard. It is the in-memory equivalent of raw SQL access, used by
// maintenance tooling and tests to set up inconsistent states.
func (m *MemoryIndex) SeedEmbedding(row engine.EmbeddingRow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextRowID++
	m.vectors = append(m.vectors, vectorRow{rowID: m.nextRowID, row: row})
}

type memoryMetadata MemoryIndex

func (m *memoryMetadata) Upsert(ctx context.Context, row engine.MetadataRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metadata[row.ID] = row
	return nil
}

func (m *memoryMetadata) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.metadata, id)
	return nil
}

func (m *memoryMetadata) Get(ctx context.Context, userID, id string) (engine.MetadataRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	row, ok := m.metadata[id]
	if !ok || row.UserID != userID {
		return engine.MetadataRow{}, fmt.Errorf("metadata row %s: %w", id, engine.ErrNotFound)
	}
	return row, nil
}

func (m *memoryMetadata) List(ctx context.Context, userID string, filters engine.ListFilters) ([]engine.MetadataRow, error) {
	m.mu.RLock()
	rows := m.matching(userID, filters)
	m.mu.RUnlock()

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].CreatedAt.After(rows[j].CreatedAt) })

	if filters.Offset > 0 {
		if filters.Offset >= len(rows) {
			return nil, nil
		}
		rows = rows[filters.Offset:]
	}
	if filters.Limit > 0 && len(rows) > filters.Limit {
		rows = rows[:filters.Limit]
	}
	return rows, nil
}

func (m *memoryMetadata) Count(ctx context.Context, userID string, filters engine.ListFilters) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.matching(userID, filters)), nil
}

func (m *memoryMetadata) IDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := m.List(ctx, userID, engine.ListFilters{})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	return ids, nil
}

// matching applies the filter contract: exact category/source, substring tags.
func (m *memoryMetadata) matching(userID string, filters engine.ListFilters) []engine.MetadataRow {
	var rows []engine.MetadataRow
	for _, row := range m.metadata {
		if row.UserID != userID {
			continue
		}
		if filters.Category != "" && row.Category != filters.Category {
			continue
		}
		if filters.Source != "" && row.Source != filters.Source {
			continue
		}
		if filters.Tag != "" && !strings.Contains(row.Tags, filters.Tag) {
			continue
		}
		rows = append(rows, row)
	}
	return rows
}

type memoryVectors MemoryIndex

func (m *memoryVectors) Upsert(ctx context.Context, memoryID string, embedding []float32, model string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.metadata[memoryID]; !ok {
		return fmt.Errorf("upsert embedding for unknown memory %s: %w", memoryID, engine.ErrNotFound)
	}

	now := time.Now().UTC()
	for i := range m.vectors {
		if m.vectors[i].row.MemoryID == memoryID {
			m.vectors[i].row.Embedding = embedding
			m.vectors[i].row.Dimensions = len(embedding)
			m.vectors[i].row.Model = model
			m.vectors[i].row.UpdatedAt = now
			return nil
		}
	}

	m.nextRowID++
	m.vectors = append(m.vectors, vectorRow{
		rowID: m.nextRowID,
		row: engine.EmbeddingRow{
			MemoryID:   memoryID,
			Embedding:  embedding,
			Dimensions: len(embedding),
			Model:      model,
			CreatedAt:  now,
			UpdatedAt:  now,
		},
	})
	return nil
}

func (m *memoryVectors) Delete(ctx context.Context, memoryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.vectors[:0]
	for _, v := range m.vectors {
		if v.row.MemoryID != memoryID {
			kept = append(kept, v)
		}
	}
	m.vectors = kept
	return nil
}

func (m *memoryVectors) Get(ctx context.Context, memoryID string) (engine.EmbeddingRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, v := range m.vectors {
		if v.row.MemoryID == memoryID {
			return v.row, nil
		}
	}
	return engine.EmbeddingRow{}, fmt.Errorf("embedding row %s: %w", memoryID, engine.ErrNotFound)
}

func (m *memoryVectors) Rank(ctx context.Context, userID string, queryEmbedding []float32, limit int, minScore float64) ([]engine.ScoredID, error) {
	rows, err := m.Rows(ctx, userID)
	if err != nil {
		return nil, err
	}
	return rankRows(rows, queryEmbedding, limit, minScore), nil
}

func (m *memoryVectors) Neighbors(ctx context.Context, memoryID, userID string, limit int, minScore float64) ([]engine.ScoredID, error) {
	anchor, err := m.Get(ctx, memoryID)
	if err != nil {
		return nil, err
	}

	rows, err := m.Rows(ctx, userID)
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

func (m *memoryVectors) Rows(ctx context.Context, userID string) ([]engine.EmbeddingRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var rows []engine.EmbeddingRow
	for _, v := range m.vectors {
		meta, ok := m.metadata[v.row.MemoryID]
		if !ok || meta.UserID != userID {
			continue
		}
		rows = append(rows, v.row)
	}
	return rows, nil
}

func (m *memoryVectors) OrphanIDs(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]bool)
	var ids []string
	for _, v := range m.vectors {
		if _, ok := m.metadata[v.row.MemoryID]; ok {
			continue
		}
		if !seen[v.row.MemoryID] {
			seen[v.row.MemoryID] = true
			ids = append(ids, v.row.MemoryID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
