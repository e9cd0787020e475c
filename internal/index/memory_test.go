package index

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lewisedginton/memory_vault/internal/engine"
)

func seedRow(t *testing.T, idx *MemoryIndex, userID, id, category string, createdAt time.Time) {
	t.Helper()
	err := idx.Metadata().Upsert(context.Background(), engine.MetadataRow{
		ID:        id,
		UserID:    userID,
		Category:  category,
		Source:    "api",
		Tags:      "travel,city",
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	})
	require.NoError(t, err)
}

func TestMetadataGetEnforcesOwnership(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()
	seedRow(t, idx, "alice", "mem-1", "Work", time.Now())

	row, err := idx.Metadata().Get(ctx, "alice", "mem-1")
	require.NoError(t, err)
	assert.Equal(t, "mem-1", row.ID)

	_, err = idx.Metadata().Get(ctx, "bob", "mem-1")
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestMetadataListFiltersAndOrder(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()
	base := time.Now().UTC()
	seedRow(t, idx, "alice", "mem-old", "Work", base.Add(-2*time.Hour))
	seedRow(t, idx, "alice", "mem-mid", "Events", base.Add(-time.Hour))
	seedRow(t, idx, "alice", "mem-new", "Work", base)
	seedRow(t, idx, "bob", "mem-theirs", "Work", base)

	rows, err := idx.Metadata().List(ctx, "alice", engine.ListFilters{})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "mem-new", rows[0].ID)
	assert.Equal(t, "mem-mid", rows[1].ID)
	assert.Equal(t, "mem-old", rows[2].ID)

	rows, err = idx.Metadata().List(ctx, "alice", engine.ListFilters{Category: "Work"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "mem-new", rows[0].ID)

	rows, err = idx.Metadata().List(ctx, "alice", engine.ListFilters{Tag: "travel"})
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	rows, err = idx.Metadata().List(ctx, "alice", engine.ListFilters{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "mem-mid", rows[0].ID)

	rows, err = idx.Metadata().List(ctx, "alice", engine.ListFilters{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, rows)

	count, err := idx.Metadata().Count(ctx, "alice", engine.ListFilters{Category: "Work"})
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestVectorUpsertRequiresMetadata(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()

	err := idx.Vectors().Upsert(ctx, "mem-ghost", []float32{1, 0}, "mock")
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestVectorUpsertIsIdempotent(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()
	seedRow(t, idx, "alice", "mem-1", "Work", time.Now())

	require.NoError(t, idx.Vectors().Upsert(ctx, "mem-1", []float32{1, 0}, "mock"))
	require.NoError(t, idx.Vectors().Upsert(ctx, "mem-1", []float32{0, 1}, "mock-v2"))

	rows, err := idx.Vectors().Rows(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []float32{0, 1}, rows[0].Embedding)
	assert.Equal(t, "mock-v2", rows[0].Model)
	assert.Equal(t, 2, rows[0].Dimensions)
}

func TestVectorRankIsolatesUsers(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()
	seedRow(t, idx, "alice", "mem-a", "Work", time.Now())
	seedRow(t, idx, "bob", "mem-b", "Work", time.Now())
	require.NoError(t, idx.Vectors().Upsert(ctx, "mem-a", []float32{1, 0}, "mock"))
	require.NoError(t, idx.Vectors().Upsert(ctx, "mem-b", []float32{1, 0}, "mock"))

	hits, err := idx.Vectors().Rank(ctx, "alice", []float32{1, 0}, 0, 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "mem-a", hits[0].MemoryID)
}

func TestVectorNeighborsExcludesAnchor(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()
	now := time.Now()
	for _, id := range []string{"mem-1", "mem-2", "mem-3"} {
		seedRow(t, idx, "alice", id, "Work", now)
	}
	require.NoError(t, idx.Vectors().Upsert(ctx, "mem-1", []float32{1, 0}, "mock"))
	require.NoError(t, idx.Vectors().Upsert(ctx, "mem-2", []float32{1, 0.1}, "mock"))
	require.NoError(t, idx.Vectors().Upsert(ctx, "mem-3", []float32{0, 1}, "mock"))

	hits, err := idx.Vectors().Neighbors(ctx, "mem-1", "alice", 0, 0)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "mem-2", hits[0].MemoryID)
	for _, hit := range hits {
		assert.NotEqual(t, "mem-1", hit.MemoryID)
	}

	_, err = idx.Vectors().Neighbors(ctx, "mem-missing", "alice", 0, 0)
	assert.True(t, errors.Is(err, engine.ErrNotFound))
}

func TestVectorDeleteRemovesAllRows(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()
	seedRow(t, idx, "alice", "mem-1", "Work", time.Now())
	require.NoError(t, idx.Vectors().Upsert(ctx, "mem-1", []float32{1, 0}, "mock"))
	idx.SeedEmbedding(engine.EmbeddingRow{MemoryID: "mem-1", Embedding: []float32{1, 0}})

	require.NoError(t, idx.Vectors().Delete(ctx, "mem-1"))

	rows, err := idx.Vectors().Rows(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestSeedEmbeddingDuplicatesVisibleInRows(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()
	seedRow(t, idx, "alice", "mem-1", "Work", time.Now())
	require.NoError(t, idx.Vectors().Upsert(ctx, "mem-1", []float32{1, 0}, "mock"))
	idx.SeedEmbedding(engine.EmbeddingRow{MemoryID: "mem-1", Embedding: []float32{0, 1}})

	rows, err := idx.Vectors().Rows(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestOrphanIDs(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()
	seedRow(t, idx, "alice", "mem-live", "Work", time.Now())
	require.NoError(t, idx.Vectors().Upsert(ctx, "mem-live", []float32{1, 0}, "mock"))
	idx.SeedEmbedding(engine.EmbeddingRow{MemoryID: "mem-orphan", Embedding: []float32{0, 1}})
	idx.SeedEmbedding(engine.EmbeddingRow{MemoryID: "mem-orphan", Embedding: []float32{0, 1}})

	ids, err := idx.Vectors().OrphanIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"mem-orphan"}, ids)
}
